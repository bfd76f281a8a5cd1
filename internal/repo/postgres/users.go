package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkowalczyk/sheethub/internal/domain/user"
	"github.com/mkowalczyk/sheethub/internal/observability"
)

var ErrEmailAlreadyUsed = errors.New("email already in use")

type UsersRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewUsersRepo(pool *pgxpool.Pool, prom *observability.Prom) *UsersRepo {
	return &UsersRepo{pool: pool, prom: prom}
}

func (r *UsersRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError

	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return false
}

func (r *UsersRepo) Create(ctx context.Context, u user.User) (user.User, error) {
	op := "users.create"

	err := r.observe(op, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO users(id, email, password_hash, name, role, created_at, updated_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			u.ID, u.Email, u.PasswordHash, u.Name, u.Role, u.CreatedAt, u.UpdatedAt,
		)
		return err
	})

	if err != nil {
		if IsUniqueViolation(err) {
			return user.User{}, ErrEmailAlreadyUsed
		}
		return user.User{}, err
	}

	return u, nil
}

const userColumns = `id, email, password_hash, name, role, reset_token, reset_token_expiry, created_at, updated_at`

func (r *UsersRepo) scanUser(row pgx.Row) (user.User, error) {
	var u user.User

	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.Name,
		&u.Role,
		&u.ResetToken,
		&u.ResetExpiry,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, err
	}
	return u, nil
}

func (r *UsersRepo) GetByEmail(ctx context.Context, email string) (user.User, error) {
	var u user.User
	var err error

	err = r.observe("users.get_by_email", func() error {
		u, err = r.scanUser(r.pool.QueryRow(
			ctx,
			`SELECT `+userColumns+` FROM users WHERE email = $1`,
			email,
		))
		return err
	})

	return u, err
}

func (r *UsersRepo) GetByID(ctx context.Context, id string) (user.User, error) {
	var u user.User
	var err error

	err = r.observe("users.get_by_id", func() error {
		u, err = r.scanUser(r.pool.QueryRow(
			ctx,
			`SELECT `+userColumns+` FROM users WHERE id = $1`,
			id,
		))
		return err
	})

	return u, err
}

// ListPlayers backs the GM's ownership-assignment picker.
func (r *UsersRepo) ListPlayers(ctx context.Context) ([]user.PlayerRef, error) {
	var out []user.PlayerRef

	err := r.observe("users.list_players", func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT id, name, email FROM users WHERE role = $1 ORDER BY name ASC`,
			user.RolePlayer,
		)

		if err != nil {
			return err
		}

		defer rows.Close()

		out = make([]user.PlayerRef, 0)

		for rows.Next() {
			var p user.PlayerRef

			if err := rows.Scan(&p.ID, &p.Name, &p.Email); err != nil {
				return err
			}

			out = append(out, p)
		}

		return rows.Err()
	})

	if err != nil {
		return nil, err
	}

	return out, nil
}

func (r *UsersRepo) SetResetToken(ctx context.Context, userID, token string, expiry time.Time) error {
	return r.observe("users.set_reset_token", func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE users SET reset_token = $2, reset_token_expiry = $3, updated_at = NOW() WHERE id = $1`,
			userID, token, expiry,
		)

		if err != nil {
			return err
		}

		if tag.RowsAffected() == 0 {
			return user.ErrNotFound
		}

		return nil
	})
}

// GetByResetToken only matches unexpired tokens.
func (r *UsersRepo) GetByResetToken(ctx context.Context, token string) (user.User, error) {
	var u user.User
	var err error

	err = r.observe("users.get_by_reset_token", func() error {
		u, err = r.scanUser(r.pool.QueryRow(
			ctx,
			`SELECT `+userColumns+` FROM users
			 WHERE reset_token = $1 AND reset_token_expiry > NOW()`,
			token,
		))
		return err
	})

	return u, err
}

// UpdatePassword stores the new hash and clears the reset token in one
// statement so a used token can never be replayed.
func (r *UsersRepo) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	return r.observe("users.update_password", func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE users
			 SET password_hash = $2, reset_token = NULL, reset_token_expiry = NULL, updated_at = NOW()
			 WHERE id = $1`,
			userID, passwordHash,
		)

		if err != nil {
			return err
		}

		if tag.RowsAffected() == 0 {
			return user.ErrNotFound
		}

		return nil
	})
}
