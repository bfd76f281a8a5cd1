package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkowalczyk/sheethub/internal/config"
	"github.com/mkowalczyk/sheethub/internal/domain/user"
	"github.com/mkowalczyk/sheethub/internal/security"
)

// EnsureGMUser seeds a bootstrap GM account so a fresh install has
// someone who can see all characters and the player roster.
func EnsureGMUser(ctx context.Context, pool *pgxpool.Pool, cfg config.Config) error {
	if cfg.GMEmail == "" || cfg.GMPassword == "" {
		return nil
	}

	// check if the user exists

	var dummy string

	err := pool.QueryRow(ctx, `SELECT id FROM users WHERE email = $1`, cfg.GMEmail).Scan(&dummy)

	if err == nil {
		return nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	hash, err := security.HashPassword(cfg.GMPassword)

	if err != nil {
		return err
	}

	now := time.Now().UTC()

	u := user.User{
		ID:           uuid.NewString(),
		Email:        cfg.GMEmail,
		PasswordHash: hash,
		Name:         cfg.GMName,
		Role:         user.RoleGM,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err = pool.Exec(ctx,
		`INSERT INTO users (id, email, password_hash, name, role, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		`,
		u.ID, u.Email, u.PasswordHash, u.Name, u.Role, u.CreatedAt, u.UpdatedAt,
	)

	return err
}
