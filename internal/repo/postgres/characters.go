package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkowalczyk/sheethub/internal/domain/character"
	"github.com/mkowalczyk/sheethub/internal/domain/user"
	"github.com/mkowalczyk/sheethub/internal/observability"
)

type CharactersRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewCharactersRepo(pool *pgxpool.Pool, prom *observability.Prom) *CharactersRepo {
	return &CharactersRepo{pool: pool, prom: prom}
}

func (r *CharactersRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func (r *CharactersRepo) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// CreateTx inserts the character row only; the caller records the
// initial ledger entry on the same tx so both land atomically.
func (r *CharactersRepo) CreateTx(ctx context.Context, tx pgx.Tx, c character.Character) (character.Character, error) {
	op := "characters.create_tx"

	err := r.observe(op, func() error {
		_, err := tx.Exec(ctx,
			`INSERT INTO characters(id, name, player_id, data, created_at, updated_at)
			 VALUES ($1,$2,$3,$4,$5,$6)`,
			c.ID, c.Name, c.PlayerID, c.Data, c.CreatedAt, c.UpdatedAt,
		)
		return err
	})

	if err != nil {
		return character.Character{}, err
	}

	return c, nil
}

func (r *CharactersRepo) GetByID(ctx context.Context, id string) (character.Character, error) {
	var c character.Character
	var err error

	err = r.observe("characters.get_by_id", func() error {
		err = r.pool.QueryRow(ctx,
			`SELECT id, name, player_id, data, created_at, updated_at
			 FROM characters WHERE id = $1`,
			id,
		).Scan(&c.ID, &c.Name, &c.PlayerID, &c.Data, &c.CreatedAt, &c.UpdatedAt)

		if errors.Is(err, pgx.ErrNoRows) {
			return character.ErrNotFound
		}
		return err
	})

	if err != nil {
		return character.Character{}, err
	}

	return c, nil
}

// GetWithPlayer also resolves the owning player for detail views.
func (r *CharactersRepo) GetWithPlayer(ctx context.Context, id string) (character.Character, *user.PlayerRef, error) {
	var c character.Character
	var playerID, playerName *string

	err := r.observe("characters.get_with_player", func() error {
		err := r.pool.QueryRow(ctx,
			`SELECT c.id, c.name, c.player_id, c.data, c.created_at, c.updated_at, u.id, u.name
			 FROM characters c
			 LEFT JOIN users u ON u.id = c.player_id
			 WHERE c.id = $1`,
			id,
		).Scan(&c.ID, &c.Name, &c.PlayerID, &c.Data, &c.CreatedAt, &c.UpdatedAt, &playerID, &playerName)

		if errors.Is(err, pgx.ErrNoRows) {
			return character.ErrNotFound
		}
		return err
	})

	if err != nil {
		return character.Character{}, nil, err
	}

	var ref *user.PlayerRef

	if playerID != nil && playerName != nil {
		ref = &user.PlayerRef{ID: *playerID, Name: *playerName}
	}

	return c, ref, nil
}

// ListByPlayer returns the flattened dashboard summaries for one owner.
func (r *CharactersRepo) ListByPlayer(ctx context.Context, playerID string) ([]character.Summary, error) {
	var out []character.Summary

	err := r.observe("characters.list_by_player", func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT id, name,
			        COALESCE(data->>'occupation', ''),
			        COALESCE(data->>'avatar', ''),
			        updated_at
			 FROM characters
			 WHERE player_id = $1
			 ORDER BY updated_at DESC`,
			playerID,
		)

		if err != nil {
			return err
		}

		defer rows.Close()

		out = make([]character.Summary, 0)

		for rows.Next() {
			var s character.Summary

			if err := rows.Scan(&s.ID, &s.Name, &s.Occupation, &s.Avatar, &s.LastUpdated); err != nil {
				return err
			}

			out = append(out, s)
		}

		return rows.Err()
	})

	if err != nil {
		return nil, err
	}

	return out, nil
}

// ListAll is the GM roster view: every character plus its owner.
func (r *CharactersRepo) ListAll(ctx context.Context) ([]character.Summary, error) {
	var out []character.Summary

	err := r.observe("characters.list_all", func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT c.id, c.name,
			        COALESCE(c.data->>'occupation', ''),
			        COALESCE(c.data->>'avatar', ''),
			        c.updated_at,
			        u.id, u.name, u.email
			 FROM characters c
			 LEFT JOIN users u ON u.id = c.player_id
			 ORDER BY c.updated_at DESC`,
		)

		if err != nil {
			return err
		}

		defer rows.Close()

		out = make([]character.Summary, 0)

		for rows.Next() {
			var s character.Summary
			var pid, pname, pemail *string

			if err := rows.Scan(&s.ID, &s.Name, &s.Occupation, &s.Avatar, &s.LastUpdated, &pid, &pname, &pemail); err != nil {
				return err
			}

			if pid != nil {
				s.Player = &user.PlayerRef{ID: *pid}
				if pname != nil {
					s.Player.Name = *pname
				}
				if pemail != nil {
					s.Player.Email = *pemail
				}
			}

			out = append(out, s)
		}

		return rows.Err()
	})

	if err != nil {
		return nil, err
	}

	return out, nil
}

// UpdateTx overwrites current state; name is always re-derived from
// the submitted document so the denormalized column cannot drift. Runs
// on the caller's tx so the ledger overwrite lands atomically with it.
func (r *CharactersRepo) UpdateTx(ctx context.Context, tx pgx.Tx, id string, playerID *string, doc character.StateDoc) (character.Character, error) {
	var c character.Character

	err := r.observe("characters.update_tx", func() error {
		err := tx.QueryRow(ctx,
			`UPDATE characters
			 SET name = $2,
			     player_id = $3,
			     data = $4,
			     updated_at = NOW()
			 WHERE id = $1
			 RETURNING id, name, player_id, data, created_at, updated_at`,
			id, doc.Name(), playerID, doc,
		).Scan(&c.ID, &c.Name, &c.PlayerID, &c.Data, &c.CreatedAt, &c.UpdatedAt)

		if errors.Is(err, pgx.ErrNoRows) {
			return character.ErrNotFound
		}
		return err
	})

	if err != nil {
		return character.Character{}, err
	}

	return c, nil
}

// RestoreTx swaps current state for a past version's document. Runs on
// the caller's tx together with the ledger append.
func (r *CharactersRepo) RestoreTx(ctx context.Context, tx pgx.Tx, id string, doc character.StateDoc) (character.Character, error) {
	var c character.Character

	err := r.observe("characters.restore_tx", func() error {
		err := tx.QueryRow(ctx,
			`UPDATE characters
			 SET name = $2,
			     data = $3,
			     updated_at = NOW()
			 WHERE id = $1
			 RETURNING id, name, player_id, data, created_at, updated_at`,
			id, doc.Name(), doc,
		).Scan(&c.ID, &c.Name, &c.PlayerID, &c.Data, &c.CreatedAt, &c.UpdatedAt)

		if errors.Is(err, pgx.ErrNoRows) {
			return character.ErrNotFound
		}
		return err
	})

	if err != nil {
		return character.Character{}, err
	}

	return c, nil
}

// DeleteTx removes the character row. Callers delete the versions first
// on the same tx; the FK makes any other order fail.
func (r *CharactersRepo) DeleteTx(ctx context.Context, tx pgx.Tx, id string) error {
	return r.observe("characters.delete_tx", func() error {
		tag, err := tx.Exec(ctx, `DELETE FROM characters WHERE id = $1`, id)

		if err != nil {
			return err
		}

		if tag.RowsAffected() == 0 {
			return character.ErrNotFound
		}

		return nil
	})
}
