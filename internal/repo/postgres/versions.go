package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkowalczyk/sheethub/internal/domain/character"
	"github.com/mkowalczyk/sheethub/internal/observability"
)

// VersionsRepo is the character version ledger. The one rule worth
// restating: ordinary saves go through OverwriteLatestTx, which replaces
// the newest row's content in place. Only AppendRestore (and the
// initial record at creation) adds rows, so the ledger holds restore
// baselines, not a snapshot of every save.
type VersionsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewVersionsRepo(pool *pgxpool.Pool, prom *observability.Prom) *VersionsRepo {
	return &VersionsRepo{pool: pool, prom: prom}
}

func (r *VersionsRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

// RecordInitialTx appends the very first ledger entry, on the same tx
// that creates the character.
func (r *VersionsRepo) RecordInitialTx(ctx context.Context, tx pgx.Tx, v character.Version) error {
	return r.observe("versions.record_initial_tx", func() error {
		_, err := tx.Exec(ctx,
			`INSERT INTO character_versions(id, character_id, data, notes, created_at)
			 VALUES ($1,$2,$3,$4,$5)`,
			v.ID, v.CharacterID, v.Data, v.Notes, v.CreatedAt,
		)
		return err
	})
}

// OverwriteLatestTx replaces the newest entry's document in place. The
// row's own created_at is left untouched. If the ledger is somehow
// empty a fresh entry is appended instead; that fallback exists for
// robustness only and is not the ordinary path. Runs on the caller's
// tx together with the character row update.
func (r *VersionsRepo) OverwriteLatestTx(ctx context.Context, tx pgx.Tx, characterID string, doc character.StateDoc) error {
	return r.observe("versions.overwrite_latest_tx", func() error {
		tag, err := tx.Exec(ctx,
			`UPDATE character_versions
			 SET data = $2
			 WHERE id = (
			     SELECT id FROM character_versions
			     WHERE character_id = $1
			     ORDER BY created_at DESC, id DESC
			     LIMIT 1
			 )`,
			characterID, doc,
		)

		if err != nil {
			return err
		}

		if tag.RowsAffected() > 0 {
			return nil
		}

		v := character.NewVersion(characterID, doc, nil)

		_, err = tx.Exec(ctx,
			`INSERT INTO character_versions(id, character_id, data, notes, created_at)
			 VALUES ($1,$2,$3,$4,$5)`,
			v.ID, v.CharacterID, v.Data, v.Notes, v.CreatedAt,
		)
		return err
	})
}

// AppendRestoreTx adds the provenance-carrying entry a restore creates,
// on the same tx that rewrites the character's current state.
func (r *VersionsRepo) AppendRestoreTx(ctx context.Context, tx pgx.Tx, v character.Version) error {
	return r.observe("versions.append_restore_tx", func() error {
		_, err := tx.Exec(ctx,
			`INSERT INTO character_versions(id, character_id, data, notes, created_at)
			 VALUES ($1,$2,$3,$4,$5)`,
			v.ID, v.CharacterID, v.Data, v.Notes, v.CreatedAt,
		)
		return err
	})
}

// ListByCharacter returns the ledger newest-first.
func (r *VersionsRepo) ListByCharacter(ctx context.Context, characterID string) ([]character.Version, error) {
	var out []character.Version

	err := r.observe("versions.list_by_character", func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT id, character_id, data, notes, created_at
			 FROM character_versions
			 WHERE character_id = $1
			 ORDER BY created_at DESC, id DESC`,
			characterID,
		)

		if err != nil {
			return err
		}

		defer rows.Close()

		out = make([]character.Version, 0)

		for rows.Next() {
			var v character.Version

			if err := rows.Scan(&v.ID, &v.CharacterID, &v.Data, &v.Notes, &v.CreatedAt); err != nil {
				return err
			}

			out = append(out, v)
		}

		return rows.Err()
	})

	if err != nil {
		return nil, err
	}

	return out, nil
}

// GetByID is scoped to the owning character: a valid version id paired
// with the wrong character is a not-found, never a cross-character read.
func (r *VersionsRepo) GetByID(ctx context.Context, characterID, versionID string) (character.Version, error) {
	var v character.Version

	err := r.observe("versions.get_by_id", func() error {
		err := r.pool.QueryRow(ctx,
			`SELECT id, character_id, data, notes, created_at
			 FROM character_versions
			 WHERE id = $1 AND character_id = $2`,
			versionID, characterID,
		).Scan(&v.ID, &v.CharacterID, &v.Data, &v.Notes, &v.CreatedAt)

		if errors.Is(err, pgx.ErrNoRows) {
			return character.ErrVersionNotFound
		}
		return err
	})

	if err != nil {
		return character.Version{}, err
	}

	return v, nil
}

// DeleteAllTx clears a character's ledger ahead of deleting the
// character itself, on the caller's tx.
func (r *VersionsRepo) DeleteAllTx(ctx context.Context, tx pgx.Tx, characterID string) error {
	return r.observe("versions.delete_all_tx", func() error {
		_, err := tx.Exec(ctx,
			`DELETE FROM character_versions WHERE character_id = $1`,
			characterID,
		)
		return err
	})
}
