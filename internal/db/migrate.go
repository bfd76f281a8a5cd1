package db

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mkowalczyk/sheethub/internal/repo/postgres/migrations"
)

// RunMigrations applies the embedded goose migrations. It opens its own
// database/sql handle because goose does not speak pgxpool.
func RunMigrations(ctx context.Context, dbURL string) error {
	sqldb, err := sql.Open("pgx", dbURL)

	if err != nil {
		return err
	}

	defer sqldb.Close()

	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}

	return goose.UpContext(ctx, sqldb, ".")
}
