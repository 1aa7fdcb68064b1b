// Package storage opens the embedded SQLite database and brings its schema up
// to date with the migrations compiled into the binary.
//
// Schema changes are additive. A database written by a newer binary is opened
// as is: migrations are skipped and nothing is ever rolled back.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/medkeeper/internal/logging"
	"github.com/dmitrijs2005/medkeeper/internal/storage/migrations"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

var (
	gooseUpContext        = goose.UpContext
	gooseGetDBVersion     = goose.GetDBVersionContext
	gooseCollectMigration = goose.CollectMigrations
)

// DSN appends the connection pragmas to a database path.
func DSN(path string) string {
	pragmas := []string{"_pragma=foreign_keys(1)", "_pragma=busy_timeout(5000)"}
	if path != ":memory:" && !strings.Contains(path, "mode=memory") {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)")
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + strings.Join(pragmas, "&")
}

// Open connects to the database at path and runs pending migrations.
//
// The pool is limited to one connection: SQLite serializes writers anyway and
// an in-memory database only lives as long as its connection.
func Open(ctx context.Context, path string, log logging.Logger) (*sql.DB, error) {
	if log == nil {
		log = logging.Nop()
	}

	db, err := sql.Open(driverName, DSN(path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := Migrate(ctx, db, log); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// LatestVersion returns the highest migration version embedded in the binary.
func LatestVersion() (int64, error) {
	goose.SetBaseFS(migrations.Migrations)
	ms, err := gooseCollectMigration(".", 0, goose.MaxVersion)
	if err != nil {
		return 0, fmt.Errorf("collect migrations: %w", err)
	}
	last, err := ms.Last()
	if err != nil {
		return 0, fmt.Errorf("collect migrations: %w", err)
	}
	return last.Version, nil
}

// Migrate applies pending migrations. It is a no-op when the database is
// already at, or ahead of, the latest embedded version.
func Migrate(ctx context.Context, db *sql.DB, log logging.Logger) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	latest, err := LatestVersion()
	if err != nil {
		return err
	}

	current, err := gooseGetDBVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if current > latest {
		log.Warn(ctx, "database schema is newer than this binary, skipping migrations",
			"db_version", current, "binary_version", latest)
		return nil
	}
	if current == latest {
		return nil
	}

	if err := gooseUpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info(ctx, "database migrated", "from", current, "to", latest)
	return nil
}
