package database

import (
	"database/sql"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// OpenSQLite opens the embedded store at path and applies pending migrations.
// A single connection is kept open so writes are serialized by database/sql.
func OpenSQLite(path string, logger *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000; PRAGMA journal_mode = WAL;`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "configuring database")
	}

	if err := RunSQLiteMigrations(db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func RunSQLiteMigrations(db *sql.DB, logger *zap.Logger) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return errors.Wrap(err, "creating migrations table")
	}

	migrations, err := loadMigrations(migrationsFS, "migrations/sqlite")
	if err != nil {
		return err
	}

	for _, m := range migrations {
		var exists bool
		if err := db.QueryRow("SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)", m.version).Scan(&exists); err != nil {
			return errors.Wrapf(err, "checking migration %d", m.version)
		}
		if exists {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return errors.Wrapf(err, "beginning transaction for migration %d", m.version)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "executing migration %d", m.version)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "recording migration %d", m.version)
		}
		if err := tx.Commit(); err != nil {
			return errors.Wrapf(err, "committing migration %d", m.version)
		}

		logger.Info("applied migration", zap.Int("version", m.version), zap.String("name", m.name))
	}

	return nil
}
