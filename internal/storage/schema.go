package storage

import (
	"context"
	"database/sql"
	"fmt"
)

const currentSchemaVersion = 1

// migrations[i] upgrades the schema from version i to i+1.
var migrations = []func(*sql.Tx) error{
	createAnalysisCacheTable,
}

func (db *DB) migrate(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`); err != nil {
		return err
	}

	version, err := db.schemaVersion(ctx)
	if err != nil {
		return err
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, currentSchemaVersion)
	}
	if version == currentSchemaVersion {
		db.logger.Debug("Database schema is up to date", "version", version)
		return nil
	}

	return db.WithTx(ctx, func(tx *sql.Tx) error {
		for v := version; v < currentSchemaVersion; v++ {
			if err := migrations[v](tx); err != nil {
				return fmt.Errorf("migration to version %d failed: %w", v+1, err)
			}
		}
		if _, err := tx.Exec("DELETE FROM schema_version"); err != nil {
			return err
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", currentSchemaVersion); err != nil {
			return err
		}
		db.logger.Info("Database schema migrated", "from", version, "to", currentSchemaVersion)
		return nil
	})
}

func (db *DB) schemaVersion(ctx context.Context) (int, error) {
	var version int
	err := db.conn.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return version, err
}

func createAnalysisCacheTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE analysis_cache (
			key TEXT NOT NULL,
			kind TEXT NOT NULL,
			payload BLOB NOT NULL,
			compressed INTEGER NOT NULL DEFAULT 0,
			raw_size INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			PRIMARY KEY (key, kind)
		)
	`)
	if err != nil {
		return err
	}
	_, err = tx.Exec("CREATE INDEX idx_analysis_cache_expires ON analysis_cache(expires_at)")
	return err
}
