package memory

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// schemaVersion is the newest migration known to this build.
const schemaVersion = 2

type migration struct {
	Version     int
	Description string
	SQL         string
}

// Applied in order, each exactly once, tracked in schema_version.
var migrations = []migration{
	{
		Version:     1,
		Description: "blob table",
		SQL: `
		CREATE TABLE IF NOT EXISTS blobs (
			key         TEXT PRIMARY KEY,
			value       BLOB NOT NULL,
			updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
	},
	{
		Version:     2,
		Description: "blob recency index",
		SQL: `
		CREATE INDEX IF NOT EXISTS idx_blobs_updated ON blobs(updated_at);`,
	},
}

// RunMigrations applies all pending schema migrations.
func RunMigrations(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := GetSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("query schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logger.Info("applying migration", "version", m.Version, "description", m.Description)

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.Version, err)
		}
		for _, stmt := range splitSQL(m.SQL) {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration v%d failed: %w\nSQL: %s", m.Version, err, truncate(stmt, 200))
			}
		}
		if _, err := tx.Exec(
			"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.Version, err)
		}
	}
	return nil
}

func splitSQL(sql string) []string {
	var out []string
	for _, s := range strings.Split(sql, ";") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// GetSchemaVersion returns 0 for a database that was never migrated.
func GetSchemaVersion(db *sql.DB) (int, error) {
	var name string
	if err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&name); err != nil {
		return 0, nil
	}
	var version int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}
