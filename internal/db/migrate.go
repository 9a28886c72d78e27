package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/possibilities/claude-code-chat-stream/internal/schema"
)

// InitSchema applies every migration that has not been recorded yet.
// It returns the tags it applied; a store that is already current yields
// none and is not written to.
func (db *DB) InitSchema() ([]string, error) {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext applies pending migrations with context support.
func (db *DB) InitSchemaContext(ctx context.Context) ([]string, error) {
	return db.applyMigrations(ctx, schema.Migrations())
}

// applyMigrations is the schema initializer proper.
//
// First use means the file did not exist before Open or the entries table
// is absent. A file can exist with a partial or foreign schema (an
// interrupted run, a different tool), so both the entries table and the
// migration log are checked rather than trusting either alone. On first
// use recorded tags are treated as stale and every migration runs again;
// all rendered DDL is IF NOT EXISTS, so this is safe.
func (db *DB) applyMigrations(ctx context.Context, migrations []schema.Migration) ([]string, error) {
	if err := schema.ValidateMigrations(migrations); err != nil {
		return nil, fmt.Errorf("invalid migrations: %w", err)
	}

	hasEntries, err := db.tableExists(ctx, schema.EntriesTableName)
	if err != nil {
		return nil, err
	}
	hasLog, err := db.tableExists(ctx, schema.MigrationsTableName)
	if err != nil {
		return nil, err
	}

	if hasEntries && hasLog {
		recorded, err := db.AppliedMigrationsContext(ctx)
		if err != nil {
			return nil, err
		}
		if allRecorded(migrations, recorded) {
			return nil, nil
		}
	}

	firstUse := !db.existed || !hasEntries

	if !hasLog {
		if err := db.createMigrationLog(ctx); err != nil {
			return nil, err
		}
	}

	var applied []string
	for _, m := range migrations {
		ran, err := db.applyMigration(ctx, m, firstUse)
		if err != nil {
			return applied, err
		}
		if ran {
			db.logger.Printf("Applied migration %s", m.Tag)
			applied = append(applied, m.Tag)
		}
	}

	return applied, nil
}

func (db *DB) createMigrationLog(ctx context.Context) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{schema.MigrationsTable.CreateSQL(), schema.MigrationsTagIndex.CreateSQL()} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create migration log: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration log: %w", err)
	}
	return nil
}

// applyMigration runs one migration and records its tag in the same
// immediate transaction. Unless force is set, the recorded check is
// repeated under the write lock because another process may have applied
// it since we looked.
func (db *DB) applyMigration(ctx context.Context, m schema.Migration, force bool) (bool, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin migration %s: %w", m.Tag, err)
	}
	defer tx.Rollback()

	if !force {
		var recorded int
		err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE tag = ?`, m.Tag).Scan(&recorded)
		if err != nil {
			return false, fmt.Errorf("failed to check migration %s: %w", m.Tag, err)
		}
		if recorded > 0 {
			return false, nil
		}
	}

	for i, stmt := range m.Statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return false, fmt.Errorf("migration %s statement %d failed: %w", m.Tag, i+1, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO schema_migrations (tag) VALUES (?)`, m.Tag); err != nil {
		return false, fmt.Errorf("failed to record migration %s: %w", m.Tag, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit migration %s: %w", m.Tag, err)
	}

	return true, nil
}

// AppliedMigrations returns the recorded migration tags in apply order.
func (db *DB) AppliedMigrations() ([]string, error) {
	return db.AppliedMigrationsContext(context.Background())
}

// AppliedMigrationsContext returns recorded tags with context support.
// A store without a migration log has none.
func (db *DB) AppliedMigrationsContext(ctx context.Context) ([]string, error) {
	hasLog, err := db.tableExists(ctx, schema.MigrationsTableName)
	if err != nil {
		return nil, err
	}
	if !hasLog {
		return nil, nil
	}

	rows, err := db.conn.QueryContext(ctx, `SELECT tag FROM schema_migrations ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("failed to scan migration: %w", err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating migrations: %w", err)
	}
	return tags, nil
}

func (db *DB) tableExists(ctx context.Context, name string) (bool, error) {
	var found string
	err := db.conn.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", name, err)
	}
	return true, nil
}

func allRecorded(migrations []schema.Migration, recorded []string) bool {
	seen := make(map[string]bool, len(recorded))
	for _, tag := range recorded {
		seen[tag] = true
	}
	for _, m := range migrations {
		if !seen[m.Tag] {
			return false
		}
	}
	return true
}
