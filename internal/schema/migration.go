package schema

import "fmt"

// Migration is a tagged, ordered list of statements applied together.
type Migration struct {
	Tag        string
	Statements []string
}

// MigrationsTable is the guard table recording applied tags.
var MigrationsTable = Table{
	Name: MigrationsTableName,
	Columns: []Column{
		{Name: "id", Type: "INTEGER", PrimaryKey: true},
		{Name: "tag", Type: "TEXT", NotNull: true},
		{Name: "applied_at", Type: "INTEGER", NotNull: true, Default: "(unixepoch())"},
	},
}

// MigrationsTagIndex makes tag lookups unique.
var MigrationsTagIndex = Index{
	Name:    "idx_schema_migrations_tag",
	Table:   MigrationsTableName,
	Columns: []string{"tag"},
	Unique:  true,
}

// Migrations returns the migrations in the order they must be applied.
func Migrations() []Migration {
	indexes := make([]string, 0, len(EntriesIndexes))
	for _, idx := range EntriesIndexes {
		indexes = append(indexes, idx.CreateSQL())
	}

	return []Migration{
		{
			Tag:        "0000_create_entries",
			Statements: []string{EntriesTable.CreateSQL()},
		},
		{
			Tag:        "0001_entries_indexes",
			Statements: indexes,
		},
	}
}

// ValidateMigrations checks that tags are non-empty and unique and that
// every migration has at least one statement.
func ValidateMigrations(migrations []Migration) error {
	seen := make(map[string]bool, len(migrations))
	for _, m := range migrations {
		if m.Tag == "" {
			return fmt.Errorf("migration tag is required")
		}
		if seen[m.Tag] {
			return fmt.Errorf("duplicate migration tag %s", m.Tag)
		}
		seen[m.Tag] = true
		if len(m.Statements) == 0 {
			return fmt.Errorf("migration %s has no statements", m.Tag)
		}
	}
	return nil
}
