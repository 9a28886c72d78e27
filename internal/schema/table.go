package schema

import (
	"fmt"
	"strings"
)

// Column describes one table column.
type Column struct {
	Name       string
	Type       string // TEXT or INTEGER
	PrimaryKey bool
	NotNull    bool
	// Default is a raw SQL expression, e.g. "(unixepoch())".
	Default string
}

// Table describes a table by name and ordered columns.
type Table struct {
	Name    string
	Columns []Column
}

// Index describes an index. Entries in Columns are emitted verbatim, so an
// expression such as json_extract(data, '$.sessionId') is allowed.
type Index struct {
	Name    string
	Table   string
	Columns []string
	Unique  bool
}

// Validate checks that the definition can be rendered.
func (t Table) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("table name is required")
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %s has no columns", t.Name)
	}
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if c.Name == "" || c.Type == "" {
			return fmt.Errorf("table %s: column name and type are required", t.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("table %s: duplicate column %s", t.Name, c.Name)
		}
		seen[c.Name] = true
	}
	return nil
}

// CreateSQL renders an idempotent CREATE TABLE statement.
func (t Table) CreateSQL() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", t.Name)
	for i, c := range t.Columns {
		b.WriteString("\t")
		b.WriteString(c.definition())
		if i < len(t.Columns)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString(")")
	return b.String()
}

func (c Column) definition() string {
	parts := []string{c.Name, c.Type}
	if c.PrimaryKey {
		parts = append(parts, "PRIMARY KEY")
	}
	if c.NotNull {
		parts = append(parts, "NOT NULL")
	}
	if c.Default != "" {
		parts = append(parts, "DEFAULT "+c.Default)
	}
	return strings.Join(parts, " ")
}

// CreateSQL renders an idempotent CREATE INDEX statement.
func (i Index) CreateSQL() string {
	unique := ""
	if i.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s(%s)",
		unique, i.Name, i.Table, strings.Join(i.Columns, ", "))
}
