package schema

import (
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// EntriesTableName is the table ingested lines are stored in.
const EntriesTableName = "entries"

// MigrationsTableName is the guard table keyed by migration tag.
const MigrationsTableName = "schema_migrations"

// SessionIDPath is the gjson path of the session identifier inside a line.
const SessionIDPath = "sessionId"

// Entry is the persisted form of one ingested line.
type Entry struct {
	ID       string
	Data     string
	Cwd      string
	Filepath string
	// Created is assigned by the store; it is zero on entries that have
	// not been read back.
	Created time.Time
}

// Validate checks the fields the ingester is responsible for.
func (e *Entry) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}
	if e.Data == "" {
		return fmt.Errorf("data is required")
	}
	if e.Cwd == "" {
		return fmt.Errorf("cwd is required")
	}
	if e.Filepath == "" {
		return fmt.Errorf("filepath is required")
	}
	return nil
}

// SessionID returns the session identifier embedded in the line, or "".
func (e *Entry) SessionID() string {
	return gjson.Get(e.Data, SessionIDPath).String()
}

// EntriesTable is the structured definition of the entries table.
var EntriesTable = Table{
	Name: EntriesTableName,
	Columns: []Column{
		{Name: "id", Type: "TEXT", PrimaryKey: true, NotNull: true},
		{Name: "data", Type: "TEXT", NotNull: true},
		{Name: "cwd", Type: "TEXT", NotNull: true},
		{Name: "filepath", Type: "TEXT", NotNull: true},
		{Name: "created", Type: "INTEGER", NotNull: true, Default: "(unixepoch())"},
	},
}

// EntriesIndexes support the lookups external readers make.
var EntriesIndexes = []Index{
	{Name: "idx_entries_cwd", Table: EntriesTableName, Columns: []string{"cwd"}},
	{Name: "idx_entries_filepath", Table: EntriesTableName, Columns: []string{"filepath"}},
	{Name: "idx_entries_created", Table: EntriesTableName, Columns: []string{"created"}},
	{
		Name:    "idx_entries_session",
		Table:   EntriesTableName,
		Columns: []string{"json_extract(data, '$." + SessionIDPath + "')"},
	},
}
