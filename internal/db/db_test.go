package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/ncruces/go-sqlite3"

	"github.com/possibilities/claude-code-chat-stream/internal/schema"
)

// testDBPath returns a temporary path for test databases
func testDBPath(t *testing.T) string {
	tmpDir := t.TempDir()
	return filepath.Join(tmpDir, "test.db")
}

func quietOptions() *Options {
	return &Options{BusyTimeout: 0}
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenWithOptions(testDBPath(t), quietOptions())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return db
}

func testEntry(id, data string) *schema.Entry {
	return &schema.Entry{
		ID:       id,
		Data:     data,
		Cwd:      "/home/u/proj",
		Filepath: "/home/u/.claude/projects/-home-u-proj/s.jsonl",
	}
}

func TestOpen_Success(t *testing.T) {
	path := testDBPath(t)
	db, err := OpenWithOptions(path, quietOptions())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
	if db.Existed() {
		t.Error("Existed() = true for a new database")
	}
}

func TestOpen_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "chat.db")
	db, err := OpenWithOptions(path, quietOptions())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Errorf("parent directory not created: %v", err)
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Error("Open(\"\") should fail")
	}
}

func TestOpen_ExistingFile(t *testing.T) {
	path := testDBPath(t)
	first, err := OpenWithOptions(path, quietOptions())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if _, err := first.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	first.Close()

	second, err := OpenWithOptions(path, quietOptions())
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	defer second.Close()

	if !second.Existed() {
		t.Error("Existed() = false for an existing database")
	}
}

func TestInitSchema_Success(t *testing.T) {
	db, err := OpenWithOptions(testDBPath(t), quietOptions())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	applied, err := db.InitSchema()
	if err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	if len(applied) != len(schema.Migrations()) {
		t.Errorf("applied %v, want every migration", applied)
	}

	for _, table := range []string{schema.EntriesTableName, schema.MigrationsTableName} {
		var count int
		query := `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`
		if err := db.conn.QueryRow(query, table).Scan(&count); err != nil {
			t.Fatalf("Failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("Table %s does not exist", table)
		}
	}

	for _, idx := range schema.EntriesIndexes {
		var count int
		query := `SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?`
		if err := db.conn.QueryRow(query, idx.Name).Scan(&count); err != nil {
			t.Fatalf("Failed to query index %s: %v", idx.Name, err)
		}
		if count != 1 {
			t.Errorf("Index %s does not exist", idx.Name)
		}
	}
}

// dataVersion reads PRAGMA data_version on a pinned connection. The value
// changes whenever any other connection commits to the file.
func dataVersion(t *testing.T, conn *sql.Conn) int64 {
	t.Helper()
	var v int64
	if err := conn.QueryRowContext(context.Background(), `PRAGMA data_version`).Scan(&v); err != nil {
		t.Fatalf("PRAGMA data_version failed: %v", err)
	}
	return v
}

// entriesIndexCount counts the explicitly created indexes on entries.
func entriesIndexCount(t *testing.T, db *DB) int {
	t.Helper()
	var count int
	query := `SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND tbl_name=? AND sql IS NOT NULL`
	if err := db.conn.QueryRow(query, schema.EntriesTableName).Scan(&count); err != nil {
		t.Fatalf("Failed to count indexes: %v", err)
	}
	return count
}

func TestInitSchema_Idempotent(t *testing.T) {
	ctx := context.Background()
	path := testDBPath(t)
	db, err := OpenWithOptions(path, quietOptions())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	if _, err := db.InitSchema(); err != nil {
		t.Fatalf("First InitSchema() failed: %v", err)
	}

	observer, err := db.conn.Conn(ctx)
	if err != nil {
		t.Fatalf("Conn() failed: %v", err)
	}
	before := dataVersion(t, observer)

	applied, err := db.InitSchema()
	if err != nil {
		t.Fatalf("Second InitSchema() failed: %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("second run applied %v, want nothing", applied)
	}
	if after := dataVersion(t, observer); after != before {
		t.Errorf("data_version changed %d -> %d, second run wrote to the store", before, after)
	}

	// The observer must notice a real write, or the check above proves nothing.
	if err := db.InsertEntry(testEntry("01A", `{"a":1}`)); err != nil {
		t.Fatalf("InsertEntry() failed: %v", err)
	}
	if after := dataVersion(t, observer); after == before {
		t.Error("data_version unchanged after an insert")
	}
	observer.Close()
	db.Close()

	// A fresh process against the same file must not write either.
	reopened, err := OpenWithOptions(path, quietOptions())
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	observer, err = reopened.conn.Conn(ctx)
	if err != nil {
		t.Fatalf("Conn() failed: %v", err)
	}
	defer observer.Close()
	before = dataVersion(t, observer)

	applied, err = reopened.InitSchema()
	if err != nil {
		t.Fatalf("InitSchema() after reopen failed: %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("reopened run applied %v, want nothing", applied)
	}
	if after := dataVersion(t, observer); after != before {
		t.Errorf("data_version changed %d -> %d after reopen", before, after)
	}

	tags, err := reopened.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations() failed: %v", err)
	}
	if len(tags) != len(schema.Migrations()) {
		t.Errorf("recorded tags = %v, want one per migration", tags)
	}
}

func TestInitSchema_DroppedEntriesTable(t *testing.T) {
	db, err := OpenWithOptions(testDBPath(t), quietOptions())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	if _, err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	if _, err := db.conn.Exec(`DROP TABLE entries`); err != nil {
		t.Fatalf("DROP TABLE failed: %v", err)
	}

	applied, err := db.InitSchema()
	if err != nil {
		t.Fatalf("InitSchema() after drop failed: %v", err)
	}
	if len(applied) != len(schema.Migrations()) {
		t.Errorf("applied %v, want every migration re-run", applied)
	}
	if got, want := entriesIndexCount(t, db), len(schema.EntriesIndexes); got != want {
		t.Errorf("entries has %d indexes, want %d", got, want)
	}

	tags, err := db.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations() failed: %v", err)
	}
	if len(tags) != len(schema.Migrations()) {
		t.Errorf("recorded tags = %v, want no duplicates", tags)
	}
}

func TestInitSchema_NewFileIgnoresStaleLog(t *testing.T) {
	db, err := OpenWithOptions(testDBPath(t), quietOptions())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()
	if db.Existed() {
		t.Fatal("Existed() = true for a new database")
	}

	// Another writer raced us between Open and InitSchema: the table
	// exists and the index tag is recorded, but no index was built.
	setup := []string{
		schema.EntriesTable.CreateSQL(),
		schema.MigrationsTable.CreateSQL(),
		schema.MigrationsTagIndex.CreateSQL(),
		`INSERT INTO schema_migrations (tag) VALUES ('0001_entries_indexes')`,
	}
	for _, stmt := range setup {
		if _, err := db.conn.Exec(stmt); err != nil {
			t.Fatalf("setup %q failed: %v", stmt, err)
		}
	}

	applied, err := db.InitSchema()
	if err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	if len(applied) != len(schema.Migrations()) {
		t.Errorf("applied %v, want every migration on first use", applied)
	}
	if got, want := entriesIndexCount(t, db), len(schema.EntriesIndexes); got != want {
		t.Errorf("entries has %d indexes, want %d", got, want)
	}
}

func TestInitSchema_PartialSchema(t *testing.T) {
	path := testDBPath(t)
	db, err := OpenWithOptions(path, quietOptions())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	// Simulate an interrupted run: the log claims the table migration
	// ran, but the table is missing. An unrelated table is also present.
	setup := []string{
		`CREATE TABLE notes (body TEXT)`,
		schema.MigrationsTable.CreateSQL(),
		schema.MigrationsTagIndex.CreateSQL(),
		`INSERT INTO schema_migrations (tag) VALUES ('0000_create_entries')`,
	}
	for _, stmt := range setup {
		if _, err := db.conn.Exec(stmt); err != nil {
			t.Fatalf("setup %q failed: %v", stmt, err)
		}
	}

	applied, err := db.InitSchema()
	if err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	if len(applied) != len(schema.Migrations()) {
		t.Errorf("applied %v, want every migration re-run", applied)
	}

	if err := db.InsertEntry(testEntry("01A", `{"a":1}`)); err != nil {
		t.Fatalf("InsertEntry() after recovery failed: %v", err)
	}

	tags, err := db.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations() failed: %v", err)
	}
	if len(tags) != len(schema.Migrations()) {
		t.Errorf("recorded tags = %v, want no duplicates", tags)
	}
}

func TestAppliedMigrations_NoLog(t *testing.T) {
	db, err := OpenWithOptions(testDBPath(t), quietOptions())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	tags, err := db.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations() failed: %v", err)
	}
	if len(tags) != 0 {
		t.Errorf("tags = %v, want none", tags)
	}
}

func TestInsertEntry_Success(t *testing.T) {
	db := openTestDB(t)

	entry := testEntry("01J1Z9Q7X8ABCDEF0123456789", `{"type":"user", "sessionId":"s1"}`)
	if err := db.InsertEntry(entry); err != nil {
		t.Fatalf("InsertEntry() failed: %v", err)
	}

	entries, err := db.ListEntries(ListEntriesFilter{})
	if err != nil {
		t.Fatalf("ListEntries() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}

	got := entries[0]
	if got.Data != entry.Data {
		t.Errorf("Data = %q, want byte-identical %q", got.Data, entry.Data)
	}
	if got.Cwd != entry.Cwd || got.Filepath != entry.Filepath {
		t.Errorf("got cwd=%q filepath=%q", got.Cwd, got.Filepath)
	}
	if got.Created.IsZero() || got.Created.Unix() == 0 {
		t.Error("Created should be assigned by the store")
	}
}

func TestInsertEntry_Invalid(t *testing.T) {
	db := openTestDB(t)

	if err := db.InsertEntry(&schema.Entry{ID: "x"}); err == nil {
		t.Error("InsertEntry() should reject an incomplete entry")
	}
}

func TestInsertEntry_DuplicateRollsBack(t *testing.T) {
	db := openTestDB(t)

	if err := db.InsertEntry(testEntry("01A", `{"n":1}`)); err != nil {
		t.Fatalf("InsertEntry() failed: %v", err)
	}

	err := db.InsertEntry(testEntry("01A", `{"n":2}`))
	if err == nil {
		t.Fatal("duplicate id should fail")
	}
	if IsBusy(err) {
		t.Errorf("constraint violation classified as busy: %v", err)
	}

	count, err := db.GetEntryCount()
	if err != nil {
		t.Fatalf("GetEntryCount() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestInsertEntry_BusyWhileAnotherWriterHoldsLock(t *testing.T) {
	path := testDBPath(t)

	holder, err := OpenWithOptions(path, quietOptions())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer holder.Close()
	if _, err := holder.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	writer, err := OpenWithOptions(path, quietOptions())
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	defer writer.Close()

	ctx := context.Background()
	tx, err := holder.RawDB().BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("BeginTx() failed: %v", err)
	}

	err = writer.InsertEntryContext(ctx, testEntry("01B", `{"a":1}`))
	if !IsBusy(err) {
		t.Fatalf("InsertEntry() under lock = %v, want busy", err)
	}

	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback() failed: %v", err)
	}

	if err := writer.InsertEntryContext(ctx, testEntry("01B", `{"a":1}`)); err != nil {
		t.Fatalf("InsertEntry() after lock release failed: %v", err)
	}

	count, err := writer.GetEntryCount()
	if err != nil {
		t.Fatalf("GetEntryCount() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want exactly 1", count)
	}
}

func TestListEntries_Filter(t *testing.T) {
	db := openTestDB(t)

	for i, id := range []string{"01A", "01B", "01C"} {
		e := testEntry(id, fmt.Sprintf(`{"n":%d}`, i))
		if i == 2 {
			e.Filepath = "/other.jsonl"
		}
		if err := db.InsertEntry(e); err != nil {
			t.Fatalf("InsertEntry() failed: %v", err)
		}
	}

	entries, err := db.ListEntries(ListEntriesFilter{Filepath: "/other.jsonl"})
	if err != nil {
		t.Fatalf("ListEntries() failed: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "01C" {
		t.Errorf("filtered entries = %v", entries)
	}

	entries, err = db.ListEntries(ListEntriesFilter{Limit: 2})
	if err != nil {
		t.Fatalf("ListEntries() failed: %v", err)
	}
	if len(entries) != 2 || entries[0].ID != "01A" || entries[1].ID != "01B" {
		t.Errorf("limited entries out of order: %v", entries)
	}
}

func TestIsBusy(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"busy", sqlite3.BUSY, true},
		{"wrapped busy", fmt.Errorf("failed to begin transaction: %w", sqlite3.BUSY), true},
		{"locked", sqlite3.LOCKED, true},
		{"constraint", sqlite3.CONSTRAINT, false},
		{"other", errors.New("disk I/O error"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsBusy(tt.err); got != tt.want {
				t.Errorf("IsBusy(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
