// Package db provides the SQLite store ingested lines are persisted into.
//
// The store runs embedded through the ncruces driver with WAL journaling so
// external readers never block the ingester. Every connection opens its
// transactions with BEGIN IMMEDIATE: the write lock is taken up front, which
// makes contention surface as a busy error at Begin rather than halfway
// through an insert, and lets several ingesting processes share one file.
//
// Workflow:
//  1. Open creates the parent directory and the database file if needed
//  2. InitSchema applies any migrations not yet recorded
//  3. InsertEntry commits one line per immediate transaction
//  4. Close checkpoints the WAL
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/possibilities/claude-code-chat-stream/internal/schema"
)

// Options tunes how the store is opened.
type Options struct {
	// BusyTimeout is how long SQLite itself waits on a locked database
	// before reporting busy. Zero hands every conflict straight to the
	// caller's retry loop.
	BusyTimeout time.Duration

	// Logger for store activity. Nil discards.
	Logger *log.Logger
}

// DefaultOptions returns the settings the daemon runs with.
func DefaultOptions() *Options {
	return &Options{
		BusyTimeout: 5 * time.Second,
		Logger:      log.New(os.Stderr, "[db] ", log.LstdFlags),
	}
}

// DB wraps the SQLite connection pool.
type DB struct {
	conn    *sql.DB
	path    string
	existed bool
	logger  *log.Logger
}

// Open opens (creating if necessary) the store at path with default options.
//
// The caller MUST call Close when done.
func Open(path string) (*DB, error) {
	return OpenWithOptions(path, DefaultOptions())
}

// OpenWithOptions opens the store at path.
func OpenWithOptions(path string, opts *Options) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve database path: %w", err)
	}

	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	existed := true
	if _, err := os.Stat(absPath); errors.Is(err, os.ErrNotExist) {
		existed = false
	}

	conn, err := sql.Open("sqlite3", dsn(absPath, opts.BusyTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	logger.Printf("Opened %s (existed=%v)", absPath, existed)

	return &DB{
		conn:    conn,
		path:    absPath,
		existed: existed,
		logger:  logger,
	}, nil
}

// dsn builds the connection string. Pragmas go in the DSN rather than a
// one-off Exec so that every pooled connection gets them.
func dsn(path string, busyTimeout time.Duration) string {
	return fmt.Sprintf("file:%s?_txlock=immediate&_pragma=busy_timeout(%d)&_pragma=journal_mode(wal)&_pragma=synchronous(normal)",
		path, busyTimeout.Milliseconds())
}

// Path returns the absolute path of the database file.
func (db *DB) Path() string {
	return db.path
}

// Existed reports whether the database file was already present when the
// store was opened.
func (db *DB) Existed() bool {
	return db.existed
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close closes the database connection.
// Performs a WAL checkpoint so readers see a compact file.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		db.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// IsBusy reports whether err is SQLite lock contention (SQLITE_BUSY or
// SQLITE_LOCKED), the only class of error worth retrying.
func IsBusy(err error) bool {
	return errors.Is(err, sqlite3.BUSY) || errors.Is(err, sqlite3.LOCKED)
}

// InsertEntry stores one line in its own immediate transaction.
func (db *DB) InsertEntry(entry *schema.Entry) error {
	return db.InsertEntryContext(context.Background(), entry)
}

// InsertEntryContext stores one line with context support.
//
// The transaction is rolled back on every error path, so a failed call
// never leaves a partial row. Busy errors are returned wrapped; use IsBusy
// to classify them.
func (db *DB) InsertEntryContext(ctx context.Context, entry *schema.Entry) error {
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("invalid entry: %w", err)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `INSERT INTO entries (id, data, cwd, filepath) VALUES (?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, query, entry.ID, entry.Data, entry.Cwd, entry.Filepath); err != nil {
		return fmt.Errorf("failed to insert entry %s: %w", entry.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit entry %s: %w", entry.ID, err)
	}

	return nil
}

// GetEntryCount returns the number of stored entries.
func (db *DB) GetEntryCount() (int, error) {
	return db.GetEntryCountContext(context.Background())
}

// GetEntryCountContext returns the number of stored entries with context support.
func (db *DB) GetEntryCountContext(ctx context.Context) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get entry count: %w", err)
	}
	return count, nil
}

// ListEntriesFilter configures ListEntries.
type ListEntriesFilter struct {
	// Filepath restricts results to one source file (empty = all files)
	Filepath string
	// Limit restricts the number of results (0 = no limit)
	Limit int
}

// ListEntries returns stored entries ordered by id, i.e. insertion time.
func (db *DB) ListEntries(filter ListEntriesFilter) ([]*schema.Entry, error) {
	return db.ListEntriesContext(context.Background(), filter)
}

// ListEntriesContext returns stored entries with context support.
func (db *DB) ListEntriesContext(ctx context.Context, filter ListEntriesFilter) ([]*schema.Entry, error) {
	query := `SELECT id, data, cwd, filepath, created FROM entries`
	var args []interface{}

	if filter.Filepath != "" {
		query += ` WHERE filepath = ?`
		args = append(args, filter.Filepath)
	}

	query += ` ORDER BY id ASC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	var entries []*schema.Entry
	for rows.Next() {
		var entry schema.Entry
		var created int64
		if err := rows.Scan(&entry.ID, &entry.Data, &entry.Cwd, &entry.Filepath, &created); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entry.Created = time.Unix(created, 0)
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entries: %w", err)
	}

	return entries, nil
}
