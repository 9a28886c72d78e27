// Package persist records confirmed lines in the store exactly as they
// were read, retrying while other writers hold the database lock.
package persist

import (
	"context"

	"github.com/possibilities/claude-code-chat-stream/internal/schema"
)

// Persister durably records confirmed lines.
//
// Persistence is optional: when it is disabled the daemon holds a nil
// Persister and never calls it. A line is always emitted before it is
// persisted, so a failed Persist leaves the line emitted but not stored.
type Persister interface {
	// Persist stores one line read from path by a process started in cwd.
	//
	// A nil error means the row is committed. A non-nil error means no
	// row was written; the caller should log it and move on, the line is
	// not attempted again.
	//
	// Example:
	//   err := p.Persist(ctx, `{"type":"user"}`, "/home/u/proj", "/home/u/.claude/projects/-home-u-proj/s.jsonl")
	Persist(ctx context.Context, line, cwd, path string) error
}

// Store is the part of the database the gateway writes through.
// *db.DB satisfies it.
type Store interface {
	// InsertEntryContext commits entry in one immediate transaction and
	// rolls back on any error.
	InsertEntryContext(ctx context.Context, entry *schema.Entry) error
}
