package persist

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/possibilities/claude-code-chat-stream/internal/db"
	"github.com/possibilities/claude-code-chat-stream/internal/retry"
	"github.com/possibilities/claude-code-chat-stream/internal/schema"
)

// Config holds the retry policy and collaborators of a Gateway.
type Config struct {
	// MaxAttempts is the total number of insert attempts per line.
	MaxAttempts int

	// InitialBackoff is the wait after the first busy attempt; each later
	// wait doubles, up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Clock drives backoff waits. Defaults to retry.Real().
	Clock retry.Clock

	// NewID generates row identifiers. Defaults to monotonic ULIDs.
	NewID func() string

	// Logger for persistence activity.
	Logger *log.Logger
}

// DefaultConfig returns the policy the daemon runs with: five attempts,
// waiting 100, 200, 400 and 800ms between them.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:    5,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		Logger:         log.New(os.Stderr, "[persist] ", log.LstdFlags),
	}
}

// Stats counts gateway outcomes since creation.
type Stats struct {
	Stored  int64
	Failed  int64
	Retries int64
}

// Gateway implements Persister on top of a Store.
type Gateway struct {
	store  Store
	policy retry.Policy
	newID  func() string
	logger *log.Logger

	stored  atomic.Int64
	failed  atomic.Int64
	retries atomic.Int64
}

// New creates a Gateway writing to store. A nil config uses DefaultConfig.
//
// Example:
//
//	database, err := db.Open("chat.db")
//	if err != nil {
//	    return err
//	}
//	if _, err := database.InitSchema(); err != nil {
//	    return err
//	}
//	gw, err := persist.New(database, nil)
func New(store Store, config *Config) (*Gateway, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxAttempts <= 0 {
		return nil, fmt.Errorf("max attempts must be positive (got %d)", config.MaxAttempts)
	}

	logger := config.Logger
	if logger == nil {
		logger = DefaultConfig().Logger
	}
	newID := config.NewID
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}

	return &Gateway{
		store: store,
		policy: retry.Policy{
			MaxAttempts: config.MaxAttempts,
			Delay:       retry.Exponential(config.InitialBackoff, config.MaxBackoff),
			Retryable:   db.IsBusy,
			Clock:       config.Clock,
		},
		newID:  newID,
		logger: logger,
	}, nil
}

// Persist implements Persister.Persist.
//
// The identifier is generated once, so every retry of the same line
// carries the same id.
func (g *Gateway) Persist(ctx context.Context, line, cwd, path string) error {
	entry := &schema.Entry{
		ID:       g.newID(),
		Data:     line,
		Cwd:      cwd,
		Filepath: path,
	}

	res, err := retry.Do(ctx, g.policy, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			g.logger.Printf("Database busy, retrying %s (attempt %d/%d)", entry.ID, attempt, g.policy.MaxAttempts)
		}
		return g.store.InsertEntryContext(ctx, entry)
	})
	g.retries.Add(int64(res.Attempts - 1))

	if err != nil {
		g.failed.Add(1)
		g.logger.Printf("Failed to store line %s from %s (session %q): %v",
			entry.ID, filepath.Base(path), entry.SessionID(), err)
		return fmt.Errorf("failed to store line: %w", err)
	}

	g.stored.Add(1)
	if res.Attempts > 1 {
		g.logger.Printf("Stored %s after %d attempts", entry.ID, res.Attempts)
	}
	return nil
}

// Stats returns a snapshot of the gateway counters.
func (g *Gateway) Stats() Stats {
	return Stats{
		Stored:  g.stored.Load(),
		Failed:  g.failed.Load(),
		Retries: g.retries.Load(),
	}
}
