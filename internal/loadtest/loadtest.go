// Package loadtest measures persistence under write contention.
//
// It simulates several chat-stream processes ingesting into one database
// file. Each simulated writer opens its own connection pool and persists
// through its own gateway, so conflicts go through SQLite's file locking and
// the busy retry loop exactly as they would between separate processes.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/tidwall/gjson"

	"github.com/possibilities/claude-code-chat-stream/internal/db"
	"github.com/possibilities/claude-code-chat-stream/internal/persist"
)

// Cwd is the working directory recorded on load-test rows.
const Cwd = "/loadtest"

// Config describes a load test run.
type Config struct {
	// Writers is the number of simulated ingesting processes.
	Writers int

	// LinesPerWriter is how many lines each writer persists.
	LinesPerWriter int

	// BusyTimeout is the SQLite busy timeout of every writer's connection.
	// Zero makes every conflict surface to the retry loop.
	BusyTimeout time.Duration

	// Persist is the retry policy each writer's gateway runs with.
	// Nil uses persist.DefaultConfig with logging discarded.
	Persist *persist.Config
}

// DefaultConfig returns a moderate contention scenario.
func DefaultConfig() Config {
	return Config{
		Writers:        8,
		LinesPerWriter: 100,
		BusyTimeout:    5 * time.Second,
	}
}

// LatencyStats captures per-line persist latency, retries included.
type LatencyStats struct {
	Min          time.Duration   `json:"min"`
	Max          time.Duration   `json:"max"`
	Mean         time.Duration   `json:"mean"`
	P50          time.Duration   `json:"p50"`
	P95          time.Duration   `json:"p95"`
	P99          time.Duration   `json:"p99"`
	TotalInserts int             `json:"total_inserts"`
	Durations    []time.Duration `json:"-"`
}

// Result reports a load test run.
type Result struct {
	RunID   string        `json:"run_id"`
	Latency *LatencyStats `json:"latency"`
	Stored  int64         `json:"stored"`
	Failed  int64         `json:"failed"`
	Retries int64         `json:"retries"`
	Rows    int           `json:"rows"`
	Elapsed time.Duration `json:"elapsed"`
}

// Run persists Writers*LinesPerWriter lines into the database at dbPath
// from concurrent writers and reports what happened. The schema is
// initialized first if needed. Rows are recorded under source paths unique
// to this run (see WriterPath); rows already in the database are not
// counted in Result.Rows.
func Run(ctx context.Context, dbPath string, config Config) (*Result, error) {
	if config.Writers <= 0 {
		return nil, fmt.Errorf("writers must be positive")
	}
	if config.LinesPerWriter <= 0 {
		return nil, fmt.Errorf("lines per writer must be positive")
	}
	pconfig := config.Persist
	if pconfig == nil {
		pconfig = persist.DefaultConfig()
		pconfig.Logger = log.New(io.Discard, "", 0)
	}

	setup, err := db.OpenWithOptions(dbPath, &db.Options{BusyTimeout: config.BusyTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer setup.Close()

	if _, err := setup.InitSchemaContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	before, err := setup.GetEntryCountContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count entries: %w", err)
	}

	gateways := make([]*persist.Gateway, config.Writers)
	for i := range gateways {
		store, err := db.OpenWithOptions(dbPath, &db.Options{BusyTimeout: config.BusyTimeout})
		if err != nil {
			return nil, fmt.Errorf("failed to open writer %d: %w", i, err)
		}
		defer store.Close()

		gw, err := persist.New(store, pconfig)
		if err != nil {
			return nil, err
		}
		gateways[i] = gw
	}

	runID := ulid.Make().String()

	var wg sync.WaitGroup
	resultsChan := make(chan []time.Duration, config.Writers)

	start := time.Now()
	for i, gw := range gateways {
		wg.Add(1)
		go func(writer int, gw *persist.Gateway) {
			defer wg.Done()

			durations := make([]time.Duration, 0, config.LinesPerWriter)
			path := WriterPath(runID, writer)
			for seq := 0; seq < config.LinesPerWriter; seq++ {
				if ctx.Err() != nil {
					break
				}
				t := time.Now()
				// Failures are counted by the gateway.
				_ = gw.Persist(ctx, Line(writer, seq), Cwd, path)
				durations = append(durations, time.Since(t))
			}
			resultsChan <- durations
		}(i, gw)
	}

	wg.Wait()
	close(resultsChan)
	elapsed := time.Since(start)

	var all []time.Duration
	for durations := range resultsChan {
		all = append(all, durations...)
	}

	after, err := setup.GetEntryCountContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count entries: %w", err)
	}

	res := &Result{
		RunID:   runID,
		Latency: computeLatencyStats(all),
		Rows:    after - before,
		Elapsed: elapsed,
	}
	for _, gw := range gateways {
		s := gw.Stats()
		res.Stored += s.Stored
		res.Failed += s.Failed
		res.Retries += s.Retries
	}

	return res, ctx.Err()
}

// WriterPath is the source file path recorded for a writer's rows.
func WriterPath(runID string, writer int) string {
	return fmt.Sprintf("/loadtest/%s/writer-%02d.jsonl", runID, writer)
}

// Line is the payload a writer persists as its seq-th line.
func Line(writer, seq int) string {
	return fmt.Sprintf(`{"type":"loadtest","sessionId":"loadtest-%02d","writer":%d,"seq":%d}`, writer, writer, seq)
}

// Verify checks that every line of run runID is present, stored once,
// byte-identical, and that sorting a writer's rows by id yields the order
// they were persisted in.
func Verify(ctx context.Context, store *db.DB, runID string, config Config) error {
	for writer := 0; writer < config.Writers; writer++ {
		entries, err := store.ListEntriesContext(ctx, db.ListEntriesFilter{Filepath: WriterPath(runID, writer)})
		if err != nil {
			return fmt.Errorf("failed to list writer %d: %w", writer, err)
		}
		if len(entries) != config.LinesPerWriter {
			return fmt.Errorf("writer %d: %d rows, want %d", writer, len(entries), config.LinesPerWriter)
		}
		for i, e := range entries {
			if seq := gjson.Get(e.Data, "seq").Int(); seq != int64(i) {
				return fmt.Errorf("writer %d: row %d has seq %d", writer, i, seq)
			}
			if e.Data != Line(writer, i) {
				return fmt.Errorf("writer %d: row %d payload altered: %q", writer, i, e.Data)
			}
		}
	}
	return nil
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	// Sort durations for percentile calculation
	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return &LatencyStats{
		Min:          sorted[0],
		Max:          sorted[len(sorted)-1],
		Mean:         sum / time.Duration(len(sorted)),
		P50:          sorted[len(sorted)*50/100],
		P95:          sorted[len(sorted)*95/100],
		P99:          sorted[len(sorted)*99/100],
		TotalInserts: len(sorted),
		Durations:    sorted,
	}
}

// Print writes a human-readable report.
func (r *Result) Print(w io.Writer) {
	s := r.Latency
	fmt.Fprintf(w, "Persist Latency:\n")
	fmt.Fprintf(w, "  Total Inserts: %d\n", s.TotalInserts)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
	fmt.Fprintf(w, "Outcome:\n")
	fmt.Fprintf(w, "  Stored:        %d\n", r.Stored)
	fmt.Fprintf(w, "  Failed:        %d\n", r.Failed)
	fmt.Fprintf(w, "  Busy Retries:  %d\n", r.Retries)
	fmt.Fprintf(w, "  New Rows:      %d\n", r.Rows)
	fmt.Fprintf(w, "  Elapsed:       %v\n", r.Elapsed.Round(time.Millisecond))
}
