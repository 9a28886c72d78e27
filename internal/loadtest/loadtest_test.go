package loadtest

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/possibilities/claude-code-chat-stream/internal/db"
)

func TestRun_Validation(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "chat.db")

	if _, err := Run(context.Background(), dbPath, Config{Writers: 0, LinesPerWriter: 1}); err == nil {
		t.Error("Run() with no writers should fail")
	}
	if _, err := Run(context.Background(), dbPath, Config{Writers: 1, LinesPerWriter: 0}); err == nil {
		t.Error("Run() with no lines should fail")
	}
}

// TestRun_Small verifies that concurrent writers store every line exactly once.
func TestRun_Small(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "chat.db")
	config := Config{Writers: 4, LinesPerWriter: 25, BusyTimeout: 5 * time.Second}

	res, err := Run(context.Background(), dbPath, config)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if res.Stored != 100 || res.Failed != 0 {
		t.Errorf("Stored/Failed = %d/%d, want 100/0", res.Stored, res.Failed)
	}
	if res.Rows != 100 {
		t.Errorf("Rows = %d, want 100", res.Rows)
	}
	if res.Latency.TotalInserts != 100 {
		t.Errorf("TotalInserts = %d, want 100", res.Latency.TotalInserts)
	}

	store, err := db.OpenWithOptions(dbPath, &db.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if err := Verify(context.Background(), store, res.RunID, config); err != nil {
		t.Errorf("Verify() failed: %v", err)
	}

	var buf bytes.Buffer
	res.Print(&buf)
	if !strings.Contains(buf.String(), "New Rows:      100") {
		t.Errorf("Print() output:\n%s", buf.String())
	}
}

// TestRun_NoBusyTimeout forces every conflict through the retry loop. Some
// lines may exhaust their attempts, but a failed line never leaves a row.
func TestRun_NoBusyTimeout(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "chat.db")

	res, err := Run(context.Background(), dbPath, Config{Writers: 4, LinesPerWriter: 20})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if res.Stored+res.Failed != 80 {
		t.Errorf("Stored+Failed = %d, want 80", res.Stored+res.Failed)
	}
	if int64(res.Rows) != res.Stored {
		t.Errorf("Rows = %d, want %d (one row per stored line)", res.Rows, res.Stored)
	}
}

func TestRun_RepeatedRunsCountNewRows(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "chat.db")
	config := Config{Writers: 2, LinesPerWriter: 5, BusyTimeout: 5 * time.Second}

	for i := 0; i < 2; i++ {
		res, err := Run(context.Background(), dbPath, config)
		if err != nil {
			t.Fatalf("Run() #%d failed: %v", i+1, err)
		}
		if res.Rows != 10 {
			t.Errorf("Run() #%d Rows = %d, want 10", i+1, res.Rows)
		}
		if err := verifyRun(t, dbPath, res.RunID, config); err != nil {
			t.Errorf("Verify() after run #%d failed: %v", i+1, err)
		}
	}
}

func TestVerify_DetectsMissingRows(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "chat.db")
	res, err := Run(context.Background(), dbPath, Config{Writers: 1, LinesPerWriter: 3, BusyTimeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}

	store, err := db.OpenWithOptions(dbPath, &db.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if err := Verify(context.Background(), store, res.RunID, Config{Writers: 1, LinesPerWriter: 4}); err == nil {
		t.Error("Verify() should report a missing row")
	}
}

func TestComputeLatencyStats(t *testing.T) {
	if s := computeLatencyStats(nil); s.TotalInserts != 0 {
		t.Errorf("Empty stats = %+v", s)
	}

	durations := make([]time.Duration, 100)
	for i := range durations {
		durations[i] = time.Duration(100-i) * time.Millisecond
	}
	s := computeLatencyStats(durations)

	if s.Min != time.Millisecond || s.Max != 100*time.Millisecond {
		t.Errorf("Min/Max = %v/%v", s.Min, s.Max)
	}
	if s.P50 != 51*time.Millisecond || s.P99 != 100*time.Millisecond {
		t.Errorf("P50/P99 = %v/%v", s.P50, s.P99)
	}
	if s.Mean != 50500*time.Microsecond {
		t.Errorf("Mean = %v, want 50.5ms", s.Mean)
	}
}

func verifyRun(t *testing.T, dbPath, runID string, config Config) error {
	t.Helper()
	store, err := db.OpenWithOptions(dbPath, &db.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	return Verify(context.Background(), store, runID, config)
}
