package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/possibilities/claude-code-chat-stream/internal/db"
	"github.com/possibilities/claude-code-chat-stream/internal/loadtest"
	"github.com/possibilities/claude-code-chat-stream/internal/persist"
	"github.com/possibilities/claude-code-chat-stream/internal/ui"
)

func (a *app) benchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure persistence under concurrent writers",
		Long: `Simulate several chat-stream processes storing lines into one database
and report insert latency, busy retries and failures.

Each writer uses its own connection, so contention is resolved by SQLite
file locking and the busy retry policy, as between real processes.

Without --db the benchmark runs against a temporary database.

Examples:
  # 8 writers, 100 lines each
  chat-stream bench

  # Force every conflict through the retry loop
  chat-stream bench --writers 16 --busy-timeout 0

  # Output results as JSON
  chat-stream bench --json
`,
		Args: cobra.NoArgs,
		RunE: a.runBench,
	}

	defaults := loadtest.DefaultConfig()
	cmd.Flags().Int("writers", defaults.Writers, "Number of concurrent writers to simulate")
	cmd.Flags().Int("lines", defaults.LinesPerWriter, "Number of lines each writer stores")
	cmd.Flags().Duration("busy-timeout", defaults.BusyTimeout, "SQLite busy timeout per writer connection")
	cmd.Flags().Bool("json", false, "Output results as JSON")
	return cmd
}

func (a *app) runBench(cmd *cobra.Command, args []string) error {
	writers, _ := cmd.Flags().GetInt("writers")
	lines, _ := cmd.Flags().GetInt("lines")
	busyTimeout, _ := cmd.Flags().GetDuration("busy-timeout")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	if writers <= 0 {
		return fmt.Errorf("--writers must be positive")
	}
	if lines <= 0 {
		return fmt.Errorf("--lines must be positive")
	}
	if busyTimeout < 0 {
		return fmt.Errorf("--busy-timeout cannot be negative")
	}

	dbPath := a.cfg.DB
	if dbPath == "" {
		dir, err := os.MkdirTemp("", "chat-stream-bench")
		if err != nil {
			return fmt.Errorf("failed to create temp dir: %w", err)
		}
		defer os.RemoveAll(dir)
		dbPath = filepath.Join(dir, "bench.db")
	}

	config := loadtest.DefaultConfig()
	config.Writers = writers
	config.LinesPerWriter = lines
	config.BusyTimeout = busyTimeout

	pconfig := persist.DefaultConfig()
	pconfig.MaxAttempts = a.cfg.PersistMaxAttempts
	pconfig.InitialBackoff = a.cfg.PersistInitialBackoff
	pconfig.MaxBackoff = a.cfg.PersistMaxBackoff
	pconfig.Logger = log.New(io.Discard, "", 0)
	config.Persist = pconfig

	out := cmd.OutOrStdout()
	if !jsonOutput {
		fmt.Fprintf(out, "%s Running %d writers x %d lines against %s\n\n", ui.RenderAccent("⏱"), writers, lines, dbPath)
	}

	res, err := loadtest.Run(cmd.Context(), dbPath, config)
	if err != nil {
		return err
	}

	store, err := db.OpenWithOptions(dbPath, &db.Options{BusyTimeout: busyTimeout})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()
	verifyErr := loadtest.Verify(cmd.Context(), store, res.RunID, config)

	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("failed to encode results: %w", err)
		}
	} else {
		res.Print(out)
		fmt.Fprintln(out)
	}

	// A failed line is reported, not an integrity error; a stored line
	// that is missing or altered is.
	if res.Failed == 0 && verifyErr != nil {
		return fmt.Errorf("integrity check failed: %w", verifyErr)
	}
	if !jsonOutput {
		if res.Failed > 0 {
			fmt.Fprintf(out, "%s %d lines gave up after %d attempts\n", ui.RenderWarn("⚠"), res.Failed, a.cfg.PersistMaxAttempts)
		} else {
			fmt.Fprintf(out, "%s Every line stored exactly once, in order\n", ui.RenderPass("✓"))
		}
	}
	return nil
}
