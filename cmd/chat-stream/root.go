package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sys/unix"

	"github.com/possibilities/claude-code-chat-stream/internal/config"
	"github.com/possibilities/claude-code-chat-stream/internal/daemon"
	"github.com/possibilities/claude-code-chat-stream/internal/db"
	"github.com/possibilities/claude-code-chat-stream/internal/persist"
	"github.com/possibilities/claude-code-chat-stream/internal/ui"
)

// app holds what the commands share: the layered settings and, once
// PersistentPreRunE has run, the resolved config.
type app struct {
	v          *viper.Viper
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}

	rootCmd := &cobra.Command{
		Use:   "chat-stream",
		Short: "Stream Claude Code transcripts for the current directory",
		Long: `Stream Claude Code chat transcripts as they are written.

chat-stream finds the transcript directory for the current working directory
(~/.claude/projects/<slug>), waits for it if it does not exist yet, and writes
every complete JSON line appended to its *.jsonl files to stdout. Files last
modified before chat-stream started are not replayed.

With --db, every line is also stored in a SQLite database. Several
chat-stream processes may share one database file.`,
		Args:              cobra.NoArgs,
		Version:           Version,
		PersistentPreRunE: a.load,
		RunE:              a.runDaemon,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/chat-stream/config.yaml)")
	flags.String("db", "", "SQLite database to store lines in (enables persistence)")
	flags.Bool("debug", false, "send a desktop notification for lines that never become valid JSON")
	flags.String("projects-root", "", "directory holding per-project transcript folders (default ~/.claude/projects)")
	flags.String("log-file", "", "write diagnostic logs to a size-rotated file instead of stderr")

	for key, name := range map[string]string{
		config.KeyDB:           "db",
		config.KeyDebug:        "debug",
		config.KeyProjectsRoot: "projects-root",
		config.KeyLogFile:      "log-file",
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(name))
	}

	rootCmd.AddCommand(a.statusCmd())
	rootCmd.AddCommand(a.configCmd())
	rootCmd.AddCommand(a.benchCmd())

	return rootCmd
}

// load resolves configuration once arguments have been validated. Errors
// after this point are runtime failures, so usage is no longer printed.
func (a *app) load(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	if err := config.ReadFile(a.v, a.configPath); err != nil {
		return err
	}
	cfg, err := config.Load(a.v)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg
	return nil
}

func (a *app) runDaemon(cmd *cobra.Command, args []string) error {
	cfg := a.cfg

	logOut, err := cfg.OpenLog()
	if err != nil {
		return err
	}
	defer logOut.Close()

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, unix.SIGTERM)
	defer stop()

	dconfig := daemon.DefaultConfig()
	dconfig.Debug = cfg.Debug
	dconfig.ReconcileWait = cfg.ReconcileWait
	dconfig.ReconcileInterval = cfg.ReconcileInterval
	dconfig.Logger = config.NewLogger(logOut, "daemon")

	var gw *persist.Gateway
	if cfg.PersistenceEnabled() {
		store, err := db.OpenWithOptions(cfg.DB, &db.Options{
			BusyTimeout: cfg.BusyTimeout,
			Logger:      config.NewLogger(logOut, "db"),
		})
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer store.Close()

		applied, err := store.InitSchemaContext(ctx)
		if err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
		if len(applied) > 0 {
			fmt.Fprintf(os.Stderr, "%s Applied %d migration(s) to %s\n", ui.RenderPass("✓"), len(applied), store.Path())
		}

		pconfig := persist.DefaultConfig()
		pconfig.MaxAttempts = cfg.PersistMaxAttempts
		pconfig.InitialBackoff = cfg.PersistInitialBackoff
		pconfig.MaxBackoff = cfg.PersistMaxBackoff
		pconfig.Logger = config.NewLogger(logOut, "persist")
		gw, err = persist.New(store, pconfig)
		if err != nil {
			return err
		}
		dconfig.Persister = gw
	}

	d, err := daemon.NewWithConfig(cfg.ProjectsRoot, cwd, dconfig)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	fmt.Fprintf(os.Stderr, "%s Streaming %s\n", ui.RenderAccent("▶"), d.ProjectDir())
	if gw != nil {
		fmt.Fprintf(os.Stderr, "   Database: %s\n", cfg.DB)
	}
	if cfg.Debug {
		fmt.Fprintf(os.Stderr, "   %s\n", ui.RenderMuted("Debug notifications enabled"))
	}
	fmt.Fprintf(os.Stderr, "   %s\n", ui.RenderMuted("Press Ctrl+C to stop"))

	if err := d.Run(ctx); err != nil {
		return err
	}

	stats := d.Stats()
	fmt.Fprintf(os.Stderr, "\n%s Stopped: %d lines from %d files", ui.RenderAccent("■"), stats.Emitted, stats.Files)
	if stats.Skipped > 0 {
		fmt.Fprintf(os.Stderr, ", %s", ui.RenderWarn(fmt.Sprintf("%d skipped", stats.Skipped)))
	}
	fmt.Fprintln(os.Stderr)
	if gw != nil {
		ps := gw.Stats()
		fmt.Fprintf(os.Stderr, "   Stored: %d, failed: %d, busy retries: %d\n", ps.Stored, ps.Failed, ps.Retries)
	}
	return nil
}
