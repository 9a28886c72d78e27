package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/possibilities/claude-code-chat-stream/internal/config"
	"github.com/possibilities/claude-code-chat-stream/internal/db"
	"github.com/possibilities/claude-code-chat-stream/internal/ui"
)

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show database status",
		Long: `Display the current status of the chat-stream database.

Shows:
  - Database file location and size
  - Number of stored lines
  - Applied schema migrations`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			path := a.cfg.DB
			if path == "" {
				return fmt.Errorf("no database configured: pass --db or set %s_DB", config.EnvPrefix)
			}

			// Check if the database exists
			info, err := os.Stat(path)
			if os.IsNotExist(err) {
				fmt.Fprintf(out, "\n%s Database not initialized\n", ui.RenderWarn("⚠"))
				fmt.Fprintf(out, "   Run 'chat-stream --db %s' to create it\n\n", path)
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to check database: %w", err)
			}

			store, err := db.OpenWithOptions(path, &db.Options{BusyTimeout: a.cfg.BusyTimeout})
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer store.Close()

			applied, err := store.AppliedMigrationsContext(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to read migrations: %w", err)
			}

			entries := "n/a (schema not initialized)"
			if len(applied) > 0 {
				count, err := store.GetEntryCountContext(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to count entries: %w", err)
				}
				entries = fmt.Sprintf("%d", count)
			}

			migrations := "none"
			if len(applied) > 0 {
				migrations = strings.Join(applied, ", ")
			}

			fmt.Fprintf(out, "\n%s chat-stream Database Status\n\n", ui.RenderAccent("📊"))
			fmt.Fprintf(out, "Location: %s\n", store.Path())
			fmt.Fprintf(out, "Size: %s\n", formatSize(info.Size()))
			fmt.Fprintf(out, "Entries: %s\n", entries)
			fmt.Fprintf(out, "Migrations: %s\n", migrations)
			fmt.Fprintf(out, "Modified: %s\n", info.ModTime().Format("2006-01-02 15:04:05"))
			fmt.Fprintln(out)
			return nil
		},
	}
}

func formatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}
