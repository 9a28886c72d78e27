// Package project maps a working directory to the log-project directory
// the writer keeps its JSON-lines transcripts in.
package project

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Extension is the suffix of files that are ingested.
const Extension = ".jsonl"

var slugReplacer = strings.NewReplacer("/", "-", ".", "-")

// Slug derives the project directory name for a working directory.
// Every "/" and "." becomes "-", so an absolute path keeps a leading "-":
//
//	/home/u/proj -> -home-u-proj
func Slug(cwd string) string {
	if strings.HasPrefix(cwd, "/") {
		return "-" + slugReplacer.Replace(cwd[1:])
	}
	return slugReplacer.Replace(cwd)
}

// Dir returns the project directory for cwd under root.
func Dir(root, cwd string) string {
	return filepath.Join(root, Slug(cwd))
}

// DefaultRoot returns ~/.claude/projects.
func DefaultRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".claude", "projects"), nil
}

// IsLogFile reports whether name looks like an ingestible transcript.
func IsLogFile(name string) bool {
	return strings.HasSuffix(name, Extension)
}
