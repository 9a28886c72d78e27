// Command chat-stream tails the Claude Code transcripts of the current
// working directory and writes every new JSON line to stdout, optionally
// recording each one in a SQLite database.
package main

import (
	"os"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
