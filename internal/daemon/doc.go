// Package daemon discovers a project's JSON-lines transcripts and streams
// every complete line to an output, optionally persisting each one.
//
// # Architecture
//
// The daemon consists of several components:
//
//   - FileWatcher: one fsnotify watcher shared through Subscribe(path, handler)
//   - Daemon: finds the project directory and hands log files to tailers
//   - tailer: one goroutine per file, re-reading it whenever it changes
//   - Reconciler: waits briefly for lines read mid-write to become valid JSON
//   - Offsets: per-file count of lines already emitted
//
// # Discovery
//
// The project directory is derived from the working directory (see package
// project). If it exists, it is watched for new *.jsonl files and scanned
// once; files last modified before the daemon started are left alone. If it
// does not exist yet, the projects root is watched until it appears:
//
//	d, err := daemon.New(root, cwd)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := d.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Tailing
//
// Each pass reads the whole file and splits it on newlines. Only
// newline-terminated, non-blank lines count; a partial last line is held
// back until its newline is written. Lines past the file's cursor are
// confirmed, written to the output, persisted, and the cursor moves to the
// new line count. A line that is still invalid after the reconcile wait is
// skipped for good.
//
// Change events for one file are coalesced: while a pass runs, any number
// of events schedule at most one more pass.
//
// # Thread Safety
//
// Each file is processed by exactly one goroutine, so lines of one file
// are emitted in file order. Lines of different files interleave in the
// order their writes are observed. Offsets and the output writer are
// guarded by mutexes; handlers run on the FileWatcher's dispatch goroutine.
//
// # Graceful Shutdown
//
// Cancelling the context passed to Run:
//  1. Cancels every directory and file subscription
//  2. Closes the underlying fsnotify watcher
//  3. Abandons any reconcile wait or persistence backoff in progress
//  4. Waits for all tailer goroutines to exit
package daemon
