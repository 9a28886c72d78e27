package daemon

import (
	"context"
	"path/filepath"

	"github.com/possibilities/claude-code-chat-stream/internal/notify"
)

// tailer owns the read-and-emit lifecycle of one log file. All passes for
// a file run on the tailer's goroutine, so they never overlap.
type tailer struct {
	d    *Daemon
	path string
	sub  *Subscription
	kick chan struct{}
	done chan struct{}
}

func newTailer(d *Daemon, path string) *tailer {
	return &tailer{
		d:    d,
		path: path,
		kick: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// handle receives change events for the file.
func (t *tailer) handle(event FileEvent) {
	if event.Op == OpCreate || event.Op == OpModify {
		t.wake()
	}
}

// wake requests another pass. Requests made while one is already pending
// are merged into it.
func (t *tailer) wake() {
	select {
	case t.kick <- struct{}{}:
	default:
	}
}

func (t *tailer) run(ctx context.Context) {
	defer close(t.done)

	t.pass(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.kick:
			t.pass(ctx)
		}
	}
}

// pass emits every complete line past the cursor, then moves the cursor to
// the line count observed at the start of the pass.
func (t *tailer) pass(ctx context.Context) {
	d := t.d
	lines, err := readLines(t.path)
	if err != nil {
		if d.config.Debug {
			d.logger.Printf("Cannot read %s: %v", t.path, err)
		}
		return
	}

	for i := d.offsets.Get(t.path); i < len(lines); i++ {
		c := d.reconciler.Confirm(ctx, t.path, i, lines[i])
		if ctx.Err() != nil {
			return
		}
		if !c.OK {
			t.skip(i, c)
			continue
		}

		d.emit(c.Line)
		if d.config.Persister != nil {
			// Failures are logged by the persister; the line is not retried.
			_ = d.config.Persister.Persist(ctx, c.Line, d.workingDir, t.path)
		}
	}

	d.offsets.Advance(t.path, len(lines))
}

func (t *tailer) skip(index int, c Confirmation) {
	d := t.d
	d.logger.Printf("Skipping line %d of %s: not valid JSON after %v", index+1, t.path, c.Waited)
	d.skipped.Add(1)

	if !d.config.Debug || d.config.Notifier == nil {
		return
	}
	err := d.config.Notifier.Notify(notify.Diagnostic{
		Slug:   d.slug,
		Cwd:    d.workingDir,
		File:   filepath.Base(t.path),
		Line:   index + 1,
		Waited: c.Waited,
	})
	if err != nil {
		d.logger.Printf("Warning: %v", err)
	}
}
