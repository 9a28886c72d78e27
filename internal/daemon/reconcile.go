package daemon

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/possibilities/claude-code-chat-stream/internal/retry"
	"github.com/tidwall/gjson"
)

// Default reconciliation timing: poll every 50ms for at most 150ms.
const (
	DefaultReconcileWait     = 150 * time.Millisecond
	DefaultReconcileInterval = 50 * time.Millisecond
)

var errIncompleteLine = errors.New("line is not valid JSON")

// splitLines returns the complete lines of content: newline-terminated,
// non-blank segments in file order. A trailing segment without its newline
// is held back until the writer finishes it.
func splitLines(content []byte) []string {
	s := string(content)
	end := strings.LastIndexByte(s, '\n')
	if end < 0 {
		return nil
	}

	segments := strings.Split(s[:end], "\n")
	lines := make([]string, 0, len(segments))
	for _, seg := range segments {
		if strings.TrimSpace(seg) == "" {
			continue
		}
		lines = append(lines, seg)
	}
	return lines
}

// readLines reads path and splits it with splitLines.
func readLines(path string) ([]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return splitLines(content), nil
}

// Reconciler confirms lines that may have been read while the writer was
// still flushing them.
type Reconciler struct {
	policy retry.Policy
}

// NewReconciler returns a Reconciler that re-reads the file every interval
// until wait has elapsed. A non-positive wait disables polling: invalid
// lines fail on first sight. A nil clock uses the real clock.
func NewReconciler(wait, interval time.Duration, clock retry.Clock) *Reconciler {
	if clock == nil {
		clock = retry.Real()
	}
	if interval <= 0 || interval > wait {
		interval = wait
	}
	maxAttempts := 0
	if wait <= 0 {
		maxAttempts = 1
	}
	return &Reconciler{
		policy: retry.Policy{
			MaxAttempts: maxAttempts,
			MaxWait:     wait,
			Delay:       retry.Constant(interval),
			Retryable: func(err error) bool {
				return errors.Is(err, errIncompleteLine)
			},
			Clock: clock,
		},
	}
}

// Confirmation is the outcome of reconciling one line.
type Confirmation struct {
	// Line is the latest observed text at the line's index.
	Line string
	// OK reports whether Line parses as a JSON value.
	OK bool
	// Waited is the total time spent polling.
	Waited time.Duration
}

// Confirm checks that line (found at index in path) is valid JSON. If it is
// not, the file is re-read on each poll and the text now at index replaces
// the candidate. The confirmed text is returned verbatim.
func (r *Reconciler) Confirm(ctx context.Context, path string, index int, line string) Confirmation {
	current := line
	res, err := retry.Do(ctx, r.policy, func(_ context.Context, attempt int) error {
		if attempt > 1 {
			if lines, err := readLines(path); err == nil && index < len(lines) {
				current = lines[index]
			}
		}
		if !gjson.Valid(current) {
			return errIncompleteLine
		}
		return nil
	})

	return Confirmation{Line: current, OK: err == nil, Waited: res.Waited}
}
