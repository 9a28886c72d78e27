// Package notify raises desktop notifications about lines that could not
// be ingested. It is an operator debugging aid and is off unless enabled.
package notify

import (
	"fmt"
	"time"

	"github.com/gen2brain/beeep"
)

// Diagnostic describes a line that never became valid JSON.
type Diagnostic struct {
	Slug   string        // project slug
	Cwd    string        // working directory of the ingester
	File   string        // source file name
	Line   int           // 1-based line number within the file
	Waited time.Duration // how long the reconciler waited
}

// Title is the notification headline.
func (d Diagnostic) Title() string {
	return fmt.Sprintf("chat-stream: skipped line in %s", d.Slug)
}

// Message is the notification body.
func (d Diagnostic) Message() string {
	return fmt.Sprintf("%s line %d was not valid JSON after %v\ncwd: %s",
		d.File, d.Line, d.Waited.Round(time.Millisecond), d.Cwd)
}

// Notifier delivers diagnostics somewhere an operator will see them.
type Notifier interface {
	Notify(d Diagnostic) error
}

// Func adapts a function to Notifier.
type Func func(d Diagnostic) error

// Notify calls f(d).
func (f Func) Notify(d Diagnostic) error { return f(d) }

// Desktop sends diagnostics as native desktop notifications.
type Desktop struct {
	// Icon is an optional path to an icon image.
	Icon string
}

// Notify implements Notifier.
func (n Desktop) Notify(d Diagnostic) error {
	if err := beeep.Notify(d.Title(), d.Message(), n.Icon); err != nil {
		return fmt.Errorf("failed to send desktop notification: %w", err)
	}
	return nil
}
