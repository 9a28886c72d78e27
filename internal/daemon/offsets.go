package daemon

import "sync"

// Offsets tracks, per file, how many lines have already been handed to
// the emit path. Cursors only move forward.
type Offsets struct {
	mu      sync.Mutex
	cursors map[string]int
}

// NewOffsets returns an empty tracker.
func NewOffsets() *Offsets {
	return &Offsets{cursors: make(map[string]int)}
}

// Get returns the cursor for path, zero if the file has not been seen.
func (o *Offsets) Get(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cursors[path]
}

// Advance moves the cursor for path to n. A smaller n (the file was
// truncated or rewritten shorter) leaves the cursor where it is.
func (o *Offsets) Advance(path string, n int) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if n > o.cursors[path] {
		o.cursors[path] = n
	}
	return o.cursors[path]
}

// Len returns the number of tracked files.
func (o *Offsets) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.cursors)
}
