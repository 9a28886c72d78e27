package daemon

import (
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates a file or directory appeared (created or moved in).
	OpCreate EventOp = iota
	// OpModify indicates an existing file was written to.
	OpModify
	// OpDelete indicates a file was deleted or moved away.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// FileEvent is a change notification delivered to a subscriber.
type FileEvent struct {
	// Path is the path of the file or directory that changed.
	Path string
	// Op is the operation that occurred.
	Op EventOp
}

// Handler receives events for a subscribed path. Handlers run on the
// watcher's dispatch goroutine one at a time and must not block.
type Handler func(event FileEvent)

// Subscription is the cancellation token returned by Subscribe.
type Subscription struct {
	fw   *FileWatcher
	path string
	once sync.Once
}

// Path returns the subscribed path.
func (s *Subscription) Path() string {
	return s.path
}

// Cancel stops delivery and removes the underlying watch. Safe to call
// more than once and after the watcher has stopped.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.fw.unsubscribe(s.path)
	})
}

// FileWatcher multiplexes one fsnotify watcher across many subscribers.
//
// A subscribed path receives events naming it directly. A subscribed
// directory also receives events for its immediate children, so a
// directory subscriber sees files being created inside it.
type FileWatcher struct {
	watcher  *fsnotify.Watcher
	logger   *log.Logger
	done     chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	handlers map[string]Handler
}

// NewFileWatcher creates a new FileWatcher instance.
// The watcher must be started with Start() before it will dispatch events.
func NewFileWatcher(logger *log.Logger) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	return &FileWatcher{
		watcher:  watcher,
		logger:   logger,
		done:     make(chan struct{}),
		handlers: make(map[string]Handler),
	}, nil
}

// Start begins dispatching events to subscribers.
func (fw *FileWatcher) Start() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return fmt.Errorf("watcher already running")
	}

	fw.running = true
	fw.wg.Add(1)
	go fw.processEvents()

	return nil
}

// Stop closes the underlying watcher and waits for the dispatch goroutine
// to exit. Outstanding subscriptions become no-ops.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if !fw.running {
		fw.mu.Unlock()
		return fw.closeWatcher()
	}
	fw.running = false
	fw.handlers = make(map[string]Handler)
	fw.mu.Unlock()

	// Signal shutdown
	close(fw.done)

	// Close the underlying watcher (this will unblock the event loop)
	if err := fw.closeWatcher(); err != nil {
		return err
	}

	fw.wg.Wait()
	return nil
}

func (fw *FileWatcher) closeWatcher() error {
	if err := fw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// Subscribe watches path (non-recursively) and routes its events to h.
// A path may have at most one subscriber.
func (fw *FileWatcher) Subscribe(path string, h Handler) (*Subscription, error) {
	path = filepath.Clean(path)

	fw.mu.Lock()
	defer fw.mu.Unlock()

	if !fw.running {
		return nil, fmt.Errorf("watcher not running")
	}
	if _, ok := fw.handlers[path]; ok {
		return nil, fmt.Errorf("already subscribed to %s", path)
	}

	if err := fw.watcher.Add(path); err != nil {
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}
	fw.handlers[path] = h

	return &Subscription{fw: fw, path: path}, nil
}

func (fw *FileWatcher) unsubscribe(path string) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if _, ok := fw.handlers[path]; !ok {
		return
	}
	delete(fw.handlers, path)

	// The kernel drops watches on deleted files by itself, so a failed
	// Remove here is expected and harmless.
	_ = fw.watcher.Remove(path)
}

// IsRunning returns true if the watcher is currently running.
func (fw *FileWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}

// processEvents is the dispatch loop.
func (fw *FileWatcher) processEvents() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if fileEvent, ok := convertEvent(event); ok {
				fw.dispatch(fileEvent)
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Printf("Watcher error: %v", err)
		}
	}
}

// dispatch delivers an event to the subscriber of the path itself and to
// the subscriber of its parent directory. Handlers are looked up under the
// lock but called outside it, so a handler may Subscribe or Cancel.
func (fw *FileWatcher) dispatch(event FileEvent) {
	path := filepath.Clean(event.Path)
	dir := filepath.Dir(path)

	fw.mu.Lock()
	own := fw.handlers[path]
	var parent Handler
	if dir != path {
		parent = fw.handlers[dir]
	}
	fw.mu.Unlock()

	if own != nil {
		own(event)
	}
	if parent != nil {
		parent(event)
	}
}

// convertEvent converts an fsnotify event to a FileEvent.
// Returns (FileEvent{}, false) for events nobody acts on.
func convertEvent(event fsnotify.Event) (FileEvent, bool) {
	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove):
		op = OpDelete
	case event.Has(fsnotify.Rename):
		// Treat rename as delete (the new name will trigger a create)
		op = OpDelete
	default:
		// Ignore chmod
		return FileEvent{}, false
	}

	return FileEvent{Path: event.Name, Op: op}, true
}
