package daemon

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/possibilities/claude-code-chat-stream/internal/notify"
	"github.com/possibilities/claude-code-chat-stream/internal/persist"
	"github.com/possibilities/claude-code-chat-stream/internal/project"
	"github.com/possibilities/claude-code-chat-stream/internal/retry"
)

// Config holds configuration for the daemon.
type Config struct {
	// StartTime is the cutoff for the startup scan: files last modified
	// before it are history and are not ingested. Zero means time.Now()
	// at construction.
	StartTime time.Time

	// Output receives one line per confirmed input line. Defaults to stdout.
	Output io.Writer

	// Persister stores confirmed lines. Nil disables persistence.
	Persister persist.Persister

	// Debug enables diagnostic notifications and per-read error logging.
	Debug bool

	// Notifier receives diagnostics for lines that never became valid
	// JSON. Only used when Debug is set.
	Notifier notify.Notifier

	// ReconcileWait bounds how long an invalid line is polled for. Zero
	// disables polling.
	ReconcileWait time.Duration

	// ReconcileInterval is the delay between re-reads while reconciling.
	ReconcileInterval time.Duration

	// Clock drives reconciliation waits. Defaults to the real clock.
	Clock retry.Clock

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Output:            os.Stdout,
		Notifier:          notify.Desktop{},
		ReconcileWait:     DefaultReconcileWait,
		ReconcileInterval: DefaultReconcileInterval,
		Logger:            log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Stats is a snapshot of daemon activity.
type Stats struct {
	Files   int   // files being tailed
	Emitted int64 // lines written to the output
	Skipped int64 // lines that never became valid JSON
}

// Daemon discovers the project's log files and tails each of them.
type Daemon struct {
	projectsRoot string
	workingDir   string
	slug         string
	projectDir   string
	config       *Config
	logger       *log.Logger

	offsets    *Offsets
	reconciler *Reconciler
	watcher    *FileWatcher
	readDir    func(string) ([]os.DirEntry, error)

	outMu sync.Mutex
	out   io.Writer

	mu        sync.Mutex
	ctx       context.Context
	activated bool
	dirSub    *Subscription
	parentSub *Subscription
	tailers   map[string]*tailer
	wg        sync.WaitGroup

	emitted atomic.Int64
	skipped atomic.Int64
}

// New creates a daemon for the project of workingDir under projectsRoot.
func New(projectsRoot, workingDir string) (*Daemon, error) {
	return NewWithConfig(projectsRoot, workingDir, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
//
// Zero-valued fields of config fall back to DefaultConfig, except
// Persister and Notifier, which stay disabled when nil, and ReconcileWait,
// where zero skips an invalid line without polling.
func NewWithConfig(projectsRoot, workingDir string, config *Config) (*Daemon, error) {
	if projectsRoot == "" {
		return nil, fmt.Errorf("projectsRoot cannot be empty")
	}
	if workingDir == "" {
		return nil, fmt.Errorf("workingDir cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}

	root, err := filepath.Abs(projectsRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve projects root: %w", err)
	}
	cwd, err := filepath.Abs(workingDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve working directory: %w", err)
	}

	cfg := *config
	defaults := DefaultConfig()
	if cfg.StartTime.IsZero() {
		cfg.StartTime = time.Now()
	}
	if cfg.Output == nil {
		cfg.Output = defaults.Output
	}
	if cfg.ReconcileWait < 0 {
		return nil, fmt.Errorf("reconcile wait cannot be negative")
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = defaults.ReconcileInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = defaults.Logger
	}

	watcher, err := NewFileWatcher(cfg.Logger)
	if err != nil {
		return nil, err
	}

	return &Daemon{
		projectsRoot: root,
		workingDir:   cwd,
		slug:         project.Slug(cwd),
		projectDir:   project.Dir(root, cwd),
		config:       &cfg,
		logger:       cfg.Logger,
		offsets:      NewOffsets(),
		reconciler:   NewReconciler(cfg.ReconcileWait, cfg.ReconcileInterval, cfg.Clock),
		watcher:      watcher,
		readDir:      os.ReadDir,
		out:          cfg.Output,
		tailers:      make(map[string]*tailer),
	}, nil
}

// Slug returns the project slug derived from the working directory.
func (d *Daemon) Slug() string { return d.slug }

// ProjectDir returns the directory whose log files are ingested.
func (d *Daemon) ProjectDir() string { return d.projectDir }

// Offsets returns the cursor tracker shared by all tailers.
func (d *Daemon) Offsets() *Offsets { return d.offsets }

// Run watches for log files until ctx is cancelled.
//
// If the project directory exists it is scanned and watched right away.
// Otherwise the projects root is watched until the directory appears.
// Run returns an error only when watching cannot begin at all. A Daemon
// runs once.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := d.watcher.Start(); err != nil {
		return err
	}

	d.mu.Lock()
	d.ctx = ctx
	d.mu.Unlock()

	if isDir(d.projectDir) {
		d.activate()
	} else {
		d.logger.Printf("Waiting for project directory %s", d.projectDir)
		sub, err := d.watcher.Subscribe(d.projectsRoot, d.handleRootEvent)
		if err != nil {
			d.shutdown()
			return fmt.Errorf("failed to watch projects root: %w", err)
		}
		d.mu.Lock()
		d.parentSub = sub
		d.mu.Unlock()

		// The directory may have appeared before the watch was in place.
		if isDir(d.projectDir) {
			sub.Cancel()
			d.activate()
		}
	}

	<-ctx.Done()
	d.shutdown()
	return nil
}

// handleRootEvent waits for the project directory to be created.
func (d *Daemon) handleRootEvent(event FileEvent) {
	if event.Op != OpCreate || filepath.Base(event.Path) != d.slug {
		return
	}
	if !isDir(event.Path) {
		return
	}

	d.mu.Lock()
	sub := d.parentSub
	d.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
	d.activate()
}

// activate starts watching and scanning the project directory. Only the
// first call has any effect.
func (d *Daemon) activate() {
	d.mu.Lock()
	if d.activated {
		d.mu.Unlock()
		return
	}
	d.activated = true
	d.mu.Unlock()

	d.logger.Printf("Watching %s", d.projectDir)

	sub, err := d.watcher.Subscribe(d.projectDir, d.handleProjectEvent)
	if err != nil {
		d.logger.Printf("Warning: %v", err)
	} else {
		d.mu.Lock()
		d.dirSub = sub
		d.mu.Unlock()
	}

	d.scan()
}

// scan hands every log file modified since start to Tail. Errors degrade
// to finding nothing.
func (d *Daemon) scan() {
	entries, err := d.readDir(d.projectDir)
	if err != nil {
		d.logger.Printf("Warning: failed to list %s: %v", d.projectDir, err)
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || !project.IsLogFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().Before(d.config.StartTime) {
			continue
		}
		d.Tail(filepath.Join(d.projectDir, entry.Name()))
	}
}

// handleProjectEvent tails log files created in the project directory.
func (d *Daemon) handleProjectEvent(event FileEvent) {
	if event.Op != OpCreate {
		return
	}
	if filepath.Dir(event.Path) != d.projectDir || !project.IsLogFile(event.Path) {
		return
	}
	d.Tail(event.Path)
}

// Tail starts tailing path. Calling it again for a path that is already
// tailed does nothing, as does calling it outside Run.
func (d *Daemon) Tail(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ctx == nil || d.ctx.Err() != nil {
		return
	}
	if _, ok := d.tailers[path]; ok {
		return
	}

	t := newTailer(d, path)
	sub, err := d.watcher.Subscribe(path, t.handle)
	if err != nil {
		// Most likely the file vanished between discovery and now.
		d.logger.Printf("Warning: %v", err)
		return
	}
	t.sub = sub
	d.tailers[path] = t

	d.logger.Printf("Tailing %s", filepath.Base(path))

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		t.run(d.ctx)
	}()
}

// TrackedFiles returns the paths being tailed, sorted.
func (d *Daemon) TrackedFiles() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	paths := make([]string, 0, len(d.tailers))
	for path := range d.tailers {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Stats returns a snapshot of daemon activity.
func (d *Daemon) Stats() Stats {
	d.mu.Lock()
	files := len(d.tailers)
	d.mu.Unlock()

	return Stats{
		Files:   files,
		Emitted: d.emitted.Load(),
		Skipped: d.skipped.Load(),
	}
}

// emit writes one line to the output. Lines from different files never
// interleave within a line.
func (d *Daemon) emit(line string) {
	d.outMu.Lock()
	defer d.outMu.Unlock()

	if _, err := io.WriteString(d.out, line+"\n"); err != nil {
		d.logger.Printf("Warning: failed to write line: %v", err)
		return
	}
	d.emitted.Add(1)
}

// shutdown cancels every subscription and waits for the tailers to exit.
// The caller must have cancelled the context handed to the tailers.
func (d *Daemon) shutdown() {
	d.mu.Lock()
	subs := make([]*Subscription, 0, len(d.tailers)+2)
	if d.parentSub != nil {
		subs = append(subs, d.parentSub)
	}
	if d.dirSub != nil {
		subs = append(subs, d.dirSub)
	}
	for _, t := range d.tailers {
		subs = append(subs, t.sub)
	}
	d.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
	if err := d.watcher.Stop(); err != nil {
		d.logger.Printf("Error closing watcher: %v", err)
	}

	d.wg.Wait()
	d.logger.Println("Daemon stopped")
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
