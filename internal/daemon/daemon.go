package daemon

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Mschirtzinger/taskboard/internal/config"
	"github.com/Mschirtzinger/taskboard/internal/dashboard"
	"github.com/Mschirtzinger/taskboard/internal/schema"
	tbsync "github.com/Mschirtzinger/taskboard/internal/sync"
)

// Session is the identity source the daemon follows.
type Session interface {
	tbsync.IdentitySource
	Reload(ctx context.Context) (*schema.User, error)
}

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long the session file must be quiet before
	// it is reloaded. This batches the write and rename of one sign-in.
	DebounceInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 100 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Options are the components a daemon runs.
type Options struct {
	Workspace   *tbsync.Workspace
	Session     Session
	SessionFile string

	// Server is optional. Without it nothing is published.
	Server *dashboard.Server

	// ConfigWatcher is optional. It must not be started yet.
	ConfigWatcher *config.Watcher
}

// Daemon follows the session and config files and keeps the workspace
// and dashboard in step with them.
type Daemon struct {
	opts    Options
	config  *Config
	handler *dashboard.Handler

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time
	changeQueueMu sync.Mutex
	stopFollow    func()

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopErr  error
}

// New creates a daemon. Use Start() to run it.
func New(opts Options, cfg *Config) (*Daemon, error) {
	if opts.Workspace == nil {
		return nil, fmt.Errorf("workspace cannot be nil")
	}
	if opts.Session == nil {
		return nil, fmt.Errorf("session cannot be nil")
	}
	if opts.SessionFile == "" {
		return nil, fmt.Errorf("session file cannot be empty")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = DefaultConfig().Logger
	}
	if cfg.DebounceInterval <= 0 {
		cfg.DebounceInterval = DefaultConfig().DebounceInterval
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		opts:        opts,
		config:      cfg,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}
	if opts.Server != nil {
		d.handler = dashboard.NewHandler(opts.Server, opts.Workspace, cfg.Logger)
	}
	return d, nil
}

// Start runs the daemon. It blocks until ctx is cancelled or Stop is
// called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if _, err := d.opts.Session.Reload(ctx); err != nil {
		d.config.Logger.Printf("Warning: failed to restore session: %v", err)
	}
	d.stopFollow = d.opts.Workspace.Follow(d.opts.Session)

	sessionDir := filepath.Dir(d.opts.SessionFile)
	if err := os.MkdirAll(sessionDir, 0755); err != nil {
		d.Stop()
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	if err := d.watcher.Add(sessionDir); err != nil {
		d.Stop()
		return fmt.Errorf("failed to watch session directory: %w", err)
	}

	if d.handler != nil {
		d.handler.Attach()
		if err := d.opts.Server.Start(); err != nil {
			d.Stop()
			return fmt.Errorf("failed to start dashboard: %w", err)
		}
	}

	if w := d.opts.ConfigWatcher; w != nil {
		if err := w.Start(); err != nil {
			d.config.Logger.Printf("Warning: config changes will not be followed: %v", err)
		} else {
			d.wg.Add(1)
			go d.watchConfig(w)
		}
	}

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.processChangeQueue()

	d.config.Logger.Printf("Watching session: %s", d.opts.SessionFile)

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return d.stopErr
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() {
		d.config.Logger.Println("Stopping daemon")
		d.cancel()

		if err := d.watcher.Close(); err != nil {
			d.config.Logger.Printf("Error closing watcher: %v", err)
		}
		if w := d.opts.ConfigWatcher; w != nil {
			if err := w.Stop(); err != nil {
				d.config.Logger.Printf("Error closing config watcher: %v", err)
			}
		}
		d.wg.Wait()

		if d.handler != nil {
			d.handler.Detach()
			if err := d.opts.Server.Stop(); err != nil {
				d.stopErr = err
			}
		}
		if d.stopFollow != nil {
			d.stopFollow()
		}
		d.opts.Workspace.Close()

		d.config.Logger.Println("Daemon stopped")
	})
	return d.stopErr
}

// watchFileEvents queues changes to the session file.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	target, _ := filepath.Abs(d.opts.SessionFile)
	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if abs, _ := filepath.Abs(event.Name); abs != target {
				continue
			}
			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange records a file change for debounced processing.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()
	d.changeQueue[path] = time.Now()
}

// processChangeQueue processes queued file changes with debouncing.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			if d.takeSettledChanges() > 0 {
				d.reloadSession()
			}
		}
	}
}

// takeSettledChanges removes and counts changes older than the debounce
// interval.
func (d *Daemon) takeSettledChanges() int {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	now := time.Now()
	n := 0
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		delete(d.changeQueue, path)
		n++
	}
	return n
}

func (d *Daemon) reloadSession() {
	user, err := d.opts.Session.Reload(d.ctx)
	if err != nil {
		d.config.Logger.Printf("Error reloading session: %v", err)
		return
	}
	if user == nil {
		d.config.Logger.Println("Session ended")
		return
	}
	d.config.Logger.Printf("Session is %s", user.Username)
}

// watchConfig applies reloaded polling intervals.
func (d *Daemon) watchConfig(w *config.Watcher) {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case cfg, ok := <-w.Changes():
			if !ok {
				return
			}
			d.opts.Workspace.SetIntervals(cfg.Sync.TeamRefreshInterval, cfg.Sync.InviteRefreshInterval)
			d.config.Logger.Printf("Config reloaded: team every %s, invites every %s",
				cfg.Sync.TeamRefreshInterval, cfg.Sync.InviteRefreshInterval)

		case err, ok := <-w.Errors():
			if !ok {
				return
			}
			d.config.Logger.Printf("Config error (keeping previous settings): %v", err)
		}
	}
}

// LogWriter returns the destination for daemon logs. With a file
// configured, output rotates by size and age; otherwise it is stderr and
// closing it does nothing.
func LogWriter(c config.LogConfig) io.WriteCloser {
	if c.File == "" {
		return nopCloser{os.Stderr}
	}
	return &lumberjack.Logger{
		Filename:   c.File,
		MaxSize:    c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAgeDays,
	}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
