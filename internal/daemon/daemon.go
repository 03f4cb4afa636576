package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// Reason says why a run was started.
type Reason string

const (
	ReasonStartup  Reason = "startup"
	ReasonInterval Reason = "interval"
	ReasonTrigger  Reason = "trigger"
	ReasonManual   Reason = "manual"
)

// RunFunc performs one sync run.
type RunFunc func(ctx context.Context, reason Reason) error

// Config holds configuration for the daemon.
type Config struct {
	// Interval between scheduled runs. Zero disables the schedule.
	Interval time.Duration

	// RunOnStart starts a run as soon as the daemon starts.
	RunOnStart bool

	// TriggerFiles start a run when created or written.
	TriggerFiles []string

	// DebounceInterval is how long trigger-file events must be quiet
	// before a run starts. This batches rapid updates together.
	DebounceInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval:         15 * time.Minute,
		RunOnStart:       true,
		DebounceInterval: 500 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Status is a snapshot of the daemon's state.
type Status struct {
	Running    bool      `json:"running"` // a run is in progress
	Runs       int       `json:"runs"`
	Failures   int       `json:"failures"`
	LastStart  time.Time `json:"last_start,omitempty"`
	LastEnd    time.Time `json:"last_end,omitempty"`
	LastReason Reason    `json:"last_reason,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	NextRun    time.Time `json:"next_run,omitempty"`
}

// Daemon schedules sync runs.
type Daemon struct {
	run     RunFunc
	config  *Config
	watcher *FileWatcher

	// requests holds at most one pending run; further requests coalesce.
	requests chan Reason

	mu     sync.Mutex
	status Status

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon with default configuration.
func New(run RunFunc) (*Daemon, error) {
	return NewWithConfig(run, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(run RunFunc, config *Config) (*Daemon, error) {
	if run == nil {
		return nil, fmt.Errorf("run cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}

	var watcher *FileWatcher
	if len(config.TriggerFiles) > 0 {
		w, err := NewFileWatcher()
		if err != nil {
			return nil, err
		}
		watcher = w
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		run:      run,
		config:   config,
		watcher:  watcher,
		requests: make(chan Reason, 1),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon will:
// 1. Start watching the trigger files
// 2. Request a startup run when configured
// 3. Run on every interval tick, trigger-file event and Trigger call
//
// This blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if d.watcher != nil {
		if err := d.watcher.Start(d.config.TriggerFiles...); err != nil {
			return fmt.Errorf("failed to watch trigger files: %w", err)
		}
		d.config.Logger.Printf("Watching: %v", d.config.TriggerFiles)
		d.wg.Add(1)
		go d.watchTriggers()
	}

	if d.config.RunOnStart {
		d.Trigger(ReasonStartup)
	}

	d.wg.Add(1)
	go d.runLoop()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon. A run in progress is cancelled.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			d.config.Logger.Printf("Error closing watcher: %v", err)
		}
	}

	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// Trigger requests a run. It never blocks; when a run is already pending
// the request is merged into it.
func (d *Daemon) Trigger(reason Reason) {
	select {
	case d.requests <- reason:
	default:
	}
}

// Status returns a copy of the current state.
func (d *Daemon) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// runLoop executes requested and scheduled runs one at a time.
func (d *Daemon) runLoop() {
	defer d.wg.Done()

	var tick <-chan time.Time
	if d.config.Interval > 0 {
		ticker := time.NewTicker(d.config.Interval)
		defer ticker.Stop()
		tick = ticker.C
		d.setNextRun(time.Now().Add(d.config.Interval))
	}

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-tick:
			d.setNextRun(time.Now().Add(d.config.Interval))
			d.execute(ReasonInterval)

		case reason := <-d.requests:
			d.execute(reason)
		}
	}
}

func (d *Daemon) execute(reason Reason) {
	start := time.Now()
	d.mu.Lock()
	d.status.Running = true
	d.status.LastStart = start
	d.status.LastReason = reason
	d.mu.Unlock()

	d.config.Logger.Printf("Sync started (%s)", reason)
	err := d.run(d.ctx, reason)

	d.mu.Lock()
	d.status.Running = false
	d.status.Runs++
	d.status.LastEnd = time.Now()
	d.status.LastError = ""
	if err != nil {
		d.status.Failures++
		d.status.LastError = err.Error()
	}
	d.mu.Unlock()

	switch {
	case err == nil:
		d.config.Logger.Printf("Sync finished in %s", time.Since(start).Round(time.Millisecond))
	case errors.Is(err, context.Canceled) && d.ctx.Err() != nil:
		d.config.Logger.Println("Sync cancelled by shutdown")
	default:
		d.config.Logger.Printf("Sync failed: %v", err)
	}
}

// watchTriggers turns trigger-file events into debounced run requests.
func (d *Daemon) watchTriggers() {
	defer d.wg.Done()

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			if event.Op == OpDelete {
				continue
			}
			d.config.Logger.Printf("File event: %s %s", event.Op, event.Path)
			if timer == nil {
				timer = time.NewTimer(d.config.DebounceInterval)
			} else {
				timer.Reset(d.config.DebounceInterval)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			d.Trigger(ReasonTrigger)

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (d *Daemon) setNextRun(t time.Time) {
	d.mu.Lock()
	d.status.NextRun = t
	d.mu.Unlock()
}
