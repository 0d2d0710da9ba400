package sync

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// RefreshFunc is the work a Poller schedules.
type RefreshFunc func(ctx context.Context) error

// Poller runs a refresh on a fixed interval. A tick that arrives while
// the previous run is still in flight is skipped, not queued.
type Poller struct {
	name    string
	refresh RefreshFunc
	logger  *log.Logger

	interval time.Duration
	reset    chan time.Duration
	trigger  chan struct{}

	busy    atomic.Bool
	runs    atomic.Int64
	skipped atomic.Int64

	mu      sync.Mutex
	started bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPoller creates a stopped poller. ctx is passed to every refresh
// and cancels in-flight runs on Stop.
func NewPoller(ctx context.Context, name string, interval time.Duration, refresh RefreshFunc, logger *log.Logger) *Poller {
	if logger == nil {
		logger = componentLogger(nil, name)
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Poller{
		name:     name,
		refresh:  refresh,
		logger:   logger,
		interval: interval,
		reset:    make(chan time.Duration, 1),
		trigger:  make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start runs the refresh immediately and then on every tick. Calling
// Start more than once, or after Stop, does nothing.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true

	p.wg.Add(1)
	go p.loop()
}

// Trigger requests a run now without waiting for the next tick.
func (p *Poller) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// SetInterval changes the tick interval. Non-positive values are
// ignored, and so are calls after Stop. The latest pending value wins.
func (p *Poller) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	select {
	case <-p.reset:
	default:
	}
	select {
	case p.reset <- d:
	default:
	}
}

// Runs returns how many refreshes were started.
func (p *Poller) Runs() int64 {
	return p.runs.Load()
}

// Skipped returns how many ticks were dropped because a run was in flight.
func (p *Poller) Skipped() int64 {
	return p.skipped.Load()
}

// Stop cancels the poller and waits for the loop and any in-flight run
// to return. It is safe to call more than once.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}

func (p *Poller) loop() {
	defer p.wg.Done()

	p.run()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return

		case d := <-p.reset:
			p.interval = d
			ticker.Reset(d)

		case <-ticker.C:
			p.run()

		case <-p.trigger:
			p.run()
		}
	}
}

// run starts a refresh unless one is in flight.
func (p *Poller) run() {
	if !p.busy.CompareAndSwap(false, true) {
		p.skipped.Add(1)
		p.logger.Printf("Skipping %s refresh: previous run still in flight", p.name)
		return
	}
	p.runs.Add(1)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.busy.Store(false)

		if err := p.refresh(p.ctx); err != nil && p.ctx.Err() == nil {
			p.logger.Printf("Error refreshing %s: %v", p.name, err)
		}
	}()
}
