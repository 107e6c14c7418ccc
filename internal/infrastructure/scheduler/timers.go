// Package scheduler runs the per-session timer pair: the one-second
// estimation tick and the ten-second auto-save interval. Timers belong to
// exactly one lesson view and never outlive it.
package scheduler

import (
	"log/slog"
	"sync"
	"time"

	"github.com/afritech-bridge/progress-engine/internal/application/tracking"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIG
// ══════════════════════════════════════════════════════════════════════════════

// Config contains timer intervals.
type Config struct {
	// TickInterval is the estimation cadence (default 1 s).
	TickInterval time.Duration

	// SaveInterval is the auto-save cadence (default 10 s).
	SaveInterval time.Duration

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultConfig returns the production cadence.
func DefaultConfig() Config {
	return Config{
		TickInterval: time.Second,
		SaveInterval: 10 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// FACTORY
// ══════════════════════════════════════════════════════════════════════════════

// Factory starts timer pairs for sessions. Implements tracking.TimerFactory.
type Factory struct {
	cfg Config
	log *slog.Logger

	mu    sync.Mutex
	pairs map[*TimerPair]struct{}
	wg    sync.WaitGroup
}

// NewFactory creates a timer factory.
func NewFactory(cfg Config) *Factory {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.SaveInterval <= 0 {
		cfg.SaveInterval = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Factory{
		cfg:   cfg,
		log:   cfg.Logger,
		pairs: make(map[*TimerPair]struct{}),
	}
}

// Start implements tracking.TimerFactory.
func (f *Factory) Start(tick func(), autosave func()) tracking.TimerHandle {
	p := &TimerPair{
		tickInterval: f.cfg.TickInterval,
		saveInterval: f.cfg.SaveInterval,
		tick:         tick,
		autosave:     autosave,
		stopCh:       make(chan struct{}),
		onStop:       f.release,
	}

	f.mu.Lock()
	f.pairs[p] = struct{}{}
	f.mu.Unlock()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		p.run()
	}()

	return p
}

// release removes a stopped pair from the registry.
func (f *Factory) release(p *TimerPair) {
	f.mu.Lock()
	delete(f.pairs, p)
	f.mu.Unlock()
}

// StopAll stops every running pair and waits for the loops to exit.
// Used on service shutdown.
func (f *Factory) StopAll() {
	f.mu.Lock()
	pairs := make([]*TimerPair, 0, len(f.pairs))
	for p := range f.pairs {
		pairs = append(pairs, p)
	}
	f.mu.Unlock()

	for _, p := range pairs {
		p.Stop()
	}
	f.wg.Wait()
	f.log.Info("session timers stopped", "count", len(pairs))
}

// Active returns the number of running pairs.
func (f *Factory) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pairs)
}

// ══════════════════════════════════════════════════════════════════════════════
// TIMER PAIR
// ══════════════════════════════════════════════════════════════════════════════

// TimerPair drives one session's tick and auto-save callbacks from a single
// goroutine, so a slow save can never overlap a tick of the same session.
type TimerPair struct {
	tickInterval time.Duration
	saveInterval time.Duration
	tick         func()
	autosave     func()
	onStop       func(*TimerPair)

	mu        sync.Mutex
	suspended bool
	stopped   bool
	stopCh    chan struct{}
}

// run is the timer loop.
func (p *TimerPair) run() {
	tickTicker := time.NewTicker(p.tickInterval)
	defer tickTicker.Stop()
	saveTicker := time.NewTicker(p.saveInterval)
	defer saveTicker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-tickTicker.C:
			if !p.isSuspended() {
				p.tick()
			}
		case <-saveTicker.C:
			if !p.isSuspended() {
				p.autosave()
			}
		}
	}
}

// Suspend pauses both timers. The loop keeps running; fires are skipped.
func (p *TimerPair) Suspend() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.suspended = true
}

// Resume restarts suspended timers.
func (p *TimerPair) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.suspended = false
}

// Stop tears the pair down. Idempotent.
func (p *TimerPair) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.stopCh)
	p.mu.Unlock()

	if p.onStop != nil {
		p.onStop(p)
	}
}

func (p *TimerPair) isSuspended() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.suspended
}
