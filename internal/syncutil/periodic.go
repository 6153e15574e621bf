package syncutil

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Periodic calls a function on a fixed interval until stopped. A panic or
// error in one call is logged and does not end the loop.
type Periodic struct {
	name      string
	interval  time.Duration
	fn        func(context.Context) error
	logger    *slog.Logger
	immediate bool

	stop     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
}

// NewPeriodic creates a loop named name (used in log lines).
func NewPeriodic(name string, interval time.Duration, logger *slog.Logger, fn func(context.Context) error) *Periodic {
	return &Periodic{
		name:     name,
		interval: interval,
		fn:       fn,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// RunImmediately makes Start call fn once before the first tick.
func (p *Periodic) RunImmediately() *Periodic {
	p.immediate = true
	return p
}

// Running reports whether the loop is active.
func (p *Periodic) Running() bool {
	return p.running.Load()
}

// Start blocks until ctx is done or Stop is called. Call in a goroutine.
func (p *Periodic) Start(ctx context.Context) {
	p.running.Store(true)
	defer p.running.Store(false)

	if p.immediate {
		p.safeCall(ctx)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			p.safeCall(ctx)
		}
	}
}

// Stop ends the loop. It is safe to call more than once, before or after Start.
func (p *Periodic) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *Periodic) safeCall(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic in periodic task", "task", p.name, "panic", fmt.Sprint(r))
		}
	}()

	if err := p.fn(ctx); err != nil {
		p.logger.Warn("periodic task failed", "task", p.name, "error", err)
	}
}
