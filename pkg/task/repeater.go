// Package task provides a cancellable repeating task.
package task

import (
	"context"
	"sync"
	"time"
)

// Ticker is the part of *time.Ticker a Repeater needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates a Ticker firing every d.
type TickerFactory func(d time.Duration) Ticker

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// RealTicker is the default TickerFactory.
func RealTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// Repeater calls a function once right away and then on every tick until
// stopped. Calls never overlap: a slow call delays the next tick instead.
type Repeater struct {
	cancel context.CancelFunc
	stop   chan struct{}
	once   sync.Once
	done   chan struct{}
}

type Option func(*settings)

type settings struct {
	ticker TickerFactory
}

// WithTicker replaces the tick source.
func WithTicker(f TickerFactory) Option {
	return func(s *settings) {
		if f != nil {
			s.ticker = f
		}
	}
}

// Start runs fn immediately and then every interval. The context passed to
// fn is cancelled by Stop or when parent is done.
func Start(parent context.Context, interval time.Duration, fn func(context.Context), opts ...Option) *Repeater {
	s := settings{ticker: RealTicker}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	if interval <= 0 {
		interval = time.Second
	}
	ctx, cancel := context.WithCancel(parent)
	r := &Repeater{
		cancel: cancel,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go r.run(ctx, s.ticker(interval), fn)
	return r
}

func (r *Repeater) run(ctx context.Context, t Ticker, fn func(context.Context)) {
	defer close(r.done)
	defer t.Stop()
	if r.stopped(ctx) {
		return
	}
	fn(ctx)
	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		case <-t.C():
			if r.stopped(ctx) {
				return
			}
			fn(ctx)
		}
	}
}

func (r *Repeater) stopped(ctx context.Context) bool {
	select {
	case <-r.stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// Stop prevents further calls. It does not wait for a running call, so it is
// safe to call from inside fn. Calling Stop more than once is a no-op.
func (r *Repeater) Stop() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		close(r.stop)
		r.cancel()
	})
}

// Done is closed once the repeater goroutine has exited.
func (r *Repeater) Done() <-chan struct{} {
	return r.done
}
