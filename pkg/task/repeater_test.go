package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               { m.stopped.Store(true) }

func newManual() (*manualTicker, TickerFactory) {
	m := &manualTicker{ch: make(chan time.Time)}
	return m, func(time.Duration) Ticker { return m }
}

func waitDone(t *testing.T, r *Repeater) {
	t.Helper()
	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("repeater did not exit")
	}
}

func TestRunsImmediatelyThenPerTick(t *testing.T) {
	m, factory := newManual()
	calls := make(chan int, 10)
	var n atomic.Int32
	r := Start(context.Background(), time.Second, func(context.Context) {
		calls <- int(n.Add(1))
	}, WithTicker(factory))

	assert.Equal(t, 1, <-calls)
	m.ch <- time.Now()
	assert.Equal(t, 2, <-calls)
	m.ch <- time.Now()
	assert.Equal(t, 3, <-calls)

	r.Stop()
	r.Stop()
	waitDone(t, r)
	assert.True(t, m.stopped.Load())
	assert.Equal(t, int32(3), n.Load())
}

func TestStopFromInsideTick(t *testing.T) {
	m, factory := newManual()
	var r *Repeater
	ready := make(chan struct{})
	var n atomic.Int32
	r = Start(context.Background(), time.Second, func(ctx context.Context) {
		<-ready
		if n.Add(1) == 2 {
			r.Stop()
			assert.Error(t, ctx.Err())
		}
	}, WithTicker(factory))
	close(ready)

	m.ch <- time.Now()
	waitDone(t, r)
	assert.Equal(t, int32(2), n.Load())
}

func TestParentCancelStops(t *testing.T) {
	_, factory := newManual()
	ctx, cancel := context.WithCancel(context.Background())
	ran := make(chan struct{}, 1)
	r := Start(ctx, time.Second, func(context.Context) { ran <- struct{}{} }, WithTicker(factory))
	<-ran
	cancel()
	waitDone(t, r)
}

func TestRealTicker(t *testing.T) {
	var n atomic.Int32
	r := Start(context.Background(), 5*time.Millisecond, func(context.Context) { n.Add(1) })
	require.Eventually(t, func() bool { return n.Load() >= 3 }, 2*time.Second, time.Millisecond)
	r.Stop()
	waitDone(t, r)
}
