package pipeline

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axionml/inferlink/errors"
	"github.com/axionml/inferlink/metric"
)

// collector records callback invocations in order.
type collector struct {
	mu   sync.Mutex
	tags []string
	docs []any
}

func (c *collector) callback(result any, tag string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tags = append(c.tags, tag)
	c.docs = append(c.docs, result)
}

func (c *collector) collected() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.tags...)
}

func newStreaming(t *testing.T, depth int, timeout time.Duration) (*Pipeline, *collector) {
	t.Helper()
	p := New(timeout)
	p.Reset(depth)
	c := &collector{}
	require.NoError(t, p.InstallCallback(c.callback))
	return p, c
}

func noSend() error { return nil }

func TestInOrderDelivery(t *testing.T) {
	p, c := newStreaming(t, 4, time.Second)

	const n = 10
	for i := 0; i < n; i++ {
		tag := fmt.Sprintf("%d", i)
		require.NoError(t, p.Submit(tag, noSend))
		p.HandleResult(map[string]any{"frame": i}, "")
	}

	// Exactly one callback per submission, in submission order.
	got := c.collected()
	require.Len(t, got, n)
	for i, tag := range got {
		assert.Equal(t, fmt.Sprintf("%d", i), tag)
	}
	assert.Equal(t, 0, p.Outstanding())
	assert.Empty(t, p.LastError())
}

func TestOutstandingNeverExceedsDepth(t *testing.T) {
	const depth = 2
	p, _ := newStreaming(t, depth, 2*time.Second)

	var maxSeen atomic.Int64
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 6; i++ {
			if !p.AwaitWork() {
				return
			}
			if n := int64(p.Outstanding()); n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(10 * time.Millisecond)
			p.HandleResult(map[string]any{}, "")
		}
	}()

	for i := 0; i < 6; i++ {
		require.NoError(t, p.Submit(fmt.Sprintf("%d", i), noSend))
		assert.LessOrEqual(t, p.Outstanding(), depth)
	}
	<-done
	assert.LessOrEqual(t, maxSeen.Load(), int64(depth))
}

func TestBackpressureBlocksUntilResult(t *testing.T) {
	p, c := newStreaming(t, 2, 5*time.Second)

	require.NoError(t, p.Submit("0", noSend))
	require.NoError(t, p.Submit("1", noSend))

	// The third submit must block until the first reply arrives.
	unblocked := make(chan struct{})
	go func() {
		require.NoError(t, p.Submit("2", noSend))
		close(unblocked)
	}()

	select {
	case <-unblocked:
		t.Fatal("submit did not block on a full window")
	case <-time.After(100 * time.Millisecond):
	}

	p.HandleResult(map[string]any{}, "")
	select {
	case <-unblocked:
	case <-time.After(time.Second):
		t.Fatal("submit did not wake after a result freed the window")
	}

	p.HandleResult(map[string]any{}, "")
	p.HandleResult(map[string]any{}, "")
	assert.Equal(t, []string{"0", "1", "2"}, c.collected())
}

func TestServerErrorIsStickyAndSuppressesLaterCallbacks(t *testing.T) {
	p, c := newStreaming(t, 4, time.Second)

	for i := 0; i < 4; i++ {
		require.NoError(t, p.Submit(fmt.Sprintf("%d", i), noSend))
	}

	p.HandleResult(map[string]any{}, "")
	p.HandleResult(map[string]any{"success": false, "msg": "boom"}, "boom")

	// Exactly one callback fired for the error frame.
	assert.Equal(t, []string{"0", "1"}, c.collected())
	assert.Equal(t, "boom", p.LastError())
	assert.Equal(t, 0, p.Outstanding())

	// Late arrivals for already-queued frames are dropped silently.
	p.HandleResult(map[string]any{"success": false, "msg": "late"}, "late")
	assert.Equal(t, []string{"0", "1"}, c.collected())
	assert.Equal(t, "boom", p.LastError())

	// Subsequent submissions become no-ops.
	require.NoError(t, p.Submit("9", func() error {
		t.Fatal("send must not run after a sticky error")
		return nil
	}))
	assert.Equal(t, 0, p.Outstanding())
}

func TestSubmitTimeoutOnFullQueue(t *testing.T) {
	p, _ := newStreaming(t, 1, 50*time.Millisecond)

	require.NoError(t, p.Submit("0", noSend))

	err := p.Submit("1", noSend)
	require.Error(t, err)
	assert.True(t, errors.IsTimeout(err))
	assert.Contains(t, p.LastError(), "timeout")
}

func TestAwaitDrainTimeoutSetsStickyError(t *testing.T) {
	p, _ := newStreaming(t, 1, 50*time.Millisecond)
	require.NoError(t, p.Submit("0", noSend))

	p.RequestStop()
	p.AwaitDrain()

	assert.Contains(t, p.LastError(), "timeout")
	assert.Equal(t, 0, p.Outstanding())
}

func TestFinishDrainsThenStops(t *testing.T) {
	p, c := newStreaming(t, 4, time.Second)
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Submit(fmt.Sprintf("%d", i), noSend))
	}

	go func() {
		for i := 0; i < 3; i++ {
			time.Sleep(10 * time.Millisecond)
			p.HandleResult(map[string]any{}, "")
		}
	}()

	p.RequestStop()
	p.AwaitDrain()

	assert.Equal(t, 0, p.Outstanding())
	assert.Empty(t, p.LastError())
	assert.Equal(t, []string{"0", "1", "2"}, c.collected())

	// Draining twice is a no-op.
	p.RequestStop()
	p.AwaitDrain()
	assert.Empty(t, p.LastError())
}

func TestSubmitRestartsAfterStop(t *testing.T) {
	p, c := newStreaming(t, 2, time.Second)

	require.NoError(t, p.Submit("a", noSend))
	p.HandleResult(map[string]any{}, "")
	p.RequestStop()
	p.AwaitDrain()

	// A new submission restarts the stopped pipeline.
	require.NoError(t, p.Submit("b", noSend))
	assert.Equal(t, 1, p.Outstanding())
	p.HandleResult(map[string]any{}, "")
	assert.Equal(t, []string{"a", "b"}, c.collected())
}

func TestAwaitWork(t *testing.T) {
	p, _ := newStreaming(t, 2, time.Second)

	ready := make(chan bool, 1)
	go func() { ready <- p.AwaitWork() }()

	select {
	case <-ready:
		t.Fatal("AwaitWork returned with no work and no stop")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, p.Submit("0", noSend))
	assert.True(t, <-ready)

	// After draining and stopping, the receiver is told to exit.
	p.HandleResult(map[string]any{}, "")
	p.RequestStop()
	assert.False(t, p.AwaitWork())
}

func TestAwaitWorkDrainsBeforeExit(t *testing.T) {
	p, _ := newStreaming(t, 2, time.Second)
	require.NoError(t, p.Submit("0", noSend))

	// Stop with work outstanding: the receiver must keep reading.
	p.RequestStop()
	assert.True(t, p.AwaitWork())

	p.HandleResult(map[string]any{}, "")
	assert.False(t, p.AwaitWork())
}

func TestInstallCallbackWhileOutstanding(t *testing.T) {
	p, _ := newStreaming(t, 2, time.Second)
	require.NoError(t, p.Submit("0", noSend))

	err := p.InstallCallback(nil)
	require.Error(t, err)
	assert.True(t, errors.IsIncorrectAPIUse(err))

	p.HandleResult(map[string]any{}, "")
	assert.NoError(t, p.InstallCallback(nil))
}

func TestSubmitWithoutCallback(t *testing.T) {
	p := New(time.Second)
	p.Reset(2)

	err := p.Submit("0", noSend)
	require.Error(t, err)
	assert.True(t, errors.IsIncorrectAPIUse(err))
}

func TestCallbackPanicIsSwallowed(t *testing.T) {
	p := New(time.Second)
	p.Reset(2)
	require.NoError(t, p.InstallCallback(func(any, string) {
		panic("hostile callback")
	}))

	require.NoError(t, p.Submit("0", noSend))
	assert.NotPanics(t, func() { p.HandleResult(map[string]any{}, "") })
	assert.Equal(t, 0, p.Outstanding())
	assert.Empty(t, p.LastError())
}

func TestSendFailureFailsPipeline(t *testing.T) {
	p, _ := newStreaming(t, 2, time.Second)

	err := p.Submit("0", func() error {
		return errors.New(errors.KindOperationFailed, "broken pipe")
	})
	require.Error(t, err)
	assert.Equal(t, "broken pipe", p.LastError())
	assert.Equal(t, 0, p.Outstanding())
}

func TestResetClearsStickyError(t *testing.T) {
	p, _ := newStreaming(t, 2, time.Second)
	require.NoError(t, p.Submit("0", noSend))
	p.HandleResult(map[string]any{}, "boom")
	assert.Equal(t, "boom", p.LastError())

	p.Reset(4)
	assert.Empty(t, p.LastError())
	assert.Equal(t, 0, p.Outstanding())

	require.NoError(t, p.Submit("1", noSend))
	assert.Equal(t, 1, p.Outstanding())
}

func TestMetricsHookups(t *testing.T) {
	_, m := metric.NewRegistry()
	p := New(time.Second, WithMetrics(m))
	p.Reset(2)
	require.NoError(t, p.InstallCallback(func(any, string) {}))

	require.NoError(t, p.Submit("0", noSend))
	p.HandleResult(map[string]any{}, "")
	// No assertion beyond not panicking with metrics attached; counter
	// values are covered in the metric package tests.
}
