// Package pipeline implements the bounded-window submit/receive engine
// shared by both client transports. One producer submits frame tags and
// sends frame bytes; one receiver dispatches results to the user callback
// in submission order. The window is bounded by the frame queue depth,
// waits are bounded by the inference timeout, and the first streaming
// error is sticky until the stream is re-opened.
package pipeline

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/axionml/inferlink/errors"
	"github.com/axionml/inferlink/metric"
)

// Callback receives one result document and the frame tag supplied with
// the corresponding submission. It runs on the receiver goroutine without
// the pipeline lock held.
type Callback func(result any, tag string)

// pendingFrame is one outstanding submission awaiting its result.
type pendingFrame struct {
	tag         string
	submittedAt time.Time
}

// Pipeline is the per-stream submit/receive state machine. All state is
// guarded by one mutex with a single condition variable notified on every
// pending-queue change and on stop requests.
type Pipeline struct {
	mu   sync.Mutex
	cond *sync.Cond

	pending  []pendingFrame
	callback Callback
	lastErr  string
	stop     bool
	depth    int

	inferenceTimeout time.Duration
	metrics          *metric.Metrics
	logger           *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics attaches Prometheus instrumentation to the pipeline.
func WithMetrics(m *metric.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger sets the logger used for dispatch diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New creates a pipeline with the given inference timeout budget. The
// queue depth is fixed later by Reset when a stream is opened.
func New(inferenceTimeout time.Duration, opts ...Option) *Pipeline {
	p := &Pipeline{
		inferenceTimeout: inferenceTimeout,
		logger:           slog.Default(),
	}
	p.cond = sync.NewCond(&p.mu)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Reset prepares the pipeline for a new stream: the pending queue is
// emptied, the sticky error is cleared, and the queue depth is fixed.
// This is the only operation that clears a sticky error.
func (p *Pipeline) Reset(depth int) {
	p.mu.Lock()
	p.pending = nil
	p.lastErr = ""
	p.stop = false
	p.depth = depth
	p.mu.Unlock()
	p.metrics.SetOutstanding(0)
	p.cond.Broadcast()
}

// InstallCallback installs or removes the result observation callback.
// The callback can only be changed while the receiver is quiescent, i.e.
// no results are outstanding.
func (p *Pipeline) InstallCallback(cb Callback) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) > 0 {
		return errors.New(errors.KindIncorrectAPIUse,
			"cannot change observation callback while results are outstanding")
	}
	p.callback = cb
	return nil
}

// HasCallback reports whether a result callback is installed.
func (p *Pipeline) HasCallback() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.callback != nil
}

// Submit registers one frame tag and, once the outstanding window has
// space, invokes send to write the frame bytes. The send runs outside the
// pipeline lock so the receiver is never blocked by socket I/O.
//
// After a sticky error the frame is silently dropped: streaming errors
// are reported through the first error callback and LastError, not
// through Submit.
func (p *Pipeline) Submit(tag string, send func() error) error {
	p.mu.Lock()

	if p.stop && p.lastErr != "" {
		p.mu.Unlock()
		return nil
	}
	// A stopped pipeline with no error means the previous batch was
	// finalized; a new submission restarts it.
	p.stop = false

	if p.callback == nil {
		p.mu.Unlock()
		return errors.New(errors.KindIncorrectAPIUse, "observation callback is not installed")
	}

	if len(p.pending) >= p.depth {
		if !p.waitLocked(func() bool { return len(p.pending) < p.depth || p.stop }) {
			msg := fmt.Sprintf("timeout %v waiting for space in frame queue (queue depth is %d)",
				p.inferenceTimeout, p.depth)
			p.failLocked(msg)
			p.mu.Unlock()
			p.cond.Broadcast()
			return errors.New(errors.KindTimeout, msg)
		}
	}

	// The error may have appeared while waiting for queue space.
	if p.stop && p.lastErr != "" {
		p.mu.Unlock()
		return nil
	}

	p.pending = append(p.pending, pendingFrame{tag: tag, submittedAt: time.Now()})
	p.metrics.ObserveSubmit()
	p.metrics.SetOutstanding(len(p.pending))
	p.mu.Unlock()
	p.cond.Broadcast()

	if err := send(); err != nil {
		p.Fail(err.Error())
		return err
	}
	return nil
}

// HandleResult dispatches one received result document. The head tag is
// popped, the callback is invoked outside the lock, and waiters are
// notified. A non-empty errMsg marks the pipeline with a sticky error,
// empties the pending queue, and suppresses callbacks for any late
// arrivals; only the first error reaches the callback.
func (p *Pipeline) HandleResult(result any, errMsg string) {
	p.mu.Lock()
	if len(p.pending) == 0 {
		p.mu.Unlock()
		p.logger.Debug("dropping unexpected result with no outstanding frames")
		return
	}

	frame := p.pending[0]
	wasError := p.lastErr != ""
	cb := p.callback

	if errMsg != "" {
		p.lastErr = errMsg
		p.stop = true
		p.pending = nil
		p.metrics.ObserveStreamError()
	} else {
		p.pending = p.pending[1:]
		p.metrics.ObserveLatency(time.Since(frame.submittedAt))
	}
	p.metrics.ObserveResult(errMsg == "")
	p.metrics.SetOutstanding(len(p.pending))
	p.mu.Unlock()

	// Invoke the user callback without the lock; suppress it for errors
	// after the first one to avoid racing with a finalizing producer.
	if !wasError && cb != nil {
		p.invoke(cb, result, frame.tag)
	}

	p.cond.Broadcast()
}

// Fail marks the pipeline as failed with a transport-level error. The
// first error wins; the pending queue is emptied and all waiters wake.
func (p *Pipeline) Fail(msg string) {
	p.mu.Lock()
	p.failLocked(msg)
	p.mu.Unlock()
	p.cond.Broadcast()
}

func (p *Pipeline) failLocked(msg string) {
	if p.lastErr == "" {
		p.lastErr = msg
	}
	p.stop = true
	p.pending = nil
	p.metrics.ObserveStreamError()
	p.metrics.SetOutstanding(0)
}

// RequestStop asks the pipeline to stop accepting work and wakes all
// waiters. Outstanding results are still received and dispatched.
func (p *Pipeline) RequestStop() {
	p.mu.Lock()
	p.stop = true
	p.mu.Unlock()
	p.cond.Broadcast()
}

// AwaitWork blocks the receiver until there is at least one outstanding
// frame to read a response for. It returns false when the receiver should
// exit: the pipeline is stopping with nothing outstanding, or a sticky
// error emptied the queue.
func (p *Pipeline) AwaitWork() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.pending) == 0 && !p.stop {
		p.cond.Wait()
	}
	return len(p.pending) > 0 && p.lastErr == ""
}

// ShouldReceive reports whether responses are still expected: frames are
// outstanding and no sticky error is set. Receivers re-check this before
// exiting so a racing submission is not left without a reader.
func (p *Pipeline) ShouldReceive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending) > 0 && p.lastErr == ""
}

// AwaitDrain blocks until the pending queue is empty or an error is set.
// On timeout the pipeline is failed with a Timeout error; the sticky
// error, not a return value, carries the outcome.
func (p *Pipeline) AwaitDrain() {
	p.mu.Lock()
	if !p.waitLocked(func() bool { return len(p.pending) == 0 || p.lastErr != "" }) {
		msg := fmt.Sprintf("timeout %v waiting for inference completion (current queue size is %d)",
			p.inferenceTimeout, len(p.pending))
		p.failLocked(msg)
	}
	p.mu.Unlock()
	p.cond.Broadcast()
}

// Outstanding returns the number of frames submitted for which no result
// has been dispatched yet.
func (p *Pipeline) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// LastError returns the sticky error of the current streaming session, or
// the empty string.
func (p *Pipeline) LastError() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// waitLocked waits on the condition variable until pred holds or the
// inference timeout elapses. The pipeline lock must be held; it is held
// again on return. Returns the final value of pred.
func (p *Pipeline) waitLocked(pred func() bool) bool {
	timedOut := false
	timer := time.AfterFunc(p.inferenceTimeout, func() {
		p.mu.Lock()
		timedOut = true
		p.mu.Unlock()
		p.cond.Broadcast()
	})
	defer timer.Stop()

	for !pred() && !timedOut {
		p.cond.Wait()
	}
	return pred()
}

// invoke runs the user callback, treating it as hostile code: panics are
// recovered and discarded.
func (p *Pipeline) invoke(cb Callback, result any, tag string) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Debug("result callback panicked", "panic", r)
		}
	}()
	cb(result, tag)
}
