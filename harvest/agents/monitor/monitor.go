// Package monitor watches the client side of a run and cancels the run when
// the client goes away.
package monitor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// DefaultInterval is how often liveness is polled.
const DefaultInterval = 100 * time.Millisecond

// ErrClientGone is the cancellation cause set when the client disconnects.
var ErrClientGone = errors.New("client disconnected")

// Liveness reports whether the client of a run is still connected.
type Liveness interface {
	// Done is closed when the disconnect is known. It may be nil when the
	// transport only supports polling.
	Done() <-chan struct{}
	Alive() bool
}

// RequestLiveness follows the context of an incoming HTTP request, which the
// server cancels when the connection closes.
type RequestLiveness struct {
	ctx context.Context
}

func NewRequestLiveness(r *http.Request) RequestLiveness {
	return RequestLiveness{ctx: r.Context()}
}

func (l RequestLiveness) Done() <-chan struct{} { return l.ctx.Done() }

func (l RequestLiveness) Alive() bool { return l.ctx.Err() == nil }

// ContextLiveness treats the end of ctx as the client leaving.
type ContextLiveness struct {
	Ctx context.Context
}

func (l ContextLiveness) Done() <-chan struct{} { return l.Ctx.Done() }

func (l ContextLiveness) Alive() bool { return l.Ctx.Err() == nil }

// Monitor supervises one run at a time per Supervise call.
type Monitor struct {
	Interval time.Duration
	Logger   *zap.Logger
}

func New(interval time.Duration, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{Interval: interval, Logger: logger}
}

// Supervise blocks until ctx ends or the client disconnects. On disconnect it
// calls cancel(ErrClientGone) and reports true. The end of ctx is a normal exit.
func (m *Monitor) Supervise(ctx context.Context, l Liveness, cancel context.CancelCauseFunc) bool {
	interval := m.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	logger := m.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	gone := func() bool {
		logger.Info("client disconnected, cancelling run")
		cancel(ErrClientGone)
		return true
	}
	if !l.Alive() {
		return gone()
	}
	for {
		select {
		case <-ctx.Done():
			return false
		case <-l.Done():
			return gone()
		case <-ticker.C:
			if !l.Alive() {
				return gone()
			}
		}
	}
}

// Watch starts Supervise in a goroutine. The returned stop function ends the
// supervision and waits for it to exit.
func (m *Monitor) Watch(ctx context.Context, l Liveness, cancel context.CancelCauseFunc) (stop func()) {
	ctx, done := context.WithCancel(ctx)
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		m.Supervise(ctx, l, cancel)
	}()
	return func() {
		done()
		<-exited
	}
}
