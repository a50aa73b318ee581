package monitor

import (
	"context"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pollOnly has no notification channel; only Alive changes.
type pollOnly struct{ alive atomic.Bool }

func (p *pollOnly) Done() <-chan struct{} { return nil }
func (p *pollOnly) Alive() bool           { return p.alive.Load() }

func TestSuperviseNotification(t *testing.T) {
	clientCtx, disconnect := context.WithCancel(context.Background())
	req := httptest.NewRequest("POST", "/url", nil).WithContext(clientCtx)

	runCtx, cancel := context.WithCancelCause(context.Background())
	m := New(time.Hour, nil)
	result := make(chan bool, 1)
	go func() { result <- m.Supervise(runCtx, NewRequestLiveness(req), cancel) }()

	start := time.Now()
	disconnect()
	select {
	case <-runCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("run was not cancelled")
	}
	assert.Less(t, time.Since(start), DefaultInterval)
	assert.ErrorIs(t, context.Cause(runCtx), ErrClientGone)
	assert.True(t, <-result)
}

func TestSupervisePollsWithinInterval(t *testing.T) {
	l := &pollOnly{}
	l.alive.Store(true)
	runCtx, cancel := context.WithCancelCause(context.Background())
	m := New(10*time.Millisecond, nil)
	go m.Supervise(runCtx, l, cancel)

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, runCtx.Err())

	start := time.Now()
	l.alive.Store(false)
	<-runCtx.Done()
	assert.Less(t, time.Since(start), DefaultInterval)
	assert.ErrorIs(t, context.Cause(runCtx), ErrClientGone)
}

func TestSuperviseAlreadyGone(t *testing.T) {
	l := &pollOnly{}
	runCtx, cancel := context.WithCancelCause(context.Background())
	assert.True(t, New(0, nil).Supervise(runCtx, l, cancel))
	assert.ErrorIs(t, context.Cause(runCtx), ErrClientGone)
}

func TestWatchStopIsSilent(t *testing.T) {
	l := &pollOnly{}
	l.alive.Store(true)
	runCtx, cancel := context.WithCancelCause(context.Background())
	stop := New(5*time.Millisecond, nil).Watch(context.Background(), l, cancel)
	time.Sleep(20 * time.Millisecond)
	stop()
	assert.NoError(t, runCtx.Err())
	l.alive.Store(false)
	time.Sleep(20 * time.Millisecond)
	assert.NoError(t, runCtx.Err())
}
