package browser

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"harvest/harvest/utils/metrics"
)

// ErrSessionAcquisition means the engine could not open a new session.
var ErrSessionAcquisition = errors.New("browser session unavailable")

// Stats counts sessions over the provisioner's lifetime.
type Stats struct {
	Acquired int64
	Released int64
	Active   int64
}

// Provisioner creates one exclusive Session per request from the shared
// engine and owns its teardown.
type Provisioner struct {
	engine   Engine
	config   SessionConfig
	logger   *zap.Logger
	acquired atomic.Int64
	released atomic.Int64
}

func NewProvisioner(engine Engine, cfg SessionConfig, logger *zap.Logger) *Provisioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provisioner{engine: engine, config: cfg, logger: logger.With(zap.String("component", "provisioner"))}
}

// Acquire opens a fresh session.
func (p *Provisioner) Acquire(ctx context.Context) (*Session, error) {
	start := time.Now()
	drv, err := p.engine.NewDriver(ctx, p.config)
	if err != nil {
		metrics.SessionFailures.Inc()
		p.logger.Error("session acquisition failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrSessionAcquisition, err)
	}
	id := uuid.NewString()
	s := newSession(id, drv, p.config, func() {
		p.released.Add(1)
		metrics.SessionsReleased.Inc()
		metrics.SessionsActive.Dec()
	})
	p.acquired.Add(1)
	metrics.SessionsAcquired.Inc()
	metrics.SessionsActive.Inc()
	p.logger.Info("session acquired",
		zap.String("session_id", id),
		zap.Duration("took", time.Since(start)),
	)
	return s, nil
}

// Release closes s. It is idempotent and tolerates a nil session.
func (p *Provisioner) Release(s *Session) {
	if s == nil {
		return
	}
	if err := s.Close(); err != nil {
		p.logger.Warn("session close reported an error", zap.String("session_id", s.ID), zap.Error(err))
		return
	}
	p.logger.Info("session released",
		zap.String("session_id", s.ID),
		zap.Duration("lifetime", time.Since(s.CreatedAt)),
	)
}

// Stats reports lifetime counters.
func (p *Provisioner) Stats() Stats {
	a, r := p.acquired.Load(), p.released.Load()
	return Stats{Acquired: a, Released: r, Active: a - r}
}
