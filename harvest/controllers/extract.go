// harvest/controllers/extract.go
package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"harvest/harvest/agents/core"
	"harvest/harvest/agents/monitor"
	"harvest/harvest/agents/protocols"
	"harvest/harvest/services/browser"
	httputils "harvest/harvest/utils/http"
	"harvest/harvest/utils/types"
)

const maxRequestBody = 1 << 20

// Provisioner hands out one exclusive browser session per request.
type Provisioner interface {
	Acquire(ctx context.Context) (*browser.Session, error)
	Release(s *browser.Session)
}

// AgentRunner executes one extraction on a session.
type AgentRunner interface {
	Run(ctx context.Context, task string, p protocols.Protocol, s core.Session, observer core.Observer) (json.RawMessage, error)
}

// ExtractController orchestrates extraction requests: it provisions a
// session, runs the agent under the cancellation monitor and always releases
// the session, whatever the outcome.
type ExtractController struct {
	provisioner Provisioner
	runner      AgentRunner
	monitor     *monitor.Monitor
	runTimeout  time.Duration
	logger      *zap.Logger
}

func NewExtractController(p Provisioner, r AgentRunner, m *monitor.Monitor, runTimeout time.Duration, logger *zap.Logger) *ExtractController {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = monitor.New(monitor.DefaultInterval, logger)
	}
	return &ExtractController{
		provisioner: p,
		runner:      r,
		monitor:     m,
		runTimeout:  runTimeout,
		logger:      logger.With(zap.String("component", "orchestrator")),
	}
}

// Execute runs task under protocol p. The run is detached from ctx: only the
// monitor, watching liveness, turns a client disconnect into cancellation.
func (c *ExtractController) Execute(ctx context.Context, live monitor.Liveness, task string, p protocols.Protocol, observer core.Observer) (json.RawMessage, error) {
	logger := c.logger.With(zap.String("protocol", p.ID))

	logger.Debug("provisioning")
	session, err := c.provisioner.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("session_id", session.ID))
	defer func() {
		c.provisioner.Release(session)
		logger.Debug("released")
	}()

	runCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	defer cancel(nil)
	if c.runTimeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, c.runTimeout)
		defer cancelTimeout()
	}
	stop := c.monitor.Watch(runCtx, live, cancel)
	defer stop()

	logger.Debug("running")
	return c.runner.Run(runCtx, task, p, session, observer)
}

// Extract serves one protocol route. The response body is the agent's output
// unchanged. Nothing is written once the client has gone.
func (c *ExtractController) Extract(w http.ResponseWriter, r *http.Request, p protocols.Protocol) {
	task, err := decodeTask(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		httputils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := c.Execute(r.Context(), monitor.NewRequestLiveness(r), task, p, nil)
	if err != nil {
		if errors.Is(err, core.ErrCancelled) || r.Context().Err() != nil {
			c.logger.Info("run cancelled, no response sent", zap.String("protocol", p.ID), zap.Error(err))
			return
		}
		status := statusFor(err)
		c.logger.Error("extraction failed", zap.String("protocol", p.ID), zap.Int("status", status), zap.Error(err))
		httputils.WriteError(w, status, err.Error())
		return
	}
	c.logger.Debug("responding", zap.String("protocol", p.ID), zap.Int("bytes", len(out)))
	httputils.WriteRaw(w, http.StatusOK, out)
}

func decodeTask(body io.Reader) (string, error) {
	var req types.ExtractRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return "", fmt.Errorf("invalid request body: %w", err)
	}
	task := strings.TrimSpace(req.Task)
	if task == "" {
		return "", errors.New("task must not be empty")
	}
	return task, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, browser.ErrSessionAcquisition):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
