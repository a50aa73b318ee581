// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "harvest",
		Name:      "browser_sessions_active",
		Help:      "Browser sessions currently bound to a request.",
	})
	SessionsAcquired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "harvest",
		Name:      "browser_sessions_acquired_total",
		Help:      "Browser sessions provisioned.",
	})
	SessionsReleased = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "harvest",
		Name:      "browser_sessions_released_total",
		Help:      "Browser sessions closed.",
	})
	SessionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "harvest",
		Name:      "browser_session_failures_total",
		Help:      "Session acquisitions rejected by the browser engine.",
	})
	Runs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harvest",
		Name:      "agent_runs_total",
		Help:      "Agent runs by protocol and outcome.",
	}, []string{"protocol", "outcome"})
	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "harvest",
		Name:      "agent_run_duration_seconds",
		Help:      "Wall time of agent runs.",
		Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
	}, []string{"protocol"})
	AgentSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harvest",
		Name:      "agent_steps_total",
		Help:      "Agent loop steps by action.",
	}, []string{"action"})
)
