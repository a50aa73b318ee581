// Package core runs the extraction agent: a plan-act-observe loop over one
// browser session, bound to one extraction protocol.
package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"harvest/harvest/agents/actions"
	"harvest/harvest/agents/configs"
	"harvest/harvest/agents/protocols"
	"harvest/harvest/services/llm"
	"harvest/harvest/utils/jsonutils"
	"harvest/harvest/utils/logging"
	"harvest/harvest/utils/metrics"
	"harvest/harvest/utils/scraper"
	"harvest/harvest/utils/types"
)

// OutputPolicy decides what happens when the final output does not match the
// protocol's declared shape.
type OutputPolicy string

const (
	// PolicyPassthrough logs the mismatch and returns the output anyway.
	PolicyPassthrough OutputPolicy = "passthrough"
	// PolicyStrict fails the run with ErrShapeMismatch.
	PolicyStrict OutputPolicy = "strict"
)

const (
	DefaultPlannerInterval = 4
	DefaultMaxSteps        = 100
	DefaultMaxFailures     = 3
)

// Session is the browser surface a run needs. *browser.Session implements it.
type Session interface {
	actions.Browser
	Observe(maxText int) (scraper.PageDigest, error)
	Screenshot() ([]byte, error)
}

// Observer receives every finished step. It is called from the run's goroutine.
type Observer func(types.StepEvent)

type Options struct {
	PlannerInterval     int
	UseVisionForPlanner bool
	MaxSteps            int
	MaxFailures         int
	MaxPages            int
	OutputPolicy        OutputPolicy
	Agent               *configs.AgentConfig
}

func (o Options) withDefaults() Options {
	if o.PlannerInterval <= 0 {
		o.PlannerInterval = DefaultPlannerInterval
	}
	if o.MaxSteps <= 0 {
		o.MaxSteps = DefaultMaxSteps
	}
	if o.MaxFailures <= 0 {
		o.MaxFailures = DefaultMaxFailures
	}
	if o.MaxPages <= 0 {
		o.MaxPages = scraper.DefaultMaxPages
	}
	if o.OutputPolicy == "" {
		o.OutputPolicy = PolicyPassthrough
	}
	if o.Agent == nil {
		o.Agent = configs.LoadConfig()
	}
	return o
}

// Runner holds what every run shares: the models and the options. It keeps
// no per-run state and is safe for concurrent use.
type Runner struct {
	LLM     llm.Client
	Planner llm.Client
	Options Options
	logger  *zap.Logger
}

// NewRunner builds a Runner. planner may be nil to disable planning.
func NewRunner(primary, planner llm.Client, opts Options, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{LLM: primary, Planner: planner, Options: opts.withDefaults(), logger: logger}
}

// AgentRun is the state of one execution. It is created by Run and never reused.
type AgentRun struct {
	ID       string
	Task     string
	Protocol protocols.Protocol

	runner   *Runner
	session  Session
	actions  *actions.BrowserActions
	observer Observer
	logger   *zap.Logger
	system   string
	plan     string
	history  []record
	failures int
}

// Run executes task under protocol on session and returns the final output
// unmodified. Cancellation of ctx is observed between steps.
func (r *Runner) Run(ctx context.Context, task string, p protocols.Protocol, s Session, observer Observer) (json.RawMessage, error) {
	defer logging.LogDuration(ctx, "agent_run_"+p.ID)()
	start := time.Now()

	run := &AgentRun{
		ID:       uuid.NewString(),
		Task:     task,
		Protocol: p,
		runner:   r,
		session:  s,
		observer: observer,
	}
	run.logger = r.logger.With(zap.String("run_id", run.ID), zap.String("protocol", p.ID))
	run.actions = actions.NewBrowserActions(s, r.Options.MaxPages, run.logger)
	run.system = systemPrompt(r.Options.Agent, p, run.actions.Names())

	run.logger.Info("agent run started", zap.String("task", task))
	out, err := run.loop(ctx)

	outcome := "ok"
	switch {
	case errors.Is(err, ErrCancelled):
		outcome = "cancelled"
	case err != nil:
		outcome = "failed"
	}
	metrics.Runs.WithLabelValues(p.ID, outcome).Inc()
	metrics.RunDuration.WithLabelValues(p.ID).Observe(time.Since(start).Seconds())
	run.logger.Info("agent run finished",
		zap.String("outcome", outcome),
		zap.Int("steps", len(run.history)),
		zap.Duration("took", time.Since(start)),
		zap.Error(err),
	)
	return out, err
}

func (a *AgentRun) loop(ctx context.Context) (json.RawMessage, error) {
	opts := a.runner.Options
	for step := 1; step <= opts.MaxSteps; step++ {
		if err := contextError(ctx); err != nil {
			return nil, err
		}

		page, err := a.session.Observe(opts.Agent.MaxObservationChars)
		if err != nil {
			a.logger.Warn("observe failed", zap.Int("step", step), zap.Error(err))
		}

		planned := false
		if a.runner.Planner != nil && (step-1)%opts.PlannerInterval == 0 {
			a.runPlanner(ctx, page)
			planned = true
			if err := contextError(ctx); err != nil {
				return nil, err
			}
		}

		history := renderHistory(a.history, opts.Agent.MaxHistory)
		reply, err := a.runner.LLM.Run(ctx, stepMessages(a.system, a.Task, a.plan, history, page))
		if err != nil {
			if cerr := contextError(ctx); cerr != nil {
				return nil, cerr
			}
			if ferr := a.fail(step, "llm", nil, "", fmt.Sprintf("model call failed: %v", err), planned); ferr != nil {
				return nil, ferr
			}
			continue
		}

		thought, act, err := parseReply(reply)
		if err != nil {
			if ferr := a.fail(step, "invalid", nil, "", fmt.Sprintf("could not parse reply: %v", err), planned); ferr != nil {
				return nil, ferr
			}
			continue
		}

		res, err := a.actions.ExecuteAction(ctx, act)
		if err != nil {
			if cerr := contextError(ctx); cerr != nil {
				return nil, cerr
			}
			if ferr := a.fail(step, act.Name, act.Params, thought, err.Error(), planned); ferr != nil {
				return nil, ferr
			}
			continue
		}
		a.failures = 0
		a.record(record{Step: step, Thought: thought, Action: act.Name, Params: act.Params, Outcome: res.Outcome}, planned)

		if res.Done {
			return a.finish(res.Final)
		}
	}
	return nil, fmt.Errorf("%w: no result after %d steps", ErrAgentExecution, opts.MaxSteps)
}

// runPlanner refreshes the plan. Planner failures only cost the plan update.
func (a *AgentRun) runPlanner(ctx context.Context, page scraper.PageDigest) {
	var shot []byte
	if a.runner.Options.UseVisionForPlanner {
		var err error
		if shot, err = a.session.Screenshot(); err != nil {
			a.logger.Warn("planner screenshot failed", zap.Error(err))
		}
	}
	history := renderHistory(a.history, a.runner.Options.Agent.MaxHistory)
	plan, err := a.runner.Planner.Run(ctx, plannerMessages(a.runner.Options.Agent, a.Protocol, a.Task, history, page, shot))
	if err != nil {
		a.logger.Warn("planner failed", zap.Error(err))
		return
	}
	if extracted := jsonutils.ExtractJSON(plan); json.Valid([]byte(extracted)) {
		plan = extracted
	}
	a.plan = strings.TrimSpace(plan)
	a.logger.Debug("plan updated", zap.String("plan", a.plan))
}

func (a *AgentRun) fail(step int, action string, params json.RawMessage, thought, reason string, planned bool) error {
	a.failures++
	a.record(record{Step: step, Thought: thought, Action: action, Params: params, Outcome: reason, Failed: true}, planned)
	if a.failures >= a.runner.Options.MaxFailures {
		return fmt.Errorf("%w: %d consecutive failures, last: %s", ErrAgentExecution, a.failures, reason)
	}
	return nil
}

func (a *AgentRun) record(r record, planned bool) {
	a.history = append(a.history, r)
	if a.observer != nil {
		a.observer(types.StepEvent{
			RunID:   a.ID,
			Step:    r.Step,
			Action:  r.Action,
			Params:  r.Params,
			Outcome: r.Outcome,
			Failed:  r.Failed,
			URL:     a.session.URL(),
			Planned: planned,
		})
	}
}

// finish applies the output policy to the done result.
func (a *AgentRun) finish(final json.RawMessage) (json.RawMessage, error) {
	out, ok := jsonutils.Unwrap(final)
	if !ok {
		return nil, fmt.Errorf("%w: final output is not JSON", ErrAgentExecution)
	}
	if err := a.Protocol.Output.Validate(out); err != nil {
		if a.runner.Options.OutputPolicy == PolicyStrict {
			return nil, fmt.Errorf("%w: %v", ErrShapeMismatch, err)
		}
		a.logger.Warn("output shape mismatch", zap.Error(err))
	}
	return out, nil
}

type reply struct {
	Thought string          `json:"thought"`
	Action  json.RawMessage `json:"action"`
	Params  json.RawMessage `json:"params"`
}

// parseReply reads the model's JSON reply. The action may be given as a name
// with separate params or as a single-key object {"name": {params}}.
func parseReply(text string) (string, actions.Action, error) {
	var r reply
	if err := json.Unmarshal([]byte(jsonutils.ExtractJSON(text)), &r); err != nil {
		return "", actions.Action{}, err
	}
	var name string
	if err := json.Unmarshal(r.Action, &name); err == nil {
		if name == "" {
			return r.Thought, actions.Action{}, errors.New("empty action")
		}
		return r.Thought, actions.Action{Name: name, Params: r.Params}, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(r.Action, &obj); err != nil || len(obj) != 1 {
		return r.Thought, actions.Action{}, errors.New("action must be a name or a single-key object")
	}
	for k, v := range obj {
		return r.Thought, actions.Action{Name: k, Params: v}, nil
	}
	return r.Thought, actions.Action{}, errors.New("missing action")
}
