// Package actions provides the browser actions an extraction agent can take.
package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"harvest/harvest/utils/metrics"
	"harvest/harvest/utils/scraper"
)

// Browser is the page surface the actions drive. *browser.Session implements it.
type Browser interface {
	scraper.Fetcher
	Navigate(target string) error
	ClickElement(index int) error
	InputText(index int, text string) error
	GoBack() error
	Scroll(down bool, pixels int) error
	ReadContent(maxChars int) (string, bool, error)
	URL() string
}

// Action is one step chosen by the model.
type Action struct {
	Name   string          `json:"action"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Result is what an action reports back into the agent's history.
type Result struct {
	Outcome string
	// Done is set by the done action; Final then carries its result verbatim.
	Done  bool
	Final json.RawMessage
}

var (
	ErrUnknownAction = errors.New("unknown action")
	ErrInvalidParams = errors.New("invalid action params")
)

const (
	DefaultReadChars = 20000
	maxWait          = 10 * time.Second
)

type handler func(ctx context.Context, params json.RawMessage) (Result, error)

// BrowserActions executes actions against one session.
type BrowserActions struct {
	fnMaps   map[string]handler
	browser  Browser
	maxPages int
	logger   *zap.Logger
}

// NewBrowserActions binds the action set to b. maxPages caps pagination discovery.
func NewBrowserActions(b Browser, maxPages int, logger *zap.Logger) *BrowserActions {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxPages <= 0 {
		maxPages = scraper.DefaultMaxPages
	}
	a := &BrowserActions{
		fnMaps:   make(map[string]handler),
		browser:  b,
		maxPages: maxPages,
		logger:   logger,
	}
	a.fnMaps["navigate"] = a.navigate
	a.fnMaps["click"] = a.click
	a.fnMaps["input"] = a.input
	a.fnMaps["go_back"] = a.goBack
	a.fnMaps["scroll"] = a.scroll
	a.fnMaps["read_content"] = a.readContent
	a.fnMaps["discover_pagination"] = a.discoverPagination
	a.fnMaps["wait"] = a.wait
	a.fnMaps["done"] = a.done
	return a
}

// Names lists the registered actions.
func (a *BrowserActions) Names() []string {
	names := make([]string, 0, len(a.fnMaps))
	for n := range a.fnMaps {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ExecuteAction runs act. A returned error means the action failed; the
// agent may recover from it on the next step.
func (a *BrowserActions) ExecuteAction(ctx context.Context, act Action) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	name := strings.ToLower(strings.TrimSpace(act.Name))
	fn, ok := a.fnMaps[name]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownAction, act.Name)
	}
	metrics.AgentSteps.WithLabelValues(name).Inc()
	res, err := fn(ctx, act.Params)
	if err != nil {
		a.logger.Debug("action failed", zap.String("action", name), zap.Error(err))
		return res, err
	}
	return res, nil
}

func decode(params json.RawMessage, v any) error {
	if len(params) == 0 || string(params) == "null" {
		params = []byte("{}")
	}
	if err := json.Unmarshal(params, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}
