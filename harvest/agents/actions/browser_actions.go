package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"harvest/harvest/utils/scraper"
)

type NavigateParams struct {
	URL string `json:"url"`
}

type IndexParams struct {
	Index *int `json:"index"`
}

type InputParams struct {
	Index *int   `json:"index"`
	Text  string `json:"text"`
}

type ScrollParams struct {
	Direction string `json:"direction"`
	Amount    int    `json:"amount"`
}

type ReadContentParams struct {
	MaxChars int `json:"max_chars"`
}

type DiscoverPaginationParams struct {
	URL      string `json:"url"`
	MaxPages int    `json:"max_pages"`
}

type WaitParams struct {
	Seconds float64 `json:"seconds"`
}

type DoneParams struct {
	Result json.RawMessage `json:"result"`
}

func (a *BrowserActions) navigate(_ context.Context, raw json.RawMessage) (Result, error) {
	var p NavigateParams
	if err := decode(raw, &p); err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(p.URL) == "" {
		return Result{}, fmt.Errorf("%w: url is required", ErrInvalidParams)
	}
	if err := a.browser.Navigate(strings.TrimSpace(p.URL)); err != nil {
		return Result{}, err
	}
	return Result{Outcome: "navigated to " + a.browser.URL()}, nil
}

func (a *BrowserActions) click(_ context.Context, raw json.RawMessage) (Result, error) {
	var p IndexParams
	if err := decode(raw, &p); err != nil {
		return Result{}, err
	}
	if p.Index == nil || *p.Index < 0 {
		return Result{}, fmt.Errorf("%w: index is required", ErrInvalidParams)
	}
	before := a.browser.URL()
	if err := a.browser.ClickElement(*p.Index); err != nil {
		return Result{}, err
	}
	outcome := fmt.Sprintf("clicked element %d", *p.Index)
	if after := a.browser.URL(); after != before {
		outcome += ", now at " + after
	}
	return Result{Outcome: outcome}, nil
}

func (a *BrowserActions) input(_ context.Context, raw json.RawMessage) (Result, error) {
	var p InputParams
	if err := decode(raw, &p); err != nil {
		return Result{}, err
	}
	if p.Index == nil || *p.Index < 0 {
		return Result{}, fmt.Errorf("%w: index is required", ErrInvalidParams)
	}
	if err := a.browser.InputText(*p.Index, p.Text); err != nil {
		return Result{}, err
	}
	return Result{Outcome: fmt.Sprintf("typed %q into element %d", p.Text, *p.Index)}, nil
}

func (a *BrowserActions) goBack(context.Context, json.RawMessage) (Result, error) {
	if err := a.browser.GoBack(); err != nil {
		return Result{}, err
	}
	return Result{Outcome: "went back to " + a.browser.URL()}, nil
}

func (a *BrowserActions) scroll(_ context.Context, raw json.RawMessage) (Result, error) {
	var p ScrollParams
	if err := decode(raw, &p); err != nil {
		return Result{}, err
	}
	var down bool
	switch strings.ToLower(p.Direction) {
	case "", "down":
		down = true
	case "up":
	default:
		return Result{}, fmt.Errorf("%w: direction must be up or down", ErrInvalidParams)
	}
	if err := a.browser.Scroll(down, p.Amount); err != nil {
		return Result{}, err
	}
	dir := "up"
	if down {
		dir = "down"
	}
	return Result{Outcome: "scrolled " + dir}, nil
}

// readContent returns the page text unmodified so the model can copy it verbatim.
func (a *BrowserActions) readContent(_ context.Context, raw json.RawMessage) (Result, error) {
	var p ReadContentParams
	if err := decode(raw, &p); err != nil {
		return Result{}, err
	}
	if p.MaxChars <= 0 {
		p.MaxChars = DefaultReadChars
	}
	text, truncated, err := a.browser.ReadContent(p.MaxChars)
	if err != nil {
		return Result{}, err
	}
	outcome := "page content:\n" + text
	if truncated {
		outcome += fmt.Sprintf("\n[content truncated at %d characters]", p.MaxChars)
	}
	return Result{Outcome: outcome}, nil
}

// discoverPagination walks the pagination of a listing through the session
// itself and reports the page URLs as JSON.
func (a *BrowserActions) discoverPagination(ctx context.Context, raw json.RawMessage) (Result, error) {
	var p DiscoverPaginationParams
	if err := decode(raw, &p); err != nil {
		return Result{}, err
	}
	start := strings.TrimSpace(p.URL)
	if start == "" {
		start = a.browser.URL()
	}
	limit := a.maxPages
	if p.MaxPages > 0 && p.MaxPages < limit {
		limit = p.MaxPages
	}
	d := &scraper.Discoverer{Fetcher: a.browser, MaxPages: limit, Logger: a.logger}
	pages, err := d.Discover(ctx, start)
	if err != nil {
		return Result{}, err
	}
	body, err := json.Marshal(pages)
	if err != nil {
		return Result{}, err
	}
	// discovery drives the session itself; return it to where the walk began
	if a.browser.URL() != start {
		if err := a.browser.Navigate(start); err != nil {
			a.logger.Warn("return to pagination start failed", zap.String("start", start), zap.Error(err))
		}
	}
	a.logger.Info("pagination discovered", zap.String("start", start), zap.Int("pages", len(pages)))
	return Result{Outcome: fmt.Sprintf("found %d pagination pages, now at %s: %s", len(pages), a.browser.URL(), body)}, nil
}

func (a *BrowserActions) wait(ctx context.Context, raw json.RawMessage) (Result, error) {
	var p WaitParams
	if err := decode(raw, &p); err != nil {
		return Result{}, err
	}
	d := time.Duration(p.Seconds * float64(time.Second))
	if d <= 0 {
		d = time.Second
	}
	if d > maxWait {
		d = maxWait
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-t.C:
	}
	return Result{Outcome: fmt.Sprintf("waited %s", d)}, nil
}

func (a *BrowserActions) done(_ context.Context, raw json.RawMessage) (Result, error) {
	var p DoneParams
	if err := decode(raw, &p); err != nil {
		return Result{}, err
	}
	if len(p.Result) == 0 || string(p.Result) == "null" {
		return Result{}, fmt.Errorf("%w: result is required", ErrInvalidParams)
	}
	return Result{Outcome: "finished", Done: true, Final: p.Result}, nil
}
