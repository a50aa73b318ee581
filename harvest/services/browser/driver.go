package browser

import (
	"context"
	"time"
)

// Engine is the process-wide browser handle. NewDriver must be safe for
// concurrent use; every call yields an isolated context with its own page.
type Engine interface {
	NewDriver(ctx context.Context, cfg SessionConfig) (Driver, error)
	Close() error
}

// Driver is the page-control surface of one isolated browser context.
// A Driver is used by a single goroutine at a time.
type Driver interface {
	Navigate(url string) error
	WaitIdle(max time.Duration)
	Content() (string, error)
	URL() string
	Title() (string, error)
	Click(selector string) error
	Fill(selector, value string) error
	Back() error
	Scroll(deltaY float64) error
	Evaluate(script string, arg any) (any, error)
	Screenshot() ([]byte, error)
	Close() error
}
