package browser

import "time"

// Viewport is the browser window size in CSS pixels.
type Viewport struct {
	Width  int
	Height int
}

// SessionConfig describes how every session presents itself. It is fixed for
// the process lifetime and copied into each Session.
type SessionConfig struct {
	Viewport          Viewport
	Locale            string
	UserAgent         string
	CookiesFile       string
	NetworkIdleWait   time.Duration
	HighlightElements bool
	// ViewportExpansion is how far beyond the viewport, in pixels, elements
	// are still offered to the agent. Negative means the whole page.
	ViewportExpansion int
}

// Defaults mirror the presentation the extraction prompts were tuned against.
const (
	DefaultWidth             = 1920
	DefaultHeight            = 5000
	DefaultLocale            = "zh-TW"
	DefaultUserAgent         = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/85.0.4183.102 Safari/537.36"
	DefaultCookiesFile       = "./cookies.json"
	DefaultNetworkIdleWait   = 3 * time.Second
	DefaultViewportExpansion = 500
)

// DefaultSessionConfig returns the stock presentation.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Viewport:          Viewport{Width: DefaultWidth, Height: DefaultHeight},
		Locale:            DefaultLocale,
		UserAgent:         DefaultUserAgent,
		CookiesFile:       DefaultCookiesFile,
		NetworkIdleWait:   DefaultNetworkIdleWait,
		HighlightElements: true,
		ViewportExpansion: DefaultViewportExpansion,
	}
}
