package browser

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"harvest/harvest/utils/scraper"
)

//go:embed mark.js
var markScript string

// ErrSessionClosed is returned by operations on a released session.
var ErrSessionClosed = errors.New("browser session is closed")

// Session is one isolated browser context bound to a single request. It is
// never shared: all methods are called from the request's own goroutine.
type Session struct {
	ID        string
	Config    SessionConfig
	CreatedAt time.Time

	driver    Driver
	onClose   func()
	closeOnce sync.Once
	closeErr  error
	mu        sync.Mutex
	closed    bool
}

func newSession(id string, drv Driver, cfg SessionConfig, onClose func()) *Session {
	return &Session{ID: id, Config: cfg, CreatedAt: time.Now(), driver: drv, onClose: onClose}
}

// Observe marks the interactive elements within the viewport (plus the
// configured expansion) and returns the page digest, visible text capped at maxText.
func (s *Session) Observe(maxText int) (scraper.PageDigest, error) {
	if s.isClosed() {
		return scraper.PageDigest{}, ErrSessionClosed
	}
	_, markErr := s.driver.Evaluate(markScript, map[string]any{
		"attr":      scraper.IndexAttr,
		"highlight": s.Config.HighlightElements,
		"expansion": s.Config.ViewportExpansion,
	})
	html, err := s.driver.Content()
	if err != nil {
		return scraper.PageDigest{}, fmt.Errorf("read page: %w", err)
	}
	d, err := scraper.Digest(html, s.driver.URL(), maxText)
	if err != nil {
		return scraper.PageDigest{}, err
	}
	// document.title also reflects titles set by scripts after load
	if title, err := s.driver.Title(); err == nil && strings.TrimSpace(title) != "" {
		d.Title = strings.TrimSpace(title)
	}
	if markErr != nil && len(d.Elements) == 0 {
		return d, fmt.Errorf("mark elements: %w", markErr)
	}
	return d, nil
}

// Navigate opens target. Relative targets resolve against the current page.
func (s *Session) Navigate(target string) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	abs, err := s.absolute(target)
	if err != nil {
		return err
	}
	if err := s.driver.Navigate(abs); err != nil {
		return err
	}
	s.driver.WaitIdle(s.Config.NetworkIdleWait)
	return nil
}

func (s *Session) absolute(target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", target, err)
	}
	if u.IsAbs() {
		return target, nil
	}
	current, err := url.Parse(s.driver.URL())
	if err != nil || !current.IsAbs() || (current.Scheme != "http" && current.Scheme != "https") {
		return "", fmt.Errorf("relative url %q with no page to resolve it against", target)
	}
	return scraper.Resolve(current.String(), target), nil
}

// ClickElement clicks the element the last Observe exposed under index.
func (s *Session) ClickElement(index int) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	if err := s.driver.Click(indexSelector(index)); err != nil {
		return err
	}
	s.driver.WaitIdle(s.Config.NetworkIdleWait)
	return nil
}

// InputText fills the element under index with text.
func (s *Session) InputText(index int, text string) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	return s.driver.Fill(indexSelector(index), text)
}

// GoBack navigates one entry back in history.
func (s *Session) GoBack() error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	if err := s.driver.Back(); err != nil {
		return err
	}
	s.driver.WaitIdle(s.Config.NetworkIdleWait)
	return nil
}

// Scroll moves the page by pixels; zero means one viewport height.
func (s *Session) Scroll(down bool, pixels int) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	if pixels <= 0 {
		pixels = s.Config.Viewport.Height
	}
	dy := float64(pixels)
	if !down {
		dy = -dy
	}
	return s.driver.Scroll(dy)
}

// ReadContent returns the visible page text, cut at maxChars runes.
func (s *Session) ReadContent(maxChars int) (text string, truncated bool, err error) {
	if s.isClosed() {
		return "", false, ErrSessionClosed
	}
	html, err := s.driver.Content()
	if err != nil {
		return "", false, err
	}
	text, truncated = scraper.Truncate(scraper.ExtractCleanText(html), maxChars)
	return text, truncated, nil
}

// Screenshot captures the viewport as JPEG.
func (s *Session) Screenshot() ([]byte, error) {
	if s.isClosed() {
		return nil, ErrSessionClosed
	}
	return s.driver.Screenshot()
}

// URL is the current page address.
func (s *Session) URL() string {
	if s.isClosed() {
		return ""
	}
	return s.driver.URL()
}

// Fetch navigates the session to pageURL and returns the rendered HTML.
// It lets pagination discovery walk pages through the request's own browser.
func (s *Session) Fetch(ctx context.Context, pageURL string) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	if err := s.Navigate(pageURL); err != nil {
		return "", "", err
	}
	html, err := s.driver.Content()
	if err != nil {
		return "", "", err
	}
	return html, s.driver.URL(), nil
}

// Close tears the session down. Only the first call has any effect; later
// calls return the first result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.closeErr = s.driver.Close()
		if s.onClose != nil {
			s.onClose()
		}
	})
	return s.closeErr
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func indexSelector(index int) string {
	return fmt.Sprintf(`[%s="%d"]`, scraper.IndexAttr, index)
}
