package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

const navigationTimeout = 30 * time.Second

// EngineOptions configures the shared Chromium process.
type EngineOptions struct {
	Headless        bool
	DisableSecurity bool
	// Install downloads the browser binaries before starting.
	Install bool
}

// PlaywrightEngine owns one Playwright driver and one Chromium process.
// Sessions are browser contexts inside it.
type PlaywrightEngine struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	logger  *zap.Logger

	// cookieMu serializes writes to the shared cookie store.
	cookieMu sync.Mutex
	closed   bool
	mu       sync.RWMutex
}

// NewPlaywrightEngine starts Playwright and launches Chromium.
func NewPlaywrightEngine(opts EngineOptions, logger *zap.Logger) (*PlaywrightEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	runOpts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}
	if opts.Install {
		if err := playwright.Install(runOpts); err != nil {
			return nil, fmt.Errorf("failed to install playwright: %w", err)
		}
	}
	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	args := []string{
		"--disable-gpu",
		"--no-sandbox",
		"--disable-dev-shm-usage",
		"--disable-background-timer-throttling",
		"--disable-backgrounding-occluded-windows",
		"--disable-renderer-backgrounding",
	}
	if opts.DisableSecurity {
		args = append(args,
			"--disable-web-security",
			"--disable-site-isolation-trials",
			"--disable-features=IsolateOrigins,site-per-process",
		)
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     args,
	})
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	logger.Info("browser engine started",
		zap.Bool("headless", opts.Headless),
		zap.Bool("disable_security", opts.DisableSecurity),
		zap.String("version", browser.Version()),
	)
	return &PlaywrightEngine{pw: pw, browser: browser, logger: logger}, nil
}

// NewDriver opens a fresh browser context and page for one session.
func (e *PlaywrightEngine) NewDriver(ctx context.Context, cfg SessionConfig) (Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, errors.New("browser engine is closed")
	}

	opts := playwright.BrowserNewContextOptions{
		UserAgent:         playwright.String(cfg.UserAgent),
		Viewport:          &playwright.Size{Width: cfg.Viewport.Width, Height: cfg.Viewport.Height},
		Locale:            playwright.String(cfg.Locale),
		IgnoreHttpsErrors: playwright.Bool(true),
	}
	if cfg.CookiesFile != "" {
		if _, err := os.Stat(cfg.CookiesFile); err == nil {
			opts.StorageStatePath = playwright.String(cfg.CookiesFile)
		}
	}
	bctx, err := e.browser.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultNavigationTimeout(float64(navigationTimeout.Milliseconds()))
	page.SetDefaultTimeout(float64(navigationTimeout.Milliseconds()))

	return &playwrightDriver{engine: e, bctx: bctx, page: page, cookiesFile: cfg.CookiesFile}, nil
}

// Close shuts the browser and the Playwright driver down.
func (e *PlaywrightEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	var errs []error
	if err := e.browser.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.pw.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
	}
	return errors.Join(errs...)
}

// saveState writes the context's cookies and storage to the shared store.
// The file is replaced atomically so concurrent readers never see a partial write.
func (e *PlaywrightEngine) saveState(bctx playwright.BrowserContext, path string) error {
	e.cookieMu.Lock()
	defer e.cookieMu.Unlock()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s.%s.tmp", path, uuid.NewString()[:8])
	if _, err := bctx.StorageState(tmp); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("save cookies: %w", err)
	}
	return os.Rename(tmp, path)
}

type playwrightDriver struct {
	engine      *PlaywrightEngine
	bctx        playwright.BrowserContext
	page        playwright.Page
	cookiesFile string
}

func (d *playwrightDriver) Navigate(url string) error {
	if _, err := d.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

// WaitIdle waits up to max for the network to go quiet. Busy pages that never
// settle are not an error.
func (d *playwrightDriver) WaitIdle(max time.Duration) {
	if max <= 0 {
		return
	}
	_ = d.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: playwright.Float(float64(max.Milliseconds())),
	})
}

func (d *playwrightDriver) Content() (string, error) { return d.page.Content() }

func (d *playwrightDriver) URL() string { return d.page.URL() }

func (d *playwrightDriver) Title() (string, error) { return d.page.Title() }

func (d *playwrightDriver) Click(selector string) error {
	if err := d.page.Click(selector); err != nil {
		return fmt.Errorf("click failed: %w", err)
	}
	return nil
}

func (d *playwrightDriver) Fill(selector, value string) error {
	if err := d.page.Fill(selector, value); err != nil {
		return fmt.Errorf("fill failed: %w", err)
	}
	return nil
}

func (d *playwrightDriver) Back() error {
	if _, err := d.page.GoBack(); err != nil {
		return fmt.Errorf("go back failed: %w", err)
	}
	return nil
}

func (d *playwrightDriver) Scroll(deltaY float64) error {
	return d.page.Mouse().Wheel(0, deltaY)
}

func (d *playwrightDriver) Evaluate(script string, arg any) (any, error) {
	return d.page.Evaluate(script, arg)
}

func (d *playwrightDriver) Screenshot() ([]byte, error) {
	return d.page.Screenshot(playwright.PageScreenshotOptions{
		Type:    playwright.ScreenshotTypeJpeg,
		Quality: playwright.Int(70),
	})
}

// Close persists cookies, then closes the context (and with it the page).
func (d *playwrightDriver) Close() error {
	var errs []error
	if d.cookiesFile != "" {
		if err := d.engine.saveState(d.bctx, d.cookiesFile); err != nil {
			errs = append(errs, err)
		}
	}
	if err := d.bctx.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
