// Package browsertest provides an in-memory browser engine for tests.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"harvest/harvest/services/browser"
	httputils "harvest/harvest/utils/http"
	"harvest/harvest/utils/scraper"
)

const markable = `a[href], button, input, select, textarea`

// FakeEngine hands out FakeDrivers serving a fixed set of pages. When a URL
// is not in Pages and Client is set, it is fetched over HTTP instead.
type FakeEngine struct {
	Pages  map[string]string
	Client *http.Client
	// Titles overrides document.title per URL, like a script setting it after load.
	Titles map[string]string
	// Err, when set, fails every NewDriver call.
	Err error

	mu      sync.Mutex
	drivers []*FakeDriver
	closed  bool
}

func (e *FakeEngine) NewDriver(ctx context.Context, cfg browser.SessionConfig) (browser.Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Err != nil {
		return nil, e.Err
	}
	if e.closed {
		return nil, errors.New("engine closed")
	}
	d := &FakeDriver{engine: e, Config: cfg, current: "about:blank"}
	e.drivers = append(e.drivers, d)
	return d, nil
}

func (e *FakeEngine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

// Drivers returns every driver created so far.
func (e *FakeEngine) Drivers() []*FakeDriver {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*FakeDriver(nil), e.drivers...)
}

// FakeDriver is a history-keeping page that renders stored HTML.
type FakeDriver struct {
	Config browser.SessionConfig

	engine  *FakeEngine
	mu      sync.Mutex
	current string
	html    string
	history []string
	marked  bool
	fills   map[string]string
	scrollY float64
	visits  []string
	closed  bool
}

func (d *FakeDriver) load(url string) (string, error) {
	if html, ok := d.engine.Pages[url]; ok {
		return html, nil
	}
	if d.engine.Client != nil {
		return httputils.GetHTML(context.Background(), d.engine.Client, url, d.Config.UserAgent)
	}
	return "", fmt.Errorf("no page at %s", url)
}

func (d *FakeDriver) Navigate(url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("driver closed")
	}
	html, err := d.load(url)
	if err != nil {
		return err
	}
	if d.current != "about:blank" {
		d.history = append(d.history, d.current)
	}
	d.current, d.html, d.marked = url, html, false
	d.visits = append(d.visits, url)
	return nil
}

func (d *FakeDriver) WaitIdle(time.Duration) {}

// Content returns the page; after Evaluate it carries the element marks.
func (d *FakeDriver) Content() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.marked || d.html == "" {
		return d.html, nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(d.html))
	if err != nil {
		return "", err
	}
	doc.Find(markable).Each(func(i int, s *goquery.Selection) {
		s.SetAttr(scraper.IndexAttr, strconv.Itoa(i))
	})
	return doc.Html()
}

func (d *FakeDriver) URL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

func (d *FakeDriver) Title() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if title, ok := d.engine.Titles[d.current]; ok {
		return title, nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(d.html))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(doc.Find("title").First().Text()), nil
}

// Click follows the href of the element the selector addresses.
func (d *FakeDriver) Click(selector string) error {
	content, err := d.Content()
	if err != nil {
		return err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return err
	}
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return fmt.Errorf("no element matches %s", selector)
	}
	href, ok := sel.Attr("href")
	if !ok {
		return nil
	}
	return d.Navigate(scraper.Resolve(d.URL(), href))
}

func (d *FakeDriver) Fill(selector, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fills == nil {
		d.fills = map[string]string{}
	}
	d.fills[selector] = value
	return nil
}

func (d *FakeDriver) Back() error {
	d.mu.Lock()
	if len(d.history) == 0 {
		d.mu.Unlock()
		return errors.New("no history")
	}
	prev := d.history[len(d.history)-1]
	d.history = d.history[:len(d.history)-1]
	html, err := d.load(prev)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	d.current, d.html, d.marked = prev, html, false
	d.mu.Unlock()
	return nil
}

func (d *FakeDriver) Scroll(deltaY float64) error {
	d.mu.Lock()
	d.scrollY += deltaY
	d.mu.Unlock()
	return nil
}

// Evaluate stands in for the marking script.
func (d *FakeDriver) Evaluate(string, any) (any, error) {
	d.mu.Lock()
	d.marked = true
	d.mu.Unlock()
	return nil, nil
}

func (d *FakeDriver) Screenshot() ([]byte, error) { return []byte{0xff, 0xd8, 0xff, 0xd9}, nil }

func (d *FakeDriver) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (d *FakeDriver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Visits lists every URL navigated to, in order.
func (d *FakeDriver) Visits() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.visits...)
}

// Filled returns what Fill stored for selector.
func (d *FakeDriver) Filled(selector string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fills[selector]
}

// ScrollY is the accumulated scroll offset.
func (d *FakeDriver) ScrollY() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scrollY
}
