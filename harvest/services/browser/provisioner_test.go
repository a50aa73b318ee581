package browser_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harvest/harvest/services/browser"
	"harvest/harvest/services/browser/browsertest"
)

const listPage = `<html><head><title>List</title></head><body>
<a href="/post/1">First post</a>
<a href="https://example.com/post/2">Second post</a>
<input type="text" placeholder="search">
<p>Welcome to the list.</p>
</body></html>`

func newProvisioner(pages map[string]string) (*browser.Provisioner, *browsertest.FakeEngine) {
	engine := &browsertest.FakeEngine{Pages: pages}
	return browser.NewProvisioner(engine, browser.DefaultSessionConfig(), nil), engine
}

func TestAcquireReleaseIsIdempotent(t *testing.T) {
	p, engine := newProvisioner(nil)
	s, err := p.Acquire(context.Background())
	require.NoError(t, err)

	p.Release(s)
	p.Release(s)
	require.NoError(t, s.Close())
	p.Release(nil)

	assert.Equal(t, browser.Stats{Acquired: 1, Released: 1, Active: 0}, p.Stats())
	require.Len(t, engine.Drivers(), 1)
	assert.True(t, engine.Drivers()[0].Closed())

	_, err = s.Observe(100)
	assert.ErrorIs(t, err, browser.ErrSessionClosed)
}

func TestAcquireFailureIsWrapped(t *testing.T) {
	engine := &browsertest.FakeEngine{Err: errors.New("chromium crashed")}
	p := browser.NewProvisioner(engine, browser.DefaultSessionConfig(), nil)
	_, err := p.Acquire(context.Background())
	assert.ErrorIs(t, err, browser.ErrSessionAcquisition)
	assert.Contains(t, err.Error(), "chromium crashed")
	assert.Equal(t, int64(0), p.Stats().Acquired)
}

func TestConcurrentSessionsAreDistinct(t *testing.T) {
	p, engine := newProvisioner(nil)
	const n = 20
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[string]bool{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := p.Acquire(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			defer p.Release(s)
			mu.Lock()
			ids[s.ID] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, ids, n)
	assert.Len(t, engine.Drivers(), n)
	assert.Equal(t, browser.Stats{Acquired: n, Released: n, Active: 0}, p.Stats())
}

func TestSessionConfigIsACopy(t *testing.T) {
	p, _ := newProvisioner(nil)
	a, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer p.Release(a)
	a.Config.Locale = "en-US"

	b, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer p.Release(b)
	assert.Equal(t, browser.DefaultLocale, b.Config.Locale)
}

func TestSessionObserveAndNavigate(t *testing.T) {
	p, engine := newProvisioner(map[string]string{
		"https://example.com/list":   listPage,
		"https://example.com/post/1": `<html><head><title>Post 1</title></head><body><p>Hello there.</p></body></html>`,
	})
	s, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer p.Release(s)

	assert.Error(t, s.Navigate("/list"), "relative url without a page")
	require.NoError(t, s.Navigate("https://example.com/list"))

	d, err := s.Observe(1000)
	require.NoError(t, err)
	assert.Equal(t, "List", d.Title)
	require.Len(t, d.Elements, 3)
	assert.Equal(t, "https://example.com/post/1", d.Elements[0].Href)
	assert.Equal(t, "search", d.Elements[2].Placeholder)

	require.NoError(t, s.InputText(2, "golang"))
	assert.Equal(t, "golang", engine.Drivers()[0].Filled(`[data-harvest-idx="2"]`))

	require.NoError(t, s.ClickElement(0))
	assert.Equal(t, "https://example.com/post/1", s.URL())
	text, cut, err := s.ReadContent(5)
	require.NoError(t, err)
	assert.Equal(t, "Hello", text)
	assert.True(t, cut)

	require.NoError(t, s.GoBack())
	assert.Equal(t, "https://example.com/list", s.URL())
	require.NoError(t, s.Navigate("post/1"))
	assert.Equal(t, "https://example.com/post/1", s.URL())

	require.NoError(t, s.Scroll(true, 0))
	require.NoError(t, s.Scroll(false, 200))
	assert.Equal(t, float64(browser.DefaultHeight-200), engine.Drivers()[0].ScrollY())
}

func TestSessionFetchHonoursContext(t *testing.T) {
	p, _ := newProvisioner(map[string]string{"https://example.com/list": listPage})
	s, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer p.Release(s)

	html, final, err := s.Fetch(context.Background(), "https://example.com/list")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/list", final)
	assert.Contains(t, html, "Welcome")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = s.Fetch(ctx, "https://example.com/list")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestObserveUsesDocumentTitle(t *testing.T) {
	engine := &browsertest.FakeEngine{
		Pages:  map[string]string{"https://example.com/list": listPage},
		Titles: map[string]string{"https://example.com/list": " List (3 new) "},
	}
	p := browser.NewProvisioner(engine, browser.DefaultSessionConfig(), nil)
	s, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer p.Release(s)

	require.NoError(t, s.Navigate("https://example.com/list"))
	d, err := s.Observe(1000)
	require.NoError(t, err)
	assert.Equal(t, "List (3 new)", d.Title)
	assert.Contains(t, d.Render(), "Title: List (3 new)")
}
