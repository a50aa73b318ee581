package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harvest/harvest/agents/core"
	"harvest/harvest/agents/monitor"
	"harvest/harvest/agents/protocols"
	"harvest/harvest/controllers"
	"harvest/harvest/services/browser"
	"harvest/harvest/services/browser/browsertest"
	"harvest/harvest/services/llm"
	"harvest/harvest/utils/types"
)

const token = "test-token"

// recordingProvisioner notes every acquired session and when it was released.
type recordingProvisioner struct {
	*browser.Provisioner
	mu       sync.Mutex
	ids      []string
	released map[string]time.Time
}

func (p *recordingProvisioner) Acquire(ctx context.Context) (*browser.Session, error) {
	s, err := p.Provisioner.Acquire(ctx)
	if err == nil {
		p.mu.Lock()
		p.ids = append(p.ids, s.ID)
		p.mu.Unlock()
	}
	return s, err
}

func (p *recordingProvisioner) Release(s *browser.Session) {
	p.Provisioner.Release(s)
	p.mu.Lock()
	if p.released == nil {
		p.released = map[string]time.Time{}
	}
	if _, ok := p.released[s.ID]; !ok {
		p.released[s.ID] = time.Now()
	}
	p.mu.Unlock()
}

func (p *recordingProvisioner) releasedAt(id string) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	at, ok := p.released[id]
	return at, ok
}

type harness struct {
	handler http.Handler
	prov    *recordingProvisioner
	engine  *browsertest.FakeEngine
}

func newHarness(t *testing.T, pages map[string]string, agent llm.Client, opts core.Options) *harness {
	t.Helper()
	registry, err := protocols.Default(protocols.Vars{MaxPages: 50})
	require.NoError(t, err)
	engine := &browsertest.FakeEngine{Pages: pages}
	prov := &recordingProvisioner{Provisioner: browser.NewProvisioner(engine, browser.DefaultSessionConfig(), nil)}
	runner := core.NewRunner(agent, nil, opts, nil)
	ctrl := controllers.NewExtractController(prov, runner, monitor.New(10*time.Millisecond, nil), time.Minute, nil)
	return &harness{
		handler: NewRouter(RouterConfig{Token: token, Registry: registry, Extract: ctrl}),
		prov:    prov,
		engine:  engine,
	}
}

func (h *harness) do(method, path, body, tok string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if tok != "" {
		req.Header.Set("X-API-Token", tok)
	}
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	return rr
}

// agentFunc builds a stateless mock agent that decides from the prompt alone,
// so concurrent runs never share state.
func agentFunc(decide func(prompt string) string) llm.Client {
	return llm.FuncClient(func(ctx context.Context, msgs []llm.Message) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return decide(msgs[len(msgs)-1].Content), nil
	})
}

const newsHome = "https://news.example.com/"

var newsSite = map[string]string{
	newsHome: `<html><head><title>News</title></head><body>
<a href="/story/1">Story one</a> <a href="/story/2">Story two</a></body></html>`,
	"https://news.example.com/story/1": `<html><head><title>Story one</title></head><body>
<article><h1>Story one</h1><p>Exact   text, kept.</p></article></body></html>`,
}

const linksOutput = `[{"url":"https://news.example.com/story/1","title":"Story one"},{"url":"https://news.example.com/story/2","title":"Story two"}]`

func linksAgent() llm.Client {
	return agentFunc(func(prompt string) string {
		if strings.Contains(prompt, "(no actions yet)") {
			return `{"action":"navigate","params":{"url":"` + newsHome + `"}}`
		}
		return `{"action":"done","params":{"result":` + linksOutput + `}}`
	})
}

func TestHealthRequiresToken(t *testing.T) {
	h := newHarness(t, nil, linksAgent(), core.Options{})
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/", "", "").Code)

	rr := h.do(http.MethodGet, "/", "", token)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestUnauthorizedNeverProvisions(t *testing.T) {
	h := newHarness(t, newsSite, linksAgent(), core.Options{})
	for _, route := range []string{"/scrape", "/post", "/url", "/pages"} {
		for _, tok := range []string{"", "wrong"} {
			rr := h.do(http.MethodPost, route, `{"task":"x"}`, tok)
			assert.Equal(t, http.StatusUnauthorized, rr.Code, route)
		}
	}
	assert.Empty(t, h.engine.Drivers())
	assert.Equal(t, browser.Stats{}, h.prov.Stats())
}

func TestURLReturnsAgentOutputExactly(t *testing.T) {
	h := newHarness(t, newsSite, linksAgent(), core.Options{})
	rr := h.do(http.MethodPost, "/url", `{"task":"list the stories on https://news.example.com/"}`, token)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, linksOutput, rr.Body.String())
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Equal(t, browser.Stats{Acquired: 1, Released: 1}, h.prov.Stats())
}

func TestBadRequestsAndUnknownRoutes(t *testing.T) {
	h := newHarness(t, newsSite, linksAgent(), core.Options{})
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/url", `{"task":`, token).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/url", `{"task":"  "}`, token).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodPost, "/nope", `{"task":"x"}`, token).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, h.do(http.MethodGet, "/url", "", token).Code)
	assert.Empty(t, h.engine.Drivers())
}

func TestErrorMapping(t *testing.T) {
	h := newHarness(t, newsSite, agentFunc(func(string) string { return "nonsense" }), core.Options{MaxFailures: 2})
	rr := h.do(http.MethodPost, "/scrape", `{"task":"x"}`, token)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "agent execution failed")
	assert.Equal(t, browser.Stats{Acquired: 1, Released: 1}, h.prov.Stats())

	h = newHarness(t, newsSite, linksAgent(), core.Options{})
	h.engine.Err = fmt.Errorf("no chromium")
	rr = h.do(http.MethodPost, "/scrape", `{"task":"x"}`, token)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, browser.Stats{}, h.prov.Stats())
}

func TestConcurrentRequestsReleaseEverySession(t *testing.T) {
	h := newHarness(t, newsSite, linksAgent(), core.Options{})
	const n = 16
	var wg sync.WaitGroup
	codes := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = h.do(http.MethodPost, "/url", `{"task":"list"}`, token).Code
		}(i)
	}
	wg.Wait()
	for _, c := range codes {
		assert.Equal(t, http.StatusOK, c)
	}

	stats := h.prov.Stats()
	assert.Equal(t, int64(n), stats.Acquired)
	assert.Equal(t, stats.Acquired, stats.Released)

	seen := map[string]bool{}
	for _, id := range h.prov.ids {
		assert.False(t, seen[id], "session %s reused", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
	for _, d := range h.engine.Drivers() {
		assert.True(t, d.Closed())
	}
}

func TestClientDisconnectReleasesSession(t *testing.T) {
	started := make(chan struct{}, 1)
	blocking := llm.FuncClient(func(ctx context.Context, _ []llm.Message) (string, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return "", ctx.Err()
	})
	h := newHarness(t, newsSite, blocking, core.Options{})
	srv := httptest.NewServer(h.handler)
	defer srv.Close()

	ctx, disconnect := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/post", strings.NewReader(`{"task":"read"}`))
	require.NoError(t, err)
	req.Header.Set("X-API-Token", token)
	errc := make(chan error, 1)
	go func() {
		resp, err := srv.Client().Do(req)
		if err == nil {
			resp.Body.Close()
		}
		errc <- err
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("agent never started")
	}
	disconnectedAt := time.Now()
	disconnect()
	assert.Error(t, <-errc)

	require.Eventually(t, func() bool {
		_, ok := h.prov.releasedAt(h.prov.ids[0])
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	at, _ := h.prov.releasedAt(h.prov.ids[0])
	assert.Less(t, at.Sub(disconnectedAt), 100*time.Millisecond)
	assert.Equal(t, browser.Stats{Acquired: 1, Released: 1}, h.prov.Stats())
}

var reFound = regexp.MustCompile(`found \d+ pagination pages, now at \S+: (\[.*\])`)

func TestPagesTerminatesOnCycleUnderCap(t *testing.T) {
	const start = "https://shop.example.com/list?page=1"
	site := map[string]string{}
	for i := 1; i <= 8; i++ {
		next := i%8 + 1
		site[fmt.Sprintf("https://shop.example.com/list?page=%d", i)] = fmt.Sprintf(
			`<html><body><nav class="pagination"><a href="/list?page=%d">next</a></nav></body></html>`, next)
	}
	agent := agentFunc(func(prompt string) string {
		if m := reFound.FindStringSubmatch(prompt); m != nil {
			return `{"action":"done","params":{"result":` + m[1] + `}}`
		}
		return `{"action":"discover_pagination","params":{"url":"` + start + `"}}`
	})

	h := newHarness(t, site, agent, core.Options{MaxPages: 50})
	rr := h.do(http.MethodPost, "/pages", `{"task":"all pages of `+start+`"}`, token)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var pages []struct{ URL string }
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &pages))
	assert.Len(t, pages, 8)
	assert.Equal(t, start, pages[0].URL)

	h = newHarness(t, site, agent, core.Options{MaxPages: 3})
	rr = h.do(http.MethodPost, "/pages", `{"task":"all pages"}`, token)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &pages))
	assert.Len(t, pages, 3)
}

var reContent = regexp.MustCompile(`(?s)page content:\n(.*?)\n+Current page:`)

func TestPostIsIdempotent(t *testing.T) {
	const story = "https://news.example.com/story/1"
	agent := agentFunc(func(prompt string) string {
		switch {
		case strings.Contains(prompt, "(no actions yet)"):
			return `{"action":"navigate","params":{"url":"` + story + `"}}`
		case !strings.Contains(prompt, "read_content"):
			return `{"action":"read_content"}`
		}
		m := reContent.FindStringSubmatch(prompt)
		content := strings.TrimSpace(m[1])
		body, _ := json.Marshal(map[string]any{"url": story, "title": "Story one", "content": content, "content_is_omit": false})
		return `{"action":"done","params":{"result":` + string(body) + `}}`
	})
	h := newHarness(t, newsSite, agent, core.Options{OutputPolicy: core.PolicyStrict})

	first := h.do(http.MethodPost, "/post", `{"task":"read `+story+`"}`, token)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	second := h.do(http.MethodPost, "/post", `{"task":"read `+story+`"}`, token)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())

	var post map[string]any
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &post))
	assert.Equal(t, "Story one\nExact text, kept.", post["content"])
	assert.Equal(t, false, post["content_is_omit"])
}

func TestProtocolsAndMetrics(t *testing.T) {
	h := newHarness(t, nil, linksAgent(), core.Options{})
	rr := h.do(http.MethodGet, "/protocols", "", token)
	require.Equal(t, http.StatusOK, rr.Code)
	var infos []types.ProtocolInfo
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &infos))
	assert.Len(t, infos, 4)

	rr = h.do(http.MethodGet, "/metrics", "", token)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "harvest_browser_sessions_active")
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/metrics", "", "").Code)
}

func TestWebsocketStreamsStepsAndResult(t *testing.T) {
	h := newHarness(t, newsSite, linksAgent(), core.Options{})
	srv := httptest.NewServer(h.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/links", &websocket.DialOptions{
		HTTPHeader: http.Header{"X-API-Token": []string{token}},
	})
	require.NoError(t, err)
	defer conn.CloseNow()

	require.NoError(t, wsjson.Write(ctx, conn, types.ExtractRequest{Task: "list"}))
	var kinds []string
	var result json.RawMessage
	for {
		var msg struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			break
		}
		kinds = append(kinds, msg.Type)
		if msg.Type == "result" {
			result = msg.Payload
		}
	}
	assert.Equal(t, []string{"step", "step", "result"}, kinds)
	var compact bytes.Buffer
	require.NoError(t, json.Compact(&compact, []byte(linksOutput)))
	assert.Equal(t, compact.String(), string(result))

	require.Eventually(t, func() bool { return h.prov.Stats().Released == 1 }, time.Second, 5*time.Millisecond)
}

func TestWebsocketCloseReleasesSession(t *testing.T) {
	started := make(chan struct{}, 1)
	blocking := llm.FuncClient(func(ctx context.Context, _ []llm.Message) (string, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return "", ctx.Err()
	})
	h := newHarness(t, newsSite, blocking, core.Options{})
	srv := httptest.NewServer(h.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/post", &websocket.DialOptions{
		HTTPHeader: http.Header{"X-API-Token": []string{token}},
	})
	require.NoError(t, err)
	require.NoError(t, wsjson.Write(ctx, conn, types.ExtractRequest{Task: "read"}))

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("agent never started")
	}
	closedAt := time.Now()
	conn.CloseNow()

	h.prov.mu.Lock()
	id := h.prov.ids[0]
	h.prov.mu.Unlock()
	require.Eventually(t, func() bool {
		_, ok := h.prov.releasedAt(id)
		return ok
	}, 2*time.Second, 2*time.Millisecond)
	at, _ := h.prov.releasedAt(id)
	assert.Less(t, at.Sub(closedAt), 100*time.Millisecond)
	assert.Equal(t, browser.Stats{Acquired: 1, Released: 1}, h.prov.Stats())
}

func TestWebsocketUnknownProtocol(t *testing.T) {
	h := newHarness(t, nil, linksAgent(), core.Options{})
	rr := h.do(http.MethodGet, "/ws/nope", "", token)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	body, _ := io.ReadAll(rr.Body)
	assert.Contains(t, string(body), "unknown extraction route")
}
