package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	httputils "harvest/harvest/utils/http"
)

// DefaultMaxPages caps discovery when the caller sets no limit.
const DefaultMaxPages = 50

// PageLink is one discovered pagination page.
type PageLink struct {
	URL string `json:"url"`
}

// Fetcher loads a page and returns its HTML and the URL it ended up at.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (htmlContent, finalURL string, err error)
}

// HTTPFetcher fetches pages over plain HTTP.
type HTTPFetcher struct {
	Client    *http.Client
	UserAgent string
}

func (f HTTPFetcher) Fetch(ctx context.Context, pageURL string) (string, string, error) {
	body, err := httputils.GetHTML(ctx, f.Client, pageURL, f.UserAgent)
	return body, pageURL, err
}

var (
	// anchors whose label alone marks them as a pagination control
	reControlLabel = regexp.MustCompile(`(?i)^(next|next page|prev|previous|previous page|first|last|older|newer|` +
		`下一頁|上一頁|下一页|上一页|下頁|上頁|首頁|首页|末頁|末页|最後一頁|最后一页|尾頁|尾页|»|«|›|‹|>|<|>>|<<)$`)
	reNumbered = regexp.MustCompile(`^\d{1,4}$`)
	reDigits   = regexp.MustCompile(`\d+`)
)

const (
	relSelector       = `a[rel~="next"], a[rel~="prev"], a[rel~="first"], a[rel~="last"], link[rel~="next"], link[rel~="prev"]`
	containerSelector = `[class*="pagination"], [class*="pager"], [class*="page-numbers"], [class*="paging"], ` +
		`nav[aria-label*="pagination"], nav[aria-label*="Pagination"]`
)

// PaginationLinks returns the absolute URLs of the pagination controls on a
// page, in document order, restricted to the page's host.
func PaginationLinks(htmlContent, pageURL string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return nil, err
	}
	page, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}
	base := documentBase(doc, pageURL)

	seen := map[string]bool{}
	var out []string
	add := func(href string) {
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return
		}
		abs := Resolve(base, href)
		u, err := url.Parse(abs)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host != page.Host {
			return
		}
		if !seen[abs] {
			seen[abs] = true
			out = append(out, abs)
		}
	}

	doc.Find(relSelector).Each(func(_ int, s *goquery.Selection) {
		add(s.AttrOr("href", ""))
	})
	doc.Find(containerSelector).Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		add(s.AttrOr("href", ""))
	})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		label := strings.TrimSpace(strings.Join(strings.Fields(s.Text()), " "))
		if label == "" {
			label = strings.TrimSpace(s.AttrOr("aria-label", ""))
		}
		if reControlLabel.MatchString(label) || (reNumbered.MatchString(label) && s.Closest(containerSelector).Length() > 0) {
			add(s.AttrOr("href", ""))
		}
	})
	return out, nil
}

// Discoverer walks pagination controls breadth first from a start page.
type Discoverer struct {
	Fetcher  Fetcher
	MaxPages int
	Logger   *zap.Logger
}

// Discover returns every pagination page reachable from startURL, in order of
// hop distance, never more than MaxPages. Visited URLs are never fetched twice,
// so cyclic pagination terminates. Gaps in numbered pages are back-filled
// from the URL pattern afterwards, still within the cap.
func (d *Discoverer) Discover(ctx context.Context, startURL string) ([]PageLink, error) {
	if d.Fetcher == nil {
		return nil, errors.New("discoverer has no fetcher")
	}
	start, err := url.Parse(strings.TrimSpace(startURL))
	if err != nil || (start.Scheme != "http" && start.Scheme != "https") || start.Host == "" {
		return nil, fmt.Errorf("start url must be absolute http(s): %q", startURL)
	}
	start.Fragment = ""
	limit := d.MaxPages
	if limit <= 0 {
		limit = DefaultMaxPages
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	found := []string{start.String()}
	seen := map[string]bool{start.String(): true}
	expanded := map[string]bool{}

	for i := 0; i < len(found) && len(found) < limit; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		current := found[i]
		htmlContent, final, err := d.Fetcher.Fetch(ctx, current)
		if err != nil {
			if i == 0 {
				return nil, fmt.Errorf("fetch start page: %w", err)
			}
			logger.Warn("pagination page fetch failed", zap.String("url", current), zap.Error(err))
			continue
		}
		if final == "" {
			final = current
		}
		if expanded[final] {
			continue
		}
		expanded[final] = true
		seen[final] = true

		links, err := PaginationLinks(htmlContent, final)
		if err != nil {
			logger.Warn("pagination parse failed", zap.String("url", final), zap.Error(err))
			continue
		}
		for _, link := range links {
			if len(found) >= limit {
				break
			}
			if !seen[link] {
				seen[link] = true
				found = append(found, link)
			}
		}
	}

	found = Backfill(found, limit)
	out := make([]PageLink, len(found))
	for i, u := range found {
		out[i] = PageLink{URL: u}
	}
	return out, nil
}

// Backfill completes numbered pagination. It finds the URL pattern in which a
// single number varies across the most pages and appends the missing numbers
// between the lowest and highest seen, until len reaches limit.
func Backfill(urls []string, limit int) []string {
	if len(urls) >= limit {
		return urls[:limit]
	}
	type pattern struct {
		prefix, suffix string
		width          int
		nums           map[int]bool
	}
	patterns := map[string]*pattern{}
	var order []string
	existing := map[string]bool{}
	for _, raw := range urls {
		existing[raw] = true
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		origin := u.Scheme + "://" + u.Host
		rest := strings.TrimPrefix(raw, origin)
		for _, loc := range reDigits.FindAllStringIndex(rest, -1) {
			token := rest[loc[0]:loc[1]]
			n, err := strconv.Atoi(token)
			if err != nil {
				continue
			}
			width := 0
			if len(token) > 1 && token[0] == '0' {
				width = len(token)
			}
			prefix, suffix := origin+rest[:loc[0]], rest[loc[1]:]
			key := prefix + "\x00" + suffix + "\x00" + strconv.Itoa(width)
			p, ok := patterns[key]
			if !ok {
				p = &pattern{prefix: prefix, suffix: suffix, width: width, nums: map[int]bool{}}
				patterns[key] = p
				order = append(order, key)
			}
			p.nums[n] = true
		}
	}

	var best *pattern
	for _, key := range order {
		p := patterns[key]
		if len(p.nums) >= 2 && (best == nil || len(p.nums) > len(best.nums)) {
			best = p
		}
	}
	if best == nil {
		return urls
	}
	nums := make([]int, 0, len(best.nums))
	for n := range best.nums {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	out := append([]string(nil), urls...)
	for n := nums[0]; n <= nums[len(nums)-1] && len(out) < limit; n++ {
		if best.nums[n] {
			continue
		}
		candidate := best.prefix + fmt.Sprintf("%0*d", best.width, n) + best.suffix
		if !existing[candidate] {
			existing[candidate] = true
			out = append(out, candidate)
		}
	}
	return out
}
