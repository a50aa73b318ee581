package scraper

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// IndexAttr is set by the browser on every interactive element it exposes to the agent.
const IndexAttr = "data-harvest-idx"

const maxElementText = 80

// Element is one interactive element the agent can address by index.
type Element struct {
	Index       int
	Tag         string
	Text        string
	Href        string
	Type        string
	Placeholder string
}

// PageDigest is the text-only view of a page handed to the LLM.
type PageDigest struct {
	URL       string
	Title     string
	Elements  []Element
	Text      string
	Truncated bool
}

// Digest parses a marked-up page into its digest. Relative hrefs are resolved
// against the document base; the visible text is capped at maxText runes.
func Digest(htmlContent, pageURL string, maxText int) (PageDigest, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return PageDigest{}, err
	}
	base := documentBase(doc, pageURL)
	d := PageDigest{
		URL:   pageURL,
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
	}

	doc.Find("[" + IndexAttr + "]").Each(func(_ int, s *goquery.Selection) {
		idx, err := strconv.Atoi(s.AttrOr(IndexAttr, ""))
		if err != nil {
			return
		}
		text, _ := Truncate(strings.Join(strings.Fields(s.Text()), " "), maxElementText)
		if text == "" {
			text = s.AttrOr("aria-label", s.AttrOr("title", s.AttrOr("value", "")))
		}
		el := Element{
			Index:       idx,
			Tag:         goquery.NodeName(s),
			Text:        text,
			Type:        s.AttrOr("type", ""),
			Placeholder: s.AttrOr("placeholder", ""),
		}
		if href, ok := s.Attr("href"); ok {
			el.Href = Resolve(base, href)
		}
		d.Elements = append(d.Elements, el)
	})

	d.Text, d.Truncated = Truncate(ExtractCleanText(htmlContent), maxText)
	return d, nil
}

// Render formats the digest for a prompt.
func (d PageDigest) Render() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Current url: %s\nTitle: %s\nInteractive elements:\n", d.URL, d.Title)
	if len(d.Elements) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, el := range d.Elements {
		fmt.Fprintf(&sb, "[%d]<%s", el.Index, el.Tag)
		if el.Type != "" {
			fmt.Fprintf(&sb, " type=%q", el.Type)
		}
		if el.Href != "" {
			fmt.Fprintf(&sb, " href=%q", el.Href)
		}
		if el.Placeholder != "" {
			fmt.Fprintf(&sb, " placeholder=%q", el.Placeholder)
		}
		fmt.Fprintf(&sb, ">%s</%s>\n", el.Text, el.Tag)
	}
	sb.WriteString("Visible text:\n")
	sb.WriteString(d.Text)
	if d.Truncated {
		sb.WriteString("\n[text truncated, use read_content for the full page]")
	}
	return sb.String()
}

// documentBase honours <base href> when present.
func documentBase(doc *goquery.Document, pageURL string) string {
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		return Resolve(pageURL, href)
	}
	return pageURL
}

// Resolve turns ref into an absolute URL against base, without a fragment.
// ref is returned unchanged when either side fails to parse.
func Resolve(base, ref string) string {
	ref = strings.TrimSpace(ref)
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	abs := b.ResolveReference(r)
	abs.Fragment = ""
	return abs.String()
}
