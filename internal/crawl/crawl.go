// Package crawl walks a locally served site and hands every same-host page
// and asset to a visitor, following links found in HTML and CSS.
package crawl

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"amber-go/internal/amber"
	"amber-go/internal/metrics"
)

// Page is one fetched resource.
type Page struct {
	// Path is the decoded URL path, always starting with "/".
	Path        string
	ContentType string
	Body        []byte
}

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Crawler fetches pages of a single host, one at a time.
type Crawler struct {
	client *http.Client
	base   *url.URL
	logger amber.Logger
}

// New creates a crawler rooted at base. A nil client uses http.DefaultClient.
func New(base string, client *http.Client, logger amber.Logger) (*Crawler, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https: %s", base)
	}
	if client == nil {
		client = http.DefaultClient
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return &Crawler{client: client, base: u, logger: logger}, nil
}

// Crawl fetches the base URL and everything reachable from it on the same
// host, in breadth-first order, calling visit once per distinct path. Query
// strings and fragments are ignored. The first failed fetch or visit error
// stops the crawl.
func (c *Crawler) Crawl(ctx context.Context, visit func(*Page) error) error {
	queue := []*url.URL{c.base}
	seen := map[string]bool{c.base.Path: true}

	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]

		page, final, err := c.fetch(ctx, u)
		if err != nil {
			return err
		}
		if final.Path != u.Path {
			if seen[final.Path] {
				continue
			}
			seen[final.Path] = true
		}
		if err := visit(page); err != nil {
			return err
		}

		for _, link := range Links(page) {
			next, ok := c.resolve(final, link)
			if !ok || seen[next.Path] {
				continue
			}
			seen[next.Path] = true
			queue = append(queue, next)
		}
	}
	return nil
}

func (c *Crawler) fetch(ctx context.Context, u *url.URL) (*Page, *url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching %s: %w", u, err)
	}
	defer resp.Body.Close()

	metrics.CrawlFetches.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	c.logger.Debug("crawl fetch", "url", u.String(), "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, &StatusError{URL: u.String(), StatusCode: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", u, err)
	}

	final := resp.Request.URL
	return &Page{
		Path:        final.Path,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, final, nil
}

// resolve turns a link found on from into an absolute same-host URL with no
// query or fragment.
func (c *Crawler) resolve(from *url.URL, link string) (*url.URL, bool) {
	ref, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return nil, false
	}
	u := from.ResolveReference(ref)
	if u.Scheme != c.base.Scheme || u.Host != c.base.Host {
		return nil, false
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u, true
}

// Links extracts the references in an HTML or CSS page.
func Links(p *Page) []string {
	mediaType, _, _ := mime.ParseMediaType(p.ContentType)
	switch mediaType {
	case "text/html":
		return htmlLinks(p.Body)
	case "text/css":
		return cssLinks(p.Body)
	}
	return nil
}

var linkAttrs = map[string]string{
	"a":      "href",
	"link":   "href",
	"area":   "href",
	"img":    "src",
	"script": "src",
	"iframe": "src",
	"source": "src",
	"audio":  "src",
	"video":  "src",
}

func htmlLinks(body []byte) []string {
	var links []string
	z := html.NewTokenizer(bytes.NewReader(body))
	inStyle := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			return links
		case html.TextToken:
			if inStyle {
				links = append(links, cssLinks(z.Text())...)
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == "style" {
				inStyle = false
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.Data == "style" {
				inStyle = true
				continue
			}
			want, ok := linkAttrs[tok.Data]
			for _, a := range tok.Attr {
				switch {
				case ok && a.Key == want && a.Val != "":
					links = append(links, a.Val)
				case a.Key == "style":
					links = append(links, cssLinks([]byte(a.Val))...)
				}
			}
		}
	}
}

var (
	cssURLRe    = regexp.MustCompile(`url\(\s*['"]?([^'")\s]+)['"]?\s*\)`)
	cssImportRe = regexp.MustCompile(`@import\s+['"]([^'"]+)['"]`)
)

func cssLinks(body []byte) []string {
	var links []string
	for _, re := range []*regexp.Regexp{cssURLRe, cssImportRe} {
		for _, m := range re.FindAllSubmatch(body, -1) {
			if link := string(m[1]); !strings.HasPrefix(link, "data:") {
				links = append(links, link)
			}
		}
	}
	return links
}
