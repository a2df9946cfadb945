package websearch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"sleuthnerd/internal/investigation"
	"sleuthnerd/internal/logging"
)

// PageFetcher resolves page titles for source URLs. It tries a plain
// GET first and falls back to a headless browser for pages that render
// their content with JavaScript.
type PageFetcher struct {
	client   *http.Client
	maxBytes int64
	browser  *BrowserFetcher
}

// NewPageFetcher creates a fetcher. browser may be nil, in which case
// only static fetching is attempted.
func NewPageFetcher(browser *BrowserFetcher) *PageFetcher {
	return &PageFetcher{
		client:   &http.Client{Timeout: 15 * time.Second},
		maxBytes: 512 << 10,
		browser:  browser,
	}
}

// Title fetches the page at rawURL and extracts its <title> text.
func (f *PageFetcher) Title(ctx context.Context, rawURL string) (string, error) {
	title, err := f.staticTitle(ctx, rawURL)
	if err == nil && title != "" {
		return title, nil
	}
	if f.browser == nil {
		if err != nil {
			return "", err
		}
		return "", fmt.Errorf("fetch %s: no title in document", rawURL)
	}

	if err != nil {
		logging.FetchDebug("Static fetch of %s failed (%v), trying browser", rawURL, err)
	}
	body, berr := f.browser.HTML(ctx, rawURL)
	if berr != nil {
		logging.BrowserDebug("Browser fetch of %s failed: %v", rawURL, berr)
		if err != nil {
			return "", err
		}
		return "", berr
	}
	title = titleFromHTML(strings.NewReader(body))
	if title == "" {
		return "", fmt.Errorf("fetch %s: no title in document", rawURL)
	}
	return title, nil
}

func (f *PageFetcher) staticTitle(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", searchUserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: http %d", rawURL, resp.StatusCode)
	}
	return titleFromHTML(io.LimitReader(resp.Body, f.maxBytes)), nil
}

// EnrichTitles fills in missing source titles across a findings batch,
// fetching at most limit pages. Failures are logged and skipped; the
// titles are cosmetic and never worth failing a round over.
func (f *PageFetcher) EnrichTitles(ctx context.Context, findings []investigation.QueryFindings, limit int) {
	fetched := 0
	for fi := range findings {
		for si := range findings[fi].Sources {
			if fetched >= limit {
				return
			}
			src := &findings[fi].Sources[si]
			if src.Title != "" || src.URL == "" {
				continue
			}
			title, err := f.Title(ctx, src.URL)
			if err != nil {
				logging.FetchDebug("Title fetch failed for %s: %v", src.URL, err)
				continue
			}
			src.Title = truncateTitle(title)
			fetched++
		}
	}
}

// titleFromHTML scans tokens for the document <title>. Stops at <body>
// since a title past that point is malformed markup not worth chasing.
func titleFromHTML(r io.Reader) string {
	tok := html.NewTokenizer(r)
	for {
		switch tok.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			name, _ := tok.TagName()
			switch string(name) {
			case "title":
				if tok.Next() == html.TextToken {
					return strings.Join(strings.Fields(string(tok.Text())), " ")
				}
				return ""
			case "body":
				return ""
			}
		}
	}
}

func truncateTitle(title string) string {
	const max = 200
	if len(title) <= max {
		return title
	}
	return title[:max] + "..."
}
