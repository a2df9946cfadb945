package websearch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"sleuthnerd/internal/investigation"
	"sleuthnerd/internal/logging"
)

// DuckDuckGo scrapes the lite HTML interface. No key required, which
// makes it the fallback provider; one request per second, paced by a
// gate, and 429s retry with a doubling delay capped at 30 seconds.
type DuckDuckGo struct {
	endpoint   string
	maxResults int
	client     *http.Client
	retryBase  time.Duration
	gate       rateGate
}

// NewDuckDuckGo creates a DuckDuckGo searcher.
func NewDuckDuckGo(maxResults int) *DuckDuckGo {
	if maxResults < 1 {
		maxResults = 5
	}
	return &DuckDuckGo{
		endpoint:   "https://lite.duckduckgo.com/lite/",
		maxResults: maxResults,
		client:     &http.Client{Timeout: 20 * time.Second},
		retryBase:  time.Second,
	}
}

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

// Search posts the query to the lite page and parses the result table.
func (d *DuckDuckGo) Search(ctx context.Context, query string) (investigation.QueryFindings, error) {
	if strings.TrimSpace(query) == "" {
		return investigation.QueryFindings{}, errors.New("query is empty")
	}

	form := url.Values{}
	form.Set("q", query)

	var resp *http.Response
	delay := d.retryBase
	for {
		if err := d.gate.wait(ctx); err != nil {
			return investigation.QueryFindings{}, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			d.gate.release(0)
			return investigation.QueryFindings{}, err
		}
		req.Header.Set("User-Agent", searchUserAgent)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err = d.client.Do(req)
		if err != nil {
			d.gate.release(time.Second)
			return investigation.QueryFindings{}, err
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			d.gate.release(time.Second)
			break
		}
		resp.Body.Close()

		logging.SearchDebug("DuckDuckGo 429, retrying in %v", delay)
		d.gate.release(delay)
		if delay < 30*time.Second {
			delay *= 2
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return investigation.QueryFindings{}, fmt.Errorf("duckduckgo http %d", resp.StatusCode)
	}

	results := parseLiteResults(resp.Body)
	return findingsFromResults(query, results, d.maxResults), nil
}

// parseLiteResults walks the lite page DOM collecting result links and
// their snippet cells. The lite page interleaves them in document
// order, so pairing by index holds.
func parseLiteResults(r io.Reader) []Result {
	doc, err := html.Parse(r)
	if err != nil {
		return nil
	}

	var results []Result
	var snippets []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "a":
				if nodeHasClass(n, "result-link") {
					href := resolveRedirect(nodeAttr(n, "href"))
					title := strings.TrimSpace(nodeText(n))
					if href != "" && title != "" {
						results = append(results, Result{Title: title, URL: href})
					}
				}
			case "td":
				if nodeHasClass(n, "result-snippet") {
					snippets = append(snippets, strings.TrimSpace(nodeText(n)))
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	for i := range results {
		if i < len(snippets) {
			results[i].Snippet = snippets[i]
		}
	}
	return results
}

// resolveRedirect unwraps DuckDuckGo's /l/?uddg= redirect links to the
// real target URL.
func resolveRedirect(href string) string {
	if !strings.Contains(href, "uddg=") {
		return href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

func nodeAttr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func nodeHasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(nodeAttr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
