package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"sleuthnerd/internal/investigation"
	"sleuthnerd/internal/logging"
)

// Brave uses the Brave Search API. The free tier allows one request per
// second, so calls through one instance are serialized and paced by a
// gate; 429 responses retry after the delay the rate-limit headers ask
// for.
type Brave struct {
	apiKey     string
	endpoint   string
	maxResults int
	client     *http.Client
	gate       rateGate
}

// NewBrave constructs a Brave search provider.
func NewBrave(apiKey string, maxResults int) *Brave {
	if maxResults < 1 {
		maxResults = 5
	}
	return &Brave{
		apiKey:     apiKey,
		endpoint:   "https://api.search.brave.com/res/v1/web/search",
		maxResults: maxResults,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (b *Brave) Name() string { return "brave" }

// Search executes one Brave query under the pacing gate.
func (b *Brave) Search(ctx context.Context, query string) (investigation.QueryFindings, error) {
	if strings.TrimSpace(b.apiKey) == "" {
		return investigation.QueryFindings{}, errors.New("brave: API key is missing")
	}
	endpoint := b.endpoint + "?q=" + url.QueryEscape(query) + "&count=" + strconv.Itoa(b.maxResults)

	var resp *http.Response
	for {
		if err := b.gate.wait(ctx); err != nil {
			return investigation.QueryFindings{}, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			b.gate.release(0)
			return investigation.QueryFindings{}, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Subscription-Token", b.apiKey)

		resp, err = b.client.Do(req)
		if err != nil {
			b.gate.release(time.Second)
			return investigation.QueryFindings{}, err
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			b.gate.release(braveNextDelay(resp.Header))
			break
		}

		wait := braveRetryDelay(resp.Header)
		resp.Body.Close()
		b.gate.release(wait)
		logging.SearchDebug("Brave 429, retrying in %v", wait)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return investigation.QueryFindings{}, fmt.Errorf("brave http %d", resp.StatusCode)
	}

	var payload struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return investigation.QueryFindings{}, err
	}

	results := make([]Result, 0, len(payload.Web.Results))
	for _, r := range payload.Web.Results {
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}
	return findingsFromResults(query, results, b.maxResults), nil
}

// braveRetryDelay reads X-RateLimit-Reset to decide how long to wait
// before retrying a 429. The header is a comma-separated list of reset
// times in seconds; the smallest wins. Missing or unparseable means one
// second.
func braveRetryDelay(h http.Header) time.Duration {
	raw := h.Get("X-RateLimit-Reset")
	if raw == "" {
		return time.Second
	}
	reset := -1
	for _, part := range strings.Split(raw, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 {
			continue
		}
		if reset < 0 || n < reset {
			reset = n
		}
	}
	if reset <= 0 {
		return time.Second
	}
	return time.Duration(reset) * time.Second
}

// braveNextDelay reads X-RateLimit-Remaining (comma-separated:
// per-second, per-month) to pace the next request. An exhausted or
// absent per-second bucket holds the gate for a second.
func braveNextDelay(h http.Header) time.Duration {
	raw := h.Get("X-RateLimit-Remaining")
	if raw == "" {
		return time.Second
	}
	perSecond, err := strconv.Atoi(strings.TrimSpace(strings.SplitN(raw, ",", 2)[0]))
	if err != nil || perSecond <= 0 {
		return time.Second
	}
	return 0
}
