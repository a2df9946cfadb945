package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"sleuthnerd/internal/investigation"
	"sleuthnerd/internal/logging"
)

// Tavily calls the Tavily search API. Advanced depth returns fuller
// content extracts, which is what an investigation wants.
type Tavily struct {
	apiKey     string
	endpoint   string
	maxResults int
	client     *http.Client
	retryBase  time.Duration
}

// NewTavily constructs a Tavily search provider.
func NewTavily(apiKey string, maxResults int) *Tavily {
	if maxResults < 1 {
		maxResults = 5
	}
	return &Tavily{
		apiKey:     apiKey,
		endpoint:   "https://api.tavily.com/search",
		maxResults: maxResults,
		client:     &http.Client{Timeout: 30 * time.Second},
		retryBase:  time.Second,
	}
}

func (t *Tavily) Name() string { return "tavily" }

// Search posts a query to Tavily. 429 responses retry with a doubling
// delay capped at 30 seconds.
func (t *Tavily) Search(ctx context.Context, query string) (investigation.QueryFindings, error) {
	if strings.TrimSpace(t.apiKey) == "" {
		return investigation.QueryFindings{}, errors.New("tavily: API key is missing")
	}

	payload, err := json.Marshal(map[string]interface{}{
		"api_key":      t.apiKey,
		"query":        query,
		"search_depth": "advanced",
		"max_results":  t.maxResults,
	})
	if err != nil {
		return investigation.QueryFindings{}, err
	}

	var resp *http.Response
	delay := t.retryBase
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
		if err != nil {
			return investigation.QueryFindings{}, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err = t.client.Do(req)
		if err != nil {
			return investigation.QueryFindings{}, err
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			break
		}
		resp.Body.Close()

		logging.SearchDebug("Tavily 429, retrying in %v", delay)
		select {
		case <-ctx.Done():
			return investigation.QueryFindings{}, ctx.Err()
		case <-time.After(delay):
		}
		if delay < 30*time.Second {
			delay *= 2
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return investigation.QueryFindings{}, fmt.Errorf("tavily http %d", resp.StatusCode)
	}

	var response struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return investigation.QueryFindings{}, err
	}

	results := make([]Result, 0, len(response.Results))
	for _, r := range response.Results {
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return findingsFromResults(query, results, t.maxResults), nil
}
