// Package websearch executes the engine's query batches against a web
// search provider. Providers are interchangeable behind a one-method
// interface; the executor owns batch concurrency, per-query timeouts,
// and source enrichment. A query that fails comes back as an error
// entry in its findings, never as a batch error.
package websearch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"sleuthnerd/internal/config"
	"sleuthnerd/internal/investigation"
)

// Provider runs a single web search query.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string) (investigation.QueryFindings, error)
}

// NewProvider builds the provider the config selects: an explicit
// choice wins, otherwise the first provider with an API key, otherwise
// the keyless DuckDuckGo scraper.
func NewProvider(cfg config.SearchConfig) (Provider, error) {
	name, apiKey := cfg.ActiveSearchProvider()
	switch name {
	case "tavily":
		return NewTavily(apiKey, cfg.MaxResultsPerQuery), nil
	case "brave":
		return NewBrave(apiKey, cfg.MaxResultsPerQuery), nil
	case "duckduckgo":
		return NewDuckDuckGo(cfg.MaxResultsPerQuery), nil
	default:
		return nil, fmt.Errorf("unknown search provider %q (valid: %s)", cfg.Provider, strings.Join(config.ValidSearchProviders, ", "))
	}
}

// Result is one raw provider hit before findings assembly.
type Result struct {
	Title   string
	URL     string
	Snippet string
}

// findingsFromResults assembles the engine-facing findings for one
// query: sources from the hits, the summary from the snippets.
func findingsFromResults(query string, results []Result, max int) investigation.QueryFindings {
	if max > 0 && len(results) > max {
		results = results[:max]
	}
	f := investigation.QueryFindings{Query: query}
	var sb strings.Builder
	for _, r := range results {
		f.Sources = append(f.Sources, investigation.SourceRef{URL: r.URL, Title: r.Title})
		line := r.Title
		if r.Snippet != "" {
			if line != "" {
				line += ": "
			}
			line += r.Snippet
		}
		if line == "" {
			continue
		}
		sb.WriteString("- ")
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	f.Summary = strings.TrimSpace(sb.String())
	return f
}

// searchUserAgent is sent on scrape and fetch requests. Sites serve the
// lite and static variants this package parses to browser agents only.
const searchUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// rateGate serializes requests through one provider instance and spaces
// them out. wait returns with the gate held unless the context expired;
// release sets the earliest time the next request may fire and lets the
// next waiter through.
type rateGate struct {
	mu      sync.Mutex
	readyAt time.Time
}

func (g *rateGate) wait(ctx context.Context) error {
	g.mu.Lock()
	for {
		wait := time.Until(g.readyAt)
		if wait <= 0 {
			return nil
		}
		g.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		g.mu.Lock()
	}
}

func (g *rateGate) release(delay time.Duration) {
	g.readyAt = time.Now().Add(delay)
	g.mu.Unlock()
}
