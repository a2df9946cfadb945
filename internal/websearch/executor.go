package websearch

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"sleuthnerd/internal/config"
	"sleuthnerd/internal/investigation"
	"sleuthnerd/internal/logging"
)

// BatchExecutor fans a query batch out across a provider with bounded
// concurrency. Results keep the batch's query order. A query that
// fails becomes an error entry in its slot; the batch as a whole
// errors only when every query failed, which the engine treats as a
// provider outage.
type BatchExecutor struct {
	provider        Provider
	fetcher         *PageFetcher
	maxConcurrent   int
	perQueryTimeout time.Duration
	fetchPages      bool
	titleBudget     int
}

// NewBatchExecutor wires an executor from config. fetcher may be nil
// to skip title enrichment regardless of the fetch_pages setting.
func NewBatchExecutor(cfg config.SearchConfig, provider Provider, fetcher *PageFetcher) *BatchExecutor {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &BatchExecutor{
		provider:        provider,
		fetcher:         fetcher,
		maxConcurrent:   maxConcurrent,
		perQueryTimeout: cfg.GetPerQueryTimeout(),
		fetchPages:      cfg.FetchPages,
		titleBudget:     5,
	}
}

// Execute runs every query and returns one findings entry per query,
// in the same order.
func (e *BatchExecutor) Execute(ctx context.Context, queries []string) ([]investigation.QueryFindings, error) {
	if len(queries) == 0 {
		return nil, nil
	}

	timer := logging.StartTimer(logging.CategorySearch, fmt.Sprintf("batch of %d via %s", len(queries), e.provider.Name()))
	defer timer.StopWithInfo()

	findings := make([]investigation.QueryFindings, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxConcurrent)
	for i, query := range queries {
		g.Go(func() error {
			qctx, cancel := context.WithTimeout(gctx, e.perQueryTimeout)
			defer cancel()

			logging.SearchDebug("Searching: %s", query)
			result, err := e.provider.Search(qctx, query)
			if err != nil {
				logging.SearchWarn("Query %q failed: %v", query, err)
				findings[i] = investigation.QueryFindings{Query: query, Err: err.Error()}
				return nil
			}
			result.Query = query
			findings[i] = result
			return nil
		})
	}
	// Failures land in the findings slots, so workers always return
	// nil and Wait only synchronizes.
	_ = g.Wait()

	failed := 0
	firstErr := ""
	for _, f := range findings {
		if f.Err != "" {
			failed++
			if firstErr == "" {
				firstErr = f.Err
			}
		}
	}
	if failed == len(queries) {
		return nil, fmt.Errorf("search provider %s: all %d queries failed: %s", e.provider.Name(), len(queries), firstErr)
	}

	if e.fetchPages && e.fetcher != nil {
		e.fetcher.EnrichTitles(ctx, findings, e.titleBudget)
	}

	logging.Search("Batch done: %d/%d queries succeeded", len(queries)-failed, len(queries))
	return findings, nil
}
