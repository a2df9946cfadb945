package investigation

import (
	"context"
	"strings"
)

// GenerateRequest is what a query generator sees for one attempt. The
// Strategy hint is the prior reflection's opaque payload; Avoid lists
// queries already executed or already planned this round.
type GenerateRequest struct {
	Subject  string
	Context  string
	Depth    int
	Strategy string
	Avoid    []string
	Limit    int
}

// QueryGenerator proposes search query candidates. Implementations are
// untrusted: the planner re-checks every candidate for duplication.
type QueryGenerator interface {
	GenerateQueries(ctx context.Context, req GenerateRequest) ([]string, error)
}

// PlanRequest is one planning round. Prior is nil at depth 0, where the
// batch is a broad first sweep rather than a refinement.
type PlanRequest struct {
	Subject  string
	Context  string
	Depth    int
	Prior    *IterationReflection
	Executed []string
}

// QueryPlanner turns reflection strategy into a deduplicated query
// batch. Candidates whose normalized text already appears among the
// executed queries (or earlier in the same batch) are silently dropped
// before counting toward the batch size; generation is retried until the
// batch is full or the attempt ceiling is hit.
type QueryPlanner struct {
	gen         QueryGenerator
	batchSize   int
	maxAttempts int
}

// NewQueryPlanner builds a planner producing batches of up to batchSize
// queries in at most maxAttempts generation rounds. Values below 1 are
// clamped to 1.
func NewQueryPlanner(gen QueryGenerator, batchSize, maxAttempts int) *QueryPlanner {
	if batchSize < 1 {
		batchSize = 1
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &QueryPlanner{gen: gen, batchSize: batchSize, maxAttempts: maxAttempts}
}

// Plan produces the next batch. When the ceiling is hit short of a full
// batch it returns what was planned together with a
// *QueryGenerationExhaustedError; callers proceed with the partial
// batch. An empty batch is the caller's signal that no avenues remain.
func (p *QueryPlanner) Plan(ctx context.Context, req PlanRequest) ([]string, error) {
	seen := make(map[string]struct{}, len(req.Executed))
	for _, q := range req.Executed {
		if key := NormalizeQuery(q); key != "" {
			seen[key] = struct{}{}
		}
	}

	strategy := ""
	if req.Prior != nil {
		strategy = req.Prior.Strategy
	}

	var batch []string
	var lastErr error
	attempts := 0
	for attempts < p.maxAttempts && len(batch) < p.batchSize {
		attempts++
		avoid := make([]string, 0, len(req.Executed)+len(batch))
		avoid = append(avoid, req.Executed...)
		avoid = append(avoid, batch...)

		candidates, err := p.gen.GenerateQueries(ctx, GenerateRequest{
			Subject:  req.Subject,
			Context:  req.Context,
			Depth:    req.Depth,
			Strategy: strategy,
			Avoid:    avoid,
			Limit:    p.batchSize - len(batch),
		})
		if err != nil {
			lastErr = err
			continue
		}
		for _, q := range candidates {
			q = strings.TrimSpace(q)
			key := NormalizeQuery(q)
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			batch = append(batch, q)
			if len(batch) == p.batchSize {
				break
			}
		}
	}

	if len(batch) < p.batchSize {
		return batch, &QueryGenerationExhaustedError{
			Attempts: attempts,
			Planned:  len(batch),
			Want:     p.batchSize,
			Err:      lastErr,
		}
	}
	return batch, nil
}
