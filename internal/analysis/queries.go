// Package analysis implements the language-model collaborators behind
// the research loop: query writing, iteration reflection, entity
// judgment, connection mapping, and report synthesis. Every component
// talks to the model through the narrow LLMClient interface and parses
// replies leniently; a model that answers in prose degrades the result,
// never the session.
package analysis

import (
	"context"
	"fmt"
	"strings"

	"sleuthnerd/internal/investigation"
	"sleuthnerd/internal/logging"
)

// LLMClient is the interface for LLM interactions.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// QueryWriter proposes search queries for the planner. The first round
// asks for a broad sweep across the standard due-diligence angles; later
// rounds refine along the strategy carried over from the previous
// reflection. The planner re-checks every candidate for duplication, so
// the writer only has to avoid repeats on a best-effort basis.
type QueryWriter struct {
	client LLMClient
}

// NewQueryWriter creates a query writer backed by the given client.
func NewQueryWriter(client LLMClient) *QueryWriter {
	return &QueryWriter{client: client}
}

// GenerateQueries implements investigation.QueryGenerator.
func (w *QueryWriter) GenerateQueries(ctx context.Context, req investigation.GenerateRequest) ([]string, error) {
	timer := logging.StartTimer(logging.CategoryPlanner, "QueryWriter.GenerateQueries")
	defer timer.Stop()

	limit := req.Limit
	if limit < 1 {
		limit = 5
	}

	reply, err := w.client.CompleteWithSystem(ctx, queryWriterSystemPrompt, w.buildPrompt(req, limit))
	if err != nil {
		return nil, fmt.Errorf("query generation failed: %w", err)
	}

	queries := parseStringList(reply)
	if len(queries) == 0 {
		return nil, fmt.Errorf("no usable queries in reply")
	}
	if len(queries) > limit {
		queries = queries[:limit]
	}
	logging.PlannerDebug("QueryWriter produced %d queries at depth %d", len(queries), req.Depth)
	return queries, nil
}

func (w *QueryWriter) buildPrompt(req investigation.GenerateRequest, limit int) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("## Subject\n%s\n\n", req.Subject))
	if req.Context != "" {
		sb.WriteString(fmt.Sprintf("## Background\n%s\n\n", truncateString(req.Context, 1000)))
	}

	if req.Depth == 0 || req.Strategy == "" {
		sb.WriteString("## Task\n")
		sb.WriteString(fmt.Sprintf("Write %d initial web search queries about the subject, covering the standard due-diligence angles: biographical background, professional history, financial interests, legal exposure, and public reputation.\n", limit))
	} else {
		sb.WriteString(fmt.Sprintf("## Research Round %d\n", req.Depth+1))
		sb.WriteString("The previous round ended with this strategy:\n")
		sb.WriteString(truncateString(req.Strategy, 1500))
		sb.WriteString("\n\n## Task\n")
		sb.WriteString(fmt.Sprintf("Write %d follow-up web search queries that pursue the strategy above. Prioritize unresolved red flags, newly named people and organizations, and open information gaps.\n", limit))
	}

	if len(req.Avoid) > 0 {
		sb.WriteString("\n## Already Searched\nDo not repeat or trivially restate any of these:\n")
		for _, q := range tailStrings(req.Avoid, 40) {
			sb.WriteString(fmt.Sprintf("- %s\n", q))
		}
	}

	return sb.String()
}

// queryWriterSystemPrompt steers the model toward short, engine-friendly
// web queries.
var queryWriterSystemPrompt = `You are the query writer for an investigative due-diligence research engine.

You write web search queries about a research subject. Queries must be:
- Short (under 12 words) and concrete
- Directly usable on a web search engine, no boolean operators
- Varied: each query probes a different angle, entity, or time period

Output ONLY a JSON array of query strings:
["first query", "second query"]

No commentary, no markdown.`
