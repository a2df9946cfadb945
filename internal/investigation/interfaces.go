package investigation

import (
	"context"
	"time"
)

// The engine talks to everything outside the loop through the narrow
// contracts below. Implementations live elsewhere (websearch, analysis,
// logging); tests substitute function-backed fakes.

// SourceRef is one cited source for a query's findings.
type SourceRef struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// QueryFindings is the outcome of executing a single search query.
// A failed query either carries Err or is absent from the batch result.
type QueryFindings struct {
	Query   string      `json:"query"`
	Sources []SourceRef `json:"sources,omitempty"`
	Summary string      `json:"summary"`
	Err     string      `json:"error,omitempty"`
}

// SearchExecutor runs a whole query batch. Implementations own the
// intra-batch concurrency and per-query timeouts; individual query
// failures surface as Err entries or missing results, never as the
// returned error. A non-nil error means total outage.
type SearchExecutor interface {
	Execute(ctx context.Context, queries []string) ([]QueryFindings, error)
}

// AnalyzeInput carries everything the reflection analyzer may consider.
// All slices are copies; implementations are free to retain them.
type AnalyzeInput struct {
	Subject       string
	Context       string
	Depth         int
	Findings      []QueryFindings
	Reflections   []IterationReflection
	KnownEntities []string
}

// ReflectionAnalyzer turns accumulated findings into the iteration's
// reflection plus the entities and relations it mentioned. The
// reflection must always be well-formed: on ambiguous input the
// continuation decision defaults to true. A returned error means the
// analysis is unavailable entirely, which is fatal to the session.
type ReflectionAnalyzer interface {
	Analyze(ctx context.Context, in AnalyzeInput) (IterationReflection, GraphFragment, error)
}

// SimilarityJudge supplies the semantic half of entity merging. Errors
// degrade the merge to exact-name matching; they are never fatal.
type SimilarityJudge interface {
	// AreSameEntity decides whether two records refer to one real-world
	// actor.
	AreSameEntity(ctx context.Context, a, b Entity) (bool, error)

	// MergeGraphFragment integrates a fragment into an existing graph,
	// resolving near-duplicate nodes semantically. The engine validates
	// the result and falls back to its own deterministic merge when the
	// output is unusable.
	MergeGraphFragment(ctx context.Context, existing KnowledgeGraph, incoming GraphFragment) (KnowledgeGraph, error)
}

// ConnectionMapper proposes cross-entity relations the per-iteration
// analyses missed. It runs at most once per session, on consolidation.
type ConnectionMapper interface {
	Enrich(ctx context.Context, entities []Entity, graph KnowledgeGraph) (GraphFragment, error)
}

// Report is the structured due-diligence output produced from a finished
// session.
type Report struct {
	SessionID        string    `json:"session_id"`
	Subject          string    `json:"subject"`
	RiskLevel        string    `json:"risk_level"`
	ExecutiveSummary string    `json:"executive_summary"`
	KeyFindings      []string  `json:"key_findings,omitempty"`
	RedFlags         []string  `json:"red_flags,omitempty"`
	KeyRelationships []string  `json:"key_relationships,omitempty"`
	InformationGaps  []string  `json:"information_gaps,omitempty"`
	Recommendations  []string  `json:"recommendations,omitempty"`
	Markdown         string    `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
}

// ReportSynthesizer consumes the final session package. Formatting and
// delivery are entirely its concern.
type ReportSynthesizer interface {
	Synthesize(ctx context.Context, in ReportInput) (*Report, error)
}

// ReportInput is the package assembled when a session terminates: every
// reflection, the full entity graph, execution counts and the
// termination reason, clean or otherwise.
type ReportInput struct {
	SessionID         string                `json:"session_id"`
	Subject           string                `json:"subject"`
	Context           string                `json:"context,omitempty"`
	StartedAt         time.Time             `json:"started_at"`
	FinishedAt        time.Time             `json:"finished_at"`
	MaxDepth          int                   `json:"max_depth"`
	Iterations        int                   `json:"iterations"`
	TerminationReason string                `json:"termination_reason"`
	Degraded          bool                  `json:"degraded"`
	Errors            []string              `json:"errors,omitempty"`
	Queries           []QueryRecord         `json:"queries"`
	Reflections       []IterationReflection `json:"reflections"`
	Stats             []IterationStat       `json:"stats,omitempty"`
	Entities          []Entity              `json:"entities"`
	Graph             KnowledgeGraph        `json:"graph"`
}

// CleanTermination reports whether the session finished without a fatal
// error. Callers must surface the distinction; a report built from an
// aborted session is never presented as a clean one.
func (r ReportInput) CleanTermination() bool {
	return CleanReason(r.TerminationReason)
}

// Audit event kinds appended by the engine.
const (
	AuditSessionStarted   = "session_started"
	AuditQueryDispatched  = "query_dispatched"
	AuditQueryFailed      = "query_failed"
	AuditBatchRetry       = "batch_retry"
	AuditPlannerExhausted = "planner_exhausted"
	AuditReflection       = "reflection_recorded"
	AuditMerge            = "merge_completed"
	AuditMergeDegraded    = "merge_degraded"
	AuditRouting          = "routing_decision"
	AuditConsolidation    = "consolidation"
	AuditError            = "error"
	AuditSessionFinished  = "session_finished"
)

// AuditEvent is one append-only trail entry. Payload values must be
// JSON-encodable.
type AuditEvent struct {
	Timestamp time.Time              `json:"ts"`
	SessionID string                 `json:"session"`
	Depth     int                    `json:"depth"`
	Kind      string                 `json:"kind"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// AuditTrail records engine events. Appends must not fail the session;
// implementations swallow their own write errors.
type AuditTrail interface {
	Append(event AuditEvent)
}

// NopTrail discards all events.
type NopTrail struct{}

func (NopTrail) Append(AuditEvent) {}
