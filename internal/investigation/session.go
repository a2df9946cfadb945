package investigation

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Termination reasons recorded on a finished session. Fatal aborts use
// ErrorReason instead so callers can tell clean and error-induced
// termination apart.
const (
	ReasonMaxDepth       = "max_depth_reached"
	ReasonReflectionStop = "reflection_recommended_stop"
	ReasonNoQueries      = "no_further_queries"
)

// ErrorReason builds the termination reason for a session aborted by a
// fatal error of the given kind, e.g. "error:reflection_unavailable".
func ErrorReason(kind string) string {
	return "error:" + kind
}

// CleanReason reports whether a termination reason describes a normal
// finish rather than a fatal abort.
func CleanReason(reason string) bool {
	return reason != "" && !strings.HasPrefix(reason, "error:")
}

// TerminationDecision is the routing outcome evaluated after every
// iteration. DecisionFinish is terminal and irreversible for a session.
type TerminationDecision int

const (
	DecisionContinue TerminationDecision = iota
	DecisionConsolidate
	DecisionFinish
)

func (d TerminationDecision) String() string {
	switch d {
	case DecisionContinue:
		return "continue"
	case DecisionConsolidate:
		return "consolidate"
	case DecisionFinish:
		return "finish"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// QueryRecord is one executed search query and the depth it was issued at.
type QueryRecord struct {
	Text  string `json:"text"`
	Depth int    `json:"depth"`
}

// NormalizeQuery lowercases a query and collapses whitespace runs so that
// trivially restated queries share one dedup key.
func NormalizeQuery(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// QuerySet is the append-only set of every query dispatched during a
// session. Membership is keyed on the normalized text; insertion order is
// retained only for reporting.
type QuerySet struct {
	records []QueryRecord
	seen    map[string]struct{}
}

func NewQuerySet() *QuerySet {
	return &QuerySet{seen: make(map[string]struct{})}
}

// Add records a query at the given depth. It returns false without
// modifying the set when the normalized text is already present.
func (q *QuerySet) Add(text string, depth int) bool {
	key := NormalizeQuery(text)
	if key == "" {
		return false
	}
	if _, ok := q.seen[key]; ok {
		return false
	}
	q.seen[key] = struct{}{}
	q.records = append(q.records, QueryRecord{Text: text, Depth: depth})
	return true
}

// Contains reports whether the normalized form of text has been recorded.
func (q *QuerySet) Contains(text string) bool {
	_, ok := q.seen[NormalizeQuery(text)]
	return ok
}

// Texts returns the recorded query strings in insertion order.
func (q *QuerySet) Texts() []string {
	out := make([]string, len(q.records))
	for i, r := range q.records {
		out[i] = r.Text
	}
	return out
}

// Records returns a copy of all recorded queries.
func (q *QuerySet) Records() []QueryRecord {
	out := make([]QueryRecord, len(q.records))
	copy(out, q.records)
	return out
}

func (q *QuerySet) Len() int {
	return len(q.records)
}

// IterationReflection is the analysis produced for one depth level.
// Reflections are append-only and never mutated after creation.
type IterationReflection struct {
	Depth          int    `json:"depth"`
	Summary        string `json:"summary"`
	ShouldContinue bool   `json:"should_continue"`
	Reasoning      string `json:"reasoning"`

	// Strategy is free-text guidance for the next planning round. The
	// engine passes it through verbatim and never parses its contents.
	Strategy string `json:"strategy"`
}

// IterationStat is the per-depth execution tally recorded as each
// iteration completes.
type IterationStat struct {
	Depth       int `json:"depth"`
	Queries     int `json:"queries"`
	NewEntities int `json:"new_entities"`
	Errors      int `json:"errors"`
}

// ResearchSession is the full state of one investigation run. It is owned
// exclusively by the Orchestrator: collaborators only ever receive copies,
// so no locking is needed anywhere in the loop.
type ResearchSession struct {
	ID        string
	Subject   string
	Context   string
	CreatedAt time.Time
	Depth     int
	MaxDepth  int

	Queries     *QuerySet
	Reflections []IterationReflection
	Findings    []QueryFindings
	Entities    map[string]Entity
	Graph       KnowledgeGraph
	Stats       []IterationStat

	reason         string
	consolidated   bool
	lastBatchEmpty bool
	degraded       bool
	errs           []string
}

// NewSession creates a session at depth 0 with empty query, entity and
// graph state.
func NewSession(subject, context string, maxDepth int) *ResearchSession {
	now := time.Now().UTC()
	id := fmt.Sprintf("sess_%s_%s", now.Format("20060102_150405"), uuid.NewString()[:8])
	return &ResearchSession{
		ID:        id,
		Subject:   subject,
		Context:   context,
		CreatedAt: now,
		MaxDepth:  maxDepth,
		Queries:   NewQuerySet(),
		Entities:  make(map[string]Entity),
		Graph:     NewKnowledgeGraph(),
	}
}

// Terminate sets the termination reason. The first call wins; later calls
// are no-ops and return false.
func (s *ResearchSession) Terminate(reason string) bool {
	if s.reason != "" {
		return false
	}
	s.reason = reason
	return true
}

// TerminationReason returns the recorded reason, or "" while the session
// is still live.
func (s *ResearchSession) TerminationReason() string {
	return s.reason
}

// Terminated reports whether a termination reason has been set.
func (s *ResearchSession) Terminated() bool {
	return s.reason != ""
}

// MarkDegraded flags that some result quality was lost to a recoverable
// failure (degraded merge, failed batch). The flag is sticky.
func (s *ResearchSession) MarkDegraded() {
	s.degraded = true
}

// RecordError keeps a human-readable note of a non-fatal failure for the
// final report.
func (s *ResearchSession) RecordError(msg string) {
	if msg != "" {
		s.errs = append(s.errs, msg)
	}
}

// view snapshots the routing-relevant state. The latest reflection is
// copied so the router never holds a reference into session state.
func (s *ResearchSession) view(plateaued bool) SessionView {
	v := SessionView{
		SessionID:      s.ID,
		Depth:          s.Depth,
		MaxDepth:       s.MaxDepth,
		Plateaued:      plateaued,
		Consolidated:   s.consolidated,
		LastBatchEmpty: s.lastBatchEmpty,
	}
	if n := len(s.Reflections); n > 0 {
		latest := s.Reflections[n-1]
		v.Latest = &latest
	}
	return v
}
