// Package investigation implements the autonomous deep-research engine:
// a depth-bounded plan -> search -> reflect -> merge -> route loop over
// external search and analysis collaborators. The engine guarantees
// bounded, deterministic termination and an append-only audit trail
// regardless of how noisy the collaborators are; everything
// non-deterministic lives behind the interfaces in interfaces.go.
package investigation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// OrchestratorConfig bounds one research session.
type OrchestratorConfig struct {
	MaxDepth           int
	MaxQueriesPerDepth int
	MaxPlanAttempts    int
	StagnationWindow   int
	StagnationEpsilon  int
}

// DefaultOrchestratorConfig returns the standard bounds: three depth
// levels, five queries per level, and a two-iteration stagnation window.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		MaxDepth:           3,
		MaxQueriesPerDepth: 5,
		MaxPlanAttempts:    3,
		StagnationWindow:   2,
		StagnationEpsilon:  0,
	}
}

func (c *OrchestratorConfig) sanitize() {
	if c.MaxDepth < 0 {
		c.MaxDepth = 0
	}
	if c.MaxQueriesPerDepth < 1 {
		c.MaxQueriesPerDepth = 1
	}
	if c.MaxPlanAttempts < 1 {
		c.MaxPlanAttempts = 1
	}
	if c.StagnationWindow < 1 {
		c.StagnationWindow = 1
	}
	if c.StagnationEpsilon < 0 {
		c.StagnationEpsilon = 0
	}
}

// Collaborators are the external capabilities the engine drives.
// Queries, Search and Analyzer are required; Judge, Mapper and Trail
// degrade gracefully when nil.
type Collaborators struct {
	Queries  QueryGenerator
	Search   SearchExecutor
	Analyzer ReflectionAnalyzer
	Judge    SimilarityJudge
	Mapper   ConnectionMapper
	Trail    AuditTrail
}

// Orchestrator drives research sessions. It owns all session state for
// the duration of Run: collaborators receive copies, state is threaded
// as values, and no locking is needed anywhere in the loop.
type Orchestrator struct {
	cfg      OrchestratorConfig
	planner  *QueryPlanner
	merger   *EntityGraphMerger
	search   SearchExecutor
	analyzer ReflectionAnalyzer
	mapper   ConnectionMapper
	trail    AuditTrail
	events   chan<- ProgressEvent
}

// NewOrchestrator wires an engine from its collaborators.
func NewOrchestrator(cfg OrchestratorConfig, c Collaborators) (*Orchestrator, error) {
	if c.Queries == nil {
		return nil, fmt.Errorf("query generator is required")
	}
	if c.Search == nil {
		return nil, fmt.Errorf("search executor is required")
	}
	if c.Analyzer == nil {
		return nil, fmt.Errorf("reflection analyzer is required")
	}
	cfg.sanitize()
	trail := c.Trail
	if trail == nil {
		trail = NopTrail{}
	}
	return &Orchestrator{
		cfg:      cfg,
		planner:  NewQueryPlanner(c.Queries, cfg.MaxQueriesPerDepth, cfg.MaxPlanAttempts),
		merger:   NewEntityGraphMerger(c.Judge),
		search:   c.Search,
		analyzer: c.Analyzer,
		mapper:   c.Mapper,
		trail:    trail,
	}, nil
}

// SetEvents attaches a live progress stream. Events are sent
// best-effort; the engine never blocks on a slow consumer.
func (o *Orchestrator) SetEvents(ch chan<- ProgressEvent) {
	o.events = ch
}

// =============================================================================
// RESEARCH LOOP
// =============================================================================

// Run performs one full investigation of subject and returns the final
// report package. The package is returned even when the session aborts
// on a fatal error, flagged with an "error:<kind>" termination reason,
// alongside the error itself; it is never nil unless the arguments are
// unusable.
func (o *Orchestrator) Run(ctx context.Context, subject, subjectContext string) (*ReportInput, error) {
	if strings.TrimSpace(subject) == "" {
		return nil, fmt.Errorf("subject is required")
	}
	sess := NewSession(subject, subjectContext, o.cfg.MaxDepth)
	tracker := NewStagnationTracker(o.cfg.StagnationWindow, o.cfg.StagnationEpsilon)

	o.audit(sess, AuditSessionStarted, map[string]interface{}{
		"subject":   sess.Subject,
		"max_depth": sess.MaxDepth,
	})
	o.emit(sess, ProgressEvent{Phase: PhaseStarted, Message: "session started"})

	for {
		// Cancellation is honored only here, between iterations. Work
		// already in flight inside an iteration drains on its own
		// timeouts so partial results are not thrown away mid-batch.
		if err := ctx.Err(); err != nil {
			return o.fatal(sess, KindCancelled, err)
		}
		iterCtx := context.WithoutCancel(ctx)
		errsBefore := len(sess.errs)

		o.emit(sess, ProgressEvent{Phase: PhasePlanning})
		batch := o.plan(iterCtx, sess)

		sess.lastBatchEmpty = len(batch) == 0
		if sess.lastBatchEmpty && sess.Depth == 0 {
			return o.fatal(sess, KindEmptyQueryBatch, &EmptyQueryBatchError{Subject: sess.Subject})
		}

		if len(batch) > 0 {
			o.emit(sess, ProgressEvent{Phase: PhaseSearching, Queries: len(batch)})
			sess.Findings = append(sess.Findings, o.executeBatch(iterCtx, sess, batch)...)
		}

		o.emit(sess, ProgressEvent{Phase: PhaseReflecting})
		reflection, fragment, err := o.analyzer.Analyze(iterCtx, o.analyzeInput(sess))
		if err != nil {
			return o.fatal(sess, KindReflectionUnavailable, &ReflectionUnavailableError{Depth: sess.Depth, Err: err})
		}
		reflection.Depth = sess.Depth
		sess.Reflections = append(sess.Reflections, reflection)
		o.audit(sess, AuditReflection, map[string]interface{}{
			"should_continue": reflection.ShouldContinue,
			"summary_chars":   len(reflection.Summary),
			"mentions":        len(fragment.Entities),
			"relations":       len(fragment.Relations),
		})

		o.emit(sess, ProgressEvent{Phase: PhaseMerging})
		entities, graph, stats := o.merger.Merge(iterCtx, sess.Entities, sess.Graph, fragment)
		sess.Entities, sess.Graph = entities, graph
		if stats.Degraded {
			sess.MarkDegraded()
			sess.RecordError(fmt.Sprintf("entity merge degraded to exact-name matching at depth %d", sess.Depth))
			o.audit(sess, AuditMergeDegraded, map[string]interface{}{"kind": KindMergeDegraded})
		}
		o.audit(sess, AuditMerge, map[string]interface{}{
			"new_entities":       stats.NewEntities,
			"merged_mentions":    stats.MergedMentions,
			"collapsed_entities": stats.CollapsedEntities,
			"new_edges":          stats.NewEdges,
			"collapsed_edges":    stats.CollapsedEdges,
			"dropped_relations":  stats.DroppedRelations,
			"total_entities":     len(sess.Entities),
		})
		tracker.Record(stats.NewEntities)
		sess.Stats = append(sess.Stats, IterationStat{
			Depth:       sess.Depth,
			Queries:     len(batch),
			NewEntities: stats.NewEntities,
			Errors:      len(sess.errs) - errsBefore,
		})

		// Depth advances only once the iteration's reflection and merge
		// are in; the routing decision sees the post-iteration state.
		sess.Depth++

		decision := Decide(sess.view(tracker.IsPlateaued()))
		o.auditDecision(sess, decision, tracker)
		o.emit(sess, ProgressEvent{
			Phase:    PhaseRouting,
			Decision: decision.Action.String(),
			Reason:   decision.Reason,
			Entities: len(sess.Entities),
		})

		switch decision.Action {
		case DecisionConsolidate:
			o.consolidate(iterCtx, sess)
			decision = Decide(sess.view(tracker.IsPlateaued()))
			o.auditDecision(sess, decision, tracker)
			if decision.Action == DecisionFinish {
				return o.finish(sess, decision.Reason), nil
			}
		case DecisionFinish:
			return o.finish(sess, decision.Reason), nil
		}
	}
}

// plan requests the next query batch. Exhausted generation is non-fatal:
// the partial batch is used and the shortfall audited.
func (o *Orchestrator) plan(ctx context.Context, sess *ResearchSession) []string {
	var prior *IterationReflection
	if n := len(sess.Reflections); n > 0 {
		latest := sess.Reflections[n-1]
		prior = &latest
	}
	batch, err := o.planner.Plan(ctx, PlanRequest{
		Subject:  sess.Subject,
		Context:  sess.Context,
		Depth:    sess.Depth,
		Prior:    prior,
		Executed: sess.Queries.Texts(),
	})
	if err != nil {
		var exhausted *QueryGenerationExhaustedError
		if errors.As(err, &exhausted) {
			sess.RecordError(exhausted.Error())
			o.audit(sess, AuditPlannerExhausted, map[string]interface{}{
				"kind":     KindQueryGenExhausted,
				"attempts": exhausted.Attempts,
				"planned":  exhausted.Planned,
				"want":     exhausted.Want,
			})
		} else {
			sess.RecordError(err.Error())
			o.audit(sess, AuditError, map[string]interface{}{"error": err.Error(), "stage": "planning"})
		}
	}
	return batch
}

// executeBatch dispatches one query batch through the search executor.
// Every query is audited at dispatch and recorded as executed whether or
// not it succeeds, so failing queries are never re-planned. Individual
// failures are excluded from the findings; a batch where everything
// failed is retried once, then the iteration degrades to no findings.
func (o *Orchestrator) executeBatch(ctx context.Context, sess *ResearchSession, batch []string) []QueryFindings {
	for _, q := range batch {
		sess.Queries.Add(q, sess.Depth)
		o.audit(sess, AuditQueryDispatched, map[string]interface{}{"query": q})
	}

	kept, err := o.attemptBatch(ctx, sess, batch)
	if err == nil && len(kept) > 0 {
		return kept
	}
	cause := "all queries in batch failed"
	if err != nil {
		cause = err.Error()
	}
	o.audit(sess, AuditBatchRetry, map[string]interface{}{"queries": len(batch), "cause": cause})

	kept, err = o.attemptBatch(ctx, sess, batch)
	if err == nil && len(kept) > 0 {
		return kept
	}
	if err == nil {
		err = errors.New("all queries in batch failed")
	}
	batchErr := &BatchExecutionError{Depth: sess.Depth, Queries: len(batch), Err: err}
	sess.MarkDegraded()
	sess.RecordError(batchErr.Error())
	o.audit(sess, AuditError, map[string]interface{}{
		"kind":  KindBatchExecutionFailure,
		"error": batchErr.Error(),
	})
	return nil
}

func (o *Orchestrator) attemptBatch(ctx context.Context, sess *ResearchSession, batch []string) ([]QueryFindings, error) {
	results, err := o.search.Execute(ctx, batch)
	if err != nil {
		return nil, err
	}
	resolved := make(map[string]bool, len(results))
	var kept []QueryFindings
	for _, r := range results {
		resolved[NormalizeQuery(r.Query)] = true
		if r.Err != "" {
			sess.RecordError(fmt.Sprintf("query %q failed: %s", r.Query, r.Err))
			o.audit(sess, AuditQueryFailed, map[string]interface{}{"query": r.Query, "error": r.Err})
			continue
		}
		kept = append(kept, r)
	}
	for _, q := range batch {
		if !resolved[NormalizeQuery(q)] {
			sess.RecordError(fmt.Sprintf("query %q returned no result", q))
			o.audit(sess, AuditQueryFailed, map[string]interface{}{"query": q, "error": "no result returned"})
		}
	}
	return kept, nil
}

func (o *Orchestrator) analyzeInput(sess *ResearchSession) AnalyzeInput {
	findings := make([]QueryFindings, len(sess.Findings))
	copy(findings, sess.Findings)
	reflections := make([]IterationReflection, len(sess.Reflections))
	copy(reflections, sess.Reflections)
	entities := sortedEntities(sess.Entities)
	known := make([]string, len(entities))
	for i, e := range entities {
		known[i] = e.Name
	}
	return AnalyzeInput{
		Subject:       sess.Subject,
		Context:       sess.Context,
		Depth:         sess.Depth,
		Findings:      findings,
		Reflections:   reflections,
		KnownEntities: known,
	}
}

// consolidate runs the one-shot connection mapping pass. The flag is set
// before anything else, so a second consolidation can never be selected
// whatever happens here.
func (o *Orchestrator) consolidate(ctx context.Context, sess *ResearchSession) {
	sess.consolidated = true
	o.emit(sess, ProgressEvent{Phase: PhaseConsolidating})
	if o.mapper == nil {
		o.audit(sess, AuditConsolidation, map[string]interface{}{
			"skipped": true,
			"cause":   "no connection mapper configured",
		})
		return
	}
	start := time.Now()
	fragment, err := o.mapper.Enrich(ctx, sortedEntities(sess.Entities), sess.Graph.Clone())
	if err != nil {
		sess.RecordError(fmt.Sprintf("connection mapping failed: %v", err))
		o.audit(sess, AuditError, map[string]interface{}{"error": err.Error(), "stage": "consolidation"})
		o.audit(sess, AuditConsolidation, map[string]interface{}{"skipped": true, "cause": err.Error()})
		return
	}
	entities, graph, stats := o.merger.MergeEnrichment(ctx, sess.Entities, sess.Graph, fragment)
	sess.Entities, sess.Graph = entities, graph
	if stats.Degraded {
		sess.MarkDegraded()
		o.audit(sess, AuditMergeDegraded, map[string]interface{}{
			"kind":  KindMergeDegraded,
			"stage": "consolidation",
		})
	}
	o.audit(sess, AuditConsolidation, map[string]interface{}{
		"new_entities":    stats.NewEntities,
		"new_edges":       stats.NewEdges,
		"collapsed_edges": stats.CollapsedEdges,
		"duration_ms":     time.Since(start).Milliseconds(),
	})
}

// =============================================================================
// TERMINATION
// =============================================================================

func (o *Orchestrator) finish(sess *ResearchSession, reason string) *ReportInput {
	sess.Terminate(reason)
	report := o.assemble(sess)
	o.audit(sess, AuditSessionFinished, map[string]interface{}{
		"reason":     report.TerminationReason,
		"iterations": report.Iterations,
		"entities":   len(report.Entities),
		"queries":    len(report.Queries),
		"degraded":   report.Degraded,
	})
	o.emit(sess, ProgressEvent{
		Phase:    PhaseFinished,
		Reason:   report.TerminationReason,
		Entities: len(report.Entities),
	})
	return report
}

// fatal aborts the session. The report package is still assembled and
// returned so callers can persist whatever was learned, but it carries
// the error-induced termination reason and the error is propagated.
func (o *Orchestrator) fatal(sess *ResearchSession, kind string, cause error) (*ReportInput, error) {
	o.audit(sess, AuditError, map[string]interface{}{
		"kind":  kind,
		"error": cause.Error(),
		"fatal": true,
	})
	report := o.finish(sess, ErrorReason(kind))
	return report, fmt.Errorf("session %s aborted: %w", sess.ID, cause)
}

func (o *Orchestrator) assemble(sess *ResearchSession) *ReportInput {
	reflections := make([]IterationReflection, len(sess.Reflections))
	copy(reflections, sess.Reflections)
	return &ReportInput{
		SessionID:         sess.ID,
		Subject:           sess.Subject,
		Context:           sess.Context,
		StartedAt:         sess.CreatedAt,
		FinishedAt:        time.Now().UTC(),
		MaxDepth:          sess.MaxDepth,
		Iterations:        len(reflections),
		TerminationReason: sess.TerminationReason(),
		Degraded:          sess.degraded,
		Errors:            append([]string(nil), sess.errs...),
		Queries:           sess.Queries.Records(),
		Reflections:       reflections,
		Stats:             append([]IterationStat(nil), sess.Stats...),
		Entities:          sortedEntities(sess.Entities),
		Graph:             sess.Graph.Clone(),
	}
}

func (o *Orchestrator) audit(sess *ResearchSession, kind string, payload map[string]interface{}) {
	o.trail.Append(AuditEvent{
		Timestamp: time.Now().UTC(),
		SessionID: sess.ID,
		Depth:     sess.Depth,
		Kind:      kind,
		Payload:   payload,
	})
}

func (o *Orchestrator) auditDecision(sess *ResearchSession, d Decision, tracker *StagnationTracker) {
	payload := map[string]interface{}{
		"action":    d.Action.String(),
		"plateaued": tracker.IsPlateaued(),
		"window":    tracker.Counts(),
	}
	if d.Reason != "" {
		payload["reason"] = d.Reason
	}
	o.audit(sess, AuditRouting, payload)
}

// emit pushes a progress event without ever blocking the loop.
func (o *Orchestrator) emit(sess *ResearchSession, ev ProgressEvent) {
	if o.events == nil {
		return
	}
	ev.Time = time.Now()
	ev.Session = sess.ID
	ev.Depth = sess.Depth
	select {
	case o.events <- ev:
	default:
	}
}
