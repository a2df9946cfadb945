package investigation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type engineFixture struct {
	gen      *fakeGenerator
	search   *fakeSearch
	analyzer *fakeAnalyzer
	judge    *fakeJudge
	mapper   *fakeMapper
	trail    *recordingTrail
}

func newFixture() *engineFixture {
	return &engineFixture{
		gen:      &fakeGenerator{},
		search:   &fakeSearch{},
		analyzer: &fakeAnalyzer{},
		judge:    &fakeJudge{},
		mapper:   &fakeMapper{},
		trail:    &recordingTrail{},
	}
}

func (f *engineFixture) build(t *testing.T, cfg OrchestratorConfig) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(cfg, Collaborators{
		Queries:  f.gen,
		Search:   f.search,
		Analyzer: f.analyzer,
		Judge:    f.judge,
		Mapper:   f.mapper,
		Trail:    f.trail,
	})
	if err != nil {
		t.Fatalf("NewOrchestrator failed: %v", err)
	}
	return o
}

// freshQueries returns a generator func that always produces novel
// queries, so planning never runs dry.
func freshQueries(prefix string) func(ctx context.Context, req GenerateRequest) ([]string, error) {
	n := 0
	return func(ctx context.Context, req GenerateRequest) ([]string, error) {
		out := make([]string, 0, req.Limit)
		for len(out) < req.Limit {
			n++
			out = append(out, fmt.Sprintf("%s query %d", prefix, n))
		}
		return out, nil
	}
}

func TestNewOrchestrator_RequiresCoreCollaborators(t *testing.T) {
	base := Collaborators{Queries: &fakeGenerator{}, Search: &fakeSearch{}, Analyzer: &fakeAnalyzer{}}

	tests := []struct {
		name   string
		mutate func(c *Collaborators)
	}{
		{"nil query generator", func(c *Collaborators) { c.Queries = nil }},
		{"nil search executor", func(c *Collaborators) { c.Search = nil }},
		{"nil analyzer", func(c *Collaborators) { c.Analyzer = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			if _, err := NewOrchestrator(DefaultOrchestratorConfig(), c); err == nil {
				t.Error("NewOrchestrator accepted a nil core collaborator")
			}
		})
	}

	// Judge, mapper and trail are optional.
	if _, err := NewOrchestrator(DefaultOrchestratorConfig(), base); err != nil {
		t.Errorf("NewOrchestrator rejected optional-nil collaborators: %v", err)
	}
}

func TestRun_RejectsEmptySubject(t *testing.T) {
	f := newFixture()
	o := f.build(t, DefaultOrchestratorConfig())

	report, err := o.Run(context.Background(), "   ", "")
	if err == nil {
		t.Fatal("Run accepted a blank subject")
	}
	if report != nil {
		t.Error("report returned for a session that never started")
	}
}

func TestRun_MaxDepthZeroPerformsOneIteration(t *testing.T) {
	f := newFixture()
	f.gen.generateFunc = freshQueries("acme")
	cfg := DefaultOrchestratorConfig()
	cfg.MaxDepth = 0
	o := f.build(t, cfg)

	report, err := o.Run(context.Background(), "Acme Corp", "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.TerminationReason != ReasonMaxDepth {
		t.Errorf("reason = %q, want %q", report.TerminationReason, ReasonMaxDepth)
	}
	if report.Iterations != 1 {
		t.Errorf("iterations = %d, want exactly 1", report.Iterations)
	}
	if !report.CleanTermination() {
		t.Error("depth-bound finish flagged as error termination")
	}
	if f.search.calls != 1 {
		t.Errorf("search called %d times, want 1", f.search.calls)
	}
	if len(f.analyzer.calls) != 1 {
		t.Errorf("analyzer called %d times, want 1", len(f.analyzer.calls))
	}
	if len(report.Queries) != cfg.MaxQueriesPerDepth {
		t.Errorf("executed queries = %d, want %d", len(report.Queries), cfg.MaxQueriesPerDepth)
	}
}

func TestRun_ReflectionStopEndsSessionEarly(t *testing.T) {
	f := newFixture()
	f.gen.generateFunc = freshQueries("acme")
	f.analyzer.analyzeFunc = func(ctx context.Context, in AnalyzeInput) (IterationReflection, GraphFragment, error) {
		return IterationReflection{Summary: "round", ShouldContinue: in.Depth == 0}, GraphFragment{}, nil
	}
	cfg := DefaultOrchestratorConfig()
	cfg.MaxDepth = 5
	o := f.build(t, cfg)

	report, err := o.Run(context.Background(), "Acme Corp", "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.TerminationReason != ReasonReflectionStop {
		t.Errorf("reason = %q, want %q", report.TerminationReason, ReasonReflectionStop)
	}
	if report.Iterations != 2 {
		t.Errorf("iterations = %d, want 2 (stop honored at depth 1)", report.Iterations)
	}
}

func TestRun_TerminatesWithinDepthBudget(t *testing.T) {
	f := newFixture()
	f.gen.generateFunc = freshQueries("acme")
	round := 0
	f.analyzer.analyzeFunc = func(ctx context.Context, in AnalyzeInput) (IterationReflection, GraphFragment, error) {
		round++
		frag := GraphFragment{Entities: []EntityMention{{Name: fmt.Sprintf("entity %d", round)}}}
		return IterationReflection{Summary: "round", ShouldContinue: true}, frag, nil
	}
	cfg := DefaultOrchestratorConfig()
	cfg.MaxDepth = 3
	o := f.build(t, cfg)

	report, err := o.Run(context.Background(), "Acme Corp", "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.TerminationReason != ReasonMaxDepth {
		t.Errorf("reason = %q, want %q", report.TerminationReason, ReasonMaxDepth)
	}
	if report.Iterations > cfg.MaxDepth+1 {
		t.Fatalf("iterations = %d, exceeds bound of %d", report.Iterations, cfg.MaxDepth+1)
	}
	if report.Iterations != 3 {
		t.Errorf("iterations = %d, want 3 with an always-continue analyzer", report.Iterations)
	}
	if len(report.Stats) != report.Iterations {
		t.Fatalf("stats entries = %d, want one per iteration", len(report.Stats))
	}
	for i, st := range report.Stats {
		if st.Depth != i {
			t.Errorf("stats[%d].Depth = %d", i, st.Depth)
		}
		if st.Queries != cfg.MaxQueriesPerDepth {
			t.Errorf("stats[%d].Queries = %d, want %d", i, st.Queries, cfg.MaxQueriesPerDepth)
		}
		if st.NewEntities != 1 {
			t.Errorf("stats[%d].NewEntities = %d, want 1 fresh entity per round", i, st.NewEntities)
		}
	}
}

func TestRun_StagnationConsolidatesExactlyOnce(t *testing.T) {
	f := newFixture()
	f.gen.generateFunc = func(ctx context.Context, req GenerateRequest) ([]string, error) {
		if req.Depth >= 4 {
			return nil, nil
		}
		out := make([]string, 0, req.Limit)
		for i := 0; i < req.Limit; i++ {
			out = append(out, fmt.Sprintf("depth %d query %d", req.Depth, i))
		}
		return out, nil
	}
	round := 0
	f.analyzer.analyzeFunc = func(ctx context.Context, in AnalyzeInput) (IterationReflection, GraphFragment, error) {
		round++
		counts := []int{5, 3, 0, 0}
		n := 0
		if round <= len(counts) {
			n = counts[round-1]
		}
		var frag GraphFragment
		for i := 0; i < n; i++ {
			frag.Entities = append(frag.Entities, EntityMention{Name: fmt.Sprintf("entity %d-%d", round, i)})
		}
		return IterationReflection{Summary: "round", ShouldContinue: true}, frag, nil
	}
	cfg := DefaultOrchestratorConfig()
	cfg.MaxDepth = 10
	cfg.StagnationWindow = 2
	o := f.build(t, cfg)

	report, err := o.Run(context.Background(), "Acme Corp", "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// Discovery counts 5,3,0,0 over a window of 2: the plateau lands
	// after round four and triggers the consolidation pass; round five
	// plans nothing, so the session finishes on the empty batch.
	if f.mapper.calls != 1 {
		t.Errorf("connection mapper called %d times, want exactly 1", f.mapper.calls)
	}
	if got := f.trail.count(AuditConsolidation); got != 1 {
		t.Errorf("consolidation events = %d, want 1", got)
	}
	if report.TerminationReason != ReasonNoQueries {
		t.Errorf("reason = %q, want %q", report.TerminationReason, ReasonNoQueries)
	}
	if report.Iterations != 5 {
		t.Errorf("iterations = %d, want 5", report.Iterations)
	}
	if len(report.Entities) != 8 {
		t.Errorf("entities = %d, want 8", len(report.Entities))
	}
}

func TestRun_EmptyFirstBatchIsFatal(t *testing.T) {
	f := newFixture()
	o := f.build(t, DefaultOrchestratorConfig())

	report, err := o.Run(context.Background(), "Acme Corp", "")
	if err == nil {
		t.Fatal("Run() succeeded with no plannable queries")
	}
	var empty *EmptyQueryBatchError
	if !errors.As(err, &empty) {
		t.Fatalf("error = %v, want EmptyQueryBatchError", err)
	}
	if report == nil {
		t.Fatal("fatal abort must still return the report package")
	}
	if report.TerminationReason != ErrorReason(KindEmptyQueryBatch) {
		t.Errorf("reason = %q, want %q", report.TerminationReason, ErrorReason(KindEmptyQueryBatch))
	}
	if report.CleanTermination() {
		t.Error("fatal abort reported as clean termination")
	}
	if f.search.calls != 0 {
		t.Error("search dispatched despite an empty first batch")
	}
	if got := f.trail.count(AuditPlannerExhausted); got != 1 {
		t.Errorf("planner_exhausted events = %d, want 1", got)
	}
}

func TestRun_EmptyLaterBatchFinishesCleanly(t *testing.T) {
	f := newFixture()
	f.gen.generateFunc = func(ctx context.Context, req GenerateRequest) ([]string, error) {
		if req.Depth > 0 {
			return nil, nil
		}
		return []string{"first sweep"}, nil
	}
	cfg := DefaultOrchestratorConfig()
	cfg.MaxDepth = 5
	o := f.build(t, cfg)

	report, err := o.Run(context.Background(), "Acme Corp", "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.TerminationReason != ReasonNoQueries {
		t.Errorf("reason = %q, want %q", report.TerminationReason, ReasonNoQueries)
	}
	if report.Iterations != 2 {
		t.Errorf("iterations = %d, want 2 (empty batch still reflects before finishing)", report.Iterations)
	}
}

func TestRun_ReflectionFailureIsFatal(t *testing.T) {
	f := newFixture()
	f.gen.generateFunc = freshQueries("acme")
	f.analyzer.analyzeFunc = func(ctx context.Context, in AnalyzeInput) (IterationReflection, GraphFragment, error) {
		return IterationReflection{}, GraphFragment{}, errors.New("model outage")
	}
	o := f.build(t, DefaultOrchestratorConfig())

	report, err := o.Run(context.Background(), "Acme Corp", "")
	var unavailable *ReflectionUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("error = %v, want ReflectionUnavailableError", err)
	}
	if report.TerminationReason != ErrorReason(KindReflectionUnavailable) {
		t.Errorf("reason = %q, want %q", report.TerminationReason, ErrorReason(KindReflectionUnavailable))
	}
	if len(report.Queries) == 0 {
		t.Error("executed queries lost from the abort report")
	}
}

func TestRun_BatchRetryRecovers(t *testing.T) {
	f := newFixture()
	f.gen.generateFunc = freshQueries("acme")
	f.search.executeFunc = func(ctx context.Context, queries []string) ([]QueryFindings, error) {
		if f.search.calls == 1 {
			return nil, errors.New("network down")
		}
		out := make([]QueryFindings, len(queries))
		for i, q := range queries {
			out[i] = QueryFindings{Query: q, Summary: "recovered"}
		}
		return out, nil
	}
	f.analyzer.analyzeFunc = func(ctx context.Context, in AnalyzeInput) (IterationReflection, GraphFragment, error) {
		return IterationReflection{Summary: "round", ShouldContinue: false}, GraphFragment{}, nil
	}
	o := f.build(t, DefaultOrchestratorConfig())

	report, err := o.Run(context.Background(), "Acme Corp", "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if f.search.calls != 2 {
		t.Errorf("search called %d times, want 2 (one retry)", f.search.calls)
	}
	if got := f.trail.count(AuditBatchRetry); got != 1 {
		t.Errorf("batch_retry events = %d, want 1", got)
	}
	if report.Degraded {
		t.Error("recovered batch flagged the session degraded")
	}
	if got := len(f.analyzer.calls[0].Findings); got != 5 {
		t.Errorf("findings after retry = %d, want 5", got)
	}
}

func TestRun_BatchTotalFailureDegrades(t *testing.T) {
	f := newFixture()
	f.gen.generateFunc = freshQueries("acme")
	f.search.executeFunc = func(ctx context.Context, queries []string) ([]QueryFindings, error) {
		return nil, errors.New("network down")
	}
	f.analyzer.analyzeFunc = func(ctx context.Context, in AnalyzeInput) (IterationReflection, GraphFragment, error) {
		return IterationReflection{Summary: "nothing usable", ShouldContinue: false}, GraphFragment{}, nil
	}
	o := f.build(t, DefaultOrchestratorConfig())

	report, err := o.Run(context.Background(), "Acme Corp", "")
	if err != nil {
		t.Fatalf("batch failure must not abort the session: %v", err)
	}
	if f.search.calls != 2 {
		t.Errorf("search called %d times, want 2", f.search.calls)
	}
	if !report.Degraded {
		t.Error("session not flagged degraded after total batch failure")
	}
	if !report.CleanTermination() {
		t.Errorf("reason = %q, want a clean finish", report.TerminationReason)
	}
	if len(f.analyzer.calls[0].Findings) != 0 {
		t.Error("analyzer saw findings from a failed batch")
	}
	joined := strings.Join(report.Errors, "\n")
	if !strings.Contains(joined, "all 5 queries failed") {
		t.Errorf("errors = %v, want the batch failure recorded", report.Errors)
	}
}

func TestRun_PerQueryFailuresAreIsolated(t *testing.T) {
	f := newFixture()
	f.gen.generateFunc = freshQueries("acme")
	f.search.executeFunc = func(ctx context.Context, queries []string) ([]QueryFindings, error) {
		var out []QueryFindings
		for i, q := range queries {
			switch i {
			case 0:
				out = append(out, QueryFindings{Query: q, Err: "timeout"})
			case 1:
				// dropped entirely
			default:
				out = append(out, QueryFindings{Query: q, Summary: "ok"})
			}
		}
		return out, nil
	}
	f.analyzer.analyzeFunc = func(ctx context.Context, in AnalyzeInput) (IterationReflection, GraphFragment, error) {
		return IterationReflection{Summary: "round", ShouldContinue: in.Depth == 0}, GraphFragment{}, nil
	}
	cfg := DefaultOrchestratorConfig()
	cfg.MaxDepth = 5
	o := f.build(t, cfg)

	report, err := o.Run(context.Background(), "Acme Corp", "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := len(f.analyzer.calls[0].Findings); got != 3 {
		t.Errorf("findings = %d, want 3 of 5 kept", got)
	}
	if got := f.trail.count(AuditQueryFailed); got != 4 {
		t.Errorf("query_failed events = %d, want 4 (two per iteration)", got)
	}
	if len(report.Queries) != 10 {
		t.Errorf("executed queries = %d, want 10 (failures still count as executed)", len(report.Queries))
	}

	// Failed queries must not be re-planned: every depth-1 generation
	// request carries the full depth-0 batch in its avoid list.
	for _, call := range f.gen.calls {
		if call.Depth != 1 {
			continue
		}
		avoid := strings.Join(call.Avoid, "\n")
		if !strings.Contains(avoid, "acme query 1") {
			t.Errorf("depth-1 avoid list missing a failed query: %v", call.Avoid)
		}
	}
}

func TestRun_CancellationStopsBetweenIterations(t *testing.T) {
	f := newFixture()
	f.gen.generateFunc = freshQueries("acme")
	ctx, cancel := context.WithCancel(context.Background())
	f.analyzer.analyzeFunc = func(_ context.Context, in AnalyzeInput) (IterationReflection, GraphFragment, error) {
		cancel()
		frag := GraphFragment{Entities: []EntityMention{{Name: "Acme Corporation"}}}
		return IterationReflection{Summary: "round", ShouldContinue: true}, frag, nil
	}
	cfg := DefaultOrchestratorConfig()
	cfg.MaxDepth = 5
	o := f.build(t, cfg)

	report, err := o.Run(ctx, "Acme Corp", "")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if report.TerminationReason != ErrorReason(KindCancelled) {
		t.Errorf("reason = %q, want %q", report.TerminationReason, ErrorReason(KindCancelled))
	}
	// The in-flight iteration drains before the session stops.
	if report.Iterations != 1 {
		t.Errorf("iterations = %d, want the first iteration completed", report.Iterations)
	}
	if len(report.Entities) != 1 {
		t.Errorf("entities = %d, want the drained iteration's merge preserved", len(report.Entities))
	}
	if len(f.analyzer.calls) != 1 {
		t.Errorf("analyzer called %d times, want 1", len(f.analyzer.calls))
	}
}

func TestRun_MergeDegradationIsNonFatal(t *testing.T) {
	f := newFixture()
	f.gen.generateFunc = freshQueries("acme")
	f.judge.sameFunc = func(ctx context.Context, a, b Entity) (bool, error) {
		return false, errors.New("llm unavailable")
	}
	f.analyzer.analyzeFunc = func(ctx context.Context, in AnalyzeInput) (IterationReflection, GraphFragment, error) {
		frag := GraphFragment{Entities: []EntityMention{
			{Name: "Acme Corporation"},
			{Name: "The Acme Company"},
		}}
		return IterationReflection{Summary: "round", ShouldContinue: false}, frag, nil
	}
	o := f.build(t, DefaultOrchestratorConfig())

	report, err := o.Run(context.Background(), "Acme Corp", "")
	if err != nil {
		t.Fatalf("merge degradation must not abort the session: %v", err)
	}
	if !report.Degraded {
		t.Error("degraded merge not flagged on the report")
	}
	if got := f.trail.count(AuditMergeDegraded); got != 1 {
		t.Errorf("merge_degraded events = %d, want 1", got)
	}
	if !report.CleanTermination() {
		t.Errorf("reason = %q, want a clean finish", report.TerminationReason)
	}
}

func TestRun_AuditTrailShape(t *testing.T) {
	f := newFixture()
	f.gen.generateFunc = freshQueries("acme")
	cfg := DefaultOrchestratorConfig()
	cfg.MaxDepth = 0
	o := f.build(t, cfg)

	if _, err := o.Run(context.Background(), "Acme Corp", ""); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	kinds := f.trail.kinds()
	if len(kinds) == 0 {
		t.Fatal("no audit events recorded")
	}
	if kinds[0] != AuditSessionStarted {
		t.Errorf("first event = %q, want %q", kinds[0], AuditSessionStarted)
	}
	if kinds[len(kinds)-1] != AuditSessionFinished {
		t.Errorf("last event = %q, want %q", kinds[len(kinds)-1], AuditSessionFinished)
	}
	counts := map[string]int{
		AuditQueryDispatched: cfg.MaxQueriesPerDepth,
		AuditReflection:      1,
		AuditMerge:           1,
		AuditRouting:         1,
	}
	for kind, want := range counts {
		if got := f.trail.count(kind); got != want {
			t.Errorf("%s events = %d, want %d", kind, got, want)
		}
	}
	for _, ev := range f.trail.events {
		if ev.SessionID == "" {
			t.Fatal("audit event missing session ID")
		}
		if ev.Timestamp.IsZero() {
			t.Fatal("audit event missing timestamp")
		}
	}
}

func TestRun_EventsNeverBlock(t *testing.T) {
	f := newFixture()
	f.gen.generateFunc = freshQueries("acme")
	cfg := DefaultOrchestratorConfig()
	cfg.MaxDepth = 0
	o := f.build(t, cfg)

	// Nobody reads this channel; Run must still complete.
	o.SetEvents(make(chan ProgressEvent))

	if _, err := o.Run(context.Background(), "Acme Corp", ""); err != nil {
		t.Fatalf("Run() blocked or failed on an unread event channel: %v", err)
	}
}

func TestRun_EventsCarrySessionProgress(t *testing.T) {
	f := newFixture()
	f.gen.generateFunc = freshQueries("acme")
	cfg := DefaultOrchestratorConfig()
	cfg.MaxDepth = 0
	o := f.build(t, cfg)

	ch := make(chan ProgressEvent, 64)
	o.SetEvents(ch)

	report, err := o.Run(context.Background(), "Acme Corp", "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	close(ch)

	var phases []string
	for ev := range ch {
		if ev.Session != report.SessionID {
			t.Fatalf("event session = %q, want %q", ev.Session, report.SessionID)
		}
		phases = append(phases, ev.Phase)
	}
	joined := strings.Join(phases, ",")
	for _, want := range []string{PhaseStarted, PhasePlanning, PhaseSearching, PhaseReflecting, PhaseMerging, PhaseRouting, PhaseFinished} {
		if !strings.Contains(joined, want) {
			t.Errorf("phase %q missing from event stream %v", want, phases)
		}
	}
}
