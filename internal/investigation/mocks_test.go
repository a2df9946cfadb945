package investigation

import (
	"context"
)

// Function-backed fakes for the engine's collaborator interfaces. Each
// fake falls back to a benign default when its function field is nil.

type fakeGenerator struct {
	generateFunc func(ctx context.Context, req GenerateRequest) ([]string, error)
	calls        []GenerateRequest
}

func (f *fakeGenerator) GenerateQueries(ctx context.Context, req GenerateRequest) ([]string, error) {
	f.calls = append(f.calls, req)
	if f.generateFunc != nil {
		return f.generateFunc(ctx, req)
	}
	return nil, nil
}

type fakeSearch struct {
	executeFunc func(ctx context.Context, queries []string) ([]QueryFindings, error)
	calls       int
}

func (f *fakeSearch) Execute(ctx context.Context, queries []string) ([]QueryFindings, error) {
	f.calls++
	if f.executeFunc != nil {
		return f.executeFunc(ctx, queries)
	}
	out := make([]QueryFindings, len(queries))
	for i, q := range queries {
		out[i] = QueryFindings{Query: q, Summary: "results for " + q}
	}
	return out, nil
}

type fakeAnalyzer struct {
	analyzeFunc func(ctx context.Context, in AnalyzeInput) (IterationReflection, GraphFragment, error)
	calls       []AnalyzeInput
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, in AnalyzeInput) (IterationReflection, GraphFragment, error) {
	f.calls = append(f.calls, in)
	if f.analyzeFunc != nil {
		return f.analyzeFunc(ctx, in)
	}
	return IterationReflection{Summary: "analysis", ShouldContinue: true}, GraphFragment{}, nil
}

type fakeJudge struct {
	sameFunc  func(ctx context.Context, a, b Entity) (bool, error)
	mergeFunc func(ctx context.Context, existing KnowledgeGraph, incoming GraphFragment) (KnowledgeGraph, error)
	sameCalls int
}

func (f *fakeJudge) AreSameEntity(ctx context.Context, a, b Entity) (bool, error) {
	f.sameCalls++
	if f.sameFunc != nil {
		return f.sameFunc(ctx, a, b)
	}
	return false, nil
}

func (f *fakeJudge) MergeGraphFragment(ctx context.Context, existing KnowledgeGraph, incoming GraphFragment) (KnowledgeGraph, error) {
	if f.mergeFunc != nil {
		return f.mergeFunc(ctx, existing, incoming)
	}
	return existing, nil
}

type fakeMapper struct {
	enrichFunc func(ctx context.Context, entities []Entity, graph KnowledgeGraph) (GraphFragment, error)
	calls      int
}

func (f *fakeMapper) Enrich(ctx context.Context, entities []Entity, graph KnowledgeGraph) (GraphFragment, error) {
	f.calls++
	if f.enrichFunc != nil {
		return f.enrichFunc(ctx, entities, graph)
	}
	return GraphFragment{}, nil
}

// recordingTrail captures every audit event in append order.
type recordingTrail struct {
	events []AuditEvent
}

func (r *recordingTrail) Append(ev AuditEvent) {
	r.events = append(r.events, ev)
}

func (r *recordingTrail) kinds() []string {
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func (r *recordingTrail) count(kind string) int {
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}
