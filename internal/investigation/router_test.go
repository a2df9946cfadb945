package investigation

import "testing"

func reflectionWith(shouldContinue bool) *IterationReflection {
	return &IterationReflection{Summary: "summary", ShouldContinue: shouldContinue}
}

func TestDecide_PriorityOrder(t *testing.T) {
	tests := []struct {
		name       string
		view       SessionView
		wantAction TerminationDecision
		wantReason string
	}{
		{
			name:       "depth bound wins over everything",
			view:       SessionView{Depth: 3, MaxDepth: 3, Latest: reflectionWith(false), Plateaued: true, LastBatchEmpty: true},
			wantAction: DecisionFinish,
			wantReason: ReasonMaxDepth,
		},
		{
			name:       "depth past bound still finishes",
			view:       SessionView{Depth: 7, MaxDepth: 3, Latest: reflectionWith(true)},
			wantAction: DecisionFinish,
			wantReason: ReasonMaxDepth,
		},
		{
			name:       "reflection stop wins over plateau",
			view:       SessionView{Depth: 1, MaxDepth: 5, Latest: reflectionWith(false), Plateaued: true},
			wantAction: DecisionFinish,
			wantReason: ReasonReflectionStop,
		},
		{
			name:       "plateau consolidates before empty batch finishes",
			view:       SessionView{Depth: 2, MaxDepth: 5, Latest: reflectionWith(true), Plateaued: true, LastBatchEmpty: true},
			wantAction: DecisionConsolidate,
		},
		{
			name:       "plateau after consolidation falls through to empty batch",
			view:       SessionView{Depth: 2, MaxDepth: 5, Latest: reflectionWith(true), Plateaued: true, Consolidated: true, LastBatchEmpty: true},
			wantAction: DecisionFinish,
			wantReason: ReasonNoQueries,
		},
		{
			name:       "plateau after consolidation continues when queries remain",
			view:       SessionView{Depth: 2, MaxDepth: 5, Latest: reflectionWith(true), Plateaued: true, Consolidated: true},
			wantAction: DecisionContinue,
		},
		{
			name:       "empty batch finishes",
			view:       SessionView{Depth: 1, MaxDepth: 5, Latest: reflectionWith(true), LastBatchEmpty: true},
			wantAction: DecisionFinish,
			wantReason: ReasonNoQueries,
		},
		{
			name:       "default continues",
			view:       SessionView{Depth: 1, MaxDepth: 5, Latest: reflectionWith(true)},
			wantAction: DecisionContinue,
		},
		{
			name:       "missing reflection defaults to continue",
			view:       SessionView{Depth: 1, MaxDepth: 5},
			wantAction: DecisionContinue,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.view)
			if got.Action != tt.wantAction {
				t.Errorf("Decide() action = %s, want %s", got.Action, tt.wantAction)
			}
			if got.Reason != tt.wantReason {
				t.Errorf("Decide() reason = %q, want %q", got.Reason, tt.wantReason)
			}
		})
	}
}

func TestDecide_IsPure(t *testing.T) {
	view := SessionView{Depth: 2, MaxDepth: 5, Latest: reflectionWith(true), Plateaued: true}
	first := Decide(view)
	for i := 0; i < 10; i++ {
		if got := Decide(view); got != first {
			t.Fatalf("Decide() changed across calls: got %+v, want %+v", got, first)
		}
	}
}
