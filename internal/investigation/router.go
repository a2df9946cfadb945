package investigation

// SessionView is the routing snapshot of a session: plain values, no
// references into live state, so Decide stays a pure function that is
// safe to call repeatedly.
type SessionView struct {
	SessionID      string
	Depth          int
	MaxDepth       int
	Latest         *IterationReflection
	Plateaued      bool
	Consolidated   bool
	LastBatchEmpty bool
}

// Decision pairs the routing outcome with the termination reason
// recorded when the outcome is DecisionFinish.
type Decision struct {
	Action TerminationDecision
	Reason string
}

// Decide evaluates the termination conditions in fixed priority order:
//
//  1. depth bound reached            -> finish (max_depth_reached)
//  2. reflection recommended stop    -> finish (reflection_recommended_stop)
//  3. plateau, not yet consolidated  -> consolidate
//  4. attempted query batch empty    -> finish (no_further_queries)
//  5. otherwise                      -> continue
//
// The order is load-bearing: the depth bound and the reflection's stop
// decision always win over stagnation, so the loop can never exceed its
// depth budget no matter what the graph looks like, and consolidation
// can fire at most once per session.
func Decide(view SessionView) Decision {
	if view.Depth >= view.MaxDepth {
		return Decision{Action: DecisionFinish, Reason: ReasonMaxDepth}
	}
	if view.Latest != nil && !view.Latest.ShouldContinue {
		return Decision{Action: DecisionFinish, Reason: ReasonReflectionStop}
	}
	if view.Plateaued && !view.Consolidated {
		return Decision{Action: DecisionConsolidate}
	}
	if view.LastBatchEmpty {
		return Decision{Action: DecisionFinish, Reason: ReasonNoQueries}
	}
	return Decision{Action: DecisionContinue}
}
