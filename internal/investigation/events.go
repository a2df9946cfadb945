package investigation

import "time"

// Progress phases emitted over the event stream.
const (
	PhaseStarted       = "started"
	PhasePlanning      = "planning"
	PhaseSearching     = "searching"
	PhaseReflecting    = "reflecting"
	PhaseMerging       = "merging"
	PhaseRouting       = "routing"
	PhaseConsolidating = "consolidating"
	PhaseFinished      = "finished"
)

// ProgressEvent is a lightweight live-progress notification for UIs.
// Emission is best-effort and non-blocking: a slow or absent consumer
// never stalls the research loop.
type ProgressEvent struct {
	Time     time.Time
	Session  string
	Depth    int
	Phase    string
	Message  string
	Queries  int
	Entities int
	Decision string
	Reason   string
	Err      string
}
