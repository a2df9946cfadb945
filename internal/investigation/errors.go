package investigation

import "fmt"

// Error kinds, as embedded in "error:<kind>" termination reasons and
// audit payloads.
const (
	KindEmptyQueryBatch       = "empty_query_batch"
	KindQueryGenExhausted     = "query_generation_exhausted"
	KindBatchExecutionFailure = "batch_execution_failure"
	KindReflectionUnavailable = "reflection_unavailable"
	KindMergeDegraded         = "merge_degraded"
	KindCancelled             = "cancelled"
)

// EmptyQueryBatchError is fatal: planning produced zero novel queries at
// depth 0, so the investigation cannot start. At any later depth an empty
// batch is a normal finish trigger, not an error.
type EmptyQueryBatchError struct {
	Subject string
}

func (e *EmptyQueryBatchError) Error() string {
	return fmt.Sprintf("no novel queries could be planned for %q at depth 0", e.Subject)
}

// QueryGenerationExhaustedError reports that the planner hit its attempt
// ceiling before filling a batch. Non-fatal: the partial batch is used.
type QueryGenerationExhaustedError struct {
	Attempts int
	Planned  int
	Want     int
	Err      error
}

func (e *QueryGenerationExhaustedError) Error() string {
	return fmt.Sprintf("query generation exhausted after %d attempts (%d/%d queries)", e.Attempts, e.Planned, e.Want)
}

func (e *QueryGenerationExhaustedError) Unwrap() error {
	return e.Err
}

// BatchExecutionError reports that every query in a batch failed, after
// the one batch-level retry. The iteration degrades to no findings.
type BatchExecutionError struct {
	Depth   int
	Queries int
	Err     error
}

func (e *BatchExecutionError) Error() string {
	return fmt.Sprintf("all %d queries failed at depth %d: %v", e.Queries, e.Depth, e.Err)
}

func (e *BatchExecutionError) Unwrap() error {
	return e.Err
}

// ReflectionUnavailableError is fatal: without a reflection the router
// has no continuation decision to act on.
type ReflectionUnavailableError struct {
	Depth int
	Err   error
}

func (e *ReflectionUnavailableError) Error() string {
	return fmt.Sprintf("reflection analysis unavailable at depth %d: %v", e.Depth, e.Err)
}

func (e *ReflectionUnavailableError) Unwrap() error {
	return e.Err
}
