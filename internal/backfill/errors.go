package backfill

import "fmt"

// ProgressError reports an operation-state problem: unknown ID, a resume of
// an operation that is not resumable, an illegal transition.
type ProgressError struct {
	BackfillID int64
	Reason     string
}

func (e *ProgressError) Error() string {
	return fmt.Sprintf("backfill %d: %s", e.BackfillID, e.Reason)
}

// ResourceError reports that the concurrency cap rejected a new operation.
// No progress record exists when this is returned.
type ResourceError struct {
	Limit   int
	Current int
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("backfill concurrency limit reached (%d of %d in flight)", e.Current, e.Limit)
}

// CoverageError reports a coverage-analysis input problem.
type CoverageError struct {
	Endpoint string
	Reason   string
}

func (e *CoverageError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("coverage analysis for %q: %s", e.Endpoint, e.Reason)
	}
	return "coverage analysis: " + e.Reason
}
