package transform

import (
	"fmt"
	"strings"
	"time"
)

// MappingError reports an unknown (process type, document type) pair. The
// source code is the joined upstream codes, e.g. "A02+A65".
type MappingError struct {
	SourceCode        string
	AvailableMappings []string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("no data type mapping for %s (available: %s)",
		e.SourceCode, strings.Join(e.AvailableMappings, ", "))
}

// TimestampError reports a point whose timestamp cannot be derived from its
// period.
type TimestampError struct {
	Resolution  string
	PeriodStart time.Time
	Position    int
	Err         error
}

func (e *TimestampError) Error() string {
	return fmt.Sprintf("cannot place point (resolution=%q period_start=%s position=%d): %v",
		e.Resolution, e.PeriodStart.Format(time.RFC3339), e.Position, e.Err)
}

func (e *TimestampError) Unwrap() error { return e.Err }

// TransformError wraps any other transformer failure, such as area-code
// extraction, carrying the offending source value.
type TransformError struct {
	SourceValue string
	Err         error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform failed on %q: %v", e.SourceValue, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// DocumentError reports a decoded document that does not satisfy the
// transformer's structural preconditions.
type DocumentError struct {
	Reason string
}

func (e *DocumentError) Error() string {
	return "invalid document: " + e.Reason
}
