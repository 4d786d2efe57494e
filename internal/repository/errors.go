package repository

import "fmt"

// StoreError is the uniform storage-layer failure. Batch writes report how
// many rows were rolled back with them.
type StoreError struct {
	Model     string
	Op        string
	BatchSize int
	Err       error
}

func (e *StoreError) Error() string {
	if e.BatchSize > 0 {
		return fmt.Sprintf("store: %s %s (batch of %d): %v", e.Op, e.Model, e.BatchSize, e.Err)
	}
	return fmt.Sprintf("store: %s %s: %v", e.Op, e.Model, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
