package persistence

import (
	"fmt"

	"github.com/asaidimu/go-anansi-sync/core/diff"
)

// ExecutionError reports the operation whose statement failed.
type ExecutionError struct {
	Phase     diff.Phase
	Operation *diff.Operation
	Err       error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("phase %d (%s): %s: %v", e.Phase, e.Phase, e.Operation, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// PartialMigrationError is returned when a backend without transactional DDL
// fails after some operations were applied. Completed operations stay in
// place; nothing is undone.
type PartialMigrationError struct {
	Completed int
	Total     int
	Err       error
}

func (e *PartialMigrationError) Error() string {
	return fmt.Sprintf("schema partially migrated (%d of %d operations applied): %v", e.Completed, e.Total, e.Err)
}

func (e *PartialMigrationError) Unwrap() error { return e.Err }
