package persistence

import (
	"slices"
	"sync"
)

// StatementRecorder implements the SQL memory part of QueryRunner. Backends
// embed it and call Capture before executing a statement.
type StatementRecorder struct {
	mu         sync.Mutex
	enabled    bool
	statements []string
}

// EnableSQLMemory starts recording and clears anything recorded before.
func (r *StatementRecorder) EnableSQLMemory() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = true
	r.statements = nil
}

// DisableSQLMemory stops recording and discards the recorded statements.
func (r *StatementRecorder) DisableSQLMemory() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = false
	r.statements = nil
}

// GetMemorySQL returns the recorded statements in issue order.
func (r *StatementRecorder) GetMemorySQL() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.statements)
}

// Capture records the statement if memory is enabled and reports whether it
// did. A captured statement must not be executed.
func (r *StatementRecorder) Capture(sql string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled {
		return false
	}
	r.statements = append(r.statements, sql)
	return true
}

// Recording reports whether SQL memory is enabled.
func (r *StatementRecorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}
