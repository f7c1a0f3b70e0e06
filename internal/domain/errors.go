// Package domain defines core types, interfaces, and errors for the pipeline engine.
package domain

import (
	"fmt"
	"strings"
)

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates an invalid pipeline definition or request.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// CyclicDependencyError indicates the declared tables form a dependency cycle.
type CyclicDependencyError struct {
	Pipeline string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("pipeline %q: cycle detected in table dependencies", e.Pipeline)
}

// UnknownDependencyError indicates a table reads from an upstream that is not declared.
type UnknownDependencyError struct {
	Table    string
	Upstream string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("table %q: unknown upstream %q", e.Table, e.Upstream)
}

// CheckpointGapError indicates a checkpoint references an upstream position
// that no longer exists (e.g. purged landing-zone files). The run is halted
// rather than silently skipping data.
type CheckpointGapError struct {
	Table    string
	Upstream string
	Position string
}

func (e *CheckpointGapError) Error() string {
	return fmt.Sprintf("table %q: checkpoint position %q no longer present in upstream %q",
		e.Table, e.Position, e.Upstream)
}

// ConstraintViolationError indicates a FAIL-policy constraint rejected a batch.
// It carries a sample of offending rows so the failure can be diagnosed
// without re-running.
type ConstraintViolationError struct {
	Table      string
	Constraint string
	Samples    []Row
}

func (e *ConstraintViolationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "table %q: constraint %q violated, batch aborted", e.Table, e.Constraint)
	if len(e.Samples) > 0 {
		fmt.Fprintf(&b, " (sample rows: %v)", e.Samples)
	}
	return b.String()
}

// SchemaMismatchError indicates a transformation references a column absent
// from its resolved input.
type SchemaMismatchError struct {
	Table  string
	Column string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("table %q: column %q not present in resolved input", e.Table, e.Column)
}

// UpstreamUnavailableError indicates a source or reference table could not be reached.
type UpstreamUnavailableError struct {
	Upstream string
	Cause    error
}

func (e *UpstreamUnavailableError) Error() string {
	return fmt.Sprintf("upstream %q unavailable: %v", e.Upstream, e.Cause)
}

func (e *UpstreamUnavailableError) Unwrap() error { return e.Cause }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}
