package query

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Get when no record matches.
	ErrNotFound = errors.New("record not found")
	// ErrMultipleRecords is returned by Get when more than one record matches.
	ErrMultipleRecords = errors.New("multiple records returned")
	// ErrAggregateUnsupported is returned by Aggregate when the executor cannot aggregate.
	ErrAggregateUnsupported = errors.New("executor does not support aggregates")
	// ErrUnknownDatabase is returned by Router for an unregistered database name.
	ErrUnknownDatabase = errors.New("unknown database")
)

// InvalidOperatorError reports a leaf predicate built with an operator outside
// the closed operator set.
type InvalidOperatorError struct {
	Field    string
	Operator string
}

func (e *InvalidOperatorError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid operator %q", e.Operator)
	}
	return fmt.Sprintf("invalid operator %q for field %q", e.Operator, e.Field)
}

// DuplicateAliasError reports an annotation alias that is already in use.
type DuplicateAliasError struct {
	Alias string
}

func (e *DuplicateAliasError) Error() string {
	return fmt.Sprintf("annotation alias %q already defined", e.Alias)
}

// InvalidRangeError reports a negative limit or offset found at materialization.
type InvalidRangeError struct {
	Name  string
	Value int
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("%s must be non-negative, got %d", e.Name, e.Value)
}

// SchemaMismatchError reports a field, relation or alias that does not exist on
// the target entity. Executors raise it at materialization time.
type SchemaMismatchError struct {
	Entity string
	Kind   string // "field", "relation", "alias", "ordering", "select_related", ...
	Name   string
	Reason string
}

func (e *SchemaMismatchError) Error() string {
	msg := fmt.Sprintf("entity %s: unknown %s %q", e.Entity, e.Kind, e.Name)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// ExecutorUnavailableError wraps a failure to reach the executor's backing
// store. The core never retries it.
type ExecutorUnavailableError struct {
	Executor string
	Err      error
}

func (e *ExecutorUnavailableError) Error() string {
	return fmt.Sprintf("executor %s unavailable: %v", e.Executor, e.Err)
}

func (e *ExecutorUnavailableError) Unwrap() error {
	return e.Err
}
