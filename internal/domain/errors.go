package domain

import "errors"

// Error taxonomy for the gateway. Callers branch with errors.Is; wrapped
// messages carry the human-readable detail.
var (
	// ErrMalformedPlan marks structurally invalid input. Fatal, never retried.
	ErrMalformedPlan = errors.New("malformed query plan")

	// ErrUnknownEntityOrField marks a reference to a missing entity or field.
	// Fatal for the plan; a planning loop may retry with another candidate.
	ErrUnknownEntityOrField = errors.New("unknown entity or field")

	// ErrDisallowedOperation marks a filter operator outside the allowlist, a
	// non-materialized field in a filter/aggregation/group-by, or an invalid
	// relation traversal. Same retry semantics as ErrUnknownEntityOrField.
	ErrDisallowedOperation = errors.New("disallowed operation")

	// ErrTooExpensive marks a plan whose estimated cost exceeds the hard
	// ceiling. Fatal for that plan.
	ErrTooExpensive = errors.New("query too expensive")

	// ErrAccessDenied marks a failed permission check. Never retried with
	// elevated rights.
	ErrAccessDenied = errors.New("access denied")

	// ErrExpiredOrInvalidCursor marks a continuation token that is expired,
	// tampered with, or unparseable. Fatal for that pagination request only.
	ErrExpiredOrInvalidCursor = errors.New("expired or invalid cursor")

	// ErrExecutionFailure marks a store-side rejection or error during
	// execution of an already validated plan.
	ErrExecutionFailure = errors.New("query execution failed")

	// ErrBusy is returned when the execution semaphore cannot be acquired
	// within the wait bound; the caller should retry later.
	ErrBusy = errors.New("too many concurrent executions, retry later")
)
