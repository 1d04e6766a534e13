// Package apierr implements the error taxonomy from spec.md §7: typed
// failures returned to callers instead of the source's liberal
// expect/unwrap (spec.md §9 "Exceptions / panics").
package apierr

import "errors"

// Sentinel errors checked with errors.Is at call sites.
var (
	// ErrNoFeasibleNode is a placement error: the feasible set for a
	// spawn request was empty.
	ErrNoFeasibleNode = errors.New("no feasible node")
	// ErrUnknownLogicalID is returned when an operation references a
	// logical id absent from the instance table.
	ErrUnknownLogicalID = errors.New("unknown logical id")
	// ErrNotRegistered is returned when an operation references a node
	// that is not currently registered.
	ErrNotRegistered = errors.New("node not registered")
	// ErrCallTimeout is surfaced to a data-plane caller whose call did not
	// receive a reply within the configured timeout.
	ErrCallTimeout = errors.New("call timed out")
	// ErrCallCancelled is surfaced when the calling instance is stopped or
	// its context is cancelled before a reply arrives.
	ErrCallCancelled = errors.New("call cancelled")
	// ErrUnknownAlias is returned when a guest cast/call references an
	// alias absent from the current patch map.
	ErrUnknownAlias = errors.New("unknown alias")
	// ErrUnimplemented is returned for the Open Questions noted in
	// spec.md §9 rather than guessing at behavior.
	ErrUnimplemented = errors.New("unimplemented")
	// ErrDuplicateComponent: a node already hosts a physical instance with
	// this ComponentId (spec.md §3 invariant).
	ErrDuplicateComponent = errors.New("duplicate component id on node")
)

// ResponseError is the taxonomy's transport-agnostic control-plane failure
// shape (spec.md §6 "StartComponentResponse::ResponseError{summary, detail}").
type ResponseError struct {
	Summary string
	Detail  string
	Cause   error
}

func (e *ResponseError) Error() string {
	if e.Detail != "" {
		return e.Summary + ": " + e.Detail
	}
	return e.Summary
}

func (e *ResponseError) Unwrap() error { return e.Cause }

// NewResponseError builds a ResponseError wrapping cause, whose sentinel
// can still be recovered with errors.Is/errors.As.
func NewResponseError(summary string, cause error) *ResponseError {
	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	return &ResponseError{Summary: summary, Detail: detail, Cause: cause}
}
