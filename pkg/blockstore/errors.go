package blockstore

import "fmt"

// Reason narrows an AdmissionRejected error.
type Reason string

const (
	InsufficientMemory Reason = "insufficient_memory"
	EvictionForbidden  Reason = "eviction_forbidden"
)

// Kind classifies a blockstore Error for callers that want to branch on it
// with errors.As rather than string matching.
type Kind string

const (
	AdmissionRejected Kind = "admission_rejected"
	WrongVariant      Kind = "wrong_variant"
	DuplicateBlock    Kind = "duplicate_block"
	UnknownBlock      Kind = "unknown_block"
	ReentrantEviction Kind = "reentrant_eviction"
)

// Error is the error type returned by every facade operation that fails for
// a reason intrinsic to the store's contract, as opposed to a caller bug
// (those panic) or a collaborator failure (those wrap the collaborator's
// own error).
type Error struct {
	Kind    Kind
	Reason  Reason // only meaningful when Kind == AdmissionRejected
	BlockID string
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("blockstore: %s (%s): %s", e.Kind, e.Reason, e.BlockID)
	}
	return fmt.Sprintf("blockstore: %s: %s", e.Kind, e.BlockID)
}

func admissionRejected(id string, reason Reason) *Error {
	return &Error{Kind: AdmissionRejected, Reason: reason, BlockID: id}
}

func wrongVariant(id string) *Error {
	return &Error{Kind: WrongVariant, BlockID: id}
}

func duplicateBlock(id string) *Error {
	return &Error{Kind: DuplicateBlock, BlockID: id}
}

func unknownBlock(id string) *Error {
	return &Error{Kind: UnknownBlock, BlockID: id}
}

func reentrantEviction(id string) *Error {
	return &Error{Kind: ReentrantEviction, BlockID: id}
}
