package shared

import "errors"

var (
	// ErrNotFound indicates the requested document does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates invalid caller input.
	ErrValidation = errors.New("invalid input")
	// ErrPreconditionFailed indicates an upstream document is not in the
	// state required to gate this operation.
	ErrPreconditionFailed = errors.New("upstream document not in required status")
	// ErrImmutable indicates the document is past its editable lifecycle point.
	ErrImmutable = errors.New("document is no longer editable")
	// ErrConflict signals a concurrent modification; the caller may retry.
	ErrConflict = errors.New("concurrent modification, retry")
)
