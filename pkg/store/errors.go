package store

import (
	"errors"
)

// Sentinel errors shared by the stores. Callers branch on these with
// errors.Is instead of matching driver error strings.
var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: record not found")

	// ErrThreadTooDeep is returned when a reply's parent chain exceeds the
	// depth guard, which points at a reference cycle or corrupted linkage.
	ErrThreadTooDeep = errors.New("store: thread depth guard exceeded")

	// ErrInvalidReference is returned when a draft points at a parent or
	// repost target that does not exist.
	ErrInvalidReference = errors.New("store: referenced post does not exist")
)
