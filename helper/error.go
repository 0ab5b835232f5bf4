package helper

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the whole engine. Callers match them with
// errors.Is; wrapping via NewError keeps the action context in the message.
var (
	// ErrNotFound is returned when an entity or relationship id does not resolve.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned on authorization denial. It carries no detail
	// about whether the underlying entity exists.
	ErrForbidden = errors.New("forbidden")
	// ErrStoreUnavailable is returned when the underlying database is
	// unreachable or erroring. It is transient; retrying is the caller's call.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrInvalidFilter is returned when a filter or ordering references an
	// unknown attribute or relationship kind.
	ErrInvalidFilter = errors.New("invalid filter")
	// ErrUnknownRelationshipKind is returned by the relation key catalog for
	// kinds outside its declared domain.
	ErrUnknownRelationshipKind = errors.New("unknown relationship kind")
)

// NewError wraps an error with the action that failed
func NewError(action string, err error) error {
	return fmt.Errorf("error in %s: %w", action, err)
}

// StoreError wraps a database error so that it both matches
// ErrStoreUnavailable and keeps the driver detail
func StoreError(action string, err error) error {
	return NewError(action, errors.Join(ErrStoreUnavailable, err))
}
