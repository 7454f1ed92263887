package annotation

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates that no annotation has the given key.
	ErrNotFound = errors.New("annotation not found")

	// ErrNotLive indicates an operation on an annotation that already reached
	// a terminal state.
	ErrNotLive = errors.New("annotation is no longer live")

	// ErrOverlap indicates that a comment or strikethrough would overlap an
	// existing one.
	ErrOverlap = errors.New("annotation overlaps an existing annotation")

	// ErrInvalidTransition indicates a lifecycle step the kind does not
	// support, such as accepting a comment.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// ErrStaleAnchor indicates that an annotation's anchor no longer matches
	// the canonical text. The annotation is dropped from the overlay.
	ErrStaleAnchor = errors.New("annotation anchor is stale")

	// ErrSyncFailure indicates that a remote sync failed. Local state is kept
	// and the annotation is marked local-only.
	ErrSyncFailure = errors.New("remote sync failed")
)

// SyncError reports one failed remote call. It matches ErrSyncFailure and
// unwraps to the transport error.
type SyncError struct {
	Key string
	Op  string
	Err error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *SyncError) Unwrap() []error { return []error{ErrSyncFailure, e.Err} }

// StaleAnchor records an annotation dropped because its anchor went stale.
type StaleAnchor struct {
	Key      string
	ServerID int64
	Kind     Kind
	Reason   string
}

func (s StaleAnchor) Error() string {
	return fmt.Sprintf("%s %s: %s", s.Kind, s.Key, s.Reason)
}

func (s StaleAnchor) Unwrap() error { return ErrStaleAnchor }
