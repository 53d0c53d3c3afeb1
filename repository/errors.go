package repository

import "errors"

// Sentinel errors returned by Store methods. Callers should compare with
// errors.Is, not string matching.
var (
	// ErrDuplicateEvent is returned by CommitPlayEvent when an equivalent
	// event already exists inside the dedup window.
	ErrDuplicateEvent = errors.New("repository: duplicate play event")

	// ErrNotReady is returned when an operation references a TTSArtifact
	// or PlayEvent that is not yet in the required state.
	ErrNotReady = errors.New("repository: not ready")

	// ErrIllegalTransition is returned by MarkTTS when the requested
	// status change is not permitted from the artifact's current status.
	ErrIllegalTransition = errors.New("repository: illegal status transition")

	// ErrNotFound is returned when a lookup by id or key finds nothing.
	ErrNotFound = errors.New("repository: not found")

	// ErrUnavailable wraps a lower-level storage failure (DB or Redis
	// unreachable) so callers can distinguish infrastructure failure from
	// a legitimate business-rule rejection.
	ErrUnavailable = errors.New("repository: store unavailable")
)
