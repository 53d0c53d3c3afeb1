package engine

import "errors"

var (
	// ErrEngineUnavailable is returned when no connection to the engine
	// could be established or maintained for a request.
	ErrEngineUnavailable = errors.New("engine: unavailable")

	// ErrEngineRejected is returned when the engine replied but refused
	// the request (malformed command, unknown request id, queue full).
	ErrEngineRejected = errors.New("engine: rejected")

	// ErrEngineTimeout is returned when a request's context deadline
	// elapsed before the worker could service it.
	ErrEngineTimeout = errors.New("engine: timeout")
)
