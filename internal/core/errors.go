package core

import "errors"

// Failure taxonomy surfaced to signaling clients. Handlers wrap these with
// fmt.Errorf("...: %w", ...) and the signaling layer classifies with errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidState    = errors.New("invalid state")
	ErrInvalidKind     = errors.New("invalid kind")
	ErrEngineFailure   = errors.New("engine failure")
	ErrRecorderFailure = errors.New("recorder failure")

	// ErrCannotConsume is the expected negotiation outcome when a router
	// refuses a consume for capability mismatch. Not a hard failure.
	ErrCannotConsume = errors.New("cannot consume")
)
