package models

import "errors"

var (
	// ErrModelLoadFailed indicates the model/tokenizer failed to fetch or
	// failed its post-load self-test. EnsureReady re-attempts fully on the
	// next call; no partial state is reused.
	ErrModelLoadFailed = errors.New("model load failed")

	// ErrGenerationFailed indicates the underlying completion returned an
	// unrecognized shape or the backend call failed outright.
	ErrGenerationFailed = errors.New("text generation failed")

	ErrSessionNotFound = errors.New("session not found")
	ErrBadRequest      = errors.New("bad request")
	ErrInternalServer  = errors.New("internal server error")
)
