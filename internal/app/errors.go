package app

import "errors"

var (
	// ErrUnauthenticated indicates a missing or malformed credential.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrInvalidCredential indicates a credential that failed verification.
	ErrInvalidCredential = errors.New("invalid credentials")
	// ErrNotFound covers both absent resources and resources the caller
	// may not see, so existence is never leaked.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument indicates a request that failed validation.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrEmailTaken indicates a registration against an existing email.
	ErrEmailTaken = errors.New("email already registered")
	// ErrGenerationFailure indicates the text model failed or returned
	// an unusable reply. Nothing is persisted when this is returned.
	ErrGenerationFailure = errors.New("story generation failed")
)
