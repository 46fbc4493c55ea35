package errors

import "errors"

// Sentinel errors for the consultation pipeline. The reprompt loop absorbs the
// recoverable ones; only ErrAttemptsExhausted and ErrEmptyDraft change what the
// caller observes.
var (
	// ErrServiceUnavailable indicates the inference service rejected the call.
	// Recoverable: consumes a reprompt attempt.
	ErrServiceUnavailable = errors.New("inference service unavailable")

	// ErrTimeout indicates an external call exceeded its deadline.
	// Recoverable: consumes a reprompt attempt.
	ErrTimeout = errors.New("external call timed out")

	// ErrIndexUnavailable indicates the retrieval index could not be reached.
	// The retriever retries with backoff and degrades to empty context.
	ErrIndexUnavailable = errors.New("retrieval index unavailable")

	// ErrMalformedTrace indicates a reasoning trace with no intermediate steps.
	// It consumes an attempt without reaching the quality checker.
	ErrMalformedTrace = errors.New("malformed reasoning trace")

	// ErrEmptyDraft indicates the formatter received nothing to format. This
	// points at an upstream invariant violation and is fatal to the request.
	ErrEmptyDraft = errors.New("empty draft")

	// ErrAttemptsExhausted indicates the reprompt budget ran out before a
	// draft passed the quality gate.
	ErrAttemptsExhausted = errors.New("generation attempts exhausted")

	// ErrNotFound indicates that a requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = errors.New("invalid input")
)
