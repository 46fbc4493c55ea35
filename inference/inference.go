// Package inference abstracts the external text-generation capability the
// pipeline depends on. Providers live under contrib/inference.
package inference

import (
	"context"
	stderrors "errors"

	"github.com/edmondsbay/consult/errors"
	"github.com/edmondsbay/consult/message"
)

// Request bundles inputs for a non-streaming inference invocation.
type Request struct {
	Messages    []*message.Message
	Temperature float64 // 0 keeps the provider default
	MaxTokens   int64   // 0 keeps the provider default
}

// Response captures the inference service reply.
type Response struct {
	Message *message.Message
}

// Client defines the interface for inference providers.
type Client interface {
	// Generate produces a completion for the supplied messages.
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// Recoverable reports whether err is a failure the reprompt loop may absorb
// by consuming an attempt (service unavailability or a timeout).
func Recoverable(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, errors.ErrServiceUnavailable) || stderrors.Is(err, errors.ErrTimeout) {
		return true
	}
	return stderrors.Is(err, context.DeadlineExceeded)
}
