package oracle

import (
	"context"
	"errors"

	"github.com/bizpilot/insight-gateway/internal/types"
)

// ErrUnavailable wraps transport and upstream failures. Callers surface it
// as a generic service-unavailable response, never the raw upstream error.
var ErrUnavailable = errors.New("oracle unavailable")

// Request is one completion or classification call to the language-model
// oracle: a system instruction plus a bounded message history.
type Request struct {
	System      string
	Turns       []types.Turn
	Model       string // empty means the configured default model
	MaxTokens   int
	Temperature *float64
}

// Oracle is the black-box text-completion service the pipeline delegates
// classification, query generation and answer drafting to.
type Oracle interface {
	Complete(ctx context.Context, req Request) (string, error)
	// StreamCompletion calls emit for each text delta as it arrives.
	// Returning an error from emit aborts the stream.
	StreamCompletion(ctx context.Context, req Request, emit func(delta string) error) error
}
