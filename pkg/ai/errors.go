package ai

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind is the coarse error taxonomy surfaced to callers and serialized
// on terminal stream events. Kinds are stable wire strings, not Go types.
type ErrorKind string

const (
	KindNoProviderConfigured ErrorKind = "NoProviderConfigured"
	KindInvalidModel         ErrorKind = "InvalidModel"
	KindProviderTransport    ErrorKind = "ProviderTransport"
	KindProviderRateLimited  ErrorKind = "ProviderRateLimited"
	KindCancelled            ErrorKind = "Cancelled"
)

// Sentinel errors matched with errors.Is across package boundaries.
var (
	// ErrNoProviderConfigured is returned by registry lookups when no LLM
	// backend has credentials configured. Terminal; surface to the caller.
	ErrNoProviderConfigured = errors.New("ai: no provider configured")

	// ErrInvalidModel is returned when a model identifier resolves to no
	// known descriptor for the active backend.
	ErrInvalidModel = errors.New("ai: invalid model")

	// ErrRateLimited wraps backend 429 responses. The driver never retries;
	// the caller may, with back-off.
	ErrRateLimited = errors.New("ai: provider rate limited")

	// ErrTransport wraps network failures, 5xx responses and timeouts.
	ErrTransport = errors.New("ai: provider transport error")
)

// Classify maps err onto the error taxonomy. Context cancellation and
// deadline expiry classify as Cancelled; anything unrecognised is a
// transport failure, the conservative default for provider SDK errors.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.Is(err, ErrNoProviderConfigured):
		return KindNoProviderConfigured
	case errors.Is(err, ErrInvalidModel):
		return KindInvalidModel
	case errors.Is(err, ErrRateLimited):
		return KindProviderRateLimited
	default:
		return KindProviderTransport
	}
}

// AsError converts a wire StreamError back into a Go error that matches the
// corresponding sentinel under errors.Is.
func (e *StreamError) AsError() error {
	if e == nil {
		return nil
	}
	switch e.Kind {
	case KindNoProviderConfigured:
		return fmt.Errorf("%w: %s", ErrNoProviderConfigured, e.Message)
	case KindInvalidModel:
		return fmt.Errorf("%w: %s", ErrInvalidModel, e.Message)
	case KindProviderRateLimited:
		return fmt.Errorf("%w: %s", ErrRateLimited, e.Message)
	case KindCancelled:
		return fmt.Errorf("%w: %s", context.Canceled, e.Message)
	default:
		return fmt.Errorf("%w: %s", ErrTransport, e.Message)
	}
}
