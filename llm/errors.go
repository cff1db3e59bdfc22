package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrEmptyReply is returned when a provider answers without content.
var ErrEmptyReply = errors.New("model returned an empty reply")

// ProviderError is a failed call to a model provider. StatusCode is zero when
// no HTTP response arrived.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("%s returned %d: %s", e.Provider, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s returned %d", e.Provider, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("call %s: %v", e.Provider, e.Err)
	default:
		return fmt.Sprintf("call %s failed", e.Provider)
	}
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt may succeed: transport failures,
// rate limiting and server errors.
func (e *ProviderError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable()
}
