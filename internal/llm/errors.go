package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/ent0n29/clerk/internal/reliability"
)

// StatusError captures a non-2xx response from a model provider.
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Provider, e.StatusCode, e.Message)
}

func (e *StatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// ErrorCode is a low-cardinality label for metrics.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	if code, ok := reliability.StatusCode(err); ok {
		return fmt.Sprintf("status_%d", code)
	}
	return "error"
}
