package nerclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/ferro-labs/ner-visualizer/internal/circuitbreaker"
)

// UnreachableError means the endpoint could not be contacted at all.
type UnreachableError struct {
	Endpoint string
	Err      error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("ner endpoint %s unreachable: %v", e.Endpoint, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// StatusError means the endpoint answered with a non-success status.
type StatusError struct {
	Endpoint string
	Code     int
	Message  string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ner endpoint %s returned status %d", e.Endpoint, e.Code)
	}
	return fmt.Sprintf("ner endpoint %s returned status %d: %s", e.Endpoint, e.Code, e.Message)
}

// ProtocolError means the endpoint answered but the body was not an
// entity to label mapping.
type ProtocolError struct {
	Endpoint string
	Err      error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("ner endpoint %s sent a malformed response: %v", e.Endpoint, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Classify maps err to a short error type used as a metric label.
func Classify(err error) string {
	var (
		unreachable *UnreachableError
		status      *StatusError
		protocol    *ProtocolError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &status):
		return "status"
	case errors.As(err, &protocol):
		return "protocol"
	case errors.As(err, &unreachable):
		return "unreachable"
	default:
		return "unknown"
	}
}
