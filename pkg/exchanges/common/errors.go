package common

import (
	"errors"
	"fmt"
)

// ErrUnknownInstrument is returned when precision metadata was never fetched for a symbol.
var ErrUnknownInstrument = errors.New("instrument metadata not loaded")

// ErrMissingCredentials is returned by signed endpoints when no API key is configured.
var ErrMissingCredentials = errors.New("API key/secret required")

// ConnectivityError reports that the venue or a stream could not be reached.
type ConnectivityError struct {
	Stream   string
	Attempts int
	Err      error
}

func (e *ConnectivityError) Error() string {
	if e.Stream == "" {
		return fmt.Sprintf("venue unreachable: %v", e.Err)
	}
	return fmt.Sprintf("stream %s failed after %d attempts: %v", e.Stream, e.Attempts, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// OrderSubmissionError reports an order that was rejected after all retries.
type OrderSubmissionError struct {
	Symbol   string
	Type     OrderType
	Attempts int
	Err      error
}

func (e *OrderSubmissionError) Error() string {
	return fmt.Sprintf("%s %s order failed after %d attempts: %v", e.Symbol, e.Type, e.Attempts, e.Err)
}

func (e *OrderSubmissionError) Unwrap() error { return e.Err }

// ConfigurationError reports invalid parameters or missing metadata. It is never retried.
type ConfigurationError struct {
	Symbol string
	Field  string
	Err    error
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.Symbol != "" && e.Field != "":
		return fmt.Sprintf("configuration error for %s (%s): %v", e.Symbol, e.Field, e.Err)
	case e.Symbol != "":
		return fmt.Sprintf("configuration error for %s: %v", e.Symbol, e.Err)
	case e.Field != "":
		return fmt.Sprintf("configuration error (%s): %v", e.Field, e.Err)
	default:
		return fmt.Sprintf("configuration error: %v", e.Err)
	}
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// IsConfiguration reports whether err is, or wraps, a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
