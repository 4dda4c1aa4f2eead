package airquality

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable is returned when the upstream is unreachable or retries are exhausted.
	ErrUnavailable = errors.New("upstream unavailable")

	// ErrMalformedPayload is returned when the upstream answered with a body no known shape matches.
	ErrMalformedPayload = errors.New("malformed upstream payload")

	// ErrNotFound is returned when the requested station does not exist upstream.
	ErrNotFound = errors.New("station not found")
)

// StatusError is a non-retryable 4xx response from the upstream.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned status %d", e.Code)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.Code, e.Body)
}
