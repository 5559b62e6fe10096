package inference

import (
	"errors"
	"strconv"
)

// ErrParse is raised when a model response cannot be reduced to the
// expected JSON shape (no well-formed array/object found in the text).
var ErrParse = errors.New("inference: could not parse model response")

// ErrHTTPStatus wraps a non-2xx response from the inference endpoint.
type ErrHTTPStatus struct {
	Operation string
	Status    int
	Body      string
}

func (e *ErrHTTPStatus) Error() string {
	return "inference: " + e.Operation + ": unexpected status " + strconv.Itoa(e.Status)
}

// Retryable marks 5xx responses as eligible for resilience.RetryOnce;
// 4xx responses are caller errors and must not retry.
func (e *ErrHTTPStatus) Retryable() bool {
	return e.Status >= 500
}
