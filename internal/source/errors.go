package source

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrConnectivity marks network-level failures. They are transient: the term
// is retried on the next scheduled cycle.
var ErrConnectivity = errors.New("content api unreachable")

// ErrMalformedPayload marks a response body that could not be decoded at all.
var ErrMalformedPayload = errors.New("malformed response payload")

// APIError is a non-200 response from the content API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the failure is transient. 5xx and 429 are, any
// other 4xx means the term is skipped for this cycle.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// MalformedRecordError is returned when a single raw record cannot be mapped.
type MalformedRecordError struct {
	RecordID string
	Reason   string
}

func (e *MalformedRecordError) Error() string {
	if e.RecordID == "" {
		return "malformed record: " + e.Reason
	}
	return fmt.Sprintf("malformed record %s: %s", e.RecordID, e.Reason)
}

// IsTransient reports whether err should be retried at the next cycle rather
// than treated as a permanent skip.
func IsTransient(err error) bool {
	if errors.Is(err, ErrConnectivity) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return false
}

// IsNotFound reports whether the provider says the record is gone.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsNotFound()
}
