package upstream

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned when upstream keeps rejecting credentials.
	ErrUnauthorized = errors.New("upstream: unauthorized")

	// ErrRateLimited is returned on HTTP 429.
	ErrRateLimited = errors.New("upstream: rate limited")

	// ErrUnavailable is returned on HTTP 503.
	ErrUnavailable = errors.New("upstream: service unavailable")

	// ErrUnexpectedStatus is returned for any status without a dedicated meaning.
	ErrUnexpectedStatus = errors.New("upstream: unexpected status")
)

// StatusError carries a non-success upstream response.
type StatusError struct {
	Endpoint string
	Status   int
	Body     string
	Err      error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s returned %d: %s", e.Err, e.Endpoint, e.Status, e.Body)
}

func (e *StatusError) Unwrap() error { return e.Err }

const maxErrorBody = 512

func newStatusError(endpoint string, status int, body []byte, err error) *StatusError {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &StatusError{
		Endpoint: endpoint,
		Status:   status,
		Body:     string(body),
		Err:      err,
	}
}
