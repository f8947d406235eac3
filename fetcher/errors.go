package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// TransportError reports a failed retrieval: network failure, a non-success
// status, or an undecodable body.
type TransportError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Cause says why a fetch failed. Its value is also the metrics label.
type Cause string

// Fetch failure causes.
const (
	CauseTimeout     Cause = "timeout"
	CauseConnection  Cause = "connection"
	CauseCancelled   Cause = "cancelled"
	CauseForbidden   Cause = "forbidden"
	CauseNotFound    Cause = "not_found"
	CauseRateLimited Cause = "rate_limited"
	CauseStatus      Cause = "status"
	CauseDecode      Cause = "decode"
)

// Failure tags the error behind a TransportError with its Cause. A source
// PDF that moved shows up as CauseNotFound, an API answering HTML instead of
// card JSON as CauseDecode.
type Failure struct {
	Cause Cause
	Err   error
}

func (e *Failure) Error() string {
	return string(e.Cause) + ": " + e.Err.Error()
}

func (e *Failure) Unwrap() error {
	return e.Err
}

// ErrorTypeLabel maps an error to its metrics label.
func ErrorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var failure *Failure
	if errors.As(err, &failure) {
		return string(failure.Cause)
	}
	return "other"
}

// classifyError tags err, or a non-2xx statusCode, with its Cause.
func classifyError(err error, statusCode int) error {
	switch {
	case errors.Is(err, context.Canceled):
		return &Failure{Cause: CauseCancelled, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Failure{Cause: CauseTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Failure{Cause: CauseTimeout, Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &Failure{Cause: CauseConnection, Err: err}
	}

	if statusCode != 0 && statusCode/100 != 2 {
		if err == nil {
			err = fmt.Errorf("http status %d", statusCode)
		}
		switch statusCode {
		case http.StatusForbidden:
			return &Failure{Cause: CauseForbidden, Err: err}
		case http.StatusNotFound:
			return &Failure{Cause: CauseNotFound, Err: err}
		case http.StatusTooManyRequests:
			return &Failure{Cause: CauseRateLimited, Err: err}
		default:
			return &Failure{Cause: CauseStatus, Err: err}
		}
	}
	return err
}
