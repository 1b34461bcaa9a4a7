package mdcache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// HTTPError is returned for a completed request with a non-2xx status.
type HTTPError struct {
	URL        string
	Status     int
	StatusText string
}

func (e *HTTPError) Error() string {
	if e.StatusText == "" {
		return fmt.Sprintf("http %d fetching %s", e.Status, e.URL)
	}
	return fmt.Sprintf("http %d %s fetching %s", e.Status, e.StatusText, e.URL)
}

// CachedError replays a failure recorded by an earlier fetch.
// It unwraps to an *HTTPError or a context error when the original failure
// was one, so errors.As / errors.Is behave as for the live error.
type CachedError struct {
	Fingerprint string
	Failure     FetchFailure
	CachedAt    time.Time
}

func (e *CachedError) Error() string {
	return fmt.Sprintf("cached failure (%s) for %s: %s", e.Failure.Kind, e.Failure.URL, e.Failure.Message)
}

func (e *CachedError) Unwrap() error {
	switch e.Failure.Kind {
	case FailureHTTP:
		return &HTTPError{URL: e.Failure.URL, Status: e.Failure.Status, StatusText: e.Failure.StatusText}
	case FailureTimeout:
		return context.DeadlineExceeded
	default:
		return nil
	}
}

// Failure kinds recorded in FetchFailure.Kind.
const (
	FailureHTTP    = "http"
	FailureTimeout = "timeout"
	FailureOther   = "error"
)

func failureOf(url string, err error) FetchFailure {
	f := FetchFailure{Kind: FailureOther, Message: err.Error(), URL: url}
	var he *HTTPError
	switch {
	case errors.As(err, &he):
		f.Kind = FailureHTTP
		f.Status = he.Status
		f.StatusText = he.StatusText
		if he.URL != "" {
			f.URL = he.URL
		}
	case errors.Is(err, context.DeadlineExceeded):
		f.Kind = FailureTimeout
	}
	return f
}
