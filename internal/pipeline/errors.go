package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// LaunchError indicates the child process or HTTP request could not be
// started at all (missing binary, connection refused). Fatal for the run;
// never retried automatically by the pipeline.
type LaunchError struct {
	Target string
	Err    error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch %s: %v", e.Target, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// InactivityTimeoutError indicates the run produced no activity for longer
// than the configured timeout and was terminated. This is an expected,
// recoverable outcome, not a crash: the caller attempts forensic recovery
// before treating the run as failed.
type InactivityTimeoutError struct {
	Silence time.Duration
}

func (e *InactivityTimeoutError) Error() string {
	return fmt.Sprintf("no activity for %s, run terminated", e.Silence)
}

// HTTPStatusError indicates the HTTP-backed run got a non-2xx response.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Body)
}

// ErrMalformedActivity marks a chunk that failed validation and was
// discarded. Internal and non-fatal; surfaced only as a warning.
var ErrMalformedActivity = errors.New("malformed activity chunk discarded")
