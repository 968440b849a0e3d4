package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"rankpool/extract"
	"rankpool/storage"
)

// NetworkError is a connectivity failure talking to a source.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network: %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// TimeoutError is a fetch that ran past its deadline.
type TimeoutError struct {
	URL string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: %s: %v", e.URL, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// BlockedError is an anti-automation signal: a challenge page or a
// 403/429 answer.
type BlockedError struct {
	URL    string
	Status int
	Marker string
}

func (e *BlockedError) Error() string {
	if e.Marker != "" {
		return fmt.Sprintf("blocked: %s: challenge marker %q", e.URL, e.Marker)
	}
	return fmt.Sprintf("blocked: %s: status %d", e.URL, e.Status)
}

// RunExhaustedError is returned once every attempt of a source run failed.
type RunExhaustedError struct {
	Source   string
	Attempts int
	Err      error
}

func (e *RunExhaustedError) Error() string {
	return fmt.Sprintf("%s: run failed after %d attempts: %v", e.Source, e.Attempts, e.Err)
}

func (e *RunExhaustedError) Unwrap() error { return e.Err }

var errZeroSaved = errors.New("no items saved")

// classifyError maps transport errors and HTTP status codes onto the
// error taxonomy. Status 0 means no response was received.
func classifyError(err error, status int, url string) error {
	if err == nil && status == 0 {
		return nil
	}

	if err != nil {
		var blocked *BlockedError
		var timeout *TimeoutError
		var network *NetworkError
		if errors.As(err, &blocked) || errors.As(err, &timeout) || errors.As(err, &network) {
			return err
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return &TimeoutError{URL: url, Err: err}
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return &TimeoutError{URL: url, Err: err}
		}
	}

	switch status {
	case http.StatusForbidden, http.StatusTooManyRequests:
		return &BlockedError{URL: url, Status: status}
	}

	if err == nil {
		err = fmt.Errorf("http status %d", status)
	}
	return &NetworkError{URL: url, Err: err}
}

// ErrorType is the metrics label for err.
func ErrorType(err error) string {
	if err == nil {
		return "none"
	}
	var blocked *BlockedError
	if errors.As(err, &blocked) {
		return "blocked"
	}
	var timeout *TimeoutError
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var network *NetworkError
	if errors.As(err, &network) {
		return "network"
	}
	var persistence *storage.PersistenceError
	if errors.As(err, &persistence) {
		return "persistence"
	}
	var exhausted *RunExhaustedError
	if errors.As(err, &exhausted) {
		return "run_exhausted"
	}
	switch {
	case errors.Is(err, extract.ErrNoMatch):
		return "extraction_empty"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	return "other"
}
