package scraper

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"rankpool/extract"
	"rankpool/storage"
)

type timeoutNetErr struct{}

func (timeoutNetErr) Error() string   { return "i/o timeout" }
func (timeoutNetErr) Timeout() bool   { return true }
func (timeoutNetErr) Temporary() bool { return true }

func TestClassifyError(t *testing.T) {
	const u = "https://example.com/rank"

	tests := []struct {
		name   string
		err    error
		status int
		want   string
	}{
		{"nothing", nil, 0, "none"},
		{"forbidden", nil, 403, "blocked"},
		{"rate limited", errors.New("Too Many Requests"), 429, "blocked"},
		{"server error", nil, 500, "network"},
		{"deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), 0, "timeout"},
		{"net timeout", timeoutNetErr{}, 0, "timeout"},
		{"refused", errors.New("connection refused"), 0, "network"},
		{"already typed", &BlockedError{URL: u, Marker: "x"}, 0, "blocked"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyError(tt.err, tt.status, u)
			assert.Equal(t, tt.want, ErrorType(got))
		})
	}
}

func TestErrorType(t *testing.T) {
	assert.Equal(t, "persistence", ErrorType(fmt.Errorf("save: %w", &storage.PersistenceError{Op: "upsert", Err: errors.New("503")})))
	assert.Equal(t, "extraction_empty", ErrorType(fmt.Errorf("cat 001: %w", extract.ErrNoMatch)))
	assert.Equal(t, "cancelled", ErrorType(context.Canceled))
	assert.Equal(t, "other", ErrorType(errors.New("boom")))

	exhausted := &RunExhaustedError{Source: "ssg", Attempts: 3, Err: &BlockedError{URL: "u", Status: 403}}
	assert.Equal(t, "blocked", ErrorType(exhausted), "the cause wins over the envelope")
	assert.Equal(t, "run_exhausted", ErrorType(&RunExhaustedError{Source: "ssg", Attempts: 3, Err: errZeroSaved}))
	assert.Contains(t, exhausted.Error(), "after 3 attempts")
}
