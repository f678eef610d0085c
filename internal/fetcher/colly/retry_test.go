package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type timeoutErr struct{ timeout bool }

func (e timeoutErr) Error() string   { return "net" }
func (e timeoutErr) Timeout() bool   { return e.timeout }
func (e timeoutErr) Temporary() bool { return false }

func TestShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(3, time.Millisecond, time.Second)
	cases := []struct {
		name    string
		err     error
		attempt int
		want    bool
	}{
		{"nil error", nil, 1, false},
		{"server error", &StatusError{StatusCode: http.StatusServiceUnavailable}, 1, true},
		{"too many requests", &StatusError{StatusCode: http.StatusTooManyRequests}, 2, true},
		{"not found", &StatusError{StatusCode: http.StatusNotFound}, 1, false},
		{"wrapped server error", fmt.Errorf("x: %w", &StatusError{StatusCode: 500}), 1, true},
		{"attempts exhausted", &StatusError{StatusCode: 500}, 3, false},
		{"canceled", context.Canceled, 1, false},
		{"deadline", fmt.Errorf("wrap: %w", context.DeadlineExceeded), 1, false},
		{"net timeout", timeoutErr{timeout: true}, 1, true},
		{"net refused", timeoutErr{timeout: false}, 1, false},
		{"other", errors.New("eof"), 1, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, p.ShouldRetry(tc.err, tc.attempt))
		})
	}
}

func TestBackoffBounded(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(5, 100*time.Millisecond, 400*time.Millisecond)
	for attempt := range 6 {
		d := p.Backoff(attempt)
		require.GreaterOrEqual(t, d, 50*time.Millisecond)
		require.LessOrEqual(t, d, 400*time.Millisecond)
	}
}

func TestPolicyDefaults(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(0, 0, 0)
	require.Equal(t, 1, p.maxAttempts)
	require.Equal(t, 500*time.Millisecond, p.baseDelay)
	require.Equal(t, 10*time.Second, p.maxDelay)
	require.False(t, p.ShouldRetry(errors.New("x"), 1))
}
