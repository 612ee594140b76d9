package oracle

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, 1600 * time.Millisecond},
		{5, maxRetryDelay},
		{30, maxRetryDelay},
	}

	for _, tt := range tests {
		if got := retryDelay(200*time.Millisecond, tt.attempt); got != tt.want {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.want, got)
		}
	}
}

func TestWithRetry(t *testing.T) {
	unavailable := &StatusError{StatusCode: http.StatusServiceUnavailable}

	t.Run("retries_transient_until_success", func(t *testing.T) {
		calls := 0
		err := withRetry(context.Background(), 3, time.Millisecond, func() error {
			calls++
			if calls < 3 {
				return unavailable
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if calls != 3 {
			t.Errorf("Expected 3 calls, got %d", calls)
		}
	})

	t.Run("gives_up_after_attempts", func(t *testing.T) {
		calls := 0
		err := withRetry(context.Background(), 2, time.Millisecond, func() error {
			calls++
			return unavailable
		})
		if !errors.Is(err, unavailable) {
			t.Errorf("Expected the last error to be wrapped, got: %v", err)
		}
		if calls != 2 {
			t.Errorf("Expected 2 calls, got %d", calls)
		}
	})

	t.Run("permanent_error_is_not_retried", func(t *testing.T) {
		calls := 0
		err := withRetry(context.Background(), 3, time.Millisecond, func() error {
			calls++
			return &StatusError{StatusCode: http.StatusNotFound}
		})
		if err == nil || calls != 1 {
			t.Errorf("Expected one failed call, got %d calls and err %v", calls, err)
		}
	})

	t.Run("stops_when_context_ends", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := withRetry(ctx, 5, time.Hour, func() error {
			calls++
			cancel()
			return unavailable
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got: %v", err)
		}
		if calls != 1 {
			t.Errorf("Expected 1 call, got %d", calls)
		}
	})
}
