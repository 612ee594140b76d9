// Package oracle answers "may this user join this token's chat" by reading the
// user's qualifying value from an external ledger and comparing it against a
// configured threshold. It performs a fresh read on every call.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"
)

var (
	ErrMalformedResponse = errors.New("malformed response from ledger")
	ErrInvalidAddress    = errors.New("invalid address")
)

// Ledger reads the USD-equivalent value of a user's holdings of a token
type Ledger interface {
	QualifyingValue(ctx context.Context, tokenID, userID string) (float64, error)
	Name() string
}

// StatusError is returned when the ledger answers with a non-200 status
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
}

func newHTTPClient() *http.Client {
	// Callers bound each read with a context deadline; this is a backstop.
	return &http.Client{
		Timeout: 30 * time.Second,
	}
}

// validValue rejects values that cannot be compared against a threshold
func validValue(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return fmt.Errorf("%w: value %v", ErrMalformedResponse, v)
	}
	return nil
}

// retryable reports whether a failed attempt is worth repeating
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrMalformedResponse) || errors.Is(err, ErrInvalidAddress) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
	}
	return true
}

// maxRetryDelay caps the wait between ledger attempts
const maxRetryDelay = 2 * time.Second

// retryDelay doubles base for every attempt already made, up to maxRetryDelay
func retryDelay(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	return min(delay, maxRetryDelay)
}

// withRetry runs fn up to attempts times with exponential backoff, stopping
// early when ctx ends or the error is not retryable.
func withRetry(ctx context.Context, attempts int, backoff time.Duration, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil || !retryable(lastErr) {
			return lastErr
		}
		if attempt < attempts {
			select {
			case <-ctx.Done():
				return fmt.Errorf("ledger read interrupted after %d attempts: %w", attempt, ctx.Err())
			case <-time.After(retryDelay(backoff, attempt)):
			}
		}
	}
	return fmt.Errorf("ledger read failed after %d attempts: %w", attempts, lastErr)
}
