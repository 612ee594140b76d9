package oracle

import (
	"context"
	"log/slog"
	"time"

	"social-token-chat/internal/domain"
	"social-token-chat/internal/observability"
)

// Checker turns a ledger read into an access decision
type Checker struct {
	ledger    Ledger
	threshold float64
	timeout   time.Duration
}

// NewChecker creates a checker that grants access at or above threshold
func NewChecker(ledger Ledger, threshold float64, timeout time.Duration) *Checker {
	return &Checker{
		ledger:    ledger,
		threshold: threshold,
		timeout:   timeout,
	}
}

// Threshold returns the configured minimum qualifying value
func (c *Checker) Threshold() float64 {
	return c.threshold
}

type ledgerResult struct {
	value float64
	err   error
}

// CheckAccess reads the user's current qualifying value and compares it to
// the threshold. Any ledger failure, including the timeout, is reported as
// unavailable rather than as a plain denial.
func (c *Checker) CheckAccess(ctx context.Context, tokenID, userID string) domain.AccessDecision {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	results := make(chan ledgerResult, 1)
	go func() {
		v, err := c.ledger.QualifyingValue(ctx, tokenID, userID)
		results <- ledgerResult{value: v, err: err}
	}()

	var res ledgerResult
	select {
	case res = <-results:
	case <-ctx.Done():
		// Do not wait for a ledger that ignores cancellation
		res = ledgerResult{err: ctx.Err()}
	}
	if res.err == nil {
		res.err = validValue(res.value)
	}

	status := "ok"
	if res.err != nil {
		status = "error"
	}
	observability.OracleRequestDuration.WithLabelValues(c.ledger.Name(), status).
		Observe(time.Since(start).Seconds())

	var decision domain.AccessDecision
	switch {
	case res.err != nil:
		slog.Warn("access verification unavailable",
			slog.String("token_id", tokenID),
			slog.String("user_id", userID),
			slog.String("backend", c.ledger.Name()),
			slog.String("error", res.err.Error()))
		decision = domain.DenyUnavailable(c.threshold)
	case res.value >= c.threshold:
		decision = domain.Grant(c.threshold, res.value)
	default:
		decision = domain.DenyInsufficient(c.threshold, res.value)
	}

	observability.AccessDecisionsTotal.WithLabelValues(string(decision.Code)).Inc()
	return decision
}
