package oracle

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"social-token-chat/internal/domain"

	"github.com/stretchr/testify/assert"
)

type stubLedger struct {
	value  float64
	err    error
	block  bool
	ignore bool // keep blocking even after cancellation
}

func (s *stubLedger) Name() string { return "stub" }

func (s *stubLedger) QualifyingValue(ctx context.Context, tokenID, userID string) (float64, error) {
	if s.block {
		if s.ignore {
			time.Sleep(time.Second)
			return 100, nil
		}
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return s.value, s.err
}

func TestChecker_CheckAccess(t *testing.T) {
	tests := []struct {
		name        string
		ledger      *stubLedger
		wantGranted bool
		wantCode    domain.DecisionCode
		wantReason  string
		wantKnown   bool
	}{
		{
			name:        "above_threshold",
			ledger:      &stubLedger{value: 15},
			wantGranted: true,
			wantCode:    domain.DecisionGranted,
			wantKnown:   true,
		},
		{
			name:        "exactly_threshold",
			ledger:      &stubLedger{value: 10},
			wantGranted: true,
			wantCode:    domain.DecisionGranted,
			wantKnown:   true,
		},
		{
			name:       "below_threshold",
			ledger:     &stubLedger{value: 2},
			wantCode:   domain.DecisionDenied,
			wantReason: domain.ReasonInsufficientBalance,
			wantKnown:  true,
		},
		{
			name:       "ledger_error",
			ledger:     &stubLedger{err: errors.New("connection refused")},
			wantCode:   domain.DecisionUnavailable,
			wantReason: domain.ReasonVerificationUnavailable,
		},
		{
			name:       "malformed_value",
			ledger:     &stubLedger{value: math.NaN()},
			wantCode:   domain.DecisionUnavailable,
			wantReason: domain.ReasonVerificationUnavailable,
		},
		{
			name:       "ledger_times_out",
			ledger:     &stubLedger{block: true},
			wantCode:   domain.DecisionUnavailable,
			wantReason: domain.ReasonVerificationUnavailable,
		},
		{
			name:       "ledger_ignores_cancellation",
			ledger:     &stubLedger{block: true, ignore: true},
			wantCode:   domain.DecisionUnavailable,
			wantReason: domain.ReasonVerificationUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewChecker(tt.ledger, 10, 50*time.Millisecond)

			start := time.Now()
			decision := checker.CheckAccess(context.Background(), "0xaaa", "0xbbb")

			assert.Less(t, time.Since(start), 500*time.Millisecond)
			assert.Equal(t, tt.wantGranted, decision.Granted)
			assert.Equal(t, tt.wantCode, decision.Code)
			assert.Equal(t, tt.wantReason, decision.Reason)
			assert.Equal(t, tt.wantKnown, decision.ValueKnown)
			assert.Equal(t, 10.0, decision.RequiredThreshold)
		})
	}
}

func TestChecker_DecisionErr(t *testing.T) {
	checker := NewChecker(&stubLedger{value: 2}, 10, time.Second)
	assert.ErrorIs(t, checker.CheckAccess(context.Background(), "t", "u").Err(), domain.ErrInsufficientBalance)

	checker = NewChecker(&stubLedger{err: errors.New("boom")}, 10, time.Second)
	assert.ErrorIs(t, checker.CheckAccess(context.Background(), "t", "u").Err(), domain.ErrVerificationUnavailable)

	checker = NewChecker(&stubLedger{value: 20}, 10, time.Second)
	assert.NoError(t, checker.CheckAccess(context.Background(), "t", "u").Err())
	assert.Equal(t, 10.0, checker.Threshold())
}
