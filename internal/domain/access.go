package domain

import "errors"

var (
	ErrInvalidRequest          = errors.New("invalid request")
	ErrNotAuthorizedForAction  = errors.New("connection not authorized for this room")
	ErrMessageNotFound         = errors.New("message not found")
	ErrInsufficientBalance     = errors.New("insufficient balance")
	ErrVerificationUnavailable = errors.New("verification unavailable")
)

// DecisionCode classifies an access decision
type DecisionCode string

const (
	DecisionGranted     DecisionCode = "granted"
	DecisionDenied      DecisionCode = "insufficient_balance"
	DecisionUnavailable DecisionCode = "unavailable"
)

// Reasons surfaced to the user in access-denied events
const (
	ReasonInsufficientBalance     = "insufficient balance"
	ReasonVerificationUnavailable = "verification unavailable"
)

// AccessDecision is the computed result of comparing a user's qualifying
// value for a token against the configured threshold. It is never cached
// by the oracle; the gateway decides how long a grant stays trusted.
type AccessDecision struct {
	Granted           bool
	Code              DecisionCode
	Reason            string
	RequiredThreshold float64
	// CurrentValue is only meaningful when ValueKnown is true
	CurrentValue float64
	ValueKnown   bool
}

// Err maps a decision onto the error taxonomy, nil when granted
func (d AccessDecision) Err() error {
	switch d.Code {
	case DecisionGranted:
		return nil
	case DecisionDenied:
		return ErrInsufficientBalance
	default:
		return ErrVerificationUnavailable
	}
}

// Grant builds a granted decision
func Grant(threshold, value float64) AccessDecision {
	return AccessDecision{
		Granted:           true,
		Code:              DecisionGranted,
		RequiredThreshold: threshold,
		CurrentValue:      value,
		ValueKnown:        true,
	}
}

// DenyInsufficient builds a denial for a value below the threshold
func DenyInsufficient(threshold, value float64) AccessDecision {
	return AccessDecision{
		Code:              DecisionDenied,
		Reason:            ReasonInsufficientBalance,
		RequiredThreshold: threshold,
		CurrentValue:      value,
		ValueKnown:        true,
	}
}

// DenyUnavailable builds a denial for a failed or timed-out verification
func DenyUnavailable(threshold float64) AccessDecision {
	return AccessDecision{
		Code:              DecisionUnavailable,
		Reason:            ReasonVerificationUnavailable,
		RequiredThreshold: threshold,
	}
}
