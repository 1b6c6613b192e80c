package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotFound       = errors.New("not_found")
	ErrPayoutExists   = errors.New("payout_already_exists")
	ErrPersistence    = errors.New("persistence_failed")
)

// BusinessRuleError carries the eligibility reasons back to a caller that
// can surface them (the manual trigger path). The batch path only logs.
type BusinessRuleError struct {
	Reasons []string
}

func (e *BusinessRuleError) Error() string {
	if len(e.Reasons) == 0 {
		return "business_rule_violation"
	}
	return "business_rule_violation: " + strings.Join(e.Reasons, ",")
}

func NewBusinessRuleError(reasons []string) *BusinessRuleError {
	return &BusinessRuleError{Reasons: reasons}
}

// PlatformError wraps a payment-platform failure. Transient mirrors the
// platform's own classification: 5xx, 429 and transport errors retry;
// card/validation style rejections do not.
type PlatformError struct {
	Code      string
	Transient bool
	Err       error
}

func (e *PlatformError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("platform_error: %s: %v", e.Code, e.Err)
	}
	return "platform_error: " + e.Code
}

func (e *PlatformError) Unwrap() error {
	return e.Err
}

func IsTransientPlatformError(err error) bool {
	var pe *PlatformError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return false
}
