package payment

import (
	"errors"
	"fmt"
)

var (
	// ErrNoResult is returned when a remote call produced no payment after all attempts.
	ErrNoResult = errors.New("payment: no result from gateway")
	// ErrNotCapturable means the payment is not waiting for capture. Callers resolve it
	// through the no-op guard rather than surfacing it.
	ErrNotCapturable = errors.New("payment: payment is not waiting for capture")
	// ErrNoPayment means no payment attempt is recorded for the order.
	ErrNoPayment = errors.New("payment: no payment recorded for order")
	// ErrPaymentNotFound means the gateway could not return the payment.
	ErrPaymentNotFound = errors.New("payment: payment not found at gateway")
	// ErrNotSucceeded means a capture finished but the payment is not succeeded.
	ErrNotSucceeded = errors.New("payment: payment did not succeed")
	// ErrOrderMismatch means the gateway payment belongs to another order.
	ErrOrderMismatch = errors.New("payment: payment bound to another order")
	// ErrNotConfigured is returned by components missing a collaborator.
	ErrNotConfigured = errors.New("payment: service not configured")
)

// RequestValidationError reports order, cart, method or receipt data that cannot
// produce a valid gateway request. Nothing is sent when it occurs.
type RequestValidationError struct {
	Field  string
	Reason string
}

func (e *RequestValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field == "" {
		return "invalid payment request: " + e.Reason
	}
	return fmt.Sprintf("invalid payment request: %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &RequestValidationError{Field: field, Reason: reason}
}

// IsRequestValidation reports whether err is a RequestValidationError.
func IsRequestValidation(err error) bool {
	var target *RequestValidationError
	return errors.As(err, &target)
}

// Retryable reports whether another attempt may succeed. Errors exposing
// Retryable() decide for themselves; any other error is treated as transient.
func Retryable(err error) bool {
	if err == nil {
		return true
	}
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}
