package gateway

import (
	"fmt"
	"net/http"
)

// TransportError covers network failures, timeouts, an open breaker and 5xx
// answers. Another attempt with the same idempotency key may succeed.
type TransportError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("gateway %s: http %d", e.Op, e.Status)
	}
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Retryable is always true for transport failures.
func (e *TransportError) Retryable() bool { return true }

// APIError is a 4xx answer carrying the gateway's error object.
type APIError struct {
	Op          string
	Status      int
	Code        string `json:"code"`
	Description string `json:"description"`
	Parameter   string `json:"parameter"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("gateway %s: http %d", e.Op, e.Status)
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.Parameter != "" {
		msg += " (" + e.Parameter + ")"
	}
	return msg
}

// Retryable reports whether the gateway asked us to slow down.
func (e *APIError) Retryable() bool { return e.Status == http.StatusTooManyRequests }
