package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-kassa/internal/obs"
)

// Operation names a logical gateway operation. Each one gets its own idempotency key.
type Operation string

const (
	OperationCreate  Operation = "create"
	OperationCapture Operation = "capture"
)

// RetryPolicy bounds the attempts of one logical operation.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetryPolicy is one initial attempt plus three retries, two seconds apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 4, Delay: 2 * time.Second}
}

// Call performs one attempt with the supplied idempotency key.
type Call func(ctx context.Context, idempotencyKey string) (*Payment, error)

// Executor runs a gateway call under a stable idempotency key with a fixed-delay retry.
type Executor struct {
	Policy RetryPolicy
	Logger zerolog.Logger
	// NewKey generates the idempotency key for a logical operation.
	NewKey func() string
	// Sleep waits between attempts; it must return early when ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor returns an executor using uuid keys and a context-aware timer.
func NewExecutor(policy RetryPolicy, logger zerolog.Logger) *Executor {
	return &Executor{Policy: policy, Logger: logger}
}

// Do invokes call until it yields a payment, attempts run out, a permanent
// error occurs, or ctx is done. The same key is passed to every attempt.
// Failures are logged and reported as ErrNoResult.
func (e *Executor) Do(ctx context.Context, op Operation, call Call) (*Payment, error) {
	policy := e.policy()
	key := e.newKey()
	logger := e.Logger.With().Str("operation", string(op)).Str("idempotency_key", key).Logger()

	var lastErr error
	attempt := 0
	for attempt < policy.MaxAttempts {
		attempt++
		p, err := call(ctx, key)
		if err == nil && p != nil {
			obs.Inc(obs.GatewayAttemptTotal, string(op), "success")
			return p, nil
		}
		if err != nil {
			lastErr = err
			obs.Inc(obs.GatewayAttemptTotal, string(op), "error")
			logger.Warn().Err(err).Int("attempt", attempt).Msg("gateway_attempt_failed")
			if !Retryable(err) {
				break
			}
		} else {
			obs.Inc(obs.GatewayAttemptTotal, string(op), "empty")
			logger.Debug().Int("attempt", attempt).Msg("gateway_attempt_empty")
		}
		if attempt == policy.MaxAttempts {
			break
		}
		if err := e.sleep(ctx, policy.Delay); err != nil {
			lastErr = err
			break
		}
	}

	logger.Error().Err(lastErr).Int("attempts", attempt).Msg("gateway_operation_no_result")
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %s after %d attempts: %w", ErrNoResult, op, attempt, lastErr)
	}
	return nil, fmt.Errorf("%w: %s after %d attempts", ErrNoResult, op, attempt)
}

func (e *Executor) policy() RetryPolicy {
	p := e.Policy
	if p == (RetryPolicy{}) {
		return DefaultRetryPolicy()
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy().MaxAttempts
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	return p
}

func (e *Executor) newKey() string {
	if e.NewKey != nil {
		return e.NewKey()
	}
	return uuid.NewString()
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
