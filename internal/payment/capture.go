package payment

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-kassa/internal/obs"
)

// CapturePolicy decides whether a payment should be captured and performs the capture.
type CapturePolicy struct {
	Gateway  GatewayClient
	Executor *Executor
	Logger   zerolog.Logger
}

// Fetch reads the payment once. Errors are logged and reported as a nil payment;
// a stale or missing read is retried by the next poll.
func (c *CapturePolicy) Fetch(ctx context.Context, paymentID string) *Payment {
	if c == nil || c.Gateway == nil {
		return nil
	}
	p, err := c.Gateway.GetPaymentInfo(ctx, paymentID)
	if err != nil {
		c.Logger.Error().Err(err).Str("payment_id", paymentID).Msg("fetch payment from gateway")
		return nil
	}
	return p
}

// Capture finalises an authorised payment.
//
// A succeeded payment is returned as is without any gateway call. A payment in
// any state other than waiting_for_capture yields ErrNotCapturable. When fetch
// is set the current state is read from the gateway first, and an unreadable
// payment yields ErrPaymentNotFound. A current payment whose order id differs
// from the one p names yields ErrOrderMismatch. The capture amount is always
// the full original amount.
func (c *CapturePolicy) Capture(ctx context.Context, p *Payment, fetch bool) (*Payment, error) {
	if p == nil {
		return nil, ErrPaymentNotFound
	}
	out, _, err := c.capture(ctx, p, fetch, p.OrderID())
	return out, err
}

// capture also reports whether this call is the one that sent the capture.
// A non-empty orderID must match the order recorded on the current payment.
func (c *CapturePolicy) capture(ctx context.Context, p *Payment, fetch bool, orderID string) (*Payment, bool, error) {
	if c == nil || c.Gateway == nil || c.Executor == nil {
		return nil, false, ErrNotConfigured
	}
	if p == nil {
		return nil, false, ErrPaymentNotFound
	}
	current := p
	if fetch {
		current = c.Fetch(ctx, p.ID)
		if current == nil {
			obs.Inc(obs.PaymentCaptureTotal, "not_found")
			return nil, false, fmt.Errorf("%w: %s", ErrPaymentNotFound, p.ID)
		}
	}

	if orderID != "" && current.OrderID() != orderID {
		obs.Inc(obs.PaymentCaptureTotal, "order_mismatch")
		c.Logger.Warn().
			Str("payment_id", current.ID).
			Str("order_id", orderID).
			Str("payment_order_id", current.OrderID()).
			Msg("payment belongs to another order")
		return nil, false, fmt.Errorf("%w: payment %s", ErrOrderMismatch, current.ID)
	}

	switch current.Status {
	case StatusSucceeded:
		obs.Inc(obs.PaymentCaptureTotal, "already_succeeded")
		return current, false, nil
	case StatusWaitingForCapture:
	default:
		obs.Inc(obs.PaymentCaptureTotal, "not_capturable")
		return nil, false, fmt.Errorf("%w: status %s", ErrNotCapturable, current.Status)
	}

	req := CaptureRequest{Amount: current.Amount}
	paymentID := current.ID
	captured, err := c.Executor.Do(ctx, OperationCapture, func(ctx context.Context, key string) (*Payment, error) {
		return c.Gateway.CapturePayment(ctx, req, paymentID, key)
	})
	if err != nil {
		obs.Inc(obs.PaymentCaptureTotal, "failed")
		return nil, false, err
	}
	obs.Inc(obs.PaymentCaptureTotal, "captured")
	c.Logger.Info().Str("payment_id", paymentID).Str("status", string(captured.Status)).Msg("payment_captured")
	return captured, true, nil
}
