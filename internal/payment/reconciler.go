package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/toko-kassa/internal/obs"
)

// Outcome is what the return-URL poll reports back to checkout.
type Outcome string

const (
	// OutcomeNotPaid sends the buyer back to payment method selection.
	OutcomeNotPaid Outcome = "not_paid"
	// OutcomeFailed means the payment was canceled.
	OutcomeFailed Outcome = "failed"
	// OutcomeAwaiting means the gateway has not settled yet; poll again later.
	OutcomeAwaiting Outcome = "awaiting"
	// OutcomeSucceeded lets checkout proceed to order completion.
	OutcomeSucceeded Outcome = "succeeded"
)

// Reconciliation sources used for logs, metrics and events.
const (
	SourcePoll     = "poll"
	SourceWebhook  = "webhook"
	SourceTransfer = "transfer"
	SourceWorker   = "worker"
)

const defaultGuardTTL = 30 * time.Second

// PollResult is the outcome of one poll together with the payment it was derived from.
type PollResult struct {
	Outcome Outcome
	Payment *Payment
}

// Reconciler converges local order state with the gateway on both the poll and webhook paths.
type Reconciler struct {
	Store   OrderStore
	Capture *CapturePolicy
	// Guard optionally serialises capture per payment across processes.
	Guard    CaptureGuard
	GuardTTL time.Duration
	// Events and Scheduler are optional.
	Events    EventPublisher
	Scheduler ReconcileScheduler
	Logger    zerolog.Logger
}

// Poll reconciles an order when the buyer returns from the gateway page.
// The fetch is a single attempt; a stale read is corrected by the next poll.
func (r *Reconciler) Poll(ctx context.Context, orderID string) (PollResult, error) {
	return r.poll(ctx, orderID, SourcePoll)
}

// PollFrom is Poll with an explicit source label, used by the background worker.
func (r *Reconciler) PollFrom(ctx context.Context, orderID, source string) (PollResult, error) {
	return r.poll(ctx, orderID, source)
}

func (r *Reconciler) poll(ctx context.Context, orderID, source string) (result PollResult, err error) {
	if r == nil || r.Store == nil || r.Capture == nil {
		return PollResult{}, ErrNotConfigured
	}
	ctx, span := obs.Tracer("payment").Start(ctx, "payment.poll")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID), attribute.String("reconcile.source", source))
	logger := r.Logger.With().Str("order_id", orderID).Str("source", source).Logger()
	defer func() {
		outcome := string(result.Outcome)
		if err != nil {
			outcome = "error"
		}
		span.SetAttributes(attribute.String("reconcile.outcome", outcome))
		obs.Inc(obs.PaymentReconcileTotal, source, outcome)
	}()

	paymentID, err := r.Store.GetPaymentIDForOrder(ctx, orderID)
	if errors.Is(err, ErrNoPayment) || (err == nil && paymentID == "") {
		logger.Debug().Msg("order has no payment attempt")
		return PollResult{Outcome: OutcomeNotPaid}, nil
	}
	if err != nil {
		return PollResult{}, fmt.Errorf("load payment id: %w", err)
	}

	p := r.Capture.Fetch(ctx, paymentID)
	if p == nil {
		return PollResult{Outcome: OutcomeNotPaid}, nil
	}
	span.SetAttributes(attribute.String("payment.id", p.ID), attribute.String("payment.status", string(p.Status)))
	if p.OrderID() != orderID {
		logger.Warn().Str("payment_id", p.ID).Str("payment_order_id", p.OrderID()).Msg("stored payment belongs to another order")
		return PollResult{Outcome: OutcomeNotPaid}, nil
	}

	switch {
	case p.Status == StatusCanceled:
		return PollResult{Outcome: OutcomeFailed, Payment: p}, nil
	case !p.Paid:
		if p.Status == StatusPending {
			r.schedule(ctx, orderID)
		}
		return PollResult{Outcome: OutcomeNotPaid, Payment: p}, nil
	case p.Status == StatusSucceeded:
		if err := r.Store.SavePayment(ctx, orderID, *p); err != nil {
			return PollResult{}, fmt.Errorf("save payment: %w", err)
		}
		return PollResult{Outcome: OutcomeSucceeded, Payment: p}, nil
	case p.Status == StatusWaitingForCapture:
		captured, sent, err := r.capture(ctx, p, false, orderID)
		if err != nil || captured == nil || captured.Status != StatusSucceeded {
			if err != nil {
				logger.Warn().Err(err).Msg("capture on poll did not complete")
			}
			r.schedule(ctx, orderID)
			return PollResult{Outcome: OutcomeAwaiting, Payment: p}, nil
		}
		if err := r.Store.SavePayment(ctx, orderID, *captured); err != nil {
			return PollResult{}, fmt.Errorf("save payment: %w", err)
		}
		if sent {
			r.publish(ctx, orderID, *captured, source)
		}
		return PollResult{Outcome: OutcomeSucceeded, Payment: captured}, nil
	default:
		r.schedule(ctx, orderID)
		return PollResult{Outcome: OutcomeAwaiting, Payment: p}, nil
	}
}

// HandleWaitingForCapture completes a payment announced by the gateway webhook.
// The current state is re-read before capture and must name orderID in its
// own metadata; the webhook body is never trusted for the binding. It returns
// ErrPaymentNotFound when the payment cannot be read, captured or bound to the
// order, and ErrNotSucceeded when the resulting payment has not succeeded.
// Nothing is saved in any of these cases.
func (r *Reconciler) HandleWaitingForCapture(ctx context.Context, orderID string, p Payment) (*Payment, error) {
	if r == nil || r.Store == nil || r.Capture == nil {
		return nil, ErrNotConfigured
	}
	ctx, span := obs.Tracer("payment").Start(ctx, "payment.waiting_for_capture")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID), attribute.String("payment.id", p.ID))
	logger := r.Logger.With().Str("order_id", orderID).Str("payment_id", p.ID).Str("source", SourceWebhook).Logger()

	captured, sent, err := r.capture(ctx, &p, true, orderID)
	if err != nil {
		obs.Inc(obs.PaymentReconcileTotal, SourceWebhook, "not_found")
		logger.Warn().Err(err).Msg("webhook capture failed")
		return nil, fmt.Errorf("%w: %w", ErrPaymentNotFound, err)
	}
	if captured.Status != StatusSucceeded {
		obs.Inc(obs.PaymentReconcileTotal, SourceWebhook, "not_succeeded")
		logger.Warn().Str("status", string(captured.Status)).Msg("captured payment not succeeded")
		return captured, fmt.Errorf("%w: status %s", ErrNotSucceeded, captured.Status)
	}
	if err := r.Store.SavePayment(ctx, orderID, *captured); err != nil {
		obs.Inc(obs.PaymentReconcileTotal, SourceWebhook, "error")
		return nil, fmt.Errorf("save payment: %w", err)
	}
	obs.Inc(obs.PaymentReconcileTotal, SourceWebhook, string(OutcomeSucceeded))
	if sent {
		r.publish(ctx, orderID, *captured, SourceWebhook)
	}
	return captured, nil
}

// CompleteTransfer records a payment confirmed by a signed legacy notification.
// Legacy transfers settle in one phase, so there is nothing to capture.
func (r *Reconciler) CompleteTransfer(ctx context.Context, orderID string, p Payment) error {
	if r == nil || r.Store == nil {
		return ErrNotConfigured
	}
	if err := r.Store.SavePayment(ctx, orderID, p); err != nil {
		obs.Inc(obs.PaymentReconcileTotal, SourceTransfer, "error")
		return fmt.Errorf("save payment: %w", err)
	}
	obs.Inc(obs.PaymentReconcileTotal, SourceTransfer, string(OutcomeSucceeded))
	r.publish(ctx, orderID, p, SourceTransfer)
	return nil
}

// capture runs the capture policy, under the guard when one is configured.
// Inside the guard the payment is always re-read so a concurrent winner is
// observed as succeeded and no second capture is sent. sent reports whether
// this call issued the capture.
func (r *Reconciler) capture(ctx context.Context, p *Payment, fetch bool, orderID string) (captured *Payment, sent bool, err error) {
	if r.Guard == nil {
		return r.Capture.capture(ctx, p, fetch, orderID)
	}
	ttl := r.GuardTTL
	if ttl <= 0 {
		ttl = defaultGuardTTL
	}
	err = r.Guard.WithLock(ctx, "capture:"+p.ID, ttl, func(ctx context.Context) error {
		var cerr error
		captured, sent, cerr = r.Capture.capture(ctx, p, true, orderID)
		return cerr
	})
	if err != nil {
		return nil, false, err
	}
	return captured, sent, nil
}

func (r *Reconciler) publish(ctx context.Context, orderID string, p Payment, source string) {
	if r.Events == nil {
		return
	}
	evt := SucceededEvent{
		OrderID:   orderID,
		PaymentID: p.ID,
		Amount:    p.Amount,
		Source:    source,
		At:        time.Now().UTC(),
	}
	if err := r.Events.PaymentSucceeded(ctx, evt); err != nil {
		r.Logger.Error().Err(err).Str("order_id", orderID).Str("payment_id", p.ID).Msg("publish payment succeeded")
	}
}

func (r *Reconciler) schedule(ctx context.Context, orderID string) {
	if r.Scheduler == nil {
		return
	}
	if err := r.Scheduler.ScheduleReconcile(ctx, orderID); err != nil {
		r.Logger.Warn().Err(err).Str("order_id", orderID).Msg("schedule reconcile")
	}
}
