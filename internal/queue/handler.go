package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-kassa/internal/obs"
	"github.com/noah-isme/toko-kassa/internal/payment"
)

// ErrStillOpen is returned while the payment has not settled so asynq retries the task.
var ErrStillOpen = errors.New("queue: payment still open")

// Reconciler is the poll capability consumed by the worker.
type Reconciler interface {
	PollFrom(ctx context.Context, orderID, source string) (payment.PollResult, error)
}

// OpenOrderLister lists orders whose payment has not settled.
type OpenOrderLister interface {
	ListOpenOrders(ctx context.Context, before time.Time, limit int) ([]string, error)
}

// ReconcileHandler runs background polls.
type ReconcileHandler struct {
	Reconciler Reconciler
	Logger     zerolog.Logger
}

// ProcessTask polls the order once. Awaiting and pending outcomes are retried.
func (h *ReconcileHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	p, err := decodeReconcile(t)
	if err != nil {
		obs.Inc(QueueProcessedTotal, TypeReconcile, "invalid")
		return fmt.Errorf("decode reconcile payload: %v: %w", err, asynq.SkipRetry)
	}
	logger := h.Logger.With().Str("order_id", p.OrderID).Logger()

	res, err := h.Reconciler.PollFrom(ctx, p.OrderID, payment.SourceWorker)
	if err != nil {
		obs.Inc(QueueProcessedTotal, TypeReconcile, "error")
		logger.Warn().Err(err).Msg("background reconcile failed")
		return err
	}
	if stillOpen(res) {
		obs.Inc(QueueProcessedTotal, TypeReconcile, "retry")
		logger.Debug().Str("outcome", string(res.Outcome)).Msg("payment still open")
		return ErrStillOpen
	}
	obs.Inc(QueueProcessedTotal, TypeReconcile, string(res.Outcome))
	logger.Info().Str("outcome", string(res.Outcome)).Msg("background reconcile done")
	return nil
}

func stillOpen(res payment.PollResult) bool {
	switch res.Outcome {
	case payment.OutcomeAwaiting:
		return true
	case payment.OutcomeNotPaid:
		return res.Payment != nil && res.Payment.Status == payment.StatusPending
	}
	return false
}

// Sweeper schedules reconciles for open payments nobody has touched for a while.
// It covers orders whose buyer never returned and whose webhook never arrived.
type Sweeper struct {
	Orders    OpenOrderLister
	Scheduler payment.ReconcileScheduler
	MinAge    time.Duration
	Limit     int
	Logger    zerolog.Logger
	Now       func() time.Time
}

// ProcessTask runs one sweep.
func (s *Sweeper) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	_, err := s.Sweep(ctx)
	return err
}

// Sweep schedules a reconcile for every stale open order and reports how many were scheduled.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	age := s.MinAge
	if age <= 0 {
		age = 15 * time.Minute
	}
	ids, err := s.Orders.ListOpenOrders(ctx, now().Add(-age), s.Limit)
	if err != nil {
		obs.Inc(QueueProcessedTotal, TypeSweep, "error")
		return 0, fmt.Errorf("list open orders: %w", err)
	}
	scheduled := 0
	var joined error
	for _, id := range ids {
		if err := s.Scheduler.ScheduleReconcile(ctx, id); err != nil {
			joined = errors.Join(joined, fmt.Errorf("order %s: %w", id, err))
			continue
		}
		scheduled++
	}
	obs.Inc(QueueProcessedTotal, TypeSweep, "done")
	s.Logger.Info().Int("open", len(ids)).Int("scheduled", scheduled).Msg("payment sweep")
	return scheduled, joined
}

// NewMux routes task types to their handlers. The sweeper is optional.
func NewMux(reconcile *ReconcileHandler, sweep *Sweeper) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeReconcile, reconcile)
	if sweep != nil {
		mux.Handle(TypeSweep, sweep)
	}
	return mux
}
