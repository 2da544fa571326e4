package queue

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-kassa/internal/obs"
	"github.com/noah-isme/toko-kassa/internal/payment"
)

// TaskEnqueuer is the subset of *asynq.Client used by Scheduler.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Scheduler enqueues delayed reconcile tasks. At most one task per order is
// pending or active within the uniqueness window.
type Scheduler struct {
	Client   TaskEnqueuer
	Delay    time.Duration
	Unique   time.Duration
	MaxRetry int
	Logger   zerolog.Logger
}

var _ payment.ReconcileScheduler = (*Scheduler)(nil)

// ScheduleReconcile queues a background poll for orderID. A task already
// queued for the order is not an error.
func (s *Scheduler) ScheduleReconcile(ctx context.Context, orderID string) error {
	if s == nil || s.Client == nil {
		return errors.New("queue: client not configured")
	}
	task, err := NewReconcileTask(orderID)
	if err != nil {
		return err
	}
	info, err := s.Client.EnqueueContext(ctx, task, s.options()...)
	switch {
	case errors.Is(err, asynq.ErrDuplicateTask), errors.Is(err, asynq.ErrTaskIDConflict):
		obs.Inc(QueueEnqueuedTotal, TypeReconcile, "duplicate")
		return nil
	case err != nil:
		obs.Inc(QueueEnqueuedTotal, TypeReconcile, "error")
		return err
	}
	obs.Inc(QueueEnqueuedTotal, TypeReconcile, "queued")
	s.Logger.Debug().Str("order_id", orderID).Str("task_id", info.ID).Msg("reconcile scheduled")
	return nil
}

func (s *Scheduler) options() []asynq.Option {
	delay := s.Delay
	if delay <= 0 {
		delay = 10 * time.Second
	}
	unique := s.Unique
	if unique <= 0 {
		unique = 5 * time.Minute
	}
	retry := s.MaxRetry
	if retry <= 0 {
		retry = 12
	}
	return []asynq.Option{
		asynq.Queue(QueuePayments),
		asynq.ProcessIn(delay),
		asynq.Unique(unique),
		asynq.MaxRetry(retry),
	}
}
