package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
)

// Task types handled by the worker.
const (
	TypeReconcile = "payment:reconcile"
	TypeSweep     = "payment:sweep"
)

// QueuePayments is the asynq queue used for payment reconciliation.
const QueuePayments = "payments"

// ReconcilePayload identifies the order a background poll runs for.
type ReconcilePayload struct {
	OrderID string `json:"order_id"`
}

// NewReconcileTask encodes a reconcile task for orderID.
func NewReconcileTask(orderID string) (*asynq.Task, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("queue: order id is required")
	}
	raw, err := json.Marshal(ReconcilePayload{OrderID: orderID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeReconcile, raw), nil
}

// NewSweepTask returns the periodic sweep task.
func NewSweepTask() *asynq.Task {
	return asynq.NewTask(TypeSweep, nil)
}

func decodeReconcile(t *asynq.Task) (ReconcilePayload, error) {
	var p ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return ReconcilePayload{}, err
	}
	if strings.TrimSpace(p.OrderID) == "" {
		return ReconcilePayload{}, fmt.Errorf("order id is required")
	}
	return p, nil
}

// RetryDelay doubles from base up to max. asynq counts retries from zero.
func RetryDelay(base, max time.Duration) asynq.RetryDelayFunc {
	if base <= 0 {
		base = 5 * time.Second
	}
	if max < base {
		max = base
	}
	return func(n int, _ error, _ *asynq.Task) time.Duration {
		d := base
		for i := 0; i < n && d < max; i++ {
			d *= 2
		}
		if d > max {
			d = max
		}
		return d
	}
}
