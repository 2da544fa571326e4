package obs

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Tags carries the order and payment a request is about. Handlers record the
// ids as they learn them; the request middleware reads them once the handler
// has returned.
type Tags struct {
	mu        sync.Mutex
	route     string
	orderID   string
	paymentID string
}

type tagsKey struct{}

// WithTags returns ctx carrying Tags, reusing the ones already present.
func WithTags(ctx context.Context) (context.Context, *Tags) {
	if ctx == nil {
		ctx = context.Background()
	}
	if t := TagsFrom(ctx); t != nil {
		return ctx, t
	}
	t := &Tags{}
	return context.WithValue(ctx, tagsKey{}, t), t
}

// TagsFrom returns the Tags on ctx, or nil.
func TagsFrom(ctx context.Context) *Tags {
	if ctx == nil {
		return nil
	}
	t, _ := ctx.Value(tagsKey{}).(*Tags)
	return t
}

// TagRoute records the route for entrypoints not served by the chi router.
func TagRoute(ctx context.Context, route string) {
	if t := TagsFrom(ctx); t != nil {
		t.set(&t.route, route)
	}
}

// TagOrder records orderID on the request and on the active span.
func TagOrder(ctx context.Context, orderID string) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return
	}
	if t := TagsFrom(ctx); t != nil {
		t.set(&t.orderID, orderID)
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("order.id", orderID))
}

// TagPayment records paymentID on the request and on the active span.
func TagPayment(ctx context.Context, paymentID string) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return
	}
	if t := TagsFrom(ctx); t != nil {
		t.set(&t.paymentID, paymentID)
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("payment.id", paymentID))
}

// Snapshot returns the recorded route, order id and payment id. A nil Tags
// yields empty strings.
func (t *Tags) Snapshot() (route, orderID, paymentID string) {
	if t == nil {
		return "", "", ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.route, t.orderID, t.paymentID
}

func (t *Tags) set(field *string, v string) {
	t.mu.Lock()
	*field = v
	t.mu.Unlock()
}
