package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/toko-kassa/internal/obs"
)

// Service creates gateway payments for checkout orders.
type Service struct {
	Builder  *RequestBuilder
	Executor *Executor
	Gateway  GatewayClient
	Store    OrderStore
	Logger   zerolog.Logger
}

// CreatePayment builds and submits a creation request, then records the
// payment against the order so the return poll can find it. A
// *RequestValidationError means nothing was sent; ErrNoResult means the gateway
// never confirmed the payment.
func (s *Service) CreatePayment(ctx context.Context, in BuildInput) (_ *Payment, err error) {
	if s == nil || s.Builder == nil || s.Executor == nil || s.Gateway == nil || s.Store == nil {
		return nil, ErrNotConfigured
	}
	ctx, span := obs.Tracer("payment").Start(ctx, "payment.create")
	defer span.End()

	start := time.Now()
	method := "gateway_choice"
	if in.Method != nil && in.Method.Kind() != "" {
		method = string(in.Method.Kind())
	}
	result := "error"
	defer func() {
		span.SetAttributes(
			attribute.String("order.id", in.Order.ID),
			attribute.String("payment.method", method),
			attribute.Float64("payment.create.duration_ms", obs.DurationMillis(time.Since(start))),
			attribute.String("payment.create.result", result),
		)
		if err != nil {
			span.RecordError(err)
		}
		obs.Inc(obs.PaymentCreateTotal, method, result)
	}()

	req, err := s.Builder.Build(in)
	if err != nil {
		result = "invalid"
		s.Logger.Warn().Err(err).Str("order_id", in.Order.ID).Msg("payment request rejected")
		return nil, err
	}

	p, err := s.Executor.Do(ctx, OperationCreate, func(ctx context.Context, key string) (*Payment, error) {
		return s.Gateway.CreatePayment(ctx, req, key)
	})
	if err != nil {
		return nil, err
	}
	orderID := req.Metadata[MetadataOrderID]
	if err := s.Store.SavePayment(ctx, orderID, *p); err != nil {
		return nil, fmt.Errorf("save created payment: %w", err)
	}
	result = "success"
	s.Logger.Info().
		Str("order_id", orderID).
		Str("payment_id", p.ID).
		Str("status", string(p.Status)).
		Msg("payment_created")
	return p, nil
}
