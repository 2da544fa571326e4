package notification

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-kassa/internal/common"
	"github.com/noah-isme/toko-kassa/internal/obs"
	"github.com/noah-isme/toko-kassa/internal/payment"
)

const (
	protocolGateway = "gateway"
	protocolWallet  = "wallet"

	defaultMaxBody   = 1 << 20
	defaultReplayTTL = 24 * time.Hour
)

// Reconciler is the part of payment.Reconciler the handlers drive.
type Reconciler interface {
	HandleWaitingForCapture(ctx context.Context, orderID string, p payment.Payment) (*payment.Payment, error)
	CompleteTransfer(ctx context.Context, orderID string, p payment.Payment) error
}

// Handler receives gateway webhooks and legacy wallet notifications.
type Handler struct {
	Reconciler Reconciler
	Legacy     LegacyVerifier
	Replay     ReplayStore
	ReplayTTL  time.Duration
	MaxBody    int64
	Logger     zerolog.Logger
}

type successBody struct {
	Success       bool   `json:"success"`
	PaymentStatus string `json:"payment_status"`
}

// Gateway handles the JSON waiting_for_capture webhook.
func (h *Handler) Gateway(w http.ResponseWriter, r *http.Request) {
	ctx, span := obs.Tracer("notification").Start(r.Context(), "notification.gateway")
	defer span.End()
	if h == nil || h.Reconciler == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "webhook unavailable", nil)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBody()))
	if err != nil {
		h.reject(w, protocolGateway, http.StatusBadRequest, "INVALID_BODY", "unable to read payload")
		return
	}
	evt, err := ParseWaitingForCapture(body)
	if err != nil {
		h.Logger.Debug().Err(err).Msg("gateway notification rejected")
		h.reject(w, protocolGateway, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	obs.TagOrder(ctx, evt.OrderID)
	obs.TagPayment(ctx, evt.Payment.ID)

	replayKey := protocolGateway + ":" + evt.Payment.ID
	if status, ok := h.seen(ctx, replayKey); ok {
		obs.Inc(obs.PaymentNotificationTotal, protocolGateway, "replay")
		common.JSON(w, http.StatusOK, successBody{Success: true, PaymentStatus: status})
		return
	}

	captured, err := h.Reconciler.HandleWaitingForCapture(ctx, evt.OrderID, evt.Payment)
	switch {
	case errors.Is(err, payment.ErrNotSucceeded):
		h.reject(w, protocolGateway, http.StatusUnauthorized, "PAYMENT_NOT_SUCCEEDED", "payment not exists")
		return
	case errors.Is(err, payment.ErrPaymentNotFound):
		h.reject(w, protocolGateway, http.StatusNotFound, "PAYMENT_NOT_FOUND", "payment not exists")
		return
	case err != nil:
		span.RecordError(err)
		h.Logger.Error().Err(err).Str("order_id", evt.OrderID).Msg("gateway notification failed")
		h.reject(w, protocolGateway, http.StatusInternalServerError, "INTERNAL", "notification not processed")
		return
	}

	h.mark(ctx, replayKey, string(captured.Status))
	obs.Inc(obs.PaymentNotificationTotal, protocolGateway, "accepted")
	common.JSON(w, http.StatusOK, successBody{Success: true, PaymentStatus: string(captured.Status)})
}

// Wallet handles the signed form notification of a wallet transfer.
func (h *Handler) Wallet(w http.ResponseWriter, r *http.Request) {
	ctx, span := obs.Tracer("notification").Start(r.Context(), "notification.wallet")
	defer span.End()
	if h == nil || h.Reconciler == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "notification unavailable", nil)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody())
	if err := r.ParseForm(); err != nil {
		h.reject(w, protocolWallet, http.StatusBadRequest, "INVALID_BODY", "unable to parse form")
		return
	}
	t, err := ParseTransfer(r.PostForm)
	if err != nil {
		h.reject(w, protocolWallet, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if err := h.Legacy.Verify(t); err != nil {
		h.Logger.Warn().Str("operation_id", t.OperationID).Msg("wallet notification signature mismatch")
		h.reject(w, protocolWallet, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed")
		return
	}
	if err := t.RequireLabel(); err != nil {
		h.reject(w, protocolWallet, http.StatusBadRequest, "INCOMPLETE_NOTIFICATION", err.Error())
		return
	}
	obs.TagOrder(ctx, t.Label)
	obs.TagPayment(ctx, t.OperationID)

	replayKey := protocolWallet + ":" + t.OperationID
	if _, ok := h.seen(ctx, replayKey); ok {
		obs.Inc(obs.PaymentNotificationTotal, protocolWallet, "replay")
		w.WriteHeader(http.StatusOK)
		return
	}
	p, err := t.Payment()
	if err != nil {
		h.reject(w, protocolWallet, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if err := h.Reconciler.CompleteTransfer(ctx, t.Label, p); err != nil {
		span.RecordError(err)
		h.Logger.Error().Err(err).Str("order_id", t.Label).Msg("wallet notification failed")
		h.reject(w, protocolWallet, http.StatusInternalServerError, "INTERNAL", "notification not processed")
		return
	}
	h.mark(ctx, replayKey, string(p.Status))
	obs.Inc(obs.PaymentNotificationTotal, protocolWallet, "accepted")
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) reject(w http.ResponseWriter, protocol string, status int, code, msg string) {
	obs.Inc(obs.PaymentNotificationTotal, protocol, "rejected")
	common.JSONError(w, status, code, msg, nil)
}

func (h *Handler) seen(ctx context.Context, key string) (string, bool) {
	if h.Replay == nil {
		return "", false
	}
	v, ok, err := h.Replay.Seen(ctx, key)
	if err != nil {
		// an unavailable replay store must not block settlement
		h.Logger.Warn().Err(err).Str("key", key).Msg("replay lookup failed")
		return "", false
	}
	return v, ok
}

func (h *Handler) mark(ctx context.Context, key, value string) {
	if h.Replay == nil {
		return
	}
	ttl := h.ReplayTTL
	if ttl <= 0 {
		ttl = defaultReplayTTL
	}
	if err := h.Replay.Mark(ctx, key, value, ttl); err != nil {
		h.Logger.Warn().Err(err).Str("key", key).Msg("replay mark failed")
	}
}

func (h *Handler) maxBody() int64 {
	if h.MaxBody > 0 {
		return h.MaxBody
	}
	return defaultMaxBody
}
