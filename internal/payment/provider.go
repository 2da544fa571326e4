package payment

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the gateway-side lifecycle state of a payment.
type Status string

const (
	StatusPending           Status = "pending"
	StatusWaitingForCapture Status = "waiting_for_capture"
	StatusSucceeded         Status = "succeeded"
	StatusCanceled          Status = "canceled"
)

// Terminal reports whether no further transition is driven by this service.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusCanceled
}

// ConfirmationType selects how the buyer returns after authorization.
type ConfirmationType string

const (
	ConfirmationRedirect ConfirmationType = "redirect"
	ConfirmationExternal ConfirmationType = "external"
)

// MetadataOrderID is the metadata key correlating a gateway payment with a local order.
const MetadataOrderID = "order_id"

// Amount is a monetary value in a given ISO currency.
type Amount struct {
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency"`
}

// MarshalJSON renders the value as a fixed-point string in the currency's precision.
func (a Amount) MarshalJSON() ([]byte, error) {
	places := int32(2)
	if _, ok := zeroDecimalCurrencies[a.Currency]; ok {
		places = 0
	}
	return json.Marshal(struct {
		Value    string `json:"value"`
		Currency string `json:"currency"`
	}{Value: a.Value.StringFixed(places), Currency: a.Currency})
}

// Confirmation describes the confirmation strategy of a payment.
type Confirmation struct {
	Type            ConfirmationType `json:"type"`
	ReturnURL       string           `json:"return_url,omitempty"`
	ConfirmationURL string           `json:"confirmation_url,omitempty"`
}

// Payment mirrors the gateway payment resource. It is never mutated locally.
type Payment struct {
	ID           string            `json:"id"`
	Status       Status            `json:"status"`
	Amount       Amount            `json:"amount"`
	Paid         bool              `json:"paid"`
	Confirmation *Confirmation     `json:"confirmation,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    *time.Time        `json:"created_at,omitempty"`
}

// OrderID returns the correlated order id from metadata.
func (p Payment) OrderID() string {
	if p.Metadata == nil {
		return ""
	}
	return p.Metadata[MetadataOrderID]
}

// RedirectURL returns the confirmation URL for redirect confirmations.
func (p Payment) RedirectURL() string {
	if p.Confirmation == nil || p.Confirmation.Type != ConfirmationRedirect {
		return ""
	}
	return p.Confirmation.ConfirmationURL
}

// PaymentMethodData carries method-specific fields sent at creation.
type PaymentMethodData struct {
	Type  MethodKind `json:"type"`
	Phone string     `json:"phone,omitempty"`
	Login string     `json:"login,omitempty"`
}

// CreatePaymentRequest is the body of a payment-creation call.
type CreatePaymentRequest struct {
	Amount            Amount             `json:"amount"`
	Capture           bool               `json:"capture"`
	Confirmation      Confirmation       `json:"confirmation"`
	PaymentMethodData *PaymentMethodData `json:"payment_method_data,omitempty"`
	Metadata          map[string]string  `json:"metadata"`
	Receipt           *Receipt           `json:"receipt,omitempty"`
	ClientIP          string             `json:"client_ip,omitempty"`
}

// CaptureRequest is the body of a capture call.
type CaptureRequest struct {
	Amount Amount `json:"amount"`
}

// GatewayClient abstracts the remote payment gateway API. A nil payment with a
// nil error means the gateway accepted the call but has no result yet.
type GatewayClient interface {
	CreatePayment(ctx context.Context, req CreatePaymentRequest, idempotencyKey string) (*Payment, error)
	CapturePayment(ctx context.Context, req CaptureRequest, paymentID, idempotencyKey string) (*Payment, error)
	GetPaymentInfo(ctx context.Context, paymentID string) (*Payment, error)
}

// OrderStore is the order persistence capability consumed by the engine.
// GetPaymentIDForOrder returns ErrNoPayment when the order has no attempt yet.
// SavePayment must be an idempotent upsert.
type OrderStore interface {
	GetPaymentIDForOrder(ctx context.Context, orderID string) (string, error)
	SavePayment(ctx context.Context, orderID string, p Payment) error
}

// CaptureGuard serialises work for one key across processes.
type CaptureGuard interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// SucceededEvent is published once a payment has been captured and saved.
type SucceededEvent struct {
	OrderID   string    `json:"orderId"`
	PaymentID string    `json:"paymentId"`
	Amount    Amount    `json:"amount"`
	Source    string    `json:"source"`
	At        time.Time `json:"at"`
}

// EventPublisher delivers payment events to downstream consumers.
type EventPublisher interface {
	PaymentSucceeded(ctx context.Context, evt SucceededEvent) error
}

// ReconcileScheduler queues a background poll for an order.
type ReconcileScheduler interface {
	ScheduleReconcile(ctx context.Context, orderID string) error
}
