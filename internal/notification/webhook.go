package notification

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/noah-isme/toko-kassa/internal/payment"
)

// EventWaitingForCapture is the gateway event name for authorised payments.
const EventWaitingForCapture = "payment.waiting_for_capture"

type envelope struct {
	Type   string           `json:"type"`
	Event  string           `json:"event"`
	Object *payment.Payment `json:"object"`
}

// WaitingForCapture is a verified webhook ready for the reconciler.
type WaitingForCapture struct {
	OrderID string
	Payment payment.Payment
}

// ParseWaitingForCapture validates a gateway webhook body. It only parses;
// the reconciler re-reads the payment before acting on it.
func ParseWaitingForCapture(body []byte) (WaitingForCapture, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return WaitingForCapture{}, invalid("body is empty")
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return WaitingForCapture{}, invalid("invalid body")
	}
	if env.Object == nil {
		return WaitingForCapture{}, invalid("invalid body")
	}
	if env.Event != "" && env.Event != EventWaitingForCapture {
		return WaitingForCapture{}, invalid("unexpected event " + env.Event)
	}
	if env.Event == "" && env.Object.Status != payment.StatusWaitingForCapture {
		return WaitingForCapture{}, invalid("payment is not waiting for capture")
	}
	if strings.TrimSpace(env.Object.ID) == "" {
		return WaitingForCapture{}, invalid("payment id is missing")
	}
	orderID := strings.TrimSpace(env.Object.OrderID())
	if orderID == "" {
		return WaitingForCapture{}, invalid("metadata.order_id is missing")
	}
	return WaitingForCapture{OrderID: orderID, Payment: *env.Object}, nil
}
