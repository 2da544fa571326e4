package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/noah-isme/toko-kassa/internal/payment"
)

// Sink writes an encoded event to one downstream transport.
type Sink interface {
	Write(ctx context.Context, msg Message) error
}

// Message is the envelope handed to every sink.
type Message struct {
	ID      string
	Topic   string
	Key     string
	Payload []byte
}

// Bus encodes payment events and fans them out to the configured sinks.
type Bus struct {
	Sinks []Sink
}

var _ payment.EventPublisher = (*Bus)(nil)

// PaymentSucceeded publishes the event keyed by order id so consumers see one
// ordered stream per order.
func (b *Bus) PaymentSucceeded(ctx context.Context, evt payment.SucceededEvent) error {
	_, err := b.Emit(ctx, TopicPaymentSucceeded, evt.OrderID, evt)
	return err
}

// Emit encodes payload and dispatches it to all sinks. Every sink is tried
// and the failures are joined.
func (b *Bus) Emit(ctx context.Context, topic, key string, payload any) (Message, error) {
	if b == nil || len(b.Sinks) == 0 {
		return Message{}, errors.New("events: no sinks configured")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return Message{}, errors.New("events: topic is required")
	}
	if strings.TrimSpace(key) == "" {
		return Message{}, errors.New("events: key is required")
	}
	encoded, err := encodePayload(payload)
	if err != nil {
		return Message{}, fmt.Errorf("events: encode payload: %w", err)
	}
	msg := Message{ID: uuid.NewString(), Topic: topic, Key: key, Payload: encoded}

	var joined error
	for _, sink := range b.Sinks {
		if sink == nil {
			continue
		}
		if werr := sink.Write(ctx, msg); werr != nil {
			joined = errors.Join(joined, fmt.Errorf("events: sink: %w", werr))
		}
	}
	return msg, joined
}

func encodePayload(payload any) ([]byte, error) {
	if payload == nil {
		return []byte("{}"), nil
	}
	switch v := payload.(type) {
	case []byte:
		if len(v) == 0 {
			return []byte("{}"), nil
		}
		if !json.Valid(v) {
			return nil, errors.New("payload is not valid json")
		}
		return append([]byte(nil), v...), nil
	case json.RawMessage:
		if len(v) == 0 {
			return []byte("{}"), nil
		}
		if !json.Valid(v) {
			return nil, errors.New("payload is not valid json")
		}
		return append([]byte(nil), v...), nil
	default:
		return json.Marshal(v)
	}
}
