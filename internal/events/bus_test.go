package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-kassa/internal/events"
	"github.com/noah-isme/toko-kassa/internal/payment"
)

type captureSink struct {
	msgs []events.Message
	err  error
}

func (c *captureSink) Write(_ context.Context, msg events.Message) error {
	c.msgs = append(c.msgs, msg)
	return c.err
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return f.err
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func succeeded() payment.SucceededEvent {
	return payment.SucceededEvent{
		OrderID:   "order-7",
		PaymentID: "pay-7",
		Amount:    payment.Amount{Value: decimal.RequireFromString("99.9"), Currency: "RUB"},
		Source:    payment.SourceWebhook,
		At:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestPaymentSucceededFansOut(t *testing.T) {
	first, second := &captureSink{}, &captureSink{}
	bus := events.Bus{Sinks: []events.Sink{first, nil, second}}

	require.NoError(t, bus.PaymentSucceeded(context.Background(), succeeded()))
	require.Len(t, first.msgs, 1)
	require.Len(t, second.msgs, 1)
	require.Equal(t, first.msgs[0].ID, second.msgs[0].ID)

	msg := first.msgs[0]
	require.Equal(t, events.TopicPaymentSucceeded, msg.Topic)
	require.Equal(t, "order-7", msg.Key)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Payload, &decoded))
	require.Equal(t, "pay-7", decoded["paymentId"])
	require.Equal(t, "webhook", decoded["source"])
	require.Equal(t, map[string]any{"value": "99.90", "currency": "RUB"}, decoded["amount"])
}

func TestEmitJoinsSinkErrors(t *testing.T) {
	failing := &captureSink{err: errors.New("broker down")}
	ok := &captureSink{}
	bus := events.Bus{Sinks: []events.Sink{failing, ok}}

	_, err := bus.Emit(context.Background(), events.TopicPaymentSucceeded, "order-1", map[string]string{"a": "b"})
	require.ErrorContains(t, err, "broker down")
	require.Len(t, ok.msgs, 1)
}

func TestEmitValidation(t *testing.T) {
	bus := events.Bus{Sinks: []events.Sink{&captureSink{}}}
	ctx := context.Background()

	_, err := bus.Emit(ctx, " ", "k", nil)
	require.Error(t, err)
	_, err = bus.Emit(ctx, events.TopicPaymentSucceeded, "", nil)
	require.Error(t, err)
	_, err = bus.Emit(ctx, events.TopicPaymentSucceeded, "k", []byte("{nope"))
	require.Error(t, err)

	msg, err := bus.Emit(ctx, events.TopicPaymentSucceeded, "k", nil)
	require.NoError(t, err)
	require.Equal(t, "{}", string(msg.Payload))

	var empty events.Bus
	_, err = empty.Emit(ctx, events.TopicPaymentSucceeded, "k", nil)
	require.Error(t, err)
}

func TestKafkaSinkWritesKeyedMessage(t *testing.T) {
	w := &fakeWriter{}
	sink := &events.KafkaSink{Writer: w, Logger: zerolog.Nop()}
	bus := events.Bus{Sinks: []events.Sink{sink}}

	require.NoError(t, bus.PaymentSucceeded(context.Background(), succeeded()))
	require.Len(t, w.msgs, 1)
	require.Equal(t, events.TopicPaymentSucceeded, w.msgs[0].Topic)
	require.Equal(t, []byte("order-7"), w.msgs[0].Key)
	require.Len(t, w.msgs[0].Headers, 1)
	require.Equal(t, "event_id", w.msgs[0].Headers[0].Key)

	require.NoError(t, sink.Close())
	require.True(t, w.closed)
}

func TestKafkaSinkPropagatesError(t *testing.T) {
	sink := &events.KafkaSink{Writer: &fakeWriter{err: errors.New("timeout")}, Logger: zerolog.Nop()}
	err := sink.Write(context.Background(), events.Message{Topic: "t", Key: "k", Payload: []byte("{}")})
	require.EqualError(t, err, "timeout")
}
