package events

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaSink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events to Kafka with the message topic taken from the event.
type KafkaSink struct {
	Writer MessageWriter
	Logger zerolog.Logger
}

// NewKafkaSink returns a sink writing to brokers. Messages with the same key
// land on the same partition.
func NewKafkaSink(brokers []string, logger zerolog.Logger) *KafkaSink {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
	return &KafkaSink{Writer: writer, Logger: logger}
}

// Write sends one message.
func (k *KafkaSink) Write(ctx context.Context, msg Message) error {
	err := k.Writer.WriteMessages(ctx, kafka.Message{
		Topic: msg.Topic,
		Key:   []byte(msg.Key),
		Value: msg.Payload,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(msg.ID)},
		},
	})
	if err != nil {
		k.Logger.Error().Err(err).Str("topic", msg.Topic).Str("key", msg.Key).Msg("kafka publish failed")
		return err
	}
	k.Logger.Debug().Str("topic", msg.Topic).Str("key", msg.Key).Str("event_id", msg.ID).Msg("event published")
	return nil
}

// Close flushes pending writes.
func (k *KafkaSink) Close() error {
	return k.Writer.Close()
}

// LogSink records events in the log only. Used when no broker is configured.
type LogSink struct {
	Logger zerolog.Logger
}

// Write logs the message.
func (l LogSink) Write(_ context.Context, msg Message) error {
	l.Logger.Info().
		Str("topic", msg.Topic).
		Str("key", msg.Key).
		Str("event_id", msg.ID).
		RawJSON("payload", msg.Payload).
		Msg("event emitted")
	return nil
}
