package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	ac "github.com/panyam/authcore"
)

// DefaultKafkaTopic receives code messages unless configured otherwise
const DefaultKafkaTopic = "authcore.codes"

// MessageWriter is the part of kafka.Writer the sender uses
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSender publishes codes to a Kafka topic keyed by email, so all codes for
// one address land on one partition in order.
type KafkaSender struct {
	Writer MessageWriter
	Topic  string
	Logger *slog.Logger
	Now    func() time.Time
}

// NewKafkaSender creates a sender writing to brokers with all-replica acks
func NewKafkaSender(brokers []string, topic string, logger *slog.Logger) *KafkaSender {
	if topic == "" {
		topic = DefaultKafkaTopic
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
	return &KafkaSender{Writer: w, Topic: topic, Logger: logger}
}

func (k *KafkaSender) now() time.Time {
	if k.Now != nil {
		return k.Now()
	}
	return time.Now()
}

func (k *KafkaSender) SendCode(ctx context.Context, email, code string, purpose ac.CodePurpose) error {
	data, err := newCodeMessage(email, code, purpose, k.now()).Marshal()
	if err != nil {
		return fmt.Errorf("marshal code message: %w", err)
	}

	msg := kafka.Message{
		Topic: k.Topic,
		Key:   []byte(email),
		Value: data,
		Headers: []kafka.Header{
			{Key: "purpose", Value: []byte(purpose)},
			{Key: "source", Value: []byte("authcore")},
		},
	}
	if err := k.Writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish code to %s: %w", k.Topic, err)
	}

	if k.Logger != nil {
		k.Logger.DebugContext(ctx, "published code message",
			slog.String("topic", k.Topic),
			slog.String("purpose", string(purpose)),
		)
	}
	return nil
}

func (k *KafkaSender) Close() error {
	return k.Writer.Close()
}
