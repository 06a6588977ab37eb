// Package events publishes appointment lifecycle events to Kafka so that
// downstream consumers (calendar sync) can follow bookings.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/hackgods/voice-appointment-booking/internal/appointment"
	"github.com/hackgods/voice-appointment-booking/pkg/logging"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one message per event, keyed by appointment id so
// that all events of one appointment land on the same partition.
type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
	log     *logging.Logger
}

func NewKafkaPublisher(brokers []string, topic string, log *logging.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return newKafkaPublisher(w, log)
}

func newKafkaPublisher(w messageWriter, log *logging.Logger) *KafkaPublisher {
	if log == nil {
		log = logging.Nop()
	}
	return &KafkaPublisher{writer: w, timeout: 5 * time.Second, log: log}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev appointment.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(ev.AppointmentID.String()),
		Value: value,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Type, err)
	}

	p.log.Debug("appointment event published",
		zap.String("type", ev.Type),
		zap.String("appointment_id", ev.AppointmentID.String()),
	)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
