package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/voice-appointment-booking/internal/appointment"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestPublishKeysByAppointment(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher(w, nil)

	ev := appointment.Event{
		Type:          appointment.EventAppointmentBooked,
		AppointmentID: uuid.New(),
		Phone:         "3001234567",
		Date:          "2025-01-10",
		Time:          "09:30",
		OccurredAt:    time.Now().UTC(),
	}
	require.NoError(t, p.Publish(context.Background(), ev))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, ev.AppointmentID.String(), string(msg.Key))
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, appointment.EventAppointmentBooked, string(msg.Headers[0].Value))

	var decoded appointment.Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, ev.AppointmentID, decoded.AppointmentID)
	assert.Equal(t, "09:30", decoded.Time)
}

func TestPublishWrapsWriterError(t *testing.T) {
	boom := errors.New("broker down")
	p := newKafkaPublisher(&fakeWriter{err: boom}, nil)

	err := p.Publish(context.Background(), appointment.Event{Type: appointment.EventAppointmentCancelled})
	assert.ErrorIs(t, err, boom)
}
