package appointment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	EventAppointmentBooked      = "APPOINTMENT_BOOKED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
)

// Event describes one appointment lifecycle change. It is written to
// appointment_events inside the transition's transaction and published to
// downstream consumers (calendar sync) after commit.
type Event struct {
	Type          string    `json:"type"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	PatientID     uuid.UUID `json:"patient_id"`
	Phone         string    `json:"phone"`
	Date          string    `json:"date"`
	Time          string    `json:"time"`
	OldDate       string    `json:"old_date,omitempty"`
	OldTime       string    `json:"old_time,omitempty"`
	CallID        string    `json:"call_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Log converts the event into its appointment_events row.
func (e Event) Log() (EventLog, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return EventLog{}, fmt.Errorf("marshal %s event: %w", e.Type, err)
	}
	id := e.AppointmentID
	return EventLog{
		EventType:     e.Type,
		AppointmentID: &id,
		Payload:       payload,
		CreatedAt:     e.OccurredAt,
	}, nil
}

// Publisher delivers committed events to other systems. Delivery is best
// effort; the appointment_events table stays the record.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
