package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending     Status = "pending"
	StatusBooked      Status = "booked"
	StatusRescheduled Status = "rescheduled"
	StatusCancelled   Status = "cancelled"
)

// ActiveStatuses occupy a slot.
var ActiveStatuses = []Status{StatusBooked, StatusRescheduled}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusBooked, StatusRescheduled, StatusCancelled:
		return true
	}
	return false
}

type Patient struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Email     *string   `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Appointment dates are "YYYY-MM-DD" and times are 24h "HH:MM" in clinic
// local time.
type Appointment struct {
	ID            uuid.UUID `json:"id"`
	PatientID     uuid.UUID `json:"patient_id"`
	Date          string    `json:"date"`
	Time          string    `json:"time"`
	Status        Status    `json:"status"`
	GoogleEventID *string   `json:"google_event_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type AppointmentDetail struct {
	Appointment
	PatientName  string `json:"patient_name"`
	PatientPhone string `json:"patient_phone"`
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
