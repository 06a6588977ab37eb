// Package tools is the surface the conversational engine calls into. The set
// of tools is closed; each one maps onto a booking service operation and
// always produces caller-facing text.
package tools

import "github.com/samber/lo"

type Name string

const (
	SaveName            Name = "save_name"
	SavePhone           Name = "save_phone"
	AvailableSlot       Name = "available_slot"
	BookAppointment     Name = "booking_appointment"
	StartReschedule     Name = "start_reschedule"
	ConfirmReschedule   Name = "confirm_reschedule"
	StartCancel         Name = "start_cancel"
	ConfirmCancel       Name = "confirm_cancel"
	UpdateCallerProfile Name = "update_caller_profile"
	GetDate             Name = "get_date"
	EndCall             Name = "end_call"
)

// All lists every tool in the order they are advertised to the engine.
var All = []Name{
	SaveName, SavePhone, AvailableSlot, BookAppointment,
	StartReschedule, ConfirmReschedule, StartCancel, ConfirmCancel,
	UpdateCallerProfile, GetDate, EndCall,
}

func (n Name) Valid() bool { return lo.Contains(All, n) }

// Call identifies the live call a tool runs for.
type Call struct {
	ID            string
	ParticipantID string
}

// Args carries the optional string arguments of any tool. A nil field was not
// supplied by the engine.
type Args struct {
	Name  *string `json:"name,omitempty"`
	Phone *string `json:"phone,omitempty"`
	Day   *string `json:"day,omitempty"`
	Date  *string `json:"date,omitempty"`
	Time  *string `json:"time,omitempty"`
}

// Result is what the engine speaks back. EndCall asks the telephony layer to
// hang up once the text has been played.
type Result struct {
	Text    string `json:"text"`
	EndCall bool   `json:"end_call,omitempty"`
}

func str(p *string) string {
	return lo.FromPtr(p)
}
