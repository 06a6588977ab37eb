package session

import (
	"strings"
	"time"
)

type Mode string

const (
	ModeNormal     Mode = "normal"
	ModeReschedule Mode = "reschedule"
	ModeCancel     Mode = "cancel"
)

type Status string

const (
	StatusPending     Status = "pending"
	StatusNew         Status = "new"
	StatusReturning   Status = "returning"
	StatusBooked      Status = "booked"
	StatusRescheduled Status = "rescheduled"
)

// Conversation progress markers. Stage is free-form; these are the ones the
// booking flow writes.
const (
	StageStart      = "start"
	StageAskPhone   = "ask_phone"
	StageSlots      = "slots_offered"
	StageReschedule = "rescheduling"
	StageCancel     = "cancelling"
	StageDone       = "done"
)

// BookingContext is the short-term memory of one live call.
// Empty string fields and a nil SuggestedSlots mean "unset".
type BookingContext struct {
	CallID         string
	ParticipantID  string
	Name           string
	Phone          string
	Date           string // YYYY-MM-DD
	Time           string // HH:MM, 24h
	SuggestedSlots []string
	Stage          string
	Status         Status
	Mode           Mode
	OldDate        string
	OldTime        string
	CancelApptID   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// New returns the default context handed out when nothing is persisted.
func New(callID string, now time.Time) BookingContext {
	return BookingContext{
		CallID:    callID,
		Stage:     StageStart,
		Status:    StatusPending,
		Mode:      ModeNormal,
		CreatedAt: now.UTC(),
	}
}

// InMode reports whether the call is in the given flow. An unset mode is normal.
func (b BookingContext) InMode(m Mode) bool {
	if b.Mode == "" {
		return m == ModeNormal
	}
	return b.Mode == m
}

// Field names one attribute of the persisted record.
type Field string

const (
	FieldCallID         Field = "call_id"
	FieldParticipantID  Field = "participant_id"
	FieldName           Field = "name"
	FieldPhone          Field = "phone"
	FieldDate           Field = "date"
	FieldTime           Field = "time"
	FieldSuggestedSlots Field = "suggested_slots"
	FieldStage          Field = "stage"
	FieldStatus         Field = "status"
	FieldMode           Field = "mode"
	FieldOldDate        Field = "old_date"
	FieldOldTime        Field = "old_time"
	FieldCancelApptID   Field = "cancel_appt_id"
	FieldCreatedAt      Field = "created_at"
	FieldUpdatedAt      Field = "updated_at"
)

const slotSeparator = ","

// fields flattens the context into field-value pairs, omitting unset values.
func (b BookingContext) fields() map[Field]string {
	m := make(map[Field]string, 15)
	put := func(f Field, v string) {
		if v != "" {
			m[f] = v
		}
	}
	put(FieldCallID, b.CallID)
	put(FieldParticipantID, b.ParticipantID)
	put(FieldName, b.Name)
	put(FieldPhone, b.Phone)
	put(FieldDate, b.Date)
	put(FieldTime, b.Time)
	put(FieldSuggestedSlots, strings.Join(b.SuggestedSlots, slotSeparator))
	put(FieldStage, b.Stage)
	put(FieldStatus, string(b.Status))
	put(FieldMode, string(b.Mode))
	put(FieldOldDate, b.OldDate)
	put(FieldOldTime, b.OldTime)
	put(FieldCancelApptID, b.CancelApptID)
	put(FieldCreatedAt, formatTime(b.CreatedAt))
	put(FieldUpdatedAt, formatTime(b.UpdatedAt))
	return m
}

func fromFields(m map[Field]string) BookingContext {
	b := BookingContext{
		CallID:        m[FieldCallID],
		ParticipantID: m[FieldParticipantID],
		Name:          m[FieldName],
		Phone:         m[FieldPhone],
		Date:          m[FieldDate],
		Time:          m[FieldTime],
		Stage:         m[FieldStage],
		Status:        Status(m[FieldStatus]),
		Mode:          Mode(m[FieldMode]),
		OldDate:       m[FieldOldDate],
		OldTime:       m[FieldOldTime],
		CancelApptID:  m[FieldCancelApptID],
		CreatedAt:     parseTime(m[FieldCreatedAt]),
		UpdatedAt:     parseTime(m[FieldUpdatedAt]),
	}
	if s := m[FieldSuggestedSlots]; s != "" {
		b.SuggestedSlots = strings.Split(s, slotSeparator)
	}
	return b
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
