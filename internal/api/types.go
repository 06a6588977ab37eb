package api

import (
	"time"

	"github.com/google/uuid"
)

type StartCallRequest struct {
	ParticipantID string `json:"participant_id"`
	Phone         string `json:"phone"`
}

type StartCallResponse struct {
	CallID   string `json:"call_id"`
	Tier     string `json:"tier,omitempty"`
	Greeting string `json:"greeting"`
	Stage    string `json:"stage"`
	Status   string `json:"status"`
	Name     string `json:"name,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

type ParticipantCallResponse struct {
	ParticipantID string `json:"participant_id"`
	CallID        string `json:"call_id"`
}

type PatientRequest struct {
	Name  string  `json:"name"`
	Phone string  `json:"phone"`
	Email *string `json:"email,omitempty"`
}

type AppointmentRequest struct {
	PatientID     string  `json:"patient_id"`
	Date          string  `json:"date"`
	Time          string  `json:"time"`
	Status        string  `json:"status,omitempty"`
	GoogleEventID *string `json:"google_event_id,omitempty"`
}

type AppointmentResponse struct {
	ID            uuid.UUID `json:"id"`
	PatientID     uuid.UUID `json:"patient_id"`
	Date          string    `json:"date"`
	Time          string    `json:"time"`
	Status        string    `json:"status"`
	GoogleEventID *string   `json:"google_event_id,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
