package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/voice-appointment-booking/internal/appointment"
	"github.com/hackgods/voice-appointment-booking/internal/booking"
	"github.com/hackgods/voice-appointment-booking/internal/dashboard"
	"github.com/hackgods/voice-appointment-booking/internal/tools"
)

type CallStarter interface {
	StartCall(ctx context.Context, participantID, rawPhone string) (booking.CallStart, error)
}

type ToolInvoker interface {
	Invoke(ctx context.Context, call tools.Call, name tools.Name, args tools.Args) tools.Result
}

type ParticipantLookup interface {
	ParticipantCall(ctx context.Context, participantID string) (string, error)
}

type DashboardService interface {
	Snapshot(ctx context.Context) dashboard.Snapshot
	SavePatient(ctx context.Context, p appointment.Patient) (*appointment.Patient, error)
	DeletePatient(ctx context.Context, id uuid.UUID) error
	SaveAppointment(ctx context.Context, a appointment.Appointment) (*appointment.Appointment, error)
	DeleteAppointment(ctx context.Context, id uuid.UUID) error
}

func startCallHandler(svc CallStarter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req StartCallRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		start, err := svc.StartCall(r.Context(), req.ParticipantID, req.Phone)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusCreated, StartCallResponse{
			CallID:   start.CallID,
			Tier:     string(start.Tier),
			Greeting: start.Greeting,
			Stage:    start.Context.Stage,
			Status:   string(start.Context.Status),
			Name:     start.Context.Name,
			Phone:    start.Context.Phone,
		})
	}
}

// invokeToolHandler always answers 200 with the text to speak, except for
// malformed requests. Tool failures are already turned into text.
func invokeToolHandler(d ToolInvoker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		callID := chi.URLParam(r, "callID")
		name := tools.Name(chi.URLParam(r, "tool"))

		var args tools.Args
		if err := decodeBody(r, &args); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		call := tools.Call{ID: callID, ParticipantID: r.Header.Get("X-Participant-ID")}
		writeJSON(w, http.StatusOK, d.Invoke(r.Context(), call, name, args))
	}
}

func participantCallHandler(sessions ParticipantLookup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		participantID := chi.URLParam(r, "id")
		callID, err := sessions.ParticipantCall(r.Context(), participantID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		if callID == "" {
			writeError(w, http.StatusNotFound, "call_not_found", "participant has no live call")
			return
		}
		writeJSON(w, http.StatusOK, ParticipantCallResponse{ParticipantID: participantID, CallID: callID})
	}
}

func dashboardHandler(svc DashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Snapshot(r.Context()))
	}
}

func savePatientHandler(svc DashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := optionalID(w, r, "invalid_patient_id")
		if !ok {
			return
		}
		var req PatientRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		saved, err := svc.SavePatient(r.Context(), appointment.Patient{
			ID:    id,
			Name:  req.Name,
			Phone: req.Phone,
			Email: req.Email,
		})
		if err != nil {
			handleDashboardError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, saved)
	}
}

func deletePatientHandler(svc DashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "id must be a valid UUID")
			return
		}
		if err := svc.DeletePatient(r.Context(), id); err != nil {
			handleDashboardError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func saveAppointmentHandler(svc DashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := optionalID(w, r, "invalid_appointment_id")
		if !ok {
			return
		}
		var req AppointmentRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		saved, err := svc.SaveAppointment(r.Context(), appointment.Appointment{
			ID:            id,
			PatientID:     patientID,
			Date:          req.Date,
			Time:          req.Time,
			Status:        appointment.Status(req.Status),
			GoogleEventID: req.GoogleEventID,
		})
		if err != nil {
			handleDashboardError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, AppointmentResponse{
			ID:            saved.ID,
			PatientID:     saved.PatientID,
			Date:          saved.Date,
			Time:          saved.Time,
			Status:        string(saved.Status),
			GoogleEventID: saved.GoogleEventID,
			UpdatedAt:     saved.UpdatedAt,
		})
	}
}

func deleteAppointmentHandler(svc DashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}
		if err := svc.DeleteAppointment(r.Context(), id); err != nil {
			handleDashboardError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleDashboardError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dashboard.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrDuplicatePhone):
		writeError(w, http.StatusConflict, "duplicate_phone", err.Error())
	case errors.Is(err, appointment.ErrDuplicateAppointment):
		writeError(w, http.StatusConflict, "duplicate_appointment", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

// optionalID reads {id} for PUT /x/{id}; PUT /x creates and gets uuid.Nil.
func optionalID(w http.ResponseWriter, r *http.Request, code string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	if raw == "" {
		return uuid.Nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, code, "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// decodeBody accepts an empty body as the zero value.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
