package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/hackgods/voice-appointment-booking/internal/appointment"
	"github.com/hackgods/voice-appointment-booking/internal/session"
)

const notCancelling = "I'm not canceling anything right now. Would you like to cancel an appointment?"

var errNotOwner = errors.New("appointment belongs to another patient")

// StartCancel finds the appointment to cancel and asks for confirmation.
func (s *Service) StartCancel(ctx context.Context, callID string) (string, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.start_cancel")
	defer span.End()
	span.SetAttributes(attribute.String("call.id", callID))

	bc, err := s.sessions.Get(ctx, callID)
	if err != nil {
		return "", err
	}
	if bc.Phone == "" {
		return "I need your phone number to find your appointment. What's your number?", nil
	}

	patient, upcoming, err := s.lookupUpcoming(ctx, s.repo, bc.Phone)
	if err != nil {
		return "", err
	}
	if patient == nil {
		return "I couldn't find your record. Is there anything else I can help with?", nil
	}
	if upcoming == nil {
		return "You don't have any upcoming appointment to cancel. Anything else I can help with?", nil
	}

	_, err = s.sessions.Save(ctx, callID, session.BookingContext{
		CancelApptID: upcoming.ID.String(),
		Mode:         session.ModeCancel,
		Stage:        session.StageCancel,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("I found your appointment on %s at %s. Are you sure you want to cancel it?",
		DisplayDate(upcoming.Date), DisplayTime(upcoming.Time)), nil
}

// ConfirmCancel deletes the appointment chosen by StartCancel. It refuses
// unless the call is in cancel mode with a target recorded.
func (s *Service) ConfirmCancel(ctx context.Context, callID string) (string, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.confirm_cancel")
	defer span.End()
	span.SetAttributes(attribute.String("call.id", callID))

	bc, err := s.sessions.Get(ctx, callID)
	if err != nil {
		return "", err
	}
	if bc.Mode != session.ModeCancel || bc.CancelApptID == "" {
		return notCancelling, nil
	}
	apptID, err := uuid.Parse(bc.CancelApptID)
	if err != nil {
		s.log.Warn("bad cancel target in session", zap.String("call_id", callID), zap.String("cancel_appt_id", bc.CancelApptID))
		return notCancelling, s.resetCancel(ctx, callID)
	}

	var (
		deleted *appointment.Appointment
		ev      appointment.Event
	)
	err = s.repo.WithTx(ctx, func(q appointment.Queries) error {
		appt, err := q.GetAppointmentByID(ctx, apptID)
		if err != nil {
			return err
		}
		patient, err := q.GetPatientByID(ctx, appt.PatientID)
		if err != nil {
			return err
		}
		if patient.Phone != bc.Phone {
			return errNotOwner
		}
		if err := q.DeleteAppointment(ctx, appt.ID); err != nil {
			return err
		}
		deleted = appt

		ev = appointment.Event{
			Type:          appointment.EventAppointmentCancelled,
			AppointmentID: appt.ID,
			PatientID:     patient.ID,
			Phone:         bc.Phone,
			Date:          appt.Date,
			Time:          appt.Time,
			CallID:        callID,
			OccurredAt:    s.opts.Now().UTC(),
		}
		return recordEvent(ctx, q, ev)
	})

	switch {
	case errors.Is(err, appointment.ErrAppointmentNotFound), errors.Is(err, appointment.ErrPatientNotFound):
		s.metrics.ObserveTransition("cancel", "missing")
		if err := s.resetCancel(ctx, callID); err != nil {
			return "", err
		}
		return "That appointment is no longer on file. Anything else I can help with?", nil
	case errors.Is(err, errNotOwner):
		s.metrics.ObserveTransition("cancel", "refused")
		s.log.Warn("cancel target owned by another phone", zap.String("call_id", callID), zap.String("appointment_id", apptID.String()))
		if err := s.resetCancel(ctx, callID); err != nil {
			return "", err
		}
		return notCancelling, nil
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancel failed")
		s.metrics.ObserveTransition("cancel", "error")
		return "", err
	}

	s.metrics.ObserveTransition("cancel", "cancelled")
	s.log.Info("appointment cancelled",
		zap.String("call_id", callID),
		zap.String("appointment_id", deleted.ID.String()),
	)
	if err := s.resetCancel(ctx, callID); err != nil {
		s.log.Warn("save session after cancel", zap.String("call_id", callID), zap.Error(err))
	}
	s.afterCommit(ctx, ev)

	return fmt.Sprintf("Your appointment on %s at %s has been cancelled. Anything else I can help with?",
		DisplayDate(deleted.Date), DisplayTime(deleted.Time)), nil
}

// resetCancel leaves cancel mode and forgets the target.
func (s *Service) resetCancel(ctx context.Context, callID string) error {
	_, err := s.sessions.Save(ctx, callID,
		session.BookingContext{Mode: session.ModeNormal, Stage: session.StageDone},
		session.FieldCancelApptID,
	)
	return err
}
