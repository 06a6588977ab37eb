package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/hackgods/voice-appointment-booking/internal/appointment"
	redisclient "github.com/hackgods/voice-appointment-booking/internal/redis"
	"github.com/hackgods/voice-appointment-booking/internal/session"
)

var (
	errNoPatient  = errors.New("no patient for phone")
	errNoUpcoming = errors.New("no upcoming appointment")
)

// StartReschedule finds the caller's nearest upcoming appointment and puts the
// call in reschedule mode.
func (s *Service) StartReschedule(ctx context.Context, callID string) (string, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.start_reschedule")
	defer span.End()
	span.SetAttributes(attribute.String("call.id", callID))

	bc, err := s.sessions.Get(ctx, callID)
	if err != nil {
		return "", err
	}
	if bc.Phone == "" {
		return "Sure, I can help with that. Can you confirm your phone number first?", nil
	}

	patient, upcoming, err := s.lookupUpcoming(ctx, s.repo, bc.Phone)
	if err != nil {
		return "", err
	}
	if patient == nil {
		return "I couldn't find your record. Would you like to book a new appointment instead?", nil
	}
	if upcoming == nil {
		return "You don't have any upcoming appointment. Would you like to book a new one?", nil
	}

	_, err = s.sessions.Save(ctx, callID, session.BookingContext{
		OldDate: upcoming.Date,
		OldTime: upcoming.Time,
		Mode:    session.ModeReschedule,
		Stage:   session.StageReschedule,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("I found your appointment on %s at %s. What date and time would you like to move it to?",
		DisplayDate(upcoming.Date), DisplayTime(upcoming.Time)), nil
}

// ConfirmReschedule moves the nearest upcoming appointment to the session's
// date and the chosen time: rawTime, else the first suggested slot, else the
// session's time. The appointment is looked up again rather than trusted from
// StartReschedule.
func (s *Service) ConfirmReschedule(ctx context.Context, callID, rawTime string) (string, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.confirm_reschedule")
	defer span.End()
	span.SetAttributes(attribute.String("call.id", callID))

	bc, err := s.sessions.Get(ctx, callID)
	if err != nil {
		return "", err
	}
	if bc.Phone == "" {
		return "I need your phone number to find your appointment. What's your number?", nil
	}
	if bc.Date == "" {
		return "Which date should I move your appointment to?", nil
	}

	selected := bc.Time
	switch {
	case rawTime != "":
		hhmm, ok := ParseTime(rawTime)
		if !ok {
			return "I didn't catch the time. Which time should I move it to?", nil
		}
		selected = hhmm
	case len(bc.SuggestedSlots) > 0:
		selected = bc.SuggestedSlots[0]
	}
	if selected == "" {
		return "Which time should I move it to?", nil
	}
	if msg, ok := s.checkDate(bc.Date); !ok {
		return msg, nil
	}
	if !IsSlot(selected) {
		return fmt.Sprintf("We see patients on the half hour from %s to %s. Which time works for you?",
			DisplayTime(Template[0]), DisplayTime(Template[len(Template)-1])), nil
	}
	span.SetAttributes(attribute.String("booking.date", bc.Date), attribute.String("booking.time", selected))

	var (
		old     appointment.Appointment
		moved   *appointment.Appointment
		ev      appointment.Event
		newWhen = fmt.Sprintf("%s at %s", DisplayDate(bc.Date), DisplayTime(selected))
	)
	err = s.locker.WithLock(ctx, redisclient.SlotLockKey(bc.Date, selected), func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(q appointment.Queries) error {
			patient, upcoming, err := s.lookupUpcoming(ctx, q, bc.Phone)
			if err != nil {
				return err
			}
			if patient == nil {
				return errNoPatient
			}
			if upcoming == nil {
				return errNoUpcoming
			}
			old = *upcoming

			booked, err := q.BookedTimes(ctx, bc.Date)
			if err != nil {
				return fmt.Errorf("booked times: %w", err)
			}
			sameSlot := old.Date == bc.Date && old.Time == selected
			if !sameSlot && lo.Contains(booked, selected) {
				return errSlotTaken
			}

			moved, err = q.RescheduleAppointment(ctx, old.ID, bc.Date, selected)
			if err != nil {
				return err
			}

			ev = appointment.Event{
				Type:          appointment.EventAppointmentRescheduled,
				AppointmentID: moved.ID,
				PatientID:     patient.ID,
				Phone:         bc.Phone,
				Date:          moved.Date,
				Time:          moved.Time,
				OldDate:       old.Date,
				OldTime:       old.Time,
				CallID:        callID,
				OccurredAt:    s.opts.Now().UTC(),
			}
			return recordEvent(ctx, q, ev)
		})
	})

	switch {
	case errors.Is(err, errNoPatient):
		return "We don't have your record. Would you like to book a new appointment?", nil
	case errors.Is(err, errNoUpcoming):
		return "I don't see an upcoming appointment to move. Should I book a new one instead?", nil
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		s.metrics.ObserveTransition("reschedule", "busy")
		return fmt.Sprintf("Someone is booking %s right now. Would another time work, or should I try again?", newWhen), nil
	case errors.Is(err, errSlotTaken):
		s.metrics.ObserveTransition("reschedule", "taken")
		return fmt.Sprintf("Sorry, %s is already taken. Would you like to hear the other open times?", newWhen), nil
	case errors.Is(err, appointment.ErrDuplicateAppointment):
		s.metrics.ObserveTransition("reschedule", "duplicate")
		return fmt.Sprintf("You already have another appointment on %s. Would you like a different day?", DisplayDate(bc.Date)), nil
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "reschedule failed")
		s.metrics.ObserveTransition("reschedule", "error")
		return "", err
	}

	s.metrics.ObserveTransition("reschedule", "rescheduled")
	s.log.Info("appointment rescheduled",
		zap.String("call_id", callID),
		zap.String("appointment_id", moved.ID.String()),
		zap.String("from", old.Date+" "+old.Time),
		zap.String("to", moved.Date+" "+moved.Time),
	)

	_, err = s.sessions.Save(ctx, callID, session.BookingContext{
		Time:   selected,
		Status: session.StatusRescheduled,
		Stage:  session.StageDone,
		Mode:   session.ModeNormal,
	})
	if err != nil {
		s.log.Warn("save session after reschedule", zap.String("call_id", callID), zap.Error(err))
	}
	s.afterCommit(ctx, ev)

	return fmt.Sprintf("Done. I've moved your appointment from %s at %s to %s. Anything else I can help with?",
		DisplayDate(old.Date), DisplayTime(old.Time), newWhen), nil
}
