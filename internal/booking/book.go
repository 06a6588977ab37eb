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

// errSlotTaken aborts a transaction when another patient holds the slot.
var errSlotTaken = errors.New("slot already taken")

// Book turns the session's phone, name, date and time into an appointment.
// rawTime, when given, replaces the session's time first.
func (s *Service) Book(ctx context.Context, callID, rawTime string) (string, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.book")
	defer span.End()
	span.SetAttributes(attribute.String("call.id", callID))

	bc, err := s.sessions.Get(ctx, callID)
	if err != nil {
		return "", err
	}

	if rawTime != "" {
		hhmm, ok := ParseTime(rawTime)
		if !ok {
			return "I didn't catch the time. Which time would you like?", nil
		}
		if bc, err = s.sessions.Save(ctx, callID, session.BookingContext{Time: hhmm}); err != nil {
			return "", err
		}
	}

	switch {
	case bc.Phone == "":
		return "I still need your phone number.", nil
	case bc.Name == "":
		return "I still need your name.", nil
	case bc.Date == "":
		return "I still need the date.", nil
	case bc.Time == "":
		return "I still need the time.", nil
	}
	if msg, ok := s.checkDate(bc.Date); !ok {
		return msg, nil
	}
	if !IsSlot(bc.Time) {
		return fmt.Sprintf("We see patients on the half hour from %s to %s. Which time works for you?",
			DisplayTime(Template[0]), DisplayTime(Template[len(Template)-1])), nil
	}
	span.SetAttributes(attribute.String("booking.date", bc.Date), attribute.String("booking.time", bc.Time))

	patientName := bc.Name
	if clean, ok := cleanName(patientName); ok {
		patientName = clean
	}

	var (
		created  *appointment.Appointment
		existing *appointment.Appointment
		ev       appointment.Event
	)
	err = s.locker.WithLock(ctx, redisclient.SlotLockKey(bc.Date, bc.Time), func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(q appointment.Queries) error {
			patient, err := q.GetOrCreatePatient(ctx, patientName, bc.Phone)
			if err != nil {
				return fmt.Errorf("get or create patient: %w", err)
			}

			existing, err = q.FindActiveAppointmentOn(ctx, patient.ID, bc.Date)
			if err != nil && !errors.Is(err, appointment.ErrAppointmentNotFound) {
				return fmt.Errorf("check existing appointment: %w", err)
			}
			if existing != nil {
				return nil
			}

			booked, err := q.BookedTimes(ctx, bc.Date)
			if err != nil {
				return fmt.Errorf("booked times: %w", err)
			}
			if lo.Contains(booked, bc.Time) {
				return errSlotTaken
			}

			created, err = q.CreateAppointment(ctx, patient.ID, bc.Date, bc.Time)
			if err != nil {
				return err
			}

			ev = appointment.Event{
				Type:          appointment.EventAppointmentBooked,
				AppointmentID: created.ID,
				PatientID:     patient.ID,
				Phone:         bc.Phone,
				Date:          created.Date,
				Time:          created.Time,
				CallID:        callID,
				OccurredAt:    s.opts.Now().UTC(),
			}
			return recordEvent(ctx, q, ev)
		})
	})

	when := fmt.Sprintf("%s at %s", DisplayDate(bc.Date), DisplayTime(bc.Time))
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		s.metrics.ObserveTransition("book", "busy")
		return fmt.Sprintf("Someone is booking %s right now. Would another time work, or should I try again?", when), nil
	case errors.Is(err, errSlotTaken):
		s.metrics.ObserveTransition("book", "taken")
		return fmt.Sprintf("Sorry, %s was just taken. Would you like to hear the other open times?", when), nil
	case errors.Is(err, appointment.ErrDuplicateAppointment):
		s.metrics.ObserveTransition("book", "duplicate")
		return fmt.Sprintf("You already have an appointment on %s. Would you like to change it?", DisplayDate(bc.Date)), nil
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "book failed")
		s.metrics.ObserveTransition("book", "error")
		return "", err
	}

	if existing != nil {
		s.metrics.ObserveTransition("book", "duplicate")
		if existing.Time == bc.Time {
			return fmt.Sprintf("You already have an appointment on %s. Would you like to change it?", when), nil
		}
		return fmt.Sprintf("You have an appointment on %s at %s. Should I move it to %s?",
			DisplayDate(existing.Date), DisplayTime(existing.Time), DisplayTime(bc.Time)), nil
	}

	s.metrics.ObserveTransition("book", "booked")
	s.log.Info("appointment booked",
		zap.String("call_id", callID),
		zap.String("appointment_id", created.ID.String()),
		zap.String("date", created.Date),
		zap.String("time", created.Time),
	)

	_, err = s.sessions.Save(ctx, callID, session.BookingContext{
		Status: session.StatusBooked,
		Stage:  session.StageDone,
		Mode:   session.ModeNormal,
	})
	if err != nil {
		// the appointment is committed; the caller must still hear it
		s.log.Warn("save session after booking", zap.String("call_id", callID), zap.Error(err))
	}
	s.afterCommit(ctx, ev)

	return fmt.Sprintf("Your appointment is confirmed for %s. Anything else you need?", when), nil
}

// checkDate re-validates a date carried in the session, which may be a stale
// hint from a previous call.
func (s *Service) checkDate(date string) (string, bool) {
	today := s.today()
	if date < today {
		return "That date has already passed. Which day would you like to come in?", false
	}
	limit := s.now().AddDate(0, 0, s.opts.WindowDays).Format(dateLayout)
	if date > limit {
		return fmt.Sprintf("I can book up to %d days ahead. Please give a closer date.", s.opts.WindowDays), false
	}
	return "", true
}
