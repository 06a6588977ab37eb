package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hackgods/voice-appointment-booking/internal/session"
)

var (
	ErrPastDate = errors.New("date is in the past")
	ErrTooFar   = errors.New("date is beyond the booking window")
)

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

// ResolveDate picks the target day from free-text hints. "today" and
// "tomorrow" win, then a strict YYYY-MM-DD date, then a weekday name (its
// next occurrence, today included), and otherwise today. The result must lie
// within [today, today+windowDays].
func ResolveDate(day, date, timeHint string, today time.Time, windowDays int) (time.Time, error) {
	today = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, today.Location())
	text := strings.ToLower(strings.Join([]string{day, date, timeHint}, " "))

	target := today
	switch {
	case strings.Contains(text, "today"):
	case strings.Contains(text, "tomorrow"):
		target = today.AddDate(0, 0, 1)
	default:
		if t, err := time.ParseInLocation(dateLayout, strings.TrimSpace(date), today.Location()); err == nil {
			target = t
		} else if wd, ok := findWeekday(text); ok {
			target = today.AddDate(0, 0, (int(wd)-int(today.Weekday())+7)%7)
		}
	}

	if target.Before(today) {
		return time.Time{}, ErrPastDate
	}
	if target.After(today.AddDate(0, 0, windowDays)) {
		return time.Time{}, ErrTooFar
	}
	return target, nil
}

func findWeekday(text string) (time.Weekday, bool) {
	for _, word := range strings.Fields(text) {
		if wd, ok := weekdays[strings.Trim(word, ",.")]; ok {
			return wd, true
		}
	}
	return 0, false
}

// AvailableSlot resolves the day, offers its free slots and stores them as the
// session's suggestions. Occupancy is read from the store on every call.
func (s *Service) AvailableSlot(ctx context.Context, callID, day, date, timeHint string) (string, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.available_slot")
	defer span.End()
	span.SetAttributes(attribute.String("call.id", callID))

	target, err := ResolveDate(day, date, timeHint, s.now(), s.opts.WindowDays)
	switch {
	case errors.Is(err, ErrPastDate):
		return "I can't book for past dates. Please choose a future date.", nil
	case errors.Is(err, ErrTooFar):
		return fmt.Sprintf("I can book up to %d days ahead. Please give a closer date.", s.opts.WindowDays), nil
	}

	dateKey := target.Format(dateLayout)
	spoken := DisplayDate(dateKey)
	span.SetAttributes(attribute.String("booking.date", dateKey))

	booked, err := s.repo.BookedTimes(ctx, dateKey)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("booked times for %s: %w", dateKey, err)
	}

	open := Template
	if dateKey == s.today() {
		cutoff := s.now().Format(timeLayout)
		open = lo.Filter(open, func(slot string, _ int) bool { return slot > cutoff })
	}
	open = lo.Without(open, booked...)

	free := FilterSlots(open, day+" "+timeHint)
	if len(free) == 0 {
		free = open
	}

	patch := session.BookingContext{Date: dateKey}
	if len(free) == 0 {
		if _, err := s.sessions.Save(ctx, callID, patch, session.FieldSuggestedSlots); err != nil {
			return "", err
		}
		return fmt.Sprintf("All slots on %s are full. Would you like another day?", spoken), nil
	}

	patch.SuggestedSlots = free
	patch.Stage = session.StageSlots
	if _, err := s.sessions.Save(ctx, callID, patch); err != nil {
		return "", err
	}

	labels := lo.Map(free, func(slot string, _ int) string { return DisplayTime(slot) })
	return fmt.Sprintf("On %s, I have %s available. Which time works best for you?", spoken, spokenList(labels)), nil
}
