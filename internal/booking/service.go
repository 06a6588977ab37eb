// Package booking implements the tool operations of a voice booking call:
// hydration, availability, and the booking, reschedule and cancel
// transitions. Every operation returns caller-facing text; a non-nil error
// means infrastructure failed and the caller should hear a generic apology.
package booking

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/hackgods/voice-appointment-booking/internal/appointment"
	"github.com/hackgods/voice-appointment-booking/internal/metrics"
	"github.com/hackgods/voice-appointment-booking/internal/phone"
	"github.com/hackgods/voice-appointment-booking/internal/profile"
	"github.com/hackgods/voice-appointment-booking/internal/profilesync"
	redisclient "github.com/hackgods/voice-appointment-booking/internal/redis"
	"github.com/hackgods/voice-appointment-booking/internal/session"
	"github.com/hackgods/voice-appointment-booking/pkg/logging"
)

var bookingTracer = otel.Tracer("voice.internal.booking")

var namePattern = regexp.MustCompile(`^[A-Za-z\s]{2,50}$`)

type Options struct {
	ClinicName string
	Location   *time.Location
	WindowDays int
	Now        func() time.Time
}

type Deps struct {
	Repo     appointment.Repository
	Sessions *session.Store
	Profiles *profile.Resolver
	Locker   redisclient.Locker
	Refresh  profilesync.Scheduler
	Events   appointment.Publisher
	Metrics  *metrics.BookingMetrics
	Logger   *logging.Logger
}

type Service struct {
	repo     appointment.Repository
	sessions *session.Store
	profiles *profile.Resolver
	locker   redisclient.Locker
	refresh  profilesync.Scheduler
	events   appointment.Publisher
	metrics  *metrics.BookingMetrics
	log      *logging.Logger
	opts     Options
	inflight sync.WaitGroup
}

func NewService(d Deps, opts Options) *Service {
	if d.Repo == nil || d.Sessions == nil || d.Profiles == nil || d.Locker == nil {
		panic("booking: repo, sessions, profiles and locker are required")
	}
	if d.Events == nil {
		d.Events = appointment.NopPublisher{}
	}
	if d.Logger == nil {
		d.Logger = logging.Default()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.WindowDays <= 0 {
		opts.WindowDays = 30
	}
	if opts.ClinicName == "" {
		opts.ClinicName = "the clinic"
	}
	return &Service{
		repo:     d.Repo,
		sessions: d.Sessions,
		profiles: d.Profiles,
		locker:   d.Locker,
		refresh:  d.Refresh,
		events:   d.Events,
		metrics:  d.Metrics,
		log:      d.Logger,
		opts:     opts,
	}
}

// now is the current time in the clinic's zone.
func (s *Service) now() time.Time {
	return s.opts.Now().In(s.opts.Location)
}

func (s *Service) today() string {
	return s.now().Format(dateLayout)
}

// CallStart is what the telephony layer needs once a call is answered.
type CallStart struct {
	CallID   string
	Context  session.BookingContext
	Tier     profile.Tier
	Greeting string
}

// StartCall mints a call token, binds the participant to it and hydrates the
// session. A previous call still bound to the same participant is dropped so
// its fields cannot leak into this one.
func (s *Service) StartCall(ctx context.Context, participantID, rawPhone string) (CallStart, error) {
	callID := uuid.NewString()

	if participantID != "" {
		prev, err := s.sessions.BindParticipant(ctx, participantID, callID)
		if err != nil {
			return CallStart{}, err
		}
		if prev != "" && prev != callID {
			if err := s.sessions.Delete(ctx, prev); err != nil {
				return CallStart{}, err
			}
			s.log.Info("dropped stale call for participant",
				zap.String("participant_id", participantID),
				zap.String("stale_call_id", prev),
			)
		}
	}

	bc, tier, err := s.Hydrate(ctx, callID, participantID, rawPhone)
	if err != nil {
		return CallStart{}, err
	}
	return CallStart{
		CallID:   callID,
		Context:  bc,
		Tier:     tier,
		Greeting: s.greeting(bc.Name),
	}, nil
}

// Hydrate builds and persists the call's first context from whatever is known
// about the caller's phone. The returned tier is empty when no phone could be
// resolved.
func (s *Service) Hydrate(ctx context.Context, callID, participantID, rawPhone string) (session.BookingContext, profile.Tier, error) {
	bc := session.New(callID, s.opts.Now())
	bc.ParticipantID = participantID

	normalized, ok := phone.Normalize(rawPhone)
	if !ok {
		bc.Stage = session.StageAskPhone
		if err := s.sessions.Put(ctx, callID, bc); err != nil {
			return session.BookingContext{}, "", err
		}
		s.metrics.ObserveHydration("none")
		return bc, "", nil
	}

	prof, tier, err := s.profiles.Resolve(ctx, normalized)
	if err != nil {
		return session.BookingContext{}, "", err
	}

	bc.Phone = normalized
	bc.Name = prof.Name
	if prof.LastAppointment != nil {
		bc.Date = prof.LastAppointment.Date
		bc.Time = prof.LastAppointment.Time
	}
	bc.Status = session.StatusNew
	if bc.Name != "" {
		bc.Status = session.StatusReturning
	}

	if err := s.sessions.Put(ctx, callID, bc); err != nil {
		return session.BookingContext{}, "", err
	}
	s.metrics.ObserveHydration(string(tier))
	s.log.Debug("session hydrated",
		zap.String("call_id", callID),
		zap.String("tier", string(tier)),
		zap.String("status", string(bc.Status)),
	)
	return bc, tier, nil
}

func (s *Service) greeting(name string) string {
	var b strings.Builder
	switch h := s.now().Hour(); {
	case h < 12:
		b.WriteString("Good morning! ")
	case h < 18:
		b.WriteString("Good afternoon! ")
	default:
		b.WriteString("Good evening! ")
	}
	if name != "" {
		fmt.Fprintf(&b, "Hi %s, how can I help you today?", name)
	} else {
		fmt.Fprintf(&b, "Thank you for calling %s. How can I help you today?", s.opts.ClinicName)
	}
	return b.String()
}

// SaveName records the caller's name. It is refused mid-reschedule or
// mid-cancel, where a name is never what the caller is answering.
func (s *Service) SaveName(ctx context.Context, callID, name string) (string, error) {
	bc, err := s.sessions.Get(ctx, callID)
	if err != nil {
		return "", err
	}
	switch {
	case bc.InMode(session.ModeReschedule):
		return "You're rescheduling your appointment. Tell me the new date and time you want to move it to.", nil
	case bc.InMode(session.ModeCancel):
		return "You're cancelling your appointment. I only need your phone number to find your record.", nil
	}

	clean, ok := cleanName(name)
	if !ok {
		return "I didn't catch that clearly. Please say your name again.", nil
	}
	if _, err := s.sessions.Save(ctx, callID, session.BookingContext{Name: clean}); err != nil {
		return "", err
	}
	return fmt.Sprintf("Thanks, %s.", clean), nil
}

// SavePhone records the caller's number and resolves their profile, so a
// caller whose number was not known at hydration is still recognized.
func (s *Service) SavePhone(ctx context.Context, callID, raw string) (string, error) {
	normalized, err := phone.Validate(raw)
	if err != nil {
		return "That number doesn't seem right. Could you please repeat your phone number?", nil
	}

	bc, err := s.sessions.Get(ctx, callID)
	if err != nil {
		return "", err
	}
	prof, tier, err := s.profiles.Resolve(ctx, normalized)
	if err != nil {
		return "", err
	}
	s.metrics.ObserveHydration(string(tier))

	patch := session.BookingContext{Phone: normalized}
	if bc.Stage == session.StageAskPhone {
		patch.Stage = session.StageStart
	}
	welcome := ""
	if bc.Name == "" && prof.Name != "" {
		patch.Name = prof.Name
		patch.Status = session.StatusReturning
		welcome = fmt.Sprintf(" Welcome back, %s.", prof.Name)
	} else if bc.Status == session.StatusPending {
		patch.Status = session.StatusNew
	}

	if _, err := s.sessions.Save(ctx, callID, patch); err != nil {
		return "", err
	}
	return fmt.Sprintf("Got it, your phone number is %s.%s", normalized, welcome), nil
}

// UpdateCallerProfile remembers the caller's name and phone for future calls.
// Omitted values fall back to the session's.
func (s *Service) UpdateCallerProfile(ctx context.Context, callID, name, rawPhone string) (string, error) {
	bc, err := s.sessions.Get(ctx, callID)
	if err != nil {
		return "", err
	}

	targetPhone := bc.Phone
	if strings.TrimSpace(rawPhone) != "" {
		targetPhone, err = phone.Validate(rawPhone)
		if err != nil {
			return "That number doesn't seem right. Could you please repeat your phone number?", nil
		}
	}
	if targetPhone == "" {
		return "I need a phone number to update your profile. What's your number?", nil
	}

	targetName := bc.Name
	if strings.TrimSpace(name) != "" {
		clean, ok := cleanName(name)
		if !ok {
			return "I didn't catch that clearly. Please say your name again.", nil
		}
		targetName = clean
	}

	prof, err := s.profiles.Upsert(ctx, targetPhone, targetName)
	if err != nil {
		return "", err
	}
	if _, err := s.sessions.Save(ctx, callID, session.BookingContext{Name: prof.Name, Phone: prof.Phone}); err != nil {
		return "", err
	}
	if targetName != "" {
		return fmt.Sprintf("Okay, I'll remember %s for next time.", prof.Name), nil
	}
	return "Okay, I'll remember your details for next time.", nil
}

// GetDate tells the caller the clinic's current date and time.
func (s *Service) GetDate(context.Context) string {
	return "Today's date is " + s.now().Format("Monday, January 2, 2006 3:04 PM") + "."
}

// EndCall returns the goodbye line. The session is left to expire on its TTL.
func (s *Service) EndCall(context.Context) string {
	return fmt.Sprintf("Thanks for calling %s. Goodbye.", s.opts.ClinicName)
}

var titleCaser = cases.Title(language.English)

func cleanName(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if !namePattern.MatchString(trimmed) {
		return "", false
	}
	return titleCaser.String(strings.Join(strings.Fields(trimmed), " ")), true
}

// afterCommit publishes the event and schedules a profile refresh. Neither
// may fail or delay the transition; the event row is already committed.
func (s *Service) afterCommit(ctx context.Context, ev appointment.Event) {
	pubCtx := context.WithoutCancel(ctx)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		if err := s.events.Publish(pubCtx, ev); err != nil {
			s.log.Warn("publish appointment event",
				zap.String("type", ev.Type),
				zap.String("appointment_id", ev.AppointmentID.String()),
				zap.Error(err),
			)
		}
	}()
	if s.refresh != nil && ev.Phone != "" {
		s.refresh.Schedule(ctx, ev.Phone)
	}
}

// Wait blocks until every in-flight event publish finished.
func (s *Service) Wait() {
	s.inflight.Wait()
}

// recordEvent writes the event row inside the transition's transaction.
func recordEvent(ctx context.Context, q appointment.Queries, ev appointment.Event) error {
	row, err := ev.Log()
	if err != nil {
		return err
	}
	return q.InsertEvent(ctx, row)
}

// lookupUpcoming finds the patient behind phone and their nearest
// non-cancelled appointment from today on. Either result may be nil when absent.
func (s *Service) lookupUpcoming(ctx context.Context, q appointment.Queries, phoneKey string) (*appointment.Patient, *appointment.Appointment, error) {
	patient, err := q.GetPatientByPhone(ctx, phoneKey)
	if errors.Is(err, appointment.ErrPatientNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("lookup patient: %w", err)
	}
	upcoming, err := q.NextUpcomingAppointment(ctx, patient.ID, s.today())
	if errors.Is(err, appointment.ErrAppointmentNotFound) {
		return patient, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("lookup upcoming appointment: %w", err)
	}
	return patient, upcoming, nil
}
