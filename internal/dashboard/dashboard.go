// Package dashboard aggregates what the clinic admin screen shows: today's
// schedule, status counts, recent patients and the calls in progress.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/voice-appointment-booking/internal/appointment"
	"github.com/hackgods/voice-appointment-booking/internal/booking"
	"github.com/hackgods/voice-appointment-booking/internal/phone"
	"github.com/hackgods/voice-appointment-booking/internal/session"
	"github.com/hackgods/voice-appointment-booking/pkg/logging"
)

const recentPatients = 10

// ErrInvalidInput wraps every validation failure of an admin edit.
var ErrInvalidInput = errors.New("invalid input")

type SessionLister interface {
	ListActive(ctx context.Context) ([]session.BookingContext, error)
}

type LiveSession struct {
	CallID        string    `json:"call_id"`
	ParticipantID string    `json:"participant_id,omitempty"`
	Name          string    `json:"name,omitempty"`
	Phone         string    `json:"phone,omitempty"`
	Stage         string    `json:"stage"`
	Status        string    `json:"status"`
	Mode          string    `json:"mode"`
	Date          string    `json:"date,omitempty"`
	Time          string    `json:"time,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	Since         string    `json:"since"`
}

type Snapshot struct {
	Date           string                          `json:"date"`
	Appointments   []appointment.AppointmentDetail `json:"appointments"`
	StatusCounts   map[appointment.Status]int      `json:"status_counts"`
	TotalPatients  int                             `json:"total_patients"`
	RecentPatients []appointment.Patient           `json:"recent_patients"`
	LiveSessions   []LiveSession                   `json:"live_sessions"`
}

type Service struct {
	repo     appointment.DashboardRepository
	sessions SessionLister
	log      *logging.Logger
	loc      *time.Location
	now      func() time.Time
}

func NewService(repo appointment.DashboardRepository, sessions SessionLister, loc *time.Location, log *logging.Logger) *Service {
	if log == nil {
		log = logging.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{repo: repo, sessions: sessions, log: log, loc: loc, now: time.Now}
}

// Snapshot fetches every panel concurrently. A panel that fails is logged and
// rendered empty; Snapshot itself never fails.
func (s *Service) Snapshot(ctx context.Context) Snapshot {
	now := s.now().In(s.loc)
	snap := Snapshot{
		Date:           now.Format("2006-01-02"),
		Appointments:   []appointment.AppointmentDetail{},
		StatusCounts:   map[appointment.Status]int{},
		RecentPatients: []appointment.Patient{},
		LiveSessions:   []LiveSession{},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		appts, err := s.repo.ListAppointmentsOn(gctx, snap.Date)
		if err != nil {
			s.log.Warn("dashboard: list appointments", zap.Error(err))
			return nil
		}
		if appts != nil {
			snap.Appointments = appts
		}
		return nil
	})
	g.Go(func() error {
		counts, err := s.repo.CountByStatus(gctx)
		if err != nil {
			s.log.Warn("dashboard: count by status", zap.Error(err))
			return nil
		}
		for _, st := range []appointment.Status{
			appointment.StatusPending, appointment.StatusBooked,
			appointment.StatusRescheduled, appointment.StatusCancelled,
		} {
			snap.StatusCounts[st] = counts[st]
		}
		return nil
	})
	g.Go(func() error {
		n, err := s.repo.CountPatients(gctx)
		if err != nil {
			s.log.Warn("dashboard: count patients", zap.Error(err))
			return nil
		}
		snap.TotalPatients = n
		return nil
	})
	g.Go(func() error {
		patients, err := s.repo.RecentPatients(gctx, recentPatients)
		if err != nil {
			s.log.Warn("dashboard: recent patients", zap.Error(err))
			return nil
		}
		if patients != nil {
			snap.RecentPatients = patients
		}
		return nil
	})
	g.Go(func() error {
		live, err := s.sessions.ListActive(gctx)
		if err != nil {
			s.log.Warn("dashboard: live sessions", zap.Error(err))
			return nil
		}
		snap.LiveSessions = liveSessions(live, now)
		return nil
	})

	_ = g.Wait()
	return snap
}

func liveSessions(live []session.BookingContext, now time.Time) []LiveSession {
	out := lo.Map(live, func(bc session.BookingContext, _ int) LiveSession {
		return LiveSession{
			CallID:        bc.CallID,
			ParticipantID: bc.ParticipantID,
			Name:          bc.Name,
			Phone:         bc.Phone,
			Stage:         bc.Stage,
			Status:        string(bc.Status),
			Mode:          string(bc.Mode),
			Date:          bc.Date,
			Time:          bc.Time,
			StartedAt:     bc.CreatedAt,
			Since:         Since(bc.CreatedAt, now),
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Since renders how long ago start was, e.g. "45s", "3m 10s" or "1h 5m".
func Since(start, now time.Time) string {
	if start.IsZero() {
		return "unknown"
	}
	d := now.Sub(start)
	if d < 0 {
		d = 0
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	sec := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, sec)
	default:
		return fmt.Sprintf("%ds", sec)
	}
}

// SavePatient creates or updates a patient. The phone is stored canonically.
func (s *Service) SavePatient(ctx context.Context, p appointment.Patient) (*appointment.Patient, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	canonical, err := phone.Validate(p.Phone)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	p.Phone = canonical
	if p.Email != nil && strings.TrimSpace(*p.Email) == "" {
		p.Email = nil
	}

	saved, err := s.repo.UpsertPatient(ctx, p)
	if err != nil {
		return nil, err
	}
	s.log.Info("dashboard: patient saved", zap.String("patient_id", saved.ID.String()))
	return saved, nil
}

func (s *Service) DeletePatient(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.DeletePatient(ctx, id); err != nil {
		return err
	}
	s.log.Info("dashboard: patient deleted", zap.String("patient_id", id.String()))
	return nil
}

// SaveAppointment creates or updates an appointment. Times may be given in
// any form the voice flow accepts and are stored as HH:MM.
func (s *Service) SaveAppointment(ctx context.Context, a appointment.Appointment) (*appointment.Appointment, error) {
	if a.PatientID == uuid.Nil {
		return nil, fmt.Errorf("%w: patient_id is required", ErrInvalidInput)
	}
	if _, err := time.Parse("2006-01-02", a.Date); err != nil {
		return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidInput)
	}
	hhmm, ok := booking.ParseTime(a.Time)
	if !ok {
		return nil, fmt.Errorf("%w: unrecognised time %q", ErrInvalidInput, a.Time)
	}
	a.Time = hhmm
	if a.Status == "" {
		a.Status = appointment.StatusBooked
	}
	if !a.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, a.Status)
	}

	saved, err := s.repo.UpsertAppointment(ctx, a)
	if err != nil {
		return nil, err
	}
	s.log.Info("dashboard: appointment saved",
		zap.String("appointment_id", saved.ID.String()),
		zap.String("date", saved.Date),
		zap.String("time", saved.Time),
	)
	return saved, nil
}

func (s *Service) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.DeleteAppointment(ctx, id); err != nil {
		return err
	}
	s.log.Info("dashboard: appointment deleted", zap.String("appointment_id", id.String()))
	return nil
}
