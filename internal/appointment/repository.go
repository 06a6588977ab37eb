package appointment

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound      = errors.New("patient not found")
	ErrAppointmentNotFound  = errors.New("appointment not found")
	ErrDuplicateAppointment = errors.New("patient already has an active appointment on that date")
)

// Queries are the statements available both on the pool and inside a
// transaction.
type Queries interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetPatientByPhone(ctx context.Context, phone string) (*Patient, error)
	GetOrCreatePatient(ctx context.Context, name, phone string) (*Patient, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// LatestAppointment is the patient's appointment with the greatest date,
	// whatever its status.
	LatestAppointment(ctx context.Context, patientID uuid.UUID) (*Appointment, error)
	// NextUpcomingAppointment is the earliest appointment on or after fromDate
	// that is not cancelled, pending ones included.
	NextUpcomingAppointment(ctx context.Context, patientID uuid.UUID, fromDate string) (*Appointment, error)
	FindActiveAppointmentOn(ctx context.Context, patientID uuid.UUID, date string) (*Appointment, error)
	BookedTimes(ctx context.Context, date string) ([]string, error)

	CreateAppointment(ctx context.Context, patientID uuid.UUID, date, time string) (*Appointment, error)
	RescheduleAppointment(ctx context.Context, id uuid.UUID, date, time string) (*Appointment, error)
	DeleteAppointment(ctx context.Context, id uuid.UUID) error

	InsertEvent(ctx context.Context, ev EventLog) error
}

// Repository is the appointment store used by the booking service.
type Repository interface {
	Queries
	// WithTx runs fn in one transaction, committing when it returns nil.
	WithTx(ctx context.Context, fn func(q Queries) error) error
}

// DashboardRepository backs the admin dashboard.
type DashboardRepository interface {
	ListAppointmentsOn(ctx context.Context, date string) ([]AppointmentDetail, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
	CountPatients(ctx context.Context) (int, error)
	RecentPatients(ctx context.Context, limit int) ([]Patient, error)

	UpsertPatient(ctx context.Context, p Patient) (*Patient, error)
	DeletePatient(ctx context.Context, id uuid.UUID) error
	UpsertAppointment(ctx context.Context, a Appointment) (*Appointment, error)
	DeleteAppointment(ctx context.Context, id uuid.UUID) error
}
