package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/lo"
)

const uniqueViolation = "23505"

var ErrDuplicatePhone = errors.New("a patient with that phone already exists")

// DBTX is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxStarter is a DBTX that can open transactions.
type TxStarter interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

type pgQueries struct {
	db DBTX
}

type PgRepository struct {
	pgQueries
	pool TxStarter
}

func NewPgRepository(pool TxStarter) *PgRepository {
	return &PgRepository{pgQueries: pgQueries{db: pool}, pool: pool}
}

var (
	_ Repository          = (*PgRepository)(nil)
	_ DashboardRepository = (*PgRepository)(nil)
)

func (r *PgRepository) WithTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(&pgQueries{db: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Helpers

const (
	patientColumns     = `id, name, phone, email, created_at, updated_at`
	appointmentColumns = `id, patient_id, to_char(date, 'YYYY-MM-DD'), time, status, google_event_id, created_at, updated_at`
)

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Phone,
		&email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = email
	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string
	var eventID *string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.Date,
		&a.Time,
		&status,
		&eventID,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Status = Status(status)
	a.GoogleEventID = eventID
	return &a, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func activeStatusArgs() []string {
	return lo.Map(ActiveStatuses, func(s Status, _ int) string { return string(s) })
}

// Patients

func (q *pgQueries) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (q *pgQueries) GetPatientByPhone(ctx context.Context, phone string) (*Patient, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE phone = $1
	`, phone)
	return scanPatient(row)
}

// GetOrCreatePatient keeps the stored name when the phone already exists.
func (q *pgQueries) GetOrCreatePatient(ctx context.Context, name, phone string) (*Patient, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO patients (id, name, phone, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (phone) DO UPDATE SET phone = EXCLUDED.phone
		RETURNING `+patientColumns+`
	`, uuid.New(), name, phone)
	return scanPatient(row)
}

// Appointments

func (q *pgQueries) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (q *pgQueries) LatestAppointment(ctx context.Context, patientID uuid.UUID) (*Appointment, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY date DESC
		LIMIT 1
	`, patientID)
	return scanAppointment(row)
}

func (q *pgQueries) NextUpcomingAppointment(ctx context.Context, patientID uuid.UUID, fromDate string) (*Appointment, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		  AND date >= $2::date
		  AND status <> 'cancelled'
		ORDER BY date ASC, time ASC
		LIMIT 1
	`, patientID, fromDate)
	return scanAppointment(row)
}

func (q *pgQueries) FindActiveAppointmentOn(ctx context.Context, patientID uuid.UUID, date string) (*Appointment, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		  AND date = $2::date
		  AND status <> 'cancelled'
		LIMIT 1
	`, patientID, date)
	return scanAppointment(row)
}

// BookedTimes lists the occupied times on date, in time order.
func (q *pgQueries) BookedTimes(ctx context.Context, date string) ([]string, error) {
	rows, err := q.db.Query(ctx, `
		SELECT time
		FROM appointments
		WHERE date = $1::date
		  AND status = ANY($2)
		ORDER BY time
	`, date, activeStatusArgs())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		result = append(result, t)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (q *pgQueries) CreateAppointment(ctx context.Context, patientID uuid.UUID, date, t string) (*Appointment, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, date, time, status, created_at, updated_at)
		VALUES ($1, $2, $3::date, $4, 'booked', now(), now())
		RETURNING `+appointmentColumns+`
	`, uuid.New(), patientID, date, t)

	a, err := scanAppointment(row)
	if isUniqueViolation(err) {
		return nil, ErrDuplicateAppointment
	}
	return a, err
}

func (q *pgQueries) RescheduleAppointment(ctx context.Context, id uuid.UUID, date, t string) (*Appointment, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE appointments
		SET date = $2::date,
		    time = $3,
		    status = 'rescheduled',
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns+`
	`, id, date, t)

	a, err := scanAppointment(row)
	if isUniqueViolation(err) {
		return nil, ErrDuplicateAppointment
	}
	return a, err
}

func (q *pgQueries) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (q *pgQueries) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO appointment_events (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert appointment event: %w", err)
	}

	return nil
}

// Dashboard

func (r *PgRepository) ListAppointmentsOn(ctx context.Context, date string) ([]AppointmentDetail, error) {
	rows, err := r.db.Query(ctx, `
		SELECT a.id, a.patient_id, to_char(a.date, 'YYYY-MM-DD'), a.time, a.status,
		       a.google_event_id, a.created_at, a.updated_at, p.name, p.phone
		FROM appointments a
		JOIN patients p ON p.id = a.patient_id
		WHERE a.date = $1::date
		ORDER BY a.time
	`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AppointmentDetail
	for rows.Next() {
		var d AppointmentDetail
		var status string
		if err := rows.Scan(
			&d.ID, &d.PatientID, &d.Date, &d.Time, &status,
			&d.GoogleEventID, &d.CreatedAt, &d.UpdatedAt,
			&d.PatientName, &d.PatientPhone,
		); err != nil {
			return nil, err
		}
		d.Status = Status(status)
		result = append(result, d)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := r.db.Query(ctx, `
		SELECT status, count(*)
		FROM appointments
		GROUP BY status
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[Status]int{}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[Status(status)] = int(n)
	}

	return counts, rows.Err()
}

func (r *PgRepository) CountPatients(ctx context.Context) (int, error) {
	var n int64
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM patients`).Scan(&n); err != nil {
		return 0, err
	}
	return int(n), nil
}

func (r *PgRepository) RecentPatients(ctx context.Context, limit int) ([]Patient, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) UpsertPatient(ctx context.Context, p Patient) (*Patient, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	row := r.db.QueryRow(ctx, `
		INSERT INTO patients (id, name, phone, email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    phone = EXCLUDED.phone,
		    email = EXCLUDED.email,
		    updated_at = now()
		RETURNING `+patientColumns+`
	`, p.ID, p.Name, p.Phone, p.Email)

	saved, err := scanPatient(row)
	if isUniqueViolation(err) {
		return nil, ErrDuplicatePhone
	}
	return saved, err
}

// DeletePatient removes the patient and, through the foreign key, all of
// their appointments.
func (r *PgRepository) DeletePatient(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM patients WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete patient: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPatientNotFound
	}
	return nil
}

func (r *PgRepository) UpsertAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = StatusBooked
	}
	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, date, time, status, google_event_id, created_at, updated_at)
		VALUES ($1, $2, $3::date, $4, $5, $6, now(), now())
		ON CONFLICT (id) DO UPDATE
		SET patient_id = EXCLUDED.patient_id,
		    date = EXCLUDED.date,
		    time = EXCLUDED.time,
		    status = EXCLUDED.status,
		    google_event_id = EXCLUDED.google_event_id,
		    updated_at = now()
		RETURNING `+appointmentColumns+`
	`, a.ID, a.PatientID, a.Date, a.Time, string(a.Status), a.GoogleEventID)

	saved, err := scanAppointment(row)
	if isUniqueViolation(err) {
		return nil, ErrDuplicateAppointment
	}
	return saved, err
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
