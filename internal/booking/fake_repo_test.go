package booking

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/hackgods/voice-appointment-booking/internal/appointment"
)

// fakeRepo is an in-memory appointment store. CreateAppointment enforces the
// same one-active-appointment-per-day rule as the partial unique index.
type fakeRepo struct {
	mu       sync.Mutex
	patients map[uuid.UUID]appointment.Patient
	appts    map[uuid.UUID]appointment.Appointment
	events   []appointment.EventLog
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		patients: map[uuid.UUID]appointment.Patient{},
		appts:    map[uuid.UUID]appointment.Appointment{},
	}
}

func (f *fakeRepo) addPatient(name, phone string) appointment.Patient {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := appointment.Patient{ID: uuid.New(), Name: name, Phone: phone, CreatedAt: time.Now()}
	f.patients[p.ID] = p
	return p
}

func (f *fakeRepo) addAppointment(patientID uuid.UUID, date, hhmm string, status appointment.Status) appointment.Appointment {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := appointment.Appointment{ID: uuid.New(), PatientID: patientID, Date: date, Time: hhmm, Status: status}
	f.appts[a.ID] = a
	return a
}

func (f *fakeRepo) appointmentsFor(patientID uuid.UUID) []appointment.Appointment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return lo.Filter(lo.Values(f.appts), func(a appointment.Appointment, _ int) bool {
		return a.PatientID == patientID
	})
}

func (f *fakeRepo) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return lo.Map(f.events, func(e appointment.EventLog, _ int) string { return e.EventType })
}

func (f *fakeRepo) WithTx(ctx context.Context, fn func(q appointment.Queries) error) error {
	f.mu.Lock()
	patients := lo.Assign(f.patients)
	appts := lo.Assign(f.appts)
	events := append([]appointment.EventLog(nil), f.events...)
	f.mu.Unlock()

	if err := fn(f); err != nil {
		f.mu.Lock()
		f.patients, f.appts, f.events = patients, appts, events
		f.mu.Unlock()
		return err
	}
	return nil
}

func (f *fakeRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*appointment.Patient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.patients[id]
	if !ok {
		return nil, appointment.ErrPatientNotFound
	}
	return &p, nil
}

func (f *fakeRepo) GetPatientByPhone(_ context.Context, phone string) (*appointment.Patient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.patients {
		if p.Phone == phone {
			return &p, nil
		}
	}
	return nil, appointment.ErrPatientNotFound
}

func (f *fakeRepo) GetOrCreatePatient(ctx context.Context, name, phone string) (*appointment.Patient, error) {
	if p, err := f.GetPatientByPhone(ctx, phone); err == nil {
		return p, nil
	}
	p := f.addPatient(name, phone)
	return &p, nil
}

func (f *fakeRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appts[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	return &a, nil
}

func (f *fakeRepo) LatestAppointment(_ context.Context, patientID uuid.UUID) (*appointment.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *appointment.Appointment
	for _, a := range f.appts {
		if a.PatientID != patientID {
			continue
		}
		if best == nil || a.Date > best.Date {
			a := a
			best = &a
		}
	}
	if best == nil {
		return nil, appointment.ErrAppointmentNotFound
	}
	return best, nil
}

func (f *fakeRepo) NextUpcomingAppointment(_ context.Context, patientID uuid.UUID, fromDate string) (*appointment.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *appointment.Appointment
	for _, a := range f.appts {
		if a.PatientID != patientID || a.Date < fromDate || a.Status == appointment.StatusCancelled {
			continue
		}
		if best == nil || a.Date < best.Date || (a.Date == best.Date && a.Time < best.Time) {
			a := a
			best = &a
		}
	}
	if best == nil {
		return nil, appointment.ErrAppointmentNotFound
	}
	return best, nil
}

func (f *fakeRepo) FindActiveAppointmentOn(_ context.Context, patientID uuid.UUID, date string) (*appointment.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.appts {
		if a.PatientID == patientID && a.Date == date && a.Status != appointment.StatusCancelled {
			return &a, nil
		}
	}
	return nil, appointment.ErrAppointmentNotFound
}

func (f *fakeRepo) BookedTimes(_ context.Context, date string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, a := range f.appts {
		if a.Date == date && lo.Contains(appointment.ActiveStatuses, a.Status) {
			out = append(out, a.Time)
		}
	}
	return out, nil
}

func (f *fakeRepo) CreateAppointment(_ context.Context, patientID uuid.UUID, date, hhmm string) (*appointment.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.appts {
		if a.PatientID == patientID && a.Date == date && a.Status != appointment.StatusCancelled {
			return nil, appointment.ErrDuplicateAppointment
		}
	}
	a := appointment.Appointment{
		ID: uuid.New(), PatientID: patientID, Date: date, Time: hhmm,
		Status: appointment.StatusBooked, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	f.appts[a.ID] = a
	return &a, nil
}

func (f *fakeRepo) RescheduleAppointment(_ context.Context, id uuid.UUID, date, hhmm string) (*appointment.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appts[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	for _, other := range f.appts {
		if other.ID != id && other.PatientID == a.PatientID && other.Date == date && other.Status != appointment.StatusCancelled {
			return nil, appointment.ErrDuplicateAppointment
		}
	}
	a.Date, a.Time, a.Status, a.UpdatedAt = date, hhmm, appointment.StatusRescheduled, time.Now()
	f.appts[id] = a
	return &a, nil
}

func (f *fakeRepo) DeleteAppointment(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.appts[id]; !ok {
		return appointment.ErrAppointmentNotFound
	}
	delete(f.appts, id)
	return nil
}

func (f *fakeRepo) InsertEvent(_ context.Context, ev appointment.EventLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}
