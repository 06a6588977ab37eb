package profile

import (
	"time"
)

// AppointmentSnapshot is what the caller's last appointment looked like at the
// last sync. It is not a live reference.
type AppointmentSnapshot struct {
	Date   string
	Time   string
	Status string
}

// CallerProfile is the long-term memory kept per normalized phone.
type CallerProfile struct {
	Name            string
	Phone           string
	LastAppointment *AppointmentSnapshot
	LastSeen        time.Time
	CreatedAt       time.Time
}

const (
	fieldName       = "name"
	fieldPhone      = "phone"
	fieldApptDate   = "last_appt_date"
	fieldApptTime   = "last_appt_time"
	fieldApptStatus = "last_appt_status"
	fieldLastSeen   = "last_seen"
	fieldCreatedAt  = "created_at"
)

func (p CallerProfile) fields() map[string]string {
	m := map[string]string{}
	set := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	set(fieldName, p.Name)
	set(fieldPhone, p.Phone)
	if p.LastAppointment != nil {
		set(fieldApptDate, p.LastAppointment.Date)
		set(fieldApptTime, p.LastAppointment.Time)
		set(fieldApptStatus, p.LastAppointment.Status)
	}
	if !p.LastSeen.IsZero() {
		m[fieldLastSeen] = p.LastSeen.UTC().Format(time.RFC3339Nano)
	}
	if !p.CreatedAt.IsZero() {
		m[fieldCreatedAt] = p.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	return m
}

func fromFields(m map[string]string) CallerProfile {
	p := CallerProfile{
		Name:  m[fieldName],
		Phone: m[fieldPhone],
	}
	if m[fieldApptDate] != "" || m[fieldApptTime] != "" {
		p.LastAppointment = &AppointmentSnapshot{
			Date:   m[fieldApptDate],
			Time:   m[fieldApptTime],
			Status: m[fieldApptStatus],
		}
	}
	p.LastSeen, _ = time.Parse(time.RFC3339Nano, m[fieldLastSeen])
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, m[fieldCreatedAt])
	return p
}

// merge overlays the set fields of patch onto base.
func merge(base, patch CallerProfile) CallerProfile {
	m := base.fields()
	for k, v := range patch.fields() {
		m[k] = v
	}
	return fromFields(m)
}
