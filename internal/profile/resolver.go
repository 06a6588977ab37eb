package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/voice-appointment-booking/internal/appointment"
	"github.com/hackgods/voice-appointment-booking/pkg/logging"
)

// Tier says where a resolved profile came from.
type Tier string

const (
	TierCache Tier = "cache"
	TierStore Tier = "store"
	TierFresh Tier = "fresh"
)

// PatientLookup is the part of the appointment store the resolver reads.
type PatientLookup interface {
	GetPatientByPhone(ctx context.Context, phone string) (*appointment.Patient, error)
	LatestAppointment(ctx context.Context, patientID uuid.UUID) (*appointment.Appointment, error)
}

// Resolver finds a caller's long-term profile, falling back from the cache to
// the appointment store, and writes back whatever it derived.
type Resolver struct {
	cache *Cache
	store PatientLookup
	log   *logging.Logger
}

func NewResolver(cache *Cache, store PatientLookup, log *logging.Logger) *Resolver {
	if log == nil {
		log = logging.Nop()
	}
	return &Resolver{cache: cache, store: store, log: log}
}

// Resolve returns the profile for phone and the tier that produced it.
// A phone unknown to both cache and store gets a bare profile, which is cached.
func (r *Resolver) Resolve(ctx context.Context, phone string) (CallerProfile, Tier, error) {
	cached, err := r.cache.Load(ctx, phone)
	if err != nil {
		return CallerProfile{}, "", err
	}
	if cached != nil {
		return *cached, TierCache, nil
	}

	derived, found, err := r.derive(ctx, phone)
	if err != nil {
		return CallerProfile{}, "", err
	}
	tier := TierFresh
	if found {
		tier = TierStore
	}

	if err := r.cache.Save(ctx, derived); err != nil {
		return CallerProfile{}, "", err
	}
	r.log.Debug("caller profile cached",
		zap.String("phone", phone),
		zap.String("tier", string(tier)),
	)
	return derived, tier, nil
}

// Refresh re-derives the last appointment from the store and merges it onto
// the cached profile. A name already in the cache is kept; the store-derived
// profile is only the base when nothing is cached.
func (r *Resolver) Refresh(ctx context.Context, phone string) (CallerProfile, error) {
	derived, _, err := r.derive(ctx, phone)
	if err != nil {
		return CallerProfile{}, err
	}
	return r.cache.SyncAppointment(ctx, phone, derived.LastAppointment, &derived)
}

// Upsert merges name and phone into the caller's profile. When nothing is
// cached the store-derived profile is the base, so the last appointment
// snapshot survives.
func (r *Resolver) Upsert(ctx context.Context, phone, name string) (CallerProfile, error) {
	if phone == "" {
		return CallerProfile{}, ErrPhoneRequired
	}
	cached, err := r.cache.Load(ctx, phone)
	if err != nil {
		return CallerProfile{}, err
	}
	var fallback *CallerProfile
	if cached == nil {
		derived, _, err := r.derive(ctx, phone)
		if err != nil {
			return CallerProfile{}, err
		}
		fallback = &derived
	}
	return r.cache.Merge(ctx, CallerProfile{Phone: phone, Name: name}, fallback)
}

func (r *Resolver) derive(ctx context.Context, phone string) (CallerProfile, bool, error) {
	p := CallerProfile{Phone: phone}

	patient, err := r.store.GetPatientByPhone(ctx, phone)
	if errors.Is(err, appointment.ErrPatientNotFound) {
		return p, false, nil
	}
	if err != nil {
		return CallerProfile{}, false, fmt.Errorf("caller profile: lookup patient: %w", err)
	}
	p.Name = patient.Name

	latest, err := r.store.LatestAppointment(ctx, patient.ID)
	switch {
	case errors.Is(err, appointment.ErrAppointmentNotFound):
	case err != nil:
		return CallerProfile{}, false, fmt.Errorf("caller profile: latest appointment: %w", err)
	default:
		p.LastAppointment = &AppointmentSnapshot{
			Date:   latest.Date,
			Time:   latest.Time,
			Status: string(latest.Status),
		}
	}
	return p, true, nil
}
