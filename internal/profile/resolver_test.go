package profile

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/voice-appointment-booking/internal/appointment"
)

type fakeLookup struct {
	patients map[string]*appointment.Patient
	latest   map[uuid.UUID]*appointment.Appointment
	calls    int
}

func (f *fakeLookup) GetPatientByPhone(_ context.Context, phone string) (*appointment.Patient, error) {
	f.calls++
	p, ok := f.patients[phone]
	if !ok {
		return nil, appointment.ErrPatientNotFound
	}
	return p, nil
}

func (f *fakeLookup) LatestAppointment(_ context.Context, patientID uuid.UUID) (*appointment.Appointment, error) {
	a, ok := f.latest[patientID]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	return a, nil
}

func setupResolver(t *testing.T) (*Resolver, *Cache, *fakeLookup, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cache := NewCache(rdb, 7*24*time.Hour)
	store := &fakeLookup{
		patients: map[string]*appointment.Patient{},
		latest:   map[uuid.UUID]*appointment.Appointment{},
	}
	return NewResolver(cache, store, nil), cache, store, mr
}

func TestResolveFromStoreWritesCache(t *testing.T) {
	r, cache, store, mr := setupResolver(t)
	ctx := context.Background()

	pid := uuid.New()
	store.patients["3001234567"] = &appointment.Patient{ID: pid, Name: "Ayesha Khan", Phone: "3001234567"}
	store.latest[pid] = &appointment.Appointment{Date: "2025-01-10", Time: "09:30", Status: appointment.StatusBooked}

	p, tier, err := r.Resolve(ctx, "3001234567")
	require.NoError(t, err)
	assert.Equal(t, TierStore, tier)
	assert.Equal(t, "Ayesha Khan", p.Name)
	require.NotNil(t, p.LastAppointment)
	assert.Equal(t, "09:30", p.LastAppointment.Time)

	cached, err := cache.Load(ctx, "3001234567")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "Ayesha Khan", cached.Name)
	assert.Equal(t, "2025-01-10", cached.LastAppointment.Date)
	assert.Equal(t, 7*24*time.Hour, mr.TTL("caller:3001234567"))

	// second resolve never reaches the store
	_, tier, err = r.Resolve(ctx, "3001234567")
	require.NoError(t, err)
	assert.Equal(t, TierCache, tier)
	assert.Equal(t, 1, store.calls)
}

func TestResolveUnknownPhoneCachesBareProfile(t *testing.T) {
	r, cache, _, _ := setupResolver(t)
	ctx := context.Background()

	p, tier, err := r.Resolve(ctx, "3110000000")
	require.NoError(t, err)
	assert.Equal(t, TierFresh, tier)
	assert.Empty(t, p.Name)
	assert.Nil(t, p.LastAppointment)

	cached, err := cache.Load(ctx, "3110000000")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "3110000000", cached.Phone)
}

func TestUpsertPreservesSnapshot(t *testing.T) {
	r, cache, _, _ := setupResolver(t)
	ctx := context.Background()

	require.NoError(t, cache.Save(ctx, CallerProfile{
		Phone:           "3001234567",
		Name:            "Old Name",
		LastAppointment: &AppointmentSnapshot{Date: "2025-01-10", Time: "09:30", Status: "booked"},
	}))
	before, err := cache.Load(ctx, "3001234567")
	require.NoError(t, err)

	p, err := r.Upsert(ctx, "3001234567", "New Name")
	require.NoError(t, err)
	assert.Equal(t, "New Name", p.Name)
	require.NotNil(t, p.LastAppointment)
	assert.Equal(t, "2025-01-10", p.LastAppointment.Date)
	assert.False(t, p.LastSeen.Before(before.LastSeen))

	// an empty name keeps the stored one
	p, err = r.Upsert(ctx, "3001234567", "")
	require.NoError(t, err)
	assert.Equal(t, "New Name", p.Name)
}

func TestUpsertFallsBackToStore(t *testing.T) {
	r, _, store, _ := setupResolver(t)
	ctx := context.Background()

	pid := uuid.New()
	store.patients["3001234567"] = &appointment.Patient{ID: pid, Name: "Ayesha Khan", Phone: "3001234567"}
	store.latest[pid] = &appointment.Appointment{Date: "2025-02-01", Time: "13:00", Status: appointment.StatusRescheduled}

	p, err := r.Upsert(ctx, "3001234567", "")
	require.NoError(t, err)
	assert.Equal(t, "Ayesha Khan", p.Name)
	require.NotNil(t, p.LastAppointment)
	assert.Equal(t, "rescheduled", p.LastAppointment.Status)
}

func TestRefreshOverwritesSnapshot(t *testing.T) {
	r, cache, store, _ := setupResolver(t)
	ctx := context.Background()

	require.NoError(t, cache.Save(ctx, CallerProfile{
		Phone:           "3001234567",
		Name:            "Ayesha Khan",
		LastAppointment: &AppointmentSnapshot{Date: "2025-01-10", Time: "09:30", Status: "booked"},
	}))

	pid := uuid.New()
	store.patients["3001234567"] = &appointment.Patient{ID: pid, Name: "Ayesha Khan", Phone: "3001234567"}
	store.latest[pid] = &appointment.Appointment{Date: "2025-01-11", Time: "10:00", Status: appointment.StatusRescheduled}

	p, err := r.Refresh(ctx, "3001234567")
	require.NoError(t, err)
	assert.Equal(t, "2025-01-11", p.LastAppointment.Date)

	cached, err := cache.Load(ctx, "3001234567")
	require.NoError(t, err)
	assert.Equal(t, "10:00", cached.LastAppointment.Time)
	assert.Equal(t, "rescheduled", cached.LastAppointment.Status)
}

func TestSaveRequiresPhone(t *testing.T) {
	_, cache, _, _ := setupResolver(t)
	err := cache.Save(context.Background(), CallerProfile{Name: "x"})
	assert.ErrorIs(t, err, ErrPhoneRequired)
}

func TestRefreshKeepsCachedName(t *testing.T) {
	r, cache, store, _ := setupResolver(t)
	ctx := context.Background()

	require.NoError(t, cache.Save(ctx, CallerProfile{Phone: "3001234567", Name: "Robert Smith"}))

	pid := uuid.New()
	store.patients["3001234567"] = &appointment.Patient{ID: pid, Name: "Bob Smith", Phone: "3001234567"}
	store.latest[pid] = &appointment.Appointment{Date: "2025-01-11", Time: "10:00", Status: appointment.StatusBooked}

	p, err := r.Refresh(ctx, "3001234567")
	require.NoError(t, err)
	assert.Equal(t, "Robert Smith", p.Name)
	require.NotNil(t, p.LastAppointment)
	assert.Equal(t, "2025-01-11", p.LastAppointment.Date)

	cached, err := cache.Load(ctx, "3001234567")
	require.NoError(t, err)
	assert.Equal(t, "Robert Smith", cached.Name)
	assert.Equal(t, "booked", cached.LastAppointment.Status)
}

func TestRefreshClearsSnapshotWhenStoreHasNone(t *testing.T) {
	r, cache, store, _ := setupResolver(t)
	ctx := context.Background()

	require.NoError(t, cache.Save(ctx, CallerProfile{
		Phone:           "3001234567",
		Name:            "Ayesha Khan",
		LastAppointment: &AppointmentSnapshot{Date: "2025-01-10", Time: "09:30", Status: "booked"},
	}))
	store.patients["3001234567"] = &appointment.Patient{ID: uuid.New(), Name: "Ayesha Khan", Phone: "3001234567"}

	_, err := r.Refresh(ctx, "3001234567")
	require.NoError(t, err)

	cached, err := cache.Load(ctx, "3001234567")
	require.NoError(t, err)
	assert.Equal(t, "Ayesha Khan", cached.Name)
	assert.Nil(t, cached.LastAppointment)
}

func TestRefreshUsesStoreNameOnCacheMiss(t *testing.T) {
	r, cache, store, _ := setupResolver(t)
	ctx := context.Background()

	store.patients["3001234567"] = &appointment.Patient{ID: uuid.New(), Name: "Bob Smith", Phone: "3001234567"}

	_, err := r.Refresh(ctx, "3001234567")
	require.NoError(t, err)

	cached, err := cache.Load(ctx, "3001234567")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "Bob Smith", cached.Name)
}
