package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T, ttl time.Duration) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, ttl), mr
}

func TestGetReturnsDefaultWhenAbsent(t *testing.T) {
	store, _ := setupTestStore(t, 5*time.Minute)
	ctx := context.Background()

	bc, err := store.Get(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, "call-1", bc.CallID)
	assert.Equal(t, StageStart, bc.Stage)
	assert.Equal(t, StatusPending, bc.Status)

	peeked, err := store.Peek(ctx, "call-1")
	require.NoError(t, err)
	assert.Nil(t, peeked, "Get must not persist the default context")
}

func TestPutThenPeek(t *testing.T) {
	store, mr := setupTestStore(t, 5*time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "call-1", BookingContext{
		Name:           "Alice",
		Phone:          "15551234567",
		SuggestedSlots: []string{"09:00", "09:30"},
		Stage:          StageSlots,
	}))

	got, err := store.Peek(ctx, "call-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Alice", got.Name)
	assert.Equal(t, []string{"09:00", "09:30"}, got.SuggestedSlots)
	assert.False(t, got.CreatedAt.IsZero())
	assert.Equal(t, 5*time.Minute, mr.TTL(contextKey("call-1")))
}

func TestTTLSlidesOnEveryWrite(t *testing.T) {
	store, mr := setupTestStore(t, 5*time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "call-1", BookingContext{Name: "Alice"}))
	mr.FastForward(4 * time.Minute)

	_, err := store.Save(ctx, "call-1", BookingContext{Date: "2025-01-10"})
	require.NoError(t, err)
	mr.FastForward(4 * time.Minute)

	got, err := store.Peek(ctx, "call-1")
	require.NoError(t, err)
	require.NotNil(t, got, "an active call must not expire while tools keep writing")
	assert.Equal(t, "Alice", got.Name)

	mr.FastForward(2 * time.Minute)
	got, err = store.Peek(ctx, "call-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSaveMergesAgainstPersisted(t *testing.T) {
	store, _ := setupTestStore(t, 5*time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "call-1", BookingContext{Name: "Alice"}))

	merged, err := store.Save(ctx, "call-1", BookingContext{Phone: "123"})
	require.NoError(t, err)
	assert.Equal(t, "Alice", merged.Name)
	assert.Equal(t, "123", merged.Phone)

	again, err := store.Save(ctx, "call-1", BookingContext{Phone: "123"})
	require.NoError(t, err)
	merged.UpdatedAt, again.UpdatedAt = time.Time{}, time.Time{}
	assert.Equal(t, merged, again)
}

func TestConcurrentSavesOnDisjointFieldsAllSurvive(t *testing.T) {
	store, _ := setupTestStore(t, 5*time.Minute)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "call-1", BookingContext{Stage: StageStart}))

	patches := []BookingContext{
		{Name: "Alice"},
		{Phone: "15551234567"},
		{Date: "2025-01-10"},
		{Time: "09:30"},
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(patches))
	for _, p := range patches {
		wg.Add(1)
		go func(p BookingContext) {
			defer wg.Done()
			_, err := store.Save(ctx, "call-1", p)
			errs <- err
		}(p)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := store.Get(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Name)
	assert.Equal(t, "15551234567", got.Phone)
	assert.Equal(t, "2025-01-10", got.Date)
	assert.Equal(t, "09:30", got.Time)
}

func TestParticipantBinding(t *testing.T) {
	store, _ := setupTestStore(t, 5*time.Minute)
	ctx := context.Background()

	prev, err := store.BindParticipant(ctx, "sip_+15551234567", "call-1")
	require.NoError(t, err)
	assert.Empty(t, prev)

	prev, err = store.BindParticipant(ctx, "sip_+15551234567", "call-2")
	require.NoError(t, err)
	assert.Equal(t, "call-1", prev)

	current, err := store.ParticipantCall(ctx, "sip_+15551234567")
	require.NoError(t, err)
	assert.Equal(t, "call-2", current)

	none, err := store.ParticipantCall(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListActiveAndDelete(t *testing.T) {
	store, _ := setupTestStore(t, 5*time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "call-1", BookingContext{Name: "Alice"}))
	require.NoError(t, store.Put(ctx, "call-2", BookingContext{Name: "Bob"}))

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	require.NoError(t, store.Delete(ctx, "call-1"))
	active, err = store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "Bob", active[0].Name)
}
