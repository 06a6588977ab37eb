package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/voice-appointment-booking/internal/metrics"
	"github.com/hackgods/voice-appointment-booking/pkg/logging"
)

type call struct {
	method string
	args   []string
}

type fakeBooker struct {
	calls []call
	err   error
	panic bool
}

func (f *fakeBooker) record(method string, args ...string) (string, error) {
	if f.panic {
		panic("boom")
	}
	f.calls = append(f.calls, call{method, args})
	if f.err != nil {
		return "", f.err
	}
	return method + " ok", nil
}

func (f *fakeBooker) SaveName(_ context.Context, callID, name string) (string, error) {
	return f.record("SaveName", callID, name)
}

func (f *fakeBooker) SavePhone(_ context.Context, callID, phone string) (string, error) {
	return f.record("SavePhone", callID, phone)
}

func (f *fakeBooker) AvailableSlot(_ context.Context, callID, day, date, timeHint string) (string, error) {
	return f.record("AvailableSlot", callID, day, date, timeHint)
}

func (f *fakeBooker) Book(_ context.Context, callID, rawTime string) (string, error) {
	return f.record("Book", callID, rawTime)
}

func (f *fakeBooker) StartReschedule(_ context.Context, callID string) (string, error) {
	return f.record("StartReschedule", callID)
}

func (f *fakeBooker) ConfirmReschedule(_ context.Context, callID, rawTime string) (string, error) {
	return f.record("ConfirmReschedule", callID, rawTime)
}

func (f *fakeBooker) StartCancel(_ context.Context, callID string) (string, error) {
	return f.record("StartCancel", callID)
}

func (f *fakeBooker) ConfirmCancel(_ context.Context, callID string) (string, error) {
	return f.record("ConfirmCancel", callID)
}

func (f *fakeBooker) UpdateCallerProfile(_ context.Context, callID, name, phone string) (string, error) {
	return f.record("UpdateCallerProfile", callID, name, phone)
}

func (f *fakeBooker) GetDate(context.Context) string { return "today" }

func (f *fakeBooker) EndCall(context.Context) string { return "bye" }

func newTestDispatcher(b Booker, cfg DispatcherConfig) *Dispatcher {
	return NewDispatcher(b, cfg, logging.Nop(), metrics.NewBookingMetrics(prometheus.NewRegistry()))
}

func TestInvokeRoutesArguments(t *testing.T) {
	fb := &fakeBooker{}
	d := newTestDispatcher(fb, DispatcherConfig{})
	c := Call{ID: "call-1"}
	ctx := context.Background()

	res := d.Invoke(ctx, c, AvailableSlot, Args{Day: lo.ToPtr("friday"), Time: lo.ToPtr("morning")})
	assert.Equal(t, "AvailableSlot ok", res.Text)
	assert.False(t, res.EndCall)

	d.Invoke(ctx, c, UpdateCallerProfile, Args{Phone: lo.ToPtr("03001234567")})
	d.Invoke(ctx, c, BookAppointment, Args{})

	require.Len(t, fb.calls, 3)
	assert.Equal(t, call{"AvailableSlot", []string{"call-1", "friday", "", "morning"}}, fb.calls[0])
	assert.Equal(t, call{"UpdateCallerProfile", []string{"call-1", "", "03001234567"}}, fb.calls[1])
	assert.Equal(t, call{"Book", []string{"call-1", ""}}, fb.calls[2])
}

func TestInvokeEveryToolHasAHandler(t *testing.T) {
	d := newTestDispatcher(&fakeBooker{}, DispatcherConfig{})
	for _, name := range All {
		res := d.Invoke(context.Background(), Call{ID: "call-1"}, name, Args{})
		assert.NotEqual(t, Apology, res.Text, name)
		assert.NotEqual(t, Unsupported, res.Text, name)
	}
}

func TestInvokeEndCallSignalsHangup(t *testing.T) {
	d := newTestDispatcher(&fakeBooker{}, DispatcherConfig{})
	res := d.Invoke(context.Background(), Call{ID: "call-1"}, EndCall, Args{})
	assert.Equal(t, Result{Text: "bye", EndCall: true}, res)
}

func TestInvokeConvertsFailuresToApology(t *testing.T) {
	ctx := context.Background()

	d := newTestDispatcher(&fakeBooker{err: errors.New("redis: connection refused")}, DispatcherConfig{})
	assert.Equal(t, Apology, d.Invoke(ctx, Call{ID: "call-1"}, StartCancel, Args{}).Text)

	d = newTestDispatcher(&fakeBooker{panic: true}, DispatcherConfig{})
	assert.Equal(t, Apology, d.Invoke(ctx, Call{ID: "call-1"}, SaveName, Args{Name: lo.ToPtr("Ali")}).Text)

	assert.Equal(t, Apology, d.Invoke(ctx, Call{}, SaveName, Args{}).Text)
}

func TestInvokeUnknownTool(t *testing.T) {
	fb := &fakeBooker{}
	d := newTestDispatcher(fb, DispatcherConfig{})

	res := d.Invoke(context.Background(), Call{ID: "call-1"}, Name("transfer_to_human"), Args{})
	assert.Equal(t, Unsupported, res.Text)
	assert.Empty(t, fb.calls)
}

func TestInvokeRateLimitedPerCall(t *testing.T) {
	fb := &fakeBooker{}
	d := newTestDispatcher(fb, DispatcherConfig{RatePerSec: 1, Burst: 2})
	now := time.Date(2025, 1, 9, 8, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }
	ctx := context.Background()

	assert.Equal(t, "StartCancel ok", d.Invoke(ctx, Call{ID: "a"}, StartCancel, Args{}).Text)
	assert.Equal(t, "StartCancel ok", d.Invoke(ctx, Call{ID: "a"}, StartCancel, Args{}).Text)
	assert.Equal(t, SlowDown, d.Invoke(ctx, Call{ID: "a"}, StartCancel, Args{}).Text)

	// other calls have their own bucket
	assert.Equal(t, "StartCancel ok", d.Invoke(ctx, Call{ID: "b"}, StartCancel, Args{}).Text)

	now = now.Add(time.Second)
	assert.Equal(t, "StartCancel ok", d.Invoke(ctx, Call{ID: "a"}, StartCancel, Args{}).Text)
}

func TestIdleLimitersArePruned(t *testing.T) {
	d := newTestDispatcher(&fakeBooker{}, DispatcherConfig{RatePerSec: 1, Burst: 1})
	now := time.Date(2025, 1, 9, 8, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	d.Invoke(context.Background(), Call{ID: "a"}, GetDate, Args{})
	now = now.Add(2 * limiterIdle)
	d.Invoke(context.Background(), Call{ID: "b"}, GetDate, Args{})

	d.mu.Lock()
	defer d.mu.Unlock()
	assert.NotContains(t, d.limiters, "a")
	assert.Contains(t, d.limiters, "b")
}

func TestNameValid(t *testing.T) {
	assert.True(t, ConfirmCancel.Valid())
	assert.False(t, Name("book").Valid())
}
