package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/voice-appointment-booking/internal/appointment"
	"github.com/hackgods/voice-appointment-booking/internal/booking"
	"github.com/hackgods/voice-appointment-booking/internal/dashboard"
	"github.com/hackgods/voice-appointment-booking/internal/metrics"
	"github.com/hackgods/voice-appointment-booking/internal/profile"
	"github.com/hackgods/voice-appointment-booking/internal/session"
	"github.com/hackgods/voice-appointment-booking/internal/tools"
	"github.com/hackgods/voice-appointment-booking/pkg/logging"
)

type fakeCalls struct{ gotParticipant, gotPhone string }

func (f *fakeCalls) StartCall(_ context.Context, participantID, rawPhone string) (booking.CallStart, error) {
	f.gotParticipant, f.gotPhone = participantID, rawPhone
	return booking.CallStart{
		CallID:   "call-123",
		Tier:     profile.TierCache,
		Greeting: "Good morning! Hi Ayesha, how can I help you today?",
		Context:  session.BookingContext{Name: "Ayesha", Stage: session.StageStart, Status: session.StatusReturning},
	}, nil
}

type fakeTools struct {
	call tools.Call
	name tools.Name
	args tools.Args
}

func (f *fakeTools) Invoke(_ context.Context, call tools.Call, name tools.Name, args tools.Args) tools.Result {
	f.call, f.name, f.args = call, name, args
	return tools.Result{Text: "Thanks, Ayesha."}
}

type fakeParticipants map[string]string

func (f fakeParticipants) ParticipantCall(_ context.Context, id string) (string, error) {
	return f[id], nil
}

type fakeDashboard struct {
	saveErr error
	saved   appointment.Patient
}

func (f *fakeDashboard) Snapshot(context.Context) dashboard.Snapshot {
	return dashboard.Snapshot{Date: "2025-01-09", TotalPatients: 3}
}

func (f *fakeDashboard) SavePatient(_ context.Context, p appointment.Patient) (*appointment.Patient, error) {
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	f.saved = p
	return &p, nil
}

func (f *fakeDashboard) DeletePatient(context.Context, uuid.UUID) error {
	return appointment.ErrPatientNotFound
}

func (f *fakeDashboard) SaveAppointment(_ context.Context, a appointment.Appointment) (*appointment.Appointment, error) {
	return &a, nil
}

func (f *fakeDashboard) DeleteAppointment(context.Context, uuid.UUID) error { return nil }

type testServer struct {
	handler http.Handler
	calls   *fakeCalls
	tools   *fakeTools
	dash    *fakeDashboard
}

func newTestServer(t *testing.T, secret string) *testServer {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics.NewBookingMetrics(reg).ObserveHydration("cache")

	ts := &testServer{calls: &fakeCalls{}, tools: &fakeTools{}, dash: &fakeDashboard{}}
	ts.handler = NewRouter(RouterConfig{
		Calls:          ts.calls,
		Tools:          ts.tools,
		Participants:   fakeParticipants{"sip_a": "call-123"},
		Dashboard:      ts.dash,
		PostgresPing:   func(context.Context) error { return nil },
		RedisPing:      func(context.Context) error { return errors.New("down") },
		Gatherer:       reg,
		AdminJWTSecret: secret,
		Logger:         logging.Nop(),
		Env:            "test",
	})
	return ts
}

func (ts *testServer) do(method, path, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func TestStartCall(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.do(http.MethodPost, "/calls", `{"participant_id":"sip_a","phone":"+923001234567"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp StartCallResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "call-123", resp.CallID)
	assert.Equal(t, "cache", resp.Tier)
	assert.Equal(t, "returning", resp.Status)
	assert.Equal(t, "sip_a", ts.calls.gotParticipant)
	assert.Equal(t, "+923001234567", ts.calls.gotPhone)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestInvokeTool(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.do(http.MethodPost, "/calls/call-123/tools/save_name", `{"name":"ayesha"}`, "X-Participant-ID", "sip_a")
	require.Equal(t, http.StatusOK, rec.Code)

	var res tools.Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, "Thanks, Ayesha.", res.Text)
	assert.Equal(t, tools.SaveName, ts.tools.name)
	assert.Equal(t, tools.Call{ID: "call-123", ParticipantID: "sip_a"}, ts.tools.call)
	require.NotNil(t, ts.tools.args.Name)
	assert.Equal(t, "ayesha", *ts.tools.args.Name)

	rec = ts.do(http.MethodPost, "/calls/call-123/tools/get_date", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodPost, "/calls/call-123/tools/save_name", `{"name":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParticipantCall(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.do(http.MethodGet, "/participants/sip_a/call", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"call_id":"call-123"`)

	rec = ts.do(http.MethodGet, "/participants/sip_b/call", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, "")

	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/health/live", "").Code)

	rec := ts.do(http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp ReadinessResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, map[string]string{"postgres": "ok", "redis": "down"}, resp.Dependencies)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "clinic_voice_hydrations_total")
}

func TestDashboardRequiresToken(t *testing.T) {
	ts := newTestServer(t, "secret")

	assert.Equal(t, http.StatusUnauthorized, ts.do(http.MethodGet, "/dashboard", "").Code)
	assert.Equal(t, http.StatusUnauthorized,
		ts.do(http.MethodGet, "/dashboard", "", "Authorization", "Bearer "+signedAdminToken(t, "wrong")).Code)

	rec := ts.do(http.MethodGet, "/dashboard", "", "Authorization", "Bearer "+signedAdminToken(t, "secret"))
	require.Equal(t, http.StatusOK, rec.Code)
	var snap dashboard.Snapshot
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&snap))
	assert.Equal(t, 3, snap.TotalPatients)
}

func TestDashboardPatientEdits(t *testing.T) {
	ts := newTestServer(t, "")
	id := uuid.New()

	rec := ts.do(http.MethodPut, "/dashboard/patients/"+id.String(), `{"name":"Sana Mir","phone":"03001234567"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, ts.dash.saved.ID)
	assert.Equal(t, "Sana Mir", ts.dash.saved.Name)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPut, "/dashboard/patients/not-a-uuid", `{}`).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodDelete, "/dashboard/patients/"+id.String(), "").Code)

	ts.dash.saveErr = appointment.ErrDuplicatePhone
	assert.Equal(t, http.StatusConflict, ts.do(http.MethodPut, "/dashboard/patients", `{"name":"A","phone":"1"}`).Code)
}

func TestDashboardAppointmentEdits(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.do(http.MethodPut, "/dashboard/appointments", `{"patient_id":"`+uuid.NewString()+`","date":"2025-01-10","time":"09:30"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"time":"09:30"`)

	rec = ts.do(http.MethodPut, "/dashboard/appointments", `{"patient_id":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, http.StatusNoContent, ts.do(http.MethodDelete, "/dashboard/appointments/"+uuid.NewString(), "").Code)
}

func signedAdminToken(t *testing.T, secret string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "admin-user",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}
