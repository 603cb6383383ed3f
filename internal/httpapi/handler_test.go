package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"clinicq/internal/auth"
	"clinicq/internal/broadcast"
	"clinicq/internal/queue"
	"clinicq/internal/store"
	"clinicq/internal/store/memory"
)

type testServer struct {
	handler http.Handler
	service *queue.Service
	issuer  *auth.Issuer
	store   *memory.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := memory.New()
	now := func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) }
	service := queue.New(st, &broadcast.Recorder{}, nil, queue.Options{
		Policy: queue.NumberingPolicy{Reset: queue.ResetSession, Location: time.UTC},
		Now:    now,
		Logger: zerolog.Nop(),
	})
	t.Cleanup(service.Drain)
	issuer := auth.NewIssuer("test-secret", time.Hour)
	handler := NewHandler(st, service, issuer, Options{Logger: zerolog.Nop()})
	return &testServer{handler: handler.Routes(), service: service, issuer: issuer, store: st}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			reader.WriteString(raw)
		} else if err := json.NewEncoder(&reader).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "req-1")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(target); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
	var resp errorResponse
	decode(t, rec, &resp)
	if resp.Error.Code != code {
		t.Fatalf("expected code %s, got %s", code, resp.Error.Code)
	}
	if resp.RequestID != "req-1" {
		t.Fatalf("expected request id to be echoed, got %q", resp.RequestID)
	}
}

type session struct {
	token string
	id    string
}

func (s *testServer) registerClinic(t *testing.T, email string) session {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/clinics/register", "", map[string]interface{}{
		"name":     "North Clinic",
		"email":    email,
		"password": "secret-pass",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register clinic: %d %s", rec.Code, rec.Body.String())
	}
	var resp tokenResponse
	decode(t, rec, &resp)
	return session{token: resp.Token, id: resp.Clinic.ClinicID}
}

func (s *testServer) registerPatient(t *testing.T, phone string) session {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/patients/register", "", map[string]string{"name": "Sara", "phone": phone})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register patient: %d %s", rec.Code, rec.Body.String())
	}
	var resp tokenResponse
	decode(t, rec, &resp)
	return session{token: resp.Token, id: resp.Patient.PatientID}
}

// openClinicWithDoctor registers a clinic, adds a doctor and opens the clinic.
func (s *testServer) openClinicWithDoctor(t *testing.T) (session, string) {
	t.Helper()
	clinic := s.registerClinic(t, "north@example.com")
	rec := s.do(t, http.MethodPost, "/api/clinic/doctors", clinic.token, map[string]string{"name": "Dr. Amin"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create doctor: %d %s", rec.Code, rec.Body.String())
	}
	var doctor struct {
		DoctorID string `json:"doctor_id"`
	}
	decode(t, rec, &doctor)
	if rec := s.do(t, http.MethodPost, "/api/clinic/status/toggle", clinic.token, nil); rec.Code != http.StatusOK {
		t.Fatalf("open clinic: %d %s", rec.Code, rec.Body.String())
	}
	return clinic, doctor.DoctorID
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestClinicRegistrationAndLogin(t *testing.T) {
	s := newTestServer(t)
	s.registerClinic(t, "north@example.com")

	rec := s.do(t, http.MethodPost, "/api/clinics/register", "", map[string]string{
		"name": "Copy", "email": "NORTH@example.com", "password": "secret-pass",
	})
	expectError(t, rec, http.StatusConflict, "validation_error")

	rec = s.do(t, http.MethodPost, "/api/clinics/login", "", map[string]string{"email": "north@example.com", "password": "wrong"})
	expectError(t, rec, http.StatusUnauthorized, "unauthorized")

	rec = s.do(t, http.MethodPost, "/api/clinics/login", "", map[string]string{"email": "north@example.com", "password": "secret-pass"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: %d %s", rec.Code, rec.Body.String())
	}
	var resp tokenResponse
	decode(t, rec, &resp)
	identity, err := s.issuer.Parse(resp.Token)
	if err != nil || !identity.IsClinic() {
		t.Fatalf("expected a clinic token, got %+v (%v)", identity, err)
	}
}

func TestRegisterClinicValidation(t *testing.T) {
	s := newTestServer(t)
	cases := []map[string]interface{}{
		{"name": "", "email": "a@example.com", "password": "secret-pass"},
		{"name": "A", "email": "not-an-email", "password": "secret-pass"},
		{"name": "A", "email": "a@example.com", "password": "123"},
		{"name": "A", "email": "a@example.com", "password": "secret-pass", "operating_hours": map[string]string{"opening": "18:00", "closing": "09:00"}},
		{"name": "A", "email": "a@example.com", "password": "secret-pass", "average_process_time": 0},
	}
	for i, body := range cases {
		rec := s.do(t, http.MethodPost, "/api/clinics/register", "", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("case %d: expected 400, got %d: %s", i, rec.Code, rec.Body.String())
		}
	}

	rec := s.do(t, http.MethodPost, "/api/clinics/register", "", `{"name":"A","email":"a@example.com","password":"secret-pass","extra":1}`)
	expectError(t, rec, http.StatusBadRequest, "invalid_json")
}

func TestBookingAndProgressionFlow(t *testing.T) {
	s := newTestServer(t)
	clinic, doctorID := s.openClinicWithDoctor(t)
	first := s.registerPatient(t, "03001110001")
	second := s.registerPatient(t, "03001110002")

	for i, patient := range []session{first, second} {
		rec := s.do(t, http.MethodPost, "/api/patient/bookings", patient.token, map[string]string{"clinic_id": clinic.id, "doctor_id": doctorID})
		if rec.Code != http.StatusCreated {
			t.Fatalf("book: %d %s", rec.Code, rec.Body.String())
		}
		var result queue.BookResult
		decode(t, rec, &result)
		if result.Ticket.Number != i+1 {
			t.Fatalf("expected number %d, got %d", i+1, result.Ticket.Number)
		}
	}

	rec := s.do(t, http.MethodPost, "/api/patient/bookings", first.token, map[string]string{"clinic_id": clinic.id, "doctor_id": doctorID})
	expectError(t, rec, http.StatusConflict, "precondition_failed")

	rec = s.do(t, http.MethodGet, "/api/patient/queue-status", second.token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("queue status: %d %s", rec.Code, rec.Body.String())
	}
	var status struct {
		Position      int `json:"position"`
		EstimatedWait int `json:"estimated_wait"`
	}
	decode(t, rec, &status)
	if status.Position != 2 || status.EstimatedWait != 30 {
		t.Fatalf("unexpected status %+v", status)
	}

	path := fmt.Sprintf("/api/clinic/doctors/%s/advance", doctorID)
	rec = s.do(t, http.MethodPost, path, clinic.token, map[string]interface{}{"action": "specific", "number": 2})
	if rec.Code != http.StatusOK {
		t.Fatalf("advance: %d %s", rec.Code, rec.Body.String())
	}
	var advanced queue.AdvanceResult
	decode(t, rec, &advanced)
	if advanced.CurrentNumber != 2 || advanced.MissedCount != 1 || advanced.ServedCount != 1 {
		t.Fatalf("unexpected advance %+v", advanced)
	}

	rec = s.do(t, http.MethodPost, path, clinic.token, map[string]string{"action": "next"})
	expectError(t, rec, http.StatusConflict, "no_more_in_scope")

	rec = s.do(t, http.MethodPost, path, clinic.token, map[string]interface{}{"action": "specific", "number": 0})
	expectError(t, rec, http.StatusBadRequest, "validation_error")

	rec = s.do(t, http.MethodGet, "/api/patient/history", first.token, nil)
	var history []struct {
		Status string `json:"status"`
	}
	decode(t, rec, &history)
	if len(history) != 1 || history[0].Status != "missed" {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestCancelTicketOwnership(t *testing.T) {
	s := newTestServer(t)
	clinic, doctorID := s.openClinicWithDoctor(t)
	owner := s.registerPatient(t, "03001110001")
	other := s.registerPatient(t, "03001110002")

	rec := s.do(t, http.MethodPost, "/api/patient/bookings", owner.token, map[string]string{"clinic_id": clinic.id, "doctor_id": doctorID})
	var booked queue.BookResult
	decode(t, rec, &booked)
	path := "/api/queues/" + booked.Ticket.TicketID + "/cancel"

	rec = s.do(t, http.MethodPost, path, other.token, nil)
	expectError(t, rec, http.StatusNotFound, "not_found_or_already_processed")

	rec = s.do(t, http.MethodPost, path, owner.token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, path, owner.token, nil)
	expectError(t, rec, http.StatusNotFound, "not_found_or_already_processed")

	rec = s.do(t, http.MethodGet, "/api/queues/"+booked.Ticket.TicketID+"/events", owner.token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("events: %d %s", rec.Code, rec.Body.String())
	}
	var events ticketEventsResponse
	decode(t, rec, &events)
	if !events.Verified || len(events.Events) != 2 {
		t.Fatalf("expected a verified two-event chain, got %+v", events)
	}
	if events.Events[1].Type != store.EventTicketCancel {
		t.Fatalf("unexpected last event %s", events.Events[1].Type)
	}
}

func TestAuthorizationRules(t *testing.T) {
	s := newTestServer(t)
	patient := s.registerPatient(t, "03001110001")

	expectError(t, s.do(t, http.MethodGet, "/api/clinic/profile", "", nil), http.StatusUnauthorized, "unauthorized")
	expectError(t, s.do(t, http.MethodGet, "/api/clinic/profile", patient.token, nil), http.StatusForbidden, "forbidden")
	expectError(t, s.do(t, http.MethodGet, "/api/patient/profile", "garbage", nil), http.StatusUnauthorized, "unauthorized")
}

func TestPublicSnapshotHidesOperatingHours(t *testing.T) {
	s := newTestServer(t)
	clinic, doctorID := s.openClinicWithDoctor(t)

	rec := s.do(t, http.MethodGet, "/api/clinics/"+clinic.id+"/snapshot?doctor_id="+doctorID, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("snapshot: %d %s", rec.Code, rec.Body.String())
	}
	var snap struct {
		IsDoctorQueue bool                   `json:"is_doctor_queue"`
		ClinicStatus  map[string]interface{} `json:"clinic_status"`
	}
	decode(t, rec, &snap)
	if !snap.IsDoctorQueue || snap.ClinicStatus["is_open"] != true {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if _, ok := snap.ClinicStatus["operating_hours"]; ok {
		t.Fatalf("expected operating hours to be hidden")
	}

	rec = s.do(t, http.MethodGet, "/api/clinic/snapshot?doctor_id="+doctorID, clinic.token, nil)
	var full struct {
		ClinicStatus map[string]interface{} `json:"clinic_status"`
	}
	decode(t, rec, &full)
	if _, ok := full.ClinicStatus["operating_hours"]; !ok {
		t.Fatalf("expected the clinic view to include operating hours")
	}
}

func TestChannelAuth(t *testing.T) {
	s := newTestServer(t)
	clinic, doctorID := s.openClinicWithDoctor(t)
	patient := s.registerPatient(t, "03001110001")
	channel := broadcast.DoctorChannel(doctorID)

	rec := s.do(t, http.MethodPost, "/api/realtime/auth", patient.token, map[string]string{"socket_id": "s-1", "channel_name": channel})
	expectError(t, rec, http.StatusForbidden, "forbidden")

	rec = s.do(t, http.MethodPost, "/api/realtime/auth", clinic.token, map[string]string{"socket_id": "s-1", "channel_name": channel})
	if rec.Code != http.StatusOK {
		t.Fatalf("channel auth: %d %s", rec.Code, rec.Body.String())
	}
	var resp channelAuthResponse
	decode(t, rec, &resp)
	if err := s.issuer.VerifyChannel(resp.Auth, "s-1", channel); err != nil {
		t.Fatalf("expected a valid channel token: %v", err)
	}
	if err := s.issuer.VerifyChannel(resp.Auth, "s-2", channel); err == nil {
		t.Fatalf("expected the token to be bound to its socket")
	}
}

func TestDoctorAvailabilityToggle(t *testing.T) {
	s := newTestServer(t)
	clinic, doctorID := s.openClinicWithDoctor(t)

	rec := s.do(t, http.MethodPost, "/api/clinic/doctors/"+doctorID+"/availability", clinic.token, map[string]bool{"is_available": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("availability: %d %s", rec.Code, rec.Body.String())
	}
	patient := s.registerPatient(t, "03001110001")
	rec = s.do(t, http.MethodPost, "/api/patient/bookings", patient.token, map[string]string{"clinic_id": clinic.id, "doctor_id": doctorID})
	expectError(t, rec, http.StatusConflict, "precondition_failed")

	other := s.registerClinic(t, "south@example.com")
	rec = s.do(t, http.MethodGet, "/api/clinic/doctors/"+doctorID, other.token, nil)
	expectError(t, rec, http.StatusNotFound, "not_found")
}

func TestWalkIn(t *testing.T) {
	s := newTestServer(t)
	clinic, doctorID := s.openClinicWithDoctor(t)

	rec := s.do(t, http.MethodPost, "/api/clinic/walk-ins", clinic.token, map[string]string{"doctor_id": doctorID, "name": "Walk In", "phone": "03009998888"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("walk-in: %d %s", rec.Code, rec.Body.String())
	}
	var resp walkInResponse
	decode(t, rec, &resp)
	if resp.Ticket.Number != 1 || resp.Patient.Phone != "03009998888" {
		t.Fatalf("unexpected walk-in %+v", resp)
	}

	rec = s.do(t, http.MethodPost, "/api/clinic/walk-ins", clinic.token, map[string]string{"doctor_id": doctorID, "name": "Walk In", "phone": "12"})
	expectError(t, rec, http.StatusBadRequest, "validation_error")
}

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{RPS: 1, Burst: 1})
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	call := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = ip + ":1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}
	if code := call("10.0.0.1"); code != http.StatusOK {
		t.Fatalf("expected first call to pass, got %d", code)
	}
	if code := call("10.0.0.1"); code != http.StatusTooManyRequests {
		t.Fatalf("expected second call to be limited, got %d", code)
	}
	if code := call("10.0.0.2"); code != http.StatusOK {
		t.Fatalf("expected another client to pass, got %d", code)
	}
}

func TestRateLimiterEvictsLeastRecentClient(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{RPS: 1, Burst: 1, MaxClients: 2})
	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		if !limiter.allow(ip) {
			t.Fatalf("expected first call from %s to pass", ip)
		}
	}
	if got := limiter.Tracked(); got != 2 {
		t.Fatalf("expected 2 tracked clients, got %d", got)
	}
	if limiter.allow("10.0.0.3") {
		t.Fatal("expected the most recent client to keep its spent bucket")
	}
}

func TestLoggingMiddlewareSetsRequestID(t *testing.T) {
	handler := LoggingMiddleware(zerolog.Nop(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requestIDFromRequest(r) == "" {
			t.Errorf("expected a request id on the request")
		}
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot || rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("unexpected response %d %v", rec.Code, rec.Header())
	}
}

func TestMapError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: bad", store.ErrValidation), http.StatusBadRequest, "validation_error"},
		{store.ErrClinicNotFound, http.StatusNotFound, "not_found"},
		{store.ErrClinicClosed, http.StatusConflict, "precondition_failed"},
		{store.ErrOutsideHours, http.StatusConflict, "precondition_failed"},
		{store.ErrNoMoreInScope, http.StatusConflict, "no_more_in_scope"},
		{store.ErrNotFoundOrAlreadyProcessed, http.StatusNotFound, "not_found_or_already_processed"},
		{store.ErrConflictRace, http.StatusConflict, "conflict_race"},
		{store.Unavailable(errors.New("dial tcp")), http.StatusServiceUnavailable, "downstream_unavailable"},
		{auth.ErrInvalidToken, http.StatusUnauthorized, "unauthorized"},
		{broadcast.ErrChannelForbidden, http.StatusForbidden, "forbidden"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, c := range cases {
		status, code, _ := mapError(c.err)
		if status != c.status || code != c.code {
			t.Errorf("%v: expected %d %s, got %d %s", c.err, c.status, c.code, status, code)
		}
	}

	_, _, msg := mapError(fmt.Errorf("%w: name is required", store.ErrValidation))
	if msg != "name is required" {
		t.Errorf("expected validation detail, got %q", msg)
	}
}
