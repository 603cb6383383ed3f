package httpapi

import (
	"encoding/json"
	"errors"
	"expvar"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"clinicq/internal/auth"
	"clinicq/internal/broadcast"
	"clinicq/internal/queue"
	"clinicq/internal/store"
)

type Handler struct {
	store    store.Store
	queue    *queue.Service
	issuer   *auth.Issuer
	channels *broadcast.Authorizer
	logger   zerolog.Logger
	realtime http.Handler
	display  http.Handler
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Options struct {
	// Realtime serves the sockjs dashboard endpoint under /realtime/.
	Realtime http.Handler
	// Display serves the public websocket feed at /display.
	Display http.Handler
	Logger  zerolog.Logger
}

func NewHandler(st store.Store, service *queue.Service, issuer *auth.Issuer, options Options) *Handler {
	return &Handler{
		store:    st,
		queue:    service,
		issuer:   issuer,
		channels: broadcast.NewAuthorizer(st),
		logger:   options.Logger,
		realtime: options.Realtime,
		display:  options.Display,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.Handle("GET /debug/vars", expvar.Handler())

	mux.HandleFunc("POST /api/clinics/register", h.handleRegisterClinic)
	mux.HandleFunc("POST /api/clinics/login", h.handleLoginClinic)
	mux.HandleFunc("GET /api/clinics", h.handleListClinics)
	mux.HandleFunc("GET /api/clinics/{clinicID}/status", h.handleClinicStatus)
	mux.HandleFunc("GET /api/clinics/{clinicID}/doctors", h.handlePublicDoctors)
	mux.HandleFunc("GET /api/clinics/{clinicID}/snapshot", h.handlePublicSnapshot)

	mux.HandleFunc("GET /api/clinic/profile", h.handleClinicProfile)
	mux.HandleFunc("PATCH /api/clinic/profile", h.handleUpdateClinic)
	mux.HandleFunc("DELETE /api/clinic/profile", h.handleDeleteClinic)
	mux.HandleFunc("POST /api/clinic/status/toggle", h.handleToggleClinic)
	mux.HandleFunc("GET /api/clinic/analytics", h.handleClinicAnalytics)
	mux.HandleFunc("GET /api/clinic/snapshot", h.handleClinicSnapshot)
	mux.HandleFunc("POST /api/clinic/walk-ins", h.handleWalkIn)
	mux.HandleFunc("POST /api/clinic/doctors", h.handleCreateDoctor)
	mux.HandleFunc("GET /api/clinic/doctors", h.handleListDoctors)
	mux.HandleFunc("GET /api/clinic/doctors/{doctorID}", h.handleGetDoctor)
	mux.HandleFunc("PATCH /api/clinic/doctors/{doctorID}", h.handleUpdateDoctor)
	mux.HandleFunc("DELETE /api/clinic/doctors/{doctorID}", h.handleDeleteDoctor)
	mux.HandleFunc("POST /api/clinic/doctors/{doctorID}/availability", h.handleDoctorAvailability)
	mux.HandleFunc("GET /api/clinic/doctors/{doctorID}/queue", h.handleDoctorQueue)
	mux.HandleFunc("POST /api/clinic/doctors/{doctorID}/advance", h.handleAdvance)

	mux.HandleFunc("POST /api/patients/register", h.handleRegisterPatient)
	mux.HandleFunc("POST /api/patients/login", h.handleLoginPatient)
	mux.HandleFunc("GET /api/patient/profile", h.handlePatientProfile)
	mux.HandleFunc("PATCH /api/patient/profile", h.handleUpdatePatient)
	mux.HandleFunc("PUT /api/patient/device-token", h.handleDeviceToken)
	mux.HandleFunc("POST /api/patient/bookings", h.handleBook)
	mux.HandleFunc("DELETE /api/patient/bookings/current", h.handleCancelCurrent)
	mux.HandleFunc("GET /api/patient/queue-status", h.handlePatientQueueStatus)
	mux.HandleFunc("GET /api/patient/history", h.handlePatientHistory)

	mux.HandleFunc("POST /api/queues/{ticketID}/cancel", h.handleCancelTicket)
	mux.HandleFunc("GET /api/queues/{ticketID}/events", h.handleTicketEvents)

	mux.HandleFunc("POST /api/realtime/auth", h.handleChannelAuth)
	if h.realtime != nil {
		mux.Handle("/realtime/", h.realtime)
	}
	if h.display != nil {
		mux.Handle("GET /display", h.display)
	}
	return AuthMiddleware(h.issuer, mux)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func decodeRequest(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := mapError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("request_id", requestIDFromRequest(r)).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, requestIDFromRequest(r), status, code, msg)
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest, "validation_error", strings.TrimPrefix(err.Error(), store.ErrValidation.Error()+": ")
	case errors.Is(err, store.ErrEmailTaken), errors.Is(err, store.ErrPhoneTaken):
		return http.StatusConflict, "validation_error", err.Error()
	case errors.Is(err, store.ErrClinicNotFound),
		errors.Is(err, store.ErrDoctorNotFound),
		errors.Is(err, store.ErrPatientNotFound),
		errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "not_found", err.Error()
	case errors.Is(err, store.ErrClinicClosed),
		errors.Is(err, store.ErrOutsideHours),
		errors.Is(err, store.ErrDoctorUnavailable),
		errors.Is(err, store.ErrAlreadyQueued),
		errors.Is(err, store.ErrQueueFull),
		errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "precondition_failed", err.Error()
	case errors.Is(err, store.ErrNoMoreInScope):
		return http.StatusConflict, "no_more_in_scope", err.Error()
	case errors.Is(err, store.ErrNotFoundOrAlreadyProcessed):
		return http.StatusNotFound, "not_found_or_already_processed", err.Error()
	case errors.Is(err, store.ErrConflictRace):
		return http.StatusConflict, "conflict_race", err.Error()
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, "unauthorized", "invalid or expired token"
	case errors.Is(err, broadcast.ErrChannelForbidden):
		return http.StatusForbidden, "forbidden", err.Error()
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable, "downstream_unavailable", "service temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
