package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"clinicq/internal/auth"
	"clinicq/internal/models"
	"clinicq/internal/queue"
	"clinicq/internal/store"
)

const minPasswordLength = 6

type registerClinicRequest struct {
	Name               string                 `json:"name"`
	Email              string                 `json:"email"`
	Password           string                 `json:"password"`
	Phone              string                 `json:"phone"`
	Address            string                 `json:"address"`
	Services           []string               `json:"services"`
	OperatingHours     *models.OperatingHours `json:"operating_hours"`
	AverageProcessTime *int                   `json:"average_process_time"`
	MaxActiveQueues    *int                   `json:"max_active_queues"`
}

type loginClinicRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type updateClinicRequest struct {
	Name               *string                `json:"name"`
	Phone              *string                `json:"phone"`
	Address            *string                `json:"address"`
	Services           *[]string              `json:"services"`
	OperatingHours     *models.OperatingHours `json:"operating_hours"`
	AverageProcessTime *int                   `json:"average_process_time"`
	MaxActiveQueues    *int                   `json:"max_active_queues"`
}

type walkInRequest struct {
	DoctorID string `json:"doctor_id"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
}

type tokenResponse struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	Clinic    *models.Clinic  `json:"clinic,omitempty"`
	Patient   *models.Patient `json:"patient,omitempty"`
}

type walkInResponse struct {
	Patient       models.Patient `json:"patient"`
	Ticket        models.Ticket  `json:"ticket"`
	EstimatedWait int            `json:"estimated_wait"`
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", store.ErrValidation, fmt.Sprintf(format, args...))
}

func (h *Handler) handleRegisterClinic(w http.ResponseWriter, r *http.Request) {
	var req registerClinicRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Name == "" || req.Email == "" || req.Password == "" {
		h.fail(w, r, invalid("name, email, and password are required"))
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		h.fail(w, r, invalid("email is not valid"))
		return
	}
	if len(req.Password) < minPasswordLength {
		h.fail(w, r, invalid("password must be at least %d characters", minPasswordLength))
		return
	}

	clinic := models.Clinic{
		Name:               req.Name,
		Email:              req.Email,
		Phone:              strings.TrimSpace(req.Phone),
		Address:            strings.TrimSpace(req.Address),
		Services:           req.Services,
		OperatingHours:     models.OperatingHours{Opening: models.DefaultOpening, Closing: models.DefaultClosing},
		AverageProcessTime: models.DefaultAverageProcessTime,
		MaxActiveQueues:    models.DefaultMaxActiveQueues,
	}
	if req.OperatingHours != nil {
		clinic.OperatingHours = *req.OperatingHours
	}
	if req.AverageProcessTime != nil {
		clinic.AverageProcessTime = *req.AverageProcessTime
	}
	if req.MaxActiveQueues != nil {
		clinic.MaxActiveQueues = *req.MaxActiveQueues
	}
	if err := validateClinicSettings(&clinic.OperatingHours, &clinic.AverageProcessTime, &clinic.MaxActiveQueues); err != nil {
		h.fail(w, r, err)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	clinic.PasswordHash = hash

	clinic, err = h.store.CreateClinic(r.Context(), clinic)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeToken(w, r, http.StatusCreated, auth.Identity{Role: auth.RoleClinic, Subject: clinic.ClinicID}, &clinic, nil)
}

func (h *Handler) handleLoginClinic(w http.ResponseWriter, r *http.Request) {
	var req loginClinicRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	clinic, err := h.store.GetClinicByEmail(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil && !errors.Is(err, store.ErrClinicNotFound) {
		h.fail(w, r, err)
		return
	}
	if err != nil || !auth.CheckPassword(clinic.PasswordHash, req.Password) {
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "invalid credentials")
		return
	}
	h.writeToken(w, r, http.StatusOK, auth.Identity{Role: auth.RoleClinic, Subject: clinic.ClinicID}, &clinic, nil)
}

func (h *Handler) writeToken(w http.ResponseWriter, r *http.Request, status int, identity auth.Identity, clinic *models.Clinic, patient *models.Patient) {
	token, expires, err := h.issuer.Issue(identity)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, status, tokenResponse{Token: token, ExpiresAt: expires, Clinic: clinic, Patient: patient})
}

func validateClinicSettings(hours *models.OperatingHours, average, maxActive *int) error {
	if hours != nil {
		if err := hours.Validate(); err != nil {
			return invalid("operating_hours: %v", err)
		}
	}
	if average != nil && *average <= 0 {
		return invalid("average_process_time must be positive")
	}
	if maxActive != nil && *maxActive < 0 {
		return invalid("max_active_queues must not be negative")
	}
	return nil
}

func (h *Handler) handleListClinics(w http.ResponseWriter, r *http.Request) {
	clinics, err := h.store.ListClinics(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, clinics)
}

func (h *Handler) handleClinicStatus(w http.ResponseWriter, r *http.Request) {
	view, err := h.queue.ClinicStatus(r.Context(), r.PathValue("clinicID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handlePublicDoctors(w http.ResponseWriter, r *http.Request) {
	clinicID := r.PathValue("clinicID")
	if _, err := h.store.GetClinic(r.Context(), clinicID); err != nil {
		h.fail(w, r, err)
		return
	}
	doctors, err := h.store.ListDoctors(r.Context(), clinicID, true)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doctors)
}

func (h *Handler) handlePublicSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.queue.GetSnapshot(r.Context(), r.PathValue("clinicID"), strings.TrimSpace(r.URL.Query().Get("doctor_id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap.Public())
}

func (h *Handler) handleClinicProfile(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := requireClinic(w, r)
	if !ok {
		return
	}
	clinic, err := h.store.GetClinic(r.Context(), clinicID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, clinic)
}

func (h *Handler) handleUpdateClinic(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := requireClinic(w, r)
	if !ok {
		return
	}
	var req updateClinicRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		h.fail(w, r, invalid("name must not be empty"))
		return
	}
	if err := validateClinicSettings(req.OperatingHours, req.AverageProcessTime, req.MaxActiveQueues); err != nil {
		h.fail(w, r, err)
		return
	}
	clinic, err := h.store.UpdateClinic(r.Context(), clinicID, store.ClinicUpdate{
		Name:               req.Name,
		Phone:              req.Phone,
		Address:            req.Address,
		Services:           req.Services,
		OperatingHours:     req.OperatingHours,
		AverageProcessTime: req.AverageProcessTime,
		MaxActiveQueues:    req.MaxActiveQueues,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, clinic)
}

func (h *Handler) handleDeleteClinic(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := requireClinic(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteClinic(r.Context(), clinicID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleToggleClinic(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := requireClinic(w, r)
	if !ok {
		return
	}
	clinic, err := h.queue.ToggleClinicStatus(r.Context(), clinicID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, clinic)
}

func (h *Handler) handleClinicAnalytics(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := requireClinic(w, r)
	if !ok {
		return
	}
	analytics, err := h.queue.ClinicAnalytics(r.Context(), clinicID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analytics)
}

func (h *Handler) handleClinicSnapshot(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := requireClinic(w, r)
	if !ok {
		return
	}
	snap, err := h.queue.GetSnapshot(r.Context(), clinicID, strings.TrimSpace(r.URL.Query().Get("doctor_id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleWalkIn(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := requireClinic(w, r)
	if !ok {
		return
	}
	var req walkInRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.DoctorID = strings.TrimSpace(req.DoctorID)
	if req.DoctorID == "" {
		h.fail(w, r, invalid("doctor_id is required"))
		return
	}
	if err := validatePhone(req.Phone); err != nil {
		h.fail(w, r, err)
		return
	}
	patient, result, err := h.queue.RegisterAndBook(r.Context(), queue.RegisterAndBookInput{
		ClinicID: clinicID,
		DoctorID: req.DoctorID,
		Name:     req.Name,
		Phone:    req.Phone,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, walkInResponse{Patient: patient, Ticket: result.Ticket, EstimatedWait: result.EstimatedWait})
}
