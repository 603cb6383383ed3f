package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"clinicq/internal/auth"
	"clinicq/internal/models"
	"clinicq/internal/queue"
	"clinicq/internal/store"
)

type registerPatientRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type loginPatientRequest struct {
	Phone string `json:"phone"`
}

type updatePatientRequest struct {
	Name  *string `json:"name"`
	Phone *string `json:"phone"`
}

type deviceTokenRequest struct {
	DeviceToken string `json:"device_token"`
}

type bookRequest struct {
	ClinicID string `json:"clinic_id"`
	DoctorID string `json:"doctor_id"`
}

func validatePhone(value string) error {
	value = strings.TrimSpace(value)
	if len(value) < 8 || len(value) > 16 {
		return invalid("phone must be 8-16 digits")
	}
	for i, r := range value {
		if r == '+' && i == 0 {
			continue
		}
		if r < '0' || r > '9' {
			return invalid("phone must be 8-16 digits")
		}
	}
	return nil
}

func (h *Handler) handleRegisterPatient(w http.ResponseWriter, r *http.Request) {
	var req registerPatientRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Name == "" {
		h.fail(w, r, invalid("name is required"))
		return
	}
	if err := validatePhone(req.Phone); err != nil {
		h.fail(w, r, err)
		return
	}
	patient, err := h.store.CreatePatient(r.Context(), models.Patient{Name: req.Name, Phone: req.Phone})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeToken(w, r, http.StatusCreated, auth.Identity{Role: auth.RolePatient, Subject: patient.PatientID}, nil, &patient)
}

func (h *Handler) handleLoginPatient(w http.ResponseWriter, r *http.Request) {
	var req loginPatientRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	patient, err := h.store.GetPatientByPhone(r.Context(), strings.TrimSpace(req.Phone))
	if errors.Is(err, store.ErrPatientNotFound) {
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "invalid credentials")
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeToken(w, r, http.StatusOK, auth.Identity{Role: auth.RolePatient, Subject: patient.PatientID}, nil, &patient)
}

func (h *Handler) handlePatientProfile(w http.ResponseWriter, r *http.Request) {
	patientID, ok := requirePatient(w, r)
	if !ok {
		return
	}
	patient, err := h.store.GetPatient(r.Context(), patientID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, patient)
}

func (h *Handler) handleUpdatePatient(w http.ResponseWriter, r *http.Request) {
	patientID, ok := requirePatient(w, r)
	if !ok {
		return
	}
	var req updatePatientRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		h.fail(w, r, invalid("name must not be empty"))
		return
	}
	if req.Phone != nil {
		phone := strings.TrimSpace(*req.Phone)
		if err := validatePhone(phone); err != nil {
			h.fail(w, r, err)
			return
		}
		req.Phone = &phone
	}
	patient, err := h.store.UpdatePatient(r.Context(), patientID, store.PatientUpdate{Name: req.Name, Phone: req.Phone})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, patient)
}

func (h *Handler) handleDeviceToken(w http.ResponseWriter, r *http.Request) {
	patientID, ok := requirePatient(w, r)
	if !ok {
		return
	}
	var req deviceTokenRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	token := strings.TrimSpace(req.DeviceToken)
	patient, err := h.store.UpdatePatient(r.Context(), patientID, store.PatientUpdate{DeviceToken: &token})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, patient)
}

func (h *Handler) handleBook(w http.ResponseWriter, r *http.Request) {
	patientID, ok := requirePatient(w, r)
	if !ok {
		return
	}
	var req bookRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	result, err := h.queue.BookTicket(r.Context(), queue.BookInput{
		ClinicID:  strings.TrimSpace(req.ClinicID),
		DoctorID:  strings.TrimSpace(req.DoctorID),
		PatientID: patientID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) handleCancelCurrent(w http.ResponseWriter, r *http.Request) {
	patientID, ok := requirePatient(w, r)
	if !ok {
		return
	}
	ticket, err := h.queue.CancelCurrentBooking(r.Context(), patientID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handlePatientQueueStatus(w http.ResponseWriter, r *http.Request) {
	patientID, ok := requirePatient(w, r)
	if !ok {
		return
	}
	status, err := h.queue.PatientStatus(r.Context(), patientID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handlePatientHistory(w http.ResponseWriter, r *http.Request) {
	patientID, ok := requirePatient(w, r)
	if !ok {
		return
	}
	history, err := h.queue.PatientHistory(r.Context(), patientID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if history == nil {
		history = []models.Ticket{}
	}
	writeJSON(w, http.StatusOK, history)
}
