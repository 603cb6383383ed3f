package httpapi

import (
	"context"
	"net/http"
	"strings"

	"clinicq/internal/models"
	"clinicq/internal/queue"
	"clinicq/internal/store"
)

type createDoctorRequest struct {
	Name            string                 `json:"name"`
	Specialty       string                 `json:"specialty"`
	ConsultationFee int                    `json:"consultation_fee"`
	AvailableDays   []string               `json:"available_days"`
	AvailableHours  *models.OperatingHours `json:"available_hours"`
}

type updateDoctorRequest struct {
	Name            *string                `json:"name"`
	Specialty       *string                `json:"specialty"`
	ConsultationFee *int                   `json:"consultation_fee"`
	IsActive        *bool                  `json:"is_active"`
	AvailableDays   *[]string              `json:"available_days"`
	AvailableHours  *models.OperatingHours `json:"available_hours"`
}

type availabilityRequest struct {
	IsAvailable *bool `json:"is_available"`
}

type advanceRequest struct {
	Action string `json:"action"`
	Number int    `json:"number"`
}

func (h *Handler) handleCreateDoctor(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := requireClinic(w, r)
	if !ok {
		return
	}
	var req createDoctorRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		h.fail(w, r, invalid("name is required"))
		return
	}
	if req.ConsultationFee < 0 {
		h.fail(w, r, invalid("consultation_fee must not be negative"))
		return
	}
	clinic, err := h.store.GetClinic(r.Context(), clinicID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	doctor := models.Doctor{
		ClinicID:        clinicID,
		Name:            req.Name,
		Specialty:       strings.TrimSpace(req.Specialty),
		ConsultationFee: req.ConsultationFee,
		IsActive:        true,
		IsAvailable:     true,
		AvailableDays:   req.AvailableDays,
		AvailableHours:  clinic.OperatingHours,
	}
	if len(doctor.AvailableDays) == 0 {
		doctor.AvailableDays = append([]string(nil), models.DefaultAvailableDays...)
	}
	if req.AvailableHours != nil {
		if err := req.AvailableHours.Validate(); err != nil {
			h.fail(w, r, invalid("available_hours: %v", err))
			return
		}
		doctor.AvailableHours = *req.AvailableHours
	}

	doctor, err = h.store.CreateDoctor(r.Context(), doctor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doctor)
}

func (h *Handler) handleListDoctors(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := requireClinic(w, r)
	if !ok {
		return
	}
	doctors, err := h.store.ListDoctors(r.Context(), clinicID, false)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doctors)
}

// ownedDoctor loads a doctor and hides doctors of other clinics.
func (h *Handler) ownedDoctor(ctx context.Context, clinicID, doctorID string) (models.Doctor, error) {
	doctor, err := h.store.GetDoctor(ctx, doctorID)
	if err != nil {
		return models.Doctor{}, err
	}
	if doctor.ClinicID != clinicID {
		return models.Doctor{}, store.ErrDoctorNotFound
	}
	return doctor, nil
}

func (h *Handler) handleGetDoctor(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := requireClinic(w, r)
	if !ok {
		return
	}
	doctor, err := h.ownedDoctor(r.Context(), clinicID, r.PathValue("doctorID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doctor)
}

func (h *Handler) handleUpdateDoctor(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := requireClinic(w, r)
	if !ok {
		return
	}
	var req updateDoctorRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		h.fail(w, r, invalid("name must not be empty"))
		return
	}
	if req.ConsultationFee != nil && *req.ConsultationFee < 0 {
		h.fail(w, r, invalid("consultation_fee must not be negative"))
		return
	}
	if req.AvailableHours != nil {
		if err := req.AvailableHours.Validate(); err != nil {
			h.fail(w, r, invalid("available_hours: %v", err))
			return
		}
	}
	doctor, err := h.store.UpdateDoctor(r.Context(), clinicID, r.PathValue("doctorID"), store.DoctorUpdate{
		Name:            req.Name,
		Specialty:       req.Specialty,
		ConsultationFee: req.ConsultationFee,
		IsActive:        req.IsActive,
		AvailableDays:   req.AvailableDays,
		AvailableHours:  req.AvailableHours,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doctor)
}

func (h *Handler) handleDeleteDoctor(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := requireClinic(w, r)
	if !ok {
		return
	}
	if _, err := h.queue.RemoveDoctor(r.Context(), clinicID, r.PathValue("doctorID")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDoctorAvailability(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := requireClinic(w, r)
	if !ok {
		return
	}
	var req availabilityRequest
	if r.ContentLength != 0 && !decodeRequest(w, r, &req) {
		return
	}
	result, err := h.queue.SetDoctorAvailability(r.Context(), clinicID, r.PathValue("doctorID"), req.IsAvailable)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleDoctorQueue(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := requireClinic(w, r)
	if !ok {
		return
	}
	snap, err := h.queue.GetSnapshot(r.Context(), clinicID, r.PathValue("doctorID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleAdvance(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := requireClinic(w, r)
	if !ok {
		return
	}
	var req advanceRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	result, err := h.queue.AdvanceQueue(r.Context(), queue.AdvanceInput{
		ClinicID: clinicID,
		DoctorID: r.PathValue("doctorID"),
		Action:   strings.TrimSpace(req.Action),
		Number:   req.Number,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
