package models

import "time"

type Doctor struct {
	DoctorID         string         `json:"doctor_id"`
	ClinicID         string         `json:"clinic_id"`
	Name             string         `json:"name"`
	Specialty        string         `json:"specialty,omitempty"`
	ConsultationFee  int            `json:"consultation_fee"`
	IsActive         bool           `json:"is_active"`
	IsAvailable      bool           `json:"is_available"`
	AvailableDays    []string       `json:"available_days,omitempty"`
	AvailableHours   OperatingHours `json:"available_hours"`
	LastStatusChange time.Time      `json:"last_status_change"`
	CreatedAt        time.Time      `json:"created_at"`
}

var DefaultAvailableDays = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday"}

func (d Doctor) AcceptsBookings() bool {
	return d.IsActive && d.IsAvailable
}
