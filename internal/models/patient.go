package models

import "time"

type Patient struct {
	PatientID       string    `json:"patient_id"`
	Name            string    `json:"name"`
	Phone           string    `json:"phone"`
	DeviceToken     string    `json:"device_token,omitempty"`
	CurrentTicketID *string   `json:"current_ticket_id,omitempty"`
	History         []string  `json:"history,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
