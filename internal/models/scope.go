package models

// Scope addresses one queue. An empty DoctorID is the clinic-wide view.
type Scope struct {
	ClinicID string `json:"clinic_id"`
	DoctorID string `json:"doctor_id,omitempty"`
}

func (s Scope) Key() string {
	if s.DoctorID != "" {
		return "doctor:" + s.DoctorID
	}
	return "clinic:" + s.ClinicID
}

func (s Scope) IsDoctor() bool {
	return s.DoctorID != ""
}
