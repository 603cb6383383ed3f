package models

type Snapshot struct {
	ClinicID        string       `json:"clinic_id"`
	DoctorID        string       `json:"doctor_id,omitempty"`
	IsDoctorQueue   bool         `json:"is_doctor_queue"`
	CurrentNumber   int          `json:"current_number"`
	Upcoming        []Ticket     `json:"upcoming"`
	TotalWaiting    int          `json:"total_waiting"`
	AvgWaitTime     int          `json:"avg_wait_time"`
	EstimatedWait   int          `json:"estimated_wait"`
	HasNextPatient  bool         `json:"has_next_patient"`
	ClinicStatus    ClinicStatus `json:"clinic_status"`
	CancelledNumber *int         `json:"cancelled_number,omitempty"`
}

// Public strips the clinic-internal fields from a snapshot.
func (s Snapshot) Public() Snapshot {
	public := s
	public.ClinicStatus = ClinicStatus{IsOpen: s.ClinicStatus.IsOpen}
	return public
}

type PatientQueueStatus struct {
	TicketID       string `json:"ticket_id"`
	ClinicID       string `json:"clinic_id"`
	ClinicName     string `json:"clinic_name"`
	ClinicAddress  string `json:"clinic_address,omitempty"`
	DoctorID       string `json:"doctor_id,omitempty"`
	QueueNumber    int    `json:"queue_number"`
	CurrentServing int    `json:"current_serving"`
	Position       int    `json:"position"`
	EstimatedWait  int    `json:"estimated_wait"`
	Status         string `json:"status"`
}
