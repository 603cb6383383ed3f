package store

import (
	"context"
	"time"

	"clinicq/internal/models"
)

type ClinicUpdate struct {
	Name               *string
	Phone              *string
	Address            *string
	Services           *[]string
	OperatingHours     *models.OperatingHours
	AverageProcessTime *int
	MaxActiveQueues    *int
}

type DoctorUpdate struct {
	Name            *string
	Specialty       *string
	ConsultationFee *int
	IsActive        *bool
	AvailableDays   *[]string
	AvailableHours  *models.OperatingHours
}

type PatientUpdate struct {
	Name        *string
	Phone       *string
	DeviceToken *string
}

type TransitionInput struct {
	Filter TicketFilter
	To     string
	At     time.Time
}

// TicketReader is the read surface shared by the store and an open ledger section.
type TicketReader interface {
	ListTickets(ctx context.Context, filter TicketFilter) ([]models.Ticket, error)
	CountTickets(ctx context.Context, filter TicketFilter) (int, error)
	GetCounter(ctx context.Context, key string) (int, bool, error)
}

// Reader is a read-only view that sees a single committed state.
type Reader interface {
	TicketReader
	GetClinic(ctx context.Context, clinicID string) (models.Clinic, error)
}

// Ledger is the view of the store inside a scoped exclusive section. Every
// write made through it commits or rolls back together.
type Ledger interface {
	TicketReader
	GetClinic(ctx context.Context, clinicID string) (models.Clinic, error)
	GetDoctor(ctx context.Context, doctorID string) (models.Doctor, error)
	GetPatient(ctx context.Context, patientID string) (models.Patient, error)
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	ListDoctors(ctx context.Context, clinicID string, activeOnly bool) ([]models.Doctor, error)
	SetClinicOpen(ctx context.Context, clinicID string, open bool, at time.Time) (models.Clinic, error)
	SetDoctorAvailable(ctx context.Context, doctorID string, available bool, at time.Time) (models.Doctor, error)
	// MaxNumber returns the highest ticket number matching filter, or 0.
	MaxNumber(ctx context.Context, filter TicketFilter) (int, error)
	// CreateTicket persists a waiting ticket and points the patient at it.
	// It fails with ErrAlreadyQueued when the patient already holds a ticket.
	CreateTicket(ctx context.Context, ticket models.Ticket) error
	// Transition moves every waiting ticket matching the filter to input.To,
	// clearing each patient's current ticket and appending it to their history.
	Transition(ctx context.Context, input TransitionInput) ([]models.Ticket, error)
	SetCounter(ctx context.Context, key string, value int, at time.Time) error
	// DeleteDoctor removes the doctor and the scope's counter. Tickets keep
	// their rows with the doctor reference cleared.
	DeleteDoctor(ctx context.Context, doctorID string) error
}

type Store interface {
	TicketReader
	WithScope(ctx context.Context, scope models.Scope, fn func(Ledger) error) error
	// View runs fn against one consistent committed state without taking
	// any scope lock.
	View(ctx context.Context, fn func(Reader) error) error

	CreateClinic(ctx context.Context, clinic models.Clinic) (models.Clinic, error)
	GetClinic(ctx context.Context, clinicID string) (models.Clinic, error)
	GetClinicByEmail(ctx context.Context, email string) (models.Clinic, error)
	ListClinics(ctx context.Context) ([]models.Clinic, error)
	UpdateClinic(ctx context.Context, clinicID string, update ClinicUpdate) (models.Clinic, error)
	DeleteClinic(ctx context.Context, clinicID string) error

	CreateDoctor(ctx context.Context, doctor models.Doctor) (models.Doctor, error)
	GetDoctor(ctx context.Context, doctorID string) (models.Doctor, error)
	ListDoctors(ctx context.Context, clinicID string, activeOnly bool) ([]models.Doctor, error)
	UpdateDoctor(ctx context.Context, clinicID, doctorID string, update DoctorUpdate) (models.Doctor, error)

	CreatePatient(ctx context.Context, patient models.Patient) (models.Patient, error)
	GetPatient(ctx context.Context, patientID string) (models.Patient, error)
	GetPatientByPhone(ctx context.Context, phone string) (models.Patient, error)
	UpdatePatient(ctx context.Context, patientID string, update PatientUpdate) (models.Patient, error)

	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	ListTicketEvents(ctx context.Context, ticketID string) ([]TicketEvent, error)
}
