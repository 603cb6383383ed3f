// Package memory keeps the whole clinic queue state in process. Every scoped
// section runs against a private copy that replaces the live state only when
// the section returns without error.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"clinicq/internal/models"
	"clinicq/internal/store"
)

type Store struct {
	mu    sync.RWMutex
	state *state
	now   func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{state: newState(), now: time.Now}
}

type state struct {
	clinics  map[string]models.Clinic
	doctors  map[string]models.Doctor
	patients map[string]models.Patient
	tickets  map[string]models.Ticket
	counters map[string]int
	events   map[string][]store.TicketEvent
}

func newState() *state {
	return &state{
		clinics:  map[string]models.Clinic{},
		doctors:  map[string]models.Doctor{},
		patients: map[string]models.Patient{},
		tickets:  map[string]models.Ticket{},
		counters: map[string]int{},
		events:   map[string][]store.TicketEvent{},
	}
}

func (s *state) clone() *state {
	next := newState()
	for id, clinic := range s.clinics {
		clinic.Services = append([]string(nil), clinic.Services...)
		next.clinics[id] = clinic
	}
	for id, doctor := range s.doctors {
		doctor.AvailableDays = append([]string(nil), doctor.AvailableDays...)
		next.doctors[id] = doctor
	}
	for id, patient := range s.patients {
		patient.History = append([]string(nil), patient.History...)
		next.patients[id] = patient
	}
	for id, ticket := range s.tickets {
		next.tickets[id] = ticket
	}
	for key, value := range s.counters {
		next.counters[key] = value
	}
	for id, events := range s.events {
		next.events[id] = append([]store.TicketEvent(nil), events...)
	}
	return next
}

func (s *Store) WithScope(ctx context.Context, scope models.Scope, fn func(store.Ledger) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&ledger{state: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// View hands fn the committed state under the read lock. fn must not call
// back into the store.
func (s *Store) View(ctx context.Context, fn func(store.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	st := s.read()
	defer s.done()
	return fn(&ledger{state: st})
}

func (s *Store) read() *state {
	s.mu.RLock()
	return s.state
}

func (s *Store) done() {
	s.mu.RUnlock()
}

func (s *Store) ListTickets(ctx context.Context, filter store.TicketFilter) ([]models.Ticket, error) {
	st := s.read()
	defer s.done()
	return st.listTickets(filter), nil
}

func (s *Store) CountTickets(ctx context.Context, filter store.TicketFilter) (int, error) {
	st := s.read()
	defer s.done()
	filter.Limit = 0
	return len(st.listTickets(filter)), nil
}

func (s *Store) GetCounter(ctx context.Context, key string) (int, bool, error) {
	st := s.read()
	defer s.done()
	value, ok := st.counters[key]
	return value, ok, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	st := s.read()
	defer s.done()
	return st.getTicket(ticketID)
}

func (s *Store) ListTicketEvents(ctx context.Context, ticketID string) ([]store.TicketEvent, error) {
	st := s.read()
	defer s.done()
	if _, ok := st.tickets[ticketID]; !ok {
		return nil, store.ErrTicketNotFound
	}
	return append([]store.TicketEvent(nil), st.events[ticketID]...), nil
}

func (s *Store) CreateClinic(ctx context.Context, clinic models.Clinic) (models.Clinic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.state.clinics {
		if strings.EqualFold(existing.Email, clinic.Email) {
			return models.Clinic{}, store.ErrEmailTaken
		}
	}
	if clinic.ClinicID == "" {
		clinic.ClinicID = uuid.NewString()
	}
	if clinic.CreatedAt.IsZero() {
		clinic.CreatedAt = s.now().UTC()
	}
	s.state.clinics[clinic.ClinicID] = clinic
	return clinic, nil
}

func (s *Store) GetClinic(ctx context.Context, clinicID string) (models.Clinic, error) {
	st := s.read()
	defer s.done()
	return st.getClinic(clinicID)
}

func (s *Store) GetClinicByEmail(ctx context.Context, email string) (models.Clinic, error) {
	st := s.read()
	defer s.done()
	for _, clinic := range st.clinics {
		if strings.EqualFold(clinic.Email, email) {
			return clinic, nil
		}
	}
	return models.Clinic{}, store.ErrClinicNotFound
}

func (s *Store) ListClinics(ctx context.Context) ([]models.Clinic, error) {
	st := s.read()
	defer s.done()
	clinics := make([]models.Clinic, 0, len(st.clinics))
	for _, clinic := range st.clinics {
		clinics = append(clinics, clinic)
	}
	sort.Slice(clinics, func(i, j int) bool { return clinics[i].Name < clinics[j].Name })
	return clinics, nil
}

func (s *Store) UpdateClinic(ctx context.Context, clinicID string, update store.ClinicUpdate) (models.Clinic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clinic, err := s.state.getClinic(clinicID)
	if err != nil {
		return models.Clinic{}, err
	}
	if update.Name != nil {
		clinic.Name = *update.Name
	}
	if update.Phone != nil {
		clinic.Phone = *update.Phone
	}
	if update.Address != nil {
		clinic.Address = *update.Address
	}
	if update.Services != nil {
		clinic.Services = append([]string(nil), (*update.Services)...)
	}
	if update.OperatingHours != nil {
		clinic.OperatingHours = *update.OperatingHours
	}
	if update.AverageProcessTime != nil {
		clinic.AverageProcessTime = *update.AverageProcessTime
	}
	if update.MaxActiveQueues != nil {
		clinic.MaxActiveQueues = *update.MaxActiveQueues
	}
	s.state.clinics[clinicID] = clinic
	return clinic, nil
}

func (s *Store) DeleteClinic(ctx context.Context, clinicID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.clinics[clinicID]; !ok {
		return store.ErrClinicNotFound
	}
	delete(s.state.clinics, clinicID)
	for id, doctor := range s.state.doctors {
		if doctor.ClinicID == clinicID {
			delete(s.state.doctors, id)
			delete(s.state.counters, models.Scope{ClinicID: clinicID, DoctorID: id}.Key())
		}
	}
	for id, ticket := range s.state.tickets {
		if ticket.ClinicID != clinicID {
			continue
		}
		if patient, ok := s.state.patients[ticket.PatientID]; ok && patient.CurrentTicketID != nil && *patient.CurrentTicketID == id {
			patient.CurrentTicketID = nil
			s.state.patients[patient.PatientID] = patient
		}
		delete(s.state.tickets, id)
		delete(s.state.events, id)
	}
	delete(s.state.counters, models.Scope{ClinicID: clinicID}.Key())
	return nil
}

func (s *Store) CreateDoctor(ctx context.Context, doctor models.Doctor) (models.Doctor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.state.getClinic(doctor.ClinicID); err != nil {
		return models.Doctor{}, err
	}
	if doctor.DoctorID == "" {
		doctor.DoctorID = uuid.NewString()
	}
	if doctor.CreatedAt.IsZero() {
		doctor.CreatedAt = s.now().UTC()
	}
	s.state.doctors[doctor.DoctorID] = doctor
	return doctor, nil
}

func (s *Store) GetDoctor(ctx context.Context, doctorID string) (models.Doctor, error) {
	st := s.read()
	defer s.done()
	return st.getDoctor(doctorID)
}

func (s *Store) ListDoctors(ctx context.Context, clinicID string, activeOnly bool) ([]models.Doctor, error) {
	st := s.read()
	defer s.done()
	return st.listDoctors(clinicID, activeOnly), nil
}

func (s *Store) UpdateDoctor(ctx context.Context, clinicID, doctorID string, update store.DoctorUpdate) (models.Doctor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doctor, err := s.state.getDoctor(doctorID)
	if err != nil {
		return models.Doctor{}, err
	}
	if doctor.ClinicID != clinicID {
		return models.Doctor{}, store.ErrDoctorNotFound
	}
	if update.Name != nil {
		doctor.Name = *update.Name
	}
	if update.Specialty != nil {
		doctor.Specialty = *update.Specialty
	}
	if update.ConsultationFee != nil {
		doctor.ConsultationFee = *update.ConsultationFee
	}
	if update.IsActive != nil {
		doctor.IsActive = *update.IsActive
	}
	if update.AvailableDays != nil {
		doctor.AvailableDays = append([]string(nil), (*update.AvailableDays)...)
	}
	if update.AvailableHours != nil {
		doctor.AvailableHours = *update.AvailableHours
	}
	s.state.doctors[doctorID] = doctor
	return doctor, nil
}

func (s *Store) CreatePatient(ctx context.Context, patient models.Patient) (models.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.state.patients {
		if existing.Phone == patient.Phone {
			return models.Patient{}, store.ErrPhoneTaken
		}
	}
	if patient.PatientID == "" {
		patient.PatientID = uuid.NewString()
	}
	if patient.CreatedAt.IsZero() {
		patient.CreatedAt = s.now().UTC()
	}
	s.state.patients[patient.PatientID] = patient
	return patient, nil
}

func (s *Store) GetPatient(ctx context.Context, patientID string) (models.Patient, error) {
	st := s.read()
	defer s.done()
	return st.getPatient(patientID)
}

func (s *Store) GetPatientByPhone(ctx context.Context, phone string) (models.Patient, error) {
	st := s.read()
	defer s.done()
	for _, patient := range st.patients {
		if patient.Phone == phone {
			return patient, nil
		}
	}
	return models.Patient{}, store.ErrPatientNotFound
}

func (s *Store) UpdatePatient(ctx context.Context, patientID string, update store.PatientUpdate) (models.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	patient, err := s.state.getPatient(patientID)
	if err != nil {
		return models.Patient{}, err
	}
	if update.Phone != nil && *update.Phone != patient.Phone {
		for _, existing := range s.state.patients {
			if existing.Phone == *update.Phone {
				return models.Patient{}, store.ErrPhoneTaken
			}
		}
		patient.Phone = *update.Phone
	}
	if update.Name != nil {
		patient.Name = *update.Name
	}
	if update.DeviceToken != nil {
		patient.DeviceToken = *update.DeviceToken
	}
	s.state.patients[patientID] = patient
	return patient, nil
}

func (s *state) getClinic(clinicID string) (models.Clinic, error) {
	clinic, ok := s.clinics[clinicID]
	if !ok {
		return models.Clinic{}, store.ErrClinicNotFound
	}
	return clinic, nil
}

func (s *state) getDoctor(doctorID string) (models.Doctor, error) {
	doctor, ok := s.doctors[doctorID]
	if !ok {
		return models.Doctor{}, store.ErrDoctorNotFound
	}
	return doctor, nil
}

func (s *state) getPatient(patientID string) (models.Patient, error) {
	patient, ok := s.patients[patientID]
	if !ok {
		return models.Patient{}, store.ErrPatientNotFound
	}
	return patient, nil
}

func (s *state) getTicket(ticketID string) (models.Ticket, error) {
	ticket, ok := s.tickets[ticketID]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return s.populate(ticket), nil
}

func (s *state) listDoctors(clinicID string, activeOnly bool) []models.Doctor {
	doctors := make([]models.Doctor, 0)
	for _, doctor := range s.doctors {
		if doctor.ClinicID != clinicID {
			continue
		}
		if activeOnly && !doctor.IsActive {
			continue
		}
		doctors = append(doctors, doctor)
	}
	sort.Slice(doctors, func(i, j int) bool { return doctors[i].Name < doctors[j].Name })
	return doctors
}

func (s *state) populate(ticket models.Ticket) models.Ticket {
	if patient, ok := s.patients[ticket.PatientID]; ok {
		ticket.PatientName = patient.Name
		ticket.PatientPhone = patient.Phone
	}
	return ticket
}

func (s *state) listTickets(filter store.TicketFilter) []models.Ticket {
	tickets := make([]models.Ticket, 0)
	for _, ticket := range s.tickets {
		if filter.Match(ticket) {
			tickets = append(tickets, s.populate(ticket))
		}
	}
	if filter.NewestFirst {
		sort.Slice(tickets, func(i, j int) bool { return tickets[i].BookedAt.After(tickets[j].BookedAt) })
	} else {
		sort.Slice(tickets, func(i, j int) bool {
			if tickets[i].Number == tickets[j].Number {
				return tickets[i].BookedAt.Before(tickets[j].BookedAt)
			}
			return tickets[i].Number < tickets[j].Number
		})
	}
	if filter.Limit > 0 && len(tickets) > filter.Limit {
		tickets = tickets[:filter.Limit]
	}
	return tickets
}

func (s *state) appendEvent(ticket models.Ticket, at time.Time) error {
	chain := s.events[ticket.TicketID]
	var prev *store.TicketEvent
	if len(chain) > 0 {
		prev = &chain[len(chain)-1]
	}
	event, err := store.NextTicketEvent(prev, ticket, at)
	if err != nil {
		return err
	}
	s.events[ticket.TicketID] = append(chain, event)
	return nil
}
