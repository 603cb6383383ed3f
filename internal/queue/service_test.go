package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"clinicq/internal/broadcast"
	"clinicq/internal/models"
	"clinicq/internal/store/memory"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type sentNote struct {
	PatientID string
	Title     string
	Body      string
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []sentNote
}

func (n *recordingNotifier) Notify(ctx context.Context, patientID, title, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, sentNote{PatientID: patientID, Title: title, Body: body})
}

func (n *recordingNotifier) titled(title string) []sentNote {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sentNote
	for _, note := range n.notes {
		if note.Title == title {
			out = append(out, note)
		}
	}
	return out
}

type fixture struct {
	svc    *Service
	store  *memory.Store
	rec    *broadcast.Recorder
	notes  *recordingNotifier
	clock  *fakeClock
	clinic models.Clinic
	doctor models.Doctor
	phones int
}

var mondayMorning = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func newFixture(t *testing.T, reset ResetMode) *fixture {
	t.Helper()
	ctx := context.Background()

	st := memory.New()
	clinic, err := st.CreateClinic(ctx, models.Clinic{
		Name:               "North Clinic",
		Email:              "north@example.com",
		OperatingHours:     models.OperatingHours{Opening: "09:00", Closing: "17:00"},
		AverageProcessTime: 10,
		MaxActiveQueues:    50,
	})
	if err != nil {
		t.Fatalf("create clinic: %v", err)
	}
	doctor, err := st.CreateDoctor(ctx, models.Doctor{ClinicID: clinic.ClinicID, Name: "Dr. Amin", IsActive: true, IsAvailable: true})
	if err != nil {
		t.Fatalf("create doctor: %v", err)
	}

	f := &fixture{
		store:  st,
		rec:    &broadcast.Recorder{},
		notes:  &recordingNotifier{},
		clock:  &fakeClock{t: mondayMorning},
		doctor: doctor,
	}
	f.svc = New(st, f.rec, f.notes, Options{
		Policy: NumberingPolicy{Reset: reset, Location: time.UTC},
		Now:    f.clock.Now,
		Logger: zerolog.Nop(),
	})

	f.clinic, err = f.svc.ToggleClinicStatus(ctx, clinic.ClinicID)
	if err != nil {
		t.Fatalf("open clinic: %v", err)
	}
	f.settle()
	f.clock.Advance(time.Minute)
	return f
}

// settle waits for background publications and clears the recorder.
func (f *fixture) settle() {
	f.svc.Drain()
	f.rec.Reset()
}

func (f *fixture) scope() models.Scope {
	return models.Scope{ClinicID: f.clinic.ClinicID, DoctorID: f.doctor.DoctorID}
}

func (f *fixture) patient(t *testing.T) models.Patient {
	t.Helper()
	f.phones++
	patient, err := f.store.CreatePatient(context.Background(), models.Patient{
		Name:  fmt.Sprintf("Patient %d", f.phones),
		Phone: fmt.Sprintf("0300%07d", f.phones),
	})
	if err != nil {
		t.Fatalf("create patient: %v", err)
	}
	return patient
}

func (f *fixture) book(t *testing.T, patient models.Patient) models.Ticket {
	t.Helper()
	result, err := f.svc.BookTicket(context.Background(), BookInput{
		ClinicID:  f.clinic.ClinicID,
		DoctorID:  f.doctor.DoctorID,
		PatientID: patient.PatientID,
	})
	if err != nil {
		t.Fatalf("book ticket: %v", err)
	}
	return result.Ticket
}

func (f *fixture) bookMany(t *testing.T, n int) []models.Ticket {
	t.Helper()
	tickets := make([]models.Ticket, 0, n)
	for i := 0; i < n; i++ {
		tickets = append(tickets, f.book(t, f.patient(t)))
	}
	return tickets
}

func (f *fixture) advance(t *testing.T, action string, number int) AdvanceResult {
	t.Helper()
	result, err := f.svc.AdvanceQueue(context.Background(), AdvanceInput{
		ClinicID: f.clinic.ClinicID,
		DoctorID: f.doctor.DoctorID,
		Action:   action,
		Number:   number,
	})
	if err != nil {
		t.Fatalf("advance %s %d: %v", action, number, err)
	}
	return result
}

func (f *fixture) snapshot(t *testing.T) models.Snapshot {
	t.Helper()
	snap, err := f.svc.GetSnapshot(context.Background(), f.clinic.ClinicID, f.doctor.DoctorID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return snap
}

func (f *fixture) status(t *testing.T, ticketID string) string {
	t.Helper()
	ticket, err := f.store.GetTicket(context.Background(), ticketID)
	if err != nil {
		t.Fatalf("get ticket %s: %v", ticketID, err)
	}
	return ticket.Status
}
