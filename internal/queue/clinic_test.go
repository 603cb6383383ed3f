package queue

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"clinicq/internal/broadcast"
	"clinicq/internal/models"
	"clinicq/internal/store"
)

func TestReopeningClinicRestartsNumbering(t *testing.T) {
	f := newFixture(t, ResetSession)
	ctx := context.Background()
	tickets := f.bookMany(t, 2)
	f.advance(t, ActionNext, 0)

	f.clock.Advance(time.Minute)
	if _, err := f.svc.ToggleClinicStatus(ctx, f.clinic.ClinicID); err != nil {
		t.Fatalf("close: %v", err)
	}
	f.clock.Advance(time.Minute)
	if _, err := f.svc.ToggleClinicStatus(ctx, f.clinic.ClinicID); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	f.clock.Advance(time.Minute)

	if got := f.status(t, tickets[1].TicketID); got != models.StatusCancelled {
		t.Fatalf("expected waiting ticket cancelled on reopen, got %s", got)
	}
	if snap := f.snapshot(t); snap.CurrentNumber != 0 || snap.TotalWaiting != 0 {
		t.Fatalf("expected a fresh queue, got %+v", snap)
	}
	if ticket := f.book(t, f.patient(t)); ticket.Number != 1 {
		t.Fatalf("expected numbering to restart at 1, got %d", ticket.Number)
	}
}

func TestOpeningOutsideHoursFails(t *testing.T) {
	f := newFixture(t, ResetSession)
	ctx := context.Background()
	if _, err := f.svc.ToggleClinicStatus(ctx, f.clinic.ClinicID); err != nil {
		t.Fatalf("close: %v", err)
	}
	f.clock.Set(time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC))
	if _, err := f.svc.ToggleClinicStatus(ctx, f.clinic.ClinicID); !errors.Is(err, store.ErrOutsideHours) {
		t.Fatalf("expected outside hours, got %v", err)
	}
}

func TestToggleClinicPublishesStatus(t *testing.T) {
	f := newFixture(t, ResetSession)
	if _, err := f.svc.ToggleClinicStatus(context.Background(), f.clinic.ClinicID); err != nil {
		t.Fatalf("close: %v", err)
	}
	f.svc.Drain()

	public := f.rec.OnChannel(broadcast.PublicClinicChannel(f.clinic.ClinicID))
	if len(public) != 1 || public[0].Event != broadcast.EventClinicStatus {
		t.Fatalf("expected one clinic status event, got %+v", public)
	}
	if status := public[0].Payload.(models.ClinicStatus); status.IsOpen || status.OperatingHours != nil {
		t.Fatalf("unexpected public status %+v", status)
	}
}

func TestClinicStatusAutoClosesOutsideHours(t *testing.T) {
	f := newFixture(t, ResetSession)
	tickets := f.bookMany(t, 1)
	f.clock.Set(time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC))

	view, err := f.svc.ClinicStatus(context.Background(), f.clinic.ClinicID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if view.IsOpen || !view.AutoClosed || view.IsWithinOperatingHours {
		t.Fatalf("expected auto-closed clinic, got %+v", view)
	}
	if view.CurrentTime != "18:00" {
		t.Fatalf("unexpected current time %s", view.CurrentTime)
	}
	if got := f.status(t, tickets[0].TicketID); got != models.StatusCancelled {
		t.Fatalf("expected waiting ticket cancelled, got %s", got)
	}

	again, err := f.svc.ClinicStatus(context.Background(), f.clinic.ClinicID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if again.AutoClosed {
		t.Fatalf("expected second read to be a no-op")
	}
}

func TestDoctorUnavailableCancelsQueue(t *testing.T) {
	f := newFixture(t, ResetSession)
	ctx := context.Background()
	tickets := f.bookMany(t, 3)
	f.advance(t, ActionNext, 0)

	off := false
	result, err := f.svc.SetDoctorAvailability(ctx, f.clinic.ClinicID, f.doctor.DoctorID, &off)
	if err != nil {
		t.Fatalf("set availability: %v", err)
	}
	if result.Doctor.IsAvailable || result.Cancelled != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
	f.svc.Drain()

	for _, ticket := range tickets[1:] {
		if got := f.status(t, ticket.TicketID); got != models.StatusCancelled {
			t.Fatalf("ticket %d: expected cancelled, got %s", ticket.Number, got)
		}
	}
	if snap := f.snapshot(t); snap.CurrentNumber != 0 {
		t.Fatalf("expected counter reset, got %d", snap.CurrentNumber)
	}
	if notes := f.notes.titled("Queue Cancelled"); len(notes) != 2 {
		t.Fatalf("expected two cancellation notices, got %d", len(notes))
	}

	toggled, err := f.svc.SetDoctorAvailability(ctx, f.clinic.ClinicID, f.doctor.DoctorID, nil)
	if err != nil {
		t.Fatalf("toggle availability: %v", err)
	}
	if !toggled.Doctor.IsAvailable || toggled.Cancelled != 0 {
		t.Fatalf("expected doctor back on, got %+v", toggled)
	}
}

func TestRemoveDoctorCancelsWaitingTickets(t *testing.T) {
	f := newFixture(t, ResetSession)
	ctx := context.Background()
	tickets := f.bookMany(t, 3)
	f.advance(t, ActionNext, 0)
	f.settle()

	cancelled, err := f.svc.RemoveDoctor(ctx, f.clinic.ClinicID, f.doctor.DoctorID)
	if err != nil {
		t.Fatalf("remove doctor: %v", err)
	}
	if cancelled != 2 {
		t.Fatalf("expected 2 cancelled tickets, got %d", cancelled)
	}
	f.svc.Drain()

	if got := f.status(t, tickets[0].TicketID); got != models.StatusServed {
		t.Fatalf("served ticket should stay served, got %s", got)
	}
	for _, ticket := range tickets[1:] {
		if got := f.status(t, ticket.TicketID); got != models.StatusCancelled {
			t.Fatalf("ticket %d should be cancelled, got %s", ticket.Number, got)
		}
		patient, err := f.store.GetPatient(ctx, ticket.PatientID)
		if err != nil {
			t.Fatalf("get patient: %v", err)
		}
		if patient.CurrentTicketID != nil {
			t.Fatalf("patient %s still holds a ticket", patient.PatientID)
		}
	}
	if notes := f.notes.titled("Queue Cancelled"); len(notes) != 2 {
		t.Fatalf("expected 2 cancellation notices, got %d", len(notes))
	}
	if _, err := f.store.GetDoctor(ctx, f.doctor.DoctorID); !errors.Is(err, store.ErrDoctorNotFound) {
		t.Fatalf("expected doctor to be gone, got %v", err)
	}
	if events := f.rec.OnChannel(broadcast.PublicDoctorChannel(f.doctor.DoctorID)); len(events) == 0 {
		t.Fatal("expected a final snapshot on the doctor's public channel")
	}

	// A fresh booking succeeds once the patient is released.
	other, err := f.store.CreateDoctor(ctx, models.Doctor{ClinicID: f.clinic.ClinicID, Name: "Dr. Reyes", IsActive: true, IsAvailable: true})
	if err != nil {
		t.Fatalf("create doctor: %v", err)
	}
	if _, err := f.svc.BookTicket(ctx, BookInput{ClinicID: f.clinic.ClinicID, DoctorID: other.DoctorID, PatientID: tickets[1].PatientID}); err != nil {
		t.Fatalf("rebook after removal: %v", err)
	}
}

func TestRemoveDoctorRejectsForeignDoctor(t *testing.T) {
	f := newFixture(t, ResetSession)
	ctx := context.Background()
	ticket := f.book(t, f.patient(t))

	if _, err := f.svc.RemoveDoctor(ctx, "other-clinic", f.doctor.DoctorID); !errors.Is(err, store.ErrDoctorNotFound) {
		t.Fatalf("expected ErrDoctorNotFound for foreign clinic, got %v", err)
	}
	if _, err := f.svc.RemoveDoctor(ctx, f.clinic.ClinicID, "missing"); !errors.Is(err, store.ErrDoctorNotFound) {
		t.Fatalf("expected ErrDoctorNotFound for unknown doctor, got %v", err)
	}
	if got := f.status(t, ticket.TicketID); got != models.StatusWaiting {
		t.Fatalf("ticket should still be waiting, got %s", got)
	}
}

func TestGetSnapshotDoesNotMutate(t *testing.T) {
	f := newFixture(t, ResetSession)
	f.bookMany(t, 3)
	f.advance(t, ActionNext, 0)
	f.settle()

	first := f.snapshot(t)
	second := f.snapshot(t)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("snapshots differ:\n%+v\n%+v", first, second)
	}
	if first.CurrentNumber != 1 || len(first.Upcoming) != 2 || first.Upcoming[0].Number != 2 {
		t.Fatalf("unexpected snapshot %+v", first)
	}
	f.svc.Drain()
	if events := f.rec.Events(); len(events) != 0 {
		t.Fatalf("expected no broadcasts from a read, got %d", len(events))
	}
}

func TestGetSnapshotUnknownDoctor(t *testing.T) {
	f := newFixture(t, ResetSession)
	if _, err := f.svc.GetSnapshot(context.Background(), f.clinic.ClinicID, "ghost"); !errors.Is(err, store.ErrDoctorNotFound) {
		t.Fatalf("expected doctor not found, got %v", err)
	}
}

func TestPatientStatusPosition(t *testing.T) {
	f := newFixture(t, ResetSession)
	ctx := context.Background()
	tickets := f.bookMany(t, 3)
	f.advance(t, ActionNext, 0)

	status, err := f.svc.PatientStatus(ctx, tickets[2].PatientID)
	if err != nil {
		t.Fatalf("patient status: %v", err)
	}
	if status.QueueNumber != 3 || status.CurrentServing != 1 || status.Position != 2 || status.EstimatedWait != 20 {
		t.Fatalf("unexpected status %+v", status)
	}

	if _, err := f.svc.PatientStatus(ctx, tickets[0].PatientID); !errors.Is(err, store.ErrTicketNotFound) {
		t.Fatalf("expected served patient to have no active ticket, got %v", err)
	}

	history, err := f.svc.PatientHistory(ctx, tickets[0].PatientID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Status != models.StatusServed {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestClinicAnalyticsCounts(t *testing.T) {
	f := newFixture(t, ResetSession)
	tickets := f.bookMany(t, 4)
	f.advance(t, ActionSpecific, 2)
	if _, err := f.svc.CancelTicket(context.Background(), CancelInput{TicketID: tickets[3].TicketID, ClinicID: f.clinic.ClinicID}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	analytics, err := f.svc.ClinicAnalytics(context.Background(), f.clinic.ClinicID)
	if err != nil {
		t.Fatalf("analytics: %v", err)
	}
	want := map[string]int{
		models.StatusWaiting:   1,
		models.StatusServed:    1,
		models.StatusMissed:    1,
		models.StatusCancelled: 1,
	}
	if !reflect.DeepEqual(analytics.Counts, want) {
		t.Fatalf("expected %v, got %v", want, analytics.Counts)
	}
}

func TestSweepClosesAndExpires(t *testing.T) {
	f := newFixture(t, ResetDaily)
	ctx := context.Background()
	stale := f.bookMany(t, 1)

	f.clock.Set(time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC))
	report, err := f.svc.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Closed != 0 || report.Expired != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if got := f.status(t, stale[0].TicketID); got != models.StatusCancelled {
		t.Fatalf("expected stale ticket cancelled, got %s", got)
	}
	if ticket := f.book(t, f.patient(t)); ticket.Number != 1 {
		t.Fatalf("expected daily numbering to restart, got %d", ticket.Number)
	}

	f.clock.Set(time.Date(2026, 3, 3, 19, 0, 0, 0, time.UTC))
	report, err = f.svc.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Closed != 1 {
		t.Fatalf("expected the clinic to be closed, got %+v", report)
	}
	clinic, err := f.store.GetClinic(ctx, f.clinic.ClinicID)
	if err != nil {
		t.Fatalf("get clinic: %v", err)
	}
	if clinic.IsOpen {
		t.Fatalf("expected clinic closed")
	}
}
