package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"clinicq/internal/broadcast"
	"clinicq/internal/models"
)

func TestSecondInstanceSeesCommittedCounter(t *testing.T) {
	f := newFixture(t, ResetSession)
	ctx := context.Background()
	tickets := f.bookMany(t, 3)

	replica := New(f.store, &broadcast.Recorder{}, nil, Options{
		Policy: NumberingPolicy{Reset: ResetSession, Location: time.UTC},
		Now:    f.clock.Now,
		Logger: zerolog.Nop(),
	})
	t.Cleanup(replica.Drain)

	before, err := replica.GetSnapshot(ctx, f.clinic.ClinicID, f.doctor.DoctorID)
	if err != nil {
		t.Fatalf("replica snapshot: %v", err)
	}
	if before.CurrentNumber != 0 {
		t.Fatalf("expected replica to start at 0, got %d", before.CurrentNumber)
	}

	f.advance(t, ActionNext, 0)
	f.advance(t, ActionNext, 0)

	after, err := replica.GetSnapshot(ctx, f.clinic.ClinicID, f.doctor.DoctorID)
	if err != nil {
		t.Fatalf("replica snapshot: %v", err)
	}
	if after.CurrentNumber != 2 || after.TotalWaiting != 1 {
		t.Fatalf("expected replica to see serving 2 with 1 waiting, got %+v", after)
	}
	status, err := replica.PatientStatus(ctx, tickets[2].PatientID)
	if err != nil {
		t.Fatalf("replica patient status: %v", err)
	}
	if status.CurrentServing != 2 || status.Position != 1 || status.EstimatedWait != 10 {
		t.Fatalf("unexpected replica status %+v", status)
	}
}

func currentNumbers(events []broadcast.Recorded) []int {
	numbers := make([]int, 0, len(events))
	for _, event := range events {
		if snap, ok := event.Payload.(models.Snapshot); ok {
			numbers = append(numbers, snap.CurrentNumber)
		}
	}
	return numbers
}

func TestSnapshotsArriveInLedgerOrder(t *testing.T) {
	f := newFixture(t, ResetSession)
	const n = 40
	f.bookMany(t, n)
	f.settle()

	for i := 0; i < n; i++ {
		f.advance(t, ActionNext, 0)
	}
	f.svc.Drain()

	numbers := currentNumbers(f.rec.OnChannel(broadcast.DoctorChannel(f.doctor.DoctorID)))
	if len(numbers) != n {
		t.Fatalf("expected %d doctor snapshots, got %d", n, len(numbers))
	}
	for i := 1; i < len(numbers); i++ {
		if numbers[i] < numbers[i-1] {
			t.Fatalf("snapshot %d went back from %d to %d", i, numbers[i-1], numbers[i])
		}
	}
	if last := numbers[len(numbers)-1]; last != n {
		t.Fatalf("expected last snapshot to show %d, got %d", n, last)
	}
}

func TestConcurrentWritersLeaveLatestSnapshotLast(t *testing.T) {
	f := newFixture(t, ResetSession)
	const n = 20
	f.bookMany(t, n)
	f.settle()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.AdvanceQueue(context.Background(), AdvanceInput{DoctorID: f.doctor.DoctorID, Action: ActionNext}); err != nil {
				t.Errorf("advance: %v", err)
			}
		}()
	}
	wg.Wait()
	f.svc.Drain()

	numbers := currentNumbers(f.rec.OnChannel(broadcast.PublicDoctorChannel(f.doctor.DoctorID)))
	for i := 1; i < len(numbers); i++ {
		if numbers[i] < numbers[i-1] {
			t.Fatalf("public snapshots out of order: %v", numbers)
		}
	}
	if len(numbers) == 0 || numbers[len(numbers)-1] != n {
		t.Fatalf("expected final public snapshot at %d, got %v", n, numbers)
	}
}
