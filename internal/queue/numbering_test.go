package queue

import (
	"testing"
	"time"

	"clinicq/internal/models"
)

func TestParseResetMode(t *testing.T) {
	cases := map[string]ResetMode{"": ResetSession, "session": ResetSession, " Daily ": ResetDaily}
	for in, want := range cases {
		got, err := ParseResetMode(in)
		if err != nil || got != want {
			t.Fatalf("%q: expected %s, got %s (%v)", in, want, got, err)
		}
	}
	if _, err := ParseResetMode("weekly"); err == nil {
		t.Fatalf("expected an error for an unknown policy")
	}
}

func TestSessionStart(t *testing.T) {
	opened := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	clinic := models.Clinic{LastStatusChange: opened}

	session := NumberingPolicy{Reset: ResetSession, Location: time.UTC}
	if got := session.SessionStart(clinic, now); !got.Equal(opened) {
		t.Fatalf("session policy: expected %s, got %s", opened, got)
	}
	daily := NumberingPolicy{Reset: ResetDaily, Location: time.UTC}
	midnight := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	if got := daily.SessionStart(clinic, now); !got.Equal(midnight) {
		t.Fatalf("daily policy: expected %s, got %s", midnight, got)
	}
}

func TestEstimateWait(t *testing.T) {
	cases := []struct {
		waiting, avg, want int
	}{
		{0, 10, 0},
		{3, 10, 30},
		{2, 0, 30},
		{-1, 10, 0},
	}
	for _, c := range cases {
		if got := EstimateWait(c.waiting, c.avg); got != c.want {
			t.Fatalf("EstimateWait(%d, %d) = %d, want %d", c.waiting, c.avg, got, c.want)
		}
	}
}
