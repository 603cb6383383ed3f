package telemetry

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func TestSetupDisabledIsNoop(t *testing.T) {
	shutdown := Setup(context.Background(), Options{ServiceName: "clinicq"}, zerolog.Nop())
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("expected no-op shutdown, got %v", err)
	}

	shutdown = Setup(context.Background(), Options{ServiceName: "clinicq", Enabled: true}, zerolog.Nop())
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("expected no-op shutdown without endpoint, got %v", err)
	}
}
