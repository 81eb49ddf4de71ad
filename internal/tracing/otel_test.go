package tracing

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/huddleclaw/internal/config"
)

func TestSetupDisabledIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{}, "test")
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestSetupRequiresEndpoint(t *testing.T) {
	if _, err := Setup(context.Background(), config.TelemetryConfig{Enabled: true}, "test"); err == nil {
		t.Error("expected an error without an endpoint")
	}
}

func TestProtocolOf(t *testing.T) {
	tests := map[string]string{"": "grpc", "grpc": "grpc", "HTTP": "http", "http": "http"}
	for in, want := range tests {
		if got := protocolOf(config.TelemetryConfig{Protocol: in}); got != want {
			t.Errorf("protocolOf(%q) = %q, want %q", in, got, want)
		}
	}
}
