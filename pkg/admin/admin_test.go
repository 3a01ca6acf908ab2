package admin

import (
	"context"
	"testing"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type fakeStatus struct{ n int }

func (f fakeStatus) Snapshot() map[string]interface{} {
	return map[string]interface{}{"participants": f.n}
}

func TestNewServerReportsServingByDefault(t *testing.T) {
	s := New(fakeStatus{n: 3})
	resp, err := s.health.Check(context.Background(), &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %v", resp.Status)
	}
}

func TestSetServingTogglesNamedService(t *testing.T) {
	s := New(fakeStatus{})
	s.SetServing("discovery", false)
	resp, err := s.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "discovery"})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING, got %v", resp.Status)
	}
}
