package commands

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRunnerStatusDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/runners/status" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]runnerStatus{
			"r1": {IsRunning: true, CurrentModel: "a", AvailableModels: []string{"a", "b"}, Host: "127.0.0.1", Port: 9000},
		})
	}))
	defer srv.Close()

	cl := newClient(srv.URL)
	status, err := cl.runnerStatus(context.Background())
	if err != nil {
		t.Fatalf("runnerStatus failed: %v", err)
	}
	r1, ok := status["r1"]
	if !ok || !r1.IsRunning || r1.CurrentModel != "a" {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestStartRunnerPropagatesGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"boom"}}`))
	}))
	defer srv.Close()

	cl := newClient(srv.URL)
	err := cl.startRunner(context.Background(), "r1")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestHealthDecodesAggregatePayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(healthResponse{
			ActiveRunners: 1,
			ModelHealth: map[string]healthResult{
				"a": {Status: "ok"},
			},
		})
	}))
	defer srv.Close()

	cl := newClient(srv.URL)
	health, err := cl.health(context.Background())
	if err != nil {
		t.Fatalf("health failed: %v", err)
	}
	if health.ActiveRunners != 1 || health.ModelHealth["a"].Status != "ok" {
		t.Fatalf("unexpected health: %+v", health)
	}
}
