package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type fakeSource struct {
	status  map[string]RunnerStatus
	retries int64
}

func (f *fakeSource) GetRunnerStatus() map[string]RunnerStatus { return f.status }
func (f *fakeSource) RetryCount() int64                        { return f.retries }

func TestHandlerEncodesRunnerGaugesAndRetryCounter(t *testing.T) {
	source := &fakeSource{
		status: map[string]RunnerStatus{
			"r1": {IsRunning: true},
			"r2": {IsRunning: false},
		},
		retries: 3,
	}
	h := NewHandler(source)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "flexllama_runner_up") {
		t.Fatalf("expected flexllama_runner_up in output, got: %s", body)
	}
	if !strings.Contains(body, "flexllama_ensure_ready_retries_total") {
		t.Fatalf("expected retry counter in output, got: %s", body)
	}
	if !strings.Contains(body, `runner="r1"`) {
		t.Fatalf("expected runner label r1, got: %s", body)
	}
}

func TestHandlerRejectsNonGet(t *testing.T) {
	h := NewHandler(&fakeSource{status: map[string]RunnerStatus{}})
	req := httptest.NewRequest(http.MethodPost, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
