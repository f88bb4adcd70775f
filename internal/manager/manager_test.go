package manager

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/flexllama/flexllama/internal/gwconfig"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l.WithField("component", "test")
}

func hostPort(t *testing.T, rawURL string) (string, string) {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("failed to parse test server URL: %v", err)
	}
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("failed to split host/port: %v", err)
	}
	return host, port
}

func writeConfigWithRunnerAt(t *testing.T, host, port string, retryExtra string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := fmt.Sprintf(`{
		"api": {"host": "127.0.0.1", "port": 8080},
		"models": [{"model": "/models/a.gguf", "alias": "a", "runner": "r1"}],
		%s
		"r1": {"path": "sh -c \"sleep 5\"", "host": %q, "port": %s}
	}`, retryExtra, host, port)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func mustLoad(t *testing.T, path string) *gwconfig.Config {
	t.Helper()
	cfg, err := gwconfig.Load(testLogger(), path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func skipIfNoShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake runner process requires a POSIX shell")
	}
}

func TestClassifyHealthNotRunningBeforeStart(t *testing.T) {
	skipIfNoShell(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	host, port := hostPort(t, srv.URL)

	cfg := mustLoad(t, writeConfigWithRunnerAt(t, host, port, ""))
	m := New(testLogger(), cfg, t.TempDir())

	res := m.CheckModelHealth(context.Background(), "a", 2*time.Second)
	if res.Status != StatusNotRunning {
		t.Fatalf("expected not_running, got %+v", res)
	}
}

func TestEnsureModelReadyWithRetrySucceedsImmediately(t *testing.T) {
	skipIfNoShell(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	host, port := hostPort(t, srv.URL)

	cfg := mustLoad(t, writeConfigWithRunnerAt(t, host, port, ""))
	m := New(testLogger(), cfg, t.TempDir())
	defer m.StopAllRunners()

	ok, msg := m.EnsureModelReadyWithRetry(context.Background(), "a")
	if !ok {
		t.Fatalf("expected success, got message %q", msg)
	}
	if !m.IsModelLoaded("a") {
		t.Fatal("expected alias a to be loaded")
	}
}

func TestEnsureModelReadyWithRetryClassifiesLoading(t *testing.T) {
	skipIfNoShell(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"error":{"message":"Loading model"}}`)
	}))
	defer srv.Close()
	host, port := hostPort(t, srv.URL)

	cfg := mustLoad(t, writeConfigWithRunnerAt(t, host, port,
		`"retry_config": {"max_retries": 1, "base_delay_seconds": 0.01, "max_delay_seconds": 0.01},`))
	m := New(testLogger(), cfg, t.TempDir())
	defer m.StopAllRunners()

	ok, msg := m.EnsureModelReadyWithRetry(context.Background(), "a")
	if ok {
		t.Fatal("expected failure since upstream never reports ready")
	}
	if msg != "Loading model" {
		t.Fatalf("expected upstream loading message, got %q", msg)
	}
}

func TestEnsureModelReadyWithRetryUnknownAlias(t *testing.T) {
	skipIfNoShell(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	host, port := hostPort(t, srv.URL)

	cfg := mustLoad(t, writeConfigWithRunnerAt(t, host, port, ""))
	m := New(testLogger(), cfg, t.TempDir())

	ok, msg := m.EnsureModelReadyWithRetry(context.Background(), "nope")
	if ok {
		t.Fatal("expected failure for unknown alias")
	}
	if msg != "No runner available" {
		t.Fatalf("expected 'No runner available', got %q", msg)
	}
}

func TestGetRunnerStatusReflectsLoadedModel(t *testing.T) {
	skipIfNoShell(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	host, port := hostPort(t, srv.URL)

	cfg := mustLoad(t, writeConfigWithRunnerAt(t, host, port, ""))
	m := New(testLogger(), cfg, t.TempDir())
	defer m.StopAllRunners()

	if _, err := m.StartRunnerForModel(context.Background(), "a"); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	status := m.GetRunnerStatus()
	r1, ok := status["r1"]
	if !ok {
		t.Fatal("expected r1 in status map")
	}
	if !r1.IsRunning || r1.CurrentModel != "a" {
		t.Fatalf("unexpected status: %+v", r1)
	}
}

func TestForwardRequestReturnsUpstreamBody(t *testing.T) {
	skipIfNoShell(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()
	host, port := hostPort(t, srv.URL)

	cfg := mustLoad(t, writeConfigWithRunnerAt(t, host, port, ""))
	m := New(testLogger(), cfg, t.TempDir())
	defer m.StopAllRunners()

	if _, err := m.StartRunnerForModel(context.Background(), "a"); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	result, err := m.ForwardRequest(context.Background(), "a", "/v1/chat/completions", []byte(`{}`))
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	if result.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", result.StatusCode)
	}
	if string(result.Body) != `{"ok":true}` {
		t.Fatalf("unexpected body: %s", result.Body)
	}
}

func TestAutoStartDefaultRunnersDisabled(t *testing.T) {
	skipIfNoShell(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"api": {"host": "127.0.0.1", "port": 8080},
		"auto_start_runners": false,
		"models": [{"model": "/models/a.gguf", "alias": "a", "runner": "r1"}],
		"r1": {"path": "sh -c \"sleep 5\"", "host": "127.0.0.1", "port": 9999}
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg := mustLoad(t, path)
	m := New(testLogger(), cfg, t.TempDir())
	defer m.StopAllRunners()

	if err := m.AutoStartDefaultRunners(context.Background()); err != nil {
		t.Fatalf("expected no error when disabled, got %v", err)
	}
	if m.GetRunnerStatus()["r1"].IsRunning {
		t.Fatal("expected no runner started when auto_start_runners is false")
	}
}
