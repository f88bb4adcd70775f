package controlplane

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/flexllama/flexllama/internal/gwconfig"
	"github.com/flexllama/flexllama/internal/manager"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l.WithField("component", "test")
}

// noRunnerConfig builds a schema-valid config with a single runner/model
// pair whose process exits after one second, before the readiness check, so
// Run's auto-start attempt fails and leaves no runner running; it serves
// tests that only exercise Run's listener/shutdown plumbing.
func noRunnerConfig(t *testing.T) *gwconfig.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"api": {"host": "127.0.0.1", "port": 0},
		"models": [{"model": "/models/a.gguf", "alias": "a", "runner": "r1"}],
		"r1": {"path": "sh -c \"sleep 1\"", "host": "127.0.0.1", "port": 39123}
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := gwconfig.Load(testLogger(), path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestRunReturnsConfigErrorOnBindFailure(t *testing.T) {
	cfg := noRunnerConfig(t)
	mgr := manager.New(testLogger(), cfg, t.TempDir())
	t.Cleanup(mgr.StopAllRunners)

	blocker, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	defer blocker.Close()
	addr := blocker.Addr().String()

	srv := &http.Server{Handler: http.NewServeMux()}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	code := Run(ctx, testLogger(), cfg, mgr, srv, addr)
	if code != ExitConfigError {
		t.Fatalf("expected ExitConfigError, got %d", code)
	}
}

func TestRunShutsDownCleanlyOnContextCancel(t *testing.T) {
	cfg := noRunnerConfig(t)
	mgr := manager.New(testLogger(), cfg, t.TempDir())
	t.Cleanup(mgr.StopAllRunners)

	addr := "127.0.0.1:" + strconv.Itoa(freePort(t))
	srv := &http.Server{Handler: http.NewServeMux()}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() {
		done <- Run(ctx, testLogger(), cfg, mgr, srv, addr)
	}()

	// Give the server a moment to start listening before requesting shutdown.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case code := <-done:
		if code != ExitOK {
			t.Fatalf("expected ExitOK, got %d", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

type failingServer struct {
	serveErr error
}

func (f *failingServer) Serve(ln net.Listener) error {
	ln.Close()
	return f.serveErr
}

func (f *failingServer) Shutdown(ctx context.Context) error { return nil }

func TestRunReturnsConfigErrorOnServeFailure(t *testing.T) {
	cfg := noRunnerConfig(t)
	mgr := manager.New(testLogger(), cfg, t.TempDir())
	t.Cleanup(mgr.StopAllRunners)

	addr := "127.0.0.1:" + strconv.Itoa(freePort(t))
	srv := &failingServer{serveErr: errors.New("boom")}

	ctx := context.Background()
	code := Run(ctx, testLogger(), cfg, mgr, srv, addr)
	if code != ExitConfigError {
		t.Fatalf("expected ExitConfigError, got %d", code)
	}
}
