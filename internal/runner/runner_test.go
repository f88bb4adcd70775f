package runner

import (
	"context"
	"errors"
	"io"
	"net"
	"runtime"
	"sync"
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

func shellRunnerConfig(name string, host string, port int, shellCmd string) *gwconfig.RunnerConfig {
	return &gwconfig.RunnerConfig{
		Name:        name,
		Executable:  "sh",
		InitialArgs: []string{"-c", shellCmd},
		Host:        host,
		Port:        port,
		InheritEnv:  false,
	}
}

func reservePort(t *testing.T) (host string, port int, release func()) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell-based fake runner requires a POSIX shell")
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve a port: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port, func() { ln.Close() }
}

func withShrunkTimings(t *testing.T, settle, interval, dial time.Duration, attempts int) {
	t.Helper()
	origSettle, origInterval, origDial, origAttempts := postSpawnSettleDelay, readinessInterval, readinessDialTimeout, readinessAttempts
	postSpawnSettleDelay, readinessInterval, readinessDialTimeout, readinessAttempts = settle, interval, dial, attempts
	t.Cleanup(func() {
		postSpawnSettleDelay, readinessInterval, readinessDialTimeout, readinessAttempts = origSettle, origInterval, origDial, origAttempts
	})
}

func TestStartWithModelUnknownAlias(t *testing.T) {
	r := New(testLogger(), shellRunnerConfig("r1", "127.0.0.1", 1, "true"), nil, t.TempDir())
	_, err := r.StartWithModel(context.Background(), "nope")
	if !errors.Is(err, ErrUnknownAlias) {
		t.Fatalf("expected ErrUnknownAlias, got %v", err)
	}
}

func TestStartWithModelSucceedsWhenPortAlreadyListening(t *testing.T) {
	withShrunkTimings(t, 50*time.Millisecond, 20*time.Millisecond, 200*time.Millisecond, 10)
	host, port, release := reservePort(t)
	defer release()

	model := &gwconfig.ModelConfig{Model: "/models/x.gguf", Alias: "m1"}
	r := New(testLogger(), shellRunnerConfig("r1", host, port, "sleep 5"), []*gwconfig.ModelConfig{model}, t.TempDir())

	ok, err := r.StartWithModel(context.Background(), "m1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected StartWithModel to report success")
	}
	if !r.IsModelLoaded("m1") {
		t.Fatal("expected m1 to be the loaded model")
	}
	if !r.IsRunning() {
		t.Fatal("expected runner to be running")
	}

	r.Stop()
	if r.IsRunning() {
		t.Fatal("expected runner to be stopped")
	}
	if _, ok := r.CurrentModel(); ok {
		t.Fatal("expected no current model after stop")
	}
}

func TestStartWithModelReturnsWhenAlreadyLoaded(t *testing.T) {
	withShrunkTimings(t, 50*time.Millisecond, 20*time.Millisecond, 200*time.Millisecond, 10)
	host, port, release := reservePort(t)
	defer release()

	model := &gwconfig.ModelConfig{Model: "/models/x.gguf", Alias: "m1"}
	r := New(testLogger(), shellRunnerConfig("r1", host, port, "sleep 5"), []*gwconfig.ModelConfig{model}, t.TempDir())

	if _, err := r.StartWithModel(context.Background(), "m1"); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	defer r.Stop()

	ok, err := r.StartWithModel(context.Background(), "m1")
	if err != nil || !ok {
		t.Fatalf("expected idempotent success, got ok=%v err=%v", ok, err)
	}
}

func TestStartWithModelExitsBeforeReady(t *testing.T) {
	withShrunkTimings(t, 50*time.Millisecond, 20*time.Millisecond, 200*time.Millisecond, 10)
	model := &gwconfig.ModelConfig{Model: "/models/x.gguf", Alias: "m1"}
	// No listener: the fake process exits immediately, so the post-spawn
	// settle check must catch it before the readiness loop even starts.
	r := New(testLogger(), shellRunnerConfig("r1", "127.0.0.1", 1, "exit 1"), []*gwconfig.ModelConfig{model}, t.TempDir())

	ok, err := r.StartWithModel(context.Background(), "m1")
	if ok {
		t.Fatal("expected failure")
	}
	if !errors.Is(err, ErrExitedBeforeReady) {
		t.Fatalf("expected ErrExitedBeforeReady, got %v", err)
	}
	if r.IsRunning() {
		t.Fatal("expected runner to be cleaned up after exit")
	}
}

func TestStartWithModelReadinessTimeout(t *testing.T) {
	withShrunkTimings(t, 10*time.Millisecond, 10*time.Millisecond, 50*time.Millisecond, 3)
	host, port, release := reservePort(t)
	release() // close immediately: nothing is listening on the port anymore
	model := &gwconfig.ModelConfig{Model: "/models/x.gguf", Alias: "m1"}
	r := New(testLogger(), shellRunnerConfig("r1", host, port, "sleep 5"), []*gwconfig.ModelConfig{model}, t.TempDir())

	ok, err := r.StartWithModel(context.Background(), "m1")
	if ok {
		t.Fatal("expected failure")
	}
	if !errors.Is(err, ErrReadinessTimeout) {
		t.Fatalf("expected ErrReadinessTimeout, got %v", err)
	}
	if r.IsRunning() {
		t.Fatal("expected the unready process to have been torn down")
	}
}

func TestStartWithModelConcurrentCallsCoalesce(t *testing.T) {
	withShrunkTimings(t, 50*time.Millisecond, 20*time.Millisecond, 200*time.Millisecond, 10)
	host, port, release := reservePort(t)
	defer release()

	model := &gwconfig.ModelConfig{Model: "/models/x.gguf", Alias: "m1"}
	r := New(testLogger(), shellRunnerConfig("r1", host, port, "sleep 5"), []*gwconfig.ModelConfig{model}, t.TempDir())
	defer r.Stop()

	var wg sync.WaitGroup
	results := make([]bool, 5)
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.StartWithModel(context.Background(), "m1")
		}(i)
	}
	wg.Wait()

	for i := range results {
		if errs[i] != nil {
			t.Fatalf("call %d returned error: %v", i, errs[i])
		}
		if !results[i] {
			t.Fatalf("call %d returned false", i)
		}
	}
	if !r.IsModelLoaded("m1") {
		t.Fatal("expected m1 loaded after concurrent starts settle")
	}
}

func TestStopOnNeverStartedRunnerIsNoop(t *testing.T) {
	r := New(testLogger(), shellRunnerConfig("r1", "127.0.0.1", 1, "true"), nil, t.TempDir())
	if !r.Stop() {
		t.Fatal("expected Stop on a never-started runner to report success")
	}
}
