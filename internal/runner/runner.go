// Package runner implements the lifecycle state machine for a single
// supervised worker subprocess: model-switch semantics, readiness probing,
// tree-kill on shutdown, and per-session log rotation (SPEC_FULL.md §4.2).
package runner

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/flexllama/flexllama/internal/gwconfig"
	"github.com/flexllama/flexllama/internal/runner/procgroup"
	"github.com/flexllama/flexllama/pkg/tailbuffer"
)

// These are vars, not consts, so tests can shrink them to keep the suite
// fast without changing the production defaults.
var (
	// postSpawnSettleDelay is how long Start waits before checking whether
	// the child already exited (SPEC_FULL.md §4.2 step 7).
	postSpawnSettleDelay = 2 * time.Second
	// readinessAttempts and readinessInterval bound the TCP-connect
	// readiness probe (step 8).
	readinessAttempts   = 30
	readinessInterval   = 1 * time.Second
	readinessDialTimeout = 1 * time.Second
	// postStopSettleDelay is the deliberate pause after reaping the process,
	// to let GPU memory release before another runner tries to claim it.
	postStopSettleDelay = 500 * time.Millisecond
)

// tailBufferSize bounds how much of a runner's own output is retained for
// inclusion in a failed-start diagnostic message.
const tailBufferSize = 1024

// Runner owns the lifecycle of one worker subprocess on behalf of one
// RunnerConfig. It is safe for concurrent use: StartWithModel calls coalesce
// behind a one-shot cooperative latch (SPEC_FULL.md §4.2/§9) and reads of
// current state take a lock-protected snapshot.
type Runner struct {
	log    *logrus.Entry
	cfg    *gwconfig.RunnerConfig
	models []*gwconfig.ModelConfig
	logDir string

	mu           sync.Mutex
	currentModel *gwconfig.ModelConfig
	proc         *procgroup.Group
	logFile      *os.File

	startMu    sync.Mutex
	isStarting bool
	startDone  chan struct{}
}

// New creates a Runner for cfg, serving the given models (in declaration
// order; the first is the one auto-start uses).
func New(log *logrus.Entry, cfg *gwconfig.RunnerConfig, models []*gwconfig.ModelConfig, logDir string) *Runner {
	return &Runner{
		log:    log.WithField("runner", cfg.Name),
		cfg:    cfg,
		models: models,
		logDir: logDir,
	}
}

// Name returns the runner's configured name.
func (r *Runner) Name() string {
	return r.cfg.Name
}

// Config returns the runner's immutable configuration.
func (r *Runner) Config() *gwconfig.RunnerConfig {
	return r.cfg
}

// Models returns the models assigned to this runner, in declaration order.
func (r *Runner) Models() []*gwconfig.ModelConfig {
	return r.models
}

// CurrentModel returns the alias currently loaded, if any.
func (r *Runner) CurrentModel() (alias string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.currentModel == nil {
		return "", false
	}
	return r.currentModel.Alias, true
}

// IsModelLoaded reports whether alias is the currently loaded model.
func (r *Runner) IsModelLoaded(alias string) bool {
	loaded, ok := r.CurrentModel()
	return ok && loaded == alias
}

// IsRunning polls the subprocess; on observing that it has exited, it
// self-cleans (clears current_model, closes the log) before returning false.
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	proc := r.proc
	r.mu.Unlock()
	if proc == nil {
		return false
	}
	if exited, _ := proc.Exited(); !exited {
		return true
	}
	r.cleanupAfterExit(proc)
	return false
}

func (r *Runner) cleanupAfterExit(expected *procgroup.Group) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.proc != expected {
		return // already cleaned up (or replaced) by a concurrent caller
	}
	if r.logFile != nil {
		_ = r.logFile.Close()
		r.logFile = nil
	}
	r.proc = nil
	r.currentModel = nil
}

func (r *Runner) modelByAlias(alias string) (*gwconfig.ModelConfig, bool) {
	for _, m := range r.models {
		if m.Alias == alias {
			return m, true
		}
	}
	return nil, false
}

// beginStart acquires the one-shot cooperative start latch. If the caller
// becomes the starter, isStarter is true and the caller must call endStart
// when done. Otherwise, wait is a channel that closes when the in-flight
// start completes.
func (r *Runner) beginStart() (isStarter bool, wait <-chan struct{}) {
	r.startMu.Lock()
	defer r.startMu.Unlock()
	if r.isStarting {
		return false, r.startDone
	}
	r.isStarting = true
	r.startDone = make(chan struct{})
	return true, nil
}

func (r *Runner) endStart() {
	r.startMu.Lock()
	done := r.startDone
	r.isStarting = false
	r.startDone = nil
	r.startMu.Unlock()
	close(done)
}

// StartWithModel ensures the runner is live holding the model identified by
// alias, per the start algorithm in SPEC_FULL.md §4.2.
func (r *Runner) StartWithModel(ctx context.Context, alias string) (bool, error) {
	model, ok := r.modelByAlias(alias)
	if !ok {
		return false, fmt.Errorf("%w: %q on runner %q", ErrUnknownAlias, alias, r.cfg.Name)
	}

	isStarter, wait := r.beginStart()
	if !isStarter {
		select {
		case <-wait:
		case <-ctx.Done():
			return false, ctx.Err()
		}
		return r.IsRunning(), nil
	}
	defer r.endStart()

	if r.IsModelLoaded(alias) {
		return true, nil
	}
	if r.IsRunning() {
		r.stopLocked()
	}
	return r.doStart(ctx, model)
}

func (r *Runner) doStart(ctx context.Context, model *gwconfig.ModelConfig) (bool, error) {
	logPath := filepath.Join(r.logDir, r.cfg.Name+".log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		r.log.Errorf("unable to open log file %s: %v", logPath, err)
		return false, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}
	fmt.Fprintf(logFile, "=== Starting with model %s at %s ===\n", model.Alias, time.Now().UTC().Format(time.RFC3339))

	tail := tailbuffer.NewTailBuffer(tailBufferSize)
	out := io.MultiWriter(logFile, tail)

	args := buildArgs(r.log, r.cfg, model)
	env := buildEnv(r.log, r.cfg, model)

	proc, err := procgroup.Start(ctx, r.cfg.Executable, args, env, out, out)
	if err != nil {
		logFile.Close()
		r.log.Errorf("failed to spawn runner process: %v", err)
		return false, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	r.mu.Lock()
	r.proc = proc
	r.logFile = logFile
	r.mu.Unlock()

	select {
	case <-time.After(postSpawnSettleDelay):
	case <-proc.Done():
		tailText := drainTail(tail)
		r.cleanupAfterExit(proc)
		r.log.Errorf("runner process exited before settling (exit: %v): %s", proc.Err(), tailText)
		return false, fmt.Errorf("%w: %v: %s", ErrExitedBeforeReady, proc.Err(), tailText)
	}

	if exited, exitErr := proc.Exited(); exited {
		tailText := drainTail(tail)
		r.cleanupAfterExit(proc)
		r.log.Errorf("runner process exited before settling (exit: %v): %s", exitErr, tailText)
		return false, fmt.Errorf("%w: %v: %s", ErrExitedBeforeReady, exitErr, tailText)
	}

	if err := r.waitForReadiness(ctx, proc); err != nil {
		tailText := drainTail(tail)
		r.log.Errorf("runner did not become ready: %v: %s", err, tailText)
		r.stopLocked()
		return false, err
	}

	r.mu.Lock()
	r.currentModel = model
	r.mu.Unlock()
	r.log.Infof("runner ready with model %s", model.Alias)
	return true, nil
}

func (r *Runner) waitForReadiness(ctx context.Context, proc *procgroup.Group) error {
	addr := net.JoinHostPort(r.cfg.Host, fmt.Sprintf("%d", r.cfg.Port))
	for i := 0; i < readinessAttempts; i++ {
		select {
		case <-proc.Done():
			return fmt.Errorf("%w: %v", ErrExitedBeforeReady, proc.Err())
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		conn, err := net.DialTimeout("tcp", addr, readinessDialTimeout)
		if err == nil {
			conn.Close()
			return nil
		}

		select {
		case <-time.After(readinessInterval):
		case <-proc.Done():
			return fmt.Errorf("%w: %v", ErrExitedBeforeReady, proc.Err())
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ErrReadinessTimeout
}

func drainTail(tail io.Reader) string {
	buf := make([]byte, tailBufferSize)
	n, _ := tail.Read(buf)
	return string(buf[:n])
}

// Stop terminates the subprocess and its descendants, closes the per-runner
// log, and clears current_model. It is idempotent.
func (r *Runner) Stop() bool {
	r.mu.Lock()
	proc := r.proc
	r.mu.Unlock()
	if proc == nil {
		return true
	}
	r.stopLocked()
	return true
}

func (r *Runner) stopLocked() {
	r.mu.Lock()
	proc := r.proc
	logFile := r.logFile
	r.mu.Unlock()
	if proc == nil {
		return
	}

	proc.Stop()
	time.Sleep(postStopSettleDelay)

	r.mu.Lock()
	if logFile != nil {
		_ = logFile.Close()
	}
	r.proc = nil
	r.logFile = nil
	r.currentModel = nil
	r.mu.Unlock()
}
