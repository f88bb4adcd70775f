// Package manager owns every Runner instance, the alias-to-runner index, and
// the ensure-ready-with-retry protocol that the HTTP dispatcher drives
// before forwarding any inference request.
package manager

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/flexllama/flexllama/internal/gwconfig"
	"github.com/flexllama/flexllama/internal/runner"
)

// forwardTimeout bounds a non-streaming forwarded inference request.
const forwardTimeout = 300 * time.Second

// Manager coordinates every configured runner.
type Manager struct {
	log        *logrus.Entry
	cfg        *gwconfig.Config
	runners    map[string]*runner.Runner
	httpClient *http.Client
	retryCount atomic.Int64
}

// New builds a Manager with one Runner per configured RunnerConfig, each
// holding its assigned ModelConfigs in declaration order.
func New(log *logrus.Entry, cfg *gwconfig.Config, logDir string) *Manager {
	runners := make(map[string]*runner.Runner, len(cfg.Runners))
	for name, rc := range cfg.Runners {
		aliases := cfg.AliasesForRunner(name)
		models := make([]*gwconfig.ModelConfig, 0, len(aliases))
		for _, alias := range aliases {
			models = append(models, cfg.Models[alias])
		}
		runners[name] = runner.New(log, rc, models, logDir)
	}
	return &Manager{
		log:     log.WithField("component", "manager"),
		cfg:     cfg,
		runners: runners,
		httpClient: &http.Client{
			// No blanket Timeout: every call site sets its own budget via
			// context.WithTimeout, since those budgets legitimately differ
			// (2 s per /health poll, 5 s final probe, 3 s dispatcher
			// health, 300 s forward).
		},
	}
}

// StartRunner starts name with its first-declared model, if it has one.
func (m *Manager) StartRunner(ctx context.Context, name string) error {
	r, ok := m.runners[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAlias, name)
	}
	models := r.Models()
	if len(models) == 0 {
		return nil
	}
	_, err := r.StartWithModel(ctx, models[0].Alias)
	return err
}

// StopRunner stops name.
func (m *Manager) StopRunner(name string) error {
	r, ok := m.runners[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAlias, name)
	}
	r.Stop()
	return nil
}

// StopAllRunners stops every runner, regardless of individual failures.
func (m *Manager) StopAllRunners() {
	var wg sync.WaitGroup
	for _, r := range m.runners {
		wg.Add(1)
		go func(r *runner.Runner) {
			defer wg.Done()
			r.Stop()
		}(r)
	}
	wg.Wait()
}

// RestartRunner stops name, waits briefly, then starts it again with its
// first-declared model.
func (m *Manager) RestartRunner(ctx context.Context, name string) error {
	if err := m.StopRunner(name); err != nil {
		return err
	}
	select {
	case <-time.After(1 * time.Second):
	case <-ctx.Done():
		return ctx.Err()
	}
	return m.StartRunner(ctx, name)
}

// StartRunnerForModel resolves alias to its owning runner and starts that
// runner holding it.
func (m *Manager) StartRunnerForModel(ctx context.Context, alias string) (bool, error) {
	runnerName, ok := m.cfg.RunnerName(alias)
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownAlias, alias)
	}
	r := m.runners[runnerName]
	return r.StartWithModel(ctx, alias)
}

// AutoStartDefaultRunners starts every runner that owns at least one model,
// when auto_start_runners is enabled. Individual failures do not abort
// peers; all of them are attempted and their errors aggregated.
func (m *Manager) AutoStartDefaultRunners(ctx context.Context) error {
	if !m.cfg.AutoStartRunners {
		return nil
	}

	names := make([]string, 0, len(m.runners))
	for name, r := range m.runners {
		if len(r.Models()) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var mu sync.Mutex
	var failures []error
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		name := name
		g.Go(func() error {
			if err := m.StartRunner(gctx, name); err != nil {
				mu.Lock()
				failures = append(failures, fmt.Errorf("runner %q: %w", name, err))
				mu.Unlock()
				m.log.Warnf("auto-start failed for runner %q: %v", name, err)
			}
			return nil // never abort peers
		})
	}
	_ = g.Wait()

	if len(failures) == 0 {
		return nil
	}
	return fmt.Errorf("auto-start failures: %w", errors.Join(failures...))
}

// EnsureModelReadyWithRetry implements the retry algorithm in SPEC_FULL.md
// §4.3: when retry_on_model_loading is disabled, a single readiness attempt
// decides the outcome; otherwise, failed attempts are retried up to
// max_retries times with exponential backoff capped at max_delay_seconds.
func (m *Manager) EnsureModelReadyWithRetry(ctx context.Context, alias string) (bool, string) {
	if !m.cfg.Retry.RetryOnModelLoading {
		res := m.ensureReadyAttempt(ctx, alias)
		return res.Status == StatusOK, res.Message
	}

	last := m.ensureReadyAttempt(ctx, alias)
	if last.Status == StatusOK {
		return true, last.Message
	}

	for i := 0; i < m.cfg.Retry.MaxRetries; i++ {
		delaySeconds := math.Min(m.cfg.Retry.BaseDelaySeconds*math.Pow(2, float64(i)), m.cfg.Retry.MaxDelaySeconds)
		select {
		case <-time.After(time.Duration(delaySeconds * float64(time.Second))):
		case <-ctx.Done():
			return false, ctx.Err().Error()
		}

		m.retryCount.Add(1)
		last = m.ensureReadyAttempt(ctx, alias)
		if last.Status == StatusOK {
			return true, last.Message
		}
	}
	return false, last.Message
}

// ForwardResult is the outcome of a buffered upstream forward.
type ForwardResult struct {
	StatusCode int
	Body       []byte
}

// ForwardRequest POSTs body to alias's owning runner at endpoint and returns
// the raw upstream status and body. It does not itself decode the body as
// JSON or shape an error envelope — that is the dispatcher's concern, since
// it owns the client-facing response format.
func (m *Manager) ForwardRequest(ctx context.Context, alias, endpoint string, body []byte) (ForwardResult, error) {
	runnerName, ok := m.cfg.RunnerName(alias)
	if !ok {
		return ForwardResult{}, fmt.Errorf("%w: %q", ErrUnknownAlias, alias)
	}
	r := m.runners[runnerName]
	cfg := r.Config()

	reqCtx, cancel := context.WithTimeout(ctx, forwardTimeout)
	defer cancel()

	url := fmt.Sprintf("http://%s%s", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)), endpoint)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return ForwardResult{}, fmt.Errorf("%w: %v", ErrForwardFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return ForwardResult{}, fmt.Errorf("%w: %v", ErrForwardFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return ForwardResult{}, fmt.Errorf("%w: %v", ErrForwardFailed, err)
	}
	return ForwardResult{StatusCode: resp.StatusCode, Body: respBody}, nil
}

// OpenUpstreamStream issues the streaming POST and returns the raw upstream
// response for the dispatcher to pipe through; the caller owns closing the
// response body.
func (m *Manager) OpenUpstreamStream(ctx context.Context, alias, endpoint string, body []byte) (*http.Response, error) {
	runnerName, ok := m.cfg.RunnerName(alias)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlias, alias)
	}
	r := m.runners[runnerName]
	cfg := r.Config()

	url := fmt.Sprintf("http://%s%s", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)), endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrForwardFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrForwardFailed, err)
	}
	return resp, nil
}

// IsModelLoaded reports whether alias's owning runner currently holds it.
func (m *Manager) IsModelLoaded(alias string) bool {
	runnerName, ok := m.cfg.RunnerName(alias)
	if !ok {
		return false
	}
	r := m.runners[runnerName]
	if r == nil {
		return false
	}
	return r.IsModelLoaded(alias)
}

// GetRunnerStatus returns a structured, per-runner snapshot.
func (m *Manager) GetRunnerStatus() map[string]RunnerStatus {
	out := make(map[string]RunnerStatus, len(m.runners))
	for name, r := range m.runners {
		aliases := make([]string, 0, len(r.Models()))
		for _, mc := range r.Models() {
			aliases = append(aliases, mc.Alias)
		}
		current, _ := r.CurrentModel()
		out[name] = RunnerStatus{
			IsRunning:       r.IsRunning(),
			CurrentModel:    current,
			AvailableModels: aliases,
			Host:            r.Config().Host,
			Port:            r.Config().Port,
		}
	}
	return out
}

// Config exposes the underlying validated configuration (read-only use by
// the dispatcher, e.g. for model listing and default-alias resolution).
func (m *Manager) Config() *gwconfig.Config {
	return m.cfg
}

// RetryCount returns the cumulative number of ensure-ready retry attempts
// (excluding each call's initial attempt) performed since the Manager was
// created. Exported for the metrics endpoint.
func (m *Manager) RetryCount() int64 {
	return m.retryCount.Load()
}
