package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/flexllama/flexllama/internal/gwconfig"
)

// pollInterval and readyBudget bound the "wait for upstream /health to
// return 200" half of a readiness attempt, separate from the single
// classified probe that follows it.
const (
	pollInterval    = 500 * time.Millisecond
	readyBudget     = 30 * time.Second
	pollDialTimeout = 2 * time.Second
)

type upstreamErrorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func runnerHealthURL(cfg *gwconfig.RunnerConfig) string {
	return fmt.Sprintf("http://%s/health", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
}

// classifyHealth applies the shared classification table: it first checks
// the locally-known runner state (no owner / not running / wrong model
// loaded) before ever making a network call, then probes the upstream
// /health endpoint with the given timeout.
func (m *Manager) classifyHealth(ctx context.Context, alias string, timeout time.Duration) HealthResult {
	runnerName, ok := m.cfg.RunnerName(alias)
	if !ok {
		return HealthResult{StatusError, "No runner available"}
	}
	r := m.runners[runnerName]
	if r == nil {
		return HealthResult{StatusError, "No runner available"}
	}
	if !r.IsRunning() {
		return HealthResult{StatusNotRunning, "Runner not running"}
	}
	if !r.IsModelLoaded(alias) {
		return HealthResult{StatusNotLoaded, "Model not loaded in runner"}
	}
	return m.probeUpstream(ctx, r.Config(), timeout)
}

func (m *Manager) probeUpstream(ctx context.Context, cfg *gwconfig.RunnerConfig, timeout time.Duration) HealthResult {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, runnerHealthURL(cfg), nil)
	if err != nil {
		return HealthResult{StatusError, fmt.Sprintf("Connection error: %v", err)}
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return HealthResult{StatusError, "Health check timeout"}
		}
		return HealthResult{StatusError, fmt.Sprintf("Connection error: %v", err)}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	switch {
	case resp.StatusCode == http.StatusOK:
		return HealthResult{StatusOK, "Ready"}
	case resp.StatusCode == http.StatusServiceUnavailable:
		msg := extractErrorMessage(body)
		if strings.Contains(strings.ToLower(string(body)), "loading") {
			if msg == "" {
				msg = "Model is still loading"
			}
			return HealthResult{StatusLoading, msg}
		}
		return HealthResult{StatusError, msg}
	default:
		text := string(body)
		if len(text) > 100 {
			text = text[:100]
		}
		return HealthResult{StatusError, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, text)}
	}
}

func extractErrorMessage(body []byte) string {
	var parsed upstreamErrorBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	return parsed.Error.Message
}

// waitForHealthy polls the upstream /health endpoint every pollInterval
// until it returns 200, the budget elapses, or ctx is cancelled. It never
// returns an error: its only effect is to shorten the wait before the
// caller's final classified probe.
func (m *Manager) waitForHealthy(ctx context.Context, cfg *gwconfig.RunnerConfig, budget time.Duration) {
	deadline := time.Now().Add(budget)
	for time.Now().Before(deadline) {
		reqCtx, cancel := context.WithTimeout(ctx, pollDialTimeout)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, runnerHealthURL(cfg), nil)
		if err == nil {
			if resp, err := m.httpClient.Do(req); err == nil {
				resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					cancel()
					return
				}
			}
		}
		cancel()

		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return
		}
	}
}

// ensureReadyAttempt performs a single readiness attempt: start the owning
// runner with alias if it isn't already serving it, wait for the upstream to
// report healthy, then take one final classified reading.
func (m *Manager) ensureReadyAttempt(ctx context.Context, alias string) HealthResult {
	runnerName, ok := m.cfg.RunnerName(alias)
	if !ok {
		return HealthResult{StatusError, "No runner available"}
	}
	r := m.runners[runnerName]
	if r == nil {
		return HealthResult{StatusError, "No runner available"}
	}

	if !r.IsRunning() || !r.IsModelLoaded(alias) {
		if _, err := r.StartWithModel(ctx, alias); err != nil {
			m.log.WithField("alias", alias).Warnf("start attempt during readiness check failed: %v", err)
		}
	}

	m.waitForHealthy(ctx, r.Config(), readyBudget)
	return m.classifyHealth(ctx, alias, 5*time.Second)
}

// CheckModelHealth performs a single, non-mutating classified health probe
// against alias's current state, with the given timeout. It is used both by
// the public /health endpoint (3 s budget) and ad hoc status checks.
func (m *Manager) CheckModelHealth(ctx context.Context, alias string, timeout time.Duration) HealthResult {
	return m.classifyHealth(ctx, alias, timeout)
}
