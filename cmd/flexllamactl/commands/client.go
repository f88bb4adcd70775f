package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// client talks to a running flexllamad's control-plane HTTP surface.
type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string) *client {
	return &client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type runnerStatus struct {
	IsRunning       bool     `json:"is_running"`
	CurrentModel    string   `json:"current_model,omitempty"`
	AvailableModels []string `json:"available_models"`
	Host            string   `json:"host"`
	Port            int      `json:"port"`
}

type healthResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type healthResponse struct {
	ActiveRunners       int                     `json:"active_runners"`
	RunnerCurrentModels map[string]string       `json:"runner_current_models"`
	RunnerInfo          map[string]runnerStatus `json:"runner_info"`
	ModelHealth         map[string]healthResult `json:"model_health"`
}

func (c *client) runnerStatus(ctx context.Context) (map[string]runnerStatus, error) {
	var out map[string]runnerStatus
	if err := c.getJSON(ctx, "/v1/runners/status", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) health(ctx context.Context) (healthResponse, error) {
	var out healthResponse
	if err := c.getJSON(ctx, "/health", &out); err != nil {
		return healthResponse{}, err
	}
	return out, nil
}

func (c *client) startRunner(ctx context.Context, name string) error {
	return c.postAction(ctx, fmt.Sprintf("/v1/runners/%s/start", name))
}

func (c *client) stopRunner(ctx context.Context, name string) error {
	return c.postAction(ctx, fmt.Sprintf("/v1/runners/%s/stop", name))
}

func (c *client) restartRunner(ctx context.Context, name string) error {
	return c.postAction(ctx, fmt.Sprintf("/v1/runners/%s/restart", name))
}

func (c *client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("unable to reach gateway at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(body))
	}
	return json.Unmarshal(body, out)
}

func (c *client) postAction(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("unable to reach gateway at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
