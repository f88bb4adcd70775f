package manager

// HealthStatus classifies the result of a single upstream health probe, per
// the one shared classification table used by both the retry loop and the
// public /health endpoint.
type HealthStatus string

const (
	StatusOK         HealthStatus = "ok"
	StatusLoading    HealthStatus = "loading"
	StatusError      HealthStatus = "error"
	StatusNotRunning HealthStatus = "not_running"
	StatusNotLoaded  HealthStatus = "not_loaded"
)

// HealthResult is the outcome of classifying one health observation.
type HealthResult struct {
	Status  HealthStatus `json:"status"`
	Message string       `json:"message"`
}

// RunnerStatus is a point-in-time snapshot of one runner, as returned by
// GetRunnerStatus and /v1/runners/status.
type RunnerStatus struct {
	IsRunning       bool     `json:"is_running"`
	CurrentModel    string   `json:"current_model,omitempty"`
	AvailableModels []string `json:"available_models"`
	Host            string   `json:"host"`
	Port            int      `json:"port"`
}
