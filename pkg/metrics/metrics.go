// Package metrics exposes the gateway's own Prometheus exposition-format
// /metrics endpoint, built directly from in-process Manager state rather
// than fetched over the network.
package metrics

import (
	"net/http"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// StatusSource is the subset of *manager.Manager the handler needs.
type StatusSource interface {
	GetRunnerStatus() map[string]RunnerStatus
	RetryCount() int64
}

// RunnerStatus mirrors manager.RunnerStatus's fields the handler reads, kept
// as its own type so this package doesn't import manager (avoiding an
// import cycle risk and keeping the handler independently testable).
type RunnerStatus struct {
	IsRunning bool
}

// Handler serves the aggregated /metrics endpoint.
type Handler struct {
	source StatusSource
}

// NewHandler builds a metrics Handler over source.
func NewHandler(source StatusSource) *Handler {
	return &Handler{source: source}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	families := h.collect()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	encoder := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range families {
		if err := encoder.Encode(family); err != nil {
			return
		}
	}
}

func (h *Handler) collect() []*dto.MetricFamily {
	status := h.source.GetRunnerStatus()

	names := make([]string, 0, len(status))
	for name := range status {
		names = append(names, name)
	}

	upFamily := &dto.MetricFamily{
		Name: strPtr("flexllama_runner_up"),
		Help: strPtr("1 if the runner process is currently running, 0 otherwise."),
		Type: typePtr(dto.MetricType_GAUGE),
	}
	startingFamily := &dto.MetricFamily{
		Name: strPtr("flexllama_runner_starting"),
		Help: strPtr("Always 0: the status source does not report start-in-progress state."),
		Type: typePtr(dto.MetricType_GAUGE),
	}

	for _, name := range names {
		s := status[name]
		label := []*dto.LabelPair{{Name: strPtr("runner"), Value: strPtr(name)}}

		upValue := 0.0
		if s.IsRunning {
			upValue = 1.0
		}
		upFamily.Metric = append(upFamily.Metric, &dto.Metric{
			Label: label,
			Gauge: &dto.Gauge{Value: floatPtr(upValue)},
		})

		startingFamily.Metric = append(startingFamily.Metric, &dto.Metric{
			Label: label,
			Gauge: &dto.Gauge{Value: floatPtr(0)},
		})
	}

	retryFamily := &dto.MetricFamily{
		Name: strPtr("flexllama_ensure_ready_retries_total"),
		Help: strPtr("Cumulative count of ensure-ready retry attempts, across all models."),
		Type: typePtr(dto.MetricType_COUNTER),
		Metric: []*dto.Metric{{
			Counter: &dto.Counter{Value: floatPtr(float64(h.source.RetryCount()))},
		}},
	}

	return []*dto.MetricFamily{upFamily, startingFamily, retryFamily}
}

func strPtr(s string) *string                { return &s }
func floatPtr(f float64) *float64            { return &f }
func typePtr(t dto.MetricType) *dto.MetricType { return &t }
