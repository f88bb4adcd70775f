// Package dispatcher implements the gateway's OpenAI-compatible HTTP front
// end: model resolution, pre-flight readiness, and byte-transparent
// reverse-proxying (buffered and streaming) to the runner owning the
// requested model.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/flexllama/flexllama/internal/manager"
	"github.com/flexllama/flexllama/pkg/middleware"
	"github.com/flexllama/flexllama/pkg/routing"
)

// maxBodyBytes caps inbound request bodies (image-bearing chat requests).
const maxBodyBytes = 10 * 1024 * 1024

// streamChunkSize is the pump size for the streaming reverse-proxy path.
const streamChunkSize = 8 * 1024

// healthCheckTimeout bounds each per-model probe performed by the aggregate
// /health endpoint.
const healthCheckTimeout = 3 * time.Second

// Dispatcher builds the gateway's HTTP surface on top of a Manager.
type Dispatcher struct {
	log        *logrus.Entry
	mgr        *manager.Manager
	healthPath string
}

// New builds a Dispatcher. healthPath is the gateway's own aggregate health
// endpoint path (configurable; defaults to "/health" if empty).
func New(log *logrus.Entry, mgr *manager.Manager, healthPath string) *Dispatcher {
	if healthPath == "" {
		healthPath = "/health"
	}
	return &Dispatcher{
		log:        log.WithField("component", "dispatcher"),
		mgr:        mgr,
		healthPath: healthPath,
	}
}

// Handler returns the fully wired HTTP handler: routes, CORS, and the
// request-size cap.
func (d *Dispatcher) Handler() http.Handler {
	mux := routing.NewNormalizedServeMux()

	mux.HandleFunc("GET /v1/models", d.handleListModels)
	mux.HandleFunc("POST /v1/chat/completions", d.forwardHandler("/v1/chat/completions"))
	mux.HandleFunc("POST /v1/completions", d.forwardHandler("/v1/completions"))
	mux.HandleFunc("POST /v1/embeddings", d.forwardHandler("/v1/embeddings"))
	mux.HandleFunc("POST /v1/rerank", d.forwardHandler("/v1/rerank"))
	mux.HandleFunc("GET "+d.healthPath, d.handleHealth)
	mux.HandleFunc("GET /v1/runners/status", d.handleRunnerStatus)
	mux.HandleFunc("POST /v1/runners/{name}/start", d.handleRunnerStart)
	mux.HandleFunc("POST /v1/runners/{name}/stop", d.handleRunnerStop)
	mux.HandleFunc("POST /v1/runners/{name}/restart", d.handleRunnerRestart)

	return middleware.CorsMiddleware(maxBodyMiddleware(mux))
}

func maxBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

type modelObject struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

func (d *Dispatcher) handleListModels(w http.ResponseWriter, r *http.Request) {
	aliases := d.mgr.Config().AllAliases()
	now := time.Now().Unix()
	data := make([]modelObject, len(aliases))
	for i, alias := range aliases {
		data[i] = modelObject{ID: alias, Object: "model", Created: now, OwnedBy: "user"}
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": data})
}

func (d *Dispatcher) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := d.mgr.GetRunnerStatus()
	active := 0
	currentModels := make(map[string]string, len(status))
	for name, s := range status {
		if s.IsRunning {
			active++
		}
		currentModels[name] = s.CurrentModel
	}

	aliases := d.mgr.Config().AllAliases()
	modelHealth := make(map[string]manager.HealthResult, len(aliases))
	for _, alias := range aliases {
		modelHealth[alias] = d.mgr.CheckModelHealth(r.Context(), alias, healthCheckTimeout)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"active_runners":        active,
		"runner_current_models": currentModels,
		"runner_info":           status,
		"model_health":          modelHealth,
	})
}

func (d *Dispatcher) handleRunnerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, d.mgr.GetRunnerStatus())
}

func (d *Dispatcher) handleRunnerStart(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := d.mgr.StartRunner(r.Context(), name); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "spawn")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (d *Dispatcher) handleRunnerStop(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := d.mgr.StopRunner(name); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "spawn")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (d *Dispatcher) handleRunnerRestart(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := d.mgr.RestartRunner(r.Context(), name); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "spawn")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type inboundEnvelope struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

// forwardHandler builds the pre-flight-then-forward handler for one
// OpenAI-compatible endpoint path.
func (d *Dispatcher) forwardHandler(endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read request body: %v", err), "bad_input")
			return
		}

		var envelope inboundEnvelope
		if len(body) > 0 {
			if err := json.Unmarshal(body, &envelope); err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err), "bad_input")
				return
			}
		}

		alias := envelope.Model
		if alias == "" {
			aliases := d.mgr.Config().AllAliases()
			if len(aliases) == 0 {
				writeError(w, http.StatusBadRequest, "no model specified and no default model configured", "bad_input")
				return
			}
			alias = aliases[0]
		}

		if _, ok := d.mgr.Config().RunnerName(alias); !ok {
			writeError(w, http.StatusNotFound, fmt.Sprintf("Model not found: %s", alias), "unknown_model")
			return
		}

		ok, msg := d.mgr.EnsureModelReadyWithRetry(r.Context(), alias)
		if !ok {
			writeError(w, http.StatusServiceUnavailable, msg, "model_not_ready")
			return
		}

		if envelope.Stream {
			if !d.mgr.IsModelLoaded(alias) {
				ok, msg = d.mgr.EnsureModelReadyWithRetry(r.Context(), alias)
				if !ok {
					writeError(w, http.StatusServiceUnavailable, msg, "model_not_ready")
					return
				}
			}
			d.forwardStreaming(w, r.Context(), alias, endpoint, body)
			return
		}

		d.forwardBuffered(w, r.Context(), alias, endpoint, body)
	}
}

func (d *Dispatcher) forwardBuffered(w http.ResponseWriter, ctx context.Context, alias, endpoint string, body []byte) {
	result, err := d.mgr.ForwardRequest(ctx, alias, endpoint, body)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error(), "connection")
		return
	}

	var decoded any
	if err := json.Unmarshal(result.Body, &decoded); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Invalid response: %s", string(result.Body)), "decode")
		return
	}

	writeJSON(w, result.StatusCode, decoded)
}

func (d *Dispatcher) forwardStreaming(w http.ResponseWriter, ctx context.Context, alias, endpoint string, body []byte) {
	resp, err := d.mgr.OpenUpstreamStream(ctx, alias, endpoint, body)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error(), "connection")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		w.Write(errBody)
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/event-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, streamChunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				d.log.Warnf("streaming write to client failed: %v", writeErr)
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				d.log.Warnf("streaming read from upstream failed: %v", readErr)
			}
			return
		}
	}
}
