// Command flexllamad is the gateway daemon: it loads a config file, starts
// a Manager over the configured runners, and serves the OpenAI-compatible
// dispatcher plus an aggregated /metrics endpoint until it is asked to
// shut down.
package main

import (
	"flag"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/flexllama/flexllama/internal/controlplane"
	"github.com/flexllama/flexllama/internal/dispatcher"
	"github.com/flexllama/flexllama/internal/gwconfig"
	"github.com/flexllama/flexllama/internal/manager"
	"github.com/flexllama/flexllama/internal/sessionlog"
	"github.com/flexllama/flexllama/pkg/metrics"
)

var log = logrus.New()

func main() {
	os.Exit(run())
}

func run() int {
	defaultConfig := "config.json"
	if env := os.Getenv("FLEXLLAMA_CONFIG"); env != "" {
		defaultConfig = env
	}
	configPath := flag.String("config", defaultConfig, "path to the gateway configuration file")
	healthPath := flag.String("health-path", "/health", "path for the gateway's aggregate health endpoint")
	flag.Parse()

	entry := log.WithField("component", "flexllamad")

	cfg, err := gwconfig.Load(entry, *configPath)
	if err != nil {
		entry.Errorf("failed to load config: %v", err)
		return controlplane.ExitConfigError
	}

	session, err := sessionlog.New(entry, *configPath)
	if err != nil {
		entry.Errorf("failed to initialize session logging: %v", err)
		return controlplane.ExitConfigError
	}
	mainFile, errorFile, err := session.ConfigureLogger(log)
	if err != nil {
		entry.Errorf("failed to configure session logger: %v", err)
		return controlplane.ExitConfigError
	}
	defer mainFile.Close()
	defer errorFile.Close()

	mgr := manager.New(entry, cfg, session.Dir)
	for name := range cfg.Runners {
		session.RunnerLogPath(name)
	}
	if err := session.RefreshManifest(*configPath); err != nil {
		entry.Warnf("failed to refresh session manifest: %v", err)
	}

	d := dispatcher.New(entry, mgr, *healthPath)
	mux := http.NewServeMux()
	mux.Handle("/", d.Handler())
	mux.Handle("/metrics", metrics.NewHandler(managerMetricsAdapter{mgr}))

	srv := &http.Server{Handler: mux}

	ctx, cancel := controlplane.NotifyContext()
	defer cancel()

	addr := controlplane.Addr(cfg.API)
	return controlplane.Run(ctx, entry, cfg, mgr, srv, addr)
}

// managerMetricsAdapter narrows *manager.Manager to the metrics package's
// StatusSource interface without introducing an import cycle between
// manager and metrics.
type managerMetricsAdapter struct {
	mgr *manager.Manager
}

func (a managerMetricsAdapter) GetRunnerStatus() map[string]metrics.RunnerStatus {
	status := a.mgr.GetRunnerStatus()
	out := make(map[string]metrics.RunnerStatus, len(status))
	for name, s := range status {
		out[name] = metrics.RunnerStatus{IsRunning: s.IsRunning}
	}
	return out
}

func (a managerMetricsAdapter) RetryCount() int64 {
	return a.mgr.RetryCount()
}
