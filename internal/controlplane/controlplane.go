// Package controlplane owns the gateway process's lifetime: binding the
// HTTP listener, auto-starting default runners, and driving an orderly
// shutdown on SIGINT/SIGTERM or listener failure.
package controlplane

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/flexllama/flexllama/internal/gwconfig"
	"github.com/flexllama/flexllama/internal/manager"
)

// Process exit codes. Run returns ExitOK or ExitConfigError; a caught
// SIGINT/SIGTERM also ends in ExitOK, so Run never returns ExitInterrupted.
const (
	ExitOK          = 0
	ExitConfigError = 1
	ExitInterrupted = 130
)

// shutdownGrace bounds how long the HTTP server is given to drain
// in-flight requests before its listener is forced closed.
const shutdownGrace = 10 * time.Second

// Server is the minimal surface controlplane needs from an *http.Server,
// narrowed for testability.
type Server interface {
	Serve(ln net.Listener) error
	Shutdown(ctx context.Context) error
}

// Run binds addr, starts serving handler, auto-starts default runners, and
// blocks until ctx is cancelled (by a caught signal) or the listener fails.
// Once the listener is bound it always attempts an orderly StopAllRunners
// before returning; a bind failure returns before any runner is started.
func Run(ctx context.Context, log *logrus.Entry, cfg *gwconfig.Config, mgr *manager.Manager, srv Server, addr string) int {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Errorf("failed to bind %s: %v", addr, err)
		return ExitConfigError
	}

	if cfg.AutoStartRunners {
		if err := mgr.AutoStartDefaultRunners(ctx); err != nil {
			log.Warnf("one or more default runners failed to start: %v", err)
		}
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Serve(ln)
	}()
	log.Infof("listening on %s", addr)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("server error: %v", err)
			mgr.StopAllRunners()
			return ExitConfigError
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warnf("server shutdown error: %v", err)
		}
		<-serverErrors
	}

	log.Info("stopping runners")
	mgr.StopAllRunners()
	log.Info("gateway stopped")
	return ExitOK
}

// NotifyContext wraps signal.NotifyContext for SIGINT/SIGTERM, the pair the
// gateway treats as a request for graceful shutdown.
func NotifyContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// Addr formats an gwconfig.APIConfig into a dial string for net.Listen.
func Addr(api gwconfig.APIConfig) string {
	return fmt.Sprintf("%s:%d", api.Host, api.Port)
}
