package cli

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/StricklySoft/agent-lifecycle/pkg/lifecycle"
)

// serveTimeout bounds health probes and the ops server shutdown.
const serveTimeout = 5 * time.Second

func serveCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the lifecycle hooks until SIGTERM or SIGINT",
		Long: "serve sweeps the fleet periodically, exposes /metrics and /healthz on metrics_addr, " +
			"and gracefully shuts every live agent down when the process is signaled.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				return rt.serve(ctx)
			})
		},
	}
}

// serve runs the ops server next to the scheduler loop. The server is
// stopped once the scheduler has shut the fleet down.
func (rt *runtime) serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              rt.cfg.MetricsAddr,
		Handler:           rt.opsRouter(),
		ReadHeaderTimeout: serveTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		rt.logger.Info("cli: ops server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := <-serveErr; err != nil {
			rt.logger.Error("cli: ops server failed", "error", err)
			cancel()
		}
	}()

	runErr := rt.scheduler.Run(runCtx)

	shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), serveTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		rt.logger.Warn("cli: ops server shutdown incomplete", "error", err)
	}
	return runErr
}

// healthReport is the /healthz body.
type healthReport struct {
	Status   string                  `json:"status"`
	Fleet    lifecycle.OverallHealth `json:"fleet"`
	Backends map[string]string       `json:"backends,omitempty"`
}

func (rt *runtime) opsRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(rt.prom, promhttp.HandlerOpts{}))
	r.Get("/healthz", rt.handleHealthz)
	return r
}

// handleHealthz reports 503 when any backend fails its check. Fleet
// health is informational and never fails the probe.
func (rt *runtime) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), serveTimeout)
	defer cancel()

	report := healthReport{
		Status: "ok",
		Fleet:  rt.health.AgentHealthStatus(ctx).OverallHealth,
	}
	code := http.StatusOK
	if len(rt.checks) > 0 {
		report.Backends = make(map[string]string, len(rt.checks))
		for _, name := range slices.Sorted(maps.Keys(rt.checks)) {
			if err := rt.checks[name].Health(ctx); err != nil {
				report.Backends[name] = err.Error()
				report.Status = "unavailable"
				code = http.StatusServiceUnavailable
				continue
			}
			report.Backends[name] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(report); err != nil {
		rt.logger.Warn("cli: failed to write health report", "error", err)
	}
}
