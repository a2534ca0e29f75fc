// file: cmd/norbert/serve.go
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dkoosis/norbert/internal/callback"
	"github.com/dkoosis/norbert/internal/httputils"
	"github.com/dkoosis/norbert/internal/logging"
	"github.com/dkoosis/norbert/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var (
		addr            string
		shutdownTimeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the OAuth callback page, status and metrics",
		Long: `Serve the page OAuth providers redirect to after sign-in.

The page reports the result to the window that opened the popup and closes
itself. Standalone visits are redirected to the status page.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), addr, shutdownTimeout)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (defaults to callback.addr from the config).")
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 5*time.Second, "Timeout for graceful shutdown.")
	return cmd
}

func runServe(parent context.Context, addr string, shutdownTimeout time.Duration) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	a, err := newApp("server")
	if err != nil {
		return err
	}
	cfg := a.cfg
	if addr == "" {
		addr = cfg.Callback.Addr
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg, 0)
	broker := callback.NewBroker(0, logging.GetLogger("callback"))
	defer broker.Close()

	events, unsubscribe := broker.Subscribe()
	defer unsubscribe()
	go logCallbacks(ctx, events, a.logger)

	mux := http.NewServeMux()
	mux.Handle(cfg.Callback.Path, callback.NewHandler(callback.HandlerOptions{CloseDelay: cfg.Callback.CloseDelay}, broker, collector, logging.GetLogger("callback")))
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	}
	mux.Handle("/", newStatusHandler(collector))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}

	a.logger.Info("Starting Norbert server.",
		"address", ln.Addr().String(),
		"callbackPath", cfg.Callback.Path,
		"metrics", cfg.Metrics.Enabled)

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Server error.", "error", err)
			cancel()
		}
	}()

	select {
	case sig := <-sigChan:
		a.logger.Info("Received signal.", "signal", sig)
	case <-ctx.Done():
		a.logger.Info("Context cancelled.")
	}

	a.logger.Info("Shutting down server...")
	if err := shutdownServer(srv, shutdownTimeout, a.logger); err != nil {
		return err
	}
	a.logger.Info("Server shutdown complete.")
	return nil
}

// shutdownServer stops srv gracefully within timeout.
func shutdownServer(srv *http.Server, timeout time.Duration, logger logging.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("Server shutdown error.", "error", err)
		return errors.Wrap(err, "server shutdown error")
	}
	return nil
}

func logCallbacks(ctx context.Context, events <-chan callback.Event, logger logging.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			logger.Info("OAuth callback.", "provider", e.Provider, "connection", e.Connection)
		}
	}
}

// statusResponse is served at "/". Connection and Provider echo the query a
// standalone callback visit is redirected with.
type statusResponse struct {
	Status     string           `json:"status"`
	Version    string           `json:"version"`
	Connection string           `json:"connection,omitempty"`
	Provider   string           `json:"provider,omitempty"`
	Metrics    metrics.Snapshot `json:"metrics"`
}

type snapshotter interface {
	Snapshot() metrics.Snapshot
}

func newStatusHandler(source snapshotter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			httputils.MethodNotAllowed(w, r, http.MethodGet, http.MethodHead)
			return
		}
		resp := statusResponse{
			Status:  "ok",
			Version: Version,
			Metrics: source.Snapshot(),
		}
		if q := r.URL.Query(); q.Has("connection") {
			resp.Connection, resp.Provider = callback.ParseResult(q)
		}
		httputils.WriteJSONResponse(w, http.StatusOK, resp)
	})
}
