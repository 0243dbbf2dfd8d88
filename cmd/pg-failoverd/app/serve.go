// Package app holds the pg-failoverd subcommands, one file per verb,
// the way the teacher splits cmd/manager's subcommands into one package
// per verb under internal/cmd/manager.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/marcbachmann/pg-auto-failover/internal/config"
	"github.com/marcbachmann/pg-auto-failover/internal/coordinator"
	"github.com/marcbachmann/pg-auto-failover/internal/events"
	"github.com/marcbachmann/pg-auto-failover/internal/logging"
	"github.com/marcbachmann/pg-auto-failover/internal/metrics"
	"github.com/marcbachmann/pg-auto-failover/internal/store"
)

// NewServeCmd builds the `serve` subcommand: it loads configuration,
// opens the configured store, wires the coordinator service and the
// background sweeper, and serves a small JSON API plus a Prometheus
// /metrics endpoint.
func NewServeCmd() *cobra.Command {
	f := &Flags{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the failover coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), f.ConfigPath)
		},
	}
	f.AddFlags(cmd.Flags())
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	var yamlDoc []byte
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return fmt.Errorf("app: reading config file: %w", err)
		}
		yamlDoc = data
	}

	cfg, err := config.Load(yamlDoc, config.OSEnvironment)
	if err != nil {
		return fmt.Errorf("app: loading config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("app: building logger: %w", err)
	}
	ctx = logging.IntoContext(ctx, logger)

	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("app: opening store: %w", err)
	}
	defer st.Close()

	sink := events.NewChannelSink()
	registry := prometheus.NewRegistry()
	collectors := metrics.New()
	collectors.MustRegister(registry)

	svc := coordinator.New(st, sink, nil, collectors)

	sweeper, err := coordinator.NewSweeper(svc, logger, fmt.Sprintf("@every %s", cfg.SweepInterval()))
	if err != nil {
		return fmt.Errorf("app: building sweeper: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	newAPI(svc).register(mux)

	srv := &http.Server{Addr: cfg.ListenAddress, Handler: mux}

	logger.Info("coordinator starting", "address", cfg.ListenAddress, "storeDriver", cfg.StoreDriver)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("app: serving: %w", err)
		}
	case <-stop:
		logger.Info("shutting down")
		_ = srv.Shutdown(context.Background())
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Data) (store.Store, error) {
	switch cfg.StoreDriver {
	case "", "memory":
		return store.NewMemStore(), nil
	case "postgres":
		return store.OpenPGStore(ctx, cfg.StoreDSN)
	default:
		return nil, fmt.Errorf("app: unknown store driver %q", cfg.StoreDriver)
	}
}

// api exposes the four external operations of spec.md §6 over a small
// JSON request/response surface. Wire form is explicitly out of scope
// for the specification; this is one concrete, idiomatic-Go shape for
// it so the binary is runnable end to end.
type api struct {
	svc *coordinator.Service
}

func newAPI(svc *coordinator.Service) *api {
	return &api{svc: svc}
}

func (a *api) register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/registerNode", a.handleRegisterNode)
	mux.HandleFunc("/v1/nodeActive", a.handleNodeActive)
	mux.HandleFunc("/v1/removeNode", a.handleRemoveNode)
	mux.HandleFunc("/v1/setReplicationSettings", a.handleSetReplicationSettings)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
