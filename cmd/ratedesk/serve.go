package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"ratedesk/internal/adapters/httpapi"
	"ratedesk/internal/blob"
	"ratedesk/internal/core"
	"ratedesk/internal/logging"
)

func newServeCmd(a *app) *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "create missing tables before serving")
	return cmd
}

func (a *app) serve(ctx context.Context, migrate bool) error {
	log := logging.NewAdapter(a.logger)
	store, err := a.openStore(ctx, migrate)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	opts := a.serviceOptions()
	var metrics http.Handler
	if a.cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts = append(opts, core.WithMetricsRecorder(core.NewPrometheusMetricsRecorder(reg)))
		metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}
	if a.cfg.Tracing.Stdout {
		tp, err := core.NewStdoutTracerProvider(os.Stderr)
		if err != nil {
			return err
		}
		defer func() { _ = tp.Shutdown(context.Background()) }()
		opts = append(opts, core.WithTracer(core.NewOTelTracer(tp)))
	}
	svc := core.NewService(store, a.variants, opts...)

	blobs, err := blob.Open(ctx, a.cfg.Blob)
	if err != nil {
		return err
	}
	worker := httpapi.NewWorker(blobs, log.With("component", "exports"))
	worker.Start()

	handler := httpapi.NewHandler(svc)
	handler.Exports = worker
	handler.Blobs = blobs
	handler.Metrics = metrics
	handler.Logger = log.With("component", "http")

	server := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", "addr", server.Addr, "storage", a.cfg.Storage.Driver, "blob", blobs.Driver())
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return errors.Join(server.Shutdown(shutdownCtx), worker.Stop(shutdownCtx))
	})
	return g.Wait()
}
