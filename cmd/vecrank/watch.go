package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/orneryd/vecrank/pkg/corpus"
	"github.com/orneryd/vecrank/pkg/metrics"
)

func (a *app) watchCommand() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Index a directory and re-index files as they change",
		Long: `Index every .txt file in dir, then watch it and re-index files that are
created or written. Press Ctrl+C to stop watching.

With --metrics-addr, Prometheus metrics are served at /metrics.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := a.cfg.Corpus.Dir
			if len(args) == 1 {
				dir = args[0]
			}
			if !cmd.Flags().Changed("metrics-addr") {
				metricsAddr = a.cfg.Metrics.Addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if metricsAddr != "" {
				collector := metrics.NewCollector()
				a.metrics = collector
				srv := a.serveMetrics(metricsAddr, collector)
				defer shutdown(srv)
			}

			svc, cleanup, err := a.service()
			if err != nil {
				return err
			}
			defer cleanup()

			if _, err := svc.Index(ctx, dir); err != nil {
				return err
			}

			w, err := corpus.NewWatcher(dir,
				corpus.WithDebounce(a.cfg.Corpus.Debounce),
				corpus.WithWatchLogger(a.logger),
			)
			if err != nil {
				return err
			}
			defer w.Close()

			return w.Run(ctx, func(ctx context.Context, docs []corpus.Document) error {
				_, err := svc.IndexDocuments(ctx, docs)
				return err
			})
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

func (a *app) serveMetrics(addr string, m *metrics.MetricsCollector) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		a.logger.Printf("[METRICS] serving on %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Printf("[METRICS] ⚠️ server stopped: %v", err)
		}
	}()
	return srv
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}
