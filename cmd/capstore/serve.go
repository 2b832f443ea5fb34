package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"capstore/api"
	telemetry "capstore/observability/otel"
)

var Serve = cli.Command{
	Action: serve,
	Name:   "serve",
	Usage:  "serves health, metrics, lineage and read-only queries over HTTP",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "listen", Usage: "listen address (defaults to MetricsAddress)"},
	},
}

func serve(c *cli.Context) error {
	n, err := openNode(c, true)
	if err != nil {
		return err
	}
	defer n.Close()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelCfg := telemetry.FromConfig(n.cfg)
	shutdownTelemetry, err := telemetry.Init(ctx, otelCfg)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()
	n.logger.Info("telemetry configured",
		slog.Bool("traces", otelCfg.Traces),
		slog.Bool("metrics", otelCfg.Metrics),
		slog.String("endpoint", otelCfg.Endpoint),
		slog.String("headers", n.cfg.Telemetry.Headers),
	)

	addr := c.String("listen")
	if addr == "" {
		addr = n.cfg.MetricsAddress
	}
	srv := &http.Server{
		Addr:         addr,
		Handler:      otelhttp.NewHandler(api.New(n.engine, n.journal, n.logger).Handler(), "capstore"),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		n.logger.Info("capstore listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	n.logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}
