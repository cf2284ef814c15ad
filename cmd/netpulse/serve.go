package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/scitix/netpulse/internal/httpapi"
	"github.com/scitix/netpulse/internal/observability"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the netpulse HTTP control plane",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := bootstrap(configPath)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	a.dispatcher.SetMetrics(metrics)

	tp, err := observability.NewTracerProvider(cmd.Context(), "netpulse", os.Stderr)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(ctx)
	}()

	router := httpapi.NewRouter(httpapi.RouterConfig{
		APIKey:     a.cfg.Server.APIKey,
		APIKeyName: a.cfg.Server.APIKeyName,
		Device:     httpapi.NewDeviceHandler(a.dispatcher, a.drivers, a.log),
		Job:        httpapi.NewJobHandler(a.queue, a.log),
		Worker:     httpapi.NewWorkerHandler(a.store, a.log),
		Health:     httpapi.NewHealthHandler(),
		Template:   httpapi.NewTemplateHandler(a.renderers, a.parsers, a.log),
	}, a.log)
	router.GET("/metrics", gin.WrapH(observability.Handler(registry)))

	addr := fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: router}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("serving", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		a.log.Info("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
