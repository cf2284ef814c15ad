package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/scitix/netpulse/internal/observability"
	"github.com/scitix/netpulse/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "run a netpulse worker process",
}

var (
	workerName       string
	workerMetricsOn  string
	nodeCapacity     int
	nodeKeepaliveSec int
)

func init() {
	fifoCmd.Flags().StringVar(&workerName, "name", "", "worker registry name (default: hostname-fifo)")
	fifoCmd.Flags().StringVar(&workerMetricsOn, "metrics-addr", "", "optional host:port to expose /metrics on")

	nodeCmd.Flags().StringVar(&workerName, "name", "", "worker registry name (default: hostname)")
	nodeCmd.Flags().IntVar(&nodeCapacity, "capacity", 0, "max pinned workers this node may host (0 = use config's pinned_per_node)")
	nodeCmd.Flags().IntVar(&nodeKeepaliveSec, "keepalive", 0, "pinned-session keepalive interval in seconds (0 = use config)")
	nodeCmd.Flags().StringVar(&workerMetricsOn, "metrics-addr", "", "optional host:port to expose /metrics on")

	workerCmd.AddCommand(fifoCmd)
	workerCmd.AddCommand(nodeCmd)
}

var fifoCmd = &cobra.Command{
	Use:   "fifo",
	Short: "run a FIFO queue consumer",
	RunE:  runFIFOWorker,
}

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "run a node worker that spawns pinned sessions on demand",
	RunE:  runNodeWorker,
}

// workerSignalContext derives a context canceled by SIGINT/SIGTERM, the
// graceful-shutdown path spec.md §5 "send_shutdown_command" assumes every
// worker variant also honors when the operator kills the process directly
// rather than publishing to its shutdown channel.
func workerSignalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}

func hostnameOrDefault(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	return os.Hostname()
}

func serveMetricsIfConfigured(addr string, registry *prometheus.Registry) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(registry))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		_ = srv.ListenAndServe()
	}()
}

func runFIFOWorker(cmd *cobra.Command, args []string) error {
	a, err := bootstrap(configPath)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	serveMetricsIfConfigured(workerMetricsOn, registry)

	name, err := hostnameOrDefault(workerName)
	if err != nil {
		return fmt.Errorf("worker: resolve hostname: %w", err)
	}
	name += "-fifo"

	w := worker.NewFIFOWorker(a.store, a.queue, a.pipeline, a.callbacks, name, a.cfg.Worker.TTL(), a.log)
	w.SetMetrics(metrics)

	ctx, cancel := workerSignalContext()
	defer cancel()

	if err := w.Run(ctx); err != nil {
		return fmt.Errorf("worker: %w", err)
	}
	return nil
}

func runNodeWorker(cmd *cobra.Command, args []string) error {
	a, err := bootstrap(configPath)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	serveMetricsIfConfigured(workerMetricsOn, registry)

	name, err := hostnameOrDefault(workerName)
	if err != nil {
		return fmt.Errorf("worker: resolve hostname: %w", err)
	}

	capacity := nodeCapacity
	if capacity <= 0 {
		capacity = a.cfg.Worker.PinnedPerNode
	}
	keepalive := a.cfg.Worker.KeepaliveInterval()
	if nodeKeepaliveSec > 0 {
		keepalive = time.Duration(nodeKeepaliveSec) * time.Second
	}

	w := worker.NewNodeWorker(a.store, a.queue, name, a.pipeline, a.callbacks, capacity, a.cfg.Worker.TTL(), keepalive, a.log)
	w.SetMetrics(metrics)

	ctx, cancel := workerSignalContext()
	defer cancel()

	if err := w.Run(ctx); err != nil {
		return fmt.Errorf("worker: %w", err)
	}
	return nil
}
