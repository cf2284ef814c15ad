package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/scitix/netpulse/internal/callback"
	"github.com/scitix/netpulse/internal/config"
	"github.com/scitix/netpulse/internal/credential"
	"github.com/scitix/netpulse/internal/dispatcher"
	"github.com/scitix/netpulse/internal/driver"
	"github.com/scitix/netpulse/internal/execute"
	"github.com/scitix/netpulse/internal/logging"
	"github.com/scitix/netpulse/internal/parse"
	"github.com/scitix/netpulse/internal/queue"
	"github.com/scitix/netpulse/internal/render"
	"github.com/scitix/netpulse/internal/scheduler"
	"github.com/scitix/netpulse/internal/store"
)

// app is the fully-wired set of components every netpulse entrypoint
// (serve, worker node, worker fifo) builds from the same config file,
// grounded on the teacher's cmd/main.go which constructs one shared
// dependency graph and hands pieces of it to whichever of RUN_SERVER /
// RUN_WORKER is enabled.
type app struct {
	cfg        config.Config
	log        *logging.Logger
	store      store.Store
	queue      *queue.Manager
	dispatcher *dispatcher.Manager
	pipeline   *execute.Pipeline
	callbacks  *callback.Registry
	drivers    *driver.Registry
	renderers  *render.Registry
	parsers    *parse.Registry
}

func bootstrap(configPath string) (*app, error) {
	log, err := logging.New(envOr("NETPULSE_LOG_MODE", "console"))
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}

	cfg, err := config.Load(configPath, log)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	st, err := store.NewRedisStore(cfg.Store, log)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	qm := queue.NewManager(st, log)

	drivers := driver.NewRegistry(driver.SSHFactory{}, driver.EAPIFactory{}, driver.MockFactory{Session: false})
	renderers := render.DefaultRegistry()
	parsers := parse.DefaultRegistry()
	schedulers := scheduler.DefaultRegistry()

	dm, err := dispatcher.NewManager(st, qm, schedulers, drivers, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: %w", err)
	}

	creds := credential.DefaultResolver(nil)
	pipeline := execute.NewPipeline(drivers, renderers, parsers, creds, log)
	callbacks := callback.NewRegistry(qm, &http.Client{Timeout: 30 * time.Second}, log)

	return &app{
		cfg:        cfg,
		log:        log,
		store:      st,
		queue:      qm,
		dispatcher: dm,
		pipeline:   pipeline,
		callbacks:  callbacks,
		drivers:    drivers,
		renderers:  renderers,
		parsers:    parsers,
	}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
