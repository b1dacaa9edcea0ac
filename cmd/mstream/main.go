package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/mstreamhq/mstream/internal/config"
	"github.com/mstreamhq/mstream/internal/job"
	"github.com/mstreamhq/mstream/internal/metrics"
	"github.com/mstreamhq/mstream/internal/obslog"
	"github.com/mstreamhq/mstream/internal/schema"
	"github.com/mstreamhq/mstream/internal/service"
)

func main() {
	configPath := flag.String("config", "mstream-config.toml", "path to the connector config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		obslog.New(obslog.LevelError, 0).Fatalf("loading config %q: %v", *configPath, err)
	}

	logger := obslog.New(obslog.ParseLevel(os.Getenv("MSTREAM_LOG_LEVEL")), cfg.System.Logs.BufferSize)
	logger.Infof("loaded config: %d services, %d connectors", len(cfg.Services), len(cfg.Connectors))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Infof("received signal %v, draining jobs", sig)
		cancel()
	}()

	registry := service.NewRegistry(serviceFactories())
	schemas := schema.New(&dispatchFetcher{cfg: cfg, registry: registry})

	w := &wirer{cfg: cfg, registry: registry, schemas: schemas}
	metricsRegistry := metrics.NewRegistry()
	manager := job.NewManager(w.buildDriver, metricsRegistry, cfg.System.JobLifecycle.DrainTimeout())

	store := buildLifecycleStore(ctx, cfg, registry, logger)
	specs, err := job.Reconcile(ctx, cfg.System.JobLifecycle.StartupPolicy, cfg.Connectors, store)
	if err != nil {
		logger.Fatalf("reconciling job lifecycle store: %v", err)
	}

	for _, spec := range specs {
		if err := manager.Create(ctx, spec); err != nil {
			logger.Errorf("job %q: %v", spec.Name, err)
			continue
		}
		logger.Infof("job %q created (enabled=%v)", spec.Name, spec.Enabled)
	}

	<-ctx.Done()
	logger.Infof("shutting down, waiting up to %s per job to drain", cfg.System.JobLifecycle.DrainTimeout())
	manager.StopAll()
	logger.Infof("all jobs drained")
}

func buildLifecycleStore(ctx context.Context, cfg *config.Config, registry *service.Registry, logger *obslog.Logger) job.LifecycleStore {
	lc := cfg.System.JobLifecycle
	if lc.ServiceName == "" || lc.Collection == "" {
		logger.Infof("[system.job_lifecycle] has no service_name/collection configured, using NoopLifecycleStore")
		return job.NoopLifecycleStore{}
	}
	desc, ok := cfg.Services[lc.ServiceName]
	if !ok {
		logger.Errorf("[system.job_lifecycle] service_name %q not declared, using NoopLifecycleStore", lc.ServiceName)
		return job.NoopLifecycleStore{}
	}
	client, err := registry.Get(ctx, desc)
	if err != nil {
		logger.Errorf("connecting job lifecycle store service %q: %v, using NoopLifecycleStore", lc.ServiceName, err)
		return job.NoopLifecycleStore{}
	}
	mc, ok := client.(*mongoClient)
	if !ok {
		logger.Errorf("[system.job_lifecycle] service_name %q is not a mongodb service, using NoopLifecycleStore", lc.ServiceName)
		return job.NoopLifecycleStore{}
	}
	return &job.MongoLifecycleStore{Collection: mc.db.Collection(lc.Collection)}
}
