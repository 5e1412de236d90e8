package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/platinummonkey/lineage/pkg/api"
	"github.com/platinummonkey/lineage/pkg/compatibility"
	"github.com/platinummonkey/lineage/pkg/config"
	"github.com/platinummonkey/lineage/pkg/lifecycle"
	"github.com/platinummonkey/lineage/pkg/observability"
	"github.com/platinummonkey/lineage/pkg/scheduler"
	"github.com/platinummonkey/lineage/pkg/validation"
	"github.com/platinummonkey/lineage/pkg/validation/rules"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const (
	compatCacheSize = 4096
	compatCacheTTL  = 10 * time.Minute
)

func main() {
	checkConfig := flag.Bool("check-config", false, "Validate configuration and exit")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *checkConfig {
		fmt.Println("configuration OK")
		return
	}

	if err := run(cfg); err != nil {
		log.Fatalf("lineage: %v", err)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", "lineage")

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	var closers closerStack
	defer closers.closeAll(logger)

	rdb, err := openRedis(cfg, logger)
	if err != nil {
		return err
	}
	if rdb != nil {
		closers.push("redis", func(context.Context) error { return rdb.Close() })
	}

	backend, err := openStore(ctx, cfg, rdb, logger, metrics)
	if err != nil {
		return err
	}
	if backend.close != nil {
		closers.push("store", backend.close)
	}

	sink, err := buildSink(ctx, cfg.Events, logger, metrics)
	if err != nil {
		return err
	}
	closers.push("events", sink.close)

	validator, watcher, err := buildValidator(cfg.Validation, logger, metrics)
	if err != nil {
		return err
	}
	if watcher != nil {
		closers.push("validation-rules", watcher.Close)
	}

	coordinator, err := lifecycle.New(lifecycle.Deps{
		Store:     backend.store,
		Sink:      sink.sink,
		Locker:    buildLocker(cfg.Lock, rdb, metrics),
		Consumers: backend.consumers,
		Validator: validator,
		Checker: compatibility.NewChecker(
			compatibility.WithCache(compatCacheSize, compatCacheTTL),
			compatibility.WithCheckerLogger(logger),
			compatibility.WithCheckerMetrics(metrics),
		),
		Logger:  logger,
		Metrics: metrics,
	}, lifecycle.Options{
		LockTimeout:         cfg.Lock.Timeout,
		DefaultMode:         cfg.Lifecycle.DefaultMode,
		SunsetRetryInterval: cfg.Lifecycle.SunsetRetryInterval,
		RollbackGracePeriod: cfg.Lifecycle.RollbackGracePeriod,
		EventTimeout:        cfg.Lifecycle.EventTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create coordinator: %w", err)
	}

	var sweeper *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sweeper, err = scheduler.New(backend.store, coordinator, lifecycle.SystemClock{}, scheduler.Config{
			Schedule: cfg.Scheduler.Schedule,
			Workers:  cfg.Scheduler.Workers,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create sunset scheduler: %w", err)
		}
		sweeper.Start()
	}

	apiServer := api.NewServer(coordinator,
		api.WithLogger(logger),
		api.WithMetrics(metrics),
		api.WithRetryAfter(cfg.Lock.Timeout),
	)
	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      apiServer,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics live on their own port for k8s probes
	health := observability.NewHealthChecker(version, backend.db, rdb)
	if backend.content != nil {
		health.AddCheck("content-store", false, backend.content.HealthCheck)
	}
	healthRouter := mux.NewRouter()
	observability.RegisterHealthRoutes(healthRouter, health)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthRouter, registry)
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthRouter,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.Register("health-server", healthServer.Shutdown)
	if sweeper != nil {
		shutdown.Register("scheduler", sweeper.Stop)
	}
	shutdown.Register("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})

	serveErr := make(chan error, 2)
	go serve(healthServer, "health", logger, serveErr)
	go serve(httpServer, "api", logger, serveErr)

	logger.WithFields(map[string]interface{}{
		"addr":        httpServer.Addr,
		"health_addr": healthServer.Addr,
		"storage":     cfg.Storage.Type,
		"lock":        cfg.Lock.Backend,
		"sinks":       cfg.Events.Sinks,
		"version":     version,
	}).Info("Lineage schema registry started")

	waitCtx, stopWaiting := context.WithCancel(ctx)
	defer stopWaiting()
	fatal := make(chan error, 1)
	go func() {
		select {
		case err := <-serveErr:
			fatal <- err
			stopWaiting()
		case <-waitCtx.Done():
		}
	}()

	if err := shutdown.WaitForShutdown(waitCtx); err != nil {
		return err
	}
	select {
	case err := <-fatal:
		return err
	default:
	}
	logger.Info("Lineage schema registry stopped")
	return nil
}

func serve(server *http.Server, name string, logger *observability.Logger, errs chan<- error) {
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).WithField("server", name).Error("Server failed")
		errs <- fmt.Errorf("%s server: %w", name, err)
	}
}

func buildValidator(cfg config.ValidationConfig, logger *observability.Logger, metrics *observability.Metrics) (*validation.Validator, *validation.ConfigWatcher, error) {
	opts := []validation.ValidatorOption{
		validation.WithLogger(logger),
		validation.WithMetrics(metrics),
	}
	var watcher *validation.ConfigWatcher
	switch {
	case cfg.RulesFile == "":
	case cfg.Watch:
		w, err := validation.NewConfigWatcher(cfg.RulesFile, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to watch validation rules: %w", err)
		}
		watcher = w
		opts = append(opts, validation.WithConfigWatcher(w))
	default:
		rulesConfig, err := validation.LoadConfig(cfg.RulesFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load validation rules: %w", err)
		}
		opts = append(opts, validation.WithConfig(rulesConfig))
	}
	return validation.NewValidator(rules.NewDefaultRegistry(), opts...), watcher, nil
}
