package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/apimonitor/internal/config"
	"github.com/hamed0406/apimonitor/internal/httpapi"
	apimw "github.com/hamed0406/apimonitor/internal/httpapi/middleware"
	"github.com/hamed0406/apimonitor/internal/logging"
	"github.com/hamed0406/apimonitor/internal/metrics"
	"github.com/hamed0406/apimonitor/internal/monitor"
	"github.com/hamed0406/apimonitor/internal/probe"
	"github.com/hamed0406/apimonitor/internal/repo"
	"github.com/hamed0406/apimonitor/internal/repo/bolt"
	"github.com/hamed0406/apimonitor/internal/repo/filereg"
	"github.com/hamed0406/apimonitor/internal/repo/memory"
	"github.com/hamed0406/apimonitor/internal/repo/postgres"
	rds "github.com/hamed0406/apimonitor/internal/repo/redis"
	"github.com/hamed0406/apimonitor/internal/repo/sqlite"
	"github.com/hamed0406/apimonitor/internal/scheduler"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// .env is optional
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	logger, err := logging.NewLogger(cfg.Log.Dir, cfg.Log.Level)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("api_exit", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, store.Close())
	}()

	registry, err := openRegistry(ctx, cfg.Registry, store, logger)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewCollector(reg)

	exec := probe.NewExecutor(store.sink, probe.Options{
		Timeout:         cfg.Probe.Timeout,
		MaxBodyBytes:    cfg.Probe.MaxBodyBytes,
		CaptureResponse: cfg.Probe.CaptureResponse,
		UserAgent:       cfg.Probe.UserAgent,
	}, logger, m)

	sched := scheduler.New(logger, registry, exec, scheduler.Config{
		Interval:    cfg.Scheduler.Interval,
		Concurrency: cfg.Scheduler.Concurrency,
		RunOnStart:  cfg.Scheduler.RunOnStart,
	}, m)

	svc := monitor.NewService(registry, store.sink, sched, logger)

	opts := httpapi.Options{
		Keys:           apimw.Keys{Public: cfg.API.PublicKeys, Admin: cfg.API.AdminKeys},
		AllowedOrigins: cfg.API.AllowedOrigins,
		PublicRPM:      cfg.API.PublicRPM,
		PublicBurst:    cfg.API.PublicBurst,
		AdminRPM:       cfg.API.AdminRPM,
		AdminBurst:     cfg.API.AdminBurst,
	}
	if cfg.Prometheus.Enabled {
		opts.MetricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
		opts.MetricsPath = cfg.Prometheus.Path
	}
	if len(opts.Keys.Public) == 0 && len(opts.Keys.Admin) == 0 {
		logger.Warn("api_keys_not_configured")
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewServer(logger, svc).Router(opts),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		sched.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("api_listen",
			zap.String("addr", cfg.Addr),
			zap.String("env", cfg.Env),
			zap.String("storage", cfg.Storage.Driver),
			zap.String("registry", cfg.Registry.Source),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("api_shutdown_requested")
	case err = <-serveErr:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = multierr.Append(err, srv.Shutdown(shutdownCtx))
	<-schedDone
	logger.Info("api_stopped")
	return err
}

// storage pairs the configured sink with an optional registry the same
// backend can serve.
type storage struct {
	sink     repo.MetricsSink
	registry repo.EndpointRegistry
	writer   repo.EndpointWriter
	closer   io.Closer
}

func (s *storage) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func openStorage(ctx context.Context, c config.StorageConfig, logger *zap.Logger) (*storage, error) {
	switch c.Driver {
	case "postgres":
		pg, err := postgres.New(ctx, c.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			return nil, multierr.Append(err, pg.Close())
		}
		return &storage{sink: pg, registry: pg, writer: pg, closer: pg}, nil
	case "sqlite":
		sq, err := sqlite.New(ctx, c.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &storage{sink: sq, registry: sq, writer: sq, closer: sq}, nil
	case "bolt":
		bs, err := bolt.New(c.BoltPath)
		if err != nil {
			return nil, err
		}
		// records only; endpoints live in memory
		mem := memory.New()
		return &storage{sink: bs, registry: mem, writer: mem, closer: bs}, nil
	case "redis":
		rs, err := rds.New(ctx, rds.Options{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB})
		if err != nil {
			return nil, err
		}
		mem := memory.New()
		return &storage{sink: rs, registry: mem, writer: mem, closer: rs}, nil
	default:
		mem := memory.New()
		return &storage{sink: mem, registry: mem, writer: mem}, nil
	}
}

func openRegistry(ctx context.Context, c config.RegistryConfig, s *storage, logger *zap.Logger) (repo.EndpointRegistry, error) {
	if c.Source == "file" {
		logger.Info("registry_file", zap.String("path", c.EndpointsFile))
		return filereg.New(c.EndpointsFile, logger), nil
	}
	if c.EndpointsFile == "" {
		return s.registry, nil
	}

	eps, err := filereg.Load(c.EndpointsFile, logger)
	if err != nil {
		return nil, err
	}
	for i := range eps {
		ep := eps[i]
		ep.ID = ""
		if err := s.writer.Upsert(ctx, &ep); err != nil {
			return nil, err
		}
	}
	logger.Info("registry_seeded", zap.String("path", c.EndpointsFile), zap.Int("endpoints", len(eps)))
	return s.registry, nil
}
