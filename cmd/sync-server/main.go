package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/omniplat/sync-core/internal/config"
	"github.com/omniplat/sync-core/internal/conflict"
	"github.com/omniplat/sync-core/internal/dedup"
	"github.com/omniplat/sync-core/internal/engine"
	"github.com/omniplat/sync-core/internal/plugin"
	"github.com/omniplat/sync-core/internal/queue"
	"github.com/omniplat/sync-core/internal/records"
	"github.com/omniplat/sync-core/internal/scheduler"
	"github.com/omniplat/sync-core/internal/server"
	"github.com/omniplat/sync-core/internal/store"

	// Register all built-in plugins.
	_ "github.com/omniplat/sync-core/pkg/connector"
)

func main() {
	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()
	cfg := config.LoadServerConfig()

	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("sync-server failed")
	}
}

func run(cfg *config.ServerConfig, logger *logrus.Logger) error {
	ctx := context.Background()

	var (
		configs    store.ConfigStore
		mappings   store.MappingStore
		logs       store.LogStore
		webhooks   store.WebhookStore
		conflicts  store.ConflictStore
		dir        records.Directory
		queueStore queue.Store
	)

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}

		pg, err := store.NewPostgres(db)
		if err != nil {
			return fmt.Errorf("init stores: %w", err)
		}
		configs, mappings, logs = pg.Configs(), pg.Mappings(), pg.Logs()
		webhooks, conflicts = pg.Webhooks(), pg.Conflicts()

		if dir, err = records.NewPostgresDirectory(db); err != nil {
			return fmt.Errorf("init record directory: %w", err)
		}
		if queueStore, err = queue.NewPostgresStore(db); err != nil {
			return fmt.Errorf("init queue store: %w", err)
		}
		logger.Info("using postgres stores")
	} else {
		mem := store.NewMemory()
		configs, mappings, logs = mem.Configs(), mem.Mappings(), mem.Logs()
		webhooks, conflicts = mem.Webhooks(), mem.Conflicts()
		dir = records.NewMemoryDirectory()
		queueStore = queue.NewMemoryStore()
		logger.Warn("DATABASE_URL not set, using in-memory stores")
	}

	backoff := queue.BackoffLinear
	if cfg.ExponentialRetry {
		backoff = queue.BackoffExponential
	}
	q := queue.New(queueStore, queue.RetryPolicy{
		MaxAttempts:  cfg.MaxAttempts,
		Backoff:      backoff,
		InitialDelay: time.Duration(cfg.InitialDelaySecs) * time.Second,
		MaxDelay:     time.Duration(cfg.MaxDelaySecs) * time.Second,
	}, logger)

	registry := plugin.NewRegistryFromGlobal(plugin.Deps{Records: dir}, logger)
	logger.WithField("plugins", registry.List()).Info("plugins registered")

	eng := engine.New(engine.Deps{
		Configs:   configs,
		Mappings:  mappings,
		Logs:      logs,
		Webhooks:  webhooks,
		Conflicts: conflicts,
		Records:   dir,
		Registry:  registry,
		Dedup:     dedup.NewEngine(dedup.Options{}, logger),
		Resolver:  conflict.NewResolver(conflict.Options{}, logger),
		Queue:     q,
		Logger:    logger,
	})

	worker := queue.NewWorker(q, eng.ProcessJob, queue.WorkerConfig{
		PollInterval: time.Duration(cfg.WorkerPollSecs) * time.Second,
		BatchSize:    cfg.WorkerBatchSize,
		Concurrency:  cfg.WorkerConcurrent,
	}, logger)
	worker.Start(ctx)

	sched := scheduler.New(scheduler.Config{
		TickSpec:    cfg.SchedulerTickSpec,
		CleanupSpec: cfg.CleanupSpec,
		Retention:   cfg.Retention(),
	}, scheduler.Deps{
		Configs:  configs,
		Records:  dir,
		Registry: registry,
		Queue:    q,
		Logger:   logger,
	})
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	srv, err := server.New(server.Deps{
		Engine:    eng,
		Configs:   configs,
		Mappings:  mappings,
		Logs:      logs,
		Webhooks:  webhooks,
		Conflicts: conflicts,
		Records:   dir,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpSrv := &http.Server{Addr: addr, Handler: srv.Router()}
	go func() {
		logger.WithField("addr", addr).Info("sync-server listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("http server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	sched.Stop()
	worker.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	logger.Info("sync-server stopped")
	return nil
}
