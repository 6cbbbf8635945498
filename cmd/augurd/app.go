package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/augurhq/augur/pkg/backend"
	"github.com/augurhq/augur/pkg/cache"
	"github.com/augurhq/augur/pkg/config"
	"github.com/augurhq/augur/pkg/core"
	"github.com/augurhq/augur/pkg/dedup"
	"github.com/augurhq/augur/pkg/queue"
	"github.com/augurhq/augur/pkg/storage"
	"github.com/augurhq/augur/pkg/submit"
	"github.com/augurhq/augur/pkg/webhook"
	"github.com/augurhq/augur/pkg/worker"
)

func runServe(ctx context.Context, configPath string) error {
	bootLogger := newLogger("info")

	cfg, err := config.Load(configPath, bootLogger)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Server.LogLevel)

	db, err := gorm.Open(sqlite.Open(cfg.Store.Path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	store, err := storage.NewGormStorageWithPool(db, storage.PoolConfig{
		MaxOpenConns:    cfg.Store.MaxOpenConns,
		MaxIdleConns:    cfg.Store.MaxIdleConns,
		ConnMaxLifetime: cfg.Store.ConnLifetime,
		ConnMaxIdleTime: time.Minute,
	})
	if err != nil {
		return fmt.Errorf("configure store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	// Singleton components, wired once and passed by reference.
	resultCache := cache.New(store, cfg.Cache.TTL, logger)
	tracker := dedup.New(store, cfg.Dedup.MarkerTTL, logger)
	runner := backend.New(cfg.Backend.Command, cfg.Backend.Args, cfg.BackendRetry(), logger)
	deliverer := webhook.New(cfg.Webhook.Timeout, cfg.WebhookRetry(), logger)

	jobQueue := queue.New(store)
	jobQueue.SetDefaultMaxAttempts(cfg.Queue.MaxAttempts)
	pool := worker.New(jobQueue, resultCache, tracker, runner, deliverer, worker.Config{
		Concurrency:      cfg.Queue.Concurrency,
		PollInterval:     cfg.Queue.PollInterval,
		LockDuration:     cfg.Queue.LockDuration,
		ExecTimeout:      cfg.Backend.Timeout,
		QueueRetry:       cfg.QueueRetry(),
		SweepInterval:    cfg.Queue.SweepInterval,
		SnapshotInterval: cfg.Queue.SnapshotInterval,
		RetentionKeep:    cfg.Queue.RetentionKeep,
		ReaperSchedule:   cfg.Queue.ReaperSchedule,
	}, logger)

	service := submit.New(jobQueue, resultCache, tracker, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           newRouter(service, jobQueue, resultCache, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		err := pool.Start(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		logEvents(gctx, jobQueue, logger)
		return nil
	})

	err = g.Wait()

	if sqlDB, dbErr := db.DB(); dbErr == nil {
		_ = sqlDB.Close()
	}
	logger.Info("shutdown complete")
	return err
}

// logEvents is the default observability subscriber: it logs lifecycle
// events and periodic queue-depth snapshots.
func logEvents(ctx context.Context, q *queue.Queue, logger *slog.Logger) {
	events := q.Events()
	defer q.Unsubscribe(events)

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-events:
			switch ev := e.(type) {
			case *core.JobCompleted:
				logger.Info("job completed",
					"job_id", ev.Job.ID, "from_cache", ev.FromCache, "duration", ev.Duration)
			case *core.JobFailed:
				logger.Error("job failed", "job_id", ev.Job.ID, "error", ev.Error)
			case *core.JobStalled:
				logger.Warn("job stalled", "job_id", ev.Job.ID)
			case *core.QueueSnapshot:
				logger.Debug("queue depth", "depths", ev.Depths)
			}
		}
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
