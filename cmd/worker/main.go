// cmd/worker/main.go
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"receipt-scan-service/internal/blob"
	"receipt-scan-service/internal/config"
	"receipt-scan-service/internal/extraction"
	"receipt-scan-service/internal/logging"
	"receipt-scan-service/internal/notify"
	"receipt-scan-service/internal/repository/postgresql"
	"receipt-scan-service/internal/service"
	"receipt-scan-service/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", logging.FieldError, err)
		os.Exit(1)
	}

	log, err := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		slog.Error("init logger", logging.FieldError, err)
		os.Exit(1)
	}
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("worker stopped with error", logging.FieldError, err)
		os.Exit(1)
	}
	log.Info("worker stopped")
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Postgres
	pool, err := postgresql.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := postgresql.Migrate(pool); err != nil {
		return err
	}

	// Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return err
	}

	// MinIO
	images, err := blob.NewMinioStore(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioUseSSL, cfg.MinioBucket)
	if err != nil {
		return err
	}

	extractor, err := extraction.NewHTTPClient(cfg.ExtractorURL, cfg.ExtractorAPIKey, cfg.ExtractorTimeout, log)
	if err != nil {
		return err
	}
	if cfg.ExtractorURL == "" {
		log.Warn("EXTRACTOR_URL is empty: every job will fail at extraction")
	}

	// DI
	repo := postgresql.NewJobRepository(pool)
	catalog := postgresql.NewCatalogRepository(pool)
	queue := service.NewRedisQueue(rdb, service.QueueKeys{
		Queue:      cfg.QueueKey,
		Processing: cfg.ProcessingKey,
		Claimed:    cfg.ClaimedKey,
	})
	publisher := notify.NewRedisPublisher(rdb, cfg.ProgressChannel)

	processor := worker.NewProcessor(repo, catalog, images, extractor, publisher, log, cfg.JobTimeout)
	workers := worker.NewPool(queue, processor, cfg.Workers, log)
	reaper := worker.NewReaper(queue, cfg.ReaperInterval, cfg.StaleAfter, log)
	janitor := worker.NewJanitor(repo, images, cfg.JanitorInterval, cfg.Retention, log)

	log.Info("worker started",
		logging.FieldWorker, cfg.Workers,
		"redis_addr", cfg.RedisAddr,
		"queue_key", cfg.QueueKey,
		"processing_key", cfg.ProcessingKey,
		"postgres_dsn", cfg.RedactedDSN(),
		"job_timeout", cfg.JobTimeout,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return workers.Run(gctx) })
	g.Go(func() error { return reaper.Run(gctx) })
	g.Go(func() error { return janitor.Run(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
