// cmd/api/main.go
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"receipt-scan-service/internal/blob"
	"receipt-scan-service/internal/config"
	"receipt-scan-service/internal/logging"
	"receipt-scan-service/internal/notify"
	"receipt-scan-service/internal/repository/postgresql"
	"receipt-scan-service/internal/service"
	httptransport "receipt-scan-service/internal/transport/http"
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
		log.Error("api stopped with error", logging.FieldError, err)
		os.Exit(1)
	}
	log.Info("api stopped")
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

	// DI
	repo := postgresql.NewJobRepository(pool)
	queue := service.NewRedisQueue(rdb, service.QueueKeys{
		Queue:      cfg.QueueKey,
		Processing: cfg.ProcessingKey,
		Claimed:    cfg.ClaimedKey,
	})
	scanSvc := service.NewScanService(repo, queue, images, cfg.MaxUploadBytes)

	hub := notify.NewHub()
	relay := notify.NewRelay(rdb, cfg.ProgressChannel, hub, log)

	h := httptransport.NewHandler(scanSvc, hub, map[string]httptransport.Check{
		"postgres": pool.Ping,
		"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		"minio":    images.Ping,
	}, log)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httptransport.Routes(h, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("api started",
		"addr", cfg.HTTPAddr,
		"redis_addr", cfg.RedisAddr,
		"queue_key", cfg.QueueKey,
		"postgres_dsn", cfg.RedactedDSN(),
		"max_upload_bytes", cfg.MaxUploadBytes,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return relay.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
