package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/escolalab/class-reports-back/internal/config"
	"github.com/escolalab/class-reports-back/internal/domain"
	"github.com/escolalab/class-reports-back/internal/generator"
	httpserver "github.com/escolalab/class-reports-back/internal/http"
	"github.com/escolalab/class-reports-back/internal/http/handlers"
	"github.com/escolalab/class-reports-back/internal/queue"
	"github.com/escolalab/class-reports-back/internal/repository"
	"github.com/escolalab/class-reports-back/internal/service"
	"github.com/escolalab/class-reports-back/internal/storage"
	"github.com/escolalab/class-reports-back/internal/worker"
)

// blobStore is what the generators (upload side) and the query surface
// (presign side) need from object storage.
type blobStore interface {
	generator.BlobUploader
	service.BlobPresigner
}

// reportsStore is the repository plus the participation row stream the
// generators read from.
type reportsStore interface {
	repository.ReportsRepository
	repository.ParticipationSource
}

func main() {
	logger := log.New(os.Stdout, "[reports-api] ", log.LstdFlags|log.LUTC|log.Lmicroseconds)
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		logger.Printf("failed loading .env files: %v", err)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, repoCloser := setupRepository(ctx, cfg, logger)
	defer repoCloser()

	producer, consumer, queueCloser := setupQueue(ctx, cfg, logger)
	defer queueCloser()

	blobs := setupBlobStore(ctx, cfg, logger)

	generators := generator.NewRegistry()
	generators.Register(domain.ReportKindPDF, generator.NewPDFGenerator(repo, blobs, logger))
	generators.Register(domain.ReportKindXLSX, generator.NewXLSXGenerator(repo, blobs, logger))

	reportsService := service.NewReportsService(repo, repo, producer, blobs, cfg.PresignTTL, logger)
	api := handlers.NewAPI(reportsService)

	handler := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		AuthToken:      cfg.AuthToken,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	if cfg.WorkerEnabled {
		processor := worker.NewProcessor(consumer, repo, generators, worker.ProcessorConfig{
			MaxAttempts: cfg.QueueMaxAttempts,
			Logger:      logger,
		})
		go processor.Start(ctx)
		logger.Printf("embedded worker enabled and started")
	} else {
		logger.Printf("embedded worker disabled by configuration")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Printf("api listening on :%s", cfg.Port)
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Printf("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

func setupRepository(ctx context.Context, cfg config.Config, logger *log.Logger) (reportsStore, func()) {
	if cfg.DatabaseURL == "" {
		logger.Printf("DATABASE_URL not configured, using in-memory repository")
		return repository.NewMemoryReportsRepository(), func() {}
	}

	pgRepo, err := repository.NewPostgresReportsRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		// A configured but unreachable database is a deployment fault;
		// degrading to memory would silently discard every request.
		logger.Fatalf("failed to initialize postgres repository: %v", err)
	}
	logger.Printf("postgres repository initialized")
	return pgRepo, func() {
		pgRepo.Close()
	}
}

func setupQueue(ctx context.Context, cfg config.Config, logger *log.Logger) (queue.Producer, queue.Consumer, func()) {
	if cfg.RedisAddr == "" {
		logger.Printf("REDIS_ADDR not configured, using local queue fallback")
		local := queue.NewLocalQueue(128, cfg.QueueMaxAttempts, cfg.QueueBackoff, logger)
		return local, local, func() {}
	}

	streams, err := queue.NewStreamsQueue(ctx, queue.StreamsConfig{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		Stream:       cfg.RedisStream,
		DLQStream:    cfg.RedisDLQ,
		Group:        cfg.RedisGroup,
		Consumer:     cfg.RedisConsumer,
		MaxAttempts:  cfg.QueueMaxAttempts,
		Concurrency:  cfg.WorkerConcurrency,
		BackoffBase:  cfg.QueueBackoff,
		ClaimMinIdle: cfg.QueueClaimMinIdle,
	})
	if err != nil {
		logger.Fatalf("failed to initialize redis streams queue: %v", err)
	}
	logger.Printf("redis streams queue initialized")
	return streams, streams, func() {
		_ = streams.Close()
	}
}

func setupBlobStore(ctx context.Context, cfg config.Config, logger *log.Logger) blobStore {
	if cfg.S3Bucket == "" {
		logger.Printf("S3_BUCKET not configured, using in-memory blob store")
		return storage.NewMemoryBlobStore()
	}

	s3Store, err := storage.NewS3Storage(ctx, storage.S3Config{
		Endpoint:        cfg.S3Endpoint,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKey,
		SecretAccessKey: cfg.S3SecretKey,
		Bucket:          cfg.S3Bucket,
		ForcePathStyle:  cfg.S3ForcePathStyle,
	})
	if err != nil {
		logger.Fatalf("failed to initialize s3 storage: %v", err)
	}
	logger.Printf("s3 blob store initialized bucket=%s", cfg.S3Bucket)
	return s3Store
}
