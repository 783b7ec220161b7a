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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"

	"example.com/steps/internal/api"
	"example.com/steps/internal/blob"
	"example.com/steps/internal/config"
	"example.com/steps/internal/consumer"
	"example.com/steps/internal/domain"
	"example.com/steps/internal/ingest"
	"example.com/steps/internal/logging"
	persistence "example.com/steps/internal/persistence/postgres"
	"example.com/steps/internal/queue"
	httptransport "example.com/steps/internal/transport/http"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, logCloser, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, Service: "steps-api"})
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer pool.Close()

	if err := persistence.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	blobs, err := blob.Open(blob.Config{Path: cfg.BlobPath, InMemory: cfg.BlobInMemory})
	if err != nil {
		return err
	}
	defer blobs.Close()

	publisher := queue.NewPublisher(cfg.KafkaBrokers, cfg.UploadTopic)
	defer publisher.Close()

	repo := persistence.NewRepository(pool)
	trends := domain.NewTrendService(repo, domain.WithLocation(cfg.Location()))

	handler := api.NewHandler(blobs, publisher, trends,
		api.WithLogger(logger.With("component", "api")),
		api.WithMaxUploadBytes(cfg.MaxUploadBytes),
	)
	router := httptransport.NewRouter(handler, logger, cfg.CORSOrigins)

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:           cfg.HTTPAddress,
		ReadTimeout:       5 * time.Minute,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}, router)

	// The blob directory is locked by this process, so ingestion runs here as well.
	pipeline := ingest.NewPipeline(blobs, repo, ingest.WithLogger(logger.With("component", "ingest")))
	readerConfig := kafka.ReaderConfig{
		Brokers:         cfg.KafkaBrokers,
		GroupID:         cfg.ConsumerGroupID,
		Topic:           cfg.UploadTopic,
		MinBytes:        1,
		MaxBytes:        10e6,
		CommitInterval:  0,
		RetentionTime:   24 * time.Hour,
		ReadLagInterval: -1,
	}
	ingestHandler := consumer.NewIngestHandler(pipeline)

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)

		logger.Info("ingest consumer started", slog.String("topic", cfg.UploadTopic), slog.String("group", cfg.ConsumerGroupID))
		for {
			// A fresh reader rejoins the group at the last committed offset.
			reader := kafka.NewReader(readerConfig)
			proc := consumer.NewProcessor(reader, ingestHandler,
				consumer.WithLogger(logger.With("component", "consumer")),
			)
			err := proc.Run(ctx)
			_ = reader.Close()
			if ctx.Err() != nil || err == nil || errors.Is(err, context.Canceled) {
				return
			}
			logger.Error("ingest consumer stopped, rejoining group", slog.Any("error", err))
		}
	}()

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("steps api listening", slog.String("address", cfg.HTTPAddress))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-shutdownCh:
	case err := <-errCh:
		serveErr = fmt.Errorf("server error: %w", err)
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
	}

	<-consumerDone
	return serveErr
}
