package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/park-brian/nd2-converter/internal/infra/config"
	miniostorage "github.com/park-brian/nd2-converter/internal/infra/minio"
	"github.com/park-brian/nd2-converter/internal/infra/postgres"
	sqsqueue "github.com/park-brian/nd2-converter/internal/infra/sqs"
	"github.com/park-brian/nd2-converter/internal/server"
	"github.com/park-brian/nd2-converter/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	fatalOnErr(err, "load config")

	log, err := logger.New(cfg.LogLevel)
	fatalOnErr(err, "init logger")
	defer log.Sync()

	log.Info("starting nd2-converter server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	fatalOnErr(err, "connect to postgres")
	defer pool.Close()

	if err := postgres.RunMigrations(cfg.DatabaseURL, "migrations"); err != nil {
		log.Warn("migration warning", zap.Error(err))
	}

	storage, err := miniostorage.NewStorage(miniostorage.StorageConfig{
		Endpoint:  cfg.MinIOEndpoint,
		AccessKey: cfg.MinIOAccessKey,
		SecretKey: cfg.MinIOSecretKey,
		UseSSL:    cfg.MinIOUseSSL,
	})
	fatalOnErr(err, "create storage client")
	fatalOnErr(storage.EnsureBucket(ctx, cfg.Bucket), "ensure storage bucket")

	queue, err := sqsqueue.New(ctx, sqsqueue.QueueConfig{
		Region:            cfg.AWSRegion,
		Endpoint:          cfg.SQSEndpoint,
		QueueURL:          cfg.QueueURL,
		ErrorQueueURL:     cfg.ErrorQueueURL,
		VisibilityTimeout: cfg.VisibilityTimeout,
		WaitTime:          cfg.ReceiveWaitTime,
	})
	fatalOnErr(err, "create queue client")

	fatalOnErr(os.MkdirAll(cfg.TempDir, 0755), "create temp dir")

	repo := postgres.NewJobRepository(pool)
	srv := server.New(storage, queue, repo, log, server.Config{
		Bucket:        cfg.Bucket,
		InputPrefix:   cfg.InputPrefix,
		MaxUploadSize: cfg.MaxUploadSize,
		TempDir:       cfg.TempDir,
	})

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.ServerPort),
		Handler: srv.Router(),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpSrv.Shutdown(shutdownCtx)
		cancel()
	}()

	log.Info("nd2-converter server listening", zap.Int("port", cfg.ServerPort))
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", zap.Error(err))
	}

	log.Info("nd2-converter server stopped")
}

func fatalOnErr(err error, msg string) {
	if err != nil {
		panic(msg + ": " + err.Error())
	}
}
