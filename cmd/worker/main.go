package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/park-brian/nd2-converter/internal/consumer"
	"github.com/park-brian/nd2-converter/internal/infra/bfconvert"
	"github.com/park-brian/nd2-converter/internal/infra/config"
	"github.com/park-brian/nd2-converter/internal/infra/email"
	"github.com/park-brian/nd2-converter/internal/infra/metrics"
	miniostorage "github.com/park-brian/nd2-converter/internal/infra/minio"
	"github.com/park-brian/nd2-converter/internal/infra/postgres"
	sqsqueue "github.com/park-brian/nd2-converter/internal/infra/sqs"
	"github.com/park-brian/nd2-converter/internal/infra/tracing"
	"github.com/park-brian/nd2-converter/internal/notify"
	"github.com/park-brian/nd2-converter/internal/usecase"
	"github.com/park-brian/nd2-converter/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	fatalOnErr(err, "load config")

	log, err := logger.New(cfg.LogLevel)
	fatalOnErr(err, "init logger")
	defer log.Sync()

	log.Info("starting nd2-converter worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing (non-fatal if the collector is unavailable)
	tp, err := tracing.InitTracer(ctx, cfg.OTLPEndpoint)
	if err != nil {
		log.Warn("tracing init failed, continuing without tracing", zap.Error(err))
	} else {
		defer tp.Shutdown(ctx)
	}

	// Database
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	fatalOnErr(err, "connect to postgres")
	defer pool.Close()

	if err := postgres.RunMigrations(cfg.DatabaseURL, "migrations"); err != nil {
		log.Warn("migration warning", zap.Error(err))
	}

	// Object storage
	storage, err := miniostorage.NewStorage(miniostorage.StorageConfig{
		Endpoint:  cfg.MinIOEndpoint,
		AccessKey: cfg.MinIOAccessKey,
		SecretKey: cfg.MinIOSecretKey,
		UseSSL:    cfg.MinIOUseSSL,
	})
	fatalOnErr(err, "create storage client")
	fatalOnErr(storage.EnsureBucket(ctx, cfg.Bucket), "ensure storage bucket")

	// Queue
	queue, err := sqsqueue.New(ctx, sqsqueue.QueueConfig{
		Region:            cfg.AWSRegion,
		Endpoint:          cfg.SQSEndpoint,
		QueueURL:          cfg.QueueURL,
		ErrorQueueURL:     cfg.ErrorQueueURL,
		VisibilityTimeout: cfg.VisibilityTimeout,
		WaitTime:          cfg.ReceiveWaitTime,
	})
	fatalOnErr(err, "create queue client")

	// Working directory root
	fatalOnErr(os.MkdirAll(cfg.TempDir, 0755), "create temp dir")

	// Adapters
	repo := postgres.NewJobRepository(pool)
	converter := bfconvert.New(cfg.ConverterPath, cfg.ConverterMaxMem, log)
	mailer := email.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.MailSender, log)
	dispatcher := notify.NewEmailDispatcher(mailer, cfg.AdminEmail)

	// Job executor
	executor := usecase.NewProcessJobUseCase(
		storage, converter, dispatcher, repo, log,
		usecase.ProcessJobConfig{
			TempDir:         cfg.TempDir,
			OutputBucket:    cfg.Bucket,
			OutputPrefix:    cfg.OutputPrefix,
			OutputExtension: cfg.OutputExtension,
			SignedURLTTL:    cfg.SignedURLTTL,
			SupportEmail:    cfg.AdminEmail,
		},
	)

	// Metrics server
	metricsSrv := metrics.StartMetricsServer(ctx, cfg.MetricsPort, log)

	// Queue consumer
	cons := consumer.New(queue, storage, executor, log, consumer.Config{
		PollInterval:      cfg.PollInterval,
		HeartbeatInterval: cfg.HeartbeatInterval,
		VisibilityTimeout: cfg.VisibilityTimeout,
	})

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	log.Info("nd2-converter worker started, polling queue")

	if err := cons.Start(ctx); err != nil && err != context.Canceled {
		log.Error("consumer error", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Shutdown(shutdownCtx)

	log.Info("nd2-converter worker stopped")
}

func fatalOnErr(err error, msg string) {
	if err != nil {
		panic(msg + ": " + err.Error())
	}
}
