package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/park-brian/nd2-converter/internal/domain/entity"
	"github.com/park-brian/nd2-converter/internal/domain/port"
	"github.com/park-brian/nd2-converter/internal/infra/bfconvert"
	"github.com/park-brian/nd2-converter/internal/infra/metrics"
)

// ProcessJobUseCase executes one JobRequest end-to-end: download, convert,
// upload and presign each input in request order, then notify. It always
// returns a definite Outcome so the consumer's control flow stays
// unconditional.
type ProcessJobUseCase struct {
	storage    port.ObjectStorage
	converter  port.Converter
	dispatcher port.Dispatcher
	repo       port.JobRepository
	logger     *zap.Logger
	cfg        ProcessJobConfig
}

type ProcessJobConfig struct {
	TempDir         string
	OutputBucket    string
	OutputPrefix    string
	OutputExtension string
	SignedURLTTL    time.Duration
	SupportEmail    string
}

func NewProcessJobUseCase(
	storage port.ObjectStorage,
	converter port.Converter,
	dispatcher port.Dispatcher,
	repo port.JobRepository,
	logger *zap.Logger,
	cfg ProcessJobConfig,
) *ProcessJobUseCase {
	return &ProcessJobUseCase{
		storage:    storage,
		converter:  converter,
		dispatcher: dispatcher,
		repo:       repo,
		logger:     logger,
		cfg:        cfg,
	}
}

func (uc *ProcessJobUseCase) Execute(ctx context.Context, req *entity.JobRequest) entity.Outcome {
	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "ProcessJob.Execute")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", req.ID))

	log := uc.logger.With(zap.String("job_id", req.ID))
	log.Info("processing job",
		zap.Int("files", len(req.Files)),
		zap.Int("tile_x", req.TileSizeX),
		zap.Int("tile_y", req.TileSizeY),
	)

	metrics.ActiveJobs.Inc()
	defer metrics.ActiveJobs.Dec()
	start := time.Now()

	job := entity.NewJob(req)
	job.MarkProcessing()
	uc.recordStatus(ctx, job, log)

	links, err := uc.runPipeline(ctx, req, log)
	if err != nil {
		log.Error("job failed", zap.Error(err))
		toolOutput := converterOutput(err)
		uc.notifyFailure(ctx, req, err, toolOutput, log)

		job.MarkFailed(err.Error())
		uc.updateStatus(ctx, job, log)

		metrics.JobsProcessedTotal.WithLabelValues("failed").Inc()
		return entity.Failure(err.Error(), toolOutput)
	}

	uc.notifySuccess(ctx, req, links, log)

	outputKeys := make([]string, 0, len(req.Files))
	for _, f := range req.Files {
		outputKeys = append(outputKeys, req.OutputKey(uc.cfg.OutputPrefix, uc.cfg.OutputExtension, f))
	}
	job.MarkCompleted(outputKeys)
	uc.updateStatus(ctx, job, log)

	metrics.JobsProcessedTotal.WithLabelValues("completed").Inc()
	metrics.JobStageDuration.WithLabelValues("total").Observe(time.Since(start).Seconds())

	log.Info("job completed", zap.Int("outputs", len(links)), zap.Duration("elapsed", time.Since(start)))
	return entity.Success(links)
}

// runPipeline performs the N download/convert/upload cycles in request order,
// aborting on the first failure. Any panic below this point is converted into
// an error so Execute can produce failure notifications and a terminal
// outcome.
func (uc *ProcessJobUseCase) runPipeline(ctx context.Context, req *entity.JobRequest, log *zap.Logger) (links []entity.OutputLink, err error) {
	defer func() {
		if r := recover(); r != nil {
			links = nil
			err = fmt.Errorf("unexpected fault: %v", r)
		}
	}()

	workDir := filepath.Join(uc.cfg.TempDir, req.ID)
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, fmt.Errorf("create workdir: %w", err)
	}
	defer os.RemoveAll(workDir)

	tracer := otel.Tracer("usecase")
	params := port.ConversionParams{
		TileSizeX:          req.TileSizeX,
		TileSizeY:          req.TileSizeY,
		PyramidResolutions: req.PyramidResolutions,
		PyramidScale:       req.PyramidScale,
	}

	for _, f := range req.Files {
		inputPath := filepath.Join(workDir, path.Base(f.Key))
		outputName := entity.OutputFileName(f.Key, uc.cfg.OutputExtension)
		outputPath := filepath.Join(workDir, outputName)
		outputKey := req.OutputKey(uc.cfg.OutputPrefix, uc.cfg.OutputExtension, f)

		dlStart := time.Now()
		dlCtx, dlSpan := tracer.Start(ctx, "download")
		err := uc.storage.Download(dlCtx, f.Bucket, f.Key, inputPath)
		dlSpan.End()
		if err != nil {
			return nil, fmt.Errorf("download %s: %w", f.Key, err)
		}
		metrics.JobStageDuration.WithLabelValues("download").Observe(time.Since(dlStart).Seconds())

		cvStart := time.Now()
		cvCtx, cvSpan := tracer.Start(ctx, "convert")
		err = uc.converter.Convert(cvCtx, inputPath, outputPath, params)
		cvSpan.End()
		if err != nil {
			return nil, fmt.Errorf("convert %s: %w", f.Key, err)
		}
		metrics.JobStageDuration.WithLabelValues("convert").Observe(time.Since(cvStart).Seconds())

		upStart := time.Now()
		upCtx, upSpan := tracer.Start(ctx, "upload")
		err = uc.storage.Upload(upCtx, outputPath, uc.cfg.OutputBucket, outputKey)
		upSpan.End()
		if err != nil {
			return nil, fmt.Errorf("upload %s: %w", outputKey, err)
		}
		metrics.JobStageDuration.WithLabelValues("upload").Observe(time.Since(upStart).Seconds())

		url, err := uc.storage.SignedURL(ctx, uc.cfg.OutputBucket, outputKey, uc.cfg.SignedURLTTL)
		if err != nil {
			return nil, fmt.Errorf("presign %s: %w", outputKey, err)
		}
		links = append(links, entity.OutputLink{FileName: outputName, URL: url})

		log.Info("file converted",
			zap.String("input_key", f.Key),
			zap.String("output_key", outputKey),
		)
	}

	return links, nil
}

func (uc *ProcessJobUseCase) notifySuccess(ctx context.Context, req *entity.JobRequest, links []entity.OutputLink, log *zap.Logger) {
	if req.Email == "" {
		return
	}

	var items strings.Builder
	for _, l := range links {
		fmt.Fprintf(&items, `<li><a href="%s">%s</a></li>`, l.URL, l.FileName)
	}

	vars := map[string]string{
		"originalTimestamp": req.SubmittedAt().Format(time.RFC1123),
		"resultsUrls":       items.String(),
	}
	if err := uc.dispatcher.UserSuccess(ctx, req.Email, vars); err != nil {
		log.Error("failed to send success notification", zap.Error(err))
	}
}

// notifyFailure sends the detailed operator mail unconditionally and a
// simplified mail to the submitter when an address was supplied. Send faults
// are logged; they never change the job's outcome.
func (uc *ProcessJobUseCase) notifyFailure(ctx context.Context, req *entity.JobRequest, jobErr error, toolOutput string, log *zap.Logger) {
	paramsJSON, _ := json.MarshalIndent(req, "", "    ")
	vars := map[string]string{
		"id":                req.ID,
		"parameters":        string(paramsJSON),
		"originalTimestamp": req.SubmittedAt().Format(time.RFC1123),
		"exception":         jobErr.Error(),
		"toolOutput":        toolOutput,
		"supportEmail":      uc.cfg.SupportEmail,
	}

	if err := uc.dispatcher.AdminFailure(ctx, req.ID, vars); err != nil {
		log.Error("failed to send operator notification", zap.Error(err))
	}
	if req.Email != "" {
		if err := uc.dispatcher.UserFailure(ctx, req.Email, vars); err != nil {
			log.Error("failed to send user failure notification", zap.Error(err))
		}
	}
}

func (uc *ProcessJobUseCase) recordStatus(ctx context.Context, job *entity.Job, log *zap.Logger) {
	// the row may already exist when the job came through the submission
	// endpoint, or on redelivery
	if err := uc.repo.Create(ctx, job); err != nil {
		log.Error("failed to create job record", zap.Error(err))
		return
	}
	uc.updateStatus(ctx, job, log)
}

func (uc *ProcessJobUseCase) updateStatus(ctx context.Context, job *entity.Job, log *zap.Logger) {
	if err := uc.repo.Update(ctx, job); err != nil {
		log.Error("failed to update job record", zap.Error(err))
	}
}

func converterOutput(err error) string {
	var exitErr *bfconvert.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Output
	}
	return ""
}
