package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/park-brian/nd2-converter/internal/domain/entity"
	"github.com/park-brian/nd2-converter/internal/domain/port"
	"github.com/park-brian/nd2-converter/internal/infra/metrics"
)

// Consumer runs the claim/process/acknowledge loop against the queue. One
// message is claimed at a time; processing concurrency comes from running
// multiple worker processes, coordinated only by the queue's own
// single-visible-consumer guarantee.
type Consumer struct {
	queue    port.Queue
	storage  port.ObjectStorage
	executor port.Executor
	logger   *zap.Logger
	cfg      Config
}

type Config struct {
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	VisibilityTimeout time.Duration
}

// errMetadataUnavailable marks a metadata lookup fault on an event-triggered
// message, which is retryable and must not be treated as a malformed body.
var errMetadataUnavailable = errors.New("object metadata unavailable")

func New(queue port.Queue, storage port.ObjectStorage, executor port.Executor, logger *zap.Logger, cfg Config) *Consumer {
	return &Consumer{
		queue:    queue,
		storage:  storage,
		executor: executor,
		logger:   logger,
		cfg:      cfg,
	}
}

// Start loops until ctx is cancelled. Queue faults are logged and swallowed;
// the consumer process never crashes over them. A crashed claim would only
// leave the message to expire its lease and be redelivered.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started",
		zap.Duration("poll_interval", c.cfg.PollInterval),
		zap.Duration("heartbeat_interval", c.cfg.HeartbeatInterval),
		zap.Duration("visibility_timeout", c.cfg.VisibilityTimeout),
	)

	for {
		c.runOnce(ctx)

		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopped")
			return ctx.Err()
		case <-time.After(c.cfg.PollInterval):
		}
	}
}

func (c *Consumer) runOnce(ctx context.Context) {
	msg, err := c.queue.Claim(ctx)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Error("failed to claim message", zap.Error(err))
		}
		return
	}
	if msg == nil {
		return
	}
	c.process(ctx, msg)
}

func (c *Consumer) process(ctx context.Context, msg *port.Message) {
	req, err := c.resolveRequest(ctx, msg.Body)
	if err != nil {
		if errors.Is(err, errMetadataUnavailable) {
			// the body is fine, the metadata read failed; leave the claim to
			// lapse so the message redelivers after the visibility timeout
			c.logger.Warn("metadata lookup failed, leaving message for redelivery", zap.Error(err))
			return
		}
		// malformed message: dead-letter and acknowledge instead of letting
		// it be redelivered forever
		c.logger.Error("malformed message", zap.Error(err), zap.ByteString("body", msg.Body))
		c.deadLetter(ctx, msg.Body)
		c.delete(ctx, msg)
		return
	}

	log := c.logger.With(zap.String("job_id", req.ID))
	log.Info("claimed message")

	hb := c.startHeartbeat(ctx, msg.ReceiptHandle, log)
	outcome := c.executeGuarded(ctx, req, hb)

	if !outcome.Succeeded {
		log.Warn("job failed, dead-lettering message", zap.String("error", outcome.Err))
		c.deadLetter(ctx, msg.Body)
	}
	c.delete(ctx, msg)
}

// executeGuarded invokes the executor with the heartbeat running and stops
// it on every exit path, including an unexpected fault inside the executor.
func (c *Consumer) executeGuarded(ctx context.Context, req *entity.JobRequest, hb *heartbeat) (out entity.Outcome) {
	defer hb.Stop()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("executor fault", zap.String("job_id", req.ID), zap.Any("fault", r))
			out = entity.Failure(fmt.Sprintf("unexpected fault: %v", r), "")
		}
	}()
	return c.executor.Execute(ctx, req)
}

// resolveRequest parses the message body as an explicit JobRequest, falling
// back to an object-created event whose parameters live in the object's user
// metadata.
func (c *Consumer) resolveRequest(ctx context.Context, body []byte) (*entity.JobRequest, error) {
	req, reqErr := entity.ParseJobRequest(body)
	if reqErr == nil {
		return req, nil
	}

	evt, evtErr := entity.ParseObjectCreatedEvent(body)
	if evtErr != nil {
		return nil, reqErr
	}
	meta, err := c.storage.HeadMetadata(ctx, evt.Bucket, evt.Key)
	if err != nil {
		return nil, fmt.Errorf("%w for %s/%s: %v", errMetadataUnavailable, evt.Bucket, evt.Key, err)
	}
	return entity.RequestFromObjectMetadata(evt, meta, time.Now().UTC())
}

// deadLetter forwards the original body verbatim. Best effort: a failed
// publish is logged and counted, not retried inline.
func (c *Consumer) deadLetter(ctx context.Context, body []byte) {
	if err := c.queue.PublishDeadLetter(ctx, body); err != nil {
		metrics.DeadLetterFailuresTotal.Inc()
		c.logger.Error("failed to publish to dead-letter queue", zap.Error(err))
		return
	}
	metrics.DeadLettersTotal.Inc()
}

// delete acknowledges the message. This happens exactly once per claim,
// whether the job succeeded or was dead-lettered.
func (c *Consumer) delete(ctx context.Context, msg *port.Message) {
	if err := c.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
		c.logger.Error("failed to delete message", zap.Error(err))
	}
}
