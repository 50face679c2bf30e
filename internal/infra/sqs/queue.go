package sqs

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/park-brian/nd2-converter/internal/domain/port"
)

// Queue adapts an SQS queue pair (main + dead-letter) to the pipeline's
// claim/extend/delete/dead-letter protocol. The visibility timeout is set on
// every claim and reset by each lease extension.
type Queue struct {
	client            *awssqs.Client
	queueURL          string
	errorQueueURL     string
	visibilityTimeout time.Duration
	waitTime          time.Duration
}

type QueueConfig struct {
	Region        string
	Endpoint      string // non-empty for localstack/elasticmq
	AccessKey     string
	SecretKey     string
	QueueURL      string
	ErrorQueueURL string

	VisibilityTimeout time.Duration
	WaitTime          time.Duration
}

func New(ctx context.Context, cfg QueueConfig) (*Queue, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := awssqs.NewFromConfig(awsCfg, func(o *awssqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &Queue{
		client:            client,
		queueURL:          cfg.QueueURL,
		errorQueueURL:     cfg.ErrorQueueURL,
		visibilityTimeout: cfg.VisibilityTimeout,
		waitTime:          cfg.WaitTime,
	}, nil
}

// Claim fetches at most one message. Processing concurrency comes from
// running multiple worker processes, not from batching claims.
func (q *Queue) Claim(ctx context.Context) (*port.Message, error) {
	out, err := q.client.ReceiveMessage(ctx, &awssqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     int32(q.waitTime / time.Second),
		VisibilityTimeout:   int32(q.visibilityTimeout / time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("receive message: %w", err)
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}
	msg := out.Messages[0]
	return &port.Message{
		Body:          []byte(aws.ToString(msg.Body)),
		ReceiptHandle: aws.ToString(msg.ReceiptHandle),
	}, nil
}

func (q *Queue) ExtendLease(ctx context.Context, receiptHandle string, d time.Duration) error {
	_, err := q.client.ChangeMessageVisibility(ctx, &awssqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.queueURL),
		ReceiptHandle:     aws.String(receiptHandle),
		VisibilityTimeout: int32(d / time.Second),
	})
	if err != nil {
		return fmt.Errorf("change message visibility: %w", err)
	}
	return nil
}

func (q *Queue) Delete(ctx context.Context, receiptHandle string) error {
	_, err := q.client.DeleteMessage(ctx, &awssqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

func (q *Queue) PublishDeadLetter(ctx context.Context, body []byte) error {
	_, err := q.client.SendMessage(ctx, &awssqs.SendMessageInput{
		QueueUrl:    aws.String(q.errorQueueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("send to error queue: %w", err)
	}
	return nil
}

// Publish enqueues a new job request on the main queue (submission side).
func (q *Queue) Publish(ctx context.Context, body []byte) error {
	_, err := q.client.SendMessage(ctx, &awssqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}
