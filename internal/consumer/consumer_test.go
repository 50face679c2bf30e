package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/park-brian/nd2-converter/internal/domain/entity"
	"github.com/park-brian/nd2-converter/internal/domain/port"
)

type fakeQueue struct {
	mu            sync.Mutex
	claimErr      error
	extendErr     error
	deleteErr     error
	deadLetterErr error

	extends     int
	deletes     []string
	deadLetters [][]byte
}

func (q *fakeQueue) Claim(context.Context) (*port.Message, error) {
	return nil, q.claimErr
}

func (q *fakeQueue) ExtendLease(_ context.Context, _ string, _ time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.extendErr != nil {
		return q.extendErr
	}
	q.extends++
	return nil
}

func (q *fakeQueue) Delete(_ context.Context, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deletes = append(q.deletes, receiptHandle)
	return q.deleteErr
}

func (q *fakeQueue) PublishDeadLetter(_ context.Context, body []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deadLetterErr != nil {
		return q.deadLetterErr
	}
	q.deadLetters = append(q.deadLetters, body)
	return nil
}

func (q *fakeQueue) extendCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.extends
}

type fakeExecutor struct {
	mu       sync.Mutex
	requests []*entity.JobRequest
	fn       func(ctx context.Context, req *entity.JobRequest) entity.Outcome
}

func (e *fakeExecutor) Execute(ctx context.Context, req *entity.JobRequest) entity.Outcome {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	e.mu.Unlock()
	if e.fn != nil {
		return e.fn(ctx, req)
	}
	return entity.Success(nil)
}

type fakeStorage struct {
	metadata map[string]string
	headErr  error
}

func (s *fakeStorage) Download(context.Context, string, string, string) error { return nil }
func (s *fakeStorage) Upload(context.Context, string, string, string) error  { return nil }
func (s *fakeStorage) HeadMetadata(context.Context, string, string) (map[string]string, error) {
	return s.metadata, s.headErr
}
func (s *fakeStorage) SignedURL(context.Context, string, string, time.Duration) (string, error) {
	return "", nil
}

func newTestConsumer(q port.Queue, exec port.Executor, storage port.ObjectStorage) *Consumer {
	return New(q, storage, exec, zap.NewNop(), Config{
		PollInterval:      time.Millisecond,
		HeartbeatInterval: 5 * time.Millisecond,
		VisibilityTimeout: 50 * time.Millisecond,
	})
}

const validBody = `{"id": "abc", "files": [{"bucket": "in", "key": "uploads/abc/sample.nd2"}]}`

func TestProcessSuccessDeletesWithoutDeadLetter(t *testing.T) {
	q := &fakeQueue{}
	exec := &fakeExecutor{}
	c := newTestConsumer(q, exec, &fakeStorage{})

	c.process(context.Background(), &port.Message{Body: []byte(validBody), ReceiptHandle: "rh-1"})

	require.Len(t, exec.requests, 1)
	assert.Equal(t, "abc", exec.requests[0].ID)
	assert.Equal(t, []string{"rh-1"}, q.deletes)
	assert.Empty(t, q.deadLetters)
}

func TestProcessFailureDeadLettersVerbatimThenDeletes(t *testing.T) {
	q := &fakeQueue{}
	exec := &fakeExecutor{fn: func(context.Context, *entity.JobRequest) entity.Outcome {
		return entity.Failure("convert failed", "stderr output")
	}}
	c := newTestConsumer(q, exec, &fakeStorage{})

	c.process(context.Background(), &port.Message{Body: []byte(validBody), ReceiptHandle: "rh-2"})

	require.Len(t, q.deadLetters, 1)
	assert.Equal(t, validBody, string(q.deadLetters[0]))
	assert.Equal(t, []string{"rh-2"}, q.deletes)
}

func TestMalformedMessageDeadLetteredAndAcked(t *testing.T) {
	q := &fakeQueue{}
	exec := &fakeExecutor{}
	c := newTestConsumer(q, exec, &fakeStorage{})

	c.process(context.Background(), &port.Message{Body: []byte(`not json`), ReceiptHandle: "rh-3"})

	assert.Empty(t, exec.requests, "executor must not run for malformed messages")
	require.Len(t, q.deadLetters, 1)
	assert.Equal(t, "not json", string(q.deadLetters[0]))
	assert.Equal(t, []string{"rh-3"}, q.deletes)
	assert.Zero(t, q.extendCount(), "heartbeat must not start before parse success")
}

func TestHeartbeatExtendsLeaseWhileProcessing(t *testing.T) {
	q := &fakeQueue{}
	exec := &fakeExecutor{fn: func(context.Context, *entity.JobRequest) entity.Outcome {
		// hold the message long enough for several heartbeat ticks
		deadline := time.Now().Add(time.Second)
		for q.extendCount() < 2 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		return entity.Success(nil)
	}}
	c := newTestConsumer(q, exec, &fakeStorage{})

	c.process(context.Background(), &port.Message{Body: []byte(validBody), ReceiptHandle: "rh-4"})

	extended := q.extendCount()
	assert.GreaterOrEqual(t, extended, 2)

	// heartbeat is stopped before the ack; no further extensions may land
	time.Sleep(25 * time.Millisecond)
	assert.Equal(t, extended, q.extendCount())
	assert.Equal(t, []string{"rh-4"}, q.deletes)
}

func TestExecutorPanicProducesFailureAndStopsHeartbeat(t *testing.T) {
	q := &fakeQueue{}
	exec := &fakeExecutor{fn: func(context.Context, *entity.JobRequest) entity.Outcome {
		panic("unexpected fault")
	}}
	c := newTestConsumer(q, exec, &fakeStorage{})

	require.NotPanics(t, func() {
		c.process(context.Background(), &port.Message{Body: []byte(validBody), ReceiptHandle: "rh-5"})
	})

	require.Len(t, q.deadLetters, 1)
	assert.Equal(t, []string{"rh-5"}, q.deletes)

	extended := q.extendCount()
	time.Sleep(25 * time.Millisecond)
	assert.Equal(t, extended, q.extendCount(), "heartbeat must be stopped after a fault")
}

func TestQueueFaultsAreSwallowed(t *testing.T) {
	t.Run("claim error", func(t *testing.T) {
		q := &fakeQueue{claimErr: errors.New("queue down")}
		c := newTestConsumer(q, &fakeExecutor{}, &fakeStorage{})
		require.NotPanics(t, func() { c.runOnce(context.Background()) })
	})

	t.Run("dead-letter and delete errors", func(t *testing.T) {
		q := &fakeQueue{deadLetterErr: errors.New("dlq down"), deleteErr: errors.New("delete failed")}
		exec := &fakeExecutor{fn: func(context.Context, *entity.JobRequest) entity.Outcome {
			return entity.Failure("bad", "")
		}}
		c := newTestConsumer(q, exec, &fakeStorage{})
		require.NotPanics(t, func() {
			c.process(context.Background(), &port.Message{Body: []byte(validBody), ReceiptHandle: "rh-6"})
		})
		// delete is still attempted even when dead-lettering failed
		assert.Equal(t, []string{"rh-6"}, q.deletes)
	})

	t.Run("extend error does not kill heartbeat", func(t *testing.T) {
		q := &fakeQueue{extendErr: errors.New("extend failed")}
		exec := &fakeExecutor{fn: func(context.Context, *entity.JobRequest) entity.Outcome {
			time.Sleep(20 * time.Millisecond)
			return entity.Success(nil)
		}}
		c := newTestConsumer(q, exec, &fakeStorage{})
		require.NotPanics(t, func() {
			c.process(context.Background(), &port.Message{Body: []byte(validBody), ReceiptHandle: "rh-7"})
		})
	})
}

func TestEventTriggeredMessageResolvesMetadata(t *testing.T) {
	q := &fakeQueue{}
	exec := &fakeExecutor{}
	storage := &fakeStorage{metadata: map[string]string{
		"job-id":      "evt-1",
		"email":       "u@x.com",
		"tile-size-x": "1024",
	}}
	c := newTestConsumer(q, exec, storage)

	body := `{"Records": [{"s3": {"bucket": {"name": "b"}, "object": {"key": "uploads/evt-1/sample.nd2"}}}]}`
	c.process(context.Background(), &port.Message{Body: []byte(body), ReceiptHandle: "rh-8"})

	require.Len(t, exec.requests, 1)
	req := exec.requests[0]
	assert.Equal(t, "evt-1", req.ID)
	assert.Equal(t, "u@x.com", req.Email)
	assert.Equal(t, 1024, req.TileSizeX)
	assert.Empty(t, q.deadLetters)
	assert.Equal(t, []string{"rh-8"}, q.deletes)
}

func TestEventMetadataFaultLeavesMessageForRedelivery(t *testing.T) {
	q := &fakeQueue{}
	exec := &fakeExecutor{}
	storage := &fakeStorage{headErr: errors.New("connection refused")}
	c := newTestConsumer(q, exec, storage)

	body := `{"Records": [{"s3": {"bucket": {"name": "b"}, "object": {"key": "uploads/evt-2/sample.nd2"}}}]}`
	c.process(context.Background(), &port.Message{Body: []byte(body), ReceiptHandle: "rh-9"})

	assert.Empty(t, exec.requests, "executor must not run when metadata is unreadable")
	assert.Empty(t, q.deadLetters, "a readable body with a transient storage fault is not malformed")
	assert.Empty(t, q.deletes, "the claim must lapse so the message redelivers")
}

func TestStartStopsOnContextCancel(t *testing.T) {
	q := &fakeQueue{}
	c := newTestConsumer(q, &fakeExecutor{}, &fakeStorage{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop on context cancellation")
	}
}
