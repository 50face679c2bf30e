package consumer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park-brian/nd2-converter/internal/infra/metrics"
)

// heartbeat periodically re-extends a claimed message's visibility window so
// the queue does not redeliver it while a long conversion is in progress.
// The tick interval must be strictly shorter than the visibility timeout.
type heartbeat struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func (c *Consumer) startHeartbeat(ctx context.Context, receiptHandle string, log *zap.Logger) *heartbeat {
	hb := &heartbeat{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	go func() {
		defer close(hb.done)
		ticker := time.NewTicker(c.cfg.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-hb.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.queue.ExtendLease(ctx, receiptHandle, c.cfg.VisibilityTimeout); err != nil {
					log.Error("failed to extend message lease", zap.Error(err))
					continue
				}
				metrics.LeaseExtensionsTotal.Inc()
				log.Debug("message lease extended")
			}
		}
	}()

	return hb
}

// Stop cancels the heartbeat and waits for its goroutine to exit, so no
// extension can race the message's acknowledgment. Safe to call more than
// once.
func (hb *heartbeat) Stop() {
	hb.once.Do(func() { close(hb.stop) })
	<-hb.done
}
