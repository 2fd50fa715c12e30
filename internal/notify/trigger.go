package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"milestage-backend/internal/metrics"
)

var defaultBackoffs = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// Trigger queues jobs and delivers them from a fixed pool of workers.
// A full queue drops the job; callers never block.
type Trigger struct {
	sender      Sender
	logger      *zap.Logger
	workers     int
	backoffs    []time.Duration
	sendTimeout time.Duration

	mu     sync.RWMutex
	queue  chan Job
	closed bool
	wg     sync.WaitGroup
}

type Option func(*Trigger)

func WithWorkers(n int) Option {
	return func(t *Trigger) {
		if n > 0 {
			t.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(t *Trigger) {
		if n > 0 {
			t.queue = make(chan Job, n)
		}
	}
}

// WithBackoff sets the delays between attempts. len(delays)+1 attempts are made.
func WithBackoff(delays ...time.Duration) Option {
	return func(t *Trigger) {
		t.backoffs = delays
	}
}

func WithSendTimeout(d time.Duration) Option {
	return func(t *Trigger) {
		t.sendTimeout = d
	}
}

func NewTrigger(sender Sender, logger *zap.Logger, opts ...Option) *Trigger {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Trigger{
		sender:      sender,
		logger:      logger,
		workers:     4,
		backoffs:    defaultBackoffs,
		sendTimeout: 15 * time.Second,
		queue:       make(chan Job, 256),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start launches the workers. Cancelling ctx aborts retries in progress.
func (t *Trigger) Start(ctx context.Context) {
	for i := 0; i < t.workers; i++ {
		t.wg.Add(1)
		go t.work(ctx, i)
	}
	t.logger.Info("Notification workers started", zap.Int("workers", t.workers))
}

// Stop closes the queue and waits for queued jobs to drain.
func (t *Trigger) Stop() {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.queue)
	}
	t.mu.Unlock()
	t.wg.Wait()
}

func (t *Trigger) Notify(job Job) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		metrics.RecordNotification(job.Type, "dropped")
		t.logger.Warn("Notification dropped after shutdown", zap.String("type", job.Type))
		return false
	}

	select {
	case t.queue <- job:
		metrics.RecordNotification(job.Type, "queued")
		return true
	default:
		metrics.RecordNotification(job.Type, "dropped")
		t.logger.Warn("Notification queue full, dropping job",
			zap.String("type", job.Type),
			zap.String("to", job.To),
		)
		return false
	}
}

func (t *Trigger) work(ctx context.Context, id int) {
	defer t.wg.Done()
	for job := range t.queue {
		t.deliver(ctx, job, id)
	}
}

func (t *Trigger) deliver(ctx context.Context, job Job, worker int) {
	var messageID string
	err := retryWithBackoff(ctx, t.backoffs, func() error {
		sendCtx, cancel := context.WithTimeout(ctx, t.sendTimeout)
		defer cancel()
		id, err := t.sender.Send(sendCtx, job)
		if err != nil {
			return err
		}
		messageID = id
		return nil
	})
	if err != nil {
		metrics.RecordNotification(job.Type, "failed")
		t.logger.Error("Failed to deliver notification",
			zap.String("type", job.Type),
			zap.String("to", job.To),
			zap.Int("worker", worker),
			zap.Error(err),
		)
		return
	}

	metrics.RecordNotification(job.Type, "sent")
	t.logger.Info("Notification sent",
		zap.String("type", job.Type),
		zap.String("to", job.To),
		zap.String("message_id", messageID),
	)
}

// retryWithBackoff runs fn until it succeeds, fails permanently or
// len(backoffs)+1 attempts are used.
func retryWithBackoff(ctx context.Context, backoffs []time.Duration, fn func() error) error {
	attempts := len(backoffs) + 1

	var lastErr error
	for i := 0; i < attempts; i++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if IsPermanent(lastErr) {
			return lastErr
		}
		if i == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry aborted: %w", lastErr)
		case <-time.After(backoffs[i]):
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

var _ Notifier = (*Trigger)(nil)
