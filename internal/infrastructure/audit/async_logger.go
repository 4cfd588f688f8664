// Package audit delivers decision audit entries to durable sinks off the request path.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/turtacn/certguard/internal/domain/models"
	"github.com/turtacn/certguard/pkg/constants"
	"github.com/turtacn/certguard/pkg/logger"
)

const drainTimeout = 5 * time.Second

// Sink is a destination for audit entries.
type Sink interface {
	Name() string
	Write(ctx context.Context, entry *models.RateLimitLogEntry) error
}

// Metrics receives audit delivery events.
type Metrics interface {
	RecordAuditDrop(reason string)
	RecordAuditWriteError(sink string)
}

type noopMetrics struct{}

func (noopMetrics) RecordAuditDrop(string)       {}
func (noopMetrics) RecordAuditWriteError(string) {}

// AsyncLogger queues entries in a bounded buffer and writes them to every sink from
// a single worker. When the buffer is full new entries are dropped.
type AsyncLogger struct {
	entries    chan *models.RateLimitLogEntry
	sinks      []Sink
	maxRetries int
	backoff    time.Duration
	metrics    Metrics
	logger     logger.Logger

	running sync.WaitGroup
}

// Option configures an AsyncLogger.
type Option func(*AsyncLogger)

// WithBufferSize sets the queue capacity.
func WithBufferSize(size int) Option {
	return func(a *AsyncLogger) {
		if size > 0 {
			a.entries = make(chan *models.RateLimitLogEntry, size)
		}
	}
}

// WithRetry sets how often a failed sink write is retried and the initial backoff,
// which doubles on every retry.
func WithRetry(maxRetries int, backoff time.Duration) Option {
	return func(a *AsyncLogger) {
		if maxRetries >= 0 {
			a.maxRetries = maxRetries
		}
		if backoff > 0 {
			a.backoff = backoff
		}
	}
}

// WithMetrics sets the metrics backend.
func WithMetrics(m Metrics) Option {
	return func(a *AsyncLogger) {
		if m != nil {
			a.metrics = m
		}
	}
}

// NewAsyncLogger creates an AsyncLogger writing to sinks. Run must be started for
// entries to be delivered.
func NewAsyncLogger(log logger.Logger, sinks []Sink, opts ...Option) *AsyncLogger {
	a := &AsyncLogger{
		entries:    make(chan *models.RateLimitLogEntry, constants.DefaultAuditBufferSize),
		sinks:      sinks,
		maxRetries: constants.DefaultAuditMaxRetries,
		backoff:    100 * time.Millisecond,
		metrics:    noopMetrics{},
		logger:     log.WithComponent("audit_logger"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Append queues entry without blocking.
func (a *AsyncLogger) Append(ctx context.Context, entry *models.RateLimitLogEntry) {
	if entry == nil {
		return
	}
	select {
	case a.entries <- entry:
	default:
		a.metrics.RecordAuditDrop("buffer_full")
		a.logger.Warn(ctx, "Audit buffer full, entry dropped",
			logger.String("dimension", string(entry.Dimension)),
			logger.String("action", string(entry.Action)),
		)
	}
}

// Pending returns the number of queued entries.
func (a *AsyncLogger) Pending() int {
	return len(a.entries)
}

// Run delivers queued entries until ctx is done, then drains what is still queued.
func (a *AsyncLogger) Run(ctx context.Context) error {
	a.running.Add(1)
	defer a.running.Done()

	for {
		select {
		case <-ctx.Done():
			a.drain(ctx)
			return nil
		case entry := <-a.entries:
			a.deliver(ctx, entry)
		}
	}
}

// Wait blocks until every running Run call has returned.
func (a *AsyncLogger) Wait() {
	a.running.Wait()
}

func (a *AsyncLogger) drain(ctx context.Context) {
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer cancel()

	drained := 0
	for {
		select {
		case entry := <-a.entries:
			a.deliver(drainCtx, entry)
			drained++
		default:
			if drained > 0 {
				a.logger.Info(drainCtx, "Audit buffer drained", logger.Int("entries", drained))
			}
			return
		}
	}
}

func (a *AsyncLogger) deliver(ctx context.Context, entry *models.RateLimitLogEntry) {
	for _, sink := range a.sinks {
		if err := a.writeWithRetry(ctx, sink, entry); err != nil {
			a.metrics.RecordAuditDrop("sink_failed")
			a.logger.Error(ctx, "Audit entry lost after retries", err,
				logger.String("sink", sink.Name()),
				logger.String("dimension", string(entry.Dimension)),
				logger.String("action", string(entry.Action)),
			)
		}
	}
}

func (a *AsyncLogger) writeWithRetry(ctx context.Context, sink Sink, entry *models.RateLimitLogEntry) error {
	wait := a.backoff
	var err error
	for attempt := 0; ; attempt++ {
		if err = sink.Write(ctx, entry); err == nil {
			return nil
		}
		a.metrics.RecordAuditWriteError(sink.Name())
		if attempt >= a.maxRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(wait):
		}
		wait *= 2
	}
}
