package analytics

import (
	"WordsToLink-Backend/internal/config"
	"WordsToLink-Backend/internal/domain"
	"WordsToLink-Backend/internal/repository"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	ErrQueueFull        = errors.New("analytics queue is full")
	ErrNotStarted       = errors.New("processor not started")
	ErrRecordingFailure = errors.New("click recording failed")
)

// Recorder persists one click. Implementations must apply the click atomically
// and treat a replayed event id as a no-op.
type Recorder interface {
	RecordClick(ctx context.Context, event *domain.ClickEvent, window time.Duration) (*repository.RecordResult, error)
}

// ProcessorConfig holds configuration for the analytics processor
type ProcessorConfig struct {
	WorkerCount     int           // Number of worker goroutines
	BufferSize      int           // Size of the job queue buffer
	RetryAttempts   int           // Attempts per click before it is dropped
	RetryDelay      time.Duration // Base delay between retries, doubled each time
	AttemptTimeout  time.Duration // Deadline for a single storage attempt
	ShutdownTimeout time.Duration // Time to drain the queue on Stop
	DedupWindow     time.Duration // Unique visitor window passed to the recorder
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() ProcessorConfig {
	return ProcessorConfig{
		WorkerCount:     3,
		BufferSize:      1000,
		RetryAttempts:   3,
		RetryDelay:      200 * time.Millisecond,
		AttemptTimeout:  5 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		DedupWindow:     24 * time.Hour,
	}
}

// ConfigFrom maps the analytics config section onto processor settings.
func ConfigFrom(cfg *config.Analytics) ProcessorConfig {
	return ProcessorConfig{
		WorkerCount:     cfg.WorkerCount,
		BufferSize:      cfg.BufferSize,
		RetryAttempts:   cfg.RetryAttempts,
		RetryDelay:      cfg.RetryDelay,
		AttemptTimeout:  cfg.AttemptTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
		DedupWindow:     cfg.DedupWindow,
	}
}

// Stats is a point-in-time snapshot of the processor counters.
type Stats struct {
	Started       bool  `json:"started"`
	QueueLength   int   `json:"queue_length"`
	QueueCapacity int   `json:"queue_capacity"`
	Workers       int   `json:"worker_count"`
	Submitted     int64 `json:"submitted"`
	Processed     int64 `json:"processed"`
	Unique        int64 `json:"unique"`
	Duplicates    int64 `json:"duplicates"`
	Retried       int64 `json:"retried"`
	Dropped       int64 `json:"dropped"`
	Rejected      int64 `json:"rejected"`
}

// Processor records clicks off the redirect path through a bounded queue.
// A click is retried a bounded number of times and then dropped; drops are
// counted and reported on the Errors channel.
type Processor struct {
	config   ProcessorConfig
	recorder Recorder
	log      *zap.Logger
	jobQueue chan *domain.ClickEvent
	errs     chan error
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
	stopped  bool
	mu       sync.RWMutex

	submitted  atomic.Int64
	processed  atomic.Int64
	unique     atomic.Int64
	duplicates atomic.Int64
	retried    atomic.Int64
	dropped    atomic.Int64
	rejected   atomic.Int64
}

// NewProcessor creates a new analytics processor
func NewProcessor(recorder Recorder, log *zap.Logger, config ProcessorConfig) *Processor {
	defaults := DefaultConfig()
	if config.WorkerCount <= 0 {
		config.WorkerCount = defaults.WorkerCount
	}
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = defaults.RetryAttempts
	}
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = defaults.AttemptTimeout
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if config.DedupWindow <= 0 {
		config.DedupWindow = defaults.DedupWindow
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Processor{
		config:   config,
		recorder: recorder,
		log:      log.With(zap.String("component", "click_recorder")),
		jobQueue: make(chan *domain.ClickEvent, config.BufferSize),
		errs:     make(chan error, 64),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins processing clicks
func (p *Processor) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("processor already started")
	}
	if p.stopped {
		return fmt.Errorf("processor cannot be restarted")
	}

	p.log.Info("starting analytics processor",
		zap.Int("workers", p.config.WorkerCount),
		zap.Int("buffer_size", p.config.BufferSize),
		zap.Int("retry_attempts", p.config.RetryAttempts),
	)

	for i := 0; i < p.config.WorkerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.started = true
	return nil
}

// Stop closes the queue and lets the workers drain it. If draining takes longer
// than ShutdownTimeout the remaining retries are abandoned; an attempt already
// in flight still runs to commit or rollback.
func (p *Processor) Stop() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return ErrNotStarted
	}
	p.started = false
	p.stopped = true
	close(p.jobQueue)
	p.mu.Unlock()

	p.log.Info("stopping analytics processor", zap.Int("pending", len(p.jobQueue)))

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.log.Info("analytics processor stopped gracefully", zap.Any("stats", p.GetStats()))
		return nil
	case <-time.After(p.config.ShutdownTimeout):
		p.cancel()
		<-done
		p.log.Warn("analytics processor shutdown timeout reached", zap.Int64("dropped", p.dropped.Load()))
		return fmt.Errorf("shutdown timeout reached")
	}
}

// Submit queues a click without blocking. It fails with ErrQueueFull when the
// buffer is exhausted; the caller's redirect must not depend on the result.
func (p *Processor) Submit(event *domain.ClickEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.started {
		p.rejected.Add(1)
		return ErrNotStarted
	}

	select {
	case p.jobQueue <- event:
		p.submitted.Add(1)
		return nil
	default:
		p.rejected.Add(1)
		p.log.Error("analytics queue is full, dropping click",
			zap.Int64("link_id", event.LinkID),
			zap.String("event_id", event.EventID),
			zap.Int("queue_size", len(p.jobQueue)),
		)
		return ErrQueueFull
	}
}

// Errors reports clicks that were dropped after exhausting their retries.
// Reports are discarded when nobody reads fast enough.
func (p *Processor) Errors() <-chan error {
	return p.errs
}

func (p *Processor) worker(workerID int) {
	defer p.wg.Done()

	log := p.log.With(zap.Int("worker_id", workerID))
	log.Debug("analytics worker started")

	for event := range p.jobQueue {
		if p.ctx.Err() != nil {
			p.drop(log, event, p.ctx.Err())
			continue
		}
		p.recordWithRetry(log, event)
	}

	log.Debug("analytics worker stopped")
}

func (p *Processor) recordWithRetry(log *zap.Logger, event *domain.ClickEvent) {
	var lastErr error

	for attempt := 1; attempt <= p.config.RetryAttempts; attempt++ {
		result, err := p.attempt(event)
		if err == nil {
			p.processed.Add(1)
			switch {
			case result.Duplicate:
				p.duplicates.Add(1)
			case result.Unique:
				p.unique.Add(1)
			}
			if attempt > 1 {
				log.Info("click recorded after retry",
					zap.String("event_id", event.EventID),
					zap.Int("attempt", attempt),
				)
			}
			return
		}

		lastErr = err
		if errors.Is(err, repository.ErrNotFound) {
			// the link is gone, retrying cannot help
			break
		}

		log.Warn("click recording failed",
			zap.Int64("link_id", event.LinkID),
			zap.String("event_id", event.EventID),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.config.RetryAttempts),
			zap.Error(err),
		)

		if attempt == p.config.RetryAttempts {
			break
		}
		p.retried.Add(1)

		delay := p.config.RetryDelay * time.Duration(1<<(attempt-1))
		select {
		case <-time.After(delay):
		case <-p.ctx.Done():
			log.Info("worker shutdown during retry delay", zap.String("event_id", event.EventID))
			p.drop(log, event, lastErr)
			return
		}
	}

	p.drop(log, event, lastErr)
}

// attempt runs one storage call. The call is detached from shutdown
// cancellation so a started transaction is never cut short.
func (p *Processor) attempt(event *domain.ClickEvent) (*repository.RecordResult, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(p.ctx), p.config.AttemptTimeout)
	defer cancel()
	return p.recorder.RecordClick(ctx, event, p.config.DedupWindow)
}

func (p *Processor) drop(log *zap.Logger, event *domain.ClickEvent, cause error) {
	lost := p.dropped.Add(1)
	log.Error("dropping click after failed recording",
		zap.Int64("link_id", event.LinkID),
		zap.String("event_id", event.EventID),
		zap.Int64("total_dropped", lost),
		zap.Error(cause),
	)

	err := fmt.Errorf("%w: link %d event %s: %w", ErrRecordingFailure, event.LinkID, event.EventID, cause)
	select {
	case p.errs <- err:
	default:
	}
}

// GetStats returns processor statistics
func (p *Processor) GetStats() Stats {
	p.mu.RLock()
	started := p.started
	p.mu.RUnlock()

	return Stats{
		Started:       started,
		QueueLength:   len(p.jobQueue),
		QueueCapacity: cap(p.jobQueue),
		Workers:       p.config.WorkerCount,
		Submitted:     p.submitted.Load(),
		Processed:     p.processed.Load(),
		Unique:        p.unique.Load(),
		Duplicates:    p.duplicates.Load(),
		Retried:       p.retried.Load(),
		Dropped:       p.dropped.Load(),
		Rejected:      p.rejected.Load(),
	}
}
