package app

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/wallcache-go/internal/domain"
	"github.com/yourusername/wallcache-go/internal/infrastructure"
	"github.com/yourusername/wallcache-go/pkg/logger"
)

// Fetcher opens a remote resource for streaming. *infrastructure.HTTPClient
// is the production implementation.
type Fetcher interface {
	Open(ctx context.Context, locator string) (*infrastructure.Response, error)
}

// CoordinatorOptions controls retry behavior of the coordinator
type CoordinatorOptions struct {
	MaxAttempts    int           // Total attempts per task, including the first
	BackoffBase    time.Duration // Delay before the second attempt
	BackoffMax     time.Duration // Upper bound for any single delay
	ProgressBuffer int           // Pending progress events before new ones are dropped
	ProgressDrain  time.Duration // How long Run waits for the callback after the last task
}

// CoordinatorOptionsFromConfig derives coordinator options from download configuration
func CoordinatorOptionsFromConfig(cfg *domain.DownloadConfig) CoordinatorOptions {
	return CoordinatorOptions{
		MaxAttempts: cfg.MaxAttempts,
		BackoffBase: cfg.BackoffBase,
		BackoffMax:  cfg.BackoffMax,
	}
}

// DownloadCoordinator runs batches of download tasks with bounded parallelism
type DownloadCoordinator struct {
	fetcher Fetcher
	opts    CoordinatorOptions
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewDownloadCoordinator creates a coordinator sharing fetcher across all tasks
func NewDownloadCoordinator(fetcher Fetcher, opts CoordinatorOptions, log *zap.Logger) *DownloadCoordinator {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.BackoffMax < opts.BackoffBase {
		opts.BackoffMax = opts.BackoffBase
	}
	if opts.ProgressBuffer <= 0 {
		opts.ProgressBuffer = 256
	}
	if opts.ProgressDrain <= 0 {
		opts.ProgressDrain = 250 * time.Millisecond
	}

	return &DownloadCoordinator{
		fetcher: fetcher,
		opts:    opts,
		logger:  logger.OrNop(log),
		sleep:   sleepContext,
	}
}

// Run executes tasks with at most concurrency fetches in flight and returns
// exactly one result per task, in input order. A failing task never cancels
// its siblings. Once ctx is done no new task starts; tasks that never started
// report ErrorKindCancelled with zero attempts.
func (c *DownloadCoordinator) Run(ctx context.Context, tasks []domain.DownloadTask, concurrency int, onProgress domain.ProgressFunc) []domain.DownloadResult {
	if concurrency < 1 {
		concurrency = 1
	}

	results := make([]domain.DownloadResult, len(tasks))
	progress := newProgressDispatcher(onProgress, c.opts.ProgressBuffer, c.logger)

	total := len(tasks)
	var completed atomic.Int32

	var g errgroup.Group
	g.SetLimit(concurrency)

	for i, task := range tasks {
		i, task := i, task
		if ctx.Err() != nil {
			results[i] = domain.FailureResult(i, task, domain.ErrorKindCancelled, ctx.Err())
			progress.emit(domain.ProgressEvent{
				Type:      domain.ProgressTaskDone,
				TaskIndex: i,
				Locator:   task.Locator,
				Completed: int(completed.Add(1)),
				Total:     total,
				Kind:      domain.ErrorKindCancelled,
			})
			continue
		}

		g.Go(func() error {
			result := c.runTask(ctx, i, task, total, progress)
			results[i] = result

			progress.emit(domain.ProgressEvent{
				Type:      domain.ProgressTaskDone,
				TaskIndex: i,
				Locator:   task.Locator,
				Completed: int(completed.Add(1)),
				Total:     total,
				Kind:      result.Kind,
			})
			return nil
		})
	}
	g.Wait()

	progress.finish(domain.ProgressEvent{
		Type:      domain.ProgressBatchDone,
		TaskIndex: -1,
		Completed: int(completed.Load()),
		Total:     total,
	}, c.opts.ProgressDrain)

	return results
}

// runTask drives one task through skip check, attempts and backoff
func (c *DownloadCoordinator) runTask(ctx context.Context, index int, task domain.DownloadTask, total int, progress *progressDispatcher) domain.DownloadResult {
	task.Attempts = 0

	if err := ctx.Err(); err != nil {
		return domain.FailureResult(index, task, domain.ErrorKindCancelled, err)
	}
	if task.DestinationPath == "" {
		return domain.FailureResult(index, task, domain.ErrorKindPermanent, errors.New("empty destination path"))
	}

	if infrastructure.FileExists(task.DestinationPath) {
		c.logger.Debug("Destination already present",
			zap.String("url", task.Locator),
			zap.String("file", task.DestinationPath))
		return domain.SuccessResult(index, task, true)
	}

	for attempt := 1; ; attempt++ {
		task.Attempts = attempt

		err := c.fetch(ctx, index, task, total, progress)
		if err == nil {
			c.logger.Info("Download completed",
				zap.String("url", task.Locator),
				zap.String("file", task.DestinationPath),
				zap.Int("attempts", attempt))
			return domain.SuccessResult(index, task, false)
		}

		if ctx.Err() != nil {
			return domain.FailureResult(index, task, domain.ErrorKindCancelled, ctx.Err())
		}

		kind := domain.ClassifyError(err)
		if kind != domain.ErrorKindTransient || attempt >= c.opts.MaxAttempts {
			c.logger.Warn("Download failed",
				zap.String("url", task.Locator),
				zap.String("kind", string(kind)),
				zap.Int("attempts", attempt),
				zap.Error(err))
			return domain.FailureResult(index, task, kind, err)
		}

		delay := c.backoff(attempt)
		c.logger.Info("Retrying download",
			zap.String("url", task.Locator),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.opts.MaxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err))

		if err := c.sleep(ctx, delay); err != nil {
			return domain.FailureResult(index, task, domain.ErrorKindCancelled, err)
		}
	}
}

// fetch performs a single attempt: open, stream to a temp file, rename
func (c *DownloadCoordinator) fetch(ctx context.Context, index int, task domain.DownloadTask, total int, progress *progressDispatcher) error {
	resp, err := c.fetcher.Open(ctx, task.Locator)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	_, err = infrastructure.WriteStreamAtomic(ctx, task.DestinationPath, resp.Body, resp.ContentLength,
		func(written, size int64) {
			progress.emit(domain.ProgressEvent{
				Type:      domain.ProgressTaskBytes,
				TaskIndex: index,
				Locator:   task.Locator,
				Written:   written,
				Size:      size,
				Total:     total,
			})
		})
	return err
}

// backoff returns the delay after the given failed attempt: base, 2*base, 4*base ... capped
func (c *DownloadCoordinator) backoff(attempt int) time.Duration {
	delay := c.opts.BackoffBase
	for i := 1; i < attempt && delay < c.opts.BackoffMax; i++ {
		delay *= 2
	}
	if delay > c.opts.BackoffMax {
		delay = c.opts.BackoffMax
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// progressDispatcher decouples the progress callback from download workers.
// Events are queued in a bounded buffer and dropped when it is full.
type progressDispatcher struct {
	fn      domain.ProgressFunc
	events  chan domain.ProgressEvent
	done    chan struct{}
	dropped atomic.Int64
	logger  *zap.Logger
}

func newProgressDispatcher(fn domain.ProgressFunc, size int, log *zap.Logger) *progressDispatcher {
	if fn == nil {
		return nil
	}
	d := &progressDispatcher{
		fn:     fn,
		events: make(chan domain.ProgressEvent, size),
		done:   make(chan struct{}),
		logger: log,
	}
	go d.loop()
	return d
}

func (d *progressDispatcher) emit(ev domain.ProgressEvent) {
	if d == nil {
		return
	}
	select {
	case d.events <- ev:
	default:
		d.dropped.Add(1)
	}
}

func (d *progressDispatcher) loop() {
	defer close(d.done)
	for ev := range d.events {
		d.deliver(ev)
	}
}

func (d *progressDispatcher) deliver(ev domain.ProgressEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("Progress callback panicked", zap.Any("panic", r))
		}
	}()
	d.fn(ev)
}

// finish queues the final event and waits up to wait for the callback to
// drain. A callback still running after that keeps its goroutine until it
// returns; the caller is released either way.
func (d *progressDispatcher) finish(ev domain.ProgressEvent, wait time.Duration) {
	if d == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()

	select {
	case d.events <- ev:
	case <-ctx.Done():
		d.dropped.Add(1)
	}
	close(d.events)

	select {
	case <-d.done:
	case <-ctx.Done():
		d.logger.Warn("Progress callback did not drain in time", zap.Duration("wait", wait))
	}
	if n := d.dropped.Load(); n > 0 {
		d.logger.Debug("Dropped progress events", zap.Int64("count", n))
	}
}
