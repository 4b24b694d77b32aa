package eventq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrorHandler is called when item processing returns an error.
type ErrorHandler func(ctx context.Context, item Item, err error)

// Runner polls a Queue and invokes a Handler for each claimed item.
type Runner struct {
	queue   Queue
	handler Handler
	cfg     RunnerConfig

	healthMu sync.Mutex
	healthAt time.Time
}

// NewRunner constructs a Runner with defaults and optional settings.
func NewRunner(queue Queue, handler Handler, opts ...RunnerOption) *Runner {
	if queue == nil {
		panic("eventq: nil Queue")
	}
	if handler == nil {
		panic("eventq: nil Handler")
	}

	var cfg RunnerConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	return &Runner{
		queue:   queue,
		handler: handler,
		cfg:     cfg,
	}
}

// Run starts the polling loop with the configured number of workers.
func (r *Runner) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, r.cfg.Workers)
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		workerID := r.workerID(i)
		go func() {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					err := fmt.Errorf("%w: %v", ErrWorkerPanic, rec)
					r.cfg.Logger.Error("eventq worker panic", "worker", workerID, "panic", rec)
					errCh <- err
					cancel()
				}
			}()

			if err := r.runWorker(ctx, workerID); err != nil && !errors.Is(err, context.Canceled) {
				r.cfg.Logger.Error("eventq worker error", "worker", workerID, "err", err)
				errCh <- err
				cancel()
			}
		}()
	}

	wg.Wait()
	close(errCh)

	if err := <-errCh; err != nil {
		return err
	}
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// ProcessOnce claims and processes a single batch under the base worker id.
// It returns the number of items handled; zero means nothing was eligible.
func (r *Runner) ProcessOnce(ctx context.Context) (int, error) {
	items, err := r.claim(ctx, r.cfg.WorkerID)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		r.maybeSampleHealth(ctx)

		return 0, nil
	}

	if err := r.processBatch(ctx, items); err != nil {
		return 0, err
	}

	return len(items), nil
}

// workerID derives a per-goroutine identity from the configured base id so
// claims remain attributable when several workers share one Runner.
func (r *Runner) workerID(n int) string {
	if r.cfg.Workers == 1 {
		return r.cfg.WorkerID
	}

	return fmt.Sprintf("%s-%d", r.cfg.WorkerID, n)
}

func (r *Runner) runWorker(ctx context.Context, workerID string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		items, err := r.claim(ctx, workerID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			r.maybeSampleHealth(ctx)
			if sleepErr := r.sleep(ctx, r.cfg.PollInterval); sleepErr != nil {
				return sleepErr
			}

			continue
		}

		if err := r.processBatch(ctx, items); err != nil {
			return err
		}
	}
}

func (r *Runner) claim(ctx context.Context, workerID string) ([]Item, error) {
	return r.queue.Dequeue(ctx, DequeueOptions{
		WorkerID: workerID,
		MaxItems: r.cfg.BatchSize,
		Source:   r.cfg.Source,
	})
}

func (r *Runner) processBatch(ctx context.Context, items []Item) error {
	start := time.Now()
	var completed, failures, retried, dead int
	defer func() {
		r.cfg.Metrics.ObserveBatchDuration(time.Since(start))
		r.cfg.Metrics.AddCompleted(completed)
		r.cfg.Metrics.AddErrors(failures)
		r.cfg.Metrics.AddRetried(retried)
		r.cfg.Metrics.AddDeadLettered(dead)
	}()

	for i := range items {
		item := items[i]

		elapsed, err := r.handleItem(ctx, item)
		if err == nil {
			if markErr := r.queue.MarkCompleted(ctx, item.ID, elapsed); markErr != nil {
				if errors.Is(markErr, ErrItemFinalized) {
					// Another worker settled the item after a reclaim.
					r.cfg.Logger.Warn("eventq completion arrived after item settled", "item", item.ID)

					continue
				}

				return fmt.Errorf("eventq complete item %d: %w", item.ID, markErr)
			}
			completed++

			continue
		}
		if ctx.Err() != nil {
			// Unfinished claims stay processing and fall to the reclaimer.
			return ctx.Err()
		}
		failures++

		status, markErr := r.recordFailure(ctx, item, err)
		if markErr != nil {
			if errors.Is(markErr, ErrItemFinalized) {
				r.cfg.Logger.Warn("eventq failure arrived after item settled",
					"item", item.ID, "status", status)

				continue
			}

			return fmt.Errorf("eventq fail item %d: %w", item.ID, markErr)
		}
		if status == StatusDeadLetter {
			dead++
		} else {
			retried++
		}
	}

	return nil
}

func (r *Runner) handleItem(ctx context.Context, item Item) (time.Duration, error) {
	handleCtx := ctx
	cancel := func() {}
	if r.cfg.HandlerTimeout > 0 {
		handleCtx, cancel = context.WithTimeout(ctx, r.cfg.HandlerTimeout)
	}

	started := r.cfg.Clock.Now()
	err := r.handler.Handle(handleCtx, item)
	cancel()

	return r.cfg.Clock.Now().Sub(started), err
}

func (r *Runner) recordFailure(ctx context.Context, item Item, err error) (Status, error) {
	if r.cfg.ErrorHandler != nil {
		r.cfg.ErrorHandler(ctx, item, err)
	}

	retry := r.cfg.FailureClassifier(ctx, item, err) != FailureDeadLetter

	return r.queue.MarkFailed(ctx, item.ID, err.Error(), retry)
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *Runner) maybeSampleHealth(ctx context.Context) {
	reporter, ok := r.queue.(HealthReporter)
	if !ok {
		return
	}
	if r.cfg.HealthInterval <= 0 {
		return
	}
	if ctx.Err() != nil {
		return
	}

	now := r.cfg.Clock.Now()
	r.healthMu.Lock()
	nextAllowed := r.healthAt.Add(r.cfg.HealthInterval)
	if !r.healthAt.IsZero() && now.Before(nextAllowed) {
		r.healthMu.Unlock()

		return
	}
	r.healthAt = now
	r.healthMu.Unlock()

	report, err := reporter.Health(ctx)
	if err != nil {
		r.cfg.Logger.Warn("eventq health sample failed", "err", err)

		return
	}

	for _, h := range report {
		r.cfg.Metrics.SetQueueDepth(h.Source, StatusPending, h.Pending)
		r.cfg.Metrics.SetQueueDepth(h.Source, StatusProcessing, h.Processing)
		r.cfg.Metrics.SetQueueDepth(h.Source, StatusDeadLetter, h.DeadLetter)
	}
}
