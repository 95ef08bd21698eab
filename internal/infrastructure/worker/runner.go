package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/remindly/core/internal/infrastructure/logger"
)

// JobFunc is one pass of a background job
type JobFunc func(ctx context.Context) error

// Runner drives the engine's periodic jobs. A job that is still running
// when its next tick arrives is skipped rather than stacked.
type Runner struct {
	cron   *cron.Cron
	logger *logger.Logger

	mu   sync.Mutex
	ctx  context.Context
	jobs []cron.EntryID
}

// NewRunner creates a runner with no jobs
func NewRunner(appLogger *logger.Logger) *Runner {
	l := appLogger.WithComponent("worker")
	cl := logger.NewCronLogger(appLogger)

	return &Runner{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: l,
		ctx:    context.Background(),
	}
}

// Every registers fn to run at the given interval
func (r *Runner) Every(name string, interval time.Duration, fn JobFunc) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}

	id, err := r.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		ctx := r.context()
		if ctx.Err() != nil {
			return
		}

		start := time.Now()
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			r.logger.WithError(err).Errorw("Job failed", "job", name)
			return
		}
		r.logger.Debugw("Job completed", "job", name, "duration", time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}

	r.mu.Lock()
	r.jobs = append(r.jobs, id)
	r.mu.Unlock()

	r.logger.Infow("Job registered", "job", name, "interval", interval)
	return nil
}

func (r *Runner) context() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ctx
}

// Run fires every job once, then on schedule until ctx is cancelled.
// It waits for running jobs to finish before returning.
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	r.ctx = ctx
	ids := append([]cron.EntryID(nil), r.jobs...)
	r.mu.Unlock()

	var initial sync.WaitGroup
	for _, id := range ids {
		job := r.cron.Entry(id).WrappedJob
		initial.Add(1)
		go func() {
			defer initial.Done()
			job.Run()
		}()
	}

	r.cron.Start()
	r.logger.Infow("Worker started", "jobs", len(ids))

	<-ctx.Done()

	<-r.cron.Stop().Done()
	initial.Wait()
	r.logger.Info("Worker stopped")
	return nil
}
