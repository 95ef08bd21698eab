package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/remindly/core/internal/infrastructure/logger"
)

func TestEveryRejectsBadInterval(t *testing.T) {
	r := NewRunner(logger.NewNop())
	if err := r.Every("scan", 0, func(context.Context) error { return nil }); err == nil {
		t.Error("zero interval accepted")
	}
}

func TestRunFiresJobsAtStartup(t *testing.T) {
	r := NewRunner(logger.NewNop())

	ran := make(chan string, 2)
	for _, name := range []string{"scan", "sweep"} {
		name := name
		if err := r.Every(name, time.Hour, func(ctx context.Context) error {
			ran <- name
			return nil
		}); err != nil {
			t.Fatalf("Every: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	seen := map[string]bool{}
	for len(seen) < 2 {
		select {
		case name := <-ran:
			seen[name] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("jobs run at startup: %v", seen)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestOverlappingRunsAreSkipped(t *testing.T) {
	r := NewRunner(logger.NewNop())

	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})
	if err := r.Every("reconcile", time.Hour, func(ctx context.Context) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
			<-release
		}
		return nil
	}); err != nil {
		t.Fatalf("Every: %v", err)
	}

	job := r.cron.Entry(r.jobs[0]).WrappedJob
	finished := make(chan struct{})
	go func() {
		job.Run()
		close(finished)
	}()
	<-started

	// The first pass is still going, so this one is dropped.
	job.Run()
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}

	close(release)
	<-finished

	job.Run()
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("calls after release = %d, want 2", got)
	}
}

func TestFailingJobsDoNotStopTheRunner(t *testing.T) {
	r := NewRunner(logger.NewNop())

	if err := r.Every("boom", time.Hour, func(context.Context) error { panic("boom") }); err != nil {
		t.Fatalf("Every: %v", err)
	}
	if err := r.Every("fail", time.Hour, func(context.Context) error { return errors.New("store unavailable") }); err != nil {
		t.Fatalf("Every: %v", err)
	}

	for _, id := range r.jobs {
		r.cron.Entry(id).WrappedJob.Run()
	}
}
