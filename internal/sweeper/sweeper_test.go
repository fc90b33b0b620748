package sweeper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func countingJob(name string, calls *atomic.Int32) Job {
	return JobFunc{JobName: name, Fn: func(ctx context.Context) (int, error) {
		calls.Add(1)
		return 1, nil
	}}
}

func TestSweeper_SweepAll(t *testing.T) {
	var a, b atomic.Int32
	failing := JobFunc{JobName: "broken", Fn: func(ctx context.Context) (int, error) {
		return 0, errors.New("database unavailable")
	}}

	s := New(Config{Interval: time.Hour}, []Job{countingJob("a", &a), failing, countingJob("b", &b)}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.ctx = ctx

	s.sweepAll()

	if a.Load() != 1 || b.Load() != 1 {
		t.Errorf("calls = (%d, %d), want (1, 1); a failing job must not stop the others", a.Load(), b.Load())
	}
}

func TestSweeper_StartStop(t *testing.T) {
	var calls atomic.Int32
	s := New(Config{Interval: 50 * time.Millisecond}, []Job{countingJob("tokens", &calls)}, nil)

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// One immediate sweep plus at least one tick.
	time.Sleep(120 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if got := calls.Load(); got < 2 {
		t.Errorf("calls = %d, want >= 2", got)
	}

	after := calls.Load()
	time.Sleep(100 * time.Millisecond)
	if calls.Load() != after {
		t.Error("job ran after Stop")
	}
}

func TestSweeper_Concurrency(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32

	var jobs []Job
	for i := 0; i < 12; i++ {
		jobs = append(jobs, JobFunc{JobName: "slow", Fn: func(ctx context.Context) (int, error) {
			current := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				old := maxInFlight.Load()
				if current <= old || maxInFlight.CompareAndSwap(old, current) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			return 0, nil
		}})
	}

	s := New(Config{Interval: time.Hour, Concurrency: 3}, jobs, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.ctx = ctx

	s.sweepAll()

	if got := maxInFlight.Load(); got > 3 {
		t.Errorf("maxInFlight = %d, want <= 3", got)
	}
}

func TestSweeper_Timeout(t *testing.T) {
	var deadlineHit atomic.Bool
	job := JobFunc{JobName: "stuck", Fn: func(ctx context.Context) (int, error) {
		<-ctx.Done()
		deadlineHit.Store(errors.Is(ctx.Err(), context.DeadlineExceeded))
		return 0, ctx.Err()
	}}

	s := New(Config{Interval: time.Hour, Timeout: 20 * time.Millisecond}, []Job{job}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.ctx = ctx

	s.sweepAll()

	if !deadlineHit.Load() {
		t.Error("job was not bounded by Timeout")
	}
}
