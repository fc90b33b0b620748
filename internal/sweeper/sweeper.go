// Package sweeper runs periodic maintenance jobs, such as purging expired
// pairing tokens.
//
// Every job runs once at start and then on each interval, with at most
// Concurrency jobs in flight and each bounded by Timeout.
package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Job is one maintenance task. Sweep returns how many records it removed.
type Job interface {
	Name() string
	Sweep(ctx context.Context) (int, error)
}

// JobFunc adapts a function to Job.
type JobFunc struct {
	JobName string
	Fn      func(ctx context.Context) (int, error)
}

func (j JobFunc) Name() string { return j.JobName }

func (j JobFunc) Sweep(ctx context.Context) (int, error) { return j.Fn(ctx) }

// Config holds sweeper configuration.
type Config struct {
	Interval    time.Duration // Sweep interval (default: 1h)
	Concurrency int           // Max jobs running at once (default: 4)
	Timeout     time.Duration // Per-job timeout (default: 30s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    time.Hour,
		Concurrency: 4,
		Timeout:     30 * time.Second,
	}
}

// Sweeper periodically runs its jobs.
type Sweeper struct {
	cfg    Config
	jobs   []Job
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Sweeper. Zero config fields take their defaults.
func New(cfg Config, jobs []Job, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	return &Sweeper{
		cfg:    cfg,
		jobs:   jobs,
		logger: logger.With("component", "sweeper"),
	}
}

// Start begins the sweep loop.
func (s *Sweeper) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run()

	s.logger.Info("sweeper started",
		"interval", s.cfg.Interval,
		"jobs", len(s.jobs),
	)
	return nil
}

// Stop cancels running jobs and waits for the loop to exit.
func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.sweepAll()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sweepAll()
		}
	}
}

// sweepAll runs every job once with bounded concurrency.
func (s *Sweeper) sweepAll() {
	if len(s.jobs) == 0 {
		return
	}
	start := time.Now()

	sem := make(chan struct{}, s.cfg.Concurrency)
	var wg sync.WaitGroup
	var removed, failed atomic.Int64

	for _, job := range s.jobs {
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-s.ctx.Done():
				return
			}

			n, err := s.sweepOne(job)
			if err != nil {
				s.logger.Warn("sweep job failed", "job", job.Name(), "error", err)
				failed.Add(1)
				return
			}
			removed.Add(int64(n))
		}(job)
	}

	wg.Wait()

	s.logger.Debug("sweep complete",
		"jobs", len(s.jobs),
		"removed", removed.Load(),
		"errors", failed.Load(),
		"duration", time.Since(start),
	)
}

func (s *Sweeper) sweepOne(job Job) (int, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.Timeout)
	defer cancel()
	return job.Sweep(ctx)
}
