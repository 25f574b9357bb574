package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/kiosk-backend/pkg/logger"
	"github.com/angelmondragon/kiosk-backend/pkg/metrics"
)

const defaultInterval = time.Minute

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
	// JobTimeout caps each job run. Zero falls back to the lock TTL when the
	// lock exposes one, so a job cannot outlive the cycle's exclusivity.
	JobTimeout time.Duration
}

// Service runs every registered job once per interval while holding Lock.
type Service struct {
	logg       *logger.Logger
	registry   *Registry
	lock       Lock
	metrics    *metrics.CronJobMetrics
	interval   time.Duration
	jobTimeout time.Duration
}

// CycleSummary reports one pass over the registry.
type CycleSummary struct {
	Skipped bool
	Ran     int
	Failed  int
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	timeout := params.JobTimeout
	if timeout <= 0 {
		if ttl, ok := params.Lock.(interface{ TTL() time.Duration }); ok {
			timeout = ttl.TTL()
		}
	}
	return &Service{
		logg:       params.Logger,
		registry:   registry,
		lock:       params.Lock,
		metrics:    params.Metrics,
		interval:   interval,
		jobTimeout: timeout,
	}, nil
}

// Run executes a cycle immediately and then on every tick until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	s.tick(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service context canceled")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	summary, err := s.runCycle(ctx)
	if err != nil {
		s.logg.Error(ctx, "cron.cycle.failed", err)
		return
	}
	if summary.Skipped {
		return
	}
	fields := map[string]any{"ran": summary.Ran, "failed": summary.Failed}
	if summary.Failed > 0 {
		s.logg.Warn(s.logg.WithFields(ctx, fields), "cron.cycle.partial")
		return
	}
	s.logg.Info(s.logg.WithFields(ctx, fields), "cron.cycle.complete")
}

func (s *Service) runCycle(ctx context.Context) (CycleSummary, error) {
	var summary CycleSummary
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return summary, fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.logg.Debug(ctx, "cron lock held elsewhere; skipping cycle")
		s.metrics.IncSkipped()
		summary.Skipped = true
		return summary, nil
	}
	defer func() {
		// release on a fresh context so shutdown still frees the lock
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if relErr := s.lock.Release(relCtx); relErr != nil {
			s.logg.Error(ctx, "failed to release cron lock", relErr)
		}
	}()

	for _, job := range s.registry.Jobs() {
		if ctx.Err() != nil {
			break
		}
		summary.Ran++
		if err := s.runJob(ctx, job); err != nil {
			summary.Failed++
		}
	}
	return summary, nil
}

func (s *Service) runJob(ctx context.Context, job Job) error {
	name := job.Name()
	jobCtx := s.logg.WithFields(ctx, map[string]any{"job": name, "event": "cron.job"})
	if s.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(jobCtx, s.jobTimeout)
		defer cancel()
	}

	start := time.Now()
	err := job.Run(jobCtx)
	duration := time.Since(start)
	s.metrics.ObserveRun(name, duration, start.Add(duration), err)

	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			jobCtx = s.logg.WithField(jobCtx, "timeout", s.jobTimeout.String())
		}
		s.logg.Error(jobCtx, "job failed", err)
		return err
	}
	s.logg.Debug(jobCtx, "job completed")
	return nil
}
