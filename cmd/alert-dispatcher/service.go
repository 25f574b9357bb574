package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/angelmondragon/kiosk-backend/internal/alerts"
	"github.com/angelmondragon/kiosk-backend/pkg/logger"
)

const (
	defaultBatchSize = 50
	defaultPollMs    = 1000
	maxBackoff       = 30 * time.Second
	jitterWindow     = 250 * time.Millisecond
)

var (
	jitterMu     sync.Mutex
	jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

type pinger interface {
	Ping(context.Context) error
}

type dispatcher interface {
	DispatchPending(ctx context.Context, limit int) (alerts.DispatchSummary, error)
}

type ServiceParams struct {
	Logger       *logger.Logger
	DB           pinger
	Alerts       dispatcher
	BatchSize    int
	PollInterval time.Duration
}

// Service drains the alert outbox in a poll loop.
type Service struct {
	logg         *logger.Logger
	db           pinger
	alerts       dispatcher
	batchSize    int
	pollInterval time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Alerts == nil {
		return nil, errors.New("alert service is required")
	}

	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	interval := params.PollInterval
	if interval <= 0 {
		interval = time.Duration(defaultPollMs) * time.Millisecond
	}

	return &Service{
		logg:         params.Logger,
		db:           params.DB,
		alerts:       params.Alerts,
		batchSize:    batch,
		pollInterval: interval,
	}, nil
}

func (s *Service) Run(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		s.logg.Error(ctx, "database ping failed", err)
		return fmt.Errorf("database ping failed: %w", err)
	}

	backoff := s.pollInterval
	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "alert dispatcher context canceled")
			return ctx.Err()
		default:
		}

		progressed, err := s.processBatch(ctx)
		if err != nil {
			s.logg.Error(ctx, "alert dispatch batch error", err)
			backoff = nextBackoff(backoff, s.pollInterval, maxBackoff)
			if err := s.sleep(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		}

		backoff = s.pollInterval
		if progressed {
			continue
		}
		if err := s.sleep(ctx, withJitter(s.pollInterval)); err != nil {
			return err
		}
	}
}

// processBatch reports progress only when a row changed state. Timed-out
// and leased rows stay dispatchable and must not spin the loop.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	summary, err := s.alerts.DispatchPending(ctx, s.batchSize)
	changed := summary.Sent + summary.Failed + summary.Escalated
	if changed > 0 || summary.TimedOut > 0 {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"sent":       summary.Sent,
			"failed":     summary.Failed,
			"escalated":  summary.Escalated,
			"timed_out":  summary.TimedOut,
			"skipped":    summary.Skipped,
			"batch_size": s.batchSize,
		}), "alert dispatch batch")
	}
	if err != nil {
		return false, err
	}
	return changed > 0, nil
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
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

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	jitterMu.Lock()
	jitter := time.Duration(jitterSource.Int63n(int64(jitterWindow)))
	jitterMu.Unlock()
	return d + jitter
}
