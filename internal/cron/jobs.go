package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/kiosk-backend/internal/alerts"
	"github.com/angelmondragon/kiosk-backend/internal/compensation"
	"github.com/angelmondragon/kiosk-backend/pkg/logger"
)

const defaultReplayLimit = 50

type compensationRunner interface {
	ScanUndeliveredPaid(ctx context.Context) (compensation.ScanSummary, error)
	ExecuteExpiredCompensation(ctx context.Context) (compensation.ExecuteSummary, error)
}

type dlqReplayer interface {
	ReplayDue(ctx context.Context, limit int) (alerts.ReplaySummary, error)
}

type CompensationJobParams struct {
	Logger  *logger.Logger
	Service compensationRunner
}

// NewCompensationScanJob flags paid payments that never produced a release.
func NewCompensationScanJob(params CompensationJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Service == nil {
		return nil, fmt.Errorf("compensation service required")
	}
	return &compensationScanJob{logg: params.Logger, svc: params.Service}, nil
}

type compensationScanJob struct {
	logg *logger.Logger
	svc  compensationRunner
}

func (j *compensationScanJob) Name() string { return "compensation-scan" }

func (j *compensationScanJob) Run(ctx context.Context) error {
	summary, err := j.svc.ScanUndeliveredPaid(ctx)
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"scanned":         summary.Scanned,
		"flagged":         summary.Flagged,
		"skipped":         summary.Skipped,
		"alerts_enqueued": summary.AlertsEnqueued,
	}), "compensation scan complete")
	if err != nil {
		return fmt.Errorf("compensation scan: %w", err)
	}
	return nil
}

// NewCompensationExecuteJob refunds flagged payments past their grace window.
func NewCompensationExecuteJob(params CompensationJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Service == nil {
		return nil, fmt.Errorf("compensation service required")
	}
	return &compensationExecuteJob{logg: params.Logger, svc: params.Service}, nil
}

type compensationExecuteJob struct {
	logg *logger.Logger
	svc  compensationRunner
}

func (j *compensationExecuteJob) Name() string { return "compensation-execute" }

func (j *compensationExecuteJob) Run(ctx context.Context) error {
	summary, err := j.svc.ExecuteExpiredCompensation(ctx)
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"considered": summary.Considered,
		"refunded":   summary.Refunded,
		"failed":     summary.Failed,
		"timed_out":  summary.TimedOut,
		"skipped":    summary.Skipped,
	}), "compensation execute complete")
	if err != nil {
		return fmt.Errorf("compensation execute: %w", err)
	}
	return nil
}

type DLQReplayJobParams struct {
	Logger *logger.Logger
	Alerts dlqReplayer
	Limit  int
}

// NewDLQReplayJob replays dead-lettered alerts whose backoff has elapsed.
func NewDLQReplayJob(params DLQReplayJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Alerts == nil {
		return nil, fmt.Errorf("alert service required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultReplayLimit
	}
	return &dlqReplayJob{logg: params.Logger, alerts: params.Alerts, limit: limit}, nil
}

type dlqReplayJob struct {
	logg   *logger.Logger
	alerts dlqReplayer
	limit  int
}

func (j *dlqReplayJob) Name() string { return "alerts-dlq-replay" }

func (j *dlqReplayJob) Run(ctx context.Context) error {
	summary, err := j.alerts.ReplayDue(ctx, j.limit)
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"replayed": summary.Replayed,
		"skipped":  summary.Skipped,
	}), "dlq replay complete")
	if err != nil {
		return fmt.Errorf("dlq replay: %w", err)
	}
	return nil
}
