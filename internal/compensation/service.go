package compensation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/kiosk-backend/internal/alerts"
	"github.com/angelmondragon/kiosk-backend/internal/refunds"
	"github.com/angelmondragon/kiosk-backend/pkg/config"
	"github.com/angelmondragon/kiosk-backend/pkg/db/models"
	"github.com/angelmondragon/kiosk-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/kiosk-backend/pkg/errors"
	"github.com/angelmondragon/kiosk-backend/pkg/logger"
	"github.com/angelmondragon/kiosk-backend/pkg/metrics"
	"github.com/angelmondragon/kiosk-backend/pkg/pagination"
)

// EventStalePayment is the alert event code raised for undelivered payments.
const EventStalePayment = "payment.undelivered"

type alertEnqueuer interface {
	EnqueueTx(ctx context.Context, tx *gorm.DB, in alerts.EnqueueInput) (*models.AlertMessage, bool, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type Config struct {
	ReleaseAckTTL time.Duration
	GraceWindow   time.Duration
	ScanLimit     int
	RefundTimeout time.Duration
	AlertChannel  enums.AlertChannel
	AlertTarget   string
}

func ConfigFrom(cfg config.CompensationConfig) (Config, error) {
	channel, err := enums.ParseAlertChannel(cfg.AlertChannel)
	if err != nil {
		return Config{}, err
	}
	return Config{
		ReleaseAckTTL: cfg.ReleaseAckTTL,
		GraceWindow:   cfg.GraceWindow,
		ScanLimit:     cfg.ScanLimit,
		RefundTimeout: cfg.RefundTimeout,
		AlertChannel:  channel,
		AlertTarget:   cfg.AlertTarget,
	}, nil
}

func (c Config) withDefaults() Config {
	if c.ReleaseAckTTL <= 0 {
		c.ReleaseAckTTL = 10 * time.Minute
	}
	if c.GraceWindow < 0 {
		c.GraceWindow = 0
	}
	if c.ScanLimit <= 0 {
		c.ScanLimit = 200
	}
	if c.RefundTimeout <= 0 {
		c.RefundTimeout = 15 * time.Second
	}
	if c.AlertChannel == "" {
		c.AlertChannel = enums.ChannelLog
	}
	if strings.TrimSpace(c.AlertTarget) == "" {
		c.AlertTarget = "ops"
	}
	return c
}

type ServiceParams struct {
	Repo     *Repository
	Tx       txRunner
	Alerts   alertEnqueuer
	Refunder refunds.Refunder
	Config   Config
	Logger   *logger.Logger
	Metrics  *metrics.CompensationMetrics
	Clock    func() time.Time
}

// Service detects paid-but-undelivered payments and drives their refund.
type Service struct {
	repo     *Repository
	tx       txRunner
	alerts   alertEnqueuer
	refunder refunds.Refunder
	cfg      Config
	logg     *logger.Logger
	metrics  *metrics.CompensationMetrics
	now      func() time.Time
}

func NewService(p ServiceParams) (*Service, error) {
	if p.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "compensation repository is required")
	}
	if p.Tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner is required")
	}
	if p.Alerts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "alert outbox is required")
	}
	clock := p.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		repo:     p.Repo,
		tx:       p.Tx,
		alerts:   p.Alerts,
		refunder: p.Refunder,
		cfg:      p.Config.withDefaults(),
		logg:     p.Logger,
		metrics:  p.Metrics,
		now:      func() time.Time { return clock().UTC() },
	}, nil
}

type ScanSummary struct {
	Scanned        int `json:"scanned"`
	Flagged        int `json:"flagged"`
	Skipped        int `json:"skipped"`
	AlertsEnqueued int `json:"alerts_enqueued"`
}

// ScanUndeliveredPaid flags PAGO payments that never produced a release within
// ReleaseAckTTL. Each payment is flagged, recorded and alerted atomically; a
// payment already flagged by a concurrent scan is skipped.
func (s *Service) ScanUndeliveredPaid(ctx context.Context) (ScanSummary, error) {
	var summary ScanSummary
	now := s.now()
	cutoff := now.Add(-s.cfg.ReleaseAckTTL)

	stale, err := s.repo.ListStaleUndelivered(ctx, cutoff, s.cfg.ScanLimit)
	if err != nil {
		return summary, pkgerrors.Wrap(pkgerrors.CodeDB, err, "list stale payments")
	}

	var errs error
	for _, payment := range stale {
		summary.Scanned++
		flagged, created, err := s.flag(ctx, payment, now)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("payment %s: %w", payment.ID, err))
			continue
		}
		if !flagged {
			summary.Skipped++
			continue
		}
		summary.Flagged++
		if created {
			summary.AlertsEnqueued++
		}
		s.metrics.IncTransition(string(enums.PaymentStatusRefundPending))
		s.info(ctx, payment.ID, "compensation.flagged")
	}
	return summary, errs
}

func (s *Service) flag(ctx context.Context, payment models.Payment, now time.Time) (bool, bool, error) {
	var flagged, created bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		r := s.repo.WithTx(tx)
		ok, err := r.FlagForRefund(ctx, payment.ID, now)
		if err != nil || !ok {
			return err
		}
		if err := r.InsertRecord(ctx, &models.CompensationRecord{
			PaymentID:   payment.ID,
			DetectedAt:  now,
			TTLDeadline: payment.CreatedAt.Add(s.cfg.ReleaseAckTTL),
			Outcome:     enums.CompensationPending,
			UpdatedAt:   now,
		}); err != nil {
			return err
		}
		_, created, err = s.alerts.EnqueueTx(ctx, tx, alerts.EnqueueInput{
			EventCode:   EventStalePayment,
			Severity:    enums.SeverityWarning,
			Fingerprint: payment.ID + ":stale",
			Channel:     s.cfg.AlertChannel,
			Target:      s.cfg.AlertTarget,
			Text:        staleText(payment, now),
		})
		if err != nil {
			return err
		}
		flagged = true
		return nil
	})
	if err != nil {
		return false, false, pkgerrors.Wrap(pkgerrors.CodeDB, err, "flag payment")
	}
	return flagged, created, nil
}

func staleText(p models.Payment, now time.Time) string {
	age := now.Sub(p.CreatedAt).Truncate(time.Second)
	return fmt.Sprintf("Payment %s of %s on machine %s has no release after %s; refund pending.",
		p.ID, p.Amount.StringFixed(2), p.MachineID, age)
}

type ExecuteSummary struct {
	Considered int `json:"considered"`
	Refunded   int `json:"refunded"`
	Failed     int `json:"failed"`
	TimedOut   int `json:"timed_out"`
	Skipped    int `json:"skipped"`
}

// ExecuteExpiredCompensation refunds flagged payments whose grace window has
// elapsed. Failed refunds stay eligible for the next pass; timed-out calls
// leave the payment untouched.
func (s *Service) ExecuteExpiredCompensation(ctx context.Context) (ExecuteSummary, error) {
	var summary ExecuteSummary
	if s.refunder == nil {
		return summary, pkgerrors.New(pkgerrors.CodeInternal, "refunder is not configured")
	}
	cutoff := s.now().Add(-s.cfg.GraceWindow)
	due, err := s.repo.ListExpired(ctx, cutoff, s.cfg.ScanLimit)
	if err != nil {
		return summary, pkgerrors.Wrap(pkgerrors.CodeDB, err, "list expired compensations")
	}

	var errs error
	for _, payment := range due {
		if ctx.Err() != nil {
			return summary, multierr.Append(errs, ctx.Err())
		}
		summary.Considered++

		refundCtx, cancel := context.WithTimeout(ctx, s.cfg.RefundTimeout)
		refundErr := s.refunder.Refund(refundCtx, payment.ID)
		timedOut := errors.Is(refundErr, context.DeadlineExceeded) ||
			(refundErr != nil && errors.Is(refundCtx.Err(), context.DeadlineExceeded))
		cancel()

		if ctx.Err() != nil {
			return summary, multierr.Append(errs, ctx.Err())
		}
		if timedOut {
			summary.TimedOut++
			s.warn(ctx, payment.ID, "compensation.refund_timeout", refundErr)
			continue
		}

		applied, err := s.applyRefundResult(ctx, payment, refundErr)
		switch {
		case err != nil:
			errs = multierr.Append(errs, fmt.Errorf("payment %s: %w", payment.ID, err))
		case !applied:
			summary.Skipped++
		case refundErr == nil:
			summary.Refunded++
			s.metrics.IncTransition(string(enums.PaymentStatusRefunded))
			s.info(ctx, payment.ID, "compensation.refunded")
		default:
			summary.Failed++
			s.metrics.IncTransition(string(enums.PaymentStatusRefundFailed))
			s.warn(ctx, payment.ID, "compensation.refund_failed", refundErr)
		}
	}
	return summary, errs
}

func (s *Service) applyRefundResult(ctx context.Context, payment models.Payment, refundErr error) (bool, error) {
	now := s.now()
	var applied bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		r := s.repo.WithTx(tx)
		if refundErr == nil {
			ok, err := r.MarkRefunded(ctx, payment.ID, now)
			if err != nil || !ok {
				return err
			}
			applied = true
			return r.RecordAttempt(ctx, payment, enums.CompensationRefunded, nil, now)
		}
		reason := refundErr.Error()
		ok, err := r.MarkRefundFailed(ctx, payment.ID, reason, now)
		if err != nil || !ok {
			return err
		}
		applied = true
		return r.RecordAttempt(ctx, payment, enums.CompensationFailed, &reason, now)
	})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDB, err, "apply refund result")
	}
	return applied, nil
}

// AlertSnapshot is the dashboard view of payments needing attention.
type AlertSnapshot struct {
	StaleUnflagged       int64 `json:"stale_unflagged"`
	AwaitingCompensation int64 `json:"awaiting_compensation"`
	Failed               int64 `json:"failed"`
	OldestStaleAgeSec    int64 `json:"oldest_stale_age_sec"`
}

// CompensationAlert summarises stale and in-flight compensations. Read only.
func (s *Service) CompensationAlert(ctx context.Context) (AlertSnapshot, error) {
	var snap AlertSnapshot
	now := s.now()
	cutoff := now.Add(-s.cfg.ReleaseAckTTL)

	stale, err := s.repo.CountStaleUndelivered(ctx, cutoff)
	if err != nil {
		return snap, pkgerrors.Wrap(pkgerrors.CodeDB, err, "count stale payments")
	}
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return snap, pkgerrors.Wrap(pkgerrors.CodeDB, err, "count payments")
	}
	oldest, err := s.repo.OldestStaleUndelivered(ctx, cutoff)
	if err != nil {
		return snap, pkgerrors.Wrap(pkgerrors.CodeDB, err, "oldest stale payment")
	}

	snap.StaleUnflagged = stale
	snap.AwaitingCompensation = counts[enums.PaymentStatusRefundPending]
	snap.Failed = counts[enums.PaymentStatusRefundFailed]
	if oldest != nil {
		snap.OldestStaleAgeSec = int64(now.Sub(oldest.CreatedAt) / time.Second)
	}
	return snap, nil
}

// StatusReport counts payments per compensation state.
type StatusReport struct {
	Paid                 int64 `json:"pago"`
	RefundPending        int64 `json:"estorno_pendente"`
	Refunded             int64 `json:"estornado"`
	RefundFailed         int64 `json:"estorno_falhou"`
	StaleAwaitingRelease int64 `json:"stale_awaiting_release"`
}

func (s *Service) CompensationStatus(ctx context.Context) (StatusReport, error) {
	var report StatusReport
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return report, pkgerrors.Wrap(pkgerrors.CodeDB, err, "count payments")
	}
	stale, err := s.repo.CountStaleUndelivered(ctx, s.now().Add(-s.cfg.ReleaseAckTTL))
	if err != nil {
		return report, pkgerrors.Wrap(pkgerrors.CodeDB, err, "count stale payments")
	}
	report.Paid = counts[enums.PaymentStatusPaid]
	report.RefundPending = counts[enums.PaymentStatusRefundPending]
	report.Refunded = counts[enums.PaymentStatusRefunded]
	report.RefundFailed = counts[enums.PaymentStatusRefundFailed]
	report.StaleAwaitingRelease = stale
	return report, nil
}

// Records lists compensation records newest first, optionally by outcome.
func (s *Service) Records(ctx context.Context, outcome string, limit int) ([]models.CompensationRecord, error) {
	var filter *enums.CompensationOutcome
	if strings.TrimSpace(outcome) != "" {
		parsed, err := enums.ParseCompensationOutcome(outcome)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid outcome").
				WithDetails(map[string]any{"outcome": outcome})
		}
		filter = &parsed
	}
	rows, err := s.repo.ListRecords(ctx, filter, pagination.ClampLimit(limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDB, err, "list compensation records")
	}
	return rows, nil
}

func (s *Service) info(ctx context.Context, paymentID, msg string) {
	if s.logg == nil {
		return
	}
	s.logg.Info(s.logg.WithPaymentID(ctx, paymentID), msg)
}

func (s *Service) warn(ctx context.Context, paymentID, msg string, err error) {
	if s.logg == nil {
		return
	}
	ctx = s.logg.WithPaymentID(ctx, paymentID)
	if err != nil {
		ctx = s.logg.WithField(ctx, "error", err.Error())
	}
	s.logg.Warn(ctx, msg)
}
