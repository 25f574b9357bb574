package alerts

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/angelmondragon/kiosk-backend/pkg/config"
	"github.com/angelmondragon/kiosk-backend/pkg/db"
	"github.com/angelmondragon/kiosk-backend/pkg/db/models"
	"github.com/angelmondragon/kiosk-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/kiosk-backend/pkg/errors"
	"github.com/angelmondragon/kiosk-backend/pkg/logger"
	"github.com/angelmondragon/kiosk-backend/pkg/metrics"
	"github.com/angelmondragon/kiosk-backend/pkg/pagination"
)

// Channel delivers rendered alert text to a target on a named channel.
type Channel interface {
	Send(ctx context.Context, channel enums.AlertChannel, target, text string) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Config bounds dispatch behaviour.
type Config struct {
	MaxAttempts     int
	Workers         int
	DispatchTimeout time.Duration
	LeaseDuration   time.Duration
	BackoffBase     time.Duration
	BackoffMax      time.Duration
}

func ConfigFrom(cfg config.OutboxConfig) Config {
	return Config{
		MaxAttempts:     cfg.MaxAttempts,
		Workers:         cfg.Workers,
		DispatchTimeout: cfg.DispatchTimeout,
		LeaseDuration:   cfg.LeaseDuration,
		BackoffBase:     cfg.BackoffBase,
		BackoffMax:      cfg.BackoffMax,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = 10 * time.Second
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = time.Minute
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Minute
	}
	if c.BackoffMax < c.BackoffBase {
		c.BackoffMax = c.BackoffBase
	}
	return c
}

type ServiceParams struct {
	Repo    *Repository
	Tx      txRunner
	Channel Channel
	Config  Config
	Logger  *logger.Logger
	Metrics *metrics.AlertMetrics
	Clock   func() time.Time
}

// Service owns the alert outbox, its dispatcher and the dead-letter queue.
type Service struct {
	repo    *Repository
	tx      txRunner
	channel Channel
	cfg     Config
	logg    *logger.Logger
	metrics *metrics.AlertMetrics
	now     func() time.Time
}

func NewService(p ServiceParams) (*Service, error) {
	if p.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "alert repository is required")
	}
	if p.Tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner is required")
	}
	clock := p.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		repo:    p.Repo,
		tx:      p.Tx,
		channel: p.Channel,
		cfg:     p.Config.withDefaults(),
		logg:    p.Logger,
		metrics: p.Metrics,
		now:     func() time.Time { return clock().UTC() },
	}, nil
}

// EnqueueInput describes a new alert. Severity and channel accept any casing.
type EnqueueInput struct {
	EventCode   string              `json:"event_code" validate:"required,max=64"`
	Severity    enums.AlertSeverity `json:"severity" validate:"required,oneof=info warning critical"`
	Fingerprint string              `json:"fingerprint" validate:"required,max=255"`
	Channel     enums.AlertChannel  `json:"channel" validate:"required,oneof=webhook pubsub log"`
	Target      string              `json:"target" validate:"required,max=255"`
	Text        string              `json:"text" validate:"required"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

func (in EnqueueInput) normalize() EnqueueInput {
	in.EventCode = strings.TrimSpace(in.EventCode)
	in.Fingerprint = strings.TrimSpace(in.Fingerprint)
	in.Target = strings.TrimSpace(in.Target)
	if sev, err := enums.ParseAlertSeverity(string(in.Severity)); err == nil {
		in.Severity = sev
	}
	if ch, err := enums.ParseAlertChannel(string(in.Channel)); err == nil {
		in.Channel = ch
	}
	return in
}

func (in EnqueueInput) validate() error {
	if err := validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := map[string]string{}
			for _, fe := range verrs {
				details[fe.Field()] = fe.Tag()
			}
			return pkgerrors.New(pkgerrors.CodeValidation, "invalid alert").WithDetails(details)
		}
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid alert")
	}
	return nil
}

// Enqueue stages an alert. When a PENDING or SENT alert already owns the
// fingerprint, that row is returned and created is false.
func (s *Service) Enqueue(ctx context.Context, in EnqueueInput) (*models.AlertMessage, bool, error) {
	return s.enqueue(ctx, s.repo, in)
}

// EnqueueTx stages an alert inside the caller's transaction.
func (s *Service) EnqueueTx(ctx context.Context, tx *gorm.DB, in EnqueueInput) (*models.AlertMessage, bool, error) {
	return s.enqueue(ctx, s.repo.WithTx(tx), in)
}

func (s *Service) enqueue(ctx context.Context, r *Repository, in EnqueueInput) (*models.AlertMessage, bool, error) {
	in = in.normalize()
	if err := in.validate(); err != nil {
		return nil, false, err
	}

	// A live row can leave the live set between the insert and the lookup, so
	// retry once before giving up.
	for attempt := 0; attempt < 2; attempt++ {
		now := s.now()
		msg := &models.AlertMessage{
			ID:          uuid.New(),
			EventCode:   in.EventCode,
			Severity:    in.Severity,
			Fingerprint: in.Fingerprint,
			Channel:     in.Channel,
			Target:      in.Target,
			Text:        in.Text,
			Status:      enums.AlertStatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		created, err := r.InsertIfAbsent(ctx, msg)
		if err != nil && !db.IsUniqueViolation(err, "") {
			return nil, false, pkgerrors.Wrap(pkgerrors.CodeDB, err, "enqueue alert")
		}
		if created {
			s.metrics.IncEnqueued(true)
			s.info(ctx, "alert.enqueued", msg)
			return msg, true, nil
		}
		existing, err := r.FindLiveByFingerprint(ctx, in.Fingerprint)
		if err != nil {
			return nil, false, pkgerrors.Wrap(pkgerrors.CodeDB, err, "lookup live alert")
		}
		if existing != nil {
			s.metrics.IncEnqueued(false)
			return existing, false, nil
		}
	}
	return nil, false, pkgerrors.New(pkgerrors.CodeDB, "alert fingerprint contended")
}

// Outcome is the result of a single dispatch call.
type Outcome string

const (
	OutcomeSent      Outcome = "sent"
	OutcomeFailed    Outcome = "failed"
	OutcomeEscalated Outcome = "escalated"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeTimedOut  Outcome = "timed_out"
)

// DispatchOne leases msg and attempts one delivery. Messages already leased,
// sent or escalated are skipped.
func (s *Service) DispatchOne(ctx context.Context, msg models.AlertMessage) (Outcome, error) {
	if s.channel == nil {
		return "", pkgerrors.New(pkgerrors.CodeInternal, "alert channel is not configured")
	}
	now := s.now()
	claimed, err := s.repo.Claim(ctx, msg.ID, now, now.Add(s.cfg.LeaseDuration))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDB, err, "claim alert")
	}
	if !claimed {
		return OutcomeSkipped, nil
	}
	current, err := s.repo.Get(ctx, msg.ID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDB, err, "reload alert")
	}
	if current == nil {
		return OutcomeSkipped, nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.DispatchTimeout)
	sendErr := s.channel.Send(sendCtx, current.Channel, current.Target, current.Text)
	timedOut := errors.Is(sendErr, context.DeadlineExceeded) || (sendErr != nil && errors.Is(sendCtx.Err(), context.DeadlineExceeded))
	cancel()

	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if timedOut {
		s.warn(ctx, "alert.dispatch.timeout", current, sendErr)
		s.metrics.IncDispatch(string(OutcomeTimedOut))
		return OutcomeTimedOut, nil
	}

	now = s.now()
	if sendErr == nil {
		return s.markSent(ctx, current, now)
	}
	if current.Attempts+1 > s.cfg.MaxAttempts {
		return s.escalate(ctx, current, sendErr, now)
	}
	return s.recordFailure(ctx, current, sendErr, now)
}

func (s *Service) markSent(ctx context.Context, msg *models.AlertMessage, now time.Time) (Outcome, error) {
	var ok bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		r := s.repo.WithTx(tx)
		var err error
		ok, err = r.MarkSent(ctx, msg.ID, now)
		if err != nil || !ok {
			return err
		}
		return r.AppendLog(ctx, &models.AlertDispatchLog{
			MessageID: msg.ID,
			Attempt:   msg.Attempts + 1,
			Outcome:   enums.DispatchOutcomeSent,
			CreatedAt: now,
		})
	})
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDB, err, "mark alert sent")
	}
	if !ok {
		return OutcomeSkipped, nil
	}
	s.metrics.IncDispatch(string(OutcomeSent))
	s.info(ctx, "alert.sent", msg)
	return OutcomeSent, nil
}

func (s *Service) recordFailure(ctx context.Context, msg *models.AlertMessage, sendErr error, now time.Time) (Outcome, error) {
	errText := sendErr.Error()
	var ok bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		r := s.repo.WithTx(tx)
		var err error
		ok, err = r.RecordFailure(ctx, msg.ID, msg.Attempts, errText, now)
		if err != nil || !ok {
			return err
		}
		return r.AppendLog(ctx, &models.AlertDispatchLog{
			MessageID: msg.ID,
			Attempt:   msg.Attempts + 1,
			Outcome:   enums.DispatchOutcomeFailed,
			Error:     &errText,
			CreatedAt: now,
		})
	})
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDB, err, "record alert failure")
	}
	if !ok {
		return OutcomeSkipped, nil
	}
	s.metrics.IncDispatch(string(OutcomeFailed))
	s.warn(ctx, "alert.dispatch_failed", msg, sendErr)
	return OutcomeFailed, nil
}

func (s *Service) escalate(ctx context.Context, msg *models.AlertMessage, sendErr error, now time.Time) (Outcome, error) {
	errText := sendErr.Error()
	attempts := msg.Attempts + 1
	var ok bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		r := s.repo.WithTx(tx)
		var err error
		ok, err = r.MarkEscalated(ctx, msg.ID, msg.Attempts, errText, now)
		if err != nil || !ok {
			return err
		}
		replays := 0
		prior, err := r.GetDLQByMessage(ctx, msg.ID)
		if err != nil {
			return err
		}
		if prior != nil {
			replays = prior.ReplayCount
		}
		next := now.Add(Backoff(s.cfg.BackoffBase, s.cfg.BackoffMax, attempts+replays))
		if err := r.UpsertDLQ(ctx, &models.AlertDLQEntry{
			MessageID:    msg.ID,
			EventCode:    msg.EventCode,
			Severity:     msg.Severity,
			Fingerprint:  msg.Fingerprint,
			Channel:      msg.Channel,
			Target:       msg.Target,
			Text:         msg.Text,
			Attempts:     attempts,
			Error:        errText,
			LastFailedAt: now,
			NextRetryAt:  &next,
			Status:       enums.DLQStatusOpen,
			CreatedAt:    now,
			UpdatedAt:    now,
		}); err != nil {
			return err
		}
		return r.AppendLog(ctx, &models.AlertDispatchLog{
			MessageID: msg.ID,
			Attempt:   attempts,
			Outcome:   enums.DispatchOutcomeEscalated,
			Error:     &errText,
			CreatedAt: now,
		})
	})
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDB, err, "escalate alert")
	}
	if !ok {
		return OutcomeSkipped, nil
	}
	s.metrics.IncDispatch(string(OutcomeEscalated))
	s.warn(ctx, "alert.escalated", msg, sendErr)
	return OutcomeEscalated, nil
}

// Backoff returns base·2^(attempts-1) capped at max.
func Backoff(base, max time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := base
	for i := 1; i < attempts; i++ {
		if delay >= max/2 {
			return max
		}
		delay *= 2
	}
	if delay > max {
		return max
	}
	return delay
}

// DispatchSummary counts outcomes of one DispatchPending pass.
type DispatchSummary struct {
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Escalated int `json:"escalated"`
	Skipped   int `json:"skipped"`
	TimedOut  int `json:"timed_out"`
}

func (d *DispatchSummary) add(o Outcome) {
	switch o {
	case OutcomeSent:
		d.Sent++
	case OutcomeFailed:
		d.Failed++
	case OutcomeEscalated:
		d.Escalated++
	case OutcomeTimedOut:
		d.TimedOut++
	default:
		d.Skipped++
	}
}

// DispatchPending dispatches up to limit PENDING alerts, oldest first, with at
// most Config.Workers deliveries in flight.
func (s *Service) DispatchPending(ctx context.Context, limit int) (DispatchSummary, error) {
	var summary DispatchSummary
	rows, err := s.repo.ListDispatchable(ctx, s.now(), pagination.ClampLimit(limit))
	if err != nil {
		return summary, pkgerrors.Wrap(pkgerrors.CodeDB, err, "list pending alerts")
	}

	var (
		mu   sync.Mutex
		errs error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for _, row := range rows {
		msg := row
		g.Go(func() error {
			outcome, err := s.DispatchOne(gctx, msg)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierr.Append(errs, err)
				return nil
			}
			summary.add(outcome)
			return nil
		})
	}
	_ = g.Wait()
	return summary, errs
}

// List returns outbox rows newest first. Status is optional and case-insensitive.
func (s *Service) List(ctx context.Context, status string, limit int) ([]models.AlertMessage, error) {
	var filter *enums.AlertStatus
	if strings.TrimSpace(status) != "" {
		parsed, err := enums.ParseAlertStatus(status)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status").
				WithDetails(map[string]any{"status": status})
		}
		filter = &parsed
	}
	rows, err := s.repo.List(ctx, filter, pagination.ClampLimit(limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDB, err, "list alerts")
	}
	return rows, nil
}

// ListDLQ returns dead-letter entries newest first.
func (s *Service) ListDLQ(ctx context.Context, status string, limit int) ([]models.AlertDLQEntry, error) {
	var filter *enums.DLQStatus
	if strings.TrimSpace(status) != "" {
		parsed, err := enums.ParseDLQStatus(status)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status").
				WithDetails(map[string]any{"status": status})
		}
		filter = &parsed
	}
	rows, err := s.repo.ListDLQ(ctx, filter, pagination.ClampLimit(limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDB, err, "list dlq")
	}
	return rows, nil
}

func (s *Service) History(ctx context.Context, messageID uuid.UUID) ([]models.AlertDispatchLog, error) {
	rows, err := s.repo.ListLog(ctx, messageID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDB, err, "list dispatch log")
	}
	return rows, nil
}

// Replay puts the message behind an OPEN entry back into the outbox.
func (s *Service) Replay(ctx context.Context, dlqID uuid.UUID) (*models.AlertDLQEntry, error) {
	var out *models.AlertDLQEntry
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		r := s.repo.WithTx(tx)
		now := s.now()

		entry, err := r.GetDLQ(ctx, dlqID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDB, err, "load dlq entry")
		}
		if entry == nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "dlq entry not found").
				WithDetails(map[string]any{"id": dlqID.String()})
		}
		if entry.Status != enums.DLQStatusOpen {
			return pkgerrors.New(pkgerrors.CodeValidation, "dlq entry is not open").
				WithDetails(map[string]any{"status": string(entry.Status)})
		}
		msg, err := r.Get(ctx, entry.MessageID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDB, err, "load alert")
		}
		if msg == nil || msg.Status != enums.AlertStatusFailedRetryable {
			return pkgerrors.New(pkgerrors.CodeValidation, "alert is not replayable")
		}
		live, err := r.FindLiveByFingerprint(ctx, msg.Fingerprint)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDB, err, "lookup live alert")
		}
		if live != nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "a live alert already owns this fingerprint").
				WithDetails(map[string]any{"alert_id": live.ID.String()})
		}

		reset, err := r.ResetForReplay(ctx, msg.ID, now)
		if err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeValidation, "a live alert already owns this fingerprint")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDB, err, "reset alert")
		}
		marked, err := r.MarkDLQReplayed(ctx, entry.ID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDB, err, "mark dlq replayed")
		}
		if !reset || !marked {
			return pkgerrors.New(pkgerrors.CodeValidation, "dlq entry changed concurrently")
		}
		out, err = r.GetDLQ(ctx, entry.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDB, err, "reload dlq entry")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncReplay()
	if s.logg != nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"dlq_id":   out.ID.String(),
			"alert_id": out.MessageID.String(),
		}), "alert.replayed")
	}
	return out, nil
}

// Resolve closes an OPEN entry on behalf of operator.
func (s *Service) Resolve(ctx context.Context, dlqID uuid.UUID, operator string) (*models.AlertDLQEntry, error) {
	operator = strings.TrimSpace(operator)
	if operator == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "operator is required")
	}
	ok, err := s.repo.ResolveDLQ(ctx, dlqID, operator, s.now())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDB, err, "resolve dlq entry")
	}
	entry, err := s.repo.GetDLQ(ctx, dlqID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDB, err, "reload dlq entry")
	}
	if entry == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "dlq entry not found")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "dlq entry is not open").
			WithDetails(map[string]any{"status": string(entry.Status)})
	}
	if s.logg != nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"dlq_id":      entry.ID.String(),
			"resolved_by": operator,
		}), "alert.dlq_resolved")
	}
	return entry, nil
}

// ReplaySummary counts outcomes of one ReplayDue pass.
type ReplaySummary struct {
	Replayed int `json:"replayed"`
	Skipped  int `json:"skipped"`
}

// ReplayDue replays OPEN entries whose next_retry_at has passed. Entries that
// cannot be replayed (for example because a live alert holds the fingerprint)
// are skipped and stay OPEN.
func (s *Service) ReplayDue(ctx context.Context, limit int) (ReplaySummary, error) {
	var summary ReplaySummary
	due, err := s.repo.ListDueDLQ(ctx, s.now(), pagination.ClampLimit(limit))
	if err != nil {
		return summary, pkgerrors.Wrap(pkgerrors.CodeDB, err, "list due dlq entries")
	}
	var errs error
	for _, entry := range due {
		if _, err := s.Replay(ctx, entry.ID); err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
				summary.Skipped++
				continue
			}
			errs = multierr.Append(errs, err)
			continue
		}
		summary.Replayed++
	}
	return summary, errs
}

func (s *Service) info(ctx context.Context, msg string, alert *models.AlertMessage) {
	if s.logg == nil {
		return
	}
	s.logg.Info(s.alertFields(ctx, alert), msg)
}

func (s *Service) warn(ctx context.Context, msg string, alert *models.AlertMessage, err error) {
	if s.logg == nil {
		return
	}
	ctx = s.alertFields(ctx, alert)
	s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), msg)
}

func (s *Service) alertFields(ctx context.Context, alert *models.AlertMessage) context.Context {
	ctx = s.logg.WithAlertID(ctx, alert.ID.String())
	return s.logg.WithFields(ctx, map[string]any{
		"fingerprint": alert.Fingerprint,
		"channel":     string(alert.Channel),
		"attempts":    alert.Attempts,
	})
}
