package compensation

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/kiosk-backend/internal/repo"
	"github.com/angelmondragon/kiosk-backend/pkg/db/models"
	"github.com/angelmondragon/kiosk-backend/pkg/enums"
)

const maxReasonLen = 1024

var (
	deliveredKinds = []enums.ReleaseEventKind{enums.ReleaseEventRelease, enums.ReleaseEventCycleStart}
	refundable     = []enums.PaymentStatus{enums.PaymentStatusRefundPending, enums.PaymentStatusRefundFailed}
)

const undeliveredClause = "NOT EXISTS (SELECT 1 FROM release_events re WHERE re.payment_id = payments.id AND re.kind IN ?)"

// Repository reads payments and release events and tracks compensation records.
type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{Base: repo.NewBase(tx)}
}

func (r *Repository) staleQuery(ctx context.Context, cutoff time.Time) *gorm.DB {
	return r.DB(ctx).Model(&models.Payment{}).
		Where("status = ?", enums.PaymentStatusPaid).
		Where("created_at < ?", cutoff).
		Where(undeliveredClause, deliveredKinds)
}

// ListStaleUndelivered returns PAGO payments created before cutoff with no
// release or cycle-start event, oldest first.
func (r *Repository) ListStaleUndelivered(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error) {
	var rows []models.Payment
	err := r.staleQuery(ctx, cutoff).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *Repository) CountStaleUndelivered(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := r.staleQuery(ctx, cutoff).Count(&count).Error
	return count, err
}

// OldestStaleUndelivered returns the oldest stale payment or nil.
func (r *Repository) OldestStaleUndelivered(ctx context.Context, cutoff time.Time) (*models.Payment, error) {
	var payment models.Payment
	found, err := repo.FirstOrNil(r.staleQuery(ctx, cutoff).Order("created_at ASC"), &payment)
	if err != nil || !found {
		return nil, err
	}
	return &payment, nil
}

// FlagForRefund moves a PAGO payment to ESTORNO_PENDENTE. It reports false
// when another scan got there first.
func (r *Repository) FlagForRefund(ctx context.Context, paymentID string, now time.Time) (bool, error) {
	res := r.DB(ctx).Model(&models.Payment{}).
		Where("id = ? AND status = ?", paymentID, enums.PaymentStatusPaid).
		Updates(map[string]any{
			"status":     enums.PaymentStatusRefundPending,
			"flagged_at": now,
			"updated_at": now,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *Repository) InsertRecord(ctx context.Context, rec *models.CompensationRecord) error {
	return r.DB(ctx).Create(rec).Error
}

// ListExpired returns payments awaiting refund whose flag is older than cutoff.
func (r *Repository) ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error) {
	var rows []models.Payment
	err := r.DB(ctx).
		Where("status IN ?", refundable).
		Where("flagged_at IS NOT NULL AND flagged_at <= ?", cutoff).
		Order("flagged_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *Repository) MarkRefunded(ctx context.Context, paymentID string, now time.Time) (bool, error) {
	res := r.DB(ctx).Model(&models.Payment{}).
		Where("id = ? AND status IN ?", paymentID, refundable).
		Updates(map[string]any{
			"status":         enums.PaymentStatusRefunded,
			"compensated_at": now,
			"failure_reason": nil,
			"updated_at":     now,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *Repository) MarkRefundFailed(ctx context.Context, paymentID, reason string, now time.Time) (bool, error) {
	res := r.DB(ctx).Model(&models.Payment{}).
		Where("id = ? AND status IN ?", paymentID, refundable).
		Updates(map[string]any{
			"status":         enums.PaymentStatusRefundFailed,
			"failure_reason": truncate(reason),
			"updated_at":     now,
		})
	return res.RowsAffected == 1, res.Error
}

// RecordAttempt stores the outcome of one refund attempt, creating the record
// for payments flagged outside the scan.
func (r *Repository) RecordAttempt(ctx context.Context, payment models.Payment, outcome enums.CompensationOutcome, errText *string, now time.Time) error {
	updates := map[string]any{
		"outcome":    outcome,
		"attempts":   gorm.Expr("attempts + 1"),
		"last_error": nil,
		"updated_at": now,
	}
	if errText != nil {
		updates["last_error"] = truncate(*errText)
	}
	if outcome == enums.CompensationRefunded {
		updates["resolved_at"] = now
	}
	res := r.DB(ctx).Model(&models.CompensationRecord{}).
		Where("payment_id = ?", payment.ID).
		Updates(updates)
	if res.Error != nil || res.RowsAffected > 0 {
		return res.Error
	}

	detected := now
	if payment.FlaggedAt != nil {
		detected = *payment.FlaggedAt
	}
	rec := &models.CompensationRecord{
		PaymentID:   payment.ID,
		DetectedAt:  detected,
		TTLDeadline: detected,
		Outcome:     outcome,
		Attempts:    1,
		UpdatedAt:   now,
	}
	if errText != nil {
		msg := truncate(*errText)
		rec.LastError = &msg
	}
	if outcome == enums.CompensationRefunded {
		rec.ResolvedAt = &now
	}
	return r.DB(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(rec).Error
}

func (r *Repository) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	var payment models.Payment
	found, err := repo.FirstOrNil(r.DB(ctx).Where("id = ?", id), &payment)
	if err != nil || !found {
		return nil, err
	}
	return &payment, nil
}

func (r *Repository) GetRecord(ctx context.Context, paymentID string) (*models.CompensationRecord, error) {
	var rec models.CompensationRecord
	found, err := repo.FirstOrNil(r.DB(ctx).Where("payment_id = ?", paymentID), &rec)
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

func (r *Repository) ListRecords(ctx context.Context, outcome *enums.CompensationOutcome, limit int) ([]models.CompensationRecord, error) {
	query := r.DB(ctx).Model(&models.CompensationRecord{})
	if outcome != nil {
		query = query.Where("outcome = ?", *outcome)
	}
	var rows []models.CompensationRecord
	err := query.Order("detected_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

type statusCount struct {
	Status enums.PaymentStatus
	Total  int64
}

// CountByStatus returns the number of payments per status.
func (r *Repository) CountByStatus(ctx context.Context) (map[enums.PaymentStatus]int64, error) {
	var rows []statusCount
	err := r.DB(ctx).Model(&models.Payment{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[enums.PaymentStatus]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Total
	}
	return out, nil
}

func truncate(s string) string {
	return repo.Truncate(s, maxReasonLen)
}
