package alerts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/kiosk-backend/internal/repo"
	"github.com/angelmondragon/kiosk-backend/pkg/db/models"
	"github.com/angelmondragon/kiosk-backend/pkg/enums"
)

const maxErrorLen = 1024

// liveFingerprintPredicate mirrors the partial unique index predicate so the
// conflict target can be inferred on both postgres and sqlite.
const liveFingerprintPredicate = "status IN ('PENDING', 'SENT')"

// Repository persists the alert outbox, its DLQ and the dispatch log.
type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// WithTx binds the repository to a caller transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{Base: repo.NewBase(tx)}
}

func (r *Repository) FindLiveByFingerprint(ctx context.Context, fingerprint string) (*models.AlertMessage, error) {
	var msg models.AlertMessage
	found, err := repo.FirstOrNil(r.DB(ctx).
		Where("fingerprint = ?", fingerprint).
		Where("status IN ?", enums.LiveAlertStatuses), &msg)
	if err != nil || !found {
		return nil, err
	}
	return &msg, nil
}

// InsertIfAbsent inserts msg unless a live row already owns its fingerprint.
// It reports whether a row was written.
func (r *Repository) InsertIfAbsent(ctx context.Context, msg *models.AlertMessage) (bool, error) {
	res := r.DB(ctx).Clauses(clause.OnConflict{
		Columns:     []clause.Column{{Name: "fingerprint"}},
		TargetWhere: clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: liveFingerprintPredicate}}},
		DoNothing:   true,
	}).Create(msg)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.AlertMessage, error) {
	var msg models.AlertMessage
	found, err := repo.FirstOrNil(r.DB(ctx).Where("id = ?", id), &msg)
	if err != nil || !found {
		return nil, err
	}
	return &msg, nil
}

// ListDispatchable returns PENDING rows without a live lease, oldest first.
func (r *Repository) ListDispatchable(ctx context.Context, now time.Time, limit int) ([]models.AlertMessage, error) {
	var rows []models.AlertMessage
	err := r.DB(ctx).
		Where("status = ?", enums.AlertStatusPending).
		Where("claimed_until IS NULL OR claimed_until <= ?", now).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// Claim leases a PENDING row until the given instant. Only one caller can hold
// an unexpired lease for a message.
func (r *Repository) Claim(ctx context.Context, id uuid.UUID, now, until time.Time) (bool, error) {
	res := r.DB(ctx).Model(&models.AlertMessage{}).
		Where("id = ?", id).
		Where("status = ?", enums.AlertStatusPending).
		Where("claimed_until IS NULL OR claimed_until <= ?", now).
		Updates(map[string]any{"claimed_until": until, "updated_at": now})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	res := r.DB(ctx).Model(&models.AlertMessage{}).
		Where("id = ? AND status = ?", id, enums.AlertStatusPending).
		Updates(map[string]any{
			"status":        enums.AlertStatusSent,
			"sent_at":       now,
			"claimed_until": nil,
			"last_error":    nil,
			"updated_at":    now,
		})
	return res.RowsAffected == 1, res.Error
}

// RecordFailure bumps attempts from the value observed by the dispatcher and
// releases the lease so the row is picked up again.
func (r *Repository) RecordFailure(ctx context.Context, id uuid.UUID, observedAttempts int, errMsg string, now time.Time) (bool, error) {
	res := r.DB(ctx).Model(&models.AlertMessage{}).
		Where("id = ? AND status = ? AND attempts = ?", id, enums.AlertStatusPending, observedAttempts).
		Updates(map[string]any{
			"attempts":      observedAttempts + 1,
			"last_error":    truncateError(errMsg),
			"claimed_until": nil,
			"updated_at":    now,
		})
	return res.RowsAffected == 1, res.Error
}

// MarkEscalated moves a PENDING row to FAILED_RETRYABLE.
func (r *Repository) MarkEscalated(ctx context.Context, id uuid.UUID, observedAttempts int, errMsg string, now time.Time) (bool, error) {
	res := r.DB(ctx).Model(&models.AlertMessage{}).
		Where("id = ? AND status = ? AND attempts = ?", id, enums.AlertStatusPending, observedAttempts).
		Updates(map[string]any{
			"status":        enums.AlertStatusFailedRetryable,
			"attempts":      observedAttempts + 1,
			"last_error":    truncateError(errMsg),
			"claimed_until": nil,
			"updated_at":    now,
		})
	return res.RowsAffected == 1, res.Error
}

// ResetForReplay puts a FAILED_RETRYABLE row back into the outbox.
func (r *Repository) ResetForReplay(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	res := r.DB(ctx).Model(&models.AlertMessage{}).
		Where("id = ? AND status = ?", id, enums.AlertStatusFailedRetryable).
		Updates(map[string]any{
			"status":        enums.AlertStatusPending,
			"attempts":      0,
			"last_error":    nil,
			"claimed_until": nil,
			"updated_at":    now,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *Repository) List(ctx context.Context, status *enums.AlertStatus, limit int) ([]models.AlertMessage, error) {
	query := r.DB(ctx).Model(&models.AlertMessage{})
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	var rows []models.AlertMessage
	err := query.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// UpsertDLQ writes the dead-letter copy of a message. A message escalated
// again after a replay reopens its existing entry.
func (r *Repository) UpsertDLQ(ctx context.Context, entry *models.AlertDLQEntry) error {
	entry.Error = truncateError(entry.Error)
	return r.DB(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "message_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"attempts":       entry.Attempts,
			"error":          entry.Error,
			"last_failed_at": entry.LastFailedAt,
			"next_retry_at":  entry.NextRetryAt,
			"status":         enums.DLQStatusOpen,
			"resolved_at":    nil,
			"resolved_by":    nil,
			"updated_at":     entry.UpdatedAt,
		}),
	}).Create(entry).Error
}

func (r *Repository) GetDLQ(ctx context.Context, id uuid.UUID) (*models.AlertDLQEntry, error) {
	var entry models.AlertDLQEntry
	found, err := repo.FirstOrNil(r.DB(ctx).Where("id = ?", id), &entry)
	if err != nil || !found {
		return nil, err
	}
	return &entry, nil
}

func (r *Repository) GetDLQByMessage(ctx context.Context, messageID uuid.UUID) (*models.AlertDLQEntry, error) {
	var entry models.AlertDLQEntry
	found, err := repo.FirstOrNil(r.DB(ctx).Where("message_id = ?", messageID), &entry)
	if err != nil || !found {
		return nil, err
	}
	return &entry, nil
}

func (r *Repository) ListDLQ(ctx context.Context, status *enums.DLQStatus, limit int) ([]models.AlertDLQEntry, error) {
	query := r.DB(ctx).Model(&models.AlertDLQEntry{})
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	var rows []models.AlertDLQEntry
	err := query.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// ListDueDLQ returns OPEN entries whose retry time has passed, earliest first.
func (r *Repository) ListDueDLQ(ctx context.Context, now time.Time, limit int) ([]models.AlertDLQEntry, error) {
	var rows []models.AlertDLQEntry
	err := r.DB(ctx).
		Where("status = ?", enums.DLQStatusOpen).
		Where("next_retry_at IS NOT NULL AND next_retry_at <= ?", now).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *Repository) MarkDLQReplayed(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	res := r.DB(ctx).Model(&models.AlertDLQEntry{}).
		Where("id = ? AND status = ?", id, enums.DLQStatusOpen).
		Updates(map[string]any{
			"attempts":      0,
			"replay_count":  gorm.Expr("replay_count + 1"),
			"next_retry_at": nil,
			"resolved_at":   nil,
			"resolved_by":   nil,
			"updated_at":    now,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *Repository) ResolveDLQ(ctx context.Context, id uuid.UUID, operator string, now time.Time) (bool, error) {
	res := r.DB(ctx).Model(&models.AlertDLQEntry{}).
		Where("id = ? AND status = ?", id, enums.DLQStatusOpen).
		Updates(map[string]any{
			"status":        enums.DLQStatusResolved,
			"resolved_at":   now,
			"resolved_by":   operator,
			"next_retry_at": nil,
			"updated_at":    now,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *Repository) AppendLog(ctx context.Context, entry *models.AlertDispatchLog) error {
	if entry.Error != nil {
		msg := truncateError(*entry.Error)
		entry.Error = &msg
	}
	return r.DB(ctx).Create(entry).Error
}

func (r *Repository) ListLog(ctx context.Context, messageID uuid.UUID) ([]models.AlertDispatchLog, error) {
	var rows []models.AlertDispatchLog
	err := r.DB(ctx).Where("message_id = ?", messageID).Order("attempt ASC").Order("created_at ASC").Find(&rows).Error
	return rows, err
}

func truncateError(message string) string {
	return repo.Truncate(message, maxErrorLen)
}
