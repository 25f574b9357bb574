package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/kiosk-backend/pkg/enums"
)

// CompensationRecord tracks the corrective action for one stale payment.
type CompensationRecord struct {
	ID          uuid.UUID                 `gorm:"column:id;primaryKey" json:"id"`
	PaymentID   string                    `gorm:"column:payment_id;not null;uniqueIndex" json:"payment_id"`
	DetectedAt  time.Time                 `gorm:"column:detected_at;not null" json:"detected_at"`
	TTLDeadline time.Time                 `gorm:"column:ttl_deadline;not null" json:"ttl_deadline"`
	Outcome     enums.CompensationOutcome `gorm:"column:outcome;not null" json:"outcome"`
	Attempts    int                       `gorm:"column:attempts;not null;default:0" json:"attempts"`
	LastError   *string                   `gorm:"column:last_error" json:"last_error,omitempty"`
	ResolvedAt  *time.Time                `gorm:"column:resolved_at" json:"resolved_at,omitempty"`
	UpdatedAt   time.Time                 `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (CompensationRecord) TableName() string { return "compensation_records" }

func (r *CompensationRecord) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
