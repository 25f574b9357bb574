package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/kiosk-backend/pkg/enums"
)

// Payment is the kiosk payment projection read and advanced by compensation.
type Payment struct {
	ID            string              `gorm:"column:id;primaryKey"`
	Status        enums.PaymentStatus `gorm:"column:status;not null"`
	Amount        decimal.Decimal     `gorm:"column:amount;not null"`
	MachineID     string              `gorm:"column:machine_id;not null"`
	CreatedAt     time.Time           `gorm:"column:created_at"`
	FlaggedAt     *time.Time          `gorm:"column:flagged_at"`
	CompensatedAt *time.Time          `gorm:"column:compensated_at"`
	FailureReason *string             `gorm:"column:failure_reason"`
	UpdatedAt     time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (Payment) TableName() string { return "payments" }

// ReleaseEvent is written by the device-state collaborator when a machine is
// released or starts a cycle for a payment.
type ReleaseEvent struct {
	ID         string                 `gorm:"column:id;primaryKey"`
	PaymentID  string                 `gorm:"column:payment_id;not null"`
	MachineID  string                 `gorm:"column:machine_id;not null"`
	Kind       enums.ReleaseEventKind `gorm:"column:kind;not null"`
	OccurredAt time.Time              `gorm:"column:occurred_at;not null"`
}

func (ReleaseEvent) TableName() string { return "release_events" }
