package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/kiosk-backend/pkg/enums"
)

// AlertMessage is one outbound operational notification staged in the outbox.
type AlertMessage struct {
	ID           uuid.UUID           `gorm:"column:id;primaryKey" json:"id"`
	EventCode    string              `gorm:"column:event_code;not null" json:"event_code"`
	Severity     enums.AlertSeverity `gorm:"column:severity;not null" json:"severity"`
	Fingerprint  string              `gorm:"column:fingerprint;not null" json:"fingerprint"`
	Channel      enums.AlertChannel  `gorm:"column:channel;not null" json:"channel"`
	Target       string              `gorm:"column:target;not null" json:"target"`
	Text         string              `gorm:"column:text;not null" json:"text"`
	Status       enums.AlertStatus   `gorm:"column:status;not null" json:"status"`
	Attempts     int                 `gorm:"column:attempts;not null;default:0" json:"attempts"`
	LastError    *string             `gorm:"column:last_error" json:"last_error,omitempty"`
	ClaimedUntil *time.Time          `gorm:"column:claimed_until" json:"claimed_until,omitempty"`
	CreatedAt    time.Time           `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	SentAt       *time.Time          `gorm:"column:sent_at" json:"sent_at,omitempty"`
	UpdatedAt    time.Time           `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (AlertMessage) TableName() string { return "alert_outbox" }

func (m *AlertMessage) BeforeCreate(*gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// AlertDLQEntry is the dead-letter copy of an alert that exhausted its attempts.
// One entry exists per message; re-escalation after a replay updates it.
type AlertDLQEntry struct {
	ID           uuid.UUID           `gorm:"column:id;primaryKey" json:"id"`
	MessageID    uuid.UUID           `gorm:"column:message_id;not null;uniqueIndex" json:"message_id"`
	EventCode    string              `gorm:"column:event_code;not null" json:"event_code"`
	Severity     enums.AlertSeverity `gorm:"column:severity;not null" json:"severity"`
	Fingerprint  string              `gorm:"column:fingerprint;not null" json:"fingerprint"`
	Channel      enums.AlertChannel  `gorm:"column:channel;not null" json:"channel"`
	Target       string              `gorm:"column:target;not null" json:"target"`
	Text         string              `gorm:"column:text;not null" json:"text"`
	Attempts     int                 `gorm:"column:attempts;not null" json:"attempts"`
	Error        string              `gorm:"column:error;not null" json:"error"`
	LastFailedAt time.Time           `gorm:"column:last_failed_at;not null" json:"last_failed_at"`
	NextRetryAt  *time.Time          `gorm:"column:next_retry_at" json:"next_retry_at,omitempty"`
	ReplayCount  int                 `gorm:"column:replay_count;not null;default:0" json:"replay_count"`
	Status       enums.DLQStatus     `gorm:"column:status;not null" json:"status"`
	ResolvedAt   *time.Time          `gorm:"column:resolved_at" json:"resolved_at,omitempty"`
	ResolvedBy   *string             `gorm:"column:resolved_by" json:"resolved_by,omitempty"`
	CreatedAt    time.Time           `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time           `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (AlertDLQEntry) TableName() string { return "alert_dlq" }

func (e *AlertDLQEntry) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// AlertDispatchLog is the append-only record of every delivery attempt.
type AlertDispatchLog struct {
	ID        uuid.UUID             `gorm:"column:id;primaryKey" json:"id"`
	MessageID uuid.UUID             `gorm:"column:message_id;not null" json:"message_id"`
	Attempt   int                   `gorm:"column:attempt;not null" json:"attempt"`
	Outcome   enums.DispatchOutcome `gorm:"column:outcome;not null" json:"outcome"`
	Error     *string               `gorm:"column:error" json:"error,omitempty"`
	CreatedAt time.Time             `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (AlertDispatchLog) TableName() string { return "alert_dispatch_log" }

func (l *AlertDispatchLog) BeforeCreate(*gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
