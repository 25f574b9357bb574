package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Gateway is a provisioned field device. SealedSecret holds the secretbox
// ciphertext of its HMAC secret, never the plaintext.
type Gateway struct {
	ID           uuid.UUID  `gorm:"column:id;primaryKey"`
	Serial       string     `gorm:"column:serial;not null;uniqueIndex"`
	SecretKey    string     `gorm:"column:secret_key;not null;uniqueIndex"`
	SealedSecret string     `gorm:"column:sealed_secret;not null"`
	LastSeenAt   *time.Time `gorm:"column:last_seen_at"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Gateway) TableName() string { return "gateways" }

func (g *Gateway) BeforeCreate(*gorm.DB) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	return nil
}
