package gateways

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/kiosk-backend/internal/repo"
	"github.com/angelmondragon/kiosk-backend/pkg/config"
	"github.com/angelmondragon/kiosk-backend/pkg/db/models"
)

// Repository persists gateway identity and liveness.
type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

func (r *Repository) FindBySecretKey(ctx context.Context, secretKey string) (*models.Gateway, error) {
	var gw models.Gateway
	found, err := repo.FirstOrNil(r.DB(ctx).Where("secret_key = ?", secretKey), &gw)
	if err != nil || !found {
		return nil, err
	}
	return &gw, nil
}

func (r *Repository) FindBySerial(ctx context.Context, serial string) (*models.Gateway, error) {
	var gw models.Gateway
	found, err := repo.FirstOrNil(r.DB(ctx).Where("serial = ?", serial), &gw)
	if err != nil || !found {
		return nil, err
	}
	return &gw, nil
}

// TouchLastSeen records liveness. Gateways known only from static
// configuration get a row without a sealed secret on first contact.
func (r *Repository) TouchLastSeen(ctx context.Context, serial string, now time.Time) error {
	now = now.UTC()
	res := r.DB(ctx).Model(&models.Gateway{}).
		Where("serial = ?", serial).
		Updates(map[string]any{"last_seen_at": now, "updated_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	gw := &models.Gateway{
		Serial:     serial,
		SecretKey:  config.SecretKey(serial),
		LastSeenAt: &now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return r.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "serial"}},
		DoUpdates: clause.Assignments(map[string]any{"last_seen_at": now, "updated_at": now}),
	}).Create(gw).Error
}

// UpsertSealed stores a sealed secret for serial, replacing any previous one.
func (r *Repository) UpsertSealed(ctx context.Context, serial, sealed string, now time.Time) error {
	now = now.UTC()
	gw := &models.Gateway{
		Serial:       serial,
		SecretKey:    config.SecretKey(serial),
		SealedSecret: sealed,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return r.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "serial"}},
		DoUpdates: clause.Assignments(map[string]any{"sealed_secret": sealed, "updated_at": now}),
	}).Create(gw).Error
}

func (r *Repository) List(ctx context.Context, limit int) ([]models.Gateway, error) {
	var out []models.Gateway
	err := r.DB(ctx).Order("serial ASC").Limit(limit).Find(&out).Error
	return out, err
}
