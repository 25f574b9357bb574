package gateways

import (
	"context"
	"strings"
	"time"

	"github.com/angelmondragon/kiosk-backend/pkg/config"
	"github.com/angelmondragon/kiosk-backend/pkg/db"
	pkgerrors "github.com/angelmondragon/kiosk-backend/pkg/errors"
	"github.com/angelmondragon/kiosk-backend/pkg/logger"
	"github.com/angelmondragon/kiosk-backend/pkg/pagination"
)

type liveness interface {
	TouchLastSeen(ctx context.Context, serial string, now time.Time) error
}

// Service fronts the verifier for inbound gateway traffic.
type Service struct {
	verifier *Verifier
	repo     *Repository
	seen     liveness
	sealer   *Sealer
	logg     *logger.Logger
}

type ServiceParams struct {
	Verifier *Verifier
	Repo     *Repository
	Sealer   *Sealer
	Logger   *logger.Logger
}

func NewService(p ServiceParams) (*Service, error) {
	if p.Verifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "verifier is required")
	}
	if p.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "gateway repository is required")
	}
	return &Service{verifier: p.Verifier, repo: p.Repo, seen: p.Repo, sealer: p.Sealer, logg: p.Logger}, nil
}

// Heartbeat verifies req and records liveness only when it is accepted.
func (s *Service) Heartbeat(ctx context.Context, req Request, now time.Time) (Result, error) {
	res, err := s.verifier.Verify(ctx, req, now)
	if err != nil {
		return Result{}, err
	}
	if s.logg != nil {
		ctx = s.logg.WithGatewaySerial(ctx, res.Serial)
	}
	if !res.Accepted {
		if s.logg != nil {
			s.logg.Warn(s.logg.WithField(ctx, "reason", string(res.Reason)), "gateway.rejected")
		}
		return res, nil
	}
	if err := s.seen.TouchLastSeen(ctx, res.Serial, now); err != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeDB, err, "update gateway last_seen_at")
	}
	return res, nil
}

// Provision seals secret and stores it for serial. Serials whose secret key
// collides with a different provisioned gateway are refused.
func (s *Service) Provision(ctx context.Context, serial, secret string, now time.Time) error {
	serial = strings.TrimSpace(serial)
	if serial == "" || strings.TrimSpace(secret) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "serial and secret are required")
	}
	if s.sealer == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "seal key is not configured")
	}
	existing, err := s.repo.FindBySecretKey(ctx, config.SecretKey(serial))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDB, err, "lookup gateway")
	}
	if existing != nil && existing.Serial != serial {
		return pkgerrors.New(pkgerrors.CodeValidation, "secret key already used by "+existing.Serial)
	}
	sealed, err := s.sealer.Seal(secret)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "seal gateway secret")
	}
	if err := s.repo.UpsertSealed(ctx, serial, sealed, now); err != nil {
		if db.IsUniqueViolation(err, "") {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "secret key already in use")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDB, err, "store gateway secret")
	}
	return nil
}

// GatewayView is the admin projection of a gateway; it never carries secrets.
type GatewayView struct {
	Serial     string     `json:"serial"`
	SecretKey  string     `json:"secret_key"`
	Sealed     bool       `json:"provisioned"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

func (s *Service) List(ctx context.Context, limit int) ([]GatewayView, error) {
	rows, err := s.repo.List(ctx, pagination.ClampLimit(limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDB, err, "list gateways")
	}
	out := make([]GatewayView, 0, len(rows))
	for _, row := range rows {
		out = append(out, GatewayView{
			Serial:     row.Serial,
			SecretKey:  row.SecretKey,
			Sealed:     row.SealedSecret != "",
			LastSeenAt: row.LastSeenAt,
		})
	}
	return out, nil
}
