package gateways

import (
	"context"
	"fmt"

	"github.com/angelmondragon/kiosk-backend/pkg/db/models"
)

// SecretResolver looks up a gateway secret by normalized secret key.
type SecretResolver interface {
	Resolve(ctx context.Context, secretKey string) (string, bool, error)
}

// StaticResolver serves secrets from configuration, keyed by secret key.
type StaticResolver map[string]string

func (s StaticResolver) Resolve(_ context.Context, secretKey string) (string, bool, error) {
	secret, ok := s[secretKey]
	return secret, ok, nil
}

// ChainResolver returns the first configured secret among its resolvers.
type ChainResolver []SecretResolver

func (c ChainResolver) Resolve(ctx context.Context, secretKey string) (string, bool, error) {
	for _, r := range c {
		if r == nil {
			continue
		}
		secret, ok, err := r.Resolve(ctx, secretKey)
		if err != nil {
			return "", false, err
		}
		if ok {
			return secret, true, nil
		}
	}
	return "", false, nil
}

type gatewayLookup interface {
	FindBySecretKey(ctx context.Context, secretKey string) (*models.Gateway, error)
}

// SealedResolver opens secrets provisioned into the gateways table.
type SealedResolver struct {
	repo   gatewayLookup
	sealer *Sealer
}

func NewSealedResolver(repo *Repository, sealer *Sealer) *SealedResolver {
	return &SealedResolver{repo: repo, sealer: sealer}
}

func (r *SealedResolver) Resolve(ctx context.Context, secretKey string) (string, bool, error) {
	row, err := r.repo.FindBySecretKey(ctx, secretKey)
	if err != nil {
		return "", false, err
	}
	if row == nil || row.SealedSecret == "" {
		return "", false, nil
	}
	secret, err := r.sealer.Open(row.SealedSecret)
	if err != nil {
		return "", false, fmt.Errorf("open secret for %s: %w", row.Serial, err)
	}
	return secret, true, nil
}
