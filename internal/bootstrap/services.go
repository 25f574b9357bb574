// Package bootstrap assembles the domain services shared by the binaries.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/kiosk-backend/internal/alerts"
	"github.com/angelmondragon/kiosk-backend/internal/channels"
	"github.com/angelmondragon/kiosk-backend/internal/compensation"
	"github.com/angelmondragon/kiosk-backend/internal/gateways"
	"github.com/angelmondragon/kiosk-backend/internal/refunds"
	"github.com/angelmondragon/kiosk-backend/pkg/config"
	"github.com/angelmondragon/kiosk-backend/pkg/db"
	"github.com/angelmondragon/kiosk-backend/pkg/logger"
	"github.com/angelmondragon/kiosk-backend/pkg/metrics"
	"github.com/angelmondragon/kiosk-backend/pkg/pubsub"
)

// Services bundles the long-lived domain services. Close releases the
// transports they hold.
type Services struct {
	Gateways     *gateways.Service
	Alerts       *alerts.Service
	Compensation *compensation.Service

	pubsub *pubsub.Client
}

// Params configures Build. Registerer may be nil to skip metrics.
type Params struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         *db.Client
	Registerer prometheus.Registerer
}

// Build wires gateways, the alert outbox and compensation against one
// database client.
func Build(ctx context.Context, p Params) (*Services, error) {
	if p.Config == nil || p.Logger == nil || p.DB == nil {
		return nil, fmt.Errorf("config, logger and db are required")
	}
	cfg := p.Config

	var (
		gatewayMetrics      *metrics.GatewayMetrics
		alertMetrics        *metrics.AlertMetrics
		compensationMetrics *metrics.CompensationMetrics
	)
	if p.Registerer != nil {
		gatewayMetrics = metrics.NewGatewayMetrics(p.Registerer)
		alertMetrics = metrics.NewAlertMetrics(p.Registerer)
		compensationMetrics = metrics.NewCompensationMetrics(p.Registerer)
	}

	out := &Services{}

	gatewaySvc, err := buildGateways(cfg.Gateway, p.Logger, p.DB, gatewayMetrics)
	if err != nil {
		return nil, err
	}
	out.Gateways = gatewaySvc

	if cfg.GCP.ProjectID != "" && cfg.Channels.PubSubTopic != "" {
		ps, err := pubsub.NewClient(ctx, cfg.GCP, p.Logger)
		if err != nil {
			return nil, fmt.Errorf("pubsub: %w", err)
		}
		out.pubsub = ps
	}

	mux, err := channels.FromConfig(cfg.Channels, p.Logger, out.pubsub)
	if err != nil {
		_ = out.Close()
		return nil, fmt.Errorf("alert channels: %w", err)
	}

	alertSvc, err := alerts.NewService(alerts.ServiceParams{
		Repo:    alerts.NewRepository(p.DB.DB()),
		Tx:      p.DB,
		Channel: mux,
		Config:  alerts.ConfigFrom(cfg.Outbox),
		Logger:  p.Logger,
		Metrics: alertMetrics,
	})
	if err != nil {
		_ = out.Close()
		return nil, err
	}
	out.Alerts = alertSvc

	var refunder refunds.Refunder
	if cfg.Refund.BaseURL != "" {
		httpRefunder, err := refunds.NewHTTPRefunder(cfg.Refund)
		if err != nil {
			_ = out.Close()
			return nil, fmt.Errorf("refunder: %w", err)
		}
		refunder = httpRefunder
	} else {
		p.Logger.Warn(ctx, "refund endpoint not configured; compensation execute will fail")
	}

	compCfg, err := compensation.ConfigFrom(cfg.Compensation)
	if err != nil {
		_ = out.Close()
		return nil, err
	}
	if compCfg.AlertChannel != "" && !mux.Has(compCfg.AlertChannel) {
		_ = out.Close()
		return nil, fmt.Errorf("compensation alert channel %q has no configured transport", compCfg.AlertChannel)
	}
	compSvc, err := compensation.NewService(compensation.ServiceParams{
		Repo:     compensation.NewRepository(p.DB.DB()),
		Tx:       p.DB,
		Alerts:   alertSvc,
		Refunder: refunder,
		Config:   compCfg,
		Logger:   p.Logger,
		Metrics:  compensationMetrics,
	})
	if err != nil {
		_ = out.Close()
		return nil, err
	}
	out.Compensation = compSvc
	return out, nil
}

func buildGateways(cfg config.GatewayConfig, logg *logger.Logger, client *db.Client, m *metrics.GatewayMetrics) (*gateways.Service, error) {
	repo := gateways.NewRepository(client.DB())
	chain := gateways.ChainResolver{gateways.StaticResolver(cfg.KeyedSecrets())}

	var sealer *gateways.Sealer
	if cfg.SealKey != "" {
		s, err := gateways.NewSealer(cfg.SealKey)
		if err != nil {
			return nil, fmt.Errorf("gateway seal key: %w", err)
		}
		sealer = s
		chain = append(chain, gateways.NewSealedResolver(repo, sealer))
	}

	verifier, err := gateways.NewVerifier(gateways.VerifierConfigFrom(cfg), chain, m)
	if err != nil {
		return nil, err
	}
	return gateways.NewService(gateways.ServiceParams{
		Verifier: verifier,
		Repo:     repo,
		Sealer:   sealer,
		Logger:   logg,
	})
}

// Close releases the Pub/Sub client when one was opened.
func (s *Services) Close() error {
	if s == nil || s.pubsub == nil {
		return nil
	}
	return s.pubsub.Close()
}
