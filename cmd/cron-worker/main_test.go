package main

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/kiosk-backend/internal/bootstrap"
	"github.com/angelmondragon/kiosk-backend/pkg/config"
	"github.com/angelmondragon/kiosk-backend/pkg/db/dbtest"
	"github.com/angelmondragon/kiosk-backend/pkg/logger"
)

func jobNames(t *testing.T, autoReplay bool) []string {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard})
	cfg := &config.Config{
		App:          config.AppConfig{Env: "dev"},
		Outbox:       config.OutboxConfig{BatchSize: 25, AutoReplay: autoReplay},
		Compensation: config.CompensationConfig{AlertChannel: "log"},
	}
	services, err := bootstrap.Build(context.Background(), bootstrap.Params{Config: cfg, Logger: logg, DB: dbtest.New(t)})
	require.NoError(t, err)

	registry, err := buildRegistry(cfg, logg, services)
	require.NoError(t, err)

	var names []string
	for _, job := range registry.Jobs() {
		names = append(names, job.Name())
	}
	return names
}

func TestBuildRegistryRegistersCompensationJobs(t *testing.T) {
	require.ElementsMatch(t, []string{"compensation-scan", "compensation-execute"}, jobNames(t, false))
}

func TestBuildRegistryAddsReplayWhenEnabled(t *testing.T) {
	require.ElementsMatch(t, []string{"compensation-scan", "compensation-execute", "alerts-dlq-replay"}, jobNames(t, true))
}

func TestLockEnvDefaultsToLocal(t *testing.T) {
	require.Equal(t, "local", lockEnv(""))
	require.Equal(t, "prod", lockEnv("prod"))
}
