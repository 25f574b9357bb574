package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/kiosk-backend/internal/bootstrap"
	"github.com/angelmondragon/kiosk-backend/pkg/config"
	"github.com/angelmondragon/kiosk-backend/pkg/db"
	"github.com/angelmondragon/kiosk-backend/pkg/env"
	"github.com/angelmondragon/kiosk-backend/pkg/logger"
)

const secretEnv = "KIOSK_PROVISION_SECRET"

func main() {
	logg := logger.New(logger.Options{ServiceName: "gateway-provision"})

	_ = godotenv.Load()

	serial := flag.String("serial", "", "gateway serial to provision")
	secret := flag.String("secret", "", "shared secret (falls back to "+secretEnv+")")
	generate := flag.Bool("generate", false, "generate a random secret and print it once")
	flag.Parse()

	value, err := resolveSecret(*secret, *generate)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if strings.TrimSpace(*serial) == "" {
		fmt.Fprintln(os.Stderr, "missing -serial")
		os.Exit(1)
	}

	cfg, err := config.Load()
	requireResource(logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "gateway-provision",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":    cfg.App.Env,
		"serial": *serial,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(logg, "database", err)
	defer dbClient.Close()

	services, err := bootstrap.Build(ctx, bootstrap.Params{Config: cfg, Logger: logg, DB: dbClient})
	requireResource(logg, "services", err)
	defer services.Close()

	if err := services.Gateways.Provision(ctx, *serial, value, time.Now().UTC()); err != nil {
		logg.Error(ctx, "gateway provisioning failed", err)
		os.Exit(1)
	}
	logg.Info(ctx, "gateway provisioned")

	if *generate {
		fmt.Println(value)
	}
}

func resolveSecret(flagValue string, generate bool) (string, error) {
	if generate {
		if flagValue != "" {
			return "", fmt.Errorf("-secret and -generate are mutually exclusive")
		}
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate secret: %w", err)
		}
		return hex.EncodeToString(buf), nil
	}
	value := strings.TrimSpace(flagValue)
	if value == "" {
		value = strings.TrimSpace(env.Get(secretEnv, ""))
	}
	if value == "" {
		return "", fmt.Errorf("missing -secret (or %s)", secretEnv)
	}
	return value, nil
}

func requireResource(logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(context.Background(), fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
