package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/angelmondragon/kiosk-backend/internal/gateways"
	"github.com/angelmondragon/kiosk-backend/pkg/config"
	pkgredis "github.com/angelmondragon/kiosk-backend/pkg/redis"
)

type failingRateStore struct{}

func (failingRateStore) FixedWindowAllow(context.Context, string, int64, time.Duration) (bool, int64, error) {
	return false, 0, errors.New("redis down")
}

func heartbeatRequest(serial string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/gateways/heartbeat", nil)
	req.RemoteAddr = "10.0.0.7:5555"
	if serial != "" {
		req.Header.Set(gateways.HeaderSerial, serial)
	}
	return req
}

func TestGatewayRateLimitPerSerial(t *testing.T) {
	srv := miniredis.RunT(t)
	client, err := pkgredis.New(context.Background(), config.RedisConfig{Address: srv.Addr()}, nil)
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	handler := GatewayRateLimit(2, client, nil)(okHandler())

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, heartbeatRequest("GW-001"))
		want := http.StatusOK
		if i == 2 {
			want = http.StatusTooManyRequests
		}
		if rec.Code != want {
			t.Fatalf("request %d: expected %d got %d", i, want, rec.Code)
		}
		if i == 2 && rec.Header().Get("Retry-After") != "60" {
			t.Fatalf("expected Retry-After 60, got %q", rec.Header().Get("Retry-After"))
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, heartbeatRequest("GW-002"))
	if rec.Code != http.StatusOK {
		t.Fatalf("other serials keep their own window, got %d", rec.Code)
	}

	srv.FastForward(time.Minute)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, heartbeatRequest("GW-001"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected window reset, got %d", rec.Code)
	}
}

func TestGatewayRateLimitFallsBackToClientIP(t *testing.T) {
	if got := gatewayScope(heartbeatRequest("")); got != "gateway-ip:10.0.0.7" {
		t.Fatalf("unexpected scope %q", got)
	}
}

func TestGatewayRateLimitFailsOpen(t *testing.T) {
	rec := httptest.NewRecorder()
	GatewayRateLimit(1, failingRateStore{}, nil)(okHandler()).ServeHTTP(rec, heartbeatRequest("GW-001"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected pass-through on store failure, got %d", rec.Code)
	}
}

func TestGatewayRateLimitDisabled(t *testing.T) {
	handler := GatewayRateLimit(0, failingRateStore{}, nil)(okHandler())
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, heartbeatRequest("GW-001"))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 got %d", rec.Code)
		}
	}
}
