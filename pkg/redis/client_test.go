package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/kiosk-backend/pkg/config"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *Client) {
	t.Helper()
	srv := miniredis.RunT(t)
	client, err := New(context.Background(), config.RedisConfig{Address: srv.Addr()}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func TestFixedWindowAllow(t *testing.T) {
	srv, client := newTestClient(t)
	ctx := context.Background()

	allowed, count, err := client.FixedWindowAllow(ctx, "test-scope", 2, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed || count != 1 {
		t.Fatalf("first call allowed=%v count=%d", allowed, count)
	}
	key := client.RateLimitKey("test-scope")
	if ttl := srv.TTL(key); ttl != time.Minute {
		t.Fatalf("expected window ttl on first hit, got %v", ttl)
	}

	srv.FastForward(10 * time.Second)
	allowed, count, err = client.FixedWindowAllow(ctx, "test-scope", 2, time.Minute)
	if err != nil || !allowed || count != 2 {
		t.Fatalf("second call allowed=%v count=%d err=%v", allowed, count, err)
	}
	if ttl := srv.TTL(key); ttl != 50*time.Second {
		t.Fatalf("later hits must not extend the window, ttl=%v", ttl)
	}

	allowed, count, err = client.FixedWindowAllow(ctx, "test-scope", 2, time.Minute)
	if err != nil || allowed || count != 3 {
		t.Fatalf("third call allowed=%v count=%d err=%v", allowed, count, err)
	}

	srv.FastForward(time.Minute)
	allowed, count, err = client.FixedWindowAllow(ctx, "test-scope", 2, time.Minute)
	if err != nil || !allowed || count != 1 {
		t.Fatalf("new window allowed=%v count=%d err=%v", allowed, count, err)
	}
}

func TestFixedWindowAllowRejectsZeroWindow(t *testing.T) {
	_, client := newTestClient(t)
	if _, _, err := client.FixedWindowAllow(context.Background(), "s", 1, 0); err == nil {
		t.Fatal("expected zero window to fail")
	}
}

func TestCompareAndDelete(t *testing.T) {
	srv, client := newTestClient(t)
	ctx := context.Background()
	key := client.LockKey("cron-worker", "test")

	if ok, err := client.SetNX(ctx, key, "owner-a", time.Minute); err != nil || !ok {
		t.Fatalf("SetNX ok=%v err=%v", ok, err)
	}
	deleted, err := client.CompareAndDelete(ctx, key, "owner-b")
	if err != nil || deleted {
		t.Fatalf("foreign owner deleted=%v err=%v", deleted, err)
	}
	if !srv.Exists(key) {
		t.Fatal("foreign owner must not delete the key")
	}
	deleted, err = client.CompareAndDelete(ctx, key, "owner-a")
	if err != nil || !deleted {
		t.Fatalf("owner deleted=%v err=%v", deleted, err)
	}
	if srv.Exists(key) {
		t.Fatal("owner delete should remove the key")
	}
	deleted, err = client.CompareAndDelete(ctx, key, "owner-a")
	if err != nil || deleted {
		t.Fatalf("missing key deleted=%v err=%v", deleted, err)
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	if got := client.IdempotencyKey("scope", "id"); got != "kiosk:idempotency:scope:id" {
		t.Fatalf("unexpected idempotency key %s", got)
	}
	if got := client.RateLimitKey("gateway:GW-001"); got != "kiosk:rate_limit:gateway:GW-001" {
		t.Fatalf("unexpected rate limit key %s", got)
	}
	if got := client.LockKey("cron", "prod"); got != "kiosk:lock:cron:prod" {
		t.Fatalf("unexpected lock key %s", got)
	}
	if got := client.LockKey("cron", ""); got != "kiosk:lock:cron" {
		t.Fatalf("lock key should skip empty parts, got %s", got)
	}
}

func TestClientAgainstMiniredis(t *testing.T) {
	srv, client := newTestClient(t)
	ctx := context.Background()

	ok, err := client.SetNX(ctx, client.IdempotencyKey("dlq", "abc"), "1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first SetNX ok=%v err=%v", ok, err)
	}
	ok, err = client.SetNX(ctx, client.IdempotencyKey("dlq", "abc"), "2", time.Minute)
	if err != nil || ok {
		t.Fatalf("second SetNX ok=%v err=%v", ok, err)
	}
	if ttl := srv.TTL("kiosk:idempotency:dlq:abc"); ttl != time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}
	got, err := client.Get(ctx, "kiosk:idempotency:dlq:abc")
	if err != nil || got != "1" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	if _, err := client.Get(ctx, "kiosk:missing"); !errors.Is(err, redis.Nil) {
		t.Fatalf("expected redis.Nil for missing key, got %v", err)
	}
	if err := client.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestUninitializedClientFails(t *testing.T) {
	client := &Client{}
	ctx := context.Background()
	if err := client.Ping(ctx); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected from ping, got %v", err)
	}
	if _, err := client.CompareAndDelete(ctx, "k", "v"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected from compare-and-delete, got %v", err)
	}
	if _, _, err := client.FixedWindowAllow(ctx, "s", 1, time.Second); err == nil {
		t.Fatal("expected rate check on empty client to fail")
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close on empty client: %v", err)
	}
}

func TestNewRequiresAddress(t *testing.T) {
	if _, err := New(context.Background(), config.RedisConfig{}, nil); err == nil {
		t.Fatal("expected missing address to fail")
	}
}

func TestOptionsFromConfig(t *testing.T) {
	opts, err := optionsFromConfig(config.RedisConfig{
		URL:         "redis://:pw@cache.internal:6380/3",
		DB:          7,
		PoolSize:    12,
		DialTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("url options: %v", err)
	}
	if opts.Addr != "cache.internal:6380" || opts.Password != "pw" || opts.DB != 3 {
		t.Fatalf("url settings lost: addr=%s db=%d", opts.Addr, opts.DB)
	}
	if opts.PoolSize != 12 || opts.DialTimeout != 2*time.Second {
		t.Fatalf("config should fill unset pool settings, got pool=%d dial=%s", opts.PoolSize, opts.DialTimeout)
	}

	opts, err = optionsFromConfig(config.RedisConfig{Address: "localhost:6379", DB: 2})
	if err != nil || opts.Addr != "localhost:6379" || opts.DB != 2 {
		t.Fatalf("address options = %+v, %v", opts, err)
	}

	if _, err := optionsFromConfig(config.RedisConfig{}); err == nil {
		t.Fatal("expected error without url or address")
	}
	if _, err := optionsFromConfig(config.RedisConfig{URL: "http://nope"}); err == nil {
		t.Fatal("expected error for non-redis scheme")
	}
}
