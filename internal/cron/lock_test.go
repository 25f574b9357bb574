package cron

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/angelmondragon/kiosk-backend/pkg/config"
	"github.com/angelmondragon/kiosk-backend/pkg/redis"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	srv := miniredis.RunT(t)
	client, err := redis.New(context.Background(), config.RedisConfig{Address: srv.Addr()}, nil)
	if err != nil {
		t.Fatalf("redis.New: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func TestRedisLockIsExclusive(t *testing.T) {
	srv, client := newRedis(t)
	ctx := context.Background()
	key := client.LockKey("cron-worker", "test")

	first, err := NewRedisLock(client, key, time.Minute)
	if err != nil {
		t.Fatalf("NewRedisLock: %v", err)
	}
	second, _ := NewRedisLock(client, key, time.Minute)

	ok, err := first.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("first acquire ok=%v err=%v", ok, err)
	}
	ok, err = second.Acquire(ctx)
	if err != nil || ok {
		t.Fatalf("second acquire should fail, ok=%v err=%v", ok, err)
	}
	if ttl := srv.TTL(key); ttl != time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	if err := second.Release(ctx); err != nil {
		t.Fatalf("non-owner release: %v", err)
	}
	if !srv.Exists(key) {
		t.Fatal("non-owner release must not delete the lock")
	}

	if err := first.Release(ctx); err != nil {
		t.Fatalf("owner release: %v", err)
	}
	if srv.Exists(key) {
		t.Fatal("owner release should delete the lock")
	}
	ok, err = second.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("acquire after release ok=%v err=%v", ok, err)
	}
}

func TestRedisLockExpires(t *testing.T) {
	srv, client := newRedis(t)
	ctx := context.Background()
	key := client.LockKey("cron-worker", "expiry")

	crashed, _ := NewRedisLock(client, key, time.Minute)
	if ok, _ := crashed.Acquire(ctx); !ok {
		t.Fatal("expected first acquire")
	}
	srv.FastForward(2 * time.Minute)

	next, _ := NewRedisLock(client, key, time.Minute)
	if ok, err := next.Acquire(ctx); err != nil || !ok {
		t.Fatalf("expected lock to be free after ttl, ok=%v err=%v", ok, err)
	}
	if err := crashed.Release(ctx); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	if !srv.Exists(key) {
		t.Fatal("stale owner must not release the new owner's lock")
	}
}

func TestNewRedisLockValidates(t *testing.T) {
	if _, err := NewRedisLock(nil, "k", time.Minute); err == nil {
		t.Fatal("expected nil client to fail")
	}
	_, client := newRedis(t)
	if _, err := NewRedisLock(client, "", time.Minute); err == nil {
		t.Fatal("expected empty key to fail")
	}
	lock, _ := NewRedisLock(client, "k", 0)
	if lock.ttl != defaultLockTTL {
		t.Fatalf("expected default ttl, got %v", lock.ttl)
	}
}

func TestRedisLockOwnerCarriesInstance(t *testing.T) {
	t.Setenv("KIOSK_INSTANCE_ID", "cron-7")
	srv, client := newRedis(t)
	ctx := context.Background()
	key := client.LockKey("cron-worker", "owner")

	lock, _ := NewRedisLock(client, key, time.Minute)
	if ok, err := lock.Acquire(ctx); err != nil || !ok {
		t.Fatalf("acquire ok=%v err=%v", ok, err)
	}
	stored, err := srv.Get(key)
	if err != nil {
		t.Fatalf("read lock: %v", err)
	}
	if stored != lock.Owner() || !strings.HasPrefix(stored, "cron-7:") {
		t.Fatalf("unexpected owner %q (lock reports %q)", stored, lock.Owner())
	}
	if err := lock.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if lock.Owner() != "" {
		t.Fatal("owner should clear after release")
	}
}
