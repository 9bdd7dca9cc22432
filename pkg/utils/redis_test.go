package utils

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestTryLock_ExclusiveUntilReleased(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()

	l1, ok, err := TryLock(ctx, rdb, "sweep:c1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first acquire, ok=%v err=%v", ok, err)
	}
	if _, ok, err := TryLock(ctx, rdb, "sweep:c1", time.Minute); err != nil || ok {
		t.Fatalf("expected second acquire rejected, ok=%v err=%v", ok, err)
	}
	if err := l1.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok, err := TryLock(ctx, rdb, "sweep:c1", time.Minute); err != nil || !ok {
		t.Fatalf("expected acquire after release, ok=%v err=%v", ok, err)
	}
}

func TestLockRelease_DoesNotDropForeignHolder(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()

	stale, ok, err := TryLock(ctx, rdb, "sweep:c2", time.Second)
	if err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	mr.FastForward(2 * time.Second)

	if _, ok, err := TryLock(ctx, rdb, "sweep:c2", time.Minute); err != nil || !ok {
		t.Fatalf("expected re-acquire after expiry, ok=%v err=%v", ok, err)
	}
	if err := stale.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if !mr.Exists("sweep:c2") {
		t.Fatalf("stale release must not delete the new holder's key")
	}
}

func TestTryLock_RejectsInvalidArgs(t *testing.T) {
	_, rdb := newTestRedis(t)
	if _, _, err := TryLock(context.Background(), rdb, "", time.Second); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if _, _, err := TryLock(context.Background(), rdb, "k", 0); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
}
