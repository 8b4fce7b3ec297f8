package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*RedisLeaseStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisLeaseStore(client), mr
}

func TestRedisLeaseAcquireAndRenew(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	ok, err := store.Acquire(ctx, "poll-a", "holder-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("Acquire = (%v, %v), want (true, nil)", ok, err)
	}

	// A second holder must not be able to acquire the same lease.
	ok, err = store.Acquire(ctx, "poll-a", "holder-2", time.Minute)
	if err != nil {
		t.Fatalf("Acquire by second holder errored: %v", err)
	}
	if ok {
		t.Fatal("second holder acquired a lease already held")
	}

	// The original holder can idempotently re-acquire (renew).
	ok, err = store.Acquire(ctx, "poll-a", "holder-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("re-acquire by original holder = (%v, %v), want (true, nil)", ok, err)
	}

	if err := store.Renew(ctx, "poll-a", "holder-1", time.Minute); err != nil {
		t.Fatalf("Renew by holder failed: %v", err)
	}

	if err := store.Renew(ctx, "poll-a", "holder-2", time.Minute); err == nil {
		t.Fatal("Renew by non-holder should fail")
	}
}

func TestRedisLeaseRelease(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Acquire(ctx, "poll-a", "holder-1", time.Minute); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	// Release by a non-holder must not remove the lease.
	if err := store.Release(ctx, "poll-a", "holder-2"); err != nil {
		t.Fatalf("Release by non-holder errored: %v", err)
	}
	lease, err := store.Get(ctx, "poll-a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if lease == nil || lease.HolderID != "holder-1" {
		t.Fatalf("lease = %+v, want still held by holder-1", lease)
	}

	if err := store.Release(ctx, "poll-a", "holder-1"); err != nil {
		t.Fatalf("Release by holder: %v", err)
	}
	lease, err = store.Get(ctx, "poll-a")
	if err != nil {
		t.Fatalf("Get after release: %v", err)
	}
	if lease != nil {
		t.Fatalf("lease = %+v, want nil after release", lease)
	}
}

func TestRedisLeaseGetUnheld(t *testing.T) {
	store, _ := newTestStore(t)
	lease, err := store.Get(context.Background(), "never-acquired")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if lease != nil {
		t.Fatalf("lease = %+v, want nil for an unheld name", lease)
	}
}

func TestRedisLeaseExpiry(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Acquire(ctx, "poll-a", "holder-1", 30*time.Millisecond); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	mr.FastForward(50 * time.Millisecond)

	ok, err := store.Acquire(ctx, "poll-a", "holder-2", time.Minute)
	if err != nil {
		t.Fatalf("Acquire after expiry: %v", err)
	}
	if !ok {
		t.Fatal("expected a new holder to acquire an expired lease")
	}
}
