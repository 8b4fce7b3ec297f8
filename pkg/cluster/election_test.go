package cluster

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// mockLeaseStore is a hand-written LeaseStore double for testing the
// election loop without a real Redis instance.
type mockLeaseStore struct {
	mu sync.Mutex

	acquireResult bool
	acquireError  error
	renewError    error
	releaseError  error

	renewCalled bool
}

func (m *mockLeaseStore) Acquire(ctx context.Context, name, holderID string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquireResult, m.acquireError
}

func (m *mockLeaseStore) Renew(ctx context.Context, name, holderID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.renewCalled = true
	return m.renewError
}

func (m *mockLeaseStore) Release(ctx context.Context, name, holderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releaseError
}

func (m *mockLeaseStore) Get(ctx context.Context, name string) (*Lease, error) {
	return nil, nil
}

func TestElectionManagerPromotion(t *testing.T) {
	store := &mockLeaseStore{acquireResult: true}

	promoteCh := make(chan bool, 1)
	demoteCh := make(chan bool, 1)

	em := NewElectionManager(store, "holder-a", "lease-a", 50*time.Millisecond,
		func() { promoteCh <- true },
		func() { demoteCh <- true },
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	em.Start(ctx)

	select {
	case <-promoteCh:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("onPromote not called")
	}

	if !em.IsLeader() {
		t.Error("expected to be leader after promotion")
	}
	if em.Epoch() != 1 {
		t.Errorf("epoch = %d, want 1", em.Epoch())
	}

	em.Stop(ctx)

	select {
	case <-demoteCh:
		t.Fatal("onDemote should not fire on a clean stop while leader")
	default:
	}
}

func TestElectionManagerDemotion(t *testing.T) {
	store := &mockLeaseStore{acquireResult: true, renewError: errors.New("renew failed")}

	promoteCh := make(chan bool, 1)
	demoteCh := make(chan bool, 1)

	em := NewElectionManager(store, "holder-a", "lease-a", 50*time.Millisecond,
		func() { promoteCh <- true },
		func() { demoteCh <- true },
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	em.Start(ctx)

	select {
	case <-promoteCh:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("onPromote not called")
	}

	select {
	case <-demoteCh:
	case <-time.After(300 * time.Millisecond):
		t.Fatal("onDemote not called after renew failure")
	}

	if em.IsLeader() {
		t.Error("expected not to be leader after demotion")
	}

	em.Stop(ctx)
}

func TestElectionManagerNeverAcquires(t *testing.T) {
	store := &mockLeaseStore{acquireResult: false}

	em := NewElectionManager(store, "holder-a", "lease-a", 50*time.Millisecond, func() {}, func() {})

	if em.IsLeader() {
		t.Error("should not be leader before Start")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	em.Start(ctx)

	time.Sleep(120 * time.Millisecond)

	if em.IsLeader() {
		t.Error("should never become leader when Acquire always fails")
	}

	em.Stop(ctx)
}

func TestGateBlocksUntilPromoted(t *testing.T) {
	store := &mockLeaseStore{acquireResult: false}
	em := NewElectionManager(store, "holder-a", "lease-a", 40*time.Millisecond, func() {}, func() {})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	em.Start(ctx)

	gate := em.Gate(20 * time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- gate(ctx) }()

	select {
	case <-done:
		t.Fatal("gate settled before promotion")
	case <-time.After(80 * time.Millisecond):
	}

	store.mu.Lock()
	store.acquireResult = true
	store.mu.Unlock()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("gate returned error after promotion: %v", err)
		}
	case <-time.After(300 * time.Millisecond):
		t.Fatal("gate never settled after promotion")
	}

	em.Stop(ctx)
}
