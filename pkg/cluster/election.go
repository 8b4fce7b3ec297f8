package cluster

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ElectionManager manages distributed leadership election over a named
// lease. It is generic over what leadership actually gates — callers wire
// onPromote/onDemote to whatever needs to start or stop when this replica
// wins or loses the lease (typically constructing and disposing a
// poll.Poll).
type ElectionManager struct {
	store     LeaseStore
	holderID  string
	leaseName string
	ttl       time.Duration

	onPromote func()
	onDemote  func()

	isLeader bool
	epoch    int64
	mu       sync.RWMutex

	ticker *time.Ticker
	stopCh chan struct{}
}

// NewElectionManager creates a new ElectionManager instance.
func NewElectionManager(store LeaseStore, holderID, leaseName string, ttl time.Duration, onPromote, onDemote func()) *ElectionManager {
	return &ElectionManager{
		store:     store,
		holderID:  holderID,
		leaseName: leaseName,
		ttl:       ttl,
		onPromote: onPromote,
		onDemote:  onDemote,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the background election loop, attempting acquisition or
// renewal every ttl/2.
func (em *ElectionManager) Start(ctx context.Context) {
	em.ticker = time.NewTicker(em.ttl / 2)
	go func() {
		defer em.ticker.Stop()
		for {
			select {
			case <-em.ticker.C:
				em.attemptElection(ctx)
			case <-em.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	slog.Info("cluster: election manager started", "holder_id", em.holderID, "lease", em.leaseName)
}

// Stop stops the election loop and releases the lease if currently leader.
func (em *ElectionManager) Stop(ctx context.Context) {
	close(em.stopCh)
	em.mu.Lock()
	wasLeader := em.isLeader
	em.mu.Unlock()
	if wasLeader {
		if err := em.store.Release(ctx, em.leaseName, em.holderID); err != nil {
			slog.Error("cluster: failed to release lease on stop", "error", err, "holder_id", em.holderID, "lease", em.leaseName)
		} else {
			slog.Info("cluster: lease released on stop", "holder_id", em.holderID, "lease", em.leaseName)
		}
	}
	slog.Info("cluster: election manager stopped", "holder_id", em.holderID, "lease", em.leaseName)
}

// IsLeader returns true if this instance currently holds the lease.
func (em *ElectionManager) IsLeader() bool {
	em.mu.RLock()
	defer em.mu.RUnlock()
	return em.isLeader
}

// Epoch returns the number of promotions observed so far. It increments on
// every promotion (demotions leave it unchanged), so a caller can tell which
// leadership term it is running under. Nothing in this module attaches it to
// recorded ticks.
func (em *ElectionManager) Epoch() int64 {
	em.mu.RLock()
	defer em.mu.RUnlock()
	return em.epoch
}

func (em *ElectionManager) attemptElection(ctx context.Context) {
	em.mu.Lock()
	wasLeader := em.isLeader
	em.mu.Unlock()

	var newLeader bool
	var err error

	if wasLeader {
		err = em.store.Renew(ctx, em.leaseName, em.holderID, em.ttl)
		if err != nil {
			slog.Warn("cluster: failed to renew lease", "error", err, "holder_id", em.holderID, "lease", em.leaseName)
			newLeader = false
		} else {
			newLeader = true
			slog.Debug("cluster: lease renewed", "holder_id", em.holderID, "lease", em.leaseName)
		}
	} else {
		newLeader, err = em.store.Acquire(ctx, em.leaseName, em.holderID, em.ttl)
		if err != nil {
			slog.Warn("cluster: failed to acquire lease", "error", err, "holder_id", em.holderID, "lease", em.leaseName)
			newLeader = false
		} else if newLeader {
			slog.Info("cluster: lease acquired", "holder_id", em.holderID, "lease", em.leaseName)
		} else {
			slog.Debug("cluster: lease not acquired", "holder_id", em.holderID, "lease", em.leaseName)
		}
	}

	em.mu.Lock()
	em.isLeader = newLeader
	if !wasLeader && newLeader {
		em.epoch++
	}
	em.mu.Unlock()

	if !wasLeader && newLeader {
		if em.onPromote != nil {
			em.onPromote()
		}
		slog.Info("cluster: promoted to leader", "holder_id", em.holderID, "lease", em.leaseName)
	} else if wasLeader && !newLeader {
		if em.onDemote != nil {
			em.onDemote()
		}
		slog.Info("cluster: demoted from leader", "holder_id", em.holderID, "lease", em.leaseName)
	}
}

// Gate returns a poll.GateFunc that blocks until this instance is promoted
// to leader (or the context is canceled), so a Poll's first invocation is
// deferred until the daemon actually owns the workload. Callers on a
// follower replica should hold off constructing the Poll at all rather than
// gating it forever; Gate is meant for the common case where the election
// and the poll start together and the poll should simply wait its turn.
func (em *ElectionManager) Gate(pollInterval time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		if em.IsLeader() {
			return nil
		}
		for {
			select {
			case <-ticker.C:
				if em.IsLeader() {
					return nil
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
