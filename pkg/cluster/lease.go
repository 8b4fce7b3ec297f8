// Package cluster provides lease-based leader election for a
// horizontally-scaled deployment. Its Gate holds a poll.Poll's first factory
// invocation until this replica holds the lease; losing the lease later does
// not pause or dispose a poll that has already started. It composes with the poll package only
// through its public surface (the Gate primitive) — the election module
// never reaches into a Poll's internal state.
package cluster

import (
	"context"
	"time"
)

// Lease represents a distributed lock or leadership claim over a named
// resource — here, one poll (or one daemon instance's whole poll set).
type Lease struct {
	Name      string
	HolderID  string
	ExpiresAt time.Time
}

// LeaseStore defines the interface for acquiring, renewing, and releasing a
// named lease under compare-and-swap semantics.
type LeaseStore interface {
	// Acquire tries to acquire the lease. Returns true if successful. If the
	// lease is already held by holderID, it renews it.
	Acquire(ctx context.Context, name, holderID string, ttl time.Duration) (bool, error)

	// Renew updates the expiry of an existing lease held by holderID.
	// Returns an error if the lease was lost or stolen.
	Renew(ctx context.Context, name, holderID string, ttl time.Duration) error

	// Release releases the lease if held by holderID.
	Release(ctx context.Context, name, holderID string) error

	// Get returns the current lease state, or nil if unheld.
	Get(ctx context.Context, name string) (*Lease, error)
}
