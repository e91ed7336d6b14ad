// Package dblock serialises session access to logical databases with
// session-scoped advisory locks.
//
// Locks are taken with try-acquire semantics only: a session that loses the
// race is told the lock is not available and never queues.
package dblock

import (
	"context"

	"github.com/ha1tch/tsqlcompat/pkg/locktag"
)

// Mode is the strength of an advisory lock.
type Mode int

const (
	// ShareLock is held by every session using a logical database.
	ShareLock Mode = iota
	// ExclusiveLock is held while a logical database is created or dropped.
	ExclusiveLock
)

func (m Mode) String() string {
	switch m {
	case ShareLock:
		return "share"
	case ExclusiveLock:
		return "exclusive"
	default:
		return "unknown"
	}
}

// Manager is a session-level advisory lock manager. Owners are opaque session
// identifiers; an owner never conflicts with its own locks, and locks are
// counted so that each successful acquire needs one release.
type Manager interface {
	// TryAcquire takes the lock without waiting, reporting false when another
	// owner holds a conflicting lock.
	TryAcquire(ctx context.Context, owner string, tag locktag.Tag, mode Mode) (bool, error)

	// Release drops one hold of the lock, reporting false when owner did not
	// hold it.
	Release(ctx context.Context, owner string, tag locktag.Tag, mode Mode) (bool, error)

	// HeldBy reports whether owner holds the lock in the given mode.
	HeldBy(ctx context.Context, owner string, tag locktag.Tag, mode Mode) (bool, error)

	// ReleaseAll drops every lock held by owner and returns how many holds
	// were released.
	ReleaseAll(ctx context.Context, owner string) (int, error)
}
