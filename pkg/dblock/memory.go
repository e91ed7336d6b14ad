package dblock

import (
	"context"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/ha1tch/tsqlcompat/pkg/locktag"
)

// holds is an immutable snapshot of who holds one tag. Updates replace the
// whole value inside xsync's Compute, so readers never see partial state.
type holds struct {
	share     map[string]int
	exclusive map[string]int
}

func (h holds) empty() bool {
	return len(h.share) == 0 && len(h.exclusive) == 0
}

func (h holds) conflicts(owner string, mode Mode) bool {
	for o := range h.exclusive {
		if o != owner {
			return true
		}
	}
	if mode == ExclusiveLock {
		for o := range h.share {
			if o != owner {
				return true
			}
		}
	}
	return false
}

func (h holds) with(owner string, mode Mode, delta int) holds {
	next := holds{share: copyCounts(h.share), exclusive: copyCounts(h.exclusive)}
	m := next.share
	if mode == ExclusiveLock {
		m = next.exclusive
	}
	m[owner] += delta
	if m[owner] <= 0 {
		delete(m, owner)
	}
	return next
}

func (h holds) count(owner string, mode Mode) int {
	if mode == ExclusiveLock {
		return h.exclusive[owner]
	}
	return h.share[owner]
}

func copyCounts(src map[string]int) map[string]int {
	dst := make(map[string]int, len(src)+1)
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// MemoryManager is an in-process lock manager shared by every session of
// one server process.
type MemoryManager struct {
	locks *xsync.MapOf[locktag.Tag, holds]
}

var _ Manager = (*MemoryManager)(nil)

// NewMemoryManager creates an empty lock table.
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{locks: xsync.NewMapOf[locktag.Tag, holds]()}
}

func (m *MemoryManager) TryAcquire(_ context.Context, owner string, tag locktag.Tag, mode Mode) (bool, error) {
	acquired := false
	m.locks.Compute(tag, func(cur holds, loaded bool) (holds, bool) {
		if loaded && cur.conflicts(owner, mode) {
			return cur, false
		}
		acquired = true
		return cur.with(owner, mode, 1), false
	})
	return acquired, nil
}

func (m *MemoryManager) Release(_ context.Context, owner string, tag locktag.Tag, mode Mode) (bool, error) {
	released := false
	m.locks.Compute(tag, func(cur holds, loaded bool) (holds, bool) {
		if !loaded {
			return cur, true
		}
		if cur.count(owner, mode) == 0 {
			return cur, cur.empty()
		}
		released = true
		next := cur.with(owner, mode, -1)
		return next, next.empty()
	})
	return released, nil
}

func (m *MemoryManager) HeldBy(_ context.Context, owner string, tag locktag.Tag, mode Mode) (bool, error) {
	cur, ok := m.locks.Load(tag)
	return ok && cur.count(owner, mode) > 0, nil
}

func (m *MemoryManager) ReleaseAll(ctx context.Context, owner string) (int, error) {
	var tags []locktag.Tag
	m.locks.Range(func(tag locktag.Tag, h holds) bool {
		if h.share[owner] > 0 || h.exclusive[owner] > 0 {
			tags = append(tags, tag)
		}
		return true
	})

	total := 0
	for _, tag := range tags {
		m.locks.Compute(tag, func(cur holds, loaded bool) (holds, bool) {
			if !loaded {
				return cur, true
			}
			total += cur.share[owner] + cur.exclusive[owner]
			next := cur.with(owner, ShareLock, -cur.share[owner]).with(owner, ExclusiveLock, -cur.exclusive[owner])
			return next, next.empty()
		})
	}
	return total, nil
}

// Len reports how many tags currently have at least one holder.
func (m *MemoryManager) Len() int {
	return m.locks.Size()
}
