package dblock

import (
	"context"
	"strconv"

	"github.com/ha1tch/tsqlcompat/pkg/locktag"
	"github.com/ha1tch/tsqlcompat/pkg/log"
	"github.com/ha1tch/tsqlcompat/pkg/telemetry"
)

// SessionLock takes and releases logical-database locks on behalf of one
// session.
type SessionLock struct {
	manager    Manager
	owner      string
	databaseID uint32
	logger     *log.CategoryLogger
}

// NewSessionLock binds a manager to one session. databaseID is the engine
// database the session is connected to.
func NewSessionLock(manager Manager, owner string, databaseID uint32, logger *log.Logger) *SessionLock {
	if logger == nil {
		logger = log.Default()
	}
	return &SessionLock{
		manager:    manager,
		owner:      owner,
		databaseID: databaseID,
		logger:     logger.Lock().WithFields("session", owner),
	}
}

// TryLock attempts to lock logical database dbid without waiting. It returns
// false when another session holds a conflicting lock.
func (s *SessionLock) TryLock(ctx context.Context, dbid int16, mode Mode) (bool, error) {
	tag := locktag.ForLogicalDatabase(s.databaseID, dbid)

	ok, err := s.manager.TryAcquire(ctx, s.owner, tag, mode)
	switch {
	case err != nil:
		telemetry.LockAttemptsTotal.With(mode.String(), "error").Inc()
		s.logger.Error("logical database lock failed", err, "dbid", dbid, "mode", mode)
		return false, err
	case !ok:
		telemetry.LockAttemptsTotal.With(mode.String(), "not_available").Inc()
		s.logger.Debug("logical database lock not available", "dbid", dbid, "mode", mode)
		return false, nil
	}

	telemetry.LockAttemptsTotal.With(mode.String(), "acquired").Inc()
	s.logger.Debug("logical database locked", "dbid", dbid, "mode", mode, "tag", tag)
	return true, nil
}

// Unlock releases the lock on dbid. Without force it is a no-op when this
// session does not hold the lock; force releases unconditionally and is
// meant for cleanup paths.
func (s *SessionLock) Unlock(ctx context.Context, dbid int16, mode Mode, force bool) error {
	tag := locktag.ForLogicalDatabase(s.databaseID, dbid)

	if !force {
		held, err := s.manager.HeldBy(ctx, s.owner, tag, mode)
		if err != nil {
			return err
		}
		if !held {
			return nil
		}
	}

	released, err := s.manager.Release(ctx, s.owner, tag, mode)
	if err != nil {
		s.logger.Error("logical database unlock failed", err, "dbid", dbid, "mode", mode)
		return err
	}
	telemetry.LockReleasesTotal.With(mode.String(), strconv.FormatBool(force)).Inc()
	if !released {
		s.logger.Warn("lock was not held", "dbid", dbid, "mode", mode)
		return nil
	}
	s.logger.Debug("logical database unlocked", "dbid", dbid, "mode", mode, "forced", force)
	return nil
}

// Held reports whether this session holds the lock on dbid.
func (s *SessionLock) Held(ctx context.Context, dbid int16, mode Mode) (bool, error) {
	return s.manager.HeldBy(ctx, s.owner, locktag.ForLogicalDatabase(s.databaseID, dbid), mode)
}

// ReleaseAll drops every lock this session holds.
func (s *SessionLock) ReleaseAll(ctx context.Context) error {
	n, err := s.manager.ReleaseAll(ctx, s.owner)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Debug("released session locks", "count", n)
	}
	return nil
}
