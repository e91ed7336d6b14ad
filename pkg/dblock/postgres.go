package dblock

import (
	"context"

	"github.com/cespare/xxhash/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ha1tch/tsqlcompat/pkg/errors"
	"github.com/ha1tch/tsqlcompat/pkg/locktag"
)

// PostgresConn is the part of *pgx.Conn the PostgreSQL manager needs.
type PostgresConn interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresManager maps logical-database locks onto PostgreSQL session-level
// advisory locks held by one backend connection. The connection is the
// owner; the owner argument is only used for logging by callers.
//
// SQL-callable advisory locks cannot select class 3, so the four-field tag
// is folded into the int8 key space with xxhash. User code locking small
// integers will not collide with the folded keys in practice.
type PostgresManager struct {
	conn PostgresConn
}

var _ Manager = (*PostgresManager)(nil)

// NewPostgresManager wraps a session connection.
func NewPostgresManager(conn PostgresConn) *PostgresManager {
	return &PostgresManager{conn: conn}
}

// AdvisoryKey folds a tag into the bigint advisory key space.
func AdvisoryKey(tag locktag.Tag) int64 {
	return int64(xxhash.Sum64(tag.Bytes()))
}

func (m *PostgresManager) TryAcquire(ctx context.Context, _ string, tag locktag.Tag, mode Mode) (bool, error) {
	fn := "pg_try_advisory_lock"
	if mode == ShareLock {
		fn = "pg_try_advisory_lock_shared"
	}
	return m.boolCall(ctx, "dblock.TryAcquire", "SELECT "+fn+"($1)", AdvisoryKey(tag))
}

func (m *PostgresManager) Release(ctx context.Context, _ string, tag locktag.Tag, mode Mode) (bool, error) {
	fn := "pg_advisory_unlock"
	if mode == ShareLock {
		fn = "pg_advisory_unlock_shared"
	}
	return m.boolCall(ctx, "dblock.Release", "SELECT "+fn+"($1)", AdvisoryKey(tag))
}

const heldQuery = `SELECT EXISTS (
	SELECT 1 FROM pg_locks
	WHERE locktype = 'advisory'
	  AND pid = pg_backend_pid()
	  AND classid = $1::bigint::oid
	  AND objid = $2::bigint::oid
	  AND objsubid = 1
	  AND mode = $3
	  AND granted)`

func (m *PostgresManager) HeldBy(ctx context.Context, _ string, tag locktag.Tag, mode Mode) (bool, error) {
	key := AdvisoryKey(tag)
	pgMode := "ExclusiveLock"
	if mode == ShareLock {
		pgMode = "ShareLock"
	}
	return m.boolCall(ctx, "dblock.HeldBy", heldQuery,
		int64(uint32(key>>32)), int64(uint32(key)), pgMode)
}

const countHeldQuery = `SELECT count(*) FROM pg_locks
	WHERE locktype = 'advisory' AND pid = pg_backend_pid() AND granted`

func (m *PostgresManager) ReleaseAll(ctx context.Context, _ string) (int, error) {
	var n int64
	if err := m.conn.QueryRow(ctx, countHeldQuery).Scan(&n); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeLockBackend, "count advisory locks").
			WithOp("dblock.ReleaseAll").Err()
	}
	if _, err := m.conn.Exec(ctx, "SELECT pg_advisory_unlock_all()"); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeLockBackend, "release advisory locks").
			WithOp("dblock.ReleaseAll").Err()
	}
	return int(n), nil
}

func (m *PostgresManager) boolCall(ctx context.Context, op, sql string, args ...any) (bool, error) {
	var ok bool
	if err := m.conn.QueryRow(ctx, sql, args...).Scan(&ok); err != nil {
		return false, errors.Wrap(err, errors.ErrCodeLockBackend, "advisory lock call failed").
			WithOp(op).Err()
	}
	return ok, nil
}
