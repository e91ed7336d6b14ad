// Package session ties the per-connection state together: the transaction
// nesting controller, status variables, settings, the logical-database
// binding and the last raised T-SQL error.
package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/ha1tch/tsqlcompat/pkg/callsig"
	"github.com/ha1tch/tsqlcompat/pkg/dblock"
	"github.com/ha1tch/tsqlcompat/pkg/engine"
	"github.com/ha1tch/tsqlcompat/pkg/errors"
	"github.com/ha1tch/tsqlcompat/pkg/log"
	"github.com/ha1tch/tsqlcompat/pkg/metastore"
	"github.com/ha1tch/tsqlcompat/pkg/settings"
	"github.com/ha1tch/tsqlcompat/pkg/template"
	"github.com/ha1tch/tsqlcompat/pkg/txn"
)

// FirstUserError is the lowest error number available to RAISERROR and
// THROW. Lower numbers belong to the engine.
const FirstUserError = 50000

// ErrorData describes the most recent error raised in the session.
type ErrorData struct {
	Number   int32
	Severity int32
	State    int32
	Message  string
}

// Options configures a new session.
type Options struct {
	// ID identifies the session as a lock owner. Generated when empty.
	ID string

	// DatabaseID is the engine database the session is connected to.
	DatabaseID uint32

	// Locks serialises logical-database access across sessions.
	Locks dblock.Manager

	Settings *settings.Settings

	// Catalog and Typmods enable Resolve. Typmods may be nil.
	Catalog            callsig.Catalog
	Typmods            callsig.TypmodStore
	SignatureCacheSize int

	Templates *template.Catalogue
	Logger    *log.Logger
}

// Session is one client connection's state. It is not safe for concurrent
// use except for StatusVar, which the client layer may read at any time.
type Session struct {
	id        string
	logger    *log.Logger
	execLog   *log.CategoryLogger
	settings  *settings.Settings
	engine    engine.Session
	txn       *txn.Controller
	locks     *dblock.SessionLock
	catalog   callsig.Catalog
	typmods   callsig.TypmodStore
	resolver  *callsig.Resolver
	templates *template.Catalogue
	status    *xsync.MapOf[string, int64]

	dbid    int16
	bound   bool
	lastErr ErrorData
	closed  bool
}

// New creates a session over eng.
func New(eng engine.Session, opts Options) *Session {
	if opts.ID == "" {
		opts.ID = generateSessionID()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Settings == nil {
		opts.Settings = settings.New(nil)
	}
	if opts.Locks == nil {
		opts.Locks = dblock.NewMemoryManager()
	}
	if opts.Templates == nil {
		opts.Templates = template.DefaultCatalogue()
	}

	s := &Session{
		id:        opts.ID,
		logger:    opts.Logger,
		execLog:   opts.Logger.Execution().WithFields("session_id", opts.ID),
		settings:  opts.Settings,
		engine:    eng,
		locks:     dblock.NewSessionLock(opts.Locks, opts.ID, opts.DatabaseID, opts.Logger),
		catalog:   opts.Catalog,
		typmods:   opts.Typmods,
		templates: opts.Templates,
		status:    xsync.NewMapOf[string, int64](),
	}
	s.txn = txn.NewController(eng, txn.StatusFunc(s.setStatusVar), opts.Logger)
	s.setStatusVar(txn.StatusTranCount, 0)

	if opts.Catalog != nil {
		ropts := []callsig.Option{
			callsig.WithLogger(opts.Logger),
			callsig.WithSearchPath(func() []string {
				return s.settings.List(settings.SearchPath)
			}),
		}
		if opts.SignatureCacheSize > 0 {
			ropts = append(ropts, callsig.WithCache(opts.SignatureCacheSize))
		}
		s.resolver = callsig.NewResolver(opts.Catalog, opts.Typmods, ropts...)
	}

	opts.Logger.System().Debug("session created", "session_id", s.id)
	return s
}

func generateSessionID() string {
	return fmt.Sprintf("sess_%d", time.Now().UnixNano())
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Transactions returns the nesting controller.
func (s *Session) Transactions() *txn.Controller { return s.txn }

// Settings returns the session's parameters.
func (s *Session) Settings() *settings.Settings { return s.settings }

// Engine returns the underlying engine session.
func (s *Session) Engine() engine.Session { return s.engine }

// Logger returns the session's logger.
func (s *Session) Logger() *log.Logger { return s.logger }

func (s *Session) setStatusVar(name string, value int64) {
	s.status.Store(name, value)
}

// StatusVar returns a published status variable.
func (s *Session) StatusVar(name string) (int64, bool) {
	return s.status.Load(name)
}

// TranCount returns the published @@TRANCOUNT.
func (s *Session) TranCount() int64 {
	v, _ := s.status.Load(txn.StatusTranCount)
	return v
}

// Database returns the bound logical database.
func (s *Session) Database() (dbid int16, ok bool) {
	return s.dbid, s.bound
}

// UseDatabase binds the session to logical database dbid. It takes a shared
// lock on the new database before giving up the old one, so a failed switch
// leaves the previous binding intact.
func (s *Session) UseDatabase(ctx context.Context, dbid int16) error {
	if s.bound && s.dbid == dbid {
		return nil
	}
	ok, err := s.locks.TryLock(ctx, dbid, dblock.ShareLock)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Newf(errors.ErrCodeUsage,
			"database %d is not available; it is being created or dropped by another session", dbid).
			WithOp("session.UseDatabase").
			WithField("session_id", s.id).
			Err()
	}

	if s.bound {
		if err := s.locks.Unlock(ctx, s.dbid, dblock.ShareLock, false); err != nil {
			s.execLog.Warn("failed to release previous database lock", "dbid", s.dbid, "error", err)
		}
	}
	s.dbid, s.bound = dbid, true
	s.execLog.Debug("database bound", "dbid", dbid)
	return nil
}

// LockDatabaseExclusive takes the exclusive lock used while a logical
// database is created or dropped. It fails when any session is using it.
func (s *Session) LockDatabaseExclusive(ctx context.Context, dbid int16) (bool, error) {
	return s.locks.TryLock(ctx, dbid, dblock.ExclusiveLock)
}

// UnlockDatabaseExclusive releases the exclusive lock.
func (s *Session) UnlockDatabaseExclusive(ctx context.Context, dbid int16) error {
	return s.locks.Unlock(ctx, dbid, dblock.ExclusiveLock, false)
}

// RecordError stores the data of an error raised in the session.
func (s *Session) RecordError(data ErrorData) {
	s.lastErr = data
}

// RecordFailure stores a statement failure as the session's last error.
func (s *Session) RecordFailure(err error) ErrorData {
	number, class, _, msg := errors.ClientError(err)
	data := ErrorData{Number: number, Severity: class, State: 1, Message: msg}
	s.lastErr = data
	return data
}

// LastUserError returns the last raised error when it is a user-defined one.
func (s *Session) LastUserError() (ErrorData, bool) {
	if s.lastErr.Number < FirstUserError {
		return ErrorData{}, false
	}
	return s.lastErr, true
}

// Resolve determines the result shape of a call text.
func (s *Session) Resolve(ctx context.Context, callText string) (callsig.Signature, error) {
	if s.resolver == nil {
		return callsig.Signature{}, errors.New(errors.ErrCodeInternal, "session has no catalog").
			WithOp("session.Resolve").
			Err()
	}
	return s.resolver.Resolve(ctx, callText)
}

// InvalidateSignatures drops cached call signatures after DDL.
func (s *Session) InvalidateSignatures() {
	if s.resolver != nil {
		s.resolver.Invalidate()
	}
}

// SetSearchPath changes the session's search_path and binds the catalog to
// it. Cached signatures resolved under the old path are dropped.
func (s *Session) SetSearchPath(ctx context.Context, value string) error {
	s.settings.Set(settings.SearchPath, value)
	if s.resolver == nil {
		return nil
	}
	s.resolver.Invalidate()
	return s.resolver.ApplySearchPath(ctx)
}

// RoutineStore is a TypmodStore that records the declared typmods of new
// routines.
type RoutineStore interface {
	callsig.TypmodStore
	Put(ctx context.Context, routine callsig.OID, rec metastore.Record) error
}

// RegisterRoutine adds a routine to the session's catalog and stores its
// typmods: one per argument followed by the return typmod. It is the
// creation-time write path for catalogs the engine does not maintain.
func (s *Session) RegisterRoutine(ctx context.Context, r callsig.Routine, typmods []int32) (callsig.OID, error) {
	writer, ok := s.catalog.(callsig.RoutineWriter)
	if !ok {
		return callsig.InvalidOID, errors.New(errors.ErrCodeUsage,
			"the session's catalog does not accept routine definitions").
			WithOp("session.RegisterRoutine").
			WithField("routine", r.Name).
			Err()
	}
	if len(typmods) > 0 && len(typmods) != r.NArgs()+1 {
		return callsig.InvalidOID, errors.Newf(errors.ErrCodeUsage,
			"routine %s has %d arguments but %d typmods; expected one per argument and one for the result",
			r.Name, r.NArgs(), len(typmods)).
			WithOp("session.RegisterRoutine").
			Err()
	}
	store, canStore := s.typmods.(RoutineStore)
	if len(typmods) > 0 && !canStore {
		return callsig.InvalidOID, errors.New(errors.ErrCodeUsage,
			"the session has no store for routine typmods").
			WithOp("session.RegisterRoutine").
			WithField("routine", r.Name).
			Err()
	}

	id := writer.AddRoutine(r)
	if len(typmods) > 0 {
		if err := store.Put(ctx, id, metastore.Record{TypmodArray: typmods}); err != nil {
			if dropper, ok := s.catalog.(interface{ DropRoutine(callsig.OID) }); ok {
				dropper.DropRoutine(id)
			}
			return callsig.InvalidOID, err
		}
	}
	s.InvalidateSignatures()
	s.logger.Catalog().Debug("routine registered",
		"session_id", s.id, "routine", r.Name, "schema", r.Schema, "oid", id)
	return id, nil
}

// Template returns a fresh copy of a registered statement template.
func (s *Session) Template(name string) (template.Statement, error) {
	return s.templates.Get(name)
}

// ExecTemplate renders a bound template and runs it on the engine. The
// statement is consumed even when execution fails.
func (s *Session) ExecTemplate(ctx context.Context, stmt template.Statement) error {
	sql, err := template.Consume(stmt)
	if err != nil {
		return err
	}
	s.logger.Audit().Info("administrative statement",
		"session_id", s.id,
		"kind", stmt.Kind().String(),
		"sql", sql,
	)
	if _, err := s.engine.Exec(ctx, sql); err != nil {
		s.execLog.Error("administrative statement failed", err, "kind", stmt.Kind().String())
		return err
	}
	s.InvalidateSignatures()
	return nil
}

// Exec runs an ordinary statement. Outside an explicit transaction the
// statement runs in its own implicit one, committed on success and rolled
// back on failure.
func (s *Session) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	if err := s.engine.StartCommand(ctx); err != nil {
		return 0, err
	}
	n, err := s.engine.Exec(ctx, sql, args...)
	if err != nil {
		if !s.engine.IsBlockActive() {
			if abortErr := s.engine.AbortBlock(ctx, false); abortErr != nil {
				s.execLog.Error("failed to roll back statement", abortErr)
			}
		}
		return 0, err
	}
	if err := s.engine.CommitCommand(ctx); err != nil {
		return n, err
	}
	if changesCatalog(sql) {
		s.InvalidateSignatures()
	}
	return n, nil
}

// changesCatalog reports whether sql starts with a statement that can
// create, drop or hide a routine: DDL, or SET, which may change the search
// path.
func changesCatalog(sql string) bool {
	for {
		sql = strings.TrimLeft(sql, " \t\r\n;(")
		switch {
		case strings.HasPrefix(sql, "--"):
			i := strings.IndexByte(sql, '\n')
			if i < 0 {
				return false
			}
			sql = sql[i+1:]
		case strings.HasPrefix(sql, "/*"):
			i := strings.Index(sql, "*/")
			if i < 0 {
				return false
			}
			sql = sql[i+2:]
		default:
			end := strings.IndexFunc(sql, func(r rune) bool {
				return !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'))
			})
			if end < 0 {
				end = len(sql)
			}
			switch strings.ToUpper(sql[:end]) {
			case "CREATE", "ALTER", "DROP", "SET":
				return true
			}
			return false
		}
	}
}

// Close ends the session: any open transaction is rolled back, the nesting
// count returns to zero and every lock the session holds is released.
func (s *Session) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true

	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	keep(s.txn.Reset(ctx))
	if s.bound {
		keep(s.locks.Unlock(ctx, s.dbid, dblock.ShareLock, true))
		s.bound = false
	}
	keep(s.locks.ReleaseAll(ctx))
	keep(s.engine.Close(ctx))

	s.logger.System().Debug("session closed", "session_id", s.id)
	return first
}
