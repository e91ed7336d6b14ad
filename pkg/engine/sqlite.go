package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteConfig holds SQLite-specific configuration.
type SQLiteConfig struct {
	// Path to database file. Use ":memory:" for an in-memory database.
	Path string

	JournalMode string // WAL, DELETE, TRUNCATE, PERSIST, MEMORY, OFF
	BusyTimeout int    // Milliseconds
}

// DefaultSQLiteConfig returns defaults suitable for tests and local runs.
func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{
		Path:        ":memory:",
		BusyTimeout: 5000,
	}
}

func (c SQLiteConfig) dsn() string {
	var opts []string
	if c.BusyTimeout > 0 {
		opts = append(opts, fmt.Sprintf("_busy_timeout=%d", c.BusyTimeout))
	}
	if c.JournalMode != "" {
		opts = append(opts, fmt.Sprintf("_journal_mode=%s", c.JournalMode))
	}
	opts = append(opts, "_foreign_keys=ON")

	path := c.Path
	if path == "" {
		path = ":memory:"
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + strings.Join(opts, "&")
}

// SQLiteSession pins one connection of a SQLite database and drives its
// transactions with explicit BEGIN/COMMIT/ROLLBACK statements, bypassing
// database/sql's own transaction objects so savepoints can be interleaved
// freely.
type SQLiteSession struct {
	tracker
	db   *sql.DB
	conn *sql.Conn
}

var _ Session = (*SQLiteSession)(nil)

// OpenSQLite opens the database and pins a single connection.
func OpenSQLite(ctx context.Context, cfg SQLiteConfig) (*SQLiteSession, error) {
	db, err := sql.Open("sqlite3", cfg.dsn())
	if err != nil {
		return nil, engineErr(err, "engine.OpenSQLite", "failed to open SQLite database")
	}
	// An in-memory database lives and dies with its connection.
	db.SetMaxOpenConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, engineErr(err, "engine.OpenSQLite", "failed to pin SQLite connection")
	}
	return &SQLiteSession{db: db, conn: conn}, nil
}

func (s *SQLiteSession) exec(ctx context.Context, op, stmt string) error {
	if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
		return engineErr(err, op, stmt+" failed")
	}
	return nil
}

func (s *SQLiteSession) Exec(ctx context.Context, stmt string, args ...any) (int64, error) {
	res, err := s.conn.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, engineErr(err, "engine.Exec", "statement failed")
	}
	return res.RowsAffected()
}

// QueryRow runs a single-row query on the pinned connection.
func (s *SQLiteSession) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.conn.QueryRowContext(ctx, query, args...)
}

func (s *SQLiteSession) BeginBlock(ctx context.Context) error {
	switch s.state {
	case stateBlock:
		return stateErr("engine.BeginBlock", "there is already a transaction in progress")
	case stateIdle:
		if err := s.exec(ctx, "engine.BeginBlock", "BEGIN"); err != nil {
			return err
		}
	}
	s.state = stateBlock
	return nil
}

// EndBlock commits the block. SQLite leaves the transaction open when COMMIT
// fails, so a failed commit is rolled back and reported as not committed.
func (s *SQLiteSession) EndBlock(ctx context.Context, chain bool) (bool, error) {
	if s.state != stateBlock {
		return true, nil
	}

	committed := true
	if _, err := s.conn.ExecContext(ctx, "COMMIT"); err != nil {
		if rbErr := s.exec(ctx, "engine.EndBlock", "ROLLBACK"); rbErr != nil {
			return false, engineErr(err, "engine.EndBlock", "COMMIT failed and could not be rolled back")
		}
		committed = false
	}
	s.endBlock()

	if chain {
		return committed, s.BeginBlock(ctx)
	}
	return committed, nil
}

func (s *SQLiteSession) AbortBlock(ctx context.Context, chain bool) error {
	if s.state == stateIdle {
		return nil
	}
	if err := s.exec(ctx, "engine.AbortBlock", "ROLLBACK"); err != nil {
		return err
	}
	s.endBlock()
	if chain {
		return s.BeginBlock(ctx)
	}
	return nil
}

func (s *SQLiteSession) DefineSavepoint(ctx context.Context, name string) error {
	return s.exec(ctx, "engine.DefineSavepoint", "SAVEPOINT "+quoteIdent(name))
}

func (s *SQLiteSession) RollbackToSavepoint(ctx context.Context, name string) error {
	return s.exec(ctx, "engine.RollbackToSavepoint", "ROLLBACK TO SAVEPOINT "+quoteIdent(name))
}

func (s *SQLiteSession) ReleaseSavepoint(ctx context.Context, name string) error {
	return s.exec(ctx, "engine.ReleaseSavepoint", "RELEASE SAVEPOINT "+quoteIdent(name))
}

func (s *SQLiteSession) CommitCommand(ctx context.Context) error {
	if s.state != stateCommand {
		return nil
	}
	if err := s.exec(ctx, "engine.CommitCommand", "COMMIT"); err != nil {
		return err
	}
	s.state = stateIdle
	return nil
}

func (s *SQLiteSession) StartCommand(ctx context.Context) error {
	if s.state != stateIdle {
		return nil
	}
	if err := s.exec(ctx, "engine.StartCommand", "BEGIN"); err != nil {
		return err
	}
	s.state = stateCommand
	return nil
}

// Close rolls back anything still open and closes the database.
func (s *SQLiteSession) Close(ctx context.Context) error {
	if s.state != stateIdle {
		s.conn.ExecContext(ctx, "ROLLBACK")
		s.endBlock()
	}
	s.conn.Close()
	return s.db.Close()
}
