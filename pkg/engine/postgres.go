package engine

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresConn is the part of *pgx.Conn the adapter needs.
type PostgresConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close(ctx context.Context) error
}

// PostgresSession drives one PostgreSQL backend connection.
type PostgresSession struct {
	tracker
	conn PostgresConn
}

var _ Session = (*PostgresSession)(nil)

// ConnectPostgres opens a dedicated backend connection.
func ConnectPostgres(ctx context.Context, dsn string) (*PostgresSession, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, engineErr(err, "engine.ConnectPostgres", "failed to connect to PostgreSQL")
	}
	return NewPostgresSession(conn), nil
}

// NewPostgresSession wraps an existing connection.
func NewPostgresSession(conn PostgresConn) *PostgresSession {
	return &PostgresSession{conn: conn}
}

// Conn exposes the underlying connection for catalog and lock access.
func (s *PostgresSession) Conn() PostgresConn { return s.conn }

func (s *PostgresSession) run(ctx context.Context, op, stmt string) (pgconn.CommandTag, error) {
	tag, err := s.conn.Exec(ctx, stmt)
	if err != nil {
		return tag, engineErr(err, op, stmt+" failed")
	}
	return tag, nil
}

func (s *PostgresSession) Exec(ctx context.Context, stmt string, args ...any) (int64, error) {
	tag, err := s.conn.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, engineErr(err, "engine.Exec", "statement failed")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresSession) BeginBlock(ctx context.Context) error {
	switch s.state {
	case stateBlock:
		return stateErr("engine.BeginBlock", "there is already a transaction in progress")
	case stateIdle:
		if _, err := s.run(ctx, "engine.BeginBlock", "BEGIN"); err != nil {
			return err
		}
	}
	s.state = stateBlock
	return nil
}

// EndBlock commits the block. PostgreSQL answers COMMIT of an aborted
// transaction with the ROLLBACK command tag; that is reported as not
// committed.
func (s *PostgresSession) EndBlock(ctx context.Context, chain bool) (bool, error) {
	if s.state != stateBlock {
		return true, nil
	}

	stmt := "COMMIT"
	if chain {
		stmt = "COMMIT AND CHAIN"
	}
	tag, err := s.run(ctx, "engine.EndBlock", stmt)
	s.endBlock()
	if err != nil {
		return false, err
	}
	if chain {
		s.state = stateBlock
	}
	return tag.String() != "ROLLBACK", nil
}

func (s *PostgresSession) AbortBlock(ctx context.Context, chain bool) error {
	if s.state == stateIdle {
		return nil
	}
	stmt := "ROLLBACK"
	if chain {
		stmt = "ROLLBACK AND CHAIN"
	}
	_, err := s.run(ctx, "engine.AbortBlock", stmt)
	s.endBlock()
	if err == nil && chain {
		s.state = stateBlock
	}
	return err
}

func (s *PostgresSession) DefineSavepoint(ctx context.Context, name string) error {
	_, err := s.run(ctx, "engine.DefineSavepoint", "SAVEPOINT "+quoteIdent(name))
	return err
}

func (s *PostgresSession) RollbackToSavepoint(ctx context.Context, name string) error {
	_, err := s.run(ctx, "engine.RollbackToSavepoint", "ROLLBACK TO SAVEPOINT "+quoteIdent(name))
	return err
}

func (s *PostgresSession) ReleaseSavepoint(ctx context.Context, name string) error {
	_, err := s.run(ctx, "engine.ReleaseSavepoint", "RELEASE SAVEPOINT "+quoteIdent(name))
	return err
}

func (s *PostgresSession) CommitCommand(ctx context.Context) error {
	if s.state != stateCommand {
		return nil
	}
	_, err := s.run(ctx, "engine.CommitCommand", "COMMIT")
	s.state = stateIdle
	return err
}

func (s *PostgresSession) StartCommand(ctx context.Context) error {
	if s.state != stateIdle {
		return nil
	}
	if _, err := s.run(ctx, "engine.StartCommand", "BEGIN"); err != nil {
		return err
	}
	s.state = stateCommand
	return nil
}

func (s *PostgresSession) Close(ctx context.Context) error {
	if s.state != stateIdle {
		s.conn.Exec(ctx, "ROLLBACK")
		s.endBlock()
	}
	return s.conn.Close(ctx)
}
