// Package engine adapts single-level transaction engines to the primitives
// the nested transaction controller needs.
//
// The engines understand exactly one transaction block with savepoints. Like
// the server loop of the engines themselves, work is also bracketed by
// transaction commands: StartCommand opens an implicit transaction when no
// block is active and CommitCommand finishes it. BeginBlock promotes an open
// command into an explicit block.
package engine

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/ha1tch/tsqlcompat/pkg/errors"
)

// Block is the transaction-block interface consumed by the controller.
type Block interface {
	// IsBlockActive reports whether an explicit transaction block is open.
	IsBlockActive() bool

	// BeginBlock opens an explicit transaction block.
	BeginBlock(ctx context.Context) error

	// SetTopName records the name of the active block.
	SetTopName(name string)

	// IsTopName reports whether name refers to the active block rather than
	// a savepoint. The empty name always refers to the block.
	IsTopName(name string) bool

	// EndBlock commits the block. committed is false when the engine rolled
	// the block back instead, which is not an error.
	EndBlock(ctx context.Context, chain bool) (committed bool, err error)

	// AbortBlock rolls the whole block back.
	AbortBlock(ctx context.Context, chain bool) error

	DefineSavepoint(ctx context.Context, name string) error
	RollbackToSavepoint(ctx context.Context, name string) error
	ReleaseSavepoint(ctx context.Context, name string) error

	// CommitCommand finishes the current transaction command.
	CommitCommand(ctx context.Context) error

	// StartCommand opens a new transaction command.
	StartCommand(ctx context.Context) error
}

// Executor runs plain statements on the session connection.
type Executor interface {
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
}

// Session is a single engine connection with transaction primitives.
type Session interface {
	Block
	Executor
	Close(ctx context.Context) error
}

type blockState int

const (
	stateIdle    blockState = iota // no transaction open
	stateCommand                   // implicit transaction for one command
	stateBlock                     // explicit transaction block
)

func (s blockState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateCommand:
		return "command"
	case stateBlock:
		return "block"
	default:
		return "unknown"
	}
}

// tracker holds the state shared by every adapter: which kind of transaction
// is open and the name of the active block.
type tracker struct {
	state   blockState
	topName string
}

func (t *tracker) IsBlockActive() bool { return t.state == stateBlock }

func (t *tracker) SetTopName(name string) { t.topName = name }

func (t *tracker) IsTopName(name string) bool {
	return name == "" || name == t.topName
}

func (t *tracker) endBlock() {
	t.state = stateIdle
	t.topName = ""
}

// quoteIdent quotes a savepoint name for both engines.
func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func engineErr(err error, op, msg string) error {
	return errors.Wrap(err, errors.ErrCodeEngine, msg).WithOp(op).Err()
}

func stateErr(op, msg string) error {
	return errors.New(errors.ErrCodeEngine, msg).WithOp(op).Err()
}
