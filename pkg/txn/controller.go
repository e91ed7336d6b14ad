// Package txn implements T-SQL transaction nesting on top of an engine that
// only knows a single transaction block with savepoints.
//
// A Controller keeps the @@TRANCOUNT of one session. Only the outermost BEGIN
// opens an engine block and only the outermost COMMIT ends it; inner BEGIN and
// COMMIT pairs merely move the counter. ROLLBACK either aborts the whole block
// or, when given the name of a savepoint, rolls back to it and keeps the count.
package txn

import (
	"context"

	"github.com/ha1tch/tsqlcompat/pkg/engine"
	"github.com/ha1tch/tsqlcompat/pkg/errors"
	"github.com/ha1tch/tsqlcompat/pkg/log"
	"github.com/ha1tch/tsqlcompat/pkg/telemetry"
)

// StatusTranCount is the status variable the nesting count is published under.
const StatusTranCount = "trancount"

// StatusSink receives session status variables for the client layer.
type StatusSink interface {
	SetStatusVar(name string, value int64)
}

// StatusFunc adapts a function to StatusSink.
type StatusFunc func(name string, value int64)

func (f StatusFunc) SetStatusVar(name string, value int64) { f(name, value) }

// Completion is the command outcome reported to the client.
type Completion int

const (
	CompletionNone Completion = iota
	CompletionBegin
	CompletionCommit
	CompletionRollback
	CompletionRollbackToSavepoint
	CompletionSavepoint
)

func (c Completion) String() string {
	switch c {
	case CompletionBegin:
		return "BEGIN"
	case CompletionCommit:
		return "COMMIT"
	case CompletionRollback:
		return "ROLLBACK"
	case CompletionRollbackToSavepoint:
		return "ROLLBACK TO SAVEPOINT"
	case CompletionSavepoint:
		return "SAVEPOINT"
	default:
		return ""
	}
}

// Controller is the nesting state machine of one session. It is not safe for
// concurrent use; a session runs one statement at a time.
type Controller struct {
	block  engine.Block
	status StatusSink
	logger *log.CategoryLogger
	count  int
}

// NewController creates a controller in the Idle state. status may be nil.
func NewController(block engine.Block, status StatusSink, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.Default()
	}
	if status == nil {
		status = StatusFunc(func(string, int64) {})
	}
	return &Controller{
		block:  block,
		status: status,
		logger: logger.Transaction(),
	}
}

// Count returns the current nesting count (@@TRANCOUNT).
func (c *Controller) Count() int { return c.count }

// Start handles BEGIN TRANSACTION. The engine block is opened only at the
// outermost level, and only then is name recorded as the block's name.
func (c *Controller) Start(ctx context.Context, name string) error {
	c.logger.Debug("start transaction", "trancount", c.count, "name", name)

	if !c.block.IsBlockActive() {
		if err := c.block.BeginBlock(ctx); err != nil {
			telemetry.TransactionOpsTotal.With("begin", "error").Inc()
			return err
		}
		if name != "" {
			c.block.SetTopName(name)
		}
	}
	c.count++

	telemetry.TransactionOpsTotal.With("begin", "ok").Inc()
	telemetry.NestingDepth.Observe(float64(c.count))
	c.publish()
	return nil
}

// Commit handles COMMIT TRANSACTION. Below the outermost level it only
// decrements the count. At the outermost level it ends the engine block; if
// the engine rolled back instead of committing, the completion is
// CompletionRollback and no error is returned.
func (c *Controller) Commit(ctx context.Context, chain bool) (Completion, error) {
	c.logger.Debug("commit transaction", "trancount", c.count, "chain", chain)

	completion := CompletionCommit
	if c.count <= 1 {
		if err := c.requireBlock("COMMIT"); err != nil {
			telemetry.TransactionOpsTotal.With("commit", "error").Inc()
			return CompletionNone, err
		}
		committed, err := c.block.EndBlock(ctx, chain)
		if err != nil {
			telemetry.TransactionOpsTotal.With("commit", "error").Inc()
			c.resyncAfterError()
			return CompletionNone, err
		}
		if !committed {
			completion = CompletionRollback
			c.logger.Warn("commit failed, transaction rolled back")
		}
		c.count = 0
	} else {
		c.count--
	}

	telemetry.TransactionOpsTotal.With("commit", outcome(completion)).Inc()
	c.publish()
	return completion, nil
}

// Rollback handles ROLLBACK TRANSACTION. An empty name, or the name given to
// the outermost BEGIN, aborts the whole block and resets the count. Any other
// name is a savepoint: work since it is undone, the savepoint is released and
// the count is left alone.
func (c *Controller) Rollback(ctx context.Context, name string, chain bool) (Completion, error) {
	if c.block.IsTopName(name) {
		c.logger.Debug("rollback transaction", "trancount", c.count)
		if err := c.requireBlock("ROLLBACK"); err != nil {
			telemetry.TransactionOpsTotal.With("rollback", "error").Inc()
			return CompletionNone, err
		}
		if err := c.block.AbortBlock(ctx, chain); err != nil {
			telemetry.TransactionOpsTotal.With("rollback", "error").Inc()
			c.resyncAfterError()
			return CompletionNone, err
		}
		c.count = 0

		telemetry.TransactionOpsTotal.With("rollback", "rollback").Inc()
		c.publish()
		return CompletionRollback, nil
	}

	c.logger.Debug("rollback to savepoint", "trancount", c.count, "savepoint", name)
	if err := c.requireBlock("ROLLBACK TO SAVEPOINT"); err != nil {
		telemetry.TransactionOpsTotal.With("rollback_savepoint", "error").Inc()
		return CompletionNone, err
	}
	if err := c.block.RollbackToSavepoint(ctx, name); err != nil {
		telemetry.TransactionOpsTotal.With("rollback_savepoint", "error").Inc()
		return CompletionNone, err
	}
	if err := c.block.ReleaseSavepoint(ctx, name); err != nil {
		telemetry.TransactionOpsTotal.With("rollback_savepoint", "error").Inc()
		return CompletionNone, err
	}

	telemetry.TransactionOpsTotal.With("rollback_savepoint", "ok").Inc()
	return CompletionRollbackToSavepoint, nil
}

// Save handles SAVE TRANSACTION name.
func (c *Controller) Save(ctx context.Context, name string) (Completion, error) {
	c.logger.Debug("save transaction", "trancount", c.count, "savepoint", name)

	if name == "" {
		return CompletionNone, errors.Usage("SAVE TRANSACTION requires a savepoint name").
			WithOp("txn.Save").Err()
	}
	if err := c.requireBlock("SAVEPOINT"); err != nil {
		telemetry.TransactionOpsTotal.With("save", "error").Inc()
		return CompletionNone, err
	}
	if err := c.block.DefineSavepoint(ctx, name); err != nil {
		telemetry.TransactionOpsTotal.With("save", "error").Inc()
		return CompletionNone, err
	}

	telemetry.TransactionOpsTotal.With("save", "ok").Inc()
	return CompletionSavepoint, nil
}

// BeginAndCommitImmediately starts a transaction and finishes the current
// transaction command, for internal callers that cross a transaction
// boundary outside of any user statement.
func (c *Controller) BeginAndCommitImmediately(ctx context.Context) error {
	if err := c.Start(ctx, ""); err != nil {
		return err
	}
	return c.block.CommitCommand(ctx)
}

// CommitAndStartNew commits and then cycles the transaction command so the
// caller keeps running inside a fresh one.
func (c *Controller) CommitAndStartNew(ctx context.Context) (Completion, error) {
	completion, err := c.Commit(ctx, false)
	if err != nil {
		return completion, err
	}
	return completion, c.cycleCommand(ctx)
}

// RollbackAndStartNew rolls the whole transaction back and cycles the
// transaction command.
func (c *Controller) RollbackAndStartNew(ctx context.Context) (Completion, error) {
	completion, err := c.Rollback(ctx, "", false)
	if err != nil {
		return completion, err
	}
	return completion, c.cycleCommand(ctx)
}

// Reset returns the controller to Idle, aborting any open block. It is used
// when a session ends.
func (c *Controller) Reset(ctx context.Context) error {
	var err error
	if c.block.IsBlockActive() {
		err = c.block.AbortBlock(ctx, false)
	}
	if c.count != 0 {
		c.logger.Debug("reset transaction state", "trancount", c.count)
	}
	c.count = 0
	c.publish()
	return err
}

func (c *Controller) cycleCommand(ctx context.Context) error {
	if err := c.block.CommitCommand(ctx); err != nil {
		return err
	}
	return c.block.StartCommand(ctx)
}

func (c *Controller) requireBlock(stmt string) error {
	if c.block.IsBlockActive() {
		return nil
	}
	number := errors.NumberRollbackWithoutBegin
	switch stmt {
	case "COMMIT":
		number = errors.NumberCommitWithoutBegin
	case "SAVEPOINT":
		number = errors.NumberSaveWithoutBegin
	}
	return errors.Newf(errors.ErrCodeNoTransaction, "%s can only be used in transaction blocks", stmt).
		WithNumber(number).
		WithOp("txn.requireBlock").
		WithField("trancount", c.count).
		Err()
}

// resyncAfterError keeps count == 0 exactly when no block is open after an
// engine primitive failed part way.
func (c *Controller) resyncAfterError() {
	if !c.block.IsBlockActive() && c.count != 0 {
		c.count = 0
		c.publish()
	}
}

func (c *Controller) publish() {
	c.status.SetStatusVar(StatusTranCount, int64(c.count))
}

func outcome(c Completion) string {
	if c == CompletionRollback {
		return "rollback"
	}
	return "ok"
}
