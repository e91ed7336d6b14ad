package tsql

import (
	"context"

	"github.com/ha1tch/tsqlcompat/pkg/errors"
	"github.com/ha1tch/tsqlcompat/pkg/session"
	"github.com/ha1tch/tsqlcompat/pkg/txn"
)

// Result is the outcome of one statement.
type Result struct {
	Completion   txn.Completion
	TranCount    int64
	RowsAffected int64
}

// Dispatch runs a transaction statement against the session's controller.
// A COMMIT that the engine turned into a rollback is reported through
// Result.Completion, not as an error.
func Dispatch(ctx context.Context, sess *session.Session, req *Request) (Result, error) {
	c := sess.Transactions()
	var (
		completion txn.Completion
		err        error
	)
	switch req.Kind {
	case KindBegin:
		err = c.Start(ctx, req.Name)
		completion = txn.CompletionBegin
	case KindCommit:
		completion, err = c.Commit(ctx, false)
	case KindRollback:
		completion, err = c.Rollback(ctx, req.Name, false)
	case KindSave:
		completion, err = c.Save(ctx, req.Name)
	default:
		err = errors.Newf(errors.ErrCodeInternal, "unknown transaction request %d", req.Kind).
			WithOp("tsql.Dispatch").
			Err()
	}

	res := Result{Completion: completion, TranCount: sess.TranCount()}
	if err != nil {
		sess.Logger().Transaction().Debug("transaction statement failed",
			"session_id", sess.ID(), "statement", req.Kind.String(), "error", err)
		return res, err
	}
	return res, nil
}

// Run executes one statement: transaction statements go to Dispatch, any
// other statement to the session's engine.
func Run(ctx context.Context, sess *session.Session, sql string) (Result, error) {
	return Execute(ctx, sess, Statement{SQL: sql, Request: Classify(sql)})
}

// Execute runs a statement produced by ParseBatch.
func Execute(ctx context.Context, sess *session.Session, stmt Statement) (Result, error) {
	if stmt.Request != nil {
		return Dispatch(ctx, sess, stmt.Request)
	}
	n, err := sess.Exec(ctx, stmt.SQL)
	return Result{TranCount: sess.TranCount(), RowsAffected: n}, err
}
