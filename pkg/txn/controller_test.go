package txn

import (
	"context"
	"strings"
	"testing"

	"github.com/ha1tch/tsqlcompat/pkg/engine"
	"github.com/ha1tch/tsqlcompat/pkg/errors"
	"github.com/ha1tch/tsqlcompat/pkg/log"
)

// fakeBlock records engine primitives without a database.
type fakeBlock struct {
	active     bool
	command    bool
	topName    string
	savepoints []string
	calls      []string
	failCommit bool
}

func (f *fakeBlock) IsBlockActive() bool { return f.active }

func (f *fakeBlock) BeginBlock(context.Context) error {
	f.calls = append(f.calls, "begin")
	f.active = true
	f.command = false
	return nil
}

func (f *fakeBlock) SetTopName(name string) { f.topName = name }

func (f *fakeBlock) IsTopName(name string) bool { return name == "" || name == f.topName }

func (f *fakeBlock) EndBlock(_ context.Context, chain bool) (bool, error) {
	f.calls = append(f.calls, "commit")
	f.active = chain
	f.topName = ""
	f.savepoints = nil
	return !f.failCommit, nil
}

func (f *fakeBlock) AbortBlock(_ context.Context, chain bool) error {
	f.calls = append(f.calls, "abort")
	f.active = chain
	f.topName = ""
	f.savepoints = nil
	return nil
}

func (f *fakeBlock) DefineSavepoint(_ context.Context, name string) error {
	f.calls = append(f.calls, "savepoint "+name)
	f.savepoints = append(f.savepoints, name)
	return nil
}

func (f *fakeBlock) RollbackToSavepoint(_ context.Context, name string) error {
	f.calls = append(f.calls, "rollback to "+name)
	return nil
}

func (f *fakeBlock) ReleaseSavepoint(_ context.Context, name string) error {
	f.calls = append(f.calls, "release "+name)
	return nil
}

func (f *fakeBlock) CommitCommand(context.Context) error {
	f.calls = append(f.calls, "commit command")
	f.command = false
	return nil
}

func (f *fakeBlock) StartCommand(context.Context) error {
	f.calls = append(f.calls, "start command")
	if !f.active {
		f.command = true
	}
	return nil
}

type recordingSink struct {
	values []int64
}

func (r *recordingSink) SetStatusVar(name string, value int64) {
	if name == StatusTranCount {
		r.values = append(r.values, value)
	}
}

func (r *recordingSink) last() int64 {
	if len(r.values) == 0 {
		return -1
	}
	return r.values[len(r.values)-1]
}

func newTestController() (*Controller, *fakeBlock, *recordingSink) {
	block := &fakeBlock{}
	sink := &recordingSink{}
	return NewController(block, sink, log.Discard()), block, sink
}

func TestController_StartCounts(t *testing.T) {
	ctx := context.Background()
	for n := 1; n <= 5; n++ {
		c, block, sink := newTestController()
		for i := 0; i < n; i++ {
			if err := c.Start(ctx, ""); err != nil {
				t.Fatalf("Start: %v", err)
			}
		}
		if c.Count() != n {
			t.Errorf("after %d starts Count() = %d", n, c.Count())
		}
		if sink.last() != int64(n) {
			t.Errorf("published %d, want %d", sink.last(), n)
		}
		begins := 0
		for _, call := range block.calls {
			if call == "begin" {
				begins++
			}
		}
		if begins != 1 {
			t.Errorf("engine block begun %d times, want 1", begins)
		}
	}
}

func TestController_CommitReachesZeroOnLast(t *testing.T) {
	ctx := context.Background()
	const depth = 4
	c, block, sink := newTestController()
	for i := 0; i < depth; i++ {
		c.Start(ctx, "")
	}

	for i := depth; i >= 1; i-- {
		completion, err := c.Commit(ctx, false)
		if err != nil {
			t.Fatalf("Commit at depth %d: %v", i, err)
		}
		if completion != CompletionCommit {
			t.Fatalf("completion = %v, want COMMIT", completion)
		}
		if c.Count() != i-1 {
			t.Fatalf("Count() = %d, want %d", c.Count(), i-1)
		}
		if i > 1 && !block.active {
			t.Fatalf("block ended early at depth %d", i)
		}
		if sink.last() != int64(i-1) {
			t.Fatalf("published %d, want %d", sink.last(), i-1)
		}
	}
	if block.active {
		t.Fatal("block must end on the outermost commit")
	}
}

func TestController_CommitWithoutTransaction(t *testing.T) {
	c, _, _ := newTestController()
	_, err := c.Commit(context.Background(), false)
	if !errors.IsCode(err, errors.ErrCodeNoTransaction) {
		t.Fatalf("Commit() error = %v, want NoTransaction", err)
	}
	if !strings.Contains(err.Error(), "COMMIT can only be used in transaction blocks") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestController_FailedCommitReportsRollback(t *testing.T) {
	ctx := context.Background()
	c, block, sink := newTestController()
	block.failCommit = true

	c.Start(ctx, "")
	completion, err := c.Commit(ctx, false)
	if err != nil {
		t.Fatalf("failed commit must not be an error: %v", err)
	}
	if completion != CompletionRollback {
		t.Fatalf("completion = %v, want ROLLBACK", completion)
	}
	if c.Count() != 0 || sink.last() != 0 {
		t.Fatalf("count = %d, published = %d, want 0", c.Count(), sink.last())
	}
}

func TestController_RollbackTopNameResets(t *testing.T) {
	ctx := context.Background()
	for depth := 1; depth <= 4; depth++ {
		c, block, sink := newTestController()
		c.Start(ctx, "outer")
		for i := 1; i < depth; i++ {
			c.Start(ctx, "inner")
		}

		completion, err := c.Rollback(ctx, "outer", false)
		if err != nil {
			t.Fatalf("Rollback: %v", err)
		}
		if completion != CompletionRollback {
			t.Errorf("completion = %v", completion)
		}
		if c.Count() != 0 || sink.last() != 0 {
			t.Errorf("depth %d: count = %d, published %d", depth, c.Count(), sink.last())
		}
		if block.active {
			t.Errorf("depth %d: block still active", depth)
		}
	}
}

func TestController_RollbackUnnamedResets(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestController()
	c.Start(ctx, "named")
	c.Start(ctx, "")

	if _, err := c.Rollback(ctx, "", false); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if c.Count() != 0 {
		t.Fatalf("Count() = %d, want 0", c.Count())
	}
}

func TestController_RollbackSavepointKeepsCount(t *testing.T) {
	ctx := context.Background()
	c, block, _ := newTestController()
	c.Start(ctx, "outer")
	c.Start(ctx, "")
	if _, err := c.Save(ctx, "sp1"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	completion, err := c.Rollback(ctx, "sp1", false)
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if completion != CompletionRollbackToSavepoint {
		t.Fatalf("completion = %v", completion)
	}
	if c.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", c.Count())
	}
	if !block.active {
		t.Fatal("block must stay open")
	}

	want := []string{"begin", "savepoint sp1", "rollback to sp1", "release sp1"}
	if strings.Join(block.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("calls = %v, want %v", block.calls, want)
	}
}

func TestController_RollbackWithoutTransaction(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		msg  string
	}{
		{"", "ROLLBACK can only be used"},
		{"sp1", "ROLLBACK TO SAVEPOINT can only be used"},
	}
	for _, tt := range tests {
		c, _, _ := newTestController()
		_, err := c.Rollback(ctx, tt.name, false)
		if !errors.IsCode(err, errors.ErrCodeNoTransaction) {
			t.Errorf("Rollback(%q) error = %v", tt.name, err)
			continue
		}
		if !strings.Contains(err.Error(), tt.msg) {
			t.Errorf("Rollback(%q) message = %v", tt.name, err)
		}
	}
}

func TestController_SaveRequiresBlockAndName(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestController()

	if _, err := c.Save(ctx, "sp"); !errors.IsCode(err, errors.ErrCodeNoTransaction) {
		t.Fatalf("Save outside block error = %v", err)
	}
	c.Start(ctx, "")
	if _, err := c.Save(ctx, ""); !errors.IsCode(err, errors.ErrCodeUsage) {
		t.Fatalf("Save with empty name error = %v", err)
	}
}

func TestController_NameOnlyRecordedAtOutermost(t *testing.T) {
	ctx := context.Background()
	c, block, _ := newTestController()
	c.Start(ctx, "outer")
	c.Start(ctx, "inner")

	if block.topName != "outer" {
		t.Fatalf("top name = %q, want outer", block.topName)
	}
	// "inner" is not the top name, so it is treated as a savepoint.
	completion, _ := c.Rollback(ctx, "inner", false)
	if completion != CompletionRollbackToSavepoint {
		t.Fatalf("completion = %v", completion)
	}
}

func TestController_Wrappers(t *testing.T) {
	ctx := context.Background()
	c, block, _ := newTestController()

	if err := c.BeginAndCommitImmediately(ctx); err != nil {
		t.Fatalf("BeginAndCommitImmediately: %v", err)
	}
	if c.Count() != 1 || !block.active {
		t.Fatalf("count = %d, active = %v", c.Count(), block.active)
	}

	completion, err := c.CommitAndStartNew(ctx)
	if err != nil || completion != CompletionCommit {
		t.Fatalf("CommitAndStartNew = (%v, %v)", completion, err)
	}
	if c.Count() != 0 || !block.command {
		t.Fatalf("expected a fresh command after commit, count = %d", c.Count())
	}

	c.Start(ctx, "")
	completion, err = c.RollbackAndStartNew(ctx)
	if err != nil || completion != CompletionRollback {
		t.Fatalf("RollbackAndStartNew = (%v, %v)", completion, err)
	}
	if c.Count() != 0 || !block.command {
		t.Fatalf("expected a fresh command after rollback, count = %d", c.Count())
	}
}

func TestController_Reset(t *testing.T) {
	ctx := context.Background()
	c, block, sink := newTestController()
	c.Start(ctx, "")
	c.Start(ctx, "")

	if err := c.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if c.Count() != 0 || block.active || sink.last() != 0 {
		t.Fatalf("count = %d, active = %v, published = %d", c.Count(), block.active, sink.last())
	}
}

func TestController_SQLite(t *testing.T) {
	ctx := context.Background()
	sess, err := engine.OpenSQLite(ctx, engine.DefaultSQLiteConfig())
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer sess.Close(ctx)
	sess.Exec(ctx, "CREATE TABLE t (v INTEGER)")

	c := NewController(sess, nil, log.Discard())

	c.Start(ctx, "outer")
	sess.Exec(ctx, "INSERT INTO t VALUES (1)")
	c.Start(ctx, "")
	c.Save(ctx, "sp1")
	sess.Exec(ctx, "INSERT INTO t VALUES (2)")
	if _, err := c.Rollback(ctx, "sp1", false); err != nil {
		t.Fatalf("Rollback to savepoint: %v", err)
	}
	c.Commit(ctx, false)
	if c.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", c.Count())
	}
	if completion, err := c.Commit(ctx, false); err != nil || completion != CompletionCommit {
		t.Fatalf("outer Commit = (%v, %v)", completion, err)
	}

	var n int
	if err := sess.QueryRow(ctx, "SELECT COUNT(*) FROM t").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("rows = %d, want 1", n)
	}

	c.Start(ctx, "second")
	sess.Exec(ctx, "INSERT INTO t VALUES (3)")
	if _, err := c.Rollback(ctx, "second", false); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	sess.QueryRow(ctx, "SELECT COUNT(*) FROM t").Scan(&n)
	if n != 1 {
		t.Fatalf("rows after rollback = %d, want 1", n)
	}
}
