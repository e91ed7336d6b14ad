package errors

import (
	"fmt"
	"strings"
	"testing"
)

func TestBuilder(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := Wrap(cause, ErrCodeLockBackend, "advisory lock failed").
		WithOp("dblock.TryLock").
		WithField("dbid", 7).
		Err()

	if !IsCode(err, ErrCodeLockBackend) {
		t.Fatalf("code = %s", GetCode(err))
	}
	if !Is(err, cause) {
		t.Fatal("cause not reachable through Unwrap")
	}
	if got, want := err.Error(), "E5101: advisory lock failed: connection reset"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
	var e *Error
	if !As(err, &e) || e.OpName != "dblock.TryLock" || e.Fields["dbid"] != 7 {
		t.Fatalf("built error = %+v", e)
	}
}

func TestGetCode_Foreign(t *testing.T) {
	if got := GetCode(fmt.Errorf("plain")); got != ErrCodeInternal {
		t.Fatalf("GetCode = %s, want %s", got, ErrCodeInternal)
	}
	if IsCode(nil, ErrCodeInternal) {
		t.Fatal("nil error matched a code")
	}
}

func TestInternal(t *testing.T) {
	err := Internal(ErrCodeCacheLookupFailure, "cache lookup failed for function 1").Err()
	if !IsSevere(err) {
		t.Fatal("internal error is not severe")
	}
	var e *Error
	As(err, &e)
	if len(e.Stack) == 0 {
		t.Fatal("stack not captured")
	}
	if e.Class() != 20 {
		t.Fatalf("Class = %d, want 20", e.Class())
	}
	if IsSevere(Usage("x").Err()) {
		t.Fatal("usage error reported as severe")
	}
}

func TestClientError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		number   int32
		class    int32
		sqlstate string
	}{
		{"commit default", New(ErrCodeNoTransaction, "no txn").Err(), 3902, 16, "25P01"},
		{"rollback override", New(ErrCodeNoTransaction, "no txn").WithNumber(NumberRollbackWithoutBegin).Err(), 3903, 16, "25P01"},
		{"too many arguments", New(ErrCodeTooManyArguments, "x").Err(), 8144, 16, "54023"},
		{"unsupported", New(ErrCodeUnsupportedRoutineShape, "x").Err(), 40517, 16, "0A000"},
		{"unmapped", New(ErrCodeEngine, "x").Err(), 8630, 16, "XX000"},
		{"foreign", fmt.Errorf("boom"), 8630, 16, "XX000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			number, class, sqlstate, _ := ClientError(tt.err)
			if number != tt.number || class != tt.class || sqlstate != tt.sqlstate {
				t.Fatalf("ClientError = (%d, %d, %s), want (%d, %d, %s)",
					number, class, sqlstate, tt.number, tt.class, tt.sqlstate)
			}
		})
	}
}

func TestFormat_Verbose(t *testing.T) {
	err := New(ErrCodeTooManyArguments, "cannot pass more than 100 arguments to a procedure").
		WithOp("callargs.Declare").
		Err()
	out := fmt.Sprintf("%+v", err)
	if !strings.HasPrefix(out, "Msg 8144, Level 16, SQLSTATE 54023") || !strings.Contains(out, "callargs.Declare") {
		t.Fatalf("%%+v = %q", out)
	}
	if got := fmt.Sprintf("%v", err); got != err.Error() {
		t.Fatalf("%%v = %q", got)
	}
}

func TestCode_Category(t *testing.T) {
	tests := map[Code]string{
		ErrCodeConfigParse:      "configuration",
		ErrCodeAmbiguousRoutine: "routine",
		ErrCodeUsage:            "usage",
		ErrCodeCatalog:          "backend",
		ErrCodeTemplateConsumed: "internal",
		Code(2001):              "unknown",
	}
	for code, want := range tests {
		if got := code.Category(); got != want {
			t.Errorf("%s.Category() = %q, want %q", code, got, want)
		}
	}
}
