package metastore

import (
	"context"
	"testing"

	"github.com/ha1tch/tsqlcompat/pkg/callsig"
	"github.com/ha1tch/tsqlcompat/pkg/log"
)

func TestRecord_ReturnTypmod(t *testing.T) {
	rec := &Record{TypmodArray: []int32{-1, 14, 34}}
	tests := []struct {
		nargs int
		want  int32
	}{
		{0, -1},
		{1, 14},
		{2, 34},
		{3, -1},
		{-1, -1},
	}
	for _, tt := range tests {
		if got := rec.ReturnTypmod(tt.nargs); got != tt.want {
			t.Errorf("ReturnTypmod(%d) = %d, want %d", tt.nargs, got, tt.want)
		}
	}

	var missing *Record
	if got := missing.ReturnTypmod(0); got != -1 {
		t.Errorf("nil record ReturnTypmod = %d, want -1", got)
	}
}

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	const fn callsig.OID = 17000

	if got, err := s.ReturnTypmod(ctx, fn, 1, callsig.OIDVarchar); err != nil || got != -1 {
		t.Fatalf("missing record ReturnTypmod = (%d, %v), want -1", got, err)
	}

	if err := s.Put(ctx, fn, Record{TypmodArray: []int32{8, 24}}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if got, err := s.ReturnTypmod(ctx, fn, 1, callsig.OIDVarchar); err != nil || got != 24 {
		t.Fatalf("ReturnTypmod = (%d, %v), want 24", got, err)
	}

	rec, err := s.Get(ctx, fn)
	if err != nil || rec == nil || len(rec.TypmodArray) != 2 {
		t.Fatalf("Get = (%+v, %v)", rec, err)
	}

	if err := s.Delete(ctx, fn); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if rec, _ := s.Get(ctx, fn); rec != nil {
		t.Fatalf("record survived Delete: %+v", rec)
	}
}

func TestMemory(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestPebble(t *testing.T) {
	s, err := OpenPebble(t.TempDir(), DefaultPebbleOptions(), log.Discard())
	if err != nil {
		t.Fatalf("OpenPebble: %v", err)
	}
	defer s.Close()
	exerciseStore(t, s)
}

func TestPebble_Persists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := OpenPebble(dir, DefaultPebbleOptions(), log.Discard())
	if err != nil {
		t.Fatalf("OpenPebble: %v", err)
	}
	s.Put(ctx, 1, Record{TypmodArray: []int32{-1, 54}})
	s.Put(ctx, 2, Record{TypmodArray: []int32{4}})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = OpenPebble(dir, DefaultPebbleOptions(), log.Discard())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	if got, _ := s.ReturnTypmod(ctx, 1, 1, callsig.OIDVarchar); got != 54 {
		t.Fatalf("ReturnTypmod after reopen = %d, want 54", got)
	}
	if n, err := s.Len(); err != nil || n != 2 {
		t.Fatalf("Len = (%d, %v), want 2", n, err)
	}
}
