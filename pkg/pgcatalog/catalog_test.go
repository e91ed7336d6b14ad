package pgcatalog

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"

	"github.com/ha1tch/tsqlcompat/pkg/callsig"
	"github.com/ha1tch/tsqlcompat/pkg/errors"
)

func strPtr(s string) *string { return &s }

func TestParseProbin(t *testing.T) {
	tests := []struct {
		name   string
		probin *string
		nargs  int
		want   int32
	}{
		{"null", nil, 0, -1},
		{"empty", strPtr(""), 0, -1},
		{"library path", strPtr("$libdir/plpgsql"), 0, -1},
		{"return typmod", strPtr(`{"typmod_array": [-1, 54]}`), 1, 54},
		{"short array", strPtr(`{"typmod_array": [-1]}`), 1, -1},
		{"no array", strPtr(`{"other": 1}`), 0, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := ParseProbin(tt.probin)
			if err != nil {
				t.Fatalf("ParseProbin: %v", err)
			}
			if got := rec.ReturnTypmod(tt.nargs); got != tt.want {
				t.Fatalf("ReturnTypmod = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseProbin_Malformed(t *testing.T) {
	_, err := ParseProbin(strPtr(`{"typmod_array": [1,`))
	if !errors.IsCode(err, errors.ErrCodeCatalog) {
		t.Fatalf("error = %v, want catalog error", err)
	}
}

func TestSearchPathValue(t *testing.T) {
	tests := []struct {
		schemas []string
		want    string
	}{
		{[]string{"dbo", "sys", "pg_catalog"}, "dbo, sys, pg_catalog"},
		{[]string{"DBO", "My Schema"}, `dbo, "my schema"`},
		{[]string{"user"}, `"user"`},
		{nil, ""},
	}
	for _, tt := range tests {
		if got := SearchPathValue(tt.schemas); got != tt.want {
			t.Errorf("SearchPathValue(%q) = %q, want %q", tt.schemas, got, tt.want)
		}
	}
}

func TestCatalog_Postgres(t *testing.T) {
	dsn := os.Getenv("TSQLCOMPAT_PG_DSN")
	if dsn == "" {
		t.Skip("TSQLCOMPAT_PG_DSN not set")
	}
	ctx := context.Background()
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close(ctx)

	tx, err := conn.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback(ctx)

	for _, stmt := range []string{
		`CREATE SCHEMA tsqlcompat_test`,
		`SET LOCAL search_path = tsqlcompat_test, pg_catalog`,
		`CREATE FUNCTION tsqlcompat_test.name_of(int) RETURNS varchar LANGUAGE sql AS 'SELECT ''x''::varchar'`,
		`CREATE FUNCTION tsqlcompat_test.rows_of(int) RETURNS SETOF int LANGUAGE sql AS 'SELECT 1'`,
		`CREATE PROCEDURE tsqlcompat_test.do_it() LANGUAGE sql AS 'SELECT 1'`,
	} {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}

	r := callsig.NewResolver(New(tx), New(tx))

	sig, err := r.Resolve(ctx, "name_of 1")
	if err != nil {
		t.Fatalf("Resolve(name_of): %v", err)
	}
	if sig.IsProcedure || sig.TypeID != callsig.OIDVarchar || sig.Collation != callsig.DefaultCollation {
		t.Fatalf("Resolve(name_of) = %+v", sig)
	}

	if _, err := r.Resolve(ctx, "rows_of 1"); !errors.IsCode(err, errors.ErrCodeUnsupportedRoutineShape) {
		t.Fatalf("Resolve(rows_of) error = %v", err)
	}
	if sig, err := r.Resolve(ctx, "tsqlcompat_test.do_it"); err != nil || !sig.IsProcedure {
		t.Fatalf("Resolve(do_it) = (%+v, %v)", sig, err)
	}

	path := []string{"pg_catalog"}
	scoped := callsig.NewResolver(New(tx), New(tx), callsig.WithSearchPath(func() []string { return path }))
	if sig, err := scoped.Resolve(ctx, "name_of 1"); err != nil || !sig.IsProcedure {
		t.Fatalf("off the search path Resolve(name_of) = (%+v, %v)", sig, err)
	}
	path = []string{"tsqlcompat_test", "pg_catalog"}
	if sig, err := scoped.Resolve(ctx, "name_of 1"); err != nil || sig.IsProcedure {
		t.Fatalf("on the search path Resolve(name_of) = (%+v, %v)", sig, err)
	}
}
