// Package pgcatalog reads routine and type metadata from a PostgreSQL
// system catalog.
//
// Return typmods are read from the JSON document stored in pg_proc.probin
// when a T-SQL function is created, for example
// {"typmod_array": [-1, 54]} for a function with one argument whose result
// is varchar(50).
package pgcatalog

import (
	"context"
	"encoding/json"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/ha1tch/tsqlcompat/pkg/callsig"
	"github.com/ha1tch/tsqlcompat/pkg/errors"
	"github.com/ha1tch/tsqlcompat/pkg/metastore"
)

// Querier is the part of *pgx.Conn the catalog uses.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Catalog implements callsig.Catalog and callsig.TypmodStore.
type Catalog struct {
	q Querier
}

var (
	_ callsig.Catalog          = (*Catalog)(nil)
	_ callsig.TypmodStore      = (*Catalog)(nil)
	_ callsig.SearchPathSetter = (*Catalog)(nil)
)

// New creates a catalog reading through q.
func New(q Querier) *Catalog {
	return &Catalog{q: q}
}

// SearchPathValue renders schemas as a search_path value, quoting each name
// that needs it.
func SearchPathValue(schemas []string) string {
	quoted := make([]string, len(schemas))
	for i, s := range schemas {
		quoted[i] = callsig.QuoteIdentifier(strings.ToLower(s), false)
	}
	return strings.Join(quoted, ", ")
}

// SetSearchPath sets the connection's search_path for the rest of the
// session, so that current_schemas follows the session setting.
func (c *Catalog) SetSearchPath(ctx context.Context, schemas []string) error {
	var applied string
	err := c.q.QueryRow(ctx, "SELECT pg_catalog.set_config('search_path', $1, false)",
		SearchPathValue(schemas)).Scan(&applied)
	if err != nil {
		return catalogErr(err, "pgcatalog.SetSearchPath")
	}
	return nil
}

const qualifiedRoutinesQuery = `
SELECT p.oid, p.proargtypes::oid[]
FROM pg_catalog.pg_proc p
JOIN pg_catalog.pg_namespace n ON n.oid = p.pronamespace
WHERE p.proname = $1 AND n.nspname = $2
ORDER BY p.oid`

const searchPathRoutinesQuery = `
SELECT p.oid, p.proargtypes::oid[]
FROM pg_catalog.pg_proc p
JOIN pg_catalog.pg_namespace n ON n.oid = p.pronamespace
WHERE p.proname = $1 AND n.nspname = ANY (pg_catalog.current_schemas(true))
ORDER BY pg_catalog.array_position(pg_catalog.current_schemas(true), n.nspname), p.oid`

// FindRoutines follows the engine's rules for a call with unspecified
// arguments: a routine is hidden by one earlier in the search path with the
// same argument types.
func (c *Catalog) FindRoutines(ctx context.Context, name callsig.QualifiedName) ([]callsig.OID, error) {
	if name.Database != "" {
		var current string
		if err := c.q.QueryRow(ctx, "SELECT pg_catalog.current_database()").Scan(&current); err != nil {
			return nil, catalogErr(err, "pgcatalog.FindRoutines")
		}
		if name.Database != current {
			return nil, errors.Newf(errors.ErrCodeUsage,
				"cross-database references are not implemented: %s", name.String()).
				WithOp("pgcatalog.FindRoutines").
				Err()
		}
	}

	var rows pgx.Rows
	var err error
	if name.Schema != "" {
		rows, err = c.q.Query(ctx, qualifiedRoutinesQuery, name.Name, name.Schema)
	} else {
		rows, err = c.q.Query(ctx, searchPathRoutinesQuery, name.Name)
	}
	if err != nil {
		return nil, catalogErr(err, "pgcatalog.FindRoutines")
	}
	defer rows.Close()

	var found []callsig.OID
	var seen [][]uint32
	for rows.Next() {
		var id uint32
		var args []uint32
		if err := rows.Scan(&id, &args); err != nil {
			return nil, catalogErr(err, "pgcatalog.FindRoutines")
		}
		if slices.ContainsFunc(seen, func(s []uint32) bool { return slices.Equal(s, args) }) {
			continue
		}
		seen = append(seen, args)
		found = append(found, callsig.OID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, catalogErr(err, "pgcatalog.FindRoutines")
	}
	return found, nil
}

const routineQuery = `
SELECT p.proname, n.nspname, p.prokind::text, p.proargtypes::oid[], p.prorettype, p.proretset
FROM pg_catalog.pg_proc p
JOIN pg_catalog.pg_namespace n ON n.oid = p.pronamespace
WHERE p.oid = $1`

func (c *Catalog) Routine(ctx context.Context, id callsig.OID) (*callsig.Routine, error) {
	var (
		r       = callsig.Routine{ID: id}
		kind    string
		args    []uint32
		rettype uint32
	)
	err := c.q.QueryRow(ctx, routineQuery, uint32(id)).
		Scan(&r.Name, &r.Schema, &kind, &args, &rettype, &r.ReturnsSet)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, catalogErr(err, "pgcatalog.Routine")
	}
	if kind != "" {
		r.Kind = callsig.RoutineKind(kind[0])
	}
	r.ReturnType = callsig.OID(rettype)
	for _, a := range args {
		r.ArgTypes = append(r.ArgTypes, callsig.OID(a))
	}
	return &r, nil
}

const typeQuery = `
SELECT t.typname, n.nspname, t.typcollation::int8
FROM pg_catalog.pg_type t
JOIN pg_catalog.pg_namespace n ON n.oid = t.typnamespace
WHERE t.oid = $1`

func (c *Catalog) Type(ctx context.Context, id callsig.OID) (*callsig.TypeInfo, error) {
	t := callsig.TypeInfo{ID: id}
	var collation int64
	err := c.q.QueryRow(ctx, typeQuery, uint32(id)).Scan(&t.Name, &t.Schema, &collation)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, catalogErr(err, "pgcatalog.Type")
	}
	t.Collation = int32(collation)
	return &t, nil
}

// ReturnTypmod reads the typmod array from probin. Routines created without
// one report -1.
func (c *Catalog) ReturnTypmod(ctx context.Context, id callsig.OID, nargs int, _ callsig.OID) (int32, error) {
	var probin *string
	err := c.q.QueryRow(ctx, "SELECT probin FROM pg_catalog.pg_proc WHERE oid = $1", uint32(id)).Scan(&probin)
	if err == pgx.ErrNoRows {
		return -1, nil
	}
	if err != nil {
		return -1, catalogErr(err, "pgcatalog.ReturnTypmod")
	}
	rec, err := ParseProbin(probin)
	if err != nil {
		return -1, err
	}
	return rec.ReturnTypmod(nargs), nil
}

// ParseProbin decodes the probin document. A missing or non-JSON probin
// (C functions keep a library path there) yields a nil record.
func ParseProbin(probin *string) (*metastore.Record, error) {
	if probin == nil || *probin == "" || (*probin)[0] != '{' {
		return nil, nil
	}
	var rec metastore.Record
	if err := json.Unmarshal([]byte(*probin), &rec); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCatalog, "malformed probin typmod document").
			WithOp("pgcatalog.ParseProbin").
			Err()
	}
	return &rec, nil
}

func catalogErr(err error, op string) error {
	return errors.Wrap(err, errors.ErrCodeCatalog, "catalog query failed").WithOp(op).Err()
}
