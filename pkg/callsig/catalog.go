package callsig

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// OID identifies a catalog object.
type OID uint32

// Type OIDs the resolver needs to recognise.
const (
	InvalidOID OID = 0
	OIDBool    OID = 16
	OIDInt8    OID = 20
	OIDInt4    OID = 23
	OIDText    OID = 25
	OIDVarchar OID = 1043
	OIDNumeric OID = 1700
	OIDRecord  OID = 2249
	OIDVoid    OID = 2278
)

// DefaultCollation is the collation OID of collatable built-in types.
const DefaultCollation int32 = 100

// RoutineKind mirrors the engine's prokind.
type RoutineKind byte

const (
	KindFunction  RoutineKind = 'f'
	KindProcedure RoutineKind = 'p'
	KindAggregate RoutineKind = 'a'
	KindWindow    RoutineKind = 'w'
)

// QualifiedName is a possibly qualified routine name.
type QualifiedName struct {
	Database string
	Schema   string
	Name     string
}

// String joins the parts with dots, omitting empty qualifiers.
func (q QualifiedName) String() string {
	var parts []string
	if q.Database != "" {
		parts = append(parts, q.Database)
	}
	if q.Schema != "" || q.Database != "" {
		parts = append(parts, q.Schema)
	}
	return strings.Join(append(parts, q.Name), ".")
}

// Routine is the catalog entry of a function or procedure.
type Routine struct {
	ID         OID
	Name       string
	Schema     string
	Kind       RoutineKind
	ArgTypes   []OID
	ReturnType OID
	ReturnsSet bool
}

// NArgs returns the number of declared arguments.
func (r *Routine) NArgs() int { return len(r.ArgTypes) }

// TypeInfo is the catalog entry of a type.
type TypeInfo struct {
	ID        OID
	Name      string
	Schema    string
	Collation int32
}

// Catalog is the routine and type lookup the resolver consumes.
type Catalog interface {
	// FindRoutines returns the routines name can refer to, applying the
	// search path for unqualified names.
	FindRoutines(ctx context.Context, name QualifiedName) ([]OID, error)

	// Routine returns the routine with the given id, or nil if none exists.
	Routine(ctx context.Context, id OID) (*Routine, error)

	// Type returns the type with the given id, or nil if none exists.
	Type(ctx context.Context, id OID) (*TypeInfo, error)
}

// TypmodStore recovers the declared typmod of a function's return type,
// which the engine catalog does not keep.
type TypmodStore interface {
	ReturnTypmod(ctx context.Context, routine OID, nargs int, returnType OID) (int32, error)
}

// SearchPathSetter is a Catalog whose search path for unqualified names is
// set by the session rather than read from the engine.
type SearchPathSetter interface {
	SetSearchPath(ctx context.Context, schemas []string) error
}

// RoutineWriter is a Catalog that routines can be added to.
type RoutineWriter interface {
	AddRoutine(r Routine) OID
}

var (
	_ Catalog          = (*MemoryCatalog)(nil)
	_ SearchPathSetter = (*MemoryCatalog)(nil)
	_ RoutineWriter    = (*MemoryCatalog)(nil)
)

// MemoryCatalog is a Catalog held in memory. It is used for tests and for
// the SQLite backend, which has no routine catalog of its own.
type MemoryCatalog struct {
	mu         sync.RWMutex
	searchPath []string
	routines   map[OID]*Routine
	types      map[OID]*TypeInfo
	nextOID    OID
}

// NewMemoryCatalog creates a catalog seeded with the built-in types the
// resolver relies on.
func NewMemoryCatalog(searchPath ...string) *MemoryCatalog {
	c := &MemoryCatalog{
		searchPath: lowerAll(searchPath),
		routines:   make(map[OID]*Routine),
		types:      make(map[OID]*TypeInfo),
		nextOID:    16384,
	}
	for _, t := range []TypeInfo{
		{ID: OIDBool, Name: "bool", Schema: "pg_catalog"},
		{ID: OIDInt8, Name: "int8", Schema: "pg_catalog"},
		{ID: OIDInt4, Name: "int4", Schema: "pg_catalog"},
		{ID: OIDText, Name: "text", Schema: "pg_catalog", Collation: DefaultCollation},
		{ID: OIDVarchar, Name: "varchar", Schema: "pg_catalog", Collation: DefaultCollation},
		{ID: OIDNumeric, Name: "numeric", Schema: "pg_catalog"},
		{ID: OIDRecord, Name: "record", Schema: "pg_catalog"},
		{ID: OIDVoid, Name: "void", Schema: "pg_catalog"},
	} {
		c.types[t.ID] = &t
	}
	return c
}

// SetSearchPath replaces the schemas searched for unqualified names.
func (c *MemoryCatalog) SetSearchPath(_ context.Context, schemas []string) error {
	path := lowerAll(schemas)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.searchPath = path
	return nil
}

// AddType registers a type. A zero ID allocates one.
func (c *MemoryCatalog) AddType(t TypeInfo) OID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.ID == InvalidOID {
		t.ID = c.allocate()
	}
	c.types[t.ID] = &t
	return t.ID
}

// AddRoutine registers a routine. A zero ID allocates one.
func (c *MemoryCatalog) AddRoutine(r Routine) OID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r.ID == InvalidOID {
		r.ID = c.allocate()
	}
	r.Name = strings.ToLower(r.Name)
	r.Schema = strings.ToLower(r.Schema)
	r.ArgTypes = slices.Clone(r.ArgTypes)
	c.routines[r.ID] = &r
	return r.ID
}

// DropRoutine removes a routine.
func (c *MemoryCatalog) DropRoutine(id OID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.routines, id)
}

func lowerAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = strings.ToLower(n)
	}
	return out
}

func (c *MemoryCatalog) allocate() OID {
	c.nextOID++
	return c.nextOID
}

// FindRoutines resolves name the way the engine does for calls with an
// unspecified argument list: a qualified name only looks in its schema; an
// unqualified one walks the search path, and a routine is hidden by an
// earlier one with the same argument types.
func (c *MemoryCatalog) FindRoutines(_ context.Context, name QualifiedName) ([]OID, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	schemas := c.searchPath
	if name.Schema != "" {
		schemas = []string{strings.ToLower(name.Schema)}
	}
	target := strings.ToLower(name.Name)

	var found []OID
	var seen [][]OID
	for _, schema := range schemas {
		var inSchema []*Routine
		for _, r := range c.routines {
			if r.Schema == schema && r.Name == target {
				inSchema = append(inSchema, r)
			}
		}
		slices.SortFunc(inSchema, func(a, b *Routine) int { return int(a.ID) - int(b.ID) })

		for _, r := range inSchema {
			hidden := slices.ContainsFunc(seen, func(args []OID) bool {
				return slices.Equal(args, r.ArgTypes)
			})
			if hidden {
				continue
			}
			seen = append(seen, r.ArgTypes)
			found = append(found, r.ID)
		}
	}
	return found, nil
}

func (c *MemoryCatalog) Routine(_ context.Context, id OID) (*Routine, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.routines[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (c *MemoryCatalog) Type(_ context.Context, id OID) (*TypeInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.types[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}
