package template

import (
	"sort"
	"sync"

	"github.com/ha1tch/tsqlcompat/pkg/errors"
)

// Placeholder is the name used in skeleton variable positions.
const Placeholder = "dummy"

// Catalogue holds named skeletons. Get always hands out a clone so sessions
// never share a mutable node.
type Catalogue struct {
	mu        sync.RWMutex
	templates map[string]Statement
}

// NewCatalogue creates an empty catalogue.
func NewCatalogue() *Catalogue {
	return &Catalogue{templates: make(map[string]Statement)}
}

// Register adds or replaces a skeleton.
func (c *Catalogue) Register(name string, stmt Statement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.templates[name] = stmt
}

// Get returns a fresh copy of the named skeleton.
func (c *Catalogue) Get(name string) (Statement, error) {
	c.mu.RLock()
	stmt, ok := c.templates[name]
	c.mu.RUnlock()
	if !ok {
		return nil, errors.Newf(errors.ErrCodeInternal, "no statement template named %q", name).
			WithOp("template.Catalogue.Get").
			Err()
	}
	return stmt.Clone(), nil
}

// Names lists the registered skeletons in sorted order.
func (c *Catalogue) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.templates))
	for name := range c.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Skeleton names registered by DefaultCatalogue.
const (
	TmplCreateRole       = "create_role"
	TmplCreateLogin      = "create_login"
	TmplAlterRoleNoLogin = "alter_role_nologin"
	TmplAlterTableOwner  = "alter_table_owner"
	TmplCreateSchema     = "create_schema"
	TmplDropOwned        = "drop_owned"
	TmplDropRole         = "drop_role"
	TmplDropSchema       = "drop_schema"
	TmplGrantSchema      = "grant_schema_usage"
	TmplRevokeSchema     = "revoke_schema_usage"
	TmplGrantRole        = "grant_role"
	TmplRevokeRole       = "revoke_role"
	TmplRenameRole       = "rename_role"
	TmplRenameSchema     = "rename_schema"
	TmplSysDatabaseView  = "sysdatabases_view"
)

// DefaultCatalogue returns the skeletons used for logical-database, user and
// role management.
func DefaultCatalogue() *Catalogue {
	p := Placeholder
	c := NewCatalogue()

	c.Register(TmplCreateRole, NewCreateRole(p, "", p,
		RoleOption{Name: OptLogin, Flag: false},
		RoleOption{Name: OptInherit, Flag: true}))
	c.Register(TmplCreateLogin, NewCreateRole(p, "", "",
		RoleOption{Name: OptLogin, Flag: true},
		RoleOption{Name: OptInherit, Flag: true}))
	c.Register(TmplAlterRoleNoLogin, NewAlterRole(Role(p),
		RoleOption{Name: OptLogin, Flag: false}))
	c.Register(TmplAlterTableOwner, NewAlterTableOwner(p, p, p))
	c.Register(TmplCreateSchema, NewCreateSchema(p, p))
	c.Register(TmplDropOwned, NewDropOwned(true, p))
	c.Register(TmplDropRole, NewDropRole(false, RoleSentinel, p))
	c.Register(TmplDropSchema, NewDrop(ObjectSchema, false, RangeVar{Name: p}))
	c.Register(TmplGrantSchema, NewGrant([]string{"USAGE"}, ObjectSchema, RangeVar{Name: p}, p))
	c.Register(TmplRevokeSchema, NewRevoke([]string{"USAGE"}, ObjectSchema, RangeVar{Name: p}, p))
	c.Register(TmplGrantRole, NewGrantRole(p, p))
	c.Register(TmplRevokeRole, NewRevokeRole(p, p))
	c.Register(TmplRenameRole, NewRename(ObjectRole, p, p))
	c.Register(TmplRenameSchema, NewRename(ObjectSchema, p, p))
	c.Register(TmplSysDatabaseView, NewView(p, "sysdatabases",
		"SELECT name, dbid, crdate FROM sys.logical_databases"))
	return c
}
