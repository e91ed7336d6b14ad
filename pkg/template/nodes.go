package template

import (
	"slices"
	"strings"
)

// AlterTableCmdType is a subcommand of ALTER TABLE.
type AlterTableCmdType int

const (
	CmdChangeOwner AlterTableCmdType = iota + 1
	CmdEnableRowSecurity
	CmdDisableRowSecurity
)

// AlterTableCmd is one ALTER TABLE subcommand.
type AlterTableCmd struct {
	Type     AlterTableCmdType
	NewOwner RoleSpec
}

// AlterTableStmt is ALTER TABLE relation cmd[, cmd...].
type AlterTableStmt struct {
	consumable
	Relation RangeVar
	Cmds     []AlterTableCmd
}

// NewAlterTableOwner builds ALTER TABLE schema.table OWNER TO owner.
func NewAlterTableOwner(schema, table, owner string) *AlterTableStmt {
	return &AlterTableStmt{
		Relation: RangeVar{Schema: schema, Name: table},
		Cmds:     []AlterTableCmd{{Type: CmdChangeOwner, NewOwner: Role(owner)}},
	}
}

func (s *AlterTableStmt) Kind() Kind { return KindAlterTableOwner }

func (s *AlterTableStmt) Clone() Statement {
	c := *s
	c.consumable = consumable{}
	c.Cmds = slices.Clone(s.Cmds)
	return &c
}

func (s *AlterTableStmt) SQL() (string, error) {
	rel, err := s.Relation.sql()
	if err != nil {
		return "", err
	}
	if len(s.Cmds) == 0 {
		return "", renderErr("ALTER TABLE without commands")
	}
	cmds := make([]string, len(s.Cmds))
	for i, cmd := range s.Cmds {
		switch cmd.Type {
		case CmdChangeOwner:
			owner, err := cmd.NewOwner.sql()
			if err != nil {
				return "", err
			}
			cmds[i] = "OWNER TO " + owner
		case CmdEnableRowSecurity:
			cmds[i] = "ENABLE ROW LEVEL SECURITY"
		case CmdDisableRowSecurity:
			cmds[i] = "DISABLE ROW LEVEL SECURITY"
		default:
			return "", renderErr("unknown ALTER TABLE command")
		}
	}
	return "ALTER TABLE " + rel + " " + strings.Join(cmds, ", "), nil
}

// Role option names, matching the option list of CREATE/ALTER ROLE.
const (
	OptRoleMembers  = "rolemembers"  // ROLE a, b
	OptAddRoleTo    = "addroleto"    // IN ROLE a, b
	OptAdminMembers = "adminmembers" // ADMIN a, b
	OptLogin        = "canlogin"
	OptInherit      = "inherit"
	OptCreateRole   = "createrole"
	OptCreateDB     = "createdb"
)

// RoleOption is one option of CREATE ROLE or ALTER ROLE. List options carry
// Roles; flag options carry Flag.
type RoleOption struct {
	Name  string
	Roles []RoleSpec
	Flag  bool
}

func cloneOptions(opts []RoleOption) []RoleOption {
	out := make([]RoleOption, len(opts))
	for i, o := range opts {
		out[i] = o
		out[i].Roles = slices.Clone(o.Roles)
	}
	return out
}

func optionsSQL(opts []RoleOption) (string, error) {
	var b strings.Builder
	for _, o := range opts {
		b.WriteByte(' ')
		switch o.Name {
		case OptRoleMembers, OptAddRoleTo, OptAdminMembers:
			roles, err := rolesSQL(o.Roles)
			if err != nil {
				return "", err
			}
			b.WriteString(map[string]string{
				OptRoleMembers:  "ROLE ",
				OptAddRoleTo:    "IN ROLE ",
				OptAdminMembers: "ADMIN ",
			}[o.Name])
			b.WriteString(roles)
		case OptLogin, OptInherit, OptCreateRole, OptCreateDB:
			if !o.Flag {
				b.WriteString("NO")
			}
			b.WriteString(map[string]string{
				OptLogin:      "LOGIN",
				OptInherit:    "INHERIT",
				OptCreateRole: "CREATEROLE",
				OptCreateDB:   "CREATEDB",
			}[o.Name])
		default:
			return "", renderErr("unknown role option " + o.Name)
		}
	}
	return b.String(), nil
}

// CreateRoleStmt is CREATE ROLE role [options].
type CreateRoleStmt struct {
	consumable
	Role    string
	Options []RoleOption
}

// NewCreateRole builds CREATE ROLE role. When member is non-empty a ROLE
// option is added and member is its last (variable) element; likewise addTo
// for IN ROLE.
func NewCreateRole(role, member, addTo string, flags ...RoleOption) *CreateRoleStmt {
	s := &CreateRoleStmt{Role: role}
	s.Options = append(s.Options, flags...)
	if member != "" {
		s.Options = append(s.Options, RoleOption{Name: OptRoleMembers, Roles: []RoleSpec{Role(member)}})
	}
	if addTo != "" {
		s.Options = append(s.Options, RoleOption{Name: OptAddRoleTo, Roles: []RoleSpec{Role(addTo)}})
	}
	return s
}

func (s *CreateRoleStmt) Kind() Kind { return KindCreateRole }

func (s *CreateRoleStmt) Clone() Statement {
	c := *s
	c.consumable = consumable{}
	c.Options = cloneOptions(s.Options)
	return &c
}

func (s *CreateRoleStmt) SQL() (string, error) {
	if s.Role == "" {
		return "", renderErr("empty role name")
	}
	opts, err := optionsSQL(s.Options)
	if err != nil {
		return "", err
	}
	return "CREATE ROLE " + quote(s.Role) + opts, nil
}

// AlterRoleStmt is ALTER ROLE role [options].
type AlterRoleStmt struct {
	consumable
	Role    RoleSpec
	Options []RoleOption
}

// NewAlterRole builds ALTER ROLE role with flag options.
func NewAlterRole(role RoleSpec, flags ...RoleOption) *AlterRoleStmt {
	return &AlterRoleStmt{Role: role, Options: flags}
}

func (s *AlterRoleStmt) Kind() Kind { return KindAlterRole }

func (s *AlterRoleStmt) Clone() Statement {
	c := *s
	c.consumable = consumable{}
	c.Options = cloneOptions(s.Options)
	return &c
}

func (s *AlterRoleStmt) SQL() (string, error) {
	role, err := s.Role.sql()
	if err != nil {
		return "", err
	}
	if len(s.Options) == 0 {
		return "", renderErr("ALTER ROLE without options")
	}
	opts, err := optionsSQL(s.Options)
	if err != nil {
		return "", err
	}
	return "ALTER ROLE " + role + " WITH" + opts, nil
}

// CreateSchemaStmt is CREATE SCHEMA [name] [AUTHORIZATION role].
type CreateSchemaStmt struct {
	consumable
	Schema      string
	AuthRole    *RoleSpec
	IfNotExists bool
}

// NewCreateSchema builds CREATE SCHEMA schema AUTHORIZATION authRole. An
// empty authRole omits the clause.
func NewCreateSchema(schema, authRole string) *CreateSchemaStmt {
	s := &CreateSchemaStmt{Schema: schema}
	if authRole != "" {
		r := Role(authRole)
		s.AuthRole = &r
	}
	return s
}

func (s *CreateSchemaStmt) Kind() Kind { return KindCreateSchema }

func (s *CreateSchemaStmt) Clone() Statement {
	c := *s
	c.consumable = consumable{}
	if s.AuthRole != nil {
		r := *s.AuthRole
		c.AuthRole = &r
	}
	return &c
}

func (s *CreateSchemaStmt) SQL() (string, error) {
	if s.Schema == "" && s.AuthRole == nil {
		return "", renderErr("CREATE SCHEMA needs a name or an authorization role")
	}
	var b strings.Builder
	b.WriteString("CREATE SCHEMA")
	if s.IfNotExists {
		b.WriteString(" IF NOT EXISTS")
	}
	if s.Schema != "" {
		b.WriteString(" " + quote(s.Schema))
	}
	if s.AuthRole != nil {
		role, err := s.AuthRole.sql()
		if err != nil {
			return "", err
		}
		b.WriteString(" AUTHORIZATION " + role)
	}
	return b.String(), nil
}

// DropOwnedStmt is DROP OWNED BY roles [CASCADE].
type DropOwnedStmt struct {
	consumable
	Roles   []RoleSpec
	Cascade bool
}

// NewDropOwned builds DROP OWNED BY roles.
func NewDropOwned(cascade bool, roles ...string) *DropOwnedStmt {
	s := &DropOwnedStmt{Cascade: cascade}
	for _, r := range roles {
		s.Roles = append(s.Roles, Role(r))
	}
	return s
}

func (s *DropOwnedStmt) Kind() Kind { return KindDropOwned }

func (s *DropOwnedStmt) Clone() Statement {
	c := *s
	c.consumable = consumable{}
	c.Roles = slices.Clone(s.Roles)
	return &c
}

func (s *DropOwnedStmt) SQL() (string, error) {
	roles, err := rolesSQL(s.Roles)
	if err != nil {
		return "", err
	}
	sql := "DROP OWNED BY " + roles
	if s.Cascade {
		sql += " CASCADE"
	}
	return sql, nil
}

// DropStmt is DROP objtype [IF EXISTS] objects [CASCADE].
type DropStmt struct {
	consumable
	ObjectType ObjectKind
	Objects    []RangeVar
	MissingOK  bool
	Cascade    bool
}

// NewDrop builds a DROP of the given objects. The last object is the
// variable one.
func NewDrop(objType ObjectKind, missingOK bool, objects ...RangeVar) *DropStmt {
	return &DropStmt{ObjectType: objType, Objects: objects, MissingOK: missingOK}
}

func (s *DropStmt) Kind() Kind { return KindDrop }

func (s *DropStmt) Clone() Statement {
	c := *s
	c.consumable = consumable{}
	c.Objects = slices.Clone(s.Objects)
	return &c
}

func (s *DropStmt) SQL() (string, error) {
	kw, err := s.ObjectType.keyword()
	if err != nil {
		return "", err
	}
	objs, err := rangeVarsSQL(s.Objects)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("DROP " + kw)
	if s.MissingOK {
		b.WriteString(" IF EXISTS")
	}
	b.WriteString(" " + objs)
	if s.Cascade {
		b.WriteString(" CASCADE")
	}
	return b.String(), nil
}

// RoleSentinel marks a drop-role template built for an internal call path.
// It is stripped from the front of the role list before the real name is
// patched in.
const RoleSentinel = "is_role"

// DropRoleStmt is DROP ROLE [IF EXISTS] roles.
type DropRoleStmt struct {
	consumable
	Roles     []RoleSpec
	MissingOK bool
}

// NewDropRole builds DROP ROLE roles. The last role is the variable one.
func NewDropRole(missingOK bool, roles ...string) *DropRoleStmt {
	s := &DropRoleStmt{MissingOK: missingOK}
	for _, r := range roles {
		s.Roles = append(s.Roles, Role(r))
	}
	return s
}

func (s *DropRoleStmt) Kind() Kind { return KindDropRole }

func (s *DropRoleStmt) Clone() Statement {
	c := *s
	c.consumable = consumable{}
	c.Roles = slices.Clone(s.Roles)
	return &c
}

func (s *DropRoleStmt) SQL() (string, error) {
	roles, err := rolesSQL(s.Roles)
	if err != nil {
		return "", err
	}
	if s.MissingOK {
		return "DROP ROLE IF EXISTS " + roles, nil
	}
	return "DROP ROLE " + roles, nil
}

// Privileges accepted by GrantStmt.
var privileges = map[string]bool{
	"SELECT": true, "INSERT": true, "UPDATE": true, "DELETE": true,
	"TRUNCATE": true, "REFERENCES": true, "TRIGGER": true, "USAGE": true,
	"CREATE": true, "CONNECT": true, "TEMPORARY": true, "EXECUTE": true,
}

// GrantStmt is GRANT/REVOKE privileges ON objtype objects TO/FROM grantees.
type GrantStmt struct {
	consumable
	IsGrant     bool
	Privileges  []string // nil means ALL
	ObjectType  ObjectKind
	Objects     []RangeVar
	Grantees    []RoleSpec
	GrantOption bool
	Cascade     bool
}

// NewGrant builds GRANT privileges ON objType object TO grantee. Both the
// object and the grantee are the last elements of their lists.
func NewGrant(privs []string, objType ObjectKind, object RangeVar, grantee string) *GrantStmt {
	return &GrantStmt{
		IsGrant:    true,
		Privileges: privs,
		ObjectType: objType,
		Objects:    []RangeVar{object},
		Grantees:   []RoleSpec{Role(grantee)},
	}
}

// NewRevoke is the REVOKE form of NewGrant.
func NewRevoke(privs []string, objType ObjectKind, object RangeVar, grantee string) *GrantStmt {
	s := NewGrant(privs, objType, object, grantee)
	s.IsGrant = false
	return s
}

func (s *GrantStmt) Kind() Kind { return KindGrant }

func (s *GrantStmt) Clone() Statement {
	c := *s
	c.consumable = consumable{}
	c.Privileges = slices.Clone(s.Privileges)
	c.Objects = slices.Clone(s.Objects)
	c.Grantees = slices.Clone(s.Grantees)
	return &c
}

func (s *GrantStmt) SQL() (string, error) {
	privs := "ALL"
	if len(s.Privileges) > 0 {
		for _, p := range s.Privileges {
			if !privileges[p] {
				return "", renderErr("unknown privilege " + p)
			}
		}
		privs = strings.Join(s.Privileges, ", ")
	}
	kw, err := s.ObjectType.keyword()
	if err != nil {
		return "", err
	}
	objs, err := rangeVarsSQL(s.Objects)
	if err != nil {
		return "", err
	}
	grantees, err := rolesSQL(s.Grantees)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if s.IsGrant {
		b.WriteString("GRANT ")
	} else {
		b.WriteString("REVOKE ")
		if s.GrantOption {
			b.WriteString("GRANT OPTION FOR ")
		}
	}
	b.WriteString(privs + " ON " + kw + " " + objs)
	if s.IsGrant {
		b.WriteString(" TO " + grantees)
		if s.GrantOption {
			b.WriteString(" WITH GRANT OPTION")
		}
	} else {
		b.WriteString(" FROM " + grantees)
		if s.Cascade {
			b.WriteString(" CASCADE")
		}
	}
	return b.String(), nil
}

// GrantRoleStmt is GRANT/REVOKE roles TO/FROM grantees.
type GrantRoleStmt struct {
	consumable
	IsGrant     bool
	Granted     []RoleSpec
	Grantees    []RoleSpec
	AdminOption bool
}

// NewGrantRole builds GRANT granted TO grantee.
func NewGrantRole(granted, grantee string) *GrantRoleStmt {
	return &GrantRoleStmt{
		IsGrant:  true,
		Granted:  []RoleSpec{Role(granted)},
		Grantees: []RoleSpec{Role(grantee)},
	}
}

// NewRevokeRole builds REVOKE granted FROM grantee.
func NewRevokeRole(granted, grantee string) *GrantRoleStmt {
	s := NewGrantRole(granted, grantee)
	s.IsGrant = false
	return s
}

func (s *GrantRoleStmt) Kind() Kind { return KindGrantRole }

func (s *GrantRoleStmt) Clone() Statement {
	c := *s
	c.consumable = consumable{}
	c.Granted = slices.Clone(s.Granted)
	c.Grantees = slices.Clone(s.Grantees)
	return &c
}

func (s *GrantRoleStmt) SQL() (string, error) {
	granted, err := rolesSQL(s.Granted)
	if err != nil {
		return "", err
	}
	grantees, err := rolesSQL(s.Grantees)
	if err != nil {
		return "", err
	}
	if !s.IsGrant {
		return "REVOKE " + granted + " FROM " + grantees, nil
	}
	sql := "GRANT " + granted + " TO " + grantees
	if s.AdminOption {
		sql += " WITH ADMIN OPTION"
	}
	return sql, nil
}

// RenameStmt renames a role, schema, table or column. SubName is the old
// name; for columns Relation names the table.
type RenameStmt struct {
	consumable
	ObjectType ObjectKind
	Relation   *RangeVar
	SubName    string
	NewName    string
}

// NewRename builds ALTER objType oldName RENAME TO newName for roles and
// schemas.
func NewRename(objType ObjectKind, oldName, newName string) *RenameStmt {
	return &RenameStmt{ObjectType: objType, SubName: oldName, NewName: newName}
}

// NewRenameColumn builds ALTER TABLE relation RENAME COLUMN old TO new.
func NewRenameColumn(relation RangeVar, oldName, newName string) *RenameStmt {
	return &RenameStmt{ObjectType: ObjectColumn, Relation: &relation, SubName: oldName, NewName: newName}
}

func (s *RenameStmt) Kind() Kind { return KindRename }

func (s *RenameStmt) Clone() Statement {
	c := *s
	c.consumable = consumable{}
	if s.Relation != nil {
		r := *s.Relation
		c.Relation = &r
	}
	return &c
}

func (s *RenameStmt) SQL() (string, error) {
	if s.SubName == "" || s.NewName == "" {
		return "", renderErr("rename needs both names")
	}
	switch s.ObjectType {
	case ObjectRole, ObjectSchema, ObjectDatabase:
		kw, _ := s.ObjectType.keyword()
		return "ALTER " + kw + " " + quote(s.SubName) + " RENAME TO " + quote(s.NewName), nil
	case ObjectTable, ObjectView, ObjectSequence:
		kw, _ := s.ObjectType.keyword()
		rel := RangeVar{Name: s.SubName}
		if s.Relation != nil {
			rel.Schema = s.Relation.Schema
		}
		name, err := rel.sql()
		if err != nil {
			return "", err
		}
		return "ALTER " + kw + " " + name + " RENAME TO " + quote(s.NewName), nil
	case ObjectColumn:
		if s.Relation == nil {
			return "", renderErr("column rename without relation")
		}
		rel, err := s.Relation.sql()
		if err != nil {
			return "", err
		}
		return "ALTER TABLE " + rel + " RENAME COLUMN " + quote(s.SubName) + " TO " + quote(s.NewName), nil
	}
	return "", renderErr("unsupported rename target")
}

// ViewStmt is CREATE [OR REPLACE] VIEW view AS query. Query is part of the
// skeleton and is emitted verbatim; it must never carry runtime values.
type ViewStmt struct {
	consumable
	View    RangeVar
	Query   string
	Replace bool
}

// NewView builds CREATE OR REPLACE VIEW schema.name AS query.
func NewView(schema, name, query string) *ViewStmt {
	return &ViewStmt{View: RangeVar{Schema: schema, Name: name}, Query: query, Replace: true}
}

func (s *ViewStmt) Kind() Kind { return KindAlterView }

func (s *ViewStmt) Clone() Statement {
	c := *s
	c.consumable = consumable{}
	return &c
}

func (s *ViewStmt) SQL() (string, error) {
	view, err := s.View.sql()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(s.Query) == "" {
		return "", renderErr("view without query")
	}
	if s.Replace {
		return "CREATE OR REPLACE VIEW " + view + " AS " + s.Query, nil
	}
	return "CREATE VIEW " + view + " AS " + s.Query, nil
}

func rangeVarsSQL(objs []RangeVar) (string, error) {
	if len(objs) == 0 {
		return "", renderErr("empty object list")
	}
	parts := make([]string, len(objs))
	for i, o := range objs {
		s, err := o.sql()
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return strings.Join(parts, ", "), nil
}
