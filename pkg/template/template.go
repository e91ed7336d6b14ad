// Package template builds administrative statements from fixed skeletons.
//
// A skeleton is built once by one of the New* constructors with placeholder
// names in its variable positions. Each execution takes a Clone, patches the
// placeholders with runtime values through the Update* function for its kind,
// and renders it with Consume. Identifiers are only ever emitted quoted, so
// user-supplied names never reach the SQL text unescaped.
//
// By convention a skeleton's variable position in any list (grantees, dropped
// objects, role members) is the last element. The constructors document which
// lists this applies to; the rewriters patch the last element and nothing
// else.
package template

import (
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/ha1tch/tsqlcompat/pkg/errors"
)

// Kind discriminates statement templates.
type Kind int

const (
	KindAlterTableOwner Kind = iota + 1
	KindCreateRole
	KindAlterRole
	KindCreateSchema
	KindDropOwned
	KindDrop
	KindDropRole
	KindGrant
	KindGrantRole
	KindRename
	KindAlterView
)

var kindNames = map[Kind]string{
	KindAlterTableOwner: "AlterTableStmt",
	KindCreateRole:      "CreateRoleStmt",
	KindAlterRole:       "AlterRoleStmt",
	KindCreateSchema:    "CreateSchemaStmt",
	KindDropOwned:       "DropOwnedStmt",
	KindDrop:            "DropStmt",
	KindDropRole:        "DropRoleStmt",
	KindGrant:           "GrantStmt",
	KindGrantRole:       "GrantRoleStmt",
	KindRename:          "RenameStmt",
	KindAlterView:       "ViewStmt",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "UnknownStmt"
}

// Statement is a bound or unbound statement template.
type Statement interface {
	Kind() Kind

	// SQL renders the statement without consuming it.
	SQL() (string, error)

	// Clone returns an independent deep copy. A clone of a consumed
	// statement is not consumed.
	Clone() Statement

	state() *consumable
}

type consumable struct {
	consumed bool
}

func (c *consumable) state() *consumable { return c }

// Consume renders stmt and marks it consumed. Rewriting or consuming it again
// fails with TemplateConsumed.
func Consume(stmt Statement) (string, error) {
	if stmt.state().consumed {
		return "", consumedErr(stmt.Kind(), "template.Consume")
	}
	sql, err := stmt.SQL()
	if err != nil {
		return "", err
	}
	stmt.state().consumed = true
	return sql, nil
}

// Consumed reports whether stmt has been rendered by Consume.
func Consumed(stmt Statement) bool {
	return stmt.state().consumed
}

// Override wraps a value for the optional arguments of the Update functions.
func Override(s string) *string {
	return &s
}

// RoleSpecType distinguishes named roles from the special role keywords.
type RoleSpecType int

const (
	RoleName RoleSpecType = iota
	RoleCurrentUser
	RoleSessionUser
	RoleCurrentRole
	RolePublic
)

// RoleSpec names a role.
type RoleSpec struct {
	Type RoleSpecType
	Name string
}

// Role is shorthand for a named RoleSpec.
func Role(name string) RoleSpec {
	return RoleSpec{Type: RoleName, Name: name}
}

func (r RoleSpec) sql() (string, error) {
	switch r.Type {
	case RoleName:
		if r.Name == "" {
			return "", renderErr("empty role name")
		}
		return quote(r.Name), nil
	case RoleCurrentUser:
		return "CURRENT_USER", nil
	case RoleSessionUser:
		return "SESSION_USER", nil
	case RoleCurrentRole:
		return "CURRENT_ROLE", nil
	case RolePublic:
		return "PUBLIC", nil
	}
	return "", renderErr("unknown role type")
}

func rolesSQL(roles []RoleSpec) (string, error) {
	if len(roles) == 0 {
		return "", renderErr("empty role list")
	}
	parts := make([]string, len(roles))
	for i, r := range roles {
		s, err := r.sql()
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return strings.Join(parts, ", "), nil
}

// RangeVar is a possibly schema-qualified relation name.
type RangeVar struct {
	Schema string
	Name   string
}

func (r RangeVar) sql() (string, error) {
	if r.Name == "" {
		return "", renderErr("empty relation name")
	}
	if r.Schema == "" {
		return quote(r.Name), nil
	}
	return pgx.Identifier{r.Schema, r.Name}.Sanitize(), nil
}

// ObjectKind is the object class a DROP, GRANT or RENAME applies to.
type ObjectKind int

const (
	ObjectTable ObjectKind = iota + 1
	ObjectView
	ObjectSequence
	ObjectSchema
	ObjectFunction
	ObjectProcedure
	ObjectType
	ObjectDatabase
	ObjectRole
	ObjectColumn
)

var objectKeywords = map[ObjectKind]string{
	ObjectTable:     "TABLE",
	ObjectView:      "VIEW",
	ObjectSequence:  "SEQUENCE",
	ObjectSchema:    "SCHEMA",
	ObjectFunction:  "FUNCTION",
	ObjectProcedure: "PROCEDURE",
	ObjectType:      "TYPE",
	ObjectDatabase:  "DATABASE",
	ObjectRole:      "ROLE",
	ObjectColumn:    "COLUMN",
}

func (o ObjectKind) keyword() (string, error) {
	if kw, ok := objectKeywords[o]; ok {
		return kw, nil
	}
	return "", renderErr("unknown object type")
}

func quote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func mismatchErr(want Kind, op string) error {
	return errors.Internal(errors.ErrCodeTemplateMismatch, "query is not a "+want.String()).
		WithOp(op).
		Err()
}

func consumedErr(kind Kind, op string) error {
	return errors.Internal(errors.ErrCodeTemplateConsumed, kind.String()+" template has already been consumed").
		WithOp(op).
		Err()
}

func renderErr(msg string) error {
	return errors.New(errors.ErrCodeInternal, "cannot render template: "+msg).
		WithOp("template.SQL").
		Err()
}
