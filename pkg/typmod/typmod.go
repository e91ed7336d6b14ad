// Package typmod applies T-SQL defaults and size limits to the type
// modifiers of sys string, binary and numeric types.
package typmod

import (
	"strings"

	"github.com/ha1tch/tsqlparser/ast"

	"github.com/ha1tch/tsqlcompat/pkg/errors"
)

const (
	// VarHeader is added to a declared length to form its typmod.
	VarHeader = 4

	// Max marks a (MAX) length in a declared type.
	Max int32 = -8000

	// Unspecified is the typmod of a type declared without a length.
	Unspecified int32 = -1

	defaultLength     = 1
	defaultCastLength = 30

	maxVarcharLength  = 8000
	maxNVarcharLength = 4000

	// decimal(18,0)
	defaultDecimal int32 = 1179652

	sysSchema = "sys"
)

// TypeName is a possibly schema-qualified type name.
type TypeName struct {
	Schema string
	Name   string
}

// ParseTypeName splits a dotted, optionally bracketed type name.
func ParseTypeName(s string) TypeName {
	parts := strings.Split(s, ".")
	for i, p := range parts {
		parts[i] = unquote(p)
	}
	if len(parts) == 1 {
		return TypeName{Name: parts[0]}
	}
	return TypeName{Schema: parts[len(parts)-2], Name: parts[len(parts)-1]}
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '[' && s[len(s)-1] == ']' || s[0] == '"' && s[len(s)-1] == '"') {
		s = s[1 : len(s)-1]
	}
	return strings.ToLower(s)
}

// SchemaResolver finds the schema an unqualified type name resolves to on
// the current search path.
type SchemaResolver interface {
	TypeSchema(name string) (schema string, ok bool)
}

// ResolverFunc adapts a function to SchemaResolver.
type ResolverFunc func(name string) (string, bool)

func (f ResolverFunc) TypeSchema(name string) (string, bool) { return f(name) }

// SysTypes resolves the T-SQL builtin type names to the sys schema.
var SysTypes SchemaResolver = ResolverFunc(func(name string) (string, bool) {
	switch name {
	case "varchar", "nvarchar", "nchar", "varbinary", "binary", "bpchar",
		"smalldatetime", "decimal", "sysname", "datetime", "bit", "tinyint", "money":
		return sysSchema, true
	}
	return "", false
})

// CheckOrSetDefault returns the effective typmod for a declared sys type.
// Types outside the sys schema are returned unchanged.
func CheckOrSetDefault(name TypeName, typmod int32, isCast bool, r SchemaResolver) (int32, error) {
	if name.Name == "" {
		return typmod, nil
	}
	if !isSys(name, r) {
		return typmod, nil
	}

	switch {
	case typmod == Unspecified:
		switch name.Name {
		case "varchar", "nvarchar", "nchar", "varbinary", "binary", "bpchar":
			if isCast {
				return defaultCastLength + VarHeader, nil
			}
			return defaultLength + VarHeader, nil
		case "smalldatetime":
			return 0, nil
		case "decimal":
			return defaultDecimal, nil
		}

	case typmod == Max:
		switch name.Name {
		case "varchar", "nvarchar", "varbinary":
			return Unspecified, nil
		}
		return 0, errors.Usage("Incorrect syntax near the keyword '%s'.", name.Name).
			WithOp("typmod.CheckOrSetDefault").
			Err()

	case typmod > maxVarcharLength+VarHeader && (name.Name == "varchar" || name.Name == "bpchar"):
		return 0, tooLarge(typmod, maxVarcharLength, name.Name)

	case typmod > maxNVarcharLength+VarHeader && (name.Name == "nvarchar" || name.Name == "nchar"):
		return 0, tooLarge(typmod, maxNVarcharLength, name.Name)
	}
	return typmod, nil
}

func isSys(name TypeName, r SchemaResolver) bool {
	if name.Schema != "" {
		return name.Schema == sysSchema
	}
	if r == nil {
		return false
	}
	schema, ok := r.TypeSchema(name.Name)
	return ok && schema == sysSchema
}

func tooLarge(typmod int32, limit int, name string) error {
	return errors.Usage("The size '%d' exceeds the maximum allowed (%d) for '%s' datatype.",
		typmod-VarHeader, limit, name).
		WithOp("typmod.CheckOrSetDefault").
		Err()
}

// FromDataType derives the name and raw typmod of a parsed type.
func FromDataType(dt *ast.DataType) (TypeName, int32) {
	if dt == nil {
		return TypeName{}, Unspecified
	}
	name := ParseTypeName(dt.Name)
	switch {
	case dt.Max:
		return name, Max
	case dt.Length != nil:
		return name, int32(*dt.Length) + VarHeader
	case dt.Precision != nil:
		scale := 0
		if dt.Scale != nil {
			scale = *dt.Scale
		}
		return name, int32(*dt.Precision)<<16 | int32(scale) + VarHeader
	}
	return name, Unspecified
}

// IsSysnameColumn reports whether col is declared as sysname.
func IsSysnameColumn(col *ast.ColumnDefinition) bool {
	if col == nil || col.DataType == nil {
		return false
	}
	return ParseTypeName(col.DataType.Name).Name == "sysname"
}

// HasNullConstraint reports whether col carries an explicit NULL constraint.
func HasNullConstraint(col *ast.ColumnDefinition) bool {
	return col != nil && col.Nullable != nil && *col.Nullable
}
