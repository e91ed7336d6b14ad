package callsig

import (
	"strings"

	"github.com/ha1tch/tsqlparser"
	"github.com/ha1tch/tsqlparser/ast"

	"github.com/ha1tch/tsqlcompat/pkg/errors"
	"github.com/ha1tch/tsqlcompat/pkg/typmod"
)

// ParseTypeName maps a T-SQL type such as "int", "nvarchar(50)" or
// "decimal(10, 2)" to the engine type and typmod a routine declared with it
// carries. Omitted lengths take the T-SQL defaults, so "varchar" is
// varchar(1) and "decimal" is decimal(18, 0).
func ParseTypeName(text string) (OID, int32, error) {
	program, errs := tsqlparser.Parse("DECLARE @v " + text)
	if len(errs) > 0 || program == nil || len(program.Statements) != 1 {
		return InvalidOID, -1, typeErr(text)
	}
	decl, ok := program.Statements[0].(*ast.DeclareStatement)
	if !ok || len(decl.Variables) != 1 || decl.Variables[0].DataType == nil {
		return InvalidOID, -1, typeErr(text)
	}
	dt := decl.Variables[0].DataType

	name, raw := typmod.FromDataType(dt)
	var id OID
	switch name.Name {
	case "int", "integer":
		id = OIDInt4
	case "bigint":
		id = OIDInt8
	case "bit":
		id = OIDBool
	case "text", "ntext":
		id = OIDText
	case "varchar", "nvarchar", "char", "nchar", "sysname":
		id = OIDVarchar
		// A single length may be reported as a precision.
		if dt.Length == nil && dt.Precision != nil && dt.Scale == nil && !dt.Max {
			raw = int32(*dt.Precision) + typmod.VarHeader
		}
	case "decimal", "numeric":
		id = OIDNumeric
	default:
		return InvalidOID, -1, errors.Newf(errors.ErrCodeUnsupportedRoutineShape,
			"type %q is not supported in routine declarations", text).
			WithOp("callsig.ParseTypeName").
			Err()
	}

	mod, err := typmod.CheckOrSetDefault(name, raw, false, typmod.SysTypes)
	if err != nil {
		return InvalidOID, -1, err
	}
	return id, mod, nil
}

func typeErr(text string) error {
	return errors.Newf(errors.ErrCodeSyntax, "invalid type name %q", strings.TrimSpace(text)).
		WithOp("callsig.ParseTypeName").
		Err()
}
