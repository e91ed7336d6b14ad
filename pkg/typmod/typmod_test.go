package typmod

import (
	"testing"

	"github.com/ha1tch/tsqlparser/ast"

	"github.com/ha1tch/tsqlcompat/pkg/errors"
)

func intPtr(n int) *int { return &n }

func TestCheckOrSetDefault(t *testing.T) {
	sys := func(name string) TypeName { return TypeName{Schema: "sys", Name: name} }

	tests := []struct {
		name    string
		typ     TypeName
		typmod  int32
		isCast  bool
		want    int32
		wantErr string
	}{
		{"varchar default", sys("varchar"), -1, false, 5, ""},
		{"varchar default in cast", sys("varchar"), -1, true, 34, ""},
		{"binary default", sys("binary"), -1, false, 5, ""},
		{"unqualified nchar", TypeName{Name: "nchar"}, -1, false, 5, ""},
		{"smalldatetime", sys("smalldatetime"), -1, false, 0, ""},
		{"decimal", sys("decimal"), -1, false, 1179652, ""},
		{"int untouched", sys("int"), -1, false, -1, ""},
		{"varchar max", sys("varchar"), Max, false, -1, ""},
		{"varbinary max", sys("varbinary"), Max, false, -1, ""},
		{"nchar max", sys("nchar"), Max, false, 0, "Incorrect syntax near the keyword 'nchar'."},
		{"varchar 8000", sys("varchar"), 8004, false, 8004, ""},
		{"varchar 8001", sys("varchar"), 8005, false, 0, "The size '8001' exceeds the maximum allowed (8000) for 'varchar' datatype."},
		{"bpchar 9000", sys("bpchar"), 9004, false, 0, "The size '9000' exceeds the maximum allowed (8000) for 'bpchar' datatype."},
		{"nvarchar 4001", sys("nvarchar"), 4005, false, 0, "The size '4001' exceeds the maximum allowed (4000) for 'nvarchar' datatype."},
		{"nvarchar 4000", sys("nvarchar"), 4004, false, 4004, ""},
		{"pg_catalog varchar", TypeName{Schema: "pg_catalog", Name: "varchar"}, -1, false, -1, ""},
		{"pg_catalog varchar too long", TypeName{Schema: "pg_catalog", Name: "varchar"}, 9004, false, 9004, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CheckOrSetDefault(tt.typ, tt.typmod, tt.isCast, SysTypes)
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("expected error %q, got typmod %d", tt.wantErr, got)
				}
				if !errors.IsCode(err, errors.ErrCodeUsage) {
					t.Fatalf("error code = %s, want usage", errors.GetCode(err))
				}
				var e *errors.Error
				if !errors.As(err, &e) || e.Message != tt.wantErr {
					t.Fatalf("message = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("CheckOrSetDefault: %v", err)
			}
			if got != tt.want {
				t.Fatalf("typmod = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCheckOrSetDefault_UnresolvedName(t *testing.T) {
	got, err := CheckOrSetDefault(TypeName{Name: "varchar"}, -1, false, nil)
	if err != nil || got != -1 {
		t.Fatalf("without resolver = (%d, %v), want -1", got, err)
	}
	userType := ResolverFunc(func(string) (string, bool) { return "dbo", true })
	if got, _ := CheckOrSetDefault(TypeName{Name: "varchar"}, -1, false, userType); got != -1 {
		t.Fatalf("dbo.varchar = %d, want -1", got)
	}
}

func TestParseTypeName(t *testing.T) {
	tests := []struct {
		in   string
		want TypeName
	}{
		{"varchar", TypeName{Name: "varchar"}},
		{"SYS.VarChar", TypeName{Schema: "sys", Name: "varchar"}},
		{"[sys].[nvarchar]", TypeName{Schema: "sys", Name: "nvarchar"}},
		{"db.sys.sysname", TypeName{Schema: "sys", Name: "sysname"}},
	}
	for _, tt := range tests {
		if got := ParseTypeName(tt.in); got != tt.want {
			t.Errorf("ParseTypeName(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestFromDataType(t *testing.T) {
	tests := []struct {
		name string
		dt   *ast.DataType
		want int32
	}{
		{"nil", nil, -1},
		{"plain", &ast.DataType{Name: "int"}, -1},
		{"length", &ast.DataType{Name: "varchar", Length: intPtr(50)}, 54},
		{"max", &ast.DataType{Name: "nvarchar", Max: true}, Max},
		{"precision", &ast.DataType{Name: "decimal", Precision: intPtr(18)}, 1179652},
		{"precision and scale", &ast.DataType{Name: "decimal", Precision: intPtr(10), Scale: intPtr(2)}, 10<<16 | 2 + 4},
	}
	for _, tt := range tests {
		if _, got := FromDataType(tt.dt); got != tt.want {
			t.Errorf("%s: typmod = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestColumnHelpers(t *testing.T) {
	yes, no := true, false
	tests := []struct {
		name    string
		col     *ast.ColumnDefinition
		sysname bool
		null    bool
	}{
		{"sysname null", &ast.ColumnDefinition{DataType: &ast.DataType{Name: "SYSNAME"}, Nullable: &yes}, true, true},
		{"qualified sysname", &ast.ColumnDefinition{DataType: &ast.DataType{Name: "sys.sysname"}}, true, false},
		{"int not null", &ast.ColumnDefinition{DataType: &ast.DataType{Name: "int"}, Nullable: &no}, false, false},
		{"no type", &ast.ColumnDefinition{}, false, false},
		{"nil", nil, false, false},
	}
	for _, tt := range tests {
		if got := IsSysnameColumn(tt.col); got != tt.sysname {
			t.Errorf("%s: IsSysnameColumn = %v", tt.name, got)
		}
		if got := HasNullConstraint(tt.col); got != tt.null {
			t.Errorf("%s: HasNullConstraint = %v", tt.name, got)
		}
	}
}
