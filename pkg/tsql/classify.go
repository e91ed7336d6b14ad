// Package tsql routes T-SQL transaction statements to a session's nesting
// controller and everything else to its engine.
package tsql

import (
	"strings"

	"github.com/ha1tch/tsqlparser"
	"github.com/ha1tch/tsqlparser/ast"
)

// Kind is the type of a transaction statement.
type Kind int

const (
	KindBegin Kind = iota + 1
	KindCommit
	KindRollback
	KindSave
)

func (k Kind) String() string {
	switch k {
	case KindBegin:
		return "BEGIN TRANSACTION"
	case KindCommit:
		return "COMMIT TRANSACTION"
	case KindRollback:
		return "ROLLBACK TRANSACTION"
	case KindSave:
		return "SAVE TRANSACTION"
	default:
		return "UNKNOWN"
	}
}

// Request is a parsed transaction statement. For ROLLBACK the name may be
// either the transaction's name or a savepoint; the controller decides.
type Request struct {
	Kind Kind
	Name string
}

// Classify parses sql and returns a Request when it is a single transaction
// statement, nil otherwise.
func Classify(sql string) *Request {
	program, errs := tsqlparser.Parse(sql)
	if len(errs) > 0 || program == nil || len(program.Statements) != 1 {
		return nil
	}
	return classifyStatement(program.Statements[0])
}

func classifyStatement(stmt ast.Statement) *Request {
	switch s := stmt.(type) {
	case *ast.BeginTransactionStatement:
		return &Request{Kind: KindBegin, Name: identifierValue(s.Name)}
	case *ast.CommitTransactionStatement:
		return &Request{Kind: KindCommit, Name: transactionName(s.Name)}
	case *ast.RollbackTransactionStatement:
		return &Request{Kind: KindRollback, Name: transactionName(s.Name)}
	case *ast.SaveTransactionStatement:
		return &Request{Kind: KindSave, Name: identifierValue(s.SavepointName)}
	}
	return nil
}

func identifierValue(id *ast.Identifier) string {
	if id == nil {
		return ""
	}
	return id.Value
}

// transactionName returns the name of a COMMIT or ROLLBACK. The parser
// reports the WORK of COMMIT WORK and ROLLBACK WORK as a name; both forms
// end the whole transaction.
func transactionName(id *ast.Identifier) string {
	name := identifierValue(id)
	if strings.EqualFold(name, "WORK") {
		return ""
	}
	return name
}

// IsTransaction reports whether sql is a transaction statement.
func IsTransaction(sql string) bool {
	return Classify(sql) != nil
}
