package tsql

import (
	"strings"

	"github.com/ha1tch/tsqlparser"

	"github.com/ha1tch/tsqlcompat/pkg/errors"
)

// SplitBatches splits a script on GO lines.
func SplitBatches(script string) []string {
	var batches []string
	var current strings.Builder

	for _, line := range strings.Split(script, "\n") {
		if strings.EqualFold(strings.TrimSpace(line), "GO") {
			if strings.TrimSpace(current.String()) != "" {
				batches = append(batches, current.String())
			}
			current.Reset()
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
	}
	if strings.TrimSpace(current.String()) != "" {
		batches = append(batches, current.String())
	}
	return batches
}

// SplitStatements splits a batch on semicolons outside string literals,
// quoted identifiers and comments. Empty statements are dropped.
func SplitStatements(batch string) []string {
	var (
		stmts   []string
		start   int
		quote   byte
		comment bool
	)
	flush := func(end int) {
		if s := strings.TrimSpace(batch[start:end]); s != "" {
			stmts = append(stmts, s)
		}
	}

	for i := 0; i < len(batch); i++ {
		ch := batch[i]
		switch {
		case comment:
			if ch == '\n' {
				comment = false
			}
		case quote != 0:
			if ch == quote {
				if i+1 < len(batch) && batch[i+1] == quote {
					i++
				} else {
					quote = 0
				}
			}
		case ch == '-' && i+1 < len(batch) && batch[i+1] == '-':
			comment = true
		case ch == '\'' || ch == '"':
			quote = ch
		case ch == '[':
			quote = ']'
		case ch == ';':
			flush(i)
			start = i + 1
		}
	}
	flush(len(batch))
	return stmts
}

// Statement is one unit of a batch: either a transaction statement, with
// Request set, or SQL that goes to the engine unchanged.
type Statement struct {
	SQL     string
	Request *Request
}

// ParseBatch splits a batch into the statements Execute runs. Semicolons
// separate statements as in SplitStatements. A chunk that the parser reads
// as several statements, some of them transaction statements, is split
// again around each transaction statement so that BEGIN, COMMIT, ROLLBACK
// and SAVE reach the nesting controller even without semicolons. The
// statements between them are passed to the engine as one piece.
func ParseBatch(batch string) ([]Statement, error) {
	var out []Statement
	for _, chunk := range SplitStatements(batch) {
		program, errs := tsqlparser.Parse(chunk)
		if len(errs) > 0 || program == nil || len(program.Statements) == 0 {
			out = append(out, Statement{SQL: chunk})
			continue
		}
		if len(program.Statements) == 1 {
			out = append(out, Statement{SQL: chunk, Request: classifyStatement(program.Statements[0])})
			continue
		}

		var want int
		for _, stmt := range program.Statements {
			if classifyStatement(stmt) != nil {
				want++
			}
		}
		if want == 0 {
			out = append(out, Statement{SQL: chunk})
			continue
		}

		parts := splitTransactions(chunk)
		var got int
		for _, p := range parts {
			if p.Request != nil {
				got++
			}
		}
		if got != want {
			return nil, errors.Usage("cannot separate the %d transaction statements in %q; end each statement with a semicolon",
				want, chunk).
				WithOp("tsql.ParseBatch").
				Err()
		}
		out = append(out, parts...)
	}
	return out, nil
}

// splitTransactions cuts chunk around every transaction statement found
// outside literals and comments.
func splitTransactions(chunk string) []Statement {
	var (
		out     []Statement
		start   int
		quote   byte
		comment byte // '-' for a line comment, '*' for a block comment
	)
	flush := func(end int) {
		if s := strings.TrimSpace(chunk[start:end]); s != "" {
			out = append(out, Statement{SQL: s})
		}
	}

	for i := 0; i < len(chunk); i++ {
		ch := chunk[i]
		switch {
		case comment == '-':
			if ch == '\n' {
				comment = 0
			}
		case comment == '*':
			if ch == '*' && i+1 < len(chunk) && chunk[i+1] == '/' {
				comment = 0
				i++
			}
		case quote != 0:
			if ch == quote {
				if i+1 < len(chunk) && chunk[i+1] == quote {
					i++
				} else {
					quote = 0
				}
			}
		case ch == '-' && i+1 < len(chunk) && chunk[i+1] == '-':
			comment = '-'
		case ch == '/' && i+1 < len(chunk) && chunk[i+1] == '*':
			comment = '*'
			i++
		case ch == '\'' || ch == '"':
			quote = ch
		case ch == '[':
			quote = ']'
		case isWordStart(ch) && (i == 0 || !isWordChar(chunk[i-1]) && chunk[i-1] != '.'):
			end, ok := matchTransaction(chunk, i)
			if !ok {
				i = wordEnd(chunk, i) - 1
				continue
			}
			req := Classify(chunk[i:end])
			if req == nil {
				i = end - 1
				continue
			}
			flush(i)
			out = append(out, Statement{SQL: strings.TrimSpace(chunk[i:end]), Request: req})
			start = end
			i = end - 1
		}
	}
	flush(len(chunk))
	return out
}

// statementKeywords start a statement, so a word from this set after
// TRAN or TRANSACTION is not a transaction name.
var statementKeywords = map[string]bool{
	"ALTER": true, "BEGIN": true, "COMMIT": true, "CREATE": true,
	"DECLARE": true, "DELETE": true, "DENY": true, "DROP": true,
	"EXEC": true, "EXECUTE": true, "GRANT": true, "IF": true,
	"INSERT": true, "MERGE": true, "PRINT": true, "RAISERROR": true,
	"RETURN": true, "REVOKE": true, "ROLLBACK": true, "SAVE": true,
	"SELECT": true, "SET": true, "THROW": true, "TRUNCATE": true,
	"UPDATE": true, "USE": true, "WHILE": true, "WITH": true,
}

// matchTransaction reports whether a transaction statement starts at i and
// where it ends.
func matchTransaction(s string, i int) (int, bool) {
	kw, j := word(s, i)
	next, k := word(s, skipSpace(s, j))

	tran := next == "TRAN" || next == "TRANSACTION"
	switch kw {
	case "BEGIN", "SAVE":
		if !tran {
			return 0, false
		}
		end := transactionNameEnd(s, k)
		if kw == "BEGIN" && end > k {
			end = markEnd(s, end)
		}
		return end, true
	case "COMMIT", "ROLLBACK":
		switch {
		case tran:
			return transactionNameEnd(s, k), true
		case next == "WORK":
			return k, true
		default:
			return j, true
		}
	}
	return 0, false
}

// transactionNameEnd skips an optional transaction name or name variable
// starting after i.
func transactionNameEnd(s string, i int) int {
	j := skipSpace(s, i)
	if j >= len(s) {
		return i
	}
	switch ch := s[j]; {
	case ch == '@':
		return wordEnd(s, j+1)
	case ch == '[' || ch == '"':
		closing := ch
		if ch == '[' {
			closing = ']'
		}
		for k := j + 1; k < len(s); k++ {
			if s[k] != closing {
				continue
			}
			if k+1 < len(s) && s[k+1] == closing {
				k++
				continue
			}
			return k + 1
		}
		return i
	case isWordStart(ch):
		name, end := word(s, j)
		if statementKeywords[name] {
			return i
		}
		return end
	}
	return i
}

// markEnd skips the WITH MARK ['description'] clause of BEGIN TRAN.
func markEnd(s string, i int) int {
	with, j := word(s, skipSpace(s, i))
	if with != "WITH" {
		return i
	}
	mark, k := word(s, skipSpace(s, j))
	if mark != "MARK" {
		return i
	}
	l := skipSpace(s, k)
	if l >= len(s) || s[l] != '\'' {
		return k
	}
	for m := l + 1; m < len(s); m++ {
		if s[m] != '\'' {
			continue
		}
		if m+1 < len(s) && s[m+1] == '\'' {
			m++
			continue
		}
		return m + 1
	}
	return k
}

// word returns the upper-cased word at i and the index after it.
func word(s string, i int) (string, int) {
	if i >= len(s) || !isWordStart(s[i]) {
		return "", i
	}
	end := wordEnd(s, i)
	return strings.ToUpper(s[i:end]), end
}

func wordEnd(s string, i int) int {
	for i < len(s) && isWordChar(s[i]) {
		i++
	}
	return i
}

func skipSpace(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\r' || s[i] == '\n') {
		i++
	}
	return i
}

func isWordStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isWordChar(ch byte) bool {
	return isWordStart(ch) || (ch >= '0' && ch <= '9') || ch == '@' || ch == '#' || ch == '$'
}
