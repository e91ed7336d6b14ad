package callsig

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/ha1tch/tsqlcompat/pkg/errors"
	"github.com/ha1tch/tsqlcompat/pkg/settings"
)

// reservedWords always need quoting.
var reservedWords = map[string]bool{
	"all": true, "analyse": true, "analyze": true, "and": true, "any": true,
	"array": true, "as": true, "asc": true, "asymmetric": true, "both": true,
	"case": true, "cast": true, "check": true, "collate": true, "column": true,
	"constraint": true, "create": true, "current_catalog": true,
	"current_date": true, "current_role": true, "current_time": true,
	"current_timestamp": true, "current_user": true, "default": true,
	"deferrable": true, "desc": true, "distinct": true, "do": true,
	"else": true, "end": true, "except": true, "false": true, "fetch": true,
	"for": true, "foreign": true, "from": true, "grant": true, "group": true,
	"having": true, "in": true, "initially": true, "intersect": true,
	"into": true, "lateral": true, "leading": true, "limit": true,
	"localtime": true, "localtimestamp": true, "not": true, "null": true,
	"offset": true, "on": true, "only": true, "or": true, "order": true,
	"placing": true, "primary": true, "references": true, "returning": true,
	"select": true, "session_user": true, "some": true, "symmetric": true,
	"table": true, "then": true, "to": true, "trailing": true, "true": true,
	"union": true, "unique": true, "user": true, "using": true,
	"variadic": true, "when": true, "where": true, "window": true, "with": true,
}

// QuoteIdentifier quotes name when it is not a plain lower-case identifier,
// when it is a reserved word, or when quoteAll is set.
func QuoteIdentifier(name string, quoteAll bool) string {
	if quoteAll || !isSafeIdent(name) || reservedWords[name] {
		return pgx.Identifier{name}.Sanitize()
	}
	return name
}

func isSafeIdent(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r == '_':
		case (r >= '0' && r <= '9') || r == '$':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// FlattenSearchPath renders schema names as the engine does in messages:
// each quoted as needed, comma separated, with a leading space.
func FlattenSearchPath(schemas []string) string {
	if len(schemas) == 0 {
		return ""
	}
	var b strings.Builder
	for i, s := range schemas {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte(' ')
		b.WriteString(QuoteIdentifier(s, false))
	}
	return b.String()
}

// TypeFormatter renders a type name schema-qualified.
type TypeFormatter interface {
	FormatTypeQualified(ctx context.Context, id OID) (string, error)
}

// CatalogTypeFormatter formats types from a Catalog, quoting identifiers as
// the session's quote_all_identifiers setting asks.
type CatalogTypeFormatter struct {
	Catalog  Catalog
	Settings *settings.Settings
}

func (f CatalogTypeFormatter) FormatTypeQualified(ctx context.Context, id OID) (string, error) {
	t, err := f.Catalog.Type(ctx, id)
	if err != nil {
		return "", err
	}
	if t == nil {
		return "", errors.Internal(errors.ErrCodeCacheLookupFailure,
			fmt.Sprintf("cache lookup failed for type %d", id)).
			WithOp("callsig.FormatTypeQualified").
			Err()
	}
	quoteAll := f.Settings.Bool(settings.QuoteAllIdentifiers)
	if t.Schema == "" {
		return QuoteIdentifier(t.Name, quoteAll), nil
	}
	return QuoteIdentifier(t.Schema, quoteAll) + "." + QuoteIdentifier(t.Name, quoteAll), nil
}

// FormatSignature renders name(type1, type2, ...) with every identifier
// quoted. quote_all_identifiers is switched on while formatting and put back
// afterwards on every exit path.
func FormatSignature(ctx context.Context, s *settings.Settings, name string, argTypes []OID, f TypeFormatter) (string, error) {
	restore := s.Override(settings.QuoteAllIdentifiers, "on")
	defer restore()

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('(')
	for i, id := range argTypes {
		if i > 0 {
			b.WriteString(", ")
		}
		typ, err := f.FormatTypeQualified(ctx, id)
		if err != nil {
			return "", err
		}
		b.WriteString(typ)
	}
	b.WriteByte(')')
	return b.String(), nil
}

// FunctionSignature looks up a routine and formats its signature.
func FunctionSignature(ctx context.Context, c Catalog, s *settings.Settings, id OID) (string, error) {
	r, err := c.Routine(ctx, id)
	if err != nil {
		return "", err
	}
	if r == nil {
		return "", errors.Internal(errors.ErrCodeCacheLookupFailure,
			fmt.Sprintf("cache lookup failed for function %d", id)).
			WithOp("callsig.FunctionSignature").
			Err()
	}
	return FormatSignature(ctx, s, r.Name, r.ArgTypes, CatalogTypeFormatter{Catalog: c, Settings: s})
}
