// Package callsig determines the result shape of a procedure or function
// call from its text, before the call is executed.
package callsig

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ha1tch/tsqlparser"
	"github.com/ha1tch/tsqlparser/ast"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ha1tch/tsqlcompat/pkg/errors"
	"github.com/ha1tch/tsqlcompat/pkg/log"
	"github.com/ha1tch/tsqlcompat/pkg/telemetry"
)

// Signature is the resolved result shape of a call.
type Signature struct {
	IsProcedure bool
	TypeID      OID
	Typmod      int32
	Collation   int32
}

// ProcedureSignature is the shape of every procedure call: an integer status
// code without typmod or collation.
var ProcedureSignature = Signature{
	IsProcedure: true,
	TypeID:      OIDInt4,
	Typmod:      -1,
	Collation:   -1,
}

// Resolver resolves call text against a catalog.
type Resolver struct {
	catalog    Catalog
	typmods    TypmodStore
	cache      *lru.Cache[string, Signature]
	searchPath func() []string
	logger     *log.CategoryLogger

	mu      sync.Mutex
	applied string
	synced  bool
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCache keeps up to size resolved signatures. Callers must Invalidate
// after DDL that creates, drops or replaces routines.
func WithCache(size int) Option {
	return func(r *Resolver) {
		if size > 0 {
			r.cache, _ = lru.New[string, Signature](size)
		}
	}
}

// WithSearchPath supplies the session's search path. It becomes part of the
// cache key and, for a catalog implementing SearchPathSetter, is pushed to
// the catalog whenever it changes.
func WithSearchPath(fn func() []string) Option {
	return func(r *Resolver) {
		r.searchPath = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Resolver) {
		r.logger = l.Catalog()
	}
}

// NewResolver creates a resolver. typmods may be nil, in which case function
// return typmods are reported as -1.
func NewResolver(catalog Catalog, typmods TypmodStore, opts ...Option) *Resolver {
	r := &Resolver{
		catalog:    catalog,
		typmods:    typmods,
		logger:     log.Default().Catalog(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Invalidate drops every cached signature.
func (r *Resolver) Invalidate() {
	if r.cache != nil {
		r.cache.Purge()
	}
}

// Resolve determines the result shape of the call written in callText, for
// example "dbo.get_total @id = 1".
//
// A name that matches no catalogued routine is presumed to be a system
// procedure, some of which are deliberately not catalogued, and resolves to
// ProcedureSignature; executing it will fail later if it does not exist.
func (r *Resolver) Resolve(ctx context.Context, callText string) (Signature, error) {
	name, err := ParseCallTarget(callText)
	if err != nil {
		telemetry.SignatureResolutionsTotal.With("syntax_error").Inc()
		return Signature{}, err
	}

	var path []string
	if r.searchPath != nil {
		path = r.searchPath()
	}
	joined := strings.Join(path, ",")
	key := joined + "\x00" + name.String()
	if r.cache != nil {
		if sig, ok := r.cache.Get(key); ok {
			telemetry.SignatureResolutionsTotal.With("cached").Inc()
			return sig, nil
		}
	}

	if err := r.applySearchPath(ctx, path, joined); err != nil {
		telemetry.SignatureResolutionsTotal.With("error").Inc()
		return Signature{}, err
	}
	sig, err := r.resolve(ctx, name)
	if err != nil {
		telemetry.SignatureResolutionsTotal.With("error").Inc()
		r.logger.Debug("call signature not resolved", "target", name, "error", err)
		return Signature{}, err
	}

	if r.cache != nil {
		r.cache.Add(key, sig)
	}
	telemetry.SignatureResolutionsTotal.With("resolved").Inc()
	r.logger.Debug("call signature resolved", "target", name,
		"procedure", sig.IsProcedure, "type", sig.TypeID, "typmod", sig.Typmod)
	return sig, nil
}

// ApplySearchPath pushes the current search path to the catalog. Resolve
// does this on its own before each catalog lookup; calling it directly
// binds the catalog right away, for example when the session starts.
func (r *Resolver) ApplySearchPath(ctx context.Context) error {
	if r.searchPath == nil {
		return nil
	}
	path := r.searchPath()
	return r.applySearchPath(ctx, path, strings.Join(path, ","))
}

func (r *Resolver) applySearchPath(ctx context.Context, path []string, joined string) error {
	setter, ok := r.catalog.(SearchPathSetter)
	if !ok || r.searchPath == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.synced && r.applied == joined {
		return nil
	}
	if err := setter.SetSearchPath(ctx, path); err != nil {
		return catalogErr(err, "failed to set search path")
	}
	r.applied, r.synced = joined, true
	r.logger.Debug("catalog search path set", "search_path", joined)
	return nil
}

func (r *Resolver) resolve(ctx context.Context, name QualifiedName) (Signature, error) {
	ids, err := r.catalog.FindRoutines(ctx, name)
	if err != nil {
		return Signature{}, catalogErr(err, "routine lookup failed")
	}

	switch len(ids) {
	case 0:
		return ProcedureSignature, nil
	case 1:
	default:
		return Signature{}, errors.Newf(errors.ErrCodeAmbiguousRoutine,
			"more than one function named %q", name.String()).
			WithOp("callsig.Resolve").
			WithField("candidates", len(ids)).
			Err()
	}

	routine, err := r.catalog.Routine(ctx, ids[0])
	if err != nil {
		return Signature{}, catalogErr(err, "routine lookup failed")
	}
	if routine == nil {
		return Signature{}, errors.Internal(errors.ErrCodeCacheLookupFailure,
			fmt.Sprintf("cache lookup failed for function %d", ids[0])).
			WithOp("callsig.Resolve").
			Err()
	}

	if routine.Kind == KindProcedure {
		return ProcedureSignature, nil
	}

	if routine.ReturnsSet {
		return Signature{}, unsupported(routine, "a SET-returning function")
	}
	if routine.ReturnType == OIDRecord || routine.ReturnType == OIDVoid {
		return Signature{}, unsupported(routine, "not a scalar-valued function")
	}

	retType, err := r.catalog.Type(ctx, routine.ReturnType)
	if err != nil {
		return Signature{}, catalogErr(err, "type lookup failed")
	}
	if retType == nil {
		return Signature{}, errors.Internal(errors.ErrCodeCacheLookupFailure,
			fmt.Sprintf("cache lookup failed for type %d", routine.ReturnType)).
			WithOp("callsig.Resolve").
			Err()
	}

	typmod := int32(-1)
	if r.typmods != nil {
		typmod, err = r.typmods.ReturnTypmod(ctx, routine.ID, routine.NArgs(), routine.ReturnType)
		if err != nil {
			return Signature{}, err
		}
	}

	return Signature{
		IsProcedure: false,
		TypeID:      routine.ReturnType,
		Typmod:      typmod,
		Collation:   retType.Collation,
	}, nil
}

// ParseCallTarget extracts the routine name from call text by parsing it as
// the body of an EXECUTE statement.
func ParseCallTarget(callText string) (QualifiedName, error) {
	program, errs := tsqlparser.Parse("EXECUTE " + callText)
	if len(errs) > 0 {
		return QualifiedName{}, errors.Newf(errors.ErrCodeSyntax, "invalid call text: %s", errs[0]).
			WithOp("callsig.ParseCallTarget").
			Err()
	}
	if program == nil || len(program.Statements) != 1 {
		return QualifiedName{}, syntaxErr("call text must name exactly one routine")
	}
	exec, ok := program.Statements[0].(*ast.ExecStatement)
	if !ok || exec.Procedure == nil || len(exec.Procedure.Parts) == 0 {
		return QualifiedName{}, syntaxErr("call text must name a routine")
	}

	parts := make([]string, 0, len(exec.Procedure.Parts))
	for _, p := range exec.Procedure.Parts {
		parts = append(parts, normalizeIdent(p.Value))
	}

	var name QualifiedName
	switch len(parts) {
	case 1:
		name.Name = parts[0]
	case 2:
		name.Schema, name.Name = parts[0], parts[1]
	case 3:
		name.Database, name.Schema, name.Name = parts[0], parts[1], parts[2]
	default:
		return QualifiedName{}, syntaxErr("improper qualified name (too many dotted names)")
	}
	if name.Name == "" {
		return QualifiedName{}, syntaxErr("call text must name a routine")
	}
	return name, nil
}

// normalizeIdent strips bracket or double-quote delimiters and folds case;
// routine names are case-insensitive.
func normalizeIdent(s string) string {
	if n := len(s); n >= 2 {
		if (s[0] == '[' && s[n-1] == ']') || (s[0] == '"' && s[n-1] == '"') {
			s = s[1 : n-1]
		}
	}
	return strings.ToLower(s)
}

func unsupported(routine *Routine, why string) error {
	return errors.Newf(errors.ErrCodeUnsupportedRoutineShape,
		"The request for procedure %q failed because %q is %s", routine.Name, routine.Name, why).
		WithOp("callsig.Resolve").
		Err()
}

func syntaxErr(msg string) error {
	return errors.New(errors.ErrCodeSyntax, msg).WithOp("callsig.ParseCallTarget").Err()
}

func catalogErr(err error, msg string) error {
	if errors.GetCode(err) != errors.ErrCodeInternal {
		return err
	}
	return errors.Wrap(err, errors.ErrCodeCatalog, msg).WithOp("callsig.Resolve").Err()
}
