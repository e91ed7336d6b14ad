// Package errors provides structured error handling for tsqlcompat.
//
// Errors carry a numeric code, a severity, optional context fields and an
// optional cause. Each code also maps to the T-SQL error number, severity
// class and SQLSTATE a client sees. Codes are grouped by the layer that
// raises them:
//   - 1xxx: Configuration errors
//   - 3xxx: Routine resolution errors (user-visible feature limitations)
//   - 4xxx: Session usage errors (user-visible, never retried)
//   - 5xxx: Backend errors (engine primitives, lock manager, metadata store)
//   - 9xxx: Internal contract violations
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Code is a numeric error code for programmatic handling.
type Code int

const (
	// Configuration errors (1xxx)
	ErrCodeConfigInvalid Code = 1001
	ErrCodeConfigParse   Code = 1003

	// Routine resolution errors (3xxx)
	ErrCodeAmbiguousRoutine        Code = 3101
	ErrCodeUnsupportedRoutineShape Code = 3102

	// Session usage errors (4xxx)
	ErrCodeUsage            Code = 4101
	ErrCodeNoTransaction    Code = 4102
	ErrCodeTooManyArguments Code = 4103
	ErrCodeSyntax           Code = 4104

	// Backend errors (5xxx)
	ErrCodeLockBackend Code = 5101
	ErrCodeEngine      Code = 5102
	ErrCodeMetaStore   Code = 5103
	ErrCodeCatalog     Code = 5104

	// Internal errors (9xxx)
	ErrCodeInternal           Code = 9001
	ErrCodeTemplateMismatch   Code = 9101
	ErrCodeTemplateConsumed   Code = 9102
	ErrCodeCacheLookupFailure Code = 9103
)

// T-SQL error numbers used when a statement needs a more specific number
// than its code's default.
const (
	NumberCommitWithoutBegin   int32 = 3902
	NumberRollbackWithoutBegin int32 = 3903
	NumberSaveWithoutBegin     int32 = 628
)

// clientInfo is what a client sees for a code.
type clientInfo struct {
	number   int32 // T-SQL error number
	class    int32 // T-SQL severity class
	sqlstate string
}

var clientInfos = map[Code]clientInfo{
	ErrCodeAmbiguousRoutine:        {2812, 16, "42725"},
	ErrCodeUnsupportedRoutineShape: {40517, 16, "0A000"},
	ErrCodeUsage:                   {40517, 16, "0A000"},
	ErrCodeNoTransaction:           {NumberCommitWithoutBegin, 16, "25P01"},
	ErrCodeTooManyArguments:        {8144, 16, "54023"},
	ErrCodeSyntax:                  {102, 15, "42601"},
	ErrCodeLockBackend:             {1222, 16, "55P03"},
}

// Codes without a T-SQL counterpart report an internal processor error. The
// number stays below the range reserved for user-raised errors.
var defaultClientInfo = clientInfo{8630, 16, "XX000"}

// String returns the error code as a string.
func (c Code) String() string {
	return fmt.Sprintf("E%04d", c)
}

// Category returns the category for this code.
func (c Code) Category() string {
	switch {
	case c >= 1000 && c < 2000:
		return "configuration"
	case c >= 3000 && c < 4000:
		return "routine"
	case c >= 4000 && c < 5000:
		return "usage"
	case c >= 5000 && c < 6000:
		return "backend"
	case c >= 9000:
		return "internal"
	default:
		return "unknown"
	}
}

// SQLState returns the five-character SQLSTATE for the code.
func (c Code) SQLState() string {
	if info, ok := clientInfos[c]; ok {
		return info.sqlstate
	}
	return defaultClientInfo.sqlstate
}

// Severity indicates error severity.
type Severity int

const (
	SeverityWarning  Severity = iota // Recoverable, operation may continue
	SeverityError                    // Statement aborted, session is healthy
	SeverityCritical                 // Logic defect detected
	SeverityFatal                    // Session cannot continue
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is a structured error with code, context, and optional cause.
type Error struct {
	Code     Code
	Message  string
	Severity Severity

	// Number overrides the code's T-SQL error number when non-zero.
	Number int32

	Fields map[string]interface{}
	Cause  error

	Stack  []Frame
	OpName string // e.g. "txn.Commit", "template.UpdateGrant"
}

// Frame represents a stack frame.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface.
func (e *Error) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Code.String())
	buf.WriteString(": ")
	buf.WriteString(e.Message)
	if e.Cause != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Cause.Error())
	}
	return buf.String()
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrorNumber returns the T-SQL error number reported to the client.
func (e *Error) ErrorNumber() int32 {
	if e.Number != 0 {
		return e.Number
	}
	if info, ok := clientInfos[e.Code]; ok {
		return info.number
	}
	return defaultClientInfo.number
}

// Class returns the T-SQL severity class. Critical and fatal errors report
// class 20, which terminates the client's batch.
func (e *Error) Class() int32 {
	if e.Severity >= SeverityCritical {
		return 20
	}
	if info, ok := clientInfos[e.Code]; ok {
		return info.class
	}
	return defaultClientInfo.class
}

// Format implements fmt.Formatter; %+v prints context and stack.
func (e *Error) Format(f fmt.State, verb rune) {
	switch verb {
	case 'v':
		if f.Flag('+') {
			fmt.Fprintf(f, "Msg %d, Level %d, SQLSTATE %s [%s] %s\n",
				e.ErrorNumber(), e.Class(), e.Code.SQLState(), e.Severity, e.Error())
			if e.OpName != "" {
				fmt.Fprintf(f, "  Operation: %s\n", e.OpName)
			}
			for k, v := range e.Fields {
				fmt.Fprintf(f, "  %s: %v\n", k, v)
			}
			for _, frame := range e.Stack {
				fmt.Fprintf(f, "    %s\n      %s:%d\n", frame.Function, frame.File, frame.Line)
			}
			return
		}
		fallthrough
	case 's':
		fmt.Fprint(f, e.Error())
	case 'q':
		fmt.Fprintf(f, "%q", e.Error())
	}
}

// Builder helps construct errors fluently.
type Builder struct {
	err   Error
	stack bool
}

// New starts building a new error with the given code.
func New(code Code, message string) *Builder {
	return &Builder{err: Error{Code: code, Message: message, Severity: SeverityError}}
}

// Newf starts building a new error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Builder {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with a code and message.
func Wrap(cause error, code Code, message string) *Builder {
	b := New(code, message)
	b.err.Cause = cause
	return b
}

// Critical sets severity to critical.
func (b *Builder) Critical() *Builder {
	b.err.Severity = SeverityCritical
	return b
}

// WithNumber sets the T-SQL error number.
func (b *Builder) WithNumber(n int32) *Builder {
	b.err.Number = n
	return b
}

// WithField adds a context field.
func (b *Builder) WithField(key string, value interface{}) *Builder {
	if b.err.Fields == nil {
		b.err.Fields = make(map[string]interface{})
	}
	b.err.Fields[key] = value
	return b
}

// WithOp sets the operation name.
func (b *Builder) WithOp(op string) *Builder {
	b.err.OpName = op
	return b
}

// WithStack captures a stack trace at Build time.
func (b *Builder) WithStack() *Builder {
	b.stack = true
	return b
}

// Build creates the Error.
func (b *Builder) Build() *Error {
	e := b.err
	if b.stack {
		e.Stack = captureStack(2)
	}
	return &e
}

// Err is a shorthand for Build() that returns the error interface.
func (b *Builder) Err() error {
	return b.Build()
}

func captureStack(skip int) []Frame {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)

	var frames []Frame
	callers := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := callers.Next()
		if !strings.HasPrefix(frame.Function, "runtime.") {
			frames = append(frames, Frame{Function: frame.Function, File: frame.File, Line: frame.Line})
		}
		if !more || len(frames) >= 10 {
			return frames
		}
	}
}

// Usage creates a user-visible usage error.
func Usage(format string, args ...interface{}) *Builder {
	return Newf(ErrCodeUsage, format, args...)
}

// Internal creates an internal contract-violation error.
func Internal(code Code, msg string) *Builder {
	return New(code, msg).Critical().WithStack()
}

// GetCode extracts the error code from an error, or returns ErrCodeInternal.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	return err != nil && GetCode(err) == code
}

// IsSevere checks if an error is critical or fatal.
func IsSevere(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Severity >= SeverityCritical
}

// ClientError describes err the way the client protocol reports it. Errors
// from outside this package are reported as internal errors with the message
// of err itself.
func ClientError(err error) (number, class int32, sqlstate, message string) {
	var e *Error
	if errors.As(err, &e) {
		return e.ErrorNumber(), e.Class(), e.Code.SQLState(), e.Message
	}
	return defaultClientInfo.number, defaultClientInfo.class, defaultClientInfo.sqlstate, err.Error()
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
