// Package log provides structured logging for tsqlcompat.
//
// Entries are grouped by category so that noisy subsystems can be tuned
// independently:
//   - System: process lifecycle, configuration reloads
//   - Transaction: nested transaction state changes and @@TRANCOUNT
//   - Lock: logical-database session lock acquisition and release
//   - Catalog: routine resolution and metadata lookups
//   - Execution: statement dispatch and call construction
//   - Audit: administrative statements rendered from templates
package log

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Level represents a logging severity level.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelOff
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelOff:
		return "OFF"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a level string.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, nil
	case "INFO", "":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR", "ERR":
		return LevelError, nil
	case "OFF", "NONE":
		return LevelOff, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s", s)
	}
}

// Category identifies the logging category.
type Category string

const (
	CategorySystem      Category = "system"
	CategoryTransaction Category = "transaction"
	CategoryLock        Category = "lock"
	CategoryCatalog     Category = "catalog"
	CategoryExecution   Category = "execution"
	CategoryAudit       Category = "audit"
)

var allCategories = []Category{
	CategorySystem,
	CategoryTransaction,
	CategoryLock,
	CategoryCatalog,
	CategoryExecution,
	CategoryAudit,
}

// Format specifies the output format.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// ParseFormat parses "text" or "json".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatText, fmt.Errorf("unknown log format: %s", s)
	}
}

// Entry represents a single log entry.
type Entry struct {
	Time      time.Time              `json:"time"`
	Level     string                 `json:"level"`
	Category  Category               `json:"category"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Caller    string                 `json:"caller,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
}

// Config holds logger configuration.
type Config struct {
	DefaultLevel   Level
	CategoryLevels map[Category]Level

	Output io.Writer // os.Stderr if nil
	Format Format

	IncludeCaller bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		DefaultLevel: LevelInfo,
		Output:       os.Stderr,
		Format:       FormatText,
	}
}

// Logger is a categorised structured logger. It is safe for concurrent use.
type Logger struct {
	mu sync.RWMutex

	levels map[Category]Level
	out    io.Writer
	format Format
	caller bool

	writeMu sync.Mutex
	written int64
}

// New creates a new logger with the given configuration.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	l := &Logger{
		levels: make(map[Category]Level, len(allCategories)),
		out:    cfg.Output,
		format: cfg.Format,
		caller: cfg.IncludeCaller,
	}
	for _, cat := range allCategories {
		l.levels[cat] = cfg.DefaultLevel
	}
	for cat, level := range cfg.CategoryLevels {
		l.levels[cat] = level
	}
	return l
}

// SetLevel sets the log level for one category.
func (l *Logger) SetLevel(cat Category, level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.levels[cat] = level
}

// SetAllLevels sets the same level on every category.
func (l *Logger) SetAllLevels(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for cat := range l.levels {
		l.levels[cat] = level
	}
}

// Level reports the level configured for a category.
func (l *Logger) Level(cat Category) Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.levels[cat]
}

// SetFormat sets the output format.
func (l *Logger) SetFormat(f Format) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.format = f
}

// Written returns the number of entries written so far.
func (l *Logger) Written() int64 {
	return atomic.LoadInt64(&l.written)
}

// System returns a category logger for system events.
func (l *Logger) System() *CategoryLogger { return l.For(CategorySystem) }

// Transaction returns a category logger for transaction events.
func (l *Logger) Transaction() *CategoryLogger { return l.For(CategoryTransaction) }

// Lock returns a category logger for lock events.
func (l *Logger) Lock() *CategoryLogger { return l.For(CategoryLock) }

// Catalog returns a category logger for catalog events.
func (l *Logger) Catalog() *CategoryLogger { return l.For(CategoryCatalog) }

// Execution returns a category logger for execution events.
func (l *Logger) Execution() *CategoryLogger { return l.For(CategoryExecution) }

// Audit returns a category logger for audit events.
func (l *Logger) Audit() *CategoryLogger { return l.For(CategoryAudit) }

// For returns a logger bound to cat.
func (l *Logger) For(cat Category) *CategoryLogger {
	return &CategoryLogger{logger: l, category: cat}
}

func (l *Logger) log(level Level, cat Category, msg string, err error, fields []interface{}) {
	l.mu.RLock()
	enabled := level >= l.levels[cat] && level != LevelOff
	format := l.format
	includeCaller := l.caller
	l.mu.RUnlock()

	if !enabled {
		return
	}

	entry := &Entry{
		Time:     time.Now(),
		Level:    level.String(),
		Category: cat,
		Message:  msg,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if len(fields) > 0 {
		entry.Fields = make(map[string]interface{}, len(fields)/2)
		for i := 0; i+1 < len(fields); i += 2 {
			key, ok := fields[i].(string)
			if !ok {
				continue
			}
			if key == "session_id" {
				entry.SessionID = fmt.Sprint(fields[i+1])
				continue
			}
			entry.Fields[key] = fields[i+1]
		}
	}
	if includeCaller {
		if _, file, line, ok := runtime.Caller(3); ok {
			if idx := strings.LastIndex(file, "/"); idx >= 0 {
				file = file[idx+1:]
			}
			entry.Caller = fmt.Sprintf("%s:%d", file, line)
		}
	}

	var line []byte
	if format == FormatJSON {
		data, _ := json.Marshal(entry)
		line = append(data, '\n')
	} else {
		line = []byte(formatText(entry))
	}

	l.writeMu.Lock()
	l.out.Write(line)
	l.writeMu.Unlock()
	atomic.AddInt64(&l.written, 1)
}

func formatText(entry *Entry) string {
	var buf strings.Builder

	buf.WriteString(entry.Time.Format("2006-01-02 15:04:05.000"))
	buf.WriteString(fmt.Sprintf(" %-5s [%s] ", entry.Level, entry.Category))
	if entry.Caller != "" {
		buf.WriteString(entry.Caller)
		buf.WriteString(" ")
	}
	if entry.SessionID != "" {
		buf.WriteString("session=")
		buf.WriteString(entry.SessionID)
		buf.WriteString(" ")
	}
	buf.WriteString(entry.Message)
	if entry.Error != "" {
		buf.WriteString(" error=\"")
		buf.WriteString(entry.Error)
		buf.WriteString("\"")
	}

	// Stable field order keeps text output diffable.
	keys := make([]string, 0, len(entry.Fields))
	for k := range entry.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		buf.WriteString(fmt.Sprintf(" %s=%v", k, entry.Fields[k]))
	}

	buf.WriteString("\n")
	return buf.String()
}

// CategoryLogger is a logger bound to a specific category.
type CategoryLogger struct {
	logger   *Logger
	category Category
	fields   []interface{}
}

func (cl *CategoryLogger) Debug(msg string, fields ...interface{}) {
	cl.logger.log(LevelDebug, cl.category, msg, nil, cl.merge(fields))
}

func (cl *CategoryLogger) Info(msg string, fields ...interface{}) {
	cl.logger.log(LevelInfo, cl.category, msg, nil, cl.merge(fields))
}

func (cl *CategoryLogger) Warn(msg string, fields ...interface{}) {
	cl.logger.log(LevelWarn, cl.category, msg, nil, cl.merge(fields))
}

func (cl *CategoryLogger) Error(msg string, err error, fields ...interface{}) {
	cl.logger.log(LevelError, cl.category, msg, err, cl.merge(fields))
}

// WithFields returns a copy of the category logger with preset fields.
func (cl *CategoryLogger) WithFields(fields ...interface{}) *CategoryLogger {
	return &CategoryLogger{
		logger:   cl.logger,
		category: cl.category,
		fields:   cl.merge(fields),
	}
}

func (cl *CategoryLogger) merge(extra []interface{}) []interface{} {
	if len(cl.fields) == 0 {
		return extra
	}
	out := make([]interface{}, 0, len(cl.fields)+len(extra))
	out = append(out, cl.fields...)
	return append(out, extra...)
}

var (
	defaultMu     sync.RWMutex
	defaultLogger *Logger
)

// Default returns the process-wide default logger.
func Default() *Logger {
	defaultMu.RLock()
	l := defaultLogger
	defaultMu.RUnlock()
	if l != nil {
		return l
	}

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New(DefaultConfig())
	}
	return defaultLogger
}

// SetDefault replaces the default logger.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// Discard returns a logger that writes nothing.
func Discard() *Logger {
	return New(Config{DefaultLevel: LevelOff, Output: io.Discard})
}
