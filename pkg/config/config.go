// Package config loads the tsqlcompat TOML configuration.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/ha1tch/tsqlcompat/pkg/callsig"
	"github.com/ha1tch/tsqlcompat/pkg/errors"
	"github.com/ha1tch/tsqlcompat/pkg/log"
)

// Storage backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// LogConfiguration controls logging.
type LogConfiguration struct {
	Level      string            `toml:"level"`
	Format     string            `toml:"format"`
	Categories map[string]string `toml:"categories"`
}

// StorageConfiguration selects the engine sessions run on.
type StorageConfiguration struct {
	Backend     string `toml:"backend"`
	Path        string `toml:"path"`
	DSN         string `toml:"dsn"`
	JournalMode string `toml:"journal_mode"`
	BusyTimeout int    `toml:"busy_timeout_ms"`
}

// SessionConfiguration holds per-session defaults.
type SessionConfiguration struct {
	DatabaseID         uint32 `toml:"database_id"`
	LogicalDatabase    int16  `toml:"logical_database"`
	SearchPath         string `toml:"search_path"`
	SignatureCacheSize int    `toml:"signature_cache_size"`
}

// MetastoreConfiguration locates the persistent typmod store. An empty path
// keeps typmods in memory.
type MetastoreConfiguration struct {
	Path        string `toml:"path"`
	CacheSizeMB int64  `toml:"cache_size_mb"`
	Sync        bool   `toml:"sync"`
}

// MetricsConfiguration controls the Prometheus endpoint. An empty listen
// address disables it.
type MetricsConfiguration struct {
	Listen        string `toml:"listen"`
	TLSCert       string `toml:"tls_cert"`
	TLSKey        string `toml:"tls_key"`
	TLSSelfSigned bool   `toml:"tls_self_signed"`
}

// RoutineConfiguration declares a routine for backends without a routine
// catalog of their own. Types are T-SQL type names such as "int" or
// "varchar(50)"; a function's declared modifiers are kept as its typmods.
type RoutineConfiguration struct {
	Name    string   `toml:"name"`
	Schema  string   `toml:"schema"`
	Kind    string   `toml:"kind"` // function or procedure
	Args    []string `toml:"args"`
	Returns string   `toml:"returns"`
}

// Routine converts the declaration to a catalog routine and its typmod
// array: one typmod per argument followed by the return typmod.
func (r RoutineConfiguration) Routine() (callsig.Routine, []int32, error) {
	routine := callsig.Routine{Name: r.Name, Schema: r.Schema}
	if routine.Schema == "" {
		routine.Schema = "dbo"
	}

	switch strings.ToLower(r.Kind) {
	case "", "function":
		routine.Kind = callsig.KindFunction
	case "procedure":
		routine.Kind = callsig.KindProcedure
	default:
		return callsig.Routine{}, nil, fmt.Errorf("unknown kind %q", r.Kind)
	}

	typmods := make([]int32, 0, len(r.Args)+1)
	for _, arg := range r.Args {
		typ, typmod, err := callsig.ParseTypeName(arg)
		if err != nil {
			return callsig.Routine{}, nil, err
		}
		routine.ArgTypes = append(routine.ArgTypes, typ)
		typmods = append(typmods, typmod)
	}

	switch {
	case routine.Kind == callsig.KindProcedure:
		if r.Returns != "" {
			return callsig.Routine{}, nil, fmt.Errorf("procedure %s cannot declare a return type", r.Name)
		}
		routine.ReturnType = callsig.OIDInt4
		typmods = append(typmods, -1)
	case r.Returns == "":
		return callsig.Routine{}, nil, fmt.Errorf("function %s needs a return type", r.Name)
	default:
		typ, typmod, err := callsig.ParseTypeName(r.Returns)
		if err != nil {
			return callsig.Routine{}, nil, err
		}
		routine.ReturnType = typ
		typmods = append(typmods, typmod)
	}
	return routine, typmods, nil
}

// Configuration is the whole file.
type Configuration struct {
	Log       LogConfiguration       `toml:"log"`
	Storage   StorageConfiguration   `toml:"storage"`
	Session   SessionConfiguration   `toml:"session"`
	Metastore MetastoreConfiguration `toml:"metastore"`
	Metrics   MetricsConfiguration   `toml:"metrics"`
	Routines  []RoutineConfiguration `toml:"routine"`
}

// Default returns the built-in configuration.
func Default() *Configuration {
	return &Configuration{
		Log: LogConfiguration{Level: "info", Format: "text"},
		Storage: StorageConfiguration{
			Backend:     BackendSQLite,
			Path:        ":memory:",
			BusyTimeout: 5000,
		},
		Session: SessionConfiguration{
			DatabaseID:         1,
			LogicalDatabase:    1,
			SearchPath:         "dbo, sys, pg_catalog",
			SignatureCacheSize: 256,
		},
		Metastore: MetastoreConfiguration{CacheSizeMB: 8, Sync: true},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Configuration, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigParse, "failed to decode config").
			WithOp("config.Load").
			WithField("path", path).
			Err()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes configuration text over the defaults.
func Parse(text string) (*Configuration, error) {
	cfg := Default()
	if _, err := toml.Decode(text, cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigParse, "failed to decode config").
			WithOp("config.Parse").
			Err()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that cannot be fixed up later.
func (c *Configuration) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return errors.Newf(errors.ErrCodeConfigInvalid, format, args...).WithOp("config.Validate").Err()
	}

	switch strings.ToLower(c.Storage.Backend) {
	case BackendSQLite:
	case BackendPostgres:
		if c.Storage.DSN == "" {
			return invalid("storage.dsn is required for the postgres backend")
		}
	default:
		return invalid("unknown storage backend %q", c.Storage.Backend)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return invalid("%v", err)
	}
	if _, err := log.ParseFormat(c.Log.Format); err != nil {
		return invalid("%v", err)
	}
	for cat, level := range c.Log.Categories {
		if _, err := log.ParseLevel(level); err != nil {
			return invalid("log.categories.%s: %v", cat, err)
		}
	}
	if c.Session.SignatureCacheSize < 0 {
		return invalid("session.signature_cache_size must not be negative")
	}
	if len(c.Routines) > 0 && strings.EqualFold(c.Storage.Backend, BackendPostgres) {
		return invalid("routine declarations are only used by the sqlite backend; postgres reads its own catalog")
	}
	for i, r := range c.Routines {
		if r.Name == "" {
			return invalid("routine[%d]: name is required", i)
		}
		if _, _, err := r.Routine(); err != nil {
			return invalid("routine %s: %v", r.Name, err)
		}
	}
	return nil
}

// Logger builds a logger from the log section.
func (c *Configuration) Logger() *log.Logger {
	cfg := log.DefaultConfig()
	cfg.DefaultLevel, _ = log.ParseLevel(c.Log.Level)
	cfg.Format, _ = log.ParseFormat(c.Log.Format)
	l := log.New(cfg)
	c.ApplyLogLevels(l)
	return l
}

// ApplyLogLevels sets l's levels from the log section.
func (c *Configuration) ApplyLogLevels(l *log.Logger) {
	level, _ := log.ParseLevel(c.Log.Level)
	l.SetAllLevels(level)
	for cat, lv := range c.Log.Categories {
		if parsed, err := log.ParseLevel(lv); err == nil {
			l.SetLevel(log.Category(strings.ToLower(cat)), parsed)
		}
	}
	if f, err := log.ParseFormat(c.Log.Format); err == nil {
		l.SetFormat(f)
	}
}
