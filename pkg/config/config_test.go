package config

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/ha1tch/tsqlcompat/pkg/callsig"
	"github.com/ha1tch/tsqlcompat/pkg/errors"
	"github.com/ha1tch/tsqlcompat/pkg/log"
)

func TestParse(t *testing.T) {
	cfg, err := Parse(`
[log]
level = "debug"
format = "json"

[log.categories]
lock = "warn"

[storage]
backend = "postgres"
dsn = "postgres://localhost/db"

[session]
database_id = 7
search_path = "app, dbo"
signature_cache_size = 32

[metastore]
path = "/var/lib/tsqlcompat/meta"

[metrics]
listen = ":9102"
tls_self_signed = true
`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Storage.Backend != BackendPostgres || cfg.Storage.DSN == "" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Session.DatabaseID != 7 || cfg.Session.SearchPath != "app, dbo" || cfg.Session.SignatureCacheSize != 32 {
		t.Fatalf("session = %+v", cfg.Session)
	}
	if cfg.Session.LogicalDatabase != 1 {
		t.Fatalf("unset field lost its default: %+v", cfg.Session)
	}
	if cfg.Metrics.Listen != ":9102" || !cfg.Metrics.TLSSelfSigned || cfg.Metastore.Path == "" || !cfg.Metastore.Sync {
		t.Fatalf("metrics/metastore = %+v %+v", cfg.Metrics, cfg.Metastore)
	}

	l := cfg.Logger()
	if l.Level(log.CategorySystem) != log.LevelDebug || l.Level(log.CategoryLock) != log.LevelWarn {
		t.Fatalf("levels = %s/%s", l.Level(log.CategorySystem), l.Level(log.CategoryLock))
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		text string
		code errors.Code
	}{
		{"syntax", "[log\nlevel=", errors.ErrCodeConfigParse},
		{"backend", "[storage]\nbackend = \"oracle\"", errors.ErrCodeConfigInvalid},
		{"postgres without dsn", "[storage]\nbackend = \"postgres\"", errors.ErrCodeConfigInvalid},
		{"level", "[log]\nlevel = \"loud\"", errors.ErrCodeConfigInvalid},
		{"category level", "[log.categories]\nlock = \"loud\"", errors.ErrCodeConfigInvalid},
		{"cache size", "[session]\nsignature_cache_size = -1", errors.ErrCodeConfigInvalid},
		{"routine without name", "[[routine]]\nreturns = \"int\"", errors.ErrCodeConfigInvalid},
		{"function without return", "[[routine]]\nname = \"f\"", errors.ErrCodeConfigInvalid},
		{"procedure with return", "[[routine]]\nname = \"p\"\nkind = \"procedure\"\nreturns = \"int\"", errors.ErrCodeConfigInvalid},
		{"routine on postgres", "[storage]\nbackend = \"postgres\"\ndsn = \"postgres://localhost/db\"\n[[routine]]\nname = \"f\"\nreturns = \"int\"", errors.ErrCodeConfigInvalid},
		{"routine kind", "[[routine]]\nname = \"f\"\nkind = \"trigger\"\nreturns = \"int\"", errors.ErrCodeConfigInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.text); !errors.IsCode(err, tt.code) {
				t.Fatalf("error = %v, want %s", err, tt.code)
			}
		})
	}
}

func TestParse_Routines(t *testing.T) {
	cfg, err := Parse(`
[[routine]]
name = "customer_name"
args = ["int"]
returns = "varchar(50)"

[[routine]]
name = "update_totals"
schema = "sales"
kind = "procedure"
args = ["int", "decimal(10, 2)"]
`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cfg.Routines) != 2 {
		t.Fatalf("routines = %+v", cfg.Routines)
	}

	fn, typmods, err := cfg.Routines[0].Routine()
	if err != nil {
		t.Fatalf("Routine: %v", err)
	}
	if fn.Kind != callsig.KindFunction || fn.Schema != "dbo" || fn.ReturnType != callsig.OIDVarchar {
		t.Fatalf("function = %+v", fn)
	}
	if !slices.Equal(typmods, []int32{-1, 54}) {
		t.Fatalf("function typmods = %v", typmods)
	}

	proc, typmods, err := cfg.Routines[1].Routine()
	if err != nil {
		t.Fatalf("Routine: %v", err)
	}
	if proc.Kind != callsig.KindProcedure || proc.Schema != "sales" || proc.NArgs() != 2 {
		t.Fatalf("procedure = %+v", proc)
	}
	if !slices.Equal(typmods, []int32{-1, 10<<16 | 2 + 4, -1}) {
		t.Fatalf("procedure typmods = %v", typmods)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Backend != BackendSQLite {
		t.Fatalf("backend = %q, want default", cfg.Storage.Backend)
	}
}

func TestWatcher_ReloadsLogLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tsqlcompat.toml")
	if err := os.WriteFile(path, []byte("[log]\nlevel = \"info\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	logger := log.Discard()
	reloaded := make(chan *Configuration, 4)
	w, err := NewWatcher(path, logger,
		WithDebounceDelay(20*time.Millisecond),
		WithOnReload(func(cfg *Configuration) {
			cfg.ApplyLogLevels(logger)
			reloaded <- cfg
		}))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("[log]\nlevel = \"error\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	// A write can surface as several events; wait for the final content.
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case cfg := <-reloaded:
			done = cfg.Log.Level == "error"
		case <-timeout:
			t.Fatal("no reload within 5s")
		}
	}
	if got := logger.Level(log.CategoryTransaction); got != log.LevelError {
		t.Fatalf("logger level = %s, want error", got)
	}
}
