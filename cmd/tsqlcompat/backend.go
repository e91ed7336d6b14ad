package main

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"github.com/ha1tch/tsqlcompat/pkg/callsig"
	"github.com/ha1tch/tsqlcompat/pkg/config"
	"github.com/ha1tch/tsqlcompat/pkg/dblock"
	"github.com/ha1tch/tsqlcompat/pkg/engine"
	"github.com/ha1tch/tsqlcompat/pkg/log"
	"github.com/ha1tch/tsqlcompat/pkg/metastore"
	"github.com/ha1tch/tsqlcompat/pkg/pgcatalog"
	"github.com/ha1tch/tsqlcompat/pkg/session"
	"github.com/ha1tch/tsqlcompat/pkg/telemetry"
	"github.com/ha1tch/tsqlcompat/pkg/tlsutil"
	"github.com/ha1tch/tsqlcompat/pkg/version"
)

// backend bundles what a session needs from the storage side.
type backend struct {
	engine  engine.Session
	locks   dblock.Manager
	catalog callsig.Catalog
	typmods callsig.TypmodStore
	closers []func() error
}

func (b *backend) Close() error {
	var first error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func openBackend(ctx context.Context, cfg *config.Configuration, logger *log.Logger) (*backend, error) {
	switch strings.ToLower(cfg.Storage.Backend) {
	case config.BackendPostgres:
		conn, err := pgx.Connect(ctx, cfg.Storage.DSN)
		if err != nil {
			return nil, err
		}
		catalog := pgcatalog.New(conn)
		return &backend{
			engine:  engine.NewPostgresSession(conn),
			locks:   dblock.NewPostgresManager(conn),
			catalog: catalog,
			typmods: catalog,
		}, nil

	default:
		sqliteCfg := engine.DefaultSQLiteConfig()
		sqliteCfg.Path = cfg.Storage.Path
		sqliteCfg.JournalMode = cfg.Storage.JournalMode
		if cfg.Storage.BusyTimeout > 0 {
			sqliteCfg.BusyTimeout = cfg.Storage.BusyTimeout
		}
		eng, err := engine.OpenSQLite(ctx, sqliteCfg)
		if err != nil {
			return nil, err
		}

		b := &backend{
			engine:  eng,
			locks:   dblock.NewMemoryManager(),
			catalog: callsig.NewMemoryCatalog(),
		}
		var store metastore.Store = metastore.NewMemory()
		if cfg.Metastore.Path != "" {
			p, err := metastore.OpenPebble(cfg.Metastore.Path, metastore.PebbleOptions{
				CacheSizeMB: cfg.Metastore.CacheSizeMB,
				Sync:        cfg.Metastore.Sync,
			}, logger)
			if err != nil {
				eng.Close(ctx)
				return nil, err
			}
			store = p
		}
		b.typmods = store
		b.closers = append(b.closers, store.Close)
		return b, nil
	}
}

// registerRoutines records the routines declared in the configuration,
// with their typmods, in the session's catalog and typmod store.
func registerRoutines(ctx context.Context, sess *session.Session, routines []config.RoutineConfiguration) error {
	for _, rc := range routines {
		r, typmods, err := rc.Routine()
		if err != nil {
			return err
		}
		if _, err := sess.RegisterRoutine(ctx, r, typmods); err != nil {
			return err
		}
	}
	return nil
}

// startMetrics serves /metrics and /healthz on addr, over TLS when tlsOpts
// names a certificate source.
func startMetrics(addr string, tlsOpts tlsutil.Options, logger *log.Logger) (*http.Server, error) {
	tlsConfig, err := tlsutil.ServerConfig(tlsOpts)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok " + version.Version + "\n"))
	})
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		ln = tls.NewListener(ln, tlsConfig)
	}
	srv := &http.Server{Addr: ln.Addr().String(), Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.System().Error("metrics endpoint stopped", err)
		}
	}()
	logger.System().Info("metrics endpoint listening", "addr", srv.Addr, "tls", tlsConfig != nil)
	return srv, nil
}
