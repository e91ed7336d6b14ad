package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ha1tch/tsqlcompat/pkg/config"
	"github.com/ha1tch/tsqlcompat/pkg/log"
	"github.com/ha1tch/tsqlcompat/pkg/session"
	"github.com/ha1tch/tsqlcompat/pkg/settings"
	"github.com/ha1tch/tsqlcompat/pkg/telemetry"
	"github.com/ha1tch/tsqlcompat/pkg/tlsutil"
	"github.com/ha1tch/tsqlcompat/pkg/tsql"
	"github.com/ha1tch/tsqlcompat/pkg/txn"
	"github.com/ha1tch/tsqlcompat/pkg/version"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("tsqlcompat", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		configFile  = fs.String("c", "", "Configuration file path")
		configFileL = fs.String("config", "", "Configuration file path")
		watch       = fs.Bool("watch", false, "Reload log levels when the configuration file changes")

		backend     = fs.String("storage", "", "Storage backend: sqlite, postgres")
		storagePath = fs.String("storage-path", "", "SQLite database path")
		dsn         = fs.String("dsn", "", "PostgreSQL connection string")
		metaPath    = fs.String("metastore", "", "Pebble typmod store directory (empty = in memory)")
		database    = fs.Int("database", 0, "Logical database id to bind the session to")

		metricsListen = fs.String("metrics-listen", "", "Serve Prometheus metrics on this address")

		logLevel  = fs.String("log-level", "", "Log level (debug, info, warn, error)")
		logFormat = fs.String("log-format", "", "Log format (text, json)")

		resolve = fs.String("resolve", "", "Print the signature of a call text and exit")

		showHelp    = fs.Bool("h", false, "Show help")
		showHelpL   = fs.Bool("help", false, "Show help")
		showVersion = fs.Bool("v", false, "Show version")
	)

	fs.Usage = func() {
		printUsage(stderr)
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *configFileL != "" {
		*configFile = *configFileL
	}
	if *showHelp || *showHelpL {
		printUsage(stdout)
		return 0
	}
	if *showVersion {
		fmt.Fprintln(stdout, version.Full())
		return 0
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(stderr, "error loading config: %v\n", err)
		return 1
	}

	// CLI flags override the file.
	if *backend != "" {
		cfg.Storage.Backend = *backend
	}
	if *storagePath != "" {
		cfg.Storage.Path = *storagePath
	}
	if *dsn != "" {
		cfg.Storage.DSN = *dsn
	}
	if *metaPath != "" {
		cfg.Metastore.Path = *metaPath
	}
	if *database != 0 {
		cfg.Session.LogicalDatabase = int16(*database)
	}
	if *metricsListen != "" {
		cfg.Metrics.Listen = *metricsListen
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "invalid configuration: %v\n", err)
		return 2
	}

	logger := cfg.Logger()
	log.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *watch && *configFile != "" {
		w, err := config.NewWatcher(*configFile, logger,
			config.WithOnReload(func(next *config.Configuration) {
				next.ApplyLogLevels(logger)
			}))
		if err != nil {
			fmt.Fprintf(stderr, "error watching config: %v\n", err)
			return 1
		}
		if err := w.Start(); err != nil {
			fmt.Fprintf(stderr, "error watching config: %v\n", err)
			return 1
		}
		defer w.Stop()
	}

	if cfg.Metrics.Listen != "" {
		telemetry.Init()
		srv, err := startMetrics(cfg.Metrics.Listen, tlsutil.Options{
			CertFile:   cfg.Metrics.TLSCert,
			KeyFile:    cfg.Metrics.TLSKey,
			SelfSigned: cfg.Metrics.TLSSelfSigned,
		}, logger)
		if err != nil {
			fmt.Fprintf(stderr, "error starting metrics endpoint: %v\n", err)
			return 1
		}
		defer srv.Shutdown(context.Background())
	}

	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "error opening %s backend: %v\n", cfg.Storage.Backend, err)
		return 1
	}
	defer be.Close()

	initial := settings.Defaults()
	initial[settings.SearchPath] = cfg.Session.SearchPath
	sess := session.New(be.engine, session.Options{
		DatabaseID:         cfg.Session.DatabaseID,
		Locks:              be.locks,
		Settings:           settings.New(initial),
		Catalog:            be.catalog,
		Typmods:            be.typmods,
		SignatureCacheSize: cfg.Session.SignatureCacheSize,
		Logger:             logger,
	})
	defer sess.Close(context.Background())

	if err := sess.SetSearchPath(ctx, cfg.Session.SearchPath); err != nil {
		fmt.Fprintf(stderr, "error setting search path: %v\n", err)
		return 1
	}
	if err := registerRoutines(ctx, sess, cfg.Routines); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	if *resolve != "" {
		sig, err := sess.Resolve(ctx, *resolve)
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "procedure=%v type=%d typmod=%d collation=%d\n",
			sig.IsProcedure, sig.TypeID, sig.Typmod, sig.Collation)
		return 0
	}

	if cfg.Session.LogicalDatabase != 0 {
		if err := sess.UseDatabase(ctx, cfg.Session.LogicalDatabase); err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
	}

	input := stdin
	if fs.NArg() > 0 {
		f, err := os.Open(fs.Arg(0))
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
		defer f.Close()
		input = f
	}
	script, err := io.ReadAll(bufio.NewReader(input))
	if err != nil {
		fmt.Fprintf(stderr, "error reading script: %v\n", err)
		return 1
	}

	return executeScript(ctx, sess, string(script), stdout, stderr)
}

// executeScript runs every statement of every batch, continuing after
// errors the way a T-SQL batch does without XACT_ABORT. It returns 1 if any
// statement failed.
func executeScript(ctx context.Context, sess *session.Session, script string, stdout, stderr io.Writer) int {
	exitCode := 0
	fail := func(err error) {
		data := sess.RecordFailure(err)
		fmt.Fprintf(stderr, "Msg %d, Level %d, State %d\n%s\n",
			data.Number, data.Severity, data.State, data.Message)
		exitCode = 1
	}
	for _, batch := range tsql.SplitBatches(script) {
		stmts, err := tsql.ParseBatch(batch)
		if err != nil {
			fail(err)
			continue
		}
		for _, stmt := range stmts {
			if ctx.Err() != nil {
				fmt.Fprintln(stderr, "interrupted")
				return 1
			}
			res, err := tsql.Execute(ctx, sess, stmt)
			if err != nil {
				fail(err)
				continue
			}
			printResult(stdout, res)
		}
	}
	return exitCode
}

func printResult(w io.Writer, res tsql.Result) {
	if res.Completion == txn.CompletionNone {
		fmt.Fprintf(w, "(%d rows affected)\n", res.RowsAffected)
		return
	}
	fmt.Fprintf(w, "%s (@@TRANCOUNT = %d)\n", res.Completion, res.TranCount)
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, strings.TrimLeft(`
tsqlcompat - T-SQL transaction and call semantics over SQLite or PostgreSQL

Usage:
  tsqlcompat [options] [script.sql]

Reads a T-SQL script (from the file argument or stdin), splits it on GO
batches and semicolons, and runs it in one session. Transaction statements
follow T-SQL nesting rules and report @@TRANCOUNT.

Options:
  -c, --config <file>       Configuration file path (TOML)
  --watch                   Reload log levels when the config file changes
  --storage <type>          Storage backend: sqlite, postgres (default: sqlite)
  --storage-path <path>     SQLite database path (default: :memory:)
  --dsn <dsn>               PostgreSQL connection string
  --metastore <dir>         Pebble directory for stored return typmods
  --database <id>           Logical database id to bind the session to
  --metrics-listen <addr>   Serve Prometheus metrics on addr
  --resolve <call>          Print the result signature of a call text and exit
  --log-level <level>       Log level: debug, info, warn, error
  --log-format <format>     Log format: text, json
  -h, --help                Show help
  -v                        Show version

Exit Codes:
  0  Success
  1  Runtime error
  2  CLI usage error
`, "\n"))
}
