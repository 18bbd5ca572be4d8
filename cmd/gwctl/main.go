// Command gwctl is the gateway's CLI front door: domain/connection/saved
// query administration, a one-shot query runner, and catalog refresh.
// It plays the role the teacher's cmd/cmd.go HTTP service plays — the
// thing that actually calls the facade — since this module keeps HTTP
// out of scope (spec.md Non-goals).
package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/federatedsql/gateway/internal/adapter"
	"github.com/federatedsql/gateway/internal/catalog"
	"github.com/federatedsql/gateway/internal/config"
	"github.com/federatedsql/gateway/internal/dialect"
	"github.com/federatedsql/gateway/internal/facade"
	"github.com/federatedsql/gateway/internal/planner"
	"github.com/federatedsql/gateway/internal/store"
)

var (
	log      *zap.SugaredLogger
	cfg      *config.Config
	st       *store.Store
	registry *adapter.Registry
	catMgr   *catalog.Manager
	svc      *facade.QueryService

	cfgPath string
)

func main() {
	log = newLogger(false).Sugar()
	defer log.Sync() //nolint:errcheck

	cobra.EnableCommandSorting = false
	root := &cobra.Command{
		Use:   "gwctl",
		Short: "Administer and query the federated SQL gateway",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to gateway config file (defaults built-in if empty)")

	root.AddCommand(domainCmd())
	root.AddCommand(connectionCmd())
	root.AddCommand(savedQueryCmd())
	root.AddCommand(queryCmd())
	root.AddCommand(catalogCmd())

	if err := root.Execute(); err != nil {
		log.Fatalf("%s", err)
	}
}

// setup lazily builds every shared dependency from cfg on first use, so
// commands that don't need the store (none currently, but future
// subcommands might) don't pay for opening it.
func setup() {
	if svc != nil {
		return
	}

	if cfgPath != "" {
		var err error
		cfg, err = config.ReadInConfig(cfgPath)
		if err != nil {
			log.Fatalf("failed to load config: %s", err)
		}
	} else {
		cfg = config.Default()
	}

	var err error
	st, err = store.Open(cfg.Store.Path)
	if err != nil {
		log.Fatalf("failed to open store: %s", err)
	}

	registry = adapter.NewRegistry()
	catMgr = catalog.NewManager(st)
	trans := dialect.NewTranslator(dialect.NewRegistry(), cfg.Catalog.CacheSize)
	svc = facade.New(st, registry, planner.New(), trans, log, cfg.Admission.MaxRowLimit, cfg.Facade.MaxTimeout)
}

// newLogger mirrors the teacher's cmd/cmd.go newLogger/newLoggerWithOutput
// pair, trimmed to the one output (stdout) gwctl ever writes to.
func newLogger(json bool) *zap.Logger {
	econf := zapcore.EncoderConfig{
		MessageKey:     "msg",
		LevelKey:       "level",
		NameKey:        "logger",
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}

	var core zapcore.Core
	if json {
		core = zapcore.NewCore(zapcore.NewJSONEncoder(econf), os.Stdout, zap.InfoLevel)
	} else {
		econf.EncodeLevel = zapcore.CapitalColorLevelEncoder
		core = zapcore.NewCore(zapcore.NewConsoleEncoder(econf), os.Stdout, zap.InfoLevel)
	}
	return zap.New(core)
}
