package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ha1tch/tsqlpg/adapter"
	"github.com/ha1tch/tsqlpg/config"
	"github.com/ha1tch/tsqlpg/diagnostics"
	"github.com/ha1tch/tsqlpg/migrate"
	"github.com/ha1tch/tsqlpg/mock"
	"github.com/ha1tch/tsqlpg/transpiler"
)

type migrateOptions struct {
	config    string
	dryRun    bool
	simulate  bool
	sourceDir string
	outputDir string
	only      []string
}

func newMigrateCmd() *cobra.Command {
	opts := &migrateOptions{}
	cmd := &cobra.Command{
		Use:   "migrate [config.toml]",
		Short: "Migrate tables, views and procedures from SQL Server to PostgreSQL",
		Long: `Migrate reads object definitions from SQL Server, converts them and applies
the DDL to PostgreSQL: tables first, then views in dependency order, then
procedures. The config file is TOML, or YAML with a .yaml or .yml extension.`,
		Args: maxArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.config = args[0]
			}
			return runMigrate(cmd, opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.config, "config", "c", "", "path to the migration config file")
	f.BoolVar(&opts.dryRun, "dry-run", false, "convert without connecting to PostgreSQL")
	f.BoolVar(&opts.simulate, "simulate", false, "apply to an in-memory database to check view ordering")
	f.StringVar(&opts.sourceDir, "source-dir", "", "read definitions from .sql files instead of SQL Server")
	f.StringVarP(&opts.outputDir, "output-dir", "O", "", "write converted DDL under this directory")
	f.StringSliceVar(&opts.only, "only", nil, "object kinds to migrate: tables, views, procedures")
	return cmd
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig(cmd *cobra.Command, opts *migrateOptions) (*config.Config, error) {
	if opts.config == "" {
		return nil, usagef("config file required: tsqlpg migrate <config.toml> or tsqlpg migrate --config <config.toml>")
	}
	cfg, err := config.Read(opts.config)
	if err != nil {
		return nil, err
	}
	if opts.dryRun {
		cfg.DryRun = true
	}
	if opts.simulate {
		cfg.Simulate = true
	}
	if opts.sourceDir != "" {
		cfg.Source.Dir = opts.sourceDir
	}
	if opts.outputDir != "" {
		cfg.OutputDir = opts.outputDir
	}
	if len(opts.only) > 0 {
		cfg.Objects.Tables, cfg.Objects.Views, cfg.Objects.Procedures = false, false, false
		for _, kind := range opts.only {
			switch strings.ToLower(strings.TrimSpace(kind)) {
			case "tables", "table":
				cfg.Objects.Tables = true
			case "views", "view":
				cfg.Objects.Views = true
			case "procedures", "procedure", "procs":
				cfg.Objects.Procedures = true
			default:
				return nil, usagef("--only: unknown object kind %q", kind)
			}
		}
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		cfg.Log.Format = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", opts.config, err)
	}
	return cfg, nil
}

func runMigrate(cmd *cobra.Command, opts *migrateOptions) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	logger := newLogger(cmd.ErrOrStderr(), cfg.Log)

	src, err := openSource(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer src.Close()

	var target migrate.Target
	switch {
	case cfg.Simulate:
		target, err = simulatedTarget(ctx, src)
		if err != nil {
			return err
		}
	case !cfg.DryRun:
		pg, err := adapter.OpenPostgres(ctx, adapter.Config{
			DSN:          cfg.Target.DSN,
			MaxOpenConns: cfg.Target.MaxOpenConns,
		})
		if err != nil {
			return err
		}
		defer pg.Close()
		target = pg
	}

	sink, err := diagnostics.Open(ctx, diagnosticsOptions(cfg), logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Warn("closing diagnostics sink failed", slog.String("error", err.Error()))
		}
	}()

	m := migrate.New(src, target, newTranspiler(cfg), sink, logger, migrate.Options{
		Tables:      cfg.Objects.Tables,
		Views:       cfg.Objects.Views,
		Procedures:  cfg.Objects.Procedures,
		Selected:    cfg.Objects.Selected,
		DryRun:      cfg.DryRun && !cfg.Simulate,
		OutputDir:   cfg.OutputDir,
		CheckSyntax: cfg.CheckSyntax,
		ExtraPasses: cfg.Views.ExtraPasses,
	})

	logger.Info("migration started",
		slog.String("schema", cfg.Schema),
		slog.Bool("dry_run", cfg.DryRun),
		slog.Bool("simulate", cfg.Simulate),
		slog.Bool("check_syntax", cfg.CheckSyntax))
	report, err := m.Run(ctx)
	if report != nil {
		fmt.Fprint(cmd.OutOrStdout(), report.String())
	}
	if err != nil {
		return err
	}
	if report.Failed() {
		return errNotMigrated
	}
	return nil
}

// source is a migrate.Source that holds a connection.
type source interface {
	migrate.Source
	Close() error
}

// openSource reads definitions from source.dir when set, otherwise from
// SQL Server.
func openSource(ctx context.Context, cfg *config.Config, logger *slog.Logger) (source, error) {
	if cfg.Source.Dir != "" {
		cat, err := mock.LoadDir(cfg.Source.Dir)
		if err != nil {
			return nil, err
		}
		for _, s := range cat.Skipped {
			logger.Warn("batch skipped", slog.String("batch", s))
		}
		return cat, nil
	}
	return adapter.OpenSQLServer(ctx, adapter.Config{
		DSN:          cfg.Source.DSN,
		Schema:       cfg.Schema,
		MaxOpenConns: cfg.Source.MaxOpenConns,
	})
}

// simulatedTarget is an in-memory database expecting every source table
// and view.
func simulatedTarget(ctx context.Context, src migrate.Source) (*mock.Database, error) {
	db := mock.NewDatabase()
	for _, list := range []func(context.Context) ([]string, error){src.Tables, src.Views} {
		names, err := list(ctx)
		if err != nil {
			return nil, err
		}
		db.Expect(names...)
	}
	return db, nil
}

func newTranspiler(cfg *config.Config) *transpiler.Transpiler {
	overrides := make([]transpiler.ConditionOverride, len(cfg.ConditionOverrides))
	for i, o := range cfg.ConditionOverrides {
		overrides[i] = transpiler.ConditionOverride{Match: o.Match, Replace: o.Replace}
	}
	return transpiler.New(transpiler.Options{
		Schema:             cfg.Schema,
		ConditionOverrides: overrides,
		ReplaceViews:       cfg.Views.ReplaceOnly,
	})
}

func diagnosticsOptions(cfg *config.Config) diagnostics.Options {
	return diagnostics.Options{
		Sinks:      cfg.Diagnostics.Sinks,
		Path:       cfg.Diagnostics.Path,
		Format:     cfg.Diagnostics.Format,
		SQLitePath: cfg.Diagnostics.SQLite,
		DSN:        cfg.Target.DSN,
		Table:      cfg.Diagnostics.Table,
		BatchSize:  cfg.Diagnostics.BatchSize,
	}
}

// newLogger builds the process logger from the log settings.
func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

var (
	_ source         = (*adapter.SQLServer)(nil)
	_ source         = (*mock.Catalog)(nil)
	_ migrate.Target = (*adapter.Postgres)(nil)
	_ migrate.Target = (*mock.Database)(nil)
)
