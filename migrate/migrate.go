// Package migrate drives a schema migration: it reads tables, views and
// procedures from the source, converts them, optionally checks the
// generated DDL and applies it to the target in dependency order.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ha1tch/tsqlpg/diagnostics"
	"github.com/ha1tch/tsqlpg/pgcheck"
	"github.com/ha1tch/tsqlpg/resolver"
	"github.com/ha1tch/tsqlpg/transpiler"
)

// Source reads object metadata and definitions.
type Source interface {
	Tables(ctx context.Context) ([]string, error)
	Views(ctx context.Context) ([]string, error)
	Procedures(ctx context.Context) ([]string, error)
	Table(ctx context.Context, name string) (transpiler.Table, error)
	Definition(ctx context.Context, name string) (string, error)
	ProcedureParams(ctx context.Context, name string) ([]transpiler.ProcParam, error)
}

// Target applies DDL.
type Target interface {
	Exec(ctx context.Context, ddl string) error
	RelationKind(ctx context.Context, name string) (transpiler.RelationKind, error)
}

// Options controls a migration.
type Options struct {
	Tables     bool
	Views      bool
	Procedures bool

	// Selected filters object names. Nil selects everything.
	Selected func(name string) bool

	// DryRun converts without touching the target.
	DryRun bool

	// OutputDir, when set, receives one <kind>s/<name>.sql file per
	// converted object and <name>.incomplete.sql for partial conversions.
	OutputDir string

	// CheckSyntax parses generated DDL before it is applied.
	CheckSyntax bool

	// ExtraPasses is passed to the view resolver.
	ExtraPasses int

	// IsMissing classifies missing-dependency errors for the resolver.
	IsMissing func(error) bool
}

// Status is the outcome of one object.
type Status string

const (
	StatusApplied    Status = "applied"
	StatusConverted  Status = "converted" // dry run
	StatusIncomplete Status = "incomplete"
	StatusFailed     Status = "failed"
)

// Result is the outcome of one object.
type Result struct {
	Kind        string
	Name        string
	Status      Status
	Diagnostics int
	Err         error
}

// Migrator migrates one schema.
type Migrator struct {
	Source     Source
	Target     Target // may be nil for a dry run
	Transpiler *transpiler.Transpiler
	Sink       diagnostics.Sink
	Logger     *slog.Logger
	Options    Options

	report Report
}

// New creates a Migrator. A nil sink discards diagnostics and a nil
// logger uses slog.Default.
func New(src Source, dst Target, tr *transpiler.Transpiler, sink diagnostics.Sink, logger *slog.Logger, opts Options) *Migrator {
	if tr == nil {
		tr = transpiler.New(transpiler.Options{})
	}
	if sink == nil {
		sink = diagnostics.NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{Source: src, Target: dst, Transpiler: tr, Sink: sink, Logger: logger, Options: opts}
}

// Report returns the results gathered so far.
func (m *Migrator) Report() *Report {
	r := m.report
	return &r
}

// Run migrates tables, then views, then procedures, as enabled.
func (m *Migrator) Run(ctx context.Context) (*Report, error) {
	if m.Target == nil && !m.Options.DryRun {
		return nil, errors.New("migrate: no target and not a dry run")
	}
	start := time.Now()
	steps := []struct {
		enabled bool
		run     func(context.Context) error
	}{
		{m.Options.Tables, m.Tables},
		{m.Options.Views, m.Views},
		{m.Options.Procedures, m.Procedures},
	}
	for _, step := range steps {
		if !step.enabled {
			continue
		}
		if err := step.run(ctx); err != nil {
			return m.Report(), err
		}
	}
	m.report.Duration = time.Since(start)
	return m.Report(), nil
}

func (m *Migrator) selected(names []string) []string {
	if m.Options.Selected == nil {
		return names
	}
	out := names[:0:0]
	for _, n := range names {
		if m.Options.Selected(n) {
			out = append(out, n)
		}
	}
	return out
}

// Tables converts and applies every selected table.
func (m *Migrator) Tables(ctx context.Context) error {
	names, err := m.Source.Tables(ctx)
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}
	for _, name := range m.selected(names) {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		res := m.table(ctx, name)
		m.finish(ctx, res, time.Since(start))
	}
	return nil
}

func (m *Migrator) table(ctx context.Context, name string) Result {
	res := Result{Kind: "table", Name: name}
	table, err := m.Source.Table(ctx, name)
	if err != nil {
		return res.failed(err)
	}
	ddl, diags := m.Transpiler.GenerateTable(table)
	res.Diagnostics = len(diags)
	m.record(ctx, "table", diags)
	return m.install(ctx, res, ddl)
}

// Procedures converts and applies every selected procedure. A procedure
// holding any unconverted statement is not installed.
func (m *Migrator) Procedures(ctx context.Context) error {
	names, err := m.Source.Procedures(ctx)
	if err != nil {
		return fmt.Errorf("list procedures: %w", err)
	}
	for _, name := range m.selected(names) {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		res := m.procedure(ctx, name)
		m.finish(ctx, res, time.Since(start))
	}
	return nil
}

func (m *Migrator) procedure(ctx context.Context, name string) Result {
	res := Result{Kind: "procedure", Name: name}
	def, err := m.Source.Definition(ctx, name)
	if err != nil {
		return res.failed(err)
	}
	// Catalog parameters win; the header is parsed only when they are missing.
	src := transpiler.ProcedureSource{Name: name, Definition: def}
	params, err := m.Source.ProcedureParams(ctx, name)
	if err != nil {
		m.Logger.WarnContext(ctx, "procedure parameters unavailable, parsing header",
			slog.String("object", name), slog.String("error", err.Error()))
	} else {
		src.Params = params
	}

	out, err := m.Transpiler.ConvertProcedure(src)
	if err != nil {
		return m.incomplete(ctx, res, err)
	}
	return m.install(ctx, res, out.DDL)
}

// Views converts every selected view and applies the converted ones in
// dependency order with bounded retries.
func (m *Migrator) Views(ctx context.Context) error {
	names, err := m.Source.Views(ctx)
	if err != nil {
		return fmt.Errorf("list views: %w", err)
	}

	var batch []resolver.View
	for _, name := range m.selected(names) {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		v, res, ok := m.view(ctx, name)
		if !ok {
			m.finish(ctx, res, time.Since(start))
			continue
		}
		batch = append(batch, v)
	}
	if len(batch) == 0 {
		return nil
	}

	if m.Options.DryRun {
		for _, name := range resolver.BuildGraph(batch).Order() {
			v := findView(batch, name)
			m.finish(ctx, m.install(ctx, Result{Kind: "view", Name: v.Name}, v.DDL), 0)
		}
		return nil
	}

	r := &resolver.Resolver{ExtraPasses: m.Options.ExtraPasses, IsMissing: m.Options.IsMissing, Logger: m.Logger}
	report, err := r.Run(ctx, batch, func(ctx context.Context, v resolver.View) error {
		return m.Target.Exec(ctx, v.DDL)
	})
	if err != nil {
		return err
	}
	m.report.ViewPasses = report.Passes
	for _, name := range report.Applied {
		v := findView(batch, name)
		res := Result{Kind: "view", Name: v.Name, Status: StatusApplied}
		if err := m.writeFile("view", v.Name, "", v.DDL); err != nil {
			res = res.failed(err)
		}
		m.finish(ctx, res, 0)
	}
	for _, f := range report.Failed {
		res := Result{Kind: "view", Name: f.View, Status: StatusFailed, Err: f}
		if err := m.writeFile("view", f.View, "", f.DDL); err != nil {
			res.Err = errors.Join(f, err)
		}
		m.finish(ctx, res, 0)
	}
	return nil
}

// view converts one view. It returns ok when the view is ready to apply.
func (m *Migrator) view(ctx context.Context, name string) (resolver.View, Result, bool) {
	res := Result{Kind: "view", Name: name}
	def, err := m.Source.Definition(ctx, name)
	if err != nil {
		return resolver.View{}, res.failed(err), false
	}
	existing := transpiler.RelationUnknown
	if m.Target != nil && !m.Options.DryRun {
		if existing, err = m.Target.RelationKind(ctx, transpiler.ObjectName(name)); err != nil {
			return resolver.View{}, res.failed(err), false
		}
	}
	out, err := m.Transpiler.ConvertView(transpiler.ViewSource{Name: name, Definition: def, Existing: existing})
	if err != nil {
		return resolver.View{}, m.incomplete(ctx, res, err), false
	}
	if m.Options.CheckSyntax {
		if err := pgcheck.Check(name, out.DDL); err != nil {
			return resolver.View{}, res.failed(err), false
		}
	}
	return resolver.View{Name: name, Definition: def, DDL: out.DDL}, res, true
}

func findView(batch []resolver.View, name string) resolver.View {
	for _, v := range batch {
		if v.Name == name || transpiler.ObjectName(v.Name) == name {
			return v
		}
	}
	return resolver.View{Name: name}
}

// install checks, applies and writes one object's DDL.
func (m *Migrator) install(ctx context.Context, res Result, ddl string) Result {
	if m.Options.CheckSyntax {
		if err := pgcheck.Check(res.Name, ddl); err != nil {
			return res.failed(err)
		}
	}
	if m.Options.DryRun {
		res.Status = StatusConverted
	} else {
		if err := m.Target.Exec(ctx, ddl); err != nil {
			return res.failed(fmt.Errorf("apply %s %s: %w", res.Kind, res.Name, err))
		}
		res.Status = StatusApplied
	}
	if err := m.writeFile(res.Kind, res.Name, "", ddl); err != nil {
		return res.failed(err)
	}
	return res
}

// incomplete records the diagnostics of a partial conversion and writes
// its review file.
func (m *Migrator) incomplete(ctx context.Context, res Result, err error) Result {
	var inc *transpiler.IncompleteError
	if !errors.As(err, &inc) {
		return res.failed(err)
	}
	res.Status = StatusIncomplete
	res.Err = err
	res.Diagnostics = len(inc.Diagnostics)
	m.record(ctx, res.Kind, inc.Diagnostics)
	if werr := m.writeFile(res.Kind, res.Name, ".incomplete", inc.Report()); werr != nil {
		m.Logger.WarnContext(ctx, "write review file failed", slog.String("object", res.Name), slog.String("error", werr.Error()))
	}
	return res
}

func (m *Migrator) record(ctx context.Context, kind string, diags []transpiler.Diagnostic) {
	if err := diagnostics.RecordAll(ctx, m.Sink, kind, diags); err != nil {
		m.Logger.WarnContext(ctx, "record diagnostics failed", slog.String("error", err.Error()))
	}
}

// finish logs and stores one result.
func (m *Migrator) finish(ctx context.Context, res Result, d time.Duration) {
	m.Sink.ObjectDone(ctx, res.Kind, res.Name, d, res.Err)
	m.report.add(res)
	attrs := []any{
		slog.String("kind", res.Kind),
		slog.String("object", res.Name),
		slog.String("status", string(res.Status)),
	}
	if res.Diagnostics > 0 {
		attrs = append(attrs, slog.Int("diagnostics", res.Diagnostics))
	}
	switch res.Status {
	case StatusFailed:
		m.Logger.ErrorContext(ctx, "object failed", append(attrs, slog.String("error", res.Err.Error()))...)
	case StatusIncomplete:
		m.Logger.WarnContext(ctx, "object needs manual conversion", attrs...)
	default:
		m.Logger.InfoContext(ctx, "object migrated", attrs...)
	}
}

// writeFile stores DDL under OutputDir/<kind>s/<name><suffix>.sql.
func (m *Migrator) writeFile(kind, name, suffix, content string) error {
	if m.Options.OutputDir == "" {
		return nil
	}
	dir := filepath.Join(m.Options.OutputDir, kind+"s")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, transpiler.ObjectName(name)+suffix+".sql")
	if err := os.WriteFile(path, []byte(content+"\n"), 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func (r Result) failed(err error) Result {
	r.Status = StatusFailed
	r.Err = err
	return r
}
