package migrate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ha1tch/tsqlpg/diagnostics"
	"github.com/ha1tch/tsqlpg/transpiler"
)

var errMissing = errors.New("relation does not exist")

type fakeSource struct {
	tables      map[string]transpiler.Table
	definitions map[string]string
	views       []string
	procedures  []string
	params      map[string][]transpiler.ProcParam
	paramErr    error
	paramCalls  int
}

func (s *fakeSource) Tables(ctx context.Context) ([]string, error) {
	var names []string
	for name := range s.tables {
		names = append(names, name)
	}
	return names, nil
}

func (s *fakeSource) Views(ctx context.Context) ([]string, error) { return s.views, nil }

func (s *fakeSource) Procedures(ctx context.Context) ([]string, error) { return s.procedures, nil }

func (s *fakeSource) Table(ctx context.Context, name string) (transpiler.Table, error) {
	return s.tables[name], nil
}

func (s *fakeSource) Definition(ctx context.Context, name string) (string, error) {
	def, ok := s.definitions[name]
	if !ok {
		return "", errors.New("object not found")
	}
	return def, nil
}

func (s *fakeSource) ProcedureParams(ctx context.Context, name string) ([]transpiler.ProcParam, error) {
	s.paramCalls++
	if s.paramErr != nil {
		return nil, s.paramErr
	}
	return s.params[name], nil
}

// fakeTarget records executed DDL. A view whose DDL mentions a name in
// needs fails until that name has been created.
type fakeTarget struct {
	executed []string
	created  map[string]bool
	needs    map[string]string
	fail     map[string]error
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{created: map[string]bool{}, needs: map[string]string{}, fail: map[string]error{}}
}

func (d *fakeTarget) Exec(ctx context.Context, ddl string) error {
	for name, err := range d.fail {
		if strings.Contains(ddl, `"`+name+`"`) {
			return err
		}
	}
	for name, dep := range d.needs {
		if strings.Contains(ddl, `VIEW "`+name+`"`) && !d.created[dep] {
			return errMissing
		}
	}
	d.executed = append(d.executed, ddl)
	for _, kw := range []string{`TABLE IF NOT EXISTS "`, `VIEW "`, `PROCEDURE "`} {
		if i := strings.Index(ddl, kw); i >= 0 {
			rest := ddl[i+len(kw):]
			d.created[rest[:strings.Index(rest, `"`)]] = true
		}
	}
	return nil
}

func (d *fakeTarget) RelationKind(ctx context.Context, name string) (transpiler.RelationKind, error) {
	if d.created[name] {
		return transpiler.RelationView, nil
	}
	return transpiler.RelationNone, nil
}

func newSource() *fakeSource {
	return &fakeSource{
		tables: map[string]transpiler.Table{
			"Guest": {
				Name: "dbo.Guest",
				Columns: []transpiler.Column{
					{Name: "Id", DataType: "int", Identity: true},
					{Name: "Email", DataType: "nvarchar", Length: 100, Nullable: true},
				},
				PrimaryKey: []string{"Id"},
			},
		},
		definitions: map[string]string{
			"v_top":  "CREATE VIEW dbo.v_top AS SELECT a FROM dbo.v_base",
			"v_base": "CREATE VIEW dbo.v_base AS SELECT a FROM t",
			"touch":  "CREATE PROCEDURE dbo.touch AS\nBEGIN\n    SET NOCOUNT ON;\n    UPDATE t SET a = 1\nEND\n",
			"cursor": "CREATE PROCEDURE dbo.cursor_proc AS\nBEGIN\n    UPDATE t SET a = 1\n    OPEN cur\nEND\n",
		},
		views:      []string{"v_top", "v_base"},
		procedures: []string{"touch", "cursor"},
	}
}

func allObjects() Options {
	return Options{Tables: true, Views: true, Procedures: true, IsMissing: func(err error) bool { return errors.Is(err, errMissing) }}
}

// TestRun_AppliesEverything checks a full migration against fakes
func TestRun_AppliesEverything(t *testing.T) {
	src := newSource()
	dst := newFakeTarget()
	dst.needs["v_top"] = "v_base"
	sink := &diagnostics.MemorySink{}

	m := New(src, dst, transpiler.New(transpiler.Options{ReplaceViews: true}), sink, nil, allObjects())
	report, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := report.Count(StatusApplied); got != 4 {
		t.Errorf("Expected 4 applied objects, got %d\n%s", got, report)
	}
	if got := report.Count(StatusIncomplete); got != 1 {
		t.Errorf("Expected 1 incomplete procedure, got %d\n%s", got, report)
	}
	if !report.Failed() {
		t.Error("Expected Failed() to report the incomplete procedure")
	}
	if !dst.created["guest"] || !dst.created["v_base"] || !dst.created["v_top"] || !dst.created["touch"] {
		t.Errorf("Expected guest, views and touch to be created, got %v", dst.created)
	}
	if dst.created["cursor_proc"] {
		t.Error("Expected the incomplete procedure not to be installed")
	}
	if len(sink.Entries) != 1 || sink.Entries[0].Kind != "procedure" {
		t.Errorf("Expected one procedure diagnostic, got %+v", sink.Entries)
	}
	if len(sink.Outcomes) != 5 {
		t.Errorf("Expected 5 outcomes, got %d", len(sink.Outcomes))
	}
	if src.paramCalls != 2 {
		t.Errorf("Expected a catalog lookup per procedure, got %d", src.paramCalls)
	}
}

// TestRun_ViewOrder checks that a view is applied after the view it reads
func TestRun_ViewOrder(t *testing.T) {
	dst := newFakeTarget()
	opts := allObjects()
	opts.Tables, opts.Procedures = false, false

	m := New(newSource(), dst, transpiler.New(transpiler.Options{ReplaceViews: true}), nil, nil, opts)
	report, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(dst.executed) != 2 {
		t.Fatalf("Expected 2 statements, got %d", len(dst.executed))
	}
	if !strings.Contains(dst.executed[0], `"v_base"`) || !strings.Contains(dst.executed[1], `"v_top"`) {
		t.Errorf("Expected v_base before v_top, got:\n%s", strings.Join(dst.executed, "\n"))
	}
	if report.ViewPasses != 1 {
		t.Errorf("Expected 1 view pass, got %d", report.ViewPasses)
	}
}

// TestRun_ViewFailure checks that a view that never applies is reported
func TestRun_ViewFailure(t *testing.T) {
	dst := newFakeTarget()
	dst.fail["v_base"] = errors.New("permission denied")
	opts := allObjects()
	opts.Tables, opts.Procedures = false, false

	m := New(newSource(), dst, transpiler.New(transpiler.Options{ReplaceViews: true}), nil, nil, opts)
	dst.needs["v_top"] = "v_base"
	report, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := report.Count(StatusFailed); got != 2 {
		t.Errorf("Expected both views to fail, got %d\n%s", got, report)
	}
	if !strings.Contains(report.String(), "FAILED     view") {
		t.Errorf("Expected failures in report, got:\n%s", report)
	}
}

// TestRun_DryRun checks that a dry run writes files and touches nothing
func TestRun_DryRun(t *testing.T) {
	dir := t.TempDir()
	opts := allObjects()
	opts.DryRun = true
	opts.OutputDir = dir

	m := New(newSource(), nil, nil, nil, nil, opts)
	report, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := report.Count(StatusConverted); got != 4 {
		t.Errorf("Expected 4 converted objects, got %d\n%s", got, report)
	}

	for _, path := range []string{
		"tables/guest.sql",
		"views/v_base.sql",
		"views/v_top.sql",
		"procedures/touch.sql",
		"procedures/cursor.incomplete.sql",
	} {
		if _, err := os.Stat(filepath.Join(dir, path)); err != nil {
			t.Errorf("Expected %s to be written: %v", path, err)
		}
	}
	data, err := os.ReadFile(filepath.Join(dir, "procedures/cursor.incomplete.sql"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "OPEN cur") {
		t.Errorf("Expected the unconverted statement in the review file, got:\n%s", data)
	}
}

// TestRun_Selected checks include filtering
func TestRun_Selected(t *testing.T) {
	dst := newFakeTarget()
	opts := allObjects()
	opts.Selected = func(name string) bool { return name == "touch" || name == "Guest" }

	report, err := New(newSource(), dst, nil, nil, nil, opts).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(report.Results) != 2 {
		t.Errorf("Expected 2 results, got %d\n%s", len(report.Results), report)
	}
}

// TestRun_NoTarget checks that a target is required outside a dry run
func TestRun_NoTarget(t *testing.T) {
	if _, err := New(newSource(), nil, nil, nil, nil, allObjects()).Run(context.Background()); err == nil {
		t.Error("Expected an error without a target")
	}
}

// TestRun_Cancelled checks that cancellation stops the run
func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(newSource(), newFakeTarget(), nil, nil, nil, allObjects()).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

// TestRun_CheckSyntax checks that generated DDL passes the parser
func TestRun_CheckSyntax(t *testing.T) {
	dst := newFakeTarget()
	opts := allObjects()
	opts.CheckSyntax = true

	report, err := New(newSource(), dst, nil, nil, nil, opts).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := report.Count(StatusFailed); got != 0 {
		t.Errorf("Expected no syntax failures, got:\n%s", report)
	}
}

const greetProc = "CREATE PROCEDURE dbo.greet\n    @Name nvarchar(100) = 'guest'\nAS\nBEGIN\n    UPDATE t SET a = @Name\nEND\n"

// TestRun_CatalogParams checks that catalog parameter types win over the
// procedure header while header defaults are kept
func TestRun_CatalogParams(t *testing.T) {
	src := newSource()
	src.definitions["greet"] = greetProc
	src.procedures = []string{"greet"}
	src.params = map[string][]transpiler.ProcParam{
		"greet": {{Name: "name", PGType: "varchar(50)"}},
	}
	dst := newFakeTarget()
	opts := allObjects()
	opts.Tables, opts.Views = false, false

	report, err := New(src, dst, nil, nil, nil, opts).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := report.Count(StatusApplied); got != 1 || len(dst.executed) != 1 {
		t.Fatalf("Expected greet to be applied, got:\n%s", report)
	}
	ddl := dst.executed[0]
	if !strings.Contains(ddl, "IN name varchar(50) DEFAULT") {
		t.Errorf("Expected catalog type with header default, got:\n%s", ddl)
	}
	if strings.Contains(ddl, "varchar(100)") {
		t.Errorf("Expected header type to be ignored, got:\n%s", ddl)
	}
}

// TestRun_HeaderParamsFallback checks that the header is parsed when the
// catalog has no parameters or cannot be read
func TestRun_HeaderParamsFallback(t *testing.T) {
	for _, catalogErr := range []error{nil, errors.New("permission denied")} {
		src := newSource()
		src.definitions["greet"] = greetProc
		src.procedures = []string{"greet"}
		src.paramErr = catalogErr
		dst := newFakeTarget()
		opts := allObjects()
		opts.Tables, opts.Views = false, false

		if _, err := New(src, dst, nil, nil, nil, opts).Run(context.Background()); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if len(dst.executed) != 1 || !strings.Contains(dst.executed[0], "IN name varchar(100)") {
			t.Errorf("Expected header parameters (catalog error %v), got %v", catalogErr, dst.executed)
		}
	}
}

// TestRun_ViewWriteError checks that an unwritable output directory fails
// applied views
func TestRun_ViewWriteError(t *testing.T) {
	blocked := filepath.Join(t.TempDir(), "out")
	if err := os.WriteFile(blocked, []byte("not a directory"), 0644); err != nil {
		t.Fatal(err)
	}
	dst := newFakeTarget()
	opts := allObjects()
	opts.Tables, opts.Procedures = false, false
	opts.OutputDir = blocked

	report, err := New(newSource(), dst, transpiler.New(transpiler.Options{ReplaceViews: true}), nil, nil, opts).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(dst.executed) != 2 {
		t.Errorf("Expected both views to be applied, got %d statements", len(dst.executed))
	}
	if got := report.Count(StatusFailed); got != 2 {
		t.Errorf("Expected write errors to fail both views, got:\n%s", report)
	}
	if !strings.Contains(report.String(), "create output dir") {
		t.Errorf("Expected the write error in the report, got:\n%s", report)
	}
}
