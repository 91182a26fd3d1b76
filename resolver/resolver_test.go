package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func chain() []View {
	return []View{
		{Name: "A", Definition: "CREATE VIEW A AS SELECT * FROM dbo.[B] b JOIN Orders o ON o.Id = b.Id"},
		{Name: "B", Definition: "CREATE VIEW B AS SELECT x FROM C"},
		{Name: "C", Definition: "CREATE VIEW C AS SELECT x FROM Items"},
		{Name: "D", Definition: "CREATE VIEW D AS SELECT y FROM Items"},
	}
}

// TestReferences tests relation extraction from FROM, JOIN and FROM lists
func TestReferences(t *testing.T) {
	def := `SELECT a.x
FROM [dbo].[Alpha] AS a, Beta b -- comment FROM Nope
INNER JOIN db.dbo.Gamma g ON g.id = a.id
CROSS APPLY dbo.fn_split(a.list) s
WHERE a.id IN (SELECT id FROM Delta)`
	got := References(def)
	want := []string{"alpha", "beta", "gamma", "delta"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

// TestBuildGraph tests that only batch views become dependencies
func TestBuildGraph(t *testing.T) {
	g := BuildGraph(chain())
	if deps := g.Dependencies("a"); len(deps) != 1 || deps[0] != "b" {
		t.Errorf("Expected a -> [b], got %v", deps)
	}
	if deps := g.Dependencies("C"); len(deps) != 0 {
		t.Errorf("Expected c to have no batch dependencies, got %v", deps)
	}
	if names := g.Names(); strings.Join(names, ",") != "a,b,c,d" {
		t.Errorf("Expected discovery order a,b,c,d, got %v", names)
	}
}

// TestOrder tests the topological order of a dependency chain
func TestOrder(t *testing.T) {
	order := BuildGraph(chain()).Order()
	pos := make(map[string]int)
	for i, name := range order {
		pos[name] = i
	}
	if len(order) != 4 {
		t.Fatalf("Expected 4 views, got %v", order)
	}
	if !(pos["c"] < pos["b"] && pos["b"] < pos["a"]) {
		t.Errorf("Expected c before b before a, got %v", order)
	}
}

// TestOrder_Cycle tests that views in a cycle are appended in discovery order
func TestOrder_Cycle(t *testing.T) {
	views := []View{
		{Name: "x", Definition: "SELECT * FROM y"},
		{Name: "free", Definition: "SELECT 1 AS one"},
		{Name: "y", Definition: "SELECT * FROM x"},
	}
	order := BuildGraph(views).Order()
	if strings.Join(order, ",") != "free,x,y" {
		t.Errorf("Expected free,x,y, got %v", order)
	}
}

func missing(name string) error {
	return fmt.Errorf("apply %s: %w", name, &pgconn.PgError{Code: "42P01", Message: "relation does not exist"})
}

// TestRun_DefersMissingDependency tests that a view whose dependency failed
// is deferred and applied on a later pass
func TestRun_DefersMissingDependency(t *testing.T) {
	created := make(map[string]bool)
	attempts := make(map[string]int)
	apply := func(ctx context.Context, v View) error {
		attempts[v.Name]++
		if v.Name == "B" && attempts["B"] == 1 {
			return missing("B")
		}
		for _, dep := range BuildGraph(chain()).Dependencies(v.Name) {
			if !created[dep] {
				return missing(v.Name)
			}
		}
		created[strings.ToLower(v.Name)] = true
		return nil
	}

	report, err := (&Resolver{Logger: quiet}).Run(context.Background(), chain(), apply)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(report.Failed) != 0 {
		t.Fatalf("Expected no failures, got %v", report.Failed)
	}
	if len(report.Applied) != 4 {
		t.Errorf("Expected 4 applied views, got %v", report.Applied)
	}
	if report.Passes != 2 {
		t.Errorf("Expected 2 passes, got %d", report.Passes)
	}
	if attempts["A"] != 2 {
		t.Errorf("Expected A to be deferred once, got %d attempts", attempts["A"])
	}
}

// TestRun_OtherErrorRetriedOnce tests that a non-dependency error is
// retried once before it is final
func TestRun_OtherErrorRetriedOnce(t *testing.T) {
	attempts := 0
	boom := errors.New("syntax error")
	views := []View{{Name: "v", DDL: "CREATE VIEW v AS SELEC 1"}}
	report, err := (&Resolver{Logger: quiet}).Run(context.Background(), views, func(ctx context.Context, v View) error {
		attempts++
		return boom
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
	if len(report.Failed) != 1 {
		t.Fatalf("Expected one failure, got %v", report.Failed)
	}
	f := report.Failed[0]
	if !errors.Is(f, ErrDependencyUnresolvable) || !errors.Is(f, boom) {
		t.Errorf("Expected failure to wrap both errors, got %v", f)
	}
	if f.DDL != "CREATE VIEW v AS SELEC 1" {
		t.Errorf("Expected DDL attached, got %q", f.DDL)
	}
}

// TestRun_StopsWithoutProgress tests that a pass with no change ends the run
func TestRun_StopsWithoutProgress(t *testing.T) {
	attempts := 0
	views := []View{{Name: "orphan", Definition: "SELECT * FROM elsewhere"}}
	report, _ := (&Resolver{Logger: quiet}).Run(context.Background(), views, func(ctx context.Context, v View) error {
		attempts++
		return missing(v.Name)
	})
	if attempts != 1 || report.Passes != 1 {
		t.Errorf("Expected one attempt in one pass, got %d attempts, %d passes", attempts, report.Passes)
	}
	if len(report.Failed) != 1 || !errors.Is(report.Failed[0], ErrDependencyUnresolvable) {
		t.Errorf("Expected an unresolvable view, got %v", report.Failed)
	}
}

// TestRun_PassBound tests that passes never exceed pending + ExtraPasses
func TestRun_PassBound(t *testing.T) {
	views := []View{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	attempts := make(map[string]int)
	flaky := errors.New("flaky")
	report, _ := (&Resolver{ExtraPasses: 1, Logger: quiet}).Run(context.Background(), views, func(ctx context.Context, v View) error {
		attempts[v.Name]++
		switch {
		case v.Name == "b":
			return flaky
		case v.Name == "c" && attempts["c"] > 2:
			return flaky
		}
		return missing(v.Name)
	})
	if report.Passes != 4 {
		t.Errorf("Expected the run to stop at 4 passes, got %d", report.Passes)
	}
	if len(report.Failed) != 3 {
		t.Errorf("Expected 3 failures, got %v", report.Failed)
	}
}

// TestRun_Cancelled tests that a cancelled context stops the run
func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&Resolver{Logger: quiet}).Run(ctx, chain(), func(ctx context.Context, v View) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

// TestRun_LogsDependencies tests that dependencies are logged for ordering
// and for views left unresolved
func TestRun_LogsDependencies(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	report, err := (&Resolver{Logger: logger}).Run(context.Background(), chain(), func(ctx context.Context, v View) error {
		if v.Name == "A" {
			return &pgconn.PgError{Code: "42P01"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(report.Failed) != 1 || report.Failed[0].View != "A" {
		t.Fatalf("Expected A to stay unresolved, got %v", report.Failed)
	}
	out := buf.String()
	if !strings.Contains(out, `msg="view dependencies" view=b depends_on=[c]`) {
		t.Errorf("Expected dependency log for b, got:\n%s", out)
	}
	if !strings.Contains(out, `msg="view unresolved" view=A depends_on=[b]`) {
		t.Errorf("Expected dependencies on the unresolved view, got:\n%s", out)
	}
}
