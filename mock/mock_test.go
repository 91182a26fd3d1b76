package mock

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ha1tch/tsqlpg/adapter"
	"github.com/ha1tch/tsqlpg/transpiler"
)

// TestLoadDir checks that scripts are split into procedures and views
func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"views.sql": "CREATE VIEW dbo.vTop AS SELECT a FROM dbo.vBase\nGO\nCREATE VIEW dbo.vBase AS SELECT a FROM t\nGO\n",
		"procs.sql": "CREATE PROCEDURE dbo.Touch AS\nBEGIN\n    UPDATE t SET a = 1\nEND\nGO\nCREATE TABLE t (a int)\nGO\n",
		"notes.txt": "CREATE VIEW ignored AS SELECT 1",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	c, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	ctx := context.Background()
	views, _ := c.Views(ctx)
	if len(views) != 2 || views[0] != "vtop" || views[1] != "vbase" {
		t.Errorf("Expected views vtop, vbase, got %v", views)
	}
	procs, _ := c.Procedures(ctx)
	if len(procs) != 1 || procs[0] != "touch" {
		t.Errorf("Expected procedure touch, got %v", procs)
	}
	if len(c.Skipped) != 1 || c.Skipped[0] != "procs.sql: CREATE TABLE t (a int)" {
		t.Errorf("Expected the table batch to be skipped, got %v", c.Skipped)
	}
	def, err := c.Definition(ctx, "dbo.vBase")
	if err != nil || def != "CREATE VIEW dbo.vBase AS SELECT a FROM t" {
		t.Errorf("Unexpected definition %q, %v", def, err)
	}
}

// TestCatalog_NotFound checks the missing-object error
func TestCatalog_NotFound(t *testing.T) {
	c := NewCatalog()
	if _, err := c.Definition(context.Background(), "nope"); !errors.Is(err, adapter.ErrObjectNotFound) {
		t.Errorf("Expected ErrObjectNotFound, got %v", err)
	}
	if _, err := c.Table(context.Background(), "nope"); !errors.Is(err, adapter.ErrObjectNotFound) {
		t.Errorf("Expected ErrObjectNotFound, got %v", err)
	}
	if _, err := c.AddDefinition("SELECT 1"); err == nil {
		t.Error("Expected an error for a plain SELECT")
	}
}

// TestCatalog_Tables checks table metadata lookups
func TestCatalog_Tables(t *testing.T) {
	c := NewCatalog()
	c.AddTable(transpiler.Table{Name: "dbo.Zeta"})
	c.AddTable(transpiler.Table{Name: "dbo.Alpha"})
	c.SetParams("dbo.Touch", []transpiler.ProcParam{{Name: "id", PGType: "integer"}})

	ctx := context.Background()
	names, _ := c.Tables(ctx)
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Errorf("Expected sorted table names, got %v", names)
	}
	if tbl, err := c.Table(ctx, "[dbo].[Alpha]"); err != nil || tbl.Name != "dbo.Alpha" {
		t.Errorf("Unexpected table %+v, %v", tbl, err)
	}
	if params, _ := c.ProcedureParams(ctx, "touch"); len(params) != 1 {
		t.Errorf("Expected one parameter, got %v", params)
	}
}

// TestDatabase_MissingDependency checks that expected relations must be
// created before views that read them
func TestDatabase_MissingDependency(t *testing.T) {
	db := NewDatabase()
	db.Expect("v_base", "v_top")
	ctx := context.Background()

	err := db.Exec(ctx, `CREATE VIEW "v_top" AS SELECT a FROM v_base, other_table;`)
	if !adapter.IsMissingDependency(err) {
		t.Fatalf("Expected a missing-dependency error, got %v", err)
	}
	if err := db.Exec(ctx, `CREATE VIEW "v_base" AS SELECT a FROM t;`); err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	if err := db.Exec(ctx, `CREATE VIEW "v_top" AS SELECT a FROM v_base, other_table;`); err != nil {
		t.Fatalf("Exec failed after dependency: %v", err)
	}
	if kind, _ := db.RelationKind(ctx, "v_top"); kind != transpiler.RelationView {
		t.Errorf("Expected RelationView, got %v", kind)
	}
	if len(db.Executed()) != 2 {
		t.Errorf("Expected 2 executed scripts, got %d", len(db.Executed()))
	}
}

// TestDatabase_Objects checks created object detection
func TestDatabase_Objects(t *testing.T) {
	db := NewDatabase()
	ctx := context.Background()
	scripts := []string{
		`CREATE TABLE IF NOT EXISTS "guest" (id integer);`,
		"CREATE OR REPLACE PROCEDURE \"touch\"()\nLANGUAGE plpgsql\nAS $$\nBEGIN\n    CREATE TEMP TABLE work (a integer);\nEND;\n$$;",
		"DO $$\nBEGIN\n    IF EXISTS (SELECT 1 FROM pg_views WHERE viewname = 'v') THEN\n        DROP VIEW \"v\";\n    END IF;\nEND $$;\nCREATE VIEW \"v\" AS\nSELECT 1 AS one;",
	}
	for _, s := range scripts {
		if err := db.Exec(ctx, s); err != nil {
			t.Fatalf("Exec failed: %v", err)
		}
	}
	for _, name := range []string{"guest", "touch", "v"} {
		if !db.Created(name) {
			t.Errorf("Expected %s to be created", name)
		}
	}
	if db.Created("work") {
		t.Error("Expected the temp table inside the body to be ignored")
	}
	if kind, _ := db.RelationKind(ctx, "guest"); kind != transpiler.RelationUnknown {
		t.Errorf("Expected RelationUnknown for a table, got %v", kind)
	}
	if kind, _ := db.RelationKind(ctx, "nope"); kind != transpiler.RelationNone {
		t.Errorf("Expected RelationNone, got %v", kind)
	}
}

// TestDatabase_Fail checks injected failures
func TestDatabase_Fail(t *testing.T) {
	db := NewDatabase()
	boom := errors.New("permission denied")
	db.Fail("guest", boom)
	if err := db.Exec(context.Background(), `CREATE TABLE IF NOT EXISTS "guest" (id integer);`); !errors.Is(err, boom) {
		t.Errorf("Expected injected error, got %v", err)
	}
	if db.Created("guest") {
		t.Error("Expected failed table not to be created")
	}
}
