package transpiler

import (
	"strings"
	"testing"
)

// TestGenerateTable checks DDL generated from catalog metadata.
func TestGenerateTable(t *testing.T) {
	ddl, diags := New(Options{}).GenerateTable(Table{
		Name: "dbo.Guest",
		Columns: []Column{
			{Name: "Id", DataType: "int", Identity: true},
			{Name: "Email", DataType: "nvarchar", Length: 100, Nullable: true},
			{Name: "Active", DataType: "bit", Default: "((1))"},
			{Name: "Notes", DataType: "nvarchar", Length: MaxLength, Nullable: true},
			{Name: "Rate", DataType: "decimal", Precision: 9, Scale: 2, Default: "((0))"},
		},
		PrimaryKey: []string{"Id"},
	})
	if len(diags) != 0 {
		t.Fatalf("Expected no diagnostics, got %v", diags)
	}
	want := `CREATE TABLE IF NOT EXISTS "guest" (
    id integer GENERATED BY DEFAULT AS IDENTITY NOT NULL,
    email varchar(100),
    active boolean NOT NULL DEFAULT true,
    notes text,
    rate numeric(9,2) NOT NULL DEFAULT 0,
    PRIMARY KEY (id)
);`
	if ddl != want {
		t.Errorf("Expected:\n%s\ngot:\n%s", want, ddl)
	}
}

// TestGenerateTable_BadDefault checks that an unconvertible default is
// reported and left out.
func TestGenerateTable_BadDefault(t *testing.T) {
	ddl, diags := New(Options{}).GenerateTable(Table{
		Name:    "Session",
		Columns: []Column{{Name: "Spid", DataType: "int", Default: "(@@SPID)"}},
	})
	if len(diags) != 1 {
		t.Fatalf("Expected one diagnostic, got %v", diags)
	}
	if strings.Contains(ddl, "DEFAULT") {
		t.Errorf("Expected default to be left out, got:\n%s", ddl)
	}
}
