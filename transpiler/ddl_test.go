package transpiler

import (
	"strings"
	"testing"
)

// TestCreateTable_Columns checks column types, modifiers, constraints and
// inline indexes.
func TestCreateTable_Columns(t *testing.T) {
	out, diags := convert(t, `CREATE TABLE dbo.Guest (
    Id int IDENTITY(1,1) NOT NULL,
    Email nvarchar(100) NULL,
    Active bit NOT NULL DEFAULT ((1)),
    Created datetime CONSTRAINT DF_Created DEFAULT (getdate()),
    Code char(3) COLLATE Latin1_General_CI_AS NOT NULL,
    CONSTRAINT PK_Guest PRIMARY KEY CLUSTERED (Id ASC) WITH (PAD_INDEX = OFF) ON [PRIMARY],
    INDEX IX_Guest_Email NONCLUSTERED (Email)
)`)
	if len(diags) != 0 {
		t.Fatalf("Expected no diagnostics, got %v", diags)
	}
	want := `CREATE TABLE Guest (
    Id integer GENERATED BY DEFAULT AS IDENTITY NOT NULL,
    Email varchar(100) NULL,
    Active boolean NOT NULL DEFAULT true,
    Created timestamp DEFAULT NOW(),
    Code char(3) NOT NULL,
    CONSTRAINT PK_Guest PRIMARY KEY (Id)
);
CREATE INDEX IX_Guest_Email ON Guest (Email);`
	if out.Converted != want {
		t.Errorf("Expected:\n%s\ngot:\n%s", want, out.Converted)
	}
}

// TestCreateTable_Temp checks that temp tables are dropped and recreated.
func TestCreateTable_Temp(t *testing.T) {
	out, _ := convert(t, "CREATE TABLE #Work (a int, b varchar(max))")
	want := "DROP TABLE IF EXISTS Work;\nCREATE TEMP TABLE Work (\n    a integer,\n    b text\n);"
	if out.Converted != want {
		t.Errorf("Expected:\n%s\ngot:\n%s", want, out.Converted)
	}
}

// TestCreateTable_IdentitySeed checks a non-default identity seed.
func TestCreateTable_IdentitySeed(t *testing.T) {
	out, _ := convert(t, "CREATE TABLE Seq (Id bigint IDENTITY(100, 5) PRIMARY KEY)")
	if !strings.Contains(out.Converted, "Id bigint GENERATED BY DEFAULT AS IDENTITY (START WITH 100 INCREMENT BY 5) PRIMARY KEY") {
		t.Errorf("Expected identity options, got:\n%s", out.Converted)
	}
}

// TestCreateTable_Computed checks that computed columns need conversion.
func TestCreateTable_Computed(t *testing.T) {
	_, diags := convert(t, "CREATE TABLE T (a int, b AS a * 2)")
	if len(diags) != 1 || !strings.HasPrefix(diags[0].Reason, "computed column") {
		t.Errorf("Expected computed column diagnostic, got %v", diags)
	}
}

// TestCreateIndex checks that storage options are dropped.
func TestCreateIndex(t *testing.T) {
	out, _ := convert(t, "CREATE UNIQUE NONCLUSTERED INDEX IX_A ON dbo.Guest (Email ASC) INCLUDE (Name) WHERE Email IS NOT NULL WITH (ONLINE = ON) ON [PRIMARY]")
	want := "CREATE UNIQUE INDEX IX_A ON Guest (Email ASC) INCLUDE (Name) WHERE Email IS NOT NULL;"
	if out.Converted != want {
		t.Errorf("Expected:\n%s\ngot:\n%s", want, out.Converted)
	}
}

// TestDropIndex checks both DROP INDEX spellings.
func TestDropIndex(t *testing.T) {
	out, _ := convert(t, "DROP INDEX IX_A ON dbo.Guest")
	if out.Converted != "DROP INDEX IX_A;" {
		t.Errorf("Expected DROP INDEX IX_A;, got:\n%s", out.Converted)
	}
	out, _ = convert(t, "DROP INDEX IF EXISTS Guest.IX_B")
	if out.Converted != "DROP INDEX IF EXISTS IX_B;" {
		t.Errorf("Expected DROP INDEX IF EXISTS IX_B;, got:\n%s", out.Converted)
	}
}

// TestAlterTable_Add checks column adds and DEFAULT ... FOR constraints.
func TestAlterTable_Add(t *testing.T) {
	out, _ := convert(t, "ALTER TABLE dbo.Guest ADD Phone varchar(20) NULL, CONSTRAINT DF_Phone DEFAULT ('') FOR Phone")
	want := "ALTER TABLE Guest ADD COLUMN Phone varchar(20) NULL, ALTER COLUMN Phone SET DEFAULT '';"
	if out.Converted != want {
		t.Errorf("Expected:\n%s\ngot:\n%s", want, out.Converted)
	}
}

// TestAlterTable_ForeignKey checks WITH CHECK ADD CONSTRAINT.
func TestAlterTable_ForeignKey(t *testing.T) {
	out, _ := convert(t, "ALTER TABLE Guest WITH CHECK ADD CONSTRAINT FK_Guest_Hotel FOREIGN KEY (HotelId) REFERENCES Hotel (Id) NOT FOR REPLICATION")
	if !strings.HasPrefix(out.Converted, "ALTER TABLE Guest ADD CONSTRAINT FK_Guest_Hotel FOREIGN KEY (HotelId) REFERENCES Hotel") {
		t.Errorf("Expected foreign key, got:\n%s", out.Converted)
	}
	if strings.Contains(out.Converted, "REPLICATION") || strings.Contains(out.Converted, "CHECK") {
		t.Errorf("Expected SQL Server options to be dropped, got:\n%s", out.Converted)
	}
}

// TestAlterTable_AlterColumn checks TYPE and nullability changes.
func TestAlterTable_AlterColumn(t *testing.T) {
	out, _ := convert(t, "ALTER TABLE Guest ALTER COLUMN Email nvarchar(200) NOT NULL")
	want := "ALTER TABLE Guest ALTER COLUMN Email TYPE varchar(200), ALTER COLUMN Email SET NOT NULL;"
	if out.Converted != want {
		t.Errorf("Expected:\n%s\ngot:\n%s", want, out.Converted)
	}
	out, _ = convert(t, "ALTER TABLE Guest ALTER COLUMN Email nvarchar(200)")
	if out.Converted != "ALTER TABLE Guest ALTER COLUMN Email TYPE varchar(200);" {
		t.Errorf("Expected nullability untouched, got:\n%s", out.Converted)
	}
}

// TestAlterTable_Drop checks that each dropped column gets its own action.
func TestAlterTable_Drop(t *testing.T) {
	out, _ := convert(t, "ALTER TABLE Guest DROP COLUMN Phone, Fax")
	if out.Converted != "ALTER TABLE Guest DROP COLUMN Phone, DROP COLUMN Fax;" {
		t.Errorf("Expected two DROP COLUMN actions, got:\n%s", out.Converted)
	}
}

// TestDDL_Unsupported checks that unknown object kinds need conversion.
func TestDDL_Unsupported(t *testing.T) {
	_, diags := convert(t, "ALTER INDEX ALL ON Guest REBUILD")
	if len(diags) != 1 || diags[0].Reason != "ALTER INDEX" {
		t.Errorf("Expected ALTER INDEX diagnostic, got %v", diags)
	}
}

// TestDDL_DropProcedure checks DROP PROC.
func TestDDL_DropProcedure(t *testing.T) {
	out, _ := convert(t, "DROP PROC dbo.usp_Old")
	if out.Converted != "DROP PROCEDURE usp_Old;" {
		t.Errorf("Expected DROP PROCEDURE, got:\n%s", out.Converted)
	}
}
