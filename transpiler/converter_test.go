package transpiler

import (
	"strings"
	"testing"
)

func convert(t *testing.T, sql string) (Output, []Diagnostic) {
	t.Helper()
	return New(Options{}).ConvertStatements("test", sql)
}

// TestConvertStatements_IfElse checks IF / ELSE rendering and body indentation.
func TestConvertStatements_IfElse(t *testing.T) {
	out, diags := convert(t, `IF @x > 0
BEGIN
    PRINT 'pos'
END
ELSE
    PRINT 'neg'`)
	if len(diags) != 0 {
		t.Fatalf("Expected no diagnostics, got %v", diags)
	}
	want := "IF x > 0 THEN\n    RAISE NOTICE '%', 'pos';\nELSE\n    RAISE NOTICE '%', 'neg';\nEND IF;"
	if out.Converted != want {
		t.Errorf("Expected:\n%s\ngot:\n%s", want, out.Converted)
	}
}

// TestConvertStatements_While checks WHILE loops and BREAK.
func TestConvertStatements_While(t *testing.T) {
	out, _ := convert(t, `WHILE @i < 10
BEGIN
    SET @i = @i + 1
    IF @i = 5 BREAK
END`)
	if !strings.HasPrefix(out.Converted, "WHILE i < 10 LOOP\n    i := i + 1;") {
		t.Errorf("Expected WHILE loop, got:\n%s", out.Converted)
	}
	if !strings.Contains(out.Converted, "EXIT;") || !strings.HasSuffix(out.Converted, "END LOOP;") {
		t.Errorf("Expected EXIT and END LOOP, got:\n%s", out.Converted)
	}
}

// TestConvertStatements_TryCatch checks that ROLLBACK inside CATCH is dropped.
func TestConvertStatements_TryCatch(t *testing.T) {
	out, diags := convert(t, `BEGIN TRY
    UPDATE Guests SET Active = 0
END TRY
BEGIN CATCH
    ROLLBACK
    THROW
END CATCH`)
	if len(diags) != 0 {
		t.Fatalf("Expected no diagnostics, got %v", diags)
	}
	want := "BEGIN\n    UPDATE Guests SET Active = 0;\nEXCEPTION WHEN OTHERS THEN\n    RAISE;\nEND;"
	if out.Converted != want {
		t.Errorf("Expected:\n%s\ngot:\n%s", want, out.Converted)
	}
}

// TestConvertStatements_Declare checks hoisting and initializers.
func TestConvertStatements_Declare(t *testing.T) {
	out, _ := convert(t, "DECLARE @Count int = 0, @Label nvarchar(20)\nSET @Label = @Label + 'x'")
	if !strings.HasPrefix(out.Converted, "DECLARE\n    count integer;\n    label varchar(20);") {
		t.Errorf("Expected hoisted declarations, got:\n%s", out.Converted)
	}
	if !strings.Contains(out.Converted, "count := 0;") {
		t.Errorf("Expected initializer assignment, got:\n%s", out.Converted)
	}
	if !strings.Contains(out.Converted, "label := CONCAT(label, 'x');") {
		t.Errorf("Expected string concatenation via CONCAT, got:\n%s", out.Converted)
	}
}

// TestConvertStatements_DeclareTable checks that table variables are rejected.
func TestConvertStatements_DeclareTable(t *testing.T) {
	out, diags := convert(t, "DECLARE @t TABLE (id int)")
	if out.NeedsConversion == "" || len(diags) != 1 {
		t.Fatalf("Expected one diagnostic, got %v", diags)
	}
	if diags[0].Reason != "DECLARE TABLE" {
		t.Errorf("Expected reason DECLARE TABLE, got %q", diags[0].Reason)
	}
}

// TestConvertStatements_DateAddNumeric checks DATEADD with a literal amount.
func TestConvertStatements_DateAddNumeric(t *testing.T) {
	out, _ := convert(t, "SET @d = DATEADD(MONTH, -2, @Start)")
	if !strings.Contains(out.Converted, "start - INTERVAL '2 month'") {
		t.Errorf("Expected negative interval, got:\n%s", out.Converted)
	}
	out, _ = convert(t, "SET @d = DATEADD(qq, 1, @Start)")
	if !strings.Contains(out.Converted, "start + INTERVAL '3 month'") {
		t.Errorf("Expected quarter as three months, got:\n%s", out.Converted)
	}
}

// TestConvertStatements_DateAddExpression checks DATEADD with a computed amount.
func TestConvertStatements_DateAddExpression(t *testing.T) {
	out, _ := convert(t, "SET @d = DATEADD(DAY, @n, @Start)")
	if !strings.Contains(out.Converted, "start + ((n)::text || ' day')::interval") {
		t.Errorf("Expected text interval, got:\n%s", out.Converted)
	}
}

// TestConvertStatements_Delete checks DELETE canonicalization.
func TestConvertStatements_Delete(t *testing.T) {
	out, _ := convert(t, "DELETE Logs WHERE Created<DATEADD(DAY, -7, GETDATE())")
	want := "DELETE FROM Logs WHERE Created < current_date - 7;"
	if out.Converted != want {
		t.Errorf("Expected:\n%s\ngot:\n%s", want, out.Converted)
	}

	_, diags := convert(t, "DELETE l FROM Logs l JOIN Runs r ON r.Id = l.RunId")
	if len(diags) != 1 || diags[0].Reason != "DELETE with join" {
		t.Errorf("Expected DELETE with join diagnostic, got %v", diags)
	}
}

// TestConvertStatements_TempTable checks SELECT INTO #t and later references.
func TestConvertStatements_TempTable(t *testing.T) {
	out, _ := convert(t, "SELECT * INTO #Work FROM Guests\nSELECT COUNT(*) FROM #Work")
	if !strings.Contains(out.Converted, "DROP TABLE IF EXISTS Work;\nCREATE TEMP TABLE Work AS SELECT * FROM Guests;") {
		t.Errorf("Expected temp table creation, got:\n%s", out.Converted)
	}
	if strings.Contains(out.Converted, "#") {
		t.Errorf("Expected no # markers, got:\n%s", out.Converted)
	}
}

// TestConvertStatements_SelectAssign checks variable-assigning SELECT.
func TestConvertStatements_SelectAssign(t *testing.T) {
	out, _ := convert(t, "SELECT @a = Name, @b = Total FROM Orders WHERE Id = @Id")
	want := "SELECT Name, Total INTO a, b FROM Orders WHERE Id = id;"
	if out.Converted != want {
		t.Errorf("Expected:\n%s\ngot:\n%s", want, out.Converted)
	}
}

// TestConvertStatements_Exec checks CALL with positional and named arguments.
func TestConvertStatements_Exec(t *testing.T) {
	out, _ := convert(t, "EXEC dbo.LogRun @Total, @Source = 'cleanup'")
	if out.Converted != "CALL logrun(total, source => 'cleanup');" {
		t.Errorf("Expected CALL, got:\n%s", out.Converted)
	}
	_, diags := convert(t, "EXEC sp_executesql @sql, N'@p int', @p = 1")
	if len(diags) != 1 {
		t.Errorf("Expected dynamic SQL to need conversion, got %v", diags)
	}
}

// TestConvertStatements_Rename checks sp_rename for columns.
func TestConvertStatements_Rename(t *testing.T) {
	out, _ := convert(t, "EXEC sp_rename 'Guest.Mail', 'Email', 'COLUMN'")
	if out.Converted != "ALTER TABLE guest RENAME COLUMN mail TO email;" {
		t.Errorf("Expected RENAME COLUMN, got:\n%s", out.Converted)
	}
}

// TestConvertStatements_Raiserror checks severity mapping and format args.
func TestConvertStatements_Raiserror(t *testing.T) {
	out, _ := convert(t, "RAISERROR('Missing %s (%d)', 16, 1, @Name, @Id)")
	if out.Converted != "RAISE EXCEPTION 'Missing % (%)', name, id;" {
		t.Errorf("Expected RAISE EXCEPTION, got:\n%s", out.Converted)
	}
	out, _ = convert(t, "RAISERROR('progress', 10, 1) WITH NOWAIT")
	if !strings.HasPrefix(out.Converted, "RAISE NOTICE 'progress'") {
		t.Errorf("Expected RAISE NOTICE, got:\n%s", out.Converted)
	}
}

// TestConvertStatements_SessionOptions checks that SET options vanish.
func TestConvertStatements_SessionOptions(t *testing.T) {
	out, diags := convert(t, "SET NOCOUNT ON\nSET XACT_ABORT ON")
	if out.Converted != "" || out.NeedsConversion != "" || len(diags) != 0 {
		t.Errorf("Expected no output, got %+v %v", out, diags)
	}
}

// TestConvertStatements_WaitFor checks WAITFOR DELAY.
func TestConvertStatements_WaitFor(t *testing.T) {
	out, _ := convert(t, "WAITFOR DELAY '00:01:30.5'")
	if out.Converted != "PERFORM pg_sleep(90.5);" {
		t.Errorf("Expected pg_sleep, got:\n%s", out.Converted)
	}
}

// TestConvertStatements_Residue checks that leftover T-SQL is flagged.
func TestConvertStatements_Residue(t *testing.T) {
	out, diags := convert(t, "SET @id = SCOPE_IDENTITY()")
	if out.NeedsConversion == "" || len(diags) != 1 {
		t.Fatalf("Expected one diagnostic, got %v", diags)
	}
	if !strings.Contains(diags[0].Reason, "SCOPE_IDENTITY") {
		t.Errorf("Expected reason to name SCOPE_IDENTITY, got %q", diags[0].Reason)
	}
}

// TestConvertStatements_NestedFailure checks that an unconvertible body
// sends its whole IF block to needs-conversion.
func TestConvertStatements_NestedFailure(t *testing.T) {
	out, diags := convert(t, "IF @x = 1\nBEGIN\n    OPEN cur\nEND")
	if out.Converted != "" {
		t.Errorf("Expected nothing converted, got:\n%s", out.Converted)
	}
	if !strings.HasPrefix(out.NeedsConversion, "IF @x = 1") {
		t.Errorf("Expected the IF block verbatim, got:\n%s", out.NeedsConversion)
	}
	if len(diags) != 1 || diags[0].Reason != "OPEN statement" {
		t.Errorf("Expected OPEN diagnostic, got %v", diags)
	}
}

// TestConvertStatements_CommentOpensLine checks that a statement following
// a line-leading block comment is converted on its own
func TestConvertStatements_CommentOpensLine(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want []string
	}{
		{"select", "SELECT 1\n/* c2 */ SELECT 2", []string{"SELECT 1;", "/* c2 */", "SELECT 2;"}},
		{"declare then set", "DECLARE @a int\n/* init */ SET @a = 1", []string{"a integer;", "/* init */", "a := 1;"}},
		{"update then delete", "UPDATE t SET a = 1\n/* reset */ DELETE FROM u", []string{"UPDATE t SET a = 1;", "/* reset */", "DELETE FROM u;"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, diags := convert(t, tt.sql)
			if len(diags) != 0 || out.NeedsConversion != "" {
				t.Fatalf("Expected no diagnostics, got %v\n%s", diags, out.NeedsConversion)
			}
			for _, w := range tt.want {
				if !strings.Contains(out.Converted, w) {
					t.Errorf("Expected %q in:\n%s", w, out.Converted)
				}
			}
		})
	}
}
