package transpiler

import (
	"strings"
	"testing"
)

const segmentSample = `-- header comment
DECLARE @x int
IF @x > 0
BEGIN
    SET @x = 1
END
ELSE
    SET @x = 2
WHILE @x < 10
    SET @x = @x + 1
BEGIN TRY
    SELECT 1
END TRY
BEGIN CATCH
    SELECT 2
END CATCH
/* block */
CREATE TABLE #t (a int)
SELECT a
FROM #t`

func kinds(stmts []Statement) []StatementKind {
	var out []StatementKind
	for _, s := range stmts {
		if s.Kind != StmtBlank {
			out = append(out, s.Kind)
		}
	}
	return out
}

// TestSegment_Kinds checks the statement kinds of a mixed body.
func TestSegment_Kinds(t *testing.T) {
	stmts := Segment(Tokenize(segmentSample))
	want := []StatementKind{
		StmtLineComment, StmtGeneric, StmtIfBlock, StmtWhileBlock,
		StmtTryCatchBlock, StmtBlockComment, StmtCreateTableBlock, StmtGeneric,
	}
	got := kinds(stmts)
	if len(got) != len(want) {
		t.Fatalf("Expected %d statements, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Statement %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

// TestSegment_Coverage checks that the statements reproduce the input.
func TestSegment_Coverage(t *testing.T) {
	var sb strings.Builder
	for _, s := range Segment(Tokenize(segmentSample)) {
		sb.WriteString(s.Text())
	}
	if sb.String() != segmentSample {
		t.Errorf("Expected statements to cover the input, got:\n%s", sb.String())
	}
}

// TestSegment_Idempotent checks that re-segmenting a statement's text
// yields the same single statement.
func TestSegment_Idempotent(t *testing.T) {
	for _, s := range Segment(Tokenize(segmentSample)) {
		if s.Kind == StmtBlank {
			continue
		}
		again := kinds(Segment(Tokenize(s.Text())))
		if len(again) != 1 || again[0] != s.Kind {
			t.Errorf("Expected %v to segment to itself, got %v for:\n%s", s.Kind, again, s.Text())
		}
	}
}

// TestSegment_ProcedureHeader checks that the header ends after AS.
func TestSegment_ProcedureHeader(t *testing.T) {
	src := "CREATE PROCEDURE dbo.P @a int, @b varchar(10) = 'x' AS\nBEGIN\n    SELECT @a\nEND"
	stmts := Segment(Tokenize(src))
	if stmts[0].Kind != StmtCreateProcedureHeader {
		t.Fatalf("Expected procedure header, got %v", stmts[0].Kind)
	}
	if !strings.HasSuffix(strings.TrimSpace(stmts[0].Text()), "AS") {
		t.Errorf("Expected header to end at AS, got:\n%s", stmts[0].Text())
	}
	if stmts[1].Kind != StmtBeginEndBlock {
		t.Errorf("Expected BEGIN...END after header, got %v", stmts[1].Kind)
	}
}

// TestSegment_LineStartBreaks checks that a statement keyword at line
// start ends a statement without a semicolon.
func TestSegment_LineStartBreaks(t *testing.T) {
	stmts := Segment(Tokenize("UPDATE t SET a = 1\nWHERE b = 2\nDELETE FROM t"))
	got := kinds(stmts)
	if len(got) != 2 {
		t.Fatalf("Expected 2 statements, got %d", len(got))
	}
	if !strings.Contains(stmts[0].Text(), "WHERE b = 2") {
		t.Errorf("Expected WHERE to stay with UPDATE, got:\n%s", stmts[0].Text())
	}
}

// TestSegment_ViewTakesRest checks that a CREATE VIEW consumes the rest of
// the input.
func TestSegment_ViewTakesRest(t *testing.T) {
	stmts := Segment(Tokenize("CREATE VIEW v AS\nSELECT a FROM t\nUNION ALL\nSELECT b FROM u"))
	got := kinds(stmts)
	if len(got) != 1 || got[0] != StmtCreateViewBlock {
		t.Errorf("Expected a single view block, got %v", got)
	}
}

// TestSegment_TransactionBegin checks that BEGIN TRAN is a plain statement.
func TestSegment_TransactionBegin(t *testing.T) {
	got := kinds(Segment(Tokenize("BEGIN TRAN\nUPDATE t SET a = 1\nCOMMIT")))
	want := []StatementKind{StmtGeneric, StmtGeneric, StmtGeneric}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
}

// TestMatchEnd checks BEGIN/END pairing with CASE inside.
func TestMatchEnd(t *testing.T) {
	toks := Tokenize("BEGIN SELECT CASE WHEN a = 1 THEN 2 END END x")
	end, ok := matchEnd(toks, 0)
	if !ok {
		t.Fatal("Expected matching END")
	}
	if !toks[end-1].Is("END") || !strings.HasSuffix(Join(toks[:end]), "END END") {
		t.Errorf("Expected match at the outer END, got %q", Join(toks[:end]))
	}
}

// TestSegment_Comments checks where comments end a statement
func TestSegment_Comments(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []StatementKind
	}{
		{"block comment before select", "SELECT 1\n/* c2 */ SELECT 2",
			[]StatementKind{StmtGeneric, StmtBlockComment, StmtGeneric}},
		{"block comment before set", "DECLARE @a int\n/* init */ SET @a = 1",
			[]StatementKind{StmtGeneric, StmtBlockComment, StmtGeneric}},
		{"block comment before delete", "UPDATE t SET a = 1\n/* reset */ DELETE FROM u",
			[]StatementKind{StmtGeneric, StmtBlockComment, StmtGeneric}},
		{"block comment on its own line", "SELECT 1\n/* c2 */\nSELECT 2",
			[]StatementKind{StmtGeneric, StmtBlockComment, StmtGeneric}},
		{"block comment inside a clause list", "SELECT a,\n/* b */ c\nFROM t",
			[]StatementKind{StmtGeneric}},
		{"line comment between continuation lines", "UPDATE t\n-- the flag\nSET a = 1\nWHERE b = 2",
			[]StatementKind{StmtGeneric}},
		{"line comment before a statement", "UPDATE t SET a = 1\n-- next\nDELETE FROM u",
			[]StatementKind{StmtGeneric, StmtLineComment, StmtGeneric}},
		{"line comment at end of input", "SELECT 1\n-- done",
			[]StatementKind{StmtGeneric, StmtLineComment}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmts := Segment(Tokenize(tt.src))
			got := kinds(stmts)
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, got)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("Statement %d: expected %v, got %v", i, tt.want[i], got[i])
				}
			}
			var sb strings.Builder
			for _, s := range stmts {
				sb.WriteString(s.Text())
			}
			if sb.String() != tt.src {
				t.Errorf("Expected statements to cover the input, got %q", sb.String())
			}
		})
	}
}

// TestNextStatement_Malformed checks the rest-of-line fallback for input
// that cannot be segmented
func TestNextStatement_Malformed(t *testing.T) {
	toks := Tokenize("SELECT (1\nSELECT 2")
	stmt, next := NextStatement(toks, 0)
	if !stmt.Malformed {
		t.Fatalf("Expected malformed statement, got %v", stmt.Kind)
	}
	if stmt.Text() != "SELECT (1\n" {
		t.Errorf("Expected rest of line, got %q", stmt.Text())
	}
	if got := Remainder(toks, next); got != "SELECT 2" {
		t.Errorf("Expected remainder %q, got %q", "SELECT 2", got)
	}
	rest, end := NextStatement(toks, next)
	if rest.Malformed || strings.TrimSpace(rest.Text()) != "SELECT 2" {
		t.Errorf("Expected a well-formed second statement, got %q", rest.Text())
	}
	if got := Remainder(toks, end); got != "" {
		t.Errorf("Expected empty remainder at end of input, got %q", got)
	}
}

// TestMatchParen checks that quoted text and comments are not structural
func TestMatchParen(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want int
	}{
		{"plain", "(a = 1) tail", 6},
		{"doubled quote", "(a = 'x)''y') tail", 12},
		{"bracket identifier", "([b)] = 1) tail", 9},
		{"double-quoted identifier", `("b)" = 1) tail`, 9},
		{"block comment", "(a /* ) */ = 1) tail", 14},
		{"line comment", "(a -- )\n) tail", 8},
		{"nested", "(a IN (1, 2)) tail", 12},
		{"unbalanced", "(a = 1", -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchParen(tt.src, 0); got != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, got)
			}
		})
	}
}

// TestGetIfConditionSQL checks condition extraction around quoted text
func TestGetIfConditionSQL(t *testing.T) {
	tests := []struct {
		sql  string
		want string
	}{
		{"IF @x > 0\n    SET @x = 1", "@x > 0"},
		{"IF EXISTS (SELECT 1 FROM t WHERE n = 'it''s (odd')\n    SELECT 1",
			"EXISTS (SELECT 1 FROM t WHERE n = 'it''s (odd')"},
		{"IF @s = 'BEGIN'\nBEGIN\n    PRINT @s\nEND", "@s = 'BEGIN'"},
		{"SELECT 1", ""},
	}
	for _, tt := range tests {
		if got := GetIfConditionSQL(tt.sql); got != tt.want {
			t.Errorf("GetIfConditionSQL(%q): expected %q, got %q", tt.sql, tt.want, got)
		}
	}
}
