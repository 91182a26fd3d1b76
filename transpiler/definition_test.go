package transpiler

import (
	"testing"
)

// TestRejoinDefinition checks how sp_helptext rows are glued back together.
func TestRejoinDefinition(t *testing.T) {
	tests := []struct {
		name string
		rows []string
		want string
	}{
		{"own newlines", []string{"SELECT a,\n", "b FROM t"}, "SELECT a,\nb FROM t"},
		{"short row", []string{"SELECT 1", "FROM t"}, "SELECT 1\nFROM t"},
		{"split row", []string{"SELECT abc", "def FROM t"}, "SELECT abcdef FROM t"},
		{"split before UNION", []string{"SELECT abc", "UNION ALL"}, "SELECT abc\nUNION ALL"},
		{"split before comment", []string{"SELECT abc", "-- note"}, "SELECT abc\n-- note"},
		{"UNION prefix only", []string{"SELECT abc", "UNIONS x"}, "SELECT abcUNIONS x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RejoinDefinition(tt.rows, 10); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

// TestRejoinDefinition_DefaultWidth checks that zero selects DefinitionWidth.
func TestRejoinDefinition_DefaultWidth(t *testing.T) {
	if got := RejoinDefinition([]string{"SELECT abc", "def"}, 0); got != "SELECT abc\ndef" {
		t.Errorf("Expected short rows to keep a line break, got %q", got)
	}
}

// TestDescribeDefinition checks header classification.
func TestDescribeDefinition(t *testing.T) {
	tests := []struct {
		def, kind, name string
	}{
		{"CREATE PROCEDURE dbo.Touch AS SELECT 1", "procedure", "touch"},
		{"-- note\nCREATE OR ALTER PROC [dbo].[Run] AS SELECT 1", "procedure", "run"},
		{"ALTER VIEW dbo.vGuests AS SELECT 1", "view", "vguests"},
		{"CREATE TABLE t (a int)", "", ""},
		{"SELECT 1", "", ""},
	}
	for _, tt := range tests {
		kind, name := DescribeDefinition(tt.def)
		if kind != tt.kind || name != tt.name {
			t.Errorf("DescribeDefinition(%q) = %q, %q, want %q, %q", tt.def, kind, name, tt.kind, tt.name)
		}
	}
}

// TestSplitBatches checks that only GO lines separate batches.
func TestSplitBatches(t *testing.T) {
	script := "CREATE VIEW a AS SELECT 1\nGO\n\nCREATE VIEW b AS SELECT 'GO'\ngo 2\nGO\nSELECT GOAL FROM t\n"
	got := SplitBatches(script)
	want := []string{"CREATE VIEW a AS SELECT 1", "CREATE VIEW b AS SELECT 'GO'", "SELECT GOAL FROM t"}
	if len(got) != len(want) {
		t.Fatalf("Expected %d batches, got %d: %q", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Batch %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}
