package transpiler

import (
	"errors"
	"strings"
	"testing"
)

// TestConvertCondition_Catalog checks the exact PostgreSQL text produced
// for each recognized condition shape.
func TestConvertCondition_Catalog(t *testing.T) {
	tr := New(Options{})
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"syscolumns",
			"IF NOT EXISTS (SELECT * FROM syscolumns WHERE id = OBJECT_ID('HotelPos') AND name = 'Id')",
			"IF NOT EXISTS ( SELECT 1 FROM information_schema.columns WHERE table_name = 'hotelpos' AND column_name = 'id') THEN",
		},
		{
			"syscolumns with length",
			"EXISTS (SELECT * FROM syscolumns WHERE id = OBJECT_ID('Guest') AND name = 'Email' AND length < 100)",
			"IF EXISTS ( SELECT 1 FROM information_schema.columns WHERE table_name = 'guest' AND column_name = 'email' AND character_maximum_length < 100) THEN",
		},
		{
			"information_schema columns",
			"EXISTS (SELECT * FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_NAME = 'Guest' AND COLUMN_NAME = 'Email')",
			"IF EXISTS ( SELECT 1 FROM information_schema.columns WHERE table_name = 'guest' AND column_name = 'email') THEN",
		},
		{
			"col_length",
			"COL_LENGTH('dbo.Guest', 'Email') IS NULL",
			"IF NOT EXISTS ( SELECT 1 FROM information_schema.columns WHERE table_name = 'guest' AND column_name = 'email') THEN",
		},
		{
			"temp table",
			"OBJECT_ID('tempdb..#Work') IS NOT NULL",
			"IF to_regclass('pg_temp.work') IS NOT NULL THEN",
		},
		{
			"object_id with type",
			"OBJECT_ID('dbo.Guest', 'U') IS NULL",
			"IF to_regclass('guest') IS NULL THEN",
		},
		{
			"sysobjects",
			"EXISTS (SELECT * FROM sysobjects WHERE name = 'Guest' AND xtype = 'U')",
			"IF to_regclass('guest') IS NOT NULL THEN",
		},
		{
			"sys.objects procedure",
			"EXISTS (SELECT * FROM sys.objects WHERE object_id = OBJECT_ID(N'[dbo].[usp_Load]') AND type in (N'P', N'PC'))",
			"IF EXISTS (SELECT 1 FROM pg_proc WHERE proname = 'usp_load') THEN",
		},
		{
			"sys.tables",
			"NOT EXISTS (SELECT * FROM sys.tables WHERE name = 'Guest')",
			"IF to_regclass('guest') IS NULL THEN",
		},
		{
			"sys.schemas",
			"NOT EXISTS (SELECT * FROM sys.schemas WHERE name = 'audit')",
			"IF NOT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = 'audit') THEN",
		},
		{
			"index",
			"NOT EXISTS (SELECT name FROM sys.indexes WHERE name = 'IX_Guest_Email')",
			"IF NOT EXISTS (SELECT * FROM pg_class WHERE relname='ix_guest_email' AND relkind='i' LIMIT 1) THEN",
		},
		{
			"row values",
			"EXISTS (SELECT * FROM AuthButtons WHERE FormName = N'Main' AND ButtonName = 'Save')",
			"IF EXISTS (SELECT * FROM AuthButtons WHERE FormName = 'Main' AND ButtonName = 'Save') THEN",
		},
		{
			"row",
			"NOT EXISTS (SELECT * FROM Settings WHERE Name = 'Theme')",
			"IF NOT EXISTS (SELECT 1 FROM settings WHERE name='Theme') THEN",
		},
		{
			"row with number",
			"EXISTS (SELECT 1 FROM Flags WHERE Id = 5)",
			"IF EXISTS (SELECT 1 FROM flags WHERE id='5') THEN",
		},
		{
			"expression",
			"@Total > 0 AND @Name IS NOT NULL",
			"IF total > 0 AND name IS NOT NULL THEN",
		},
		{
			"compound",
			"OBJECT_ID('tempdb..#W') IS NOT NULL AND @Force = 1",
			"IF to_regclass('pg_temp.w') IS NOT NULL AND force = 1 THEN",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tr.ConvertCondition(tt.in)
			if err != nil {
				t.Fatalf("ConvertCondition failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected:\n%s\ngot:\n%s", tt.want, got)
			}
		})
	}
}

// TestConvertCondition_PrimaryKey checks the sys.indexes primary-key form.
func TestConvertCondition_PrimaryKey(t *testing.T) {
	got, err := New(Options{}).ConvertCondition("EXISTS (SELECT * FROM sys.indexes WHERE object_id = OBJECT_ID('Guest') AND is_primary_key = 1)")
	if err != nil {
		t.Fatalf("ConvertCondition failed: %v", err)
	}
	if !strings.Contains(got, "rel.relname = 'guest' AND con.contype = 'p'") {
		t.Errorf("Expected primary-key lookup on guest, got:\n%s", got)
	}
}

// TestConvertCondition_Subquery checks that a user-table EXISTS passes
// through with clause rewrites.
func TestConvertCondition_Subquery(t *testing.T) {
	got, err := New(Options{}).ConvertCondition("EXISTS (SELECT 1 FROM Orders o JOIN Guests g ON g.Id = o.GuestId WHERE o.Total > @Min)")
	if err != nil {
		t.Fatalf("ConvertCondition failed: %v", err)
	}
	if !strings.HasPrefix(got, "IF EXISTS (SELECT 1 FROM Orders o JOIN Guests g ON") {
		t.Errorf("Expected subquery pass-through, got:\n%s", got)
	}
	if strings.Contains(got, "@") {
		t.Errorf("Expected variable sigils to be stripped, got:\n%s", got)
	}
}

// TestConvertCondition_Override checks that overrides win over built-in shapes.
func TestConvertCondition_Override(t *testing.T) {
	tr := New(Options{ConditionOverrides: []ConditionOverride{
		{Match: "OBJECT_ID('dbo.Legacy') IS NOT NULL", Replace: "false"},
	}})
	got, err := tr.ConvertCondition("IF (OBJECT_ID( 'dbo.Legacy' )   IS NOT NULL)")
	if err != nil {
		t.Fatalf("ConvertCondition failed: %v", err)
	}
	if got != "IF false THEN" {
		t.Errorf("Expected override, got:\n%s", got)
	}
}

// TestConvertCondition_Unrecognized checks that catalog lookups outside the
// catalog are rejected rather than guessed.
func TestConvertCondition_Unrecognized(t *testing.T) {
	_, err := New(Options{}).ConvertCondition("EXISTS (SELECT * FROM sys.sql_modules WHERE definition LIKE '%x%')")
	if !errors.Is(err, ErrUnrecognizedShape) {
		t.Errorf("Expected ErrUnrecognizedShape, got %v", err)
	}
}

// TestNormalizeCondition checks bracket, N'' and schema normalization.
func TestNormalizeCondition(t *testing.T) {
	got := normalizeCondition("((EXISTS (SELECT * FROM [dbo].[Guest]\n  WHERE [Name] = N'x')))", "dbo")
	want := "EXISTS (SELECT * FROM Guest WHERE Name = 'x')"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}
