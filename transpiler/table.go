package transpiler

import (
	"fmt"
	"strings"
)

// Column is SQL Server column metadata.
type Column struct {
	Name      string
	DataType  string
	Length    int // characters for character types, MaxLength for (MAX)
	Precision int
	Scale     int
	Nullable  bool
	Identity  bool
	Default   string // column default as stored in the catalog, e.g. "((0))"
}

// Table is SQL Server table metadata.
type Table struct {
	Name       string
	Columns    []Column
	PrimaryKey []string
}

// GenerateTable renders CREATE TABLE IF NOT EXISTS for table metadata.
// Defaults that cannot be converted are left out and reported.
func (t *Transpiler) GenerateTable(table Table) (string, []Diagnostic) {
	c := t.newConverter(objectName(table.Name))
	var defs []string
	for _, col := range table.Columns {
		pgType := MapType(col.DataType, col.Length, col.Precision, col.Scale)
		def := pgIdent(col.Name) + " " + pgType
		if col.Identity {
			def += " GENERATED BY DEFAULT AS IDENTITY"
		}
		if !col.Nullable {
			def += " NOT NULL"
		}
		if col.Default != "" && !col.Identity {
			v, reason := c.defaultValue(significantTokens(Tokenize(col.Default)), pgType)
			if reason != "" {
				c.needsText(col.Default, fmt.Sprintf("default of %s.%s: %s", table.Name, col.Name, reason))
			} else {
				def += " DEFAULT " + v
			}
		}
		defs = append(defs, def)
	}
	if len(table.PrimaryKey) > 0 {
		keys := make([]string, len(table.PrimaryKey))
		for i, k := range table.PrimaryKey {
			keys[i] = pgIdent(k)
		}
		defs = append(defs, "PRIMARY KEY ("+strings.Join(keys, ", ")+")")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n);", pgQuoted(c.object), strings.Join(defs, ",\n    ")), c.diags
}
