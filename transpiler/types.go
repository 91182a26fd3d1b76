package transpiler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ha1tch/tsqlparser/ast"
)

// MaxLength is the length SQL Server metadata reports for (MAX) columns.
const MaxLength = -1

// MapType converts a SQL Server type, with its metadata length, precision
// and scale, to a PostgreSQL type. A length of MaxLength means (MAX); zero
// means unspecified. Unrecognized types map to text.
func MapType(name string, length, precision, scale int) string {
	name = strings.ToUpper(strings.TrimSpace(unquoteIdent(name)))

	switch name {
	// Character types
	case "VARCHAR", "NVARCHAR":
		if length == MaxLength || length > 10485760 {
			return "text"
		}
		if length > 0 {
			return fmt.Sprintf("varchar(%d)", length)
		}
		return "varchar"
	case "CHAR", "NCHAR":
		if length > 0 {
			return fmt.Sprintf("char(%d)", length)
		}
		return "char"
	case "SYSNAME":
		return "varchar(128)"
	case "TEXT", "NTEXT", "XML", "SQL_VARIANT":
		return "text"

	// Date/time types
	case "DATETIME", "DATETIME2", "SMALLDATETIME":
		return "timestamp"
	case "DATETIMEOFFSET":
		return "timestamptz"
	case "DATE":
		return "date"
	case "TIME":
		return "time"

	// Binary types
	case "BINARY", "VARBINARY", "IMAGE", "TIMESTAMP", "ROWVERSION":
		return "bytea"

	// Integer types
	case "BIT":
		return "boolean"
	case "TINYINT", "SMALLINT":
		return "smallint"
	case "INT", "INTEGER":
		return "integer"
	case "BIGINT":
		return "bigint"

	// Exact and approximate numerics
	case "DECIMAL", "NUMERIC", "DEC":
		if precision > 0 {
			return fmt.Sprintf("numeric(%d,%d)", precision, scale)
		}
		return "numeric"
	case "MONEY":
		return "numeric(19,4)"
	case "SMALLMONEY":
		return "numeric(10,4)"
	case "FLOAT":
		return "double precision"
	case "REAL":
		return "real"

	case "UNIQUEIDENTIFIER":
		return "uuid"

	default:
		return "text"
	}
}

var reTypeText = regexp.MustCompile(`(?i)^\s*\[?([a-z0-9_]+)\]?\s*(?:\(\s*(max|-?\d+)\s*(?:,\s*(\d+)\s*)?\))?\s*$`)

// MapTypeText converts a textual SQL Server type such as "nvarchar(50)",
// "decimal(18, 2)" or "varchar(max)" to a PostgreSQL type.
func MapTypeText(text string) string {
	m := reTypeText.FindStringSubmatch(text)
	if m == nil {
		return "text"
	}
	name := m[1]
	first, second := m[2], m[3]

	length, precision, scale := 0, 0, 0
	switch strings.ToUpper(name) {
	case "DECIMAL", "NUMERIC", "DEC":
		precision, _ = strconv.Atoi(first)
		scale, _ = strconv.Atoi(second)
	default:
		if strings.EqualFold(first, "max") {
			length = MaxLength
		} else if first != "" {
			length, _ = strconv.Atoi(first)
		}
	}
	return MapType(name, length, precision, scale)
}

// mapASTType converts a parsed parameter or column type.
func mapASTType(dt *ast.DataType) string {
	if dt == nil {
		return "text"
	}
	length, precision, scale := 0, 0, 0
	if dt.Max {
		length = MaxLength
	}
	if dt.Length != nil {
		length = *dt.Length
	}
	if dt.Precision != nil {
		precision = *dt.Precision
	}
	if dt.Scale != nil {
		scale = *dt.Scale
	}
	switch strings.ToUpper(dt.Name) {
	case "DECIMAL", "NUMERIC", "DEC":
		// The parser stores a single argument as the length.
		if precision == 0 && length > 0 {
			precision = length
		}
	}
	return MapType(dt.Name, length, precision, scale)
}

// isStringType reports whether a PostgreSQL or SQL Server type name is a
// character type.
func isStringType(typ string) bool {
	t := strings.ToLower(strings.TrimSpace(typ))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	switch t {
	case "varchar", "nvarchar", "char", "nchar", "text", "ntext", "character varying", "character", "sysname", "bpchar":
		return true
	}
	return false
}
