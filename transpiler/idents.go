package transpiler

import (
	"strings"
)

// pgReservedWords are PostgreSQL reserved words that must be quoted as identifiers.
var pgReservedWords = map[string]bool{
	"all": true, "analyse": true, "analyze": true, "and": true, "any": true,
	"array": true, "as": true, "asc": true, "authorization": true, "between": true,
	"binary": true, "both": true, "case": true, "cast": true, "check": true,
	"collate": true, "column": true, "constraint": true, "create": true, "cross": true,
	"current_date": true, "current_role": true, "current_time": true,
	"current_timestamp": true, "current_user": true, "default": true, "deferrable": true,
	"desc": true, "distinct": true, "do": true, "else": true, "end": true, "except": true,
	"false": true, "fetch": true, "for": true, "foreign": true, "freeze": true,
	"from": true, "full": true, "grant": true, "group": true, "having": true,
	"ilike": true, "in": true, "initially": true, "inner": true, "intersect": true,
	"into": true, "is": true, "isnull": true, "join": true, "lateral": true,
	"leading": true, "left": true, "like": true, "limit": true, "localtime": true,
	"localtimestamp": true, "natural": true, "not": true, "notnull": true, "null": true,
	"offset": true, "on": true, "only": true, "or": true, "order": true, "outer": true,
	"overlaps": true, "placing": true, "primary": true, "references": true,
	"returning": true, "right": true, "select": true, "session_user": true,
	"similar": true, "some": true, "symmetric": true, "table": true, "then": true,
	"to": true, "trailing": true, "true": true, "union": true, "unique": true,
	"user": true, "using": true, "variadic": true, "verbose": true, "when": true,
	"where": true, "window": true, "with": true,
}

func pgNeedsQuoting(name string) bool {
	for i, r := range name {
		if r >= 'a' && r <= 'z' || r == '_' {
			continue
		}
		if i > 0 && (r >= '0' && r <= '9' || r == '$') {
			continue
		}
		return true
	}
	return name == ""
}

// pgIdent returns the lower-cased, PG-safe form of a SQL Server
// identifier, quoting reserved words and names that contain characters
// invalid in unquoted identifiers.
func pgIdent(name string) string {
	name = strings.ToLower(unquoteIdent(strings.TrimSpace(name)))
	if pgReservedWords[name] || pgNeedsQuoting(name) {
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	}
	return name
}

// pgQuoted always double-quotes the lower-cased name. Object names in
// generated DDL headers use this form.
func pgQuoted(name string) string {
	return `"` + strings.ReplaceAll(strings.ToLower(name), `"`, `""`) + `"`
}

// plainIdent renders a bracketed or quoted identifier found in body text.
// Names that are valid unquoted keep their case, since PostgreSQL folds
// them; anything else is quoted in lower case.
func plainIdent(name string) string {
	lower := strings.ToLower(name)
	if pgReservedWords[lower] || pgNeedsQuoting(lower) {
		return `"` + strings.ReplaceAll(lower, `"`, `""`) + `"`
	}
	return name
}

// ObjectName reduces a possibly qualified, bracketed or quoted object
// reference such as "[dbo].[HotelPos]" or "tempdb..#t" to its last part in
// lower case, without temp-table markers.
func ObjectName(ref string) string {
	return objectName(ref)
}

func objectName(ref string) string {
	ref = strings.TrimSpace(ref)
	ref = strings.Trim(ref, "'")
	if i := strings.LastIndexByte(ref, '.'); i >= 0 {
		ref = ref[i+1:]
	}
	ref = unquoteIdent(ref)
	ref = strings.TrimLeft(ref, "#")
	return strings.ToLower(ref)
}

// isTempRef reports whether an object reference names a temp table.
func isTempRef(ref string) bool {
	ref = strings.ToLower(strings.Trim(strings.TrimSpace(ref), "'"))
	if strings.HasPrefix(ref, "tempdb.") {
		return true
	}
	if i := strings.LastIndexByte(ref, '.'); i >= 0 {
		ref = ref[i+1:]
	}
	return strings.HasPrefix(unquoteIdent(ref), "#")
}
