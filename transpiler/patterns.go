package transpiler

import (
	"regexp"
	"strings"
)

// shape is one entry of the condition catalog.
type shape struct {
	name  string
	match func(c *converter, cond string, q existsQuery, isExists bool) (Condition, bool)
}

// patternTable is the compiled, read-only recognizer catalog. It is built
// once per Transpiler and shared by every conversion.
type patternTable struct {
	overrides map[string]string
	shapes    []shape

	colLength *regexp.Regexp
	objectID  *regexp.Regexp

	pkDrop  *regexp.Regexp
	pkAdd   *regexp.Regexp
	pkTable []*regexp.Regexp
	waitFor *regexp.Regexp
	spExec  *regexp.Regexp
}

func newPatternTable(overrides []ConditionOverride) *patternTable {
	p := &patternTable{
		overrides: make(map[string]string, len(overrides)),
		colLength: regexp.MustCompile(`(?i)^COL_LENGTH\s*\(\s*'([^']*)'\s*,\s*'([^']*)'\s*\)\s+IS\s+(NOT\s+)?NULL$`),
		objectID:  regexp.MustCompile(`(?i)^OBJECT_ID\s*\(\s*'([^']*)'\s*(?:,\s*'([^']*)'\s*)?\)\s+IS\s+(NOT\s+)?NULL$`),
		pkDrop:    regexp.MustCompile(`(?is)^EXEC(?:UTE)?\s*\(\s*N?'\s*ALTER\s+TABLE\s+([^\s']+)\s+DROP\s+CONSTRAINT\s*'\s*\+\s*(@\w+)\s*\)\s*;?$`),
		pkAdd:     regexp.MustCompile(`(?is)^EXEC(?:UTE)?\s*\(\s*N?'\s*ALTER\s+TABLE\s+([^\s']+)\s+ADD\s+CONSTRAINT\s*'\s*\+\s*(@\w+)\s*\+\s*N?'\s*PRIMARY\s+KEY\s*(?:NON)?(?:CLUSTERED)?\s*\(([^)']*)\)\s*'\s*\)\s*;?$`),
		waitFor:   regexp.MustCompile(`(?i)^WAITFOR\s+DELAY\s+'(\d{1,2}):(\d{1,2}):(\d{1,2})(?:\.(\d{1,3}))?'\s*;?$`),
		spExec:    regexp.MustCompile(`(?i)^EXEC(?:UTE)?\s+(?:sp_executesql\s+(@\w+)|\(\s*(@\w+)\s*\))\s*;?$`),
	}
	p.pkTable = []*regexp.Regexp{
		regexp.MustCompile(`(?i)OBJECT_ID\s*\(\s*N?'([^']*)'`),
		regexp.MustCompile(`(?i)TABLE_NAME\s*=\s*N?'([^']*)'`),
	}
	for _, o := range overrides {
		p.overrides[overrideKey(o.Match)] = o.Replace
	}
	p.shapes = []shape{
		{"override", p.matchOverride},
		{"column", p.matchColumn},
		{"col_length", p.matchColLength},
		{"object_id", p.matchObjectID},
		{"sys.objects", p.matchSysObjects},
		{"catalog view", p.matchCatalogView},
		{"index", p.matchIndex},
		{"row values", p.matchRowValues},
		{"row", p.matchRow},
		{"subquery", p.matchSubquery},
		{"expression", p.matchExpression},
	}
	return p
}

// recognize runs the catalog over a normalized condition. The first shape
// that matches wins.
func (p *patternTable) recognize(c *converter, cond string) (Condition, string, bool) {
	q, isExists := parseExists(cond)
	for _, s := range p.shapes {
		if got, ok := s.match(c, cond, q, isExists); ok {
			return got, s.name, true
		}
	}
	return nil, "", false
}

// normalizeCondition drops comments, collapses whitespace, unwraps
// bracketed identifiers and N'' literals, removes the schema prefix and
// strips parentheses that wrap the whole condition.
func normalizeCondition(cond, schema string) string {
	toks := Tokenize(cond)
	var sb strings.Builder
	space := false
	for i := 0; toks[i].Kind != TokenEndOfInput; i++ {
		t := toks[i]
		if t.IsTrivia() {
			space = sb.Len() > 0
			continue
		}
		if space {
			sb.WriteByte(' ')
			space = false
		}
		switch {
		case (t.IsWord() || t.Kind == TokenQuotedIdentifier) && strings.EqualFold(unquoteIdent(t.Text), schema) &&
			toks[i+1].IsPunct("."):
			i++
		case t.Kind == TokenQuotedIdentifier && strings.HasPrefix(t.Text, "["):
			name := unquoteIdent(t.Text)
			if isBareWord(name) {
				sb.WriteString(name)
			} else {
				sb.WriteString(`"` + strings.ReplaceAll(name, `"`, `""`) + `"`)
			}
		case t.Kind == TokenString:
			sb.WriteString(quoteString(unquoteString(t.Text)))
		default:
			sb.WriteString(t.Text)
		}
	}
	return unwrapParens(sb.String())
}

func isBareWord(s string) bool {
	if s == "" || !isWordStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isWordByte(s[i]) {
			return false
		}
	}
	return true
}

// unwrapParens removes parentheses enclosing the whole of s.
func unwrapParens(s string) string {
	s = strings.TrimSpace(s)
	for strings.HasPrefix(s, "(") && MatchParen(s, 0) == len(s)-1 {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

// overrideKey is the comparison form of a condition for override lookup.
func overrideKey(cond string) string {
	norm := strings.ToLower(normalizeCondition(cond, DefaultSchema))
	return strings.Join(strings.Fields(norm), "")
}

// catalogTables are the SQL Server compatibility views outside sys. and
// INFORMATION_SCHEMA.
var catalogTables = map[string]bool{
	"syscolumns": true, "sysobjects": true, "sysindexes": true,
	"syscomments": true, "systypes": true, "sysusers": true,
	"sysconstraints": true, "sysforeignkeys": true, "sysreferences": true,
	"sysdatabases": true, "sysindexkeys": true,
}

func isCatalog(name string) bool {
	name = strings.ToLower(name)
	return strings.HasPrefix(name, "sys.") || strings.HasPrefix(name, "information_schema.") ||
		catalogTables[name] || strings.Contains(name, "..") || strings.HasPrefix(name, "master.")
}

// catalogFunctions only make sense against the SQL Server catalog.
var catalogFunctions = map[string]bool{
	"OBJECT_ID": true, "COL_LENGTH": true, "OBJECTPROPERTY": true,
	"COLUMNPROPERTY": true, "INDEXPROPERTY": true, "DB_ID": true,
	"SCHEMA_ID": true, "TYPE_ID": true, "OBJECT_NAME": true,
	"HAS_PERMS_BY_NAME": true, "IS_MEMBER": true, "IS_SRVROLEMEMBER": true,
	"DATABASEPROPERTYEX": true, "SERVERPROPERTY": true,
}

// mentionsCatalog reports whether sql references a catalog table or
// catalog function anywhere.
func mentionsCatalog(sql string) bool {
	toks := Tokenize(sql)
	for i, t := range toks {
		if t.IsWord() && catalogFunctions[t.Upper()] {
			return true
		}
		if t.IsWord() && (t.Is("sys", "INFORMATION_SCHEMA") && toks[i+1].IsPunct(".") || catalogTables[strings.ToLower(t.Text)]) {
			return true
		}
	}
	return false
}

// objectKinds maps sys.objects type codes to the condition they produce.
func objectKindCondition(types []string, name string, not bool) Condition {
	kind := ""
	if len(types) > 0 {
		kind = types[0]
	}
	switch kind {
	case "P", "PC", "FN", "IF", "TF", "FS", "FT", "X":
		return ProcedureCondition{Not: not, Name: name}
	case "PK", "F", "UQ", "C", "D":
		return ConstraintCondition{Not: not, Name: name}
	}
	return RelationCondition{Name: name, Missing: not}
}

func typeValues(t term) []string {
	switch t.Kind {
	case valueList:
		return t.Values
	case valueString:
		return []string{strings.ToUpper(strings.TrimSpace(t.Value))}
	}
	return nil
}

func (p *patternTable) matchOverride(_ *converter, cond string, _ existsQuery, _ bool) (Condition, bool) {
	if len(p.overrides) == 0 {
		return nil, false
	}
	repl, ok := p.overrides[overrideKey(cond)]
	if !ok {
		return nil, false
	}
	return OverrideCondition{Text: repl}, true
}

// matchColumn handles syscolumns, sys.columns and
// INFORMATION_SCHEMA.COLUMNS lookups, with an optional length test.
func (p *patternTable) matchColumn(_ *converter, _ string, q existsQuery, isExists bool) (Condition, bool) {
	if !isExists || q.Or {
		return nil, false
	}
	var table, column string
	var length term
	var hasLength bool
	switch q.From {
	case "syscolumns", "sys.columns":
		if !q.onlyTerms("id", "object_id", "name", "length", "max_length") {
			return nil, false
		}
		id, ok := q.find("id", "object_id")
		name, ok2 := q.find("name")
		if !ok || !ok2 || id.Kind != valueObjectID || name.Kind != valueString {
			return nil, false
		}
		table, column = id.Value, name.Value
		length, hasLength = q.find("length", "max_length")
	case "information_schema.columns":
		if !q.onlyTerms("table_name", "column_name", "table_schema", "table_catalog", "character_maximum_length") {
			return nil, false
		}
		tn, ok := q.find("table_name")
		cn, ok2 := q.find("column_name")
		if !ok || !ok2 || tn.Kind != valueString || cn.Kind != valueString {
			return nil, false
		}
		table, column = tn.Value, cn.Value
		length, hasLength = q.find("character_maximum_length")
	default:
		return nil, false
	}
	cond := ColumnExistsCondition{Not: q.Not, Table: objectName(table), Column: strings.ToLower(column)}
	if hasLength {
		if length.Kind != valueNumber || !comparisonOps[length.Op] {
			return nil, false
		}
		cond.LengthOp, cond.LengthVal = length.Op, length.Value
	}
	return cond, true
}

func (p *patternTable) matchColLength(_ *converter, cond string, _ existsQuery, _ bool) (Condition, bool) {
	m := p.colLength.FindStringSubmatch(cond)
	if m == nil {
		return nil, false
	}
	return ColumnExistsCondition{Not: m[3] == "", Table: objectName(m[1]), Column: strings.ToLower(m[2])}, true
}

func (p *patternTable) matchObjectID(_ *converter, cond string, _ existsQuery, _ bool) (Condition, bool) {
	m := p.objectID.FindStringSubmatch(cond)
	if m == nil {
		return nil, false
	}
	missing := m[3] == ""
	name := objectName(m[1])
	if isTempRef(m[1]) {
		return TempTableCondition{Name: name, Missing: missing}, true
	}
	var types []string
	if m[2] != "" {
		types = []string{strings.ToUpper(strings.TrimSpace(m[2]))}
	}
	return objectKindCondition(types, name, missing), true
}

// matchSysObjects handles sys.all_objects, sys.objects and sysobjects.
func (p *patternTable) matchSysObjects(_ *converter, _ string, q existsQuery, isExists bool) (Condition, bool) {
	if !isExists || q.Or {
		return nil, false
	}
	switch q.From {
	case "sys.all_objects", "sys.objects", "sysobjects":
	default:
		return nil, false
	}
	var name string
	var types []string
	for _, t := range q.Terms {
		switch {
		case (t.Left == "object_id" || t.Left == "id") && t.Kind == valueObjectID:
			name = t.Value
		case t.Left == "name" && t.Kind == valueString:
			name = t.Value
		case t.Left == "type" || t.Left == "xtype":
			types = typeValues(t)
		case t.Left == "" && strings.HasPrefix(strings.ToUpper(t.Raw), "OBJECTPROPERTY"):
			if strings.Contains(strings.ToLower(t.Raw), "isprocedure") {
				types = []string{"P"}
			}
		case t.Left == "parent_object_id" || t.Left == "schema_id" || t.Left == "uid":
		default:
			return nil, false
		}
	}
	if name == "" {
		return nil, false
	}
	return objectKindCondition(types, objectName(name), q.Not), true
}

// matchCatalogView handles sys.tables, sys.views, sys.procedures,
// sys.schemas, constraint views and their INFORMATION_SCHEMA counterparts.
func (p *patternTable) matchCatalogView(_ *converter, _ string, q existsQuery, isExists bool) (Condition, bool) {
	if !isExists || q.Or {
		return nil, false
	}
	var name string
	for _, t := range q.Terms {
		switch {
		case (t.Left == "name" || t.Left == "table_name" || t.Left == "schema_name" ||
			t.Left == "routine_name" || t.Left == "constraint_name") && t.Kind == valueString:
			name = t.Value
		case t.Left == "object_id" && t.Kind == valueObjectID:
			name = t.Value
		case t.Left == "schema_id" || t.Left == "table_schema" || t.Left == "table_type" ||
			t.Left == "routine_schema" || t.Left == "routine_type" || t.Left == "type" ||
			t.Left == "parent_object_id" || t.Left == "table_catalog":
		default:
			return nil, false
		}
	}
	if name == "" {
		return nil, false
	}
	obj := objectName(name)
	switch q.From {
	case "sys.tables", "sys.views", "information_schema.tables", "information_schema.views":
		return RelationCondition{Name: obj, Missing: q.Not}, true
	case "sys.procedures", "information_schema.routines":
		return ProcedureCondition{Not: q.Not, Name: obj}, true
	case "sys.schemas", "information_schema.schemata":
		return SchemaCondition{Not: q.Not, Name: strings.ToLower(name)}, true
	case "sys.foreign_keys", "sys.key_constraints", "sys.check_constraints",
		"sys.default_constraints", "information_schema.table_constraints":
		return ConstraintCondition{Not: q.Not, Name: obj}, true
	}
	return nil, false
}

// matchIndex handles sys.indexes and sysindexes lookups, including the
// TOP 1 primary-key form.
func (p *patternTable) matchIndex(_ *converter, _ string, q existsQuery, isExists bool) (Condition, bool) {
	if !isExists || q.Or {
		return nil, false
	}
	if q.From != "sys.indexes" && q.From != "sysindexes" {
		return nil, false
	}
	var name, table string
	primary := false
	for _, t := range q.Terms {
		switch {
		case t.Left == "name" && t.Kind == valueString:
			name = t.Value
		case (t.Left == "object_id" || t.Left == "id") && t.Kind == valueObjectID:
			table = t.Value
		case t.Left == "is_primary_key" && t.Kind == valueNumber:
			primary = t.Value == "1"
		case t.Left == "is_unique" || t.Left == "type" || t.Left == "type_desc" || t.Left == "is_unique_constraint":
		default:
			return nil, false
		}
	}
	switch {
	case name != "":
		return IndexCondition{Not: q.Not, Name: strings.ToLower(name)}, true
	case primary && table != "":
		return PrimaryKeyCondition{Not: q.Not, Table: objectName(table)}, true
	}
	return nil, false
}

// renderValue renders a term's right-hand side for row lookups.
func renderValue(t term) (string, bool) {
	switch t.Kind {
	case valueString:
		return quoteString(t.Value), true
	case valueNumber:
		return t.Value, true
	case valueVariable:
		return varName(t.Value), true
	}
	return "", false
}

// matchRowValues passes multi-column row lookups through with the names
// as written.
func (p *patternTable) matchRowValues(_ *converter, _ string, q existsQuery, isExists bool) (Condition, bool) {
	if !isExists || !q.Simple || len(q.Terms) < 2 || isCatalog(q.From) || q.From == "" {
		return nil, false
	}
	if strings.HasPrefix(q.From, "#") {
		return nil, false
	}
	var terms []string
	for _, t := range q.Terms {
		v, ok := renderValue(t)
		if !ok || t.Op != "=" {
			return nil, false
		}
		terms = append(terms, t.Raw+" = "+v)
	}
	return RowValuesCondition{Not: q.Not, Table: q.RawFrom, Terms: terms}, true
}

// matchRow handles a single equality over a user table.
func (p *patternTable) matchRow(_ *converter, _ string, q existsQuery, isExists bool) (Condition, bool) {
	if !isExists || !q.Simple || len(q.Terms) != 1 || isCatalog(q.From) || q.From == "" {
		return nil, false
	}
	if strings.HasPrefix(q.From, "#") {
		return nil, false
	}
	t := q.Terms[0]
	if t.Op != "=" {
		return nil, false
	}
	var value string
	switch t.Kind {
	case valueString, valueNumber:
		value = quoteString(t.Value)
	case valueVariable:
		value = varName(t.Value)
	default:
		return nil, false
	}
	return RowCondition{Not: q.Not, Table: qualifiedIdent(q.RawFrom), Column: pgIdent(t.Raw), Value: value}, true
}

// qualifiedIdent lower-cases and quotes each part of a dotted name.
func qualifiedIdent(name string) string {
	parts := strings.Split(name, ".")
	for i, part := range parts {
		parts[i] = pgIdent(part)
	}
	return strings.Join(parts, ".")
}

// matchSubquery rewrites any other EXISTS test over user tables.
func (p *patternTable) matchSubquery(c *converter, _ string, q existsQuery, isExists bool) (Condition, bool) {
	if !isExists || mentionsCatalog(q.Inner) {
		return nil, false
	}
	sql := strings.TrimSpace(c.rewriteClause(q.Inner))
	if residue(sql) != "" {
		return nil, false
	}
	return SubqueryCondition{Not: q.Not, Query: sql}, true
}

// matchExpression accepts scalar conditions over variables, literals and
// ordinary functions.
func (p *patternTable) matchExpression(c *converter, cond string, _ existsQuery, isExists bool) (Condition, bool) {
	if isExists || cond == "" || mentionsCatalog(cond) {
		return nil, false
	}
	toks := Tokenize(cond)
	for _, t := range toks {
		if t.Is("EXISTS", "SELECT") {
			return nil, false
		}
	}
	sql := strings.TrimSpace(c.rewriteClause(cond))
	if residue(sql) != "" {
		return nil, false
	}
	return ExpressionCondition{Expr: sql}, true
}

// convertCondition converts an IF or WHILE condition. When the whole
// condition matches no shape, top-level AND / OR operands are recognized
// one by one.
func (c *converter) convertCondition(cond string) (string, bool) {
	got, ok := c.recognizeCondition(cond)
	if !ok {
		return "", false
	}
	return got.SQL(), true
}

func (c *converter) recognizeCondition(cond string) (Condition, bool) {
	norm := normalizeCondition(cond, c.opts.Schema)
	if got, _, ok := c.patterns.recognize(c, norm); ok {
		return got, true
	}
	parts, ops := splitBoolean(norm)
	if len(parts) < 2 {
		return nil, false
	}
	var compound CompoundCondition
	for _, part := range parts {
		got, _, ok := c.patterns.recognize(c, unwrapParens(part))
		if !ok {
			return nil, false
		}
		if needsParens(got) {
			got = ExpressionCondition{Expr: "(" + got.SQL() + ")"}
		}
		compound.Parts = append(compound.Parts, got)
	}
	compound.Ops = ops
	return compound, true
}

// needsParens reports whether a recognized operand should be wrapped when
// joined with AND / OR.
func needsParens(c Condition) bool {
	e, ok := c.(ExpressionCondition)
	if !ok {
		return false
	}
	toks := Tokenize(e.Expr)
	for _, t := range toks {
		if t.Is("AND", "OR") {
			return true
		}
	}
	return false
}

// splitBoolean splits a condition at top-level AND / OR.
func splitBoolean(cond string) ([]string, []string) {
	toks := Tokenize(cond)
	var parts, ops []string
	depth, start := 0, 0
	between := false
	for j, t := range toks {
		switch {
		case t.IsPunct("("):
			depth++
		case t.IsPunct(")"):
			depth--
		case depth == 0 && t.Is("BETWEEN"):
			between = true
		case depth == 0 && t.Is("AND") && between:
			between = false
		case depth == 0 && t.Is("AND", "OR"):
			parts = append(parts, strings.TrimSpace(Join(toks[start:j])))
			ops = append(ops, t.Upper())
			start = j + 1
		}
	}
	parts = append(parts, strings.TrimSpace(Join(toks[start:])))
	return parts, ops
}
