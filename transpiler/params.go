package transpiler

import (
	"fmt"
	"strings"

	"github.com/ha1tch/tsqlparser"
	"github.com/ha1tch/tsqlparser/ast"
)

// ProcParam is one stored procedure parameter.
type ProcParam struct {
	Name     string // lower case, no sigil
	PGType   string
	IsOutput bool
	Default  string // T-SQL default expression, "" when none
}

// headerParam is a parameter as written in a procedure header.
type headerParam struct {
	name     string
	typeText string
	def      string
	output   bool
}

// ParseParams derives the parameters of a CREATE PROCEDURE header. The
// header is parsed with tsqlparser for exact types; when the parser rejects
// it, types come from the header text instead.
func ParseParams(header string) ([]ProcParam, error) {
	toks := Tokenize(header)
	proc := procKeyword(toks)
	if proc < 0 {
		return nil, fmt.Errorf("not a procedure header: %q", firstLine(header))
	}
	raw := headerParams(toks, proc)
	typed := parsedParams(toks)

	params := make([]ProcParam, 0, len(raw))
	for i, hp := range raw {
		p := ProcParam{
			Name:     hp.name,
			PGType:   MapTypeText(hp.typeText),
			IsOutput: hp.output,
			Default:  hp.def,
		}
		if len(typed) == len(raw) && typed[i].Name == p.Name {
			p.PGType = typed[i].PGType
			p.IsOutput = typed[i].IsOutput
		}
		params = append(params, p)
	}
	return params, nil
}

// procKeyword returns the index of PROC / PROCEDURE in a header, or -1.
func procKeyword(toks []Token) int {
	for i := significant(toks, 0); toks[i].Kind != TokenEndOfInput; i = significant(toks, i+1) {
		if toks[i].Is("PROC", "PROCEDURE") {
			return i
		}
		if !toks[i].Is("CREATE", "ALTER", "OR", "REPLACE") {
			return -1
		}
	}
	return -1
}

// procedureName returns the unqualified lower-case name from a header.
func procedureName(toks []Token) string {
	proc := procKeyword(toks)
	if proc < 0 {
		return ""
	}
	n := significant(toks, proc+1)
	if !isNameToken(toks[n]) {
		return ""
	}
	return objectName(Join(toks[n : nameEnd(toks, n)+1]))
}

// parsedParams runs the header through tsqlparser with a stub body. It
// returns nil when the parser reports errors.
func parsedParams(toks []Token) []ProcParam {
	program, errs := tsqlparser.Parse(Join(toks[significant(toks, 0):]) + "\nBEGIN\n    RETURN\nEND")
	if len(errs) > 0 || program == nil {
		return nil
	}
	for _, stmt := range program.Statements {
		cp, ok := stmt.(*ast.CreateProcedureStatement)
		if !ok {
			continue
		}
		out := make([]ProcParam, 0, len(cp.Parameters))
		for _, p := range cp.Parameters {
			out = append(out, ProcParam{
				Name:     strings.ToLower(strings.TrimPrefix(p.Name, "@")),
				PGType:   mapASTType(p.DataType),
				IsOutput: p.Output,
			})
		}
		return out
	}
	return nil
}

// paramFlags end the type or default part of a parameter.
var paramFlags = map[string]bool{"OUTPUT": true, "OUT": true, "READONLY": true, "VARYING": true}

// headerParams reads the parameter list that follows the procedure name.
func headerParams(toks []Token, proc int) []headerParam {
	n := significant(toks, proc+1)
	if !isNameToken(toks[n]) {
		return nil
	}
	start := significant(toks, nameEnd(toks, n)+1)
	if toks[start].IsPunct(";") {
		start = significant(toks, significant(toks, start+1)+1) // ;number
	}
	var list []Token
	if toks[start].IsPunct("(") {
		close, ok := matchParenToken(toks, start)
		if !ok {
			return nil
		}
		list = toks[start+1 : close]
	} else {
		end := start
		depth := 0
		for ; toks[end].Kind != TokenEndOfInput; end++ {
			t := toks[end]
			if t.IsPunct("(") {
				depth++
			} else if t.IsPunct(")") {
				depth--
			} else if depth == 0 && (t.Is("AS", "WITH") || (t.Is("FOR") && toks[significant(toks, end+1)].Is("REPLICATION"))) {
				break
			}
		}
		list = toks[start:end]
	}

	var out []headerParam
	for _, part := range splitTopLevel(list) {
		el := significantTokens(part)
		if el[0].Kind != TokenVariable {
			continue
		}
		hp := headerParam{name: strings.ToLower(strings.TrimPrefix(el[0].Text, "@"))}
		i := 1
		if el[i].Is("AS") {
			i++
		}
		ts := i
		for el[i].Kind != TokenEndOfInput && !el[i].IsPunct("=") && !(el[i].IsWord() && paramFlags[el[i].Upper()]) {
			i++
		}
		hp.typeText = joinSpaced(el[ts:i])
		if el[i].IsPunct("=") {
			i++
			ds := i
			for el[i].Kind != TokenEndOfInput && !(el[i].IsWord() && paramFlags[el[i].Upper()]) {
				i++
			}
			hp.def = joinSpaced(el[ds:i])
		}
		for ; el[i].Kind != TokenEndOfInput; i++ {
			if el[i].Is("OUTPUT", "OUT") {
				hp.output = true
			}
		}
		out = append(out, hp)
	}
	return out
}

// renderParams builds the PostgreSQL parameter list. Defaults are kept only
// on the trailing run of defaulted parameters, since PostgreSQL requires
// every parameter after a defaulted one to have a default too.
func (c *converter) renderParams(params []ProcParam) (string, error) {
	keepFrom := len(params)
	for i := len(params) - 1; i >= 0 && params[i].Default != ""; i-- {
		keepFrom = i
	}
	parts := make([]string, 0, len(params))
	for i, p := range params {
		mode := "IN"
		if p.IsOutput {
			mode = "INOUT"
		}
		s := fmt.Sprintf("%s %s %s", mode, pgIdent(p.Name), p.PGType)
		if p.Default != "" && i >= keepFrom {
			v, reason := c.defaultValue(significantTokens(Tokenize(p.Default)), p.PGType)
			if reason != "" {
				return "", fmt.Errorf("parameter %s default: %s", p.Name, reason)
			}
			s += " DEFAULT " + v
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ", "), nil
}

// withHeaderDefaults copies catalog params, taking each default from the
// header parameter of the same name. An unparsable header adds nothing.
func withHeaderDefaults(params []ProcParam, header []Token) []ProcParam {
	parsed, err := ParseParams(Join(header))
	if err != nil {
		return params
	}
	defaults := make(map[string]string, len(parsed))
	for _, p := range parsed {
		defaults[p.Name] = p.Default
	}
	out := make([]ProcParam, len(params))
	for i, p := range params {
		if p.Default == "" {
			p.Default = defaults[p.Name]
		}
		out[i] = p
	}
	return out
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
