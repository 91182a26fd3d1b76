package transpiler

import (
	"fmt"
	"strings"
)

// ProcedureSource is a stored procedure as read from SQL Server.
type ProcedureSource struct {
	Name       string
	Definition string

	// Params holds parameter metadata from the catalog. When empty the
	// parameters are read from the definition's header. Defaults always
	// come from the header, since the catalog does not store them.
	Params []ProcParam
}

// ProcedureResult is a fully converted procedure.
type ProcedureResult struct {
	Name        string
	DDL         string
	Params      []ProcParam
	Declares    []DeclareItem
	Diagnostics []Diagnostic
}

// ConvertProcedure converts a stored procedure definition into a PL/pgSQL
// CREATE OR REPLACE PROCEDURE statement. The conversion is atomic: if any
// statement needs manual conversion, no DDL is produced and the returned
// error is an *IncompleteError holding both halves.
func (t *Transpiler) ConvertProcedure(src ProcedureSource) (*ProcedureResult, error) {
	toks := stripBatchSeparators(Tokenize(src.Definition))
	if significant(toks, 0) == len(toks)-1 {
		return nil, fmt.Errorf("procedure %s: %w", src.Name, ErrEmptyDefinition)
	}

	header, bodyStart := procedureHeader(toks)
	name := src.Name
	if name == "" && header != nil {
		name = procedureName(withEOF(header))
	}
	name = objectName(name)
	if name == "" {
		return nil, fmt.Errorf("procedure without a name: %w", ErrEmptyDefinition)
	}

	params := src.Params
	if len(params) == 0 && header != nil {
		var err error
		params, err = ParseParams(Join(header))
		if err != nil {
			return nil, fmt.Errorf("procedure %s: %w", name, err)
		}
	} else if header != nil {
		params = withHeaderDefaults(params, header)
	}

	c := t.newConverter(name)
	for _, p := range params {
		if isStringType(p.PGType) {
			c.stringVars[p.Name] = true
		}
	}
	paramList, err := c.renderParams(params)
	if err != nil {
		return nil, fmt.Errorf("procedure %s: %w", name, err)
	}

	body := c.convertProcedureBody(toks[bodyStart:])
	if body.NeedsConversion != "" {
		return nil, &IncompleteError{
			Kind:        "procedure",
			Object:      name,
			Converted:   body.Converted,
			Unconverted: body.NeedsConversion,
			Diagnostics: c.diags,
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "CREATE OR REPLACE PROCEDURE %s(%s)\nLANGUAGE plpgsql\nAS $$\n", pgQuoted(name), paramList)
	if decl := c.declares.render(); decl != "" {
		sb.WriteString(decl + "\n")
	}
	sb.WriteString("BEGIN\n")
	sb.WriteString(indent(bodyOrNull(body.Converted)))
	sb.WriteString("\nEND;\n$$;")

	return &ProcedureResult{
		Name:        name,
		DDL:         sb.String(),
		Params:      params,
		Declares:    c.declares.Items(),
		Diagnostics: c.diags,
	}, nil
}

// procedureHeader finds the CREATE PROCEDURE header. It returns the header
// tokens (nil when the definition holds only a body) and the index where
// the body starts. Comments in front of the header are dropped.
func procedureHeader(toks []Token) ([]Token, int) {
	cur := 0
	for {
		stmt, next := NextStatement(toks, cur)
		switch stmt.Kind {
		case StmtCreateProcedureHeader:
			return stmt.Tokens, next
		case StmtBlank, StmtBlockComment, StmtLineComment:
			if next <= cur {
				return nil, 0
			}
			cur = next
			continue
		}
		return nil, 0
	}
}

// convertProcedureBody converts the statements after the header. A single
// BEGIN ... END wrapping the whole body is the procedure block itself and
// is unwrapped; comments before it are kept.
func (c *converter) convertProcedureBody(toks []Token) Output {
	toks = withEOF(toks)
	b := significant(toks, 0)
	if toks[b].Is("BEGIN") && !isTransactionBegin(toks, b) && !toks[significant(toks, b+1)].Is("TRY") {
		if end, ok := matchEnd(toks, b); ok {
			rest := significant(toks, end)
			if toks[rest].IsPunct(";") {
				rest = significant(toks, rest+1)
			}
			if toks[rest].Kind == TokenEndOfInput {
				out := c.convertBody(toks[:b])
				out.append(c.convertBody(toks[b+1 : end-1]))
				return out
			}
		}
	}
	return c.convertBody(toks)
}

// stripBatchSeparators removes GO lines. A GO token counts only when it is
// alone on its line, optionally followed by a repeat count.
func stripBatchSeparators(toks []Token) []Token {
	out := make([]Token, 0, len(toks))
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if t.Is("GO") && isLineStart(toks, i) {
			j := i + 1
			for toks[j].Kind == TokenWhitespace {
				j++
			}
			if toks[j].Kind == TokenNumber {
				j++
				for toks[j].Kind == TokenWhitespace {
					j++
				}
			}
			if toks[j].IsPunct(";") {
				j++
			}
			if toks[j].Kind == TokenNewline || toks[j].Kind == TokenEndOfInput {
				i = j - 1
				continue
			}
		}
		out = append(out, t)
	}
	return out
}
