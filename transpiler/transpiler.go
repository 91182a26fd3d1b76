// Package transpiler converts SQL Server object definitions (stored
// procedures, views, tables) into PostgreSQL DDL.
//
// The pipeline works on one token model throughout: source text is split
// into verbatim tokens, carved into logical statements by the segmenter,
// matched against a catalog of known T-SQL shapes and rewritten. Statements
// that cannot be converted are collected rather than dropped, and an object
// holding any of them produces no DDL.
package transpiler

import (
	"strings"
)

// DefaultSchema is the schema prefix stripped from identifiers when no
// other is configured.
const DefaultSchema = "dbo"

// Options configures a Transpiler.
type Options struct {
	// Schema is the SQL Server schema whose prefix is removed from
	// qualified names. Empty means DefaultSchema.
	Schema string

	// ConditionOverrides replace specific IF conditions with fixed
	// PostgreSQL text. They are tried before any built-in shape.
	ConditionOverrides []ConditionOverride

	// ReplaceViews makes view DDL use CREATE OR REPLACE VIEW instead of a
	// guarded DROP preamble.
	ReplaceViews bool
}

// ConditionOverride maps one IF condition, compared after whitespace,
// bracket and case normalization, to a literal PostgreSQL condition.
type ConditionOverride struct {
	Match   string
	Replace string
}

// Output is the result of converting one statement or a run of
// statements. A statement contributes to exactly one of the two buffers, or
// to neither when it is a no-op.
type Output struct {
	Converted       string
	NeedsConversion string
}

func (o *Output) append(other Output) {
	o.Converted = appendBlock(o.Converted, other.Converted)
	o.NeedsConversion = appendBlock(o.NeedsConversion, other.NeedsConversion)
}

func appendBlock(dst, src string) string {
	src = strings.TrimRight(src, " \t\r\n")
	if strings.TrimSpace(src) == "" {
		return dst
	}
	src = strings.TrimLeft(src, "\r\n")
	if dst == "" {
		return src
	}
	return dst + "\n" + src
}

// Transpiler converts T-SQL object definitions. It holds only immutable
// configuration and is safe for concurrent use.
type Transpiler struct {
	opts     Options
	patterns *patternTable
}

// New creates a Transpiler. The pattern table is compiled once here and
// shared by every conversion.
func New(opts Options) *Transpiler {
	if opts.Schema == "" {
		opts.Schema = DefaultSchema
	}
	return &Transpiler{
		opts:     opts,
		patterns: newPatternTable(opts.ConditionOverrides),
	}
}

// Options returns the configuration the Transpiler was built with.
func (t *Transpiler) Options() Options {
	return t.opts
}

func (t *Transpiler) newConverter(object string) *converter {
	return &converter{
		opts:       t.opts,
		patterns:   t.patterns,
		object:     object,
		declares:   newDeclareSet(),
		stringVars: make(map[string]bool),
	}
}

// ConvertStatements converts a run of procedure-body statements without
// the procedure envelope. Declarations found in the text are rendered as
// plain DECLARE lines ahead of the converted statements.
func (t *Transpiler) ConvertStatements(object, sql string) (Output, []Diagnostic) {
	c := t.newConverter(object)
	out := c.convertBody(Tokenize(sql))
	if decl := c.declares.render(); decl != "" {
		out.Converted = appendBlock(decl, out.Converted)
	}
	return out, c.diags
}

// ConvertCondition converts a single IF condition (with or without the
// leading IF) into "IF <condition> THEN".
func (t *Transpiler) ConvertCondition(cond string) (string, error) {
	c := t.newConverter("")
	text := strings.TrimSpace(cond)
	if toks := Tokenize(text); toks[significant(toks, 0)].Is("IF") {
		text = strings.TrimSpace(Join(toks[significant(toks, 0)+1:]))
	}
	pg, ok := c.convertCondition(text)
	if !ok {
		return "", ErrUnrecognizedShape
	}
	return "IF " + pg + " THEN", nil
}

// Rewrite applies the generic clause rewrites to a single statement and
// reports any construct left that PostgreSQL cannot run.
func (t *Transpiler) Rewrite(sql string) (string, string) {
	c := t.newConverter("")
	out := c.rewriteStatement(sql)
	return out, residue(out)
}
