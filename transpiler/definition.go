package transpiler

import (
	"strings"
)

// DefinitionWidth is the row width at which sp_helptext splits long lines.
const DefinitionWidth = 255

// RejoinDefinition reassembles an object definition returned as rows, such
// as the output of sp_helptext. A row of exactly width characters with no
// line break of its own was cut from a longer line and is joined to the
// next row, unless that row starts with UNION or a line comment, where a
// line break is put back. A width of zero or less means DefinitionWidth.
func RejoinDefinition(rows []string, width int) string {
	if width <= 0 {
		width = DefinitionWidth
	}
	var sb strings.Builder
	for i, row := range rows {
		sb.WriteString(row)
		if strings.HasSuffix(row, "\n") || i == len(rows)-1 {
			continue
		}
		if len([]rune(row)) < width {
			sb.WriteString("\n")
			continue
		}
		next := strings.TrimLeft(rows[i+1], " \t")
		if strings.HasPrefix(next, "--") || hasWordPrefix(next, "UNION") {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func hasWordPrefix(s, word string) bool {
	if len(s) < len(word) || !strings.EqualFold(s[:len(word)], word) {
		return false
	}
	return len(s) == len(word) || !isWordByte(s[len(word)])
}

// DescribeDefinition classifies a definition by its CREATE or ALTER header.
// Kind is "procedure" or "view", or "" for anything else; name is the
// unqualified lower-case object name.
func DescribeDefinition(def string) (kind, name string) {
	toks := Tokenize(def)
	f := significant(toks, 0)
	if !toks[f].Is("CREATE", "ALTER") {
		return "", ""
	}
	switch {
	case isProcedureHeader(toks, f):
		return "procedure", procedureName(toks)
	case isViewHeader(toks, f):
		name, _, _ := viewHeader(toks)
		return "view", name
	}
	return "", ""
}

// SplitBatches cuts a script at GO separator lines. Empty batches are
// dropped.
func SplitBatches(script string) []string {
	toks := Tokenize(script)
	var batches []string
	start := 0
	flush := func(end int) {
		if text := strings.TrimSpace(Join(toks[start:end])); text != "" {
			batches = append(batches, text)
		}
	}
	for i := 0; i < len(toks); i++ {
		if !toks[i].Is("GO") || !isLineStart(toks, i) {
			continue
		}
		j := i + 1
		for toks[j].Kind == TokenWhitespace || toks[j].Kind == TokenNumber || toks[j].IsPunct(";") {
			j++
		}
		if toks[j].Kind != TokenNewline && toks[j].Kind != TokenEndOfInput {
			continue
		}
		flush(i)
		start = j
		i = j
	}
	flush(len(toks))
	return batches
}
