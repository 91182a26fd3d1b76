package transpiler

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// callRewrite converts one function call given its already rewritten
// arguments. ok is false when the call is left as it was.
type callRewrite func(args []string) (string, bool)

// functionRewrites maps upper-case T-SQL function names to their
// PostgreSQL rewrite.
var functionRewrites map[string]callRewrite

func init() {
	functionRewrites = map[string]callRewrite{
		"CONVERT":        rewriteConvert,
		"CAST":           rewriteCast,
		"DATEADD":        rewriteDateAdd,
		"DATEDIFF":       rewriteDateDiff,
		"DATEPART":       rewriteDatePart,
		"IIF":            rewriteIIF,
		"CHARINDEX":      rewriteCharIndex,
		"ISNULL":         renameCall("COALESCE"),
		"LEN":            renameCall("LENGTH"),
		"CEILING":        renameCall("CEIL"),
		"YEAR":           extractCall("YEAR"),
		"MONTH":          extractCall("MONTH"),
		"DAY":            extractCall("DAY"),
		"GETDATE":        constCall("NOW()"),
		"SYSDATETIME":    constCall("NOW()"),
		"GETUTCDATE":     constCall("TIMEZONE('UTC', NOW())"),
		"SYSUTCDATETIME": constCall("TIMEZONE('UTC', NOW())"),
		"NEWID":          constCall("gen_random_uuid()"),
		"ERROR_MESSAGE":  constCall("SQLERRM"),
		"ERROR_NUMBER":   constCall("SQLSTATE"),
		"ERROR_SEVERITY": constCall("16"),
		"ERROR_STATE":    constCall("1"),
		"SUSER_SNAME":    constCall("current_user"),
		"USER_NAME":      constCall("current_user"),
		"HOST_NAME":      constCall("inet_client_addr()::text"),
		"DB_NAME":        constCall("current_database()"),
	}
}

func renameCall(name string) callRewrite {
	return func(args []string) (string, bool) {
		return name + "(" + strings.Join(args, ", ") + ")", true
	}
}

func constCall(text string) callRewrite {
	return func(args []string) (string, bool) {
		if len(args) != 0 {
			return "", false
		}
		return text, true
	}
}

func extractCall(field string) callRewrite {
	return func(args []string) (string, bool) {
		if len(args) != 1 {
			return "", false
		}
		return fmt.Sprintf("EXTRACT(%s FROM %s)", field, args[0]), true
	}
}

// rewriteFunctions rewrites every known function call in sql, innermost
// arguments first.
func rewriteFunctions(sql string) string {
	return rewriteCalls(sql, functionRewrites)
}

// rewriteCalls walks the tokens of sql and replaces calls to functions
// named in handlers. Arguments are rewritten recursively before the handler
// sees them, so nested calls compose.
func rewriteCalls(sql string, handlers map[string]callRewrite) string {
	toks := Tokenize(sql)
	var sb strings.Builder
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		h, known := handlers[t.Upper()]
		if !known || !t.IsWord() {
			sb.WriteString(t.Text)
			continue
		}
		if p := prevSignificant(toks, i); p >= 0 && toks[p].IsPunct(".") {
			sb.WriteString(t.Text)
			continue
		}
		open := significant(toks, i+1)
		if !toks[open].IsPunct("(") {
			sb.WriteString(t.Text)
			continue
		}
		close, ok := matchParenToken(toks, open)
		if !ok {
			sb.WriteString(t.Text)
			continue
		}
		var args []string
		for _, arg := range splitTopLevel(toks[open+1 : close]) {
			args = append(args, rewriteCalls(Join(arg), handlers))
		}
		trimmed := make([]string, 0, len(args))
		for _, a := range args {
			if s := strings.TrimSpace(a); s != "" || len(args) > 1 {
				trimmed = append(trimmed, s)
			}
		}
		if out, ok := h(trimmed); ok {
			sb.WriteString(out)
		} else {
			sb.WriteString(Join(toks[i:open+1]) + strings.Join(args, ",") + ")")
		}
		i = close
	}
	return sb.String()
}

// splitTopLevel splits toks at commas outside parentheses. An empty input
// yields no parts.
func splitTopLevel(toks []Token) [][]Token {
	var parts [][]Token
	depth, start := 0, 0
	for j, t := range toks {
		switch {
		case t.IsPunct("("):
			depth++
		case t.IsPunct(")"):
			depth--
		case t.IsPunct(",") && depth == 0:
			parts = append(parts, toks[start:j])
			start = j + 1
		}
	}
	tail := toks[start:]
	if len(parts) == 0 && strings.TrimSpace(Join(tail)) == "" {
		return nil
	}
	return append(parts, tail)
}

// splitTopLevelText splits sql at top-level commas, returning trimmed parts.
func splitTopLevelText(sql string) []string {
	toks := Tokenize(sql)
	var out []string
	for _, p := range splitTopLevel(toks[:len(toks)-1]) {
		out = append(out, strings.TrimSpace(Join(p)))
	}
	return out
}

// rewriteConvert turns CONVERT(type, expr[, style]) into CAST(expr AS type).
// The style argument is dropped.
func rewriteConvert(args []string) (string, bool) {
	if len(args) < 2 || len(args) > 3 {
		return "", false
	}
	return fmt.Sprintf("CAST(%s AS %s)", args[1], MapTypeText(args[0])), true
}

// rewriteCast maps the target type of CAST(expr AS type).
func rewriteCast(args []string) (string, bool) {
	if len(args) != 1 {
		return "", false
	}
	toks := Tokenize(args[0])
	as := -1
	depth := 0
	for j, t := range toks {
		switch {
		case t.IsPunct("("):
			depth++
		case t.IsPunct(")"):
			depth--
		case depth == 0 && t.Is("AS"):
			as = j
		}
	}
	if as < 0 {
		return "", false
	}
	expr := strings.TrimSpace(Join(toks[:as]))
	typ := strings.TrimSpace(Join(toks[as+1:]))
	return fmt.Sprintf("CAST(%s AS %s)", expr, MapTypeText(typ)), true
}

// dateParts maps DATEADD/DATEDIFF part names and abbreviations to an
// interval unit and a multiplier.
var dateParts = map[string]struct {
	unit string
	mult int64
}{
	"year": {"year", 1}, "yy": {"year", 1}, "yyyy": {"year", 1},
	"quarter": {"month", 3}, "qq": {"month", 3}, "q": {"month", 3},
	"month": {"month", 1}, "mm": {"month", 1}, "m": {"month", 1},
	"dayofyear": {"day", 1}, "dy": {"day", 1}, "y": {"day", 1},
	"day": {"day", 1}, "dd": {"day", 1}, "d": {"day", 1},
	"week": {"week", 1}, "wk": {"week", 1}, "ww": {"week", 1},
	"weekday": {"day", 1}, "dw": {"day", 1}, "w": {"day", 1},
	"hour": {"hour", 1}, "hh": {"hour", 1},
	"minute": {"minute", 1}, "mi": {"minute", 1}, "n": {"minute", 1},
	"second": {"second", 1}, "ss": {"second", 1}, "s": {"second", 1},
	"millisecond": {"millisecond", 1}, "ms": {"millisecond", 1},
	"microsecond": {"microsecond", 1}, "mcs": {"microsecond", 1},
}

func datePart(arg string) (string, int64, bool) {
	p := strings.ToLower(strings.Trim(strings.TrimSpace(arg), `'"[]`))
	dp, ok := dateParts[p]
	return dp.unit, dp.mult, ok
}

// numericLiteral parses a possibly signed, possibly parenthesized numeric
// literal such as "-30", "( 5 )" or "- 1.5".
func numericLiteral(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	for strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") && MatchParen(s, 0) == len(s)-1 {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	neg := false
	if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		neg = s[0] == '-'
		s = strings.TrimSpace(s[1:])
	}
	if s == "" || strings.ContainsAny(s, " \t\n") {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if neg {
		d = d.Neg()
	}
	return d, true
}

// rewriteDateAdd turns DATEADD(part, amount, date) into interval
// arithmetic. Numeric amounts become a signed INTERVAL literal; expressions
// are cast to text and concatenated with the unit.
func rewriteDateAdd(args []string) (string, bool) {
	if len(args) != 3 {
		return "", false
	}
	unit, mult, ok := datePart(args[0])
	if !ok {
		return "", false
	}
	base := args[2]
	if n, ok := numericLiteral(args[1]); ok {
		n = n.Mul(decimal.NewFromInt(mult))
		op := "+"
		if n.IsNegative() {
			op = "-"
			n = n.Abs()
		}
		return fmt.Sprintf("%s %s INTERVAL '%s %s'", base, op, n.String(), unit), true
	}
	amount := args[1]
	if mult != 1 {
		amount = fmt.Sprintf("(%s) * %d", amount, mult)
	}
	return fmt.Sprintf("%s + ((%s)::text || ' %s')::interval", base, amount, unit), true
}

// rewriteDateDiff turns DATEDIFF(part, start, end) into date arithmetic.
func rewriteDateDiff(args []string) (string, bool) {
	if len(args) != 3 {
		return "", false
	}
	unit, _, ok := datePart(args[0])
	if !ok {
		return "", false
	}
	start, end := args[1], args[2]
	switch unit {
	case "day":
		return fmt.Sprintf("(CAST(%s AS date) - CAST(%s AS date))", end, start), true
	case "week":
		return fmt.Sprintf("((CAST(%s AS date) - CAST(%s AS date)) / 7)", end, start), true
	case "year":
		return fmt.Sprintf("(DATE_PART('year', %s) - DATE_PART('year', %s))::int", end, start), true
	case "month":
		return fmt.Sprintf("((DATE_PART('year', %s) - DATE_PART('year', %s)) * 12 + DATE_PART('month', %s) - DATE_PART('month', %s))::int", end, start, end, start), true
	case "hour":
		return fmt.Sprintf("FLOOR(EXTRACT(EPOCH FROM (%s - %s)) / 3600)::int", end, start), true
	case "minute":
		return fmt.Sprintf("FLOOR(EXTRACT(EPOCH FROM (%s - %s)) / 60)::int", end, start), true
	case "second":
		return fmt.Sprintf("FLOOR(EXTRACT(EPOCH FROM (%s - %s)))::int", end, start), true
	}
	return "", false
}

// rewriteDatePart turns DATEPART(part, date) into DATE_PART('part', date).
func rewriteDatePart(args []string) (string, bool) {
	if len(args) != 2 {
		return "", false
	}
	p := strings.ToLower(strings.Trim(args[0], `'"[]`))
	var field string
	switch p {
	case "weekday", "dw", "w":
		return fmt.Sprintf("(EXTRACT(DOW FROM %s) + 1)", args[1]), true
	case "quarter", "qq", "q":
		field = "quarter"
	case "dayofyear", "dy", "y":
		field = "doy"
	default:
		unit, _, ok := datePart(p)
		if !ok {
			return "", false
		}
		field = unit
	}
	return fmt.Sprintf("DATE_PART('%s', %s)", field, args[1]), true
}

// rewriteIIF turns IIF(cond, a, b) into a CASE expression.
func rewriteIIF(args []string) (string, bool) {
	if len(args) != 3 {
		return "", false
	}
	return fmt.Sprintf("CASE WHEN %s THEN %s ELSE %s END", args[0], args[1], args[2]), true
}

// rewriteCharIndex turns CHARINDEX(needle, haystack) into POSITION.
func rewriteCharIndex(args []string) (string, bool) {
	if len(args) != 2 {
		return "", false
	}
	return fmt.Sprintf("POSITION(%s IN %s)", args[0], args[1]), true
}
