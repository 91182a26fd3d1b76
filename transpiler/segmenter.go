package transpiler

import (
	"strings"
)

// StatementKind classifies a logical statement.
type StatementKind int

const (
	StmtGeneric StatementKind = iota
	StmtCreateProcedureHeader
	StmtBlockComment
	StmtLineComment
	StmtIfBlock
	StmtBeginEndBlock
	StmtTryCatchBlock
	StmtWhileBlock
	StmtCreateTableBlock
	StmtCreateViewBlock
	StmtBlank
)

var statementKindNames = map[StatementKind]string{
	StmtGeneric:               "Generic",
	StmtCreateProcedureHeader: "CreateProcedureHeader",
	StmtBlockComment:          "BlockComment",
	StmtLineComment:           "LineComment",
	StmtIfBlock:               "IfBlock",
	StmtBeginEndBlock:         "BeginEndBlock",
	StmtTryCatchBlock:         "TryCatchBlock",
	StmtWhileBlock:            "WhileBlock",
	StmtCreateTableBlock:      "CreateTableBlock",
	StmtCreateViewBlock:       "CreateViewBlock",
	StmtBlank:                 "Blank",
}

func (k StatementKind) String() string {
	if name, ok := statementKindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// Statement is a contiguous token range making up one logical T-SQL
// statement. Start and End index the token slice the statement was cut from.
type Statement struct {
	Kind   StatementKind
	Start  int
	End    int
	Tokens []Token

	// Malformed is set when the segmenter fell back to the rest of the
	// line because of unbalanced parentheses, quotes or blocks.
	Malformed bool
}

// Text returns the verbatim source of the statement.
func (s Statement) Text() string {
	return Join(s.Tokens)
}

// First returns the first non-trivia token of the statement.
func (s Statement) First() Token {
	for _, t := range s.Tokens {
		if !t.IsTrivia() && t.Kind != TokenEndOfInput {
			return t
		}
	}
	return Token{Kind: TokenEndOfInput}
}

// statementStarts are the words that begin a new statement when they open
// a line.
var statementStarts = map[string]bool{
	"SELECT": true, "INSERT": true, "UPDATE": true, "DELETE": true,
	"CREATE": true, "ALTER": true, "DROP": true, "IF": true, "BEGIN": true,
	"WITH": true, "DECLARE": true, "EXEC": true, "EXECUTE": true,
	"SET": true, "PRINT": true, "RETURN": true, "RAISERROR": true,
	"THROW": true, "TRUNCATE": true, "MERGE": true, "WHILE": true,
	"COMMIT": true, "ROLLBACK": true, "OPEN": true, "CLOSE": true,
	"FETCH": true, "DEALLOCATE": true, "GOTO": true, "USE": true,
	"GRANT": true, "BREAK": true, "CONTINUE": true, "WAITFOR": true,
	"SAVE": true,
}

// blockWords end a statement without starting one.
var blockWords = map[string]bool{"ELSE": true, "END": true}

func isStatementStart(t Token) bool {
	return t.IsWord() && statementStarts[t.Upper()]
}

// Segment splits toks into logical statements. Concatenating the text of
// every returned statement reproduces the input exactly.
func Segment(toks []Token) []Statement {
	var out []Statement
	cur := 0
	for cur < len(toks) && toks[cur].Kind != TokenEndOfInput {
		stmt, next := NextStatement(toks, cur)
		if next <= cur {
			break
		}
		out = append(out, stmt)
		cur = next
	}
	return out
}

// Remainder returns the unconsumed source text from cur to end of input.
func Remainder(toks []Token, cur int) string {
	if cur >= len(toks) {
		return ""
	}
	return Join(toks[cur:])
}

// NextStatement returns the logical statement starting at cur and the cursor
// just past it. Leading whitespace belongs to the returned statement. At end
// of input the statement is empty and next equals cur.
func NextStatement(toks []Token, cur int) (Statement, int) {
	f := cur
	for f < len(toks) && (toks[f].Kind == TokenWhitespace || toks[f].Kind == TokenNewline) {
		f++
	}
	if f >= len(toks) || toks[f].Kind == TokenEndOfInput {
		if f >= len(toks) {
			f = len(toks) - 1
		}
		return makeStatement(toks, StmtBlank, cur, f), f
	}

	t := toks[f]
	switch {
	case t.Kind == TokenBlockComment:
		end := absorbLineTail(toks, f+1, false)
		return makeStatement(toks, StmtBlockComment, cur, end), end
	case t.Kind == TokenLineComment:
		end := lineEnd(toks, f)
		return makeStatement(toks, StmtLineComment, cur, end), end
	case t.Is("CREATE", "ALTER") && isProcedureHeader(toks, f):
		return cutHeader(toks, cur, f)
	case t.Is("CREATE", "ALTER") && isViewHeader(toks, f):
		end := len(toks) - 1
		return makeStatement(toks, StmtCreateViewBlock, cur, end), end
	case t.Is("CREATE") && toks[significant(toks, f+1)].Is("TABLE"):
		if end, ok := scanCreateTable(toks, f); ok {
			return makeStatement(toks, StmtCreateTableBlock, cur, end), end
		}
	case t.Is("IF"):
		if shape, ok := scanIf(toks, f); ok {
			stmt := makeStatement(toks, StmtIfBlock, cur, shape.end)
			return stmt, shape.end
		}
		return malformed(toks, cur, f)
	case t.Is("WHILE"):
		if end, ok := scanWhile(toks, f); ok {
			return makeStatement(toks, StmtWhileBlock, cur, end), end
		}
		return malformed(toks, cur, f)
	case t.Is("BEGIN") && !isTransactionBegin(toks, f):
		kind := StmtBeginEndBlock
		if toks[significant(toks, f+1)].Is("TRY") {
			kind = StmtTryCatchBlock
		}
		end, ok := matchEnd(toks, f)
		if !ok {
			return malformed(toks, cur, f)
		}
		if kind == StmtTryCatchBlock {
			c := significant(toks, end)
			if toks[c].Is("BEGIN") && toks[significant(toks, c+1)].Is("CATCH") {
				if cend, ok := matchEnd(toks, c); ok {
					end = cend
				}
			}
		}
		end = absorbLineTail(toks, end, true)
		return makeStatement(toks, kind, cur, end), end
	}

	end, ok := scanGeneric(toks, f)
	if !ok {
		return malformed(toks, cur, f)
	}
	return makeStatement(toks, StmtGeneric, cur, end), end
}

func makeStatement(toks []Token, kind StatementKind, start, end int) Statement {
	return Statement{Kind: kind, Start: start, End: end, Tokens: toks[start:end]}
}

// malformed falls back to the rest of the line starting at f.
func malformed(toks []Token, cur, f int) (Statement, int) {
	end := lineEnd(toks, f)
	stmt := makeStatement(toks, StmtGeneric, cur, end)
	stmt.Malformed = true
	return stmt, end
}

// absorbLineTail extends end over trailing whitespace, an optional ';' and,
// when allowComment is set, a trailing line comment, through the newline.
// If anything else follows on the line, end is returned unchanged (or just
// past the ';').
func absorbLineTail(toks []Token, end int, allowComment bool) int {
	j := end
	for toks[j].Kind == TokenWhitespace {
		j++
	}
	if toks[j].IsPunct(";") {
		j++
		end = j
		for toks[j].Kind == TokenWhitespace {
			j++
		}
	}
	if allowComment && toks[j].Kind == TokenLineComment {
		j++
	}
	switch toks[j].Kind {
	case TokenNewline:
		return j + 1
	case TokenEndOfInput:
		return j
	}
	return end
}

func isTransactionBegin(toks []Token, f int) bool {
	return toks[significant(toks, f+1)].Is("TRAN", "TRANSACTION", "DISTRIBUTED", "DIALOG", "CONVERSATION")
}

func isProcedureHeader(toks []Token, f int) bool {
	j := significant(toks, f+1)
	if toks[j].Is("OR") {
		j = significant(toks, significant(toks, j+1)+1)
	}
	return toks[j].Is("PROC", "PROCEDURE")
}

func isViewHeader(toks []Token, f int) bool {
	j := significant(toks, f+1)
	if toks[j].Is("OR") {
		j = significant(toks, significant(toks, j+1)+1)
	}
	return toks[j].Is("VIEW")
}

// cutHeader consumes a CREATE PROCEDURE header through its terminating AS.
// The terminating AS sits at paren depth zero, is not part of EXECUTE AS,
// and is followed by a line break, BEGIN, or a statement keyword.
func cutHeader(toks []Token, cur, f int) (Statement, int) {
	depth := 0
	for j := f + 1; toks[j].Kind != TokenEndOfInput; j++ {
		t := toks[j]
		switch {
		case t.IsPunct("("):
			depth++
		case t.IsPunct(")"):
			depth--
		case depth == 0 && t.Is("AS"):
			if p := prevSignificant(toks, j); p >= 0 && toks[p].Is("EXECUTE", "EXEC") {
				continue
			}
			n := significant(toks, j+1)
			if toks[n].Kind == TokenEndOfInput || toks[n].Line > t.Line || toks[n].Is("BEGIN") || isStatementStart(toks[n]) {
				end := absorbLineTail(toks, j+1, true)
				return makeStatement(toks, StmtCreateProcedureHeader, cur, end), end
			}
		}
	}
	stmt, end := malformed(toks, cur, f)
	stmt.Kind = StmtCreateProcedureHeader
	return stmt, end
}

// scanCreateTable consumes CREATE TABLE name ( ... ) and its line tail.
func scanCreateTable(toks []Token, f int) (int, bool) {
	j := f
	for toks[j].Kind != TokenEndOfInput && !toks[j].IsPunct("(") {
		j++
	}
	if toks[j].Kind == TokenEndOfInput {
		return 0, false
	}
	close, ok := matchParenToken(toks, j)
	if !ok {
		return 0, false
	}
	end := close + 1
	// Table options such as ON [PRIMARY] or WITH (...) trail the column list.
	for {
		n := significant(toks, end)
		if toks[n].Is("ON", "TEXTIMAGE_ON") && toks[n].Line == toks[close].Line {
			end = significant(toks, n+1) + 1
			continue
		}
		break
	}
	return absorbLineTail(toks, end, true), true
}

// matchParenToken returns the index of the ')' matching the '(' at open.
func matchParenToken(toks []Token, open int) (int, bool) {
	depth := 0
	for j := open; toks[j].Kind != TokenEndOfInput; j++ {
		switch {
		case toks[j].IsPunct("("):
			depth++
		case toks[j].IsPunct(")"):
			depth--
			if depth == 0 {
				return j, true
			}
		}
	}
	return 0, false
}

// matchEnd returns the index just past the END (and its TRY/CATCH
// qualifier) matching the BEGIN at begin. CASE ... END pairs are counted;
// BEGIN TRAN is not.
func matchEnd(toks []Token, begin int) (int, bool) {
	depth := 0
	for j := begin; toks[j].Kind != TokenEndOfInput; j++ {
		t := toks[j]
		switch {
		case t.Is("BEGIN"):
			if !isTransactionBegin(toks, j) {
				depth++
			}
		case t.Is("CASE"):
			depth++
		case t.Is("END"):
			depth--
			if depth == 0 {
				n := significant(toks, j+1)
				if toks[n].Is("TRY", "CATCH") {
					return n + 1, true
				}
				return j + 1, true
			}
		}
	}
	return 0, false
}

// ifBranch is one IF or ELSE IF arm. Indices are absolute token positions.
type ifBranch struct {
	condStart, condEnd int
	bodyStart, bodyEnd int
}

type ifShape struct {
	branches  []ifBranch
	elseStart int // -1 when there is no ELSE arm
	elseEnd   int
	end       int
}

// scanIf parses IF cond body [ELSE IF cond body]... [ELSE body] starting at
// the IF token f.
func scanIf(toks []Token, f int) (ifShape, bool) {
	shape := ifShape{elseStart: -1}
	at := f
	for {
		br, ok := scanConditionalArm(toks, at)
		if !ok {
			return shape, false
		}
		shape.branches = append(shape.branches, br)
		shape.end = br.bodyEnd

		e := significantSkipComments(toks, br.bodyEnd)
		if !toks[e].Is("ELSE") {
			break
		}
		n := significant(toks, e+1)
		if toks[n].Is("IF") {
			at = n
			continue
		}
		bs, be, ok := scanBody(toks, n)
		if !ok {
			return shape, false
		}
		shape.elseStart, shape.elseEnd = bs, be
		shape.end = be
		break
	}
	return shape, true
}

// scanWhile parses WHILE cond body.
func scanWhile(toks []Token, f int) (int, bool) {
	br, ok := scanConditionalArm(toks, f)
	if !ok {
		return 0, false
	}
	return br.bodyEnd, true
}

// scanConditionalArm parses KEYWORD cond body where KEYWORD is at f. The
// condition ends at the first BEGIN or statement keyword at paren depth zero.
func scanConditionalArm(toks []Token, f int) (ifBranch, bool) {
	br := ifBranch{condStart: f + 1}
	depth := 0
	j := f + 1
	for ; toks[j].Kind != TokenEndOfInput; j++ {
		t := toks[j]
		if t.IsPunct("(") {
			depth++
			continue
		}
		if t.IsPunct(")") {
			depth--
			continue
		}
		if depth == 0 && (isStatementStart(t) || t.Is("BEGIN")) && j > significant(toks, f+1) {
			break
		}
	}
	if toks[j].Kind == TokenEndOfInput || depth != 0 {
		return br, false
	}
	br.condEnd = j
	bs, be, ok := scanBody(toks, j)
	if !ok {
		return br, false
	}
	br.bodyStart, br.bodyEnd = bs, be
	return br, true
}

// scanBody parses the body of an IF, ELSE or WHILE at b: either a
// BEGIN ... END block or a single logical statement.
func scanBody(toks []Token, b int) (int, int, bool) {
	if toks[b].Is("BEGIN") && !isTransactionBegin(toks, b) && !toks[significant(toks, b+1)].Is("TRY") {
		end, ok := matchEnd(toks, b)
		if !ok {
			return 0, 0, false
		}
		return b, absorbLineTail(toks, end, true), true
	}
	stmt, end := NextStatement(toks, b)
	if stmt.Malformed || end <= b {
		return 0, 0, false
	}
	return b, end, true
}

// significantSkipComments is significant but also steps over comments, so
// that a comment between END and ELSE does not detach the ELSE arm.
func significantSkipComments(toks []Token, i int) int {
	for i < len(toks)-1 && toks[i].IsTrivia() {
		i++
	}
	return i
}

// scanGeneric consumes an ordinary statement starting at f. It ends at a
// top-level ';', before a line opening with a statement keyword, ELSE or
// END, or before a comment that precedes such a line.
func scanGeneric(toks []Token, f int) (int, bool) {
	st := genericState{first: toks[f].Upper()}
	if st.first == "WITH" {
		st.cte = true
	}
	depth, caseDepth := 0, 0
	for j := f + 1; ; j++ {
		t := toks[j]
		if t.Kind == TokenEndOfInput {
			if depth > 0 || unterminated(toks[j-1]) {
				return 0, false
			}
			return j, true
		}
		switch {
		case t.IsPunct("("):
			depth++
			continue
		case t.IsPunct(")"):
			if depth > 0 {
				depth--
			}
			continue
		case t.IsPunct(";") && depth == 0 && caseDepth == 0:
			return absorbLineTail(toks, j+1, true), true
		}
		if depth > 0 {
			continue
		}
		if t.Is("CASE") {
			caseDepth++
		}
		if t.Is("END") && caseDepth > 0 {
			caseDepth--
			continue
		}
		if t.Is("ELSE") && caseDepth == 0 {
			return lineStartIndex(toks, j), true
		}
		if !isLineStart(toks, j) {
			st.observe(toks, j)
			continue
		}
		if t.IsComment() {
			if commentEndsStatement(toks, j, st, caseDepth) {
				return lineStartIndex(toks, j), true
			}
			continue
		}
		if caseDepth == 0 && breaksStatement(toks, j, &st) {
			return lineStartIndex(toks, j), true
		}
		st.observe(toks, j)
	}
}

// genericState tracks the clauses seen so far so that keywords continuing
// the same statement are not taken as new statements.
type genericState struct {
	first     string
	cte       bool // statement opened with WITH and main query not yet seen
	sawSelect bool
	sawSet    bool
}

func (st *genericState) observe(toks []Token, j int) {
	t := toks[j]
	switch {
	case t.Is("SELECT", "VALUES"):
		st.sawSelect = true
	case t.Is("SET"):
		st.sawSet = true
	}
}

// breaksStatement reports whether the line-opening token at j starts a new
// statement, updating st when the token continues the current one.
func breaksStatement(toks []Token, j int, st *genericState) bool {
	t := toks[j]
	if t.IsWord() && blockWords[t.Upper()] {
		return true
	}
	if !isStatementStart(t) {
		return false
	}
	if st.first == "MERGE" {
		return false
	}
	word := t.Upper()
	prev := prevSignificant(toks, j)
	switch word {
	case "SELECT":
		if prev >= 0 && toks[prev].Is("UNION", "ALL", "EXCEPT", "INTERSECT") {
			return false
		}
		if st.first == "INSERT" && !st.sawSelect {
			st.sawSelect = true
			return false
		}
	case "SET":
		if st.first == "UPDATE" && !st.sawSet {
			st.sawSet = true
			return false
		}
	case "EXEC", "EXECUTE":
		if st.first == "INSERT" && !st.sawSelect {
			st.sawSelect = true
			return false
		}
	case "WITH":
		if toks[significant(toks, j+1)].IsPunct("(") {
			return false
		}
	}
	if st.cte {
		switch word {
		case "SELECT", "INSERT", "UPDATE", "DELETE", "MERGE":
			st.cte = false
			st.first = word
			return false
		}
	}
	return true
}

// commentEndsStatement reports whether the comment line at j is followed
// (past blank lines and further comments) by end of input or by a line that
// breaks the statement.
func commentEndsStatement(toks []Token, j int, st genericState, caseDepth int) bool {
	if caseDepth > 0 {
		return false
	}
	n := significantSkipComments(toks, j)
	if toks[n].Kind == TokenEndOfInput {
		return true
	}
	if !opensLine(toks, n) {
		return false
	}
	next := st
	return breaksStatement(toks, n, &next)
}

// opensLine is isLineStart that also steps back over block comments, so
// the keyword in "/* note */ SELECT" opens its line.
func opensLine(toks []Token, i int) bool {
	for j := i - 1; j >= 0; j-- {
		switch toks[j].Kind {
		case TokenWhitespace:
			continue
		case TokenBlockComment:
			if strings.Contains(toks[j].Text, "\n") {
				return true
			}
			continue
		case TokenNewline:
			return true
		default:
			return false
		}
	}
	return true
}

// lineStartIndex returns the index of the first token on the line holding
// toks[j], so that the line's indentation stays with the next statement.
func lineStartIndex(toks []Token, j int) int {
	for j > 0 && toks[j-1].Kind == TokenWhitespace {
		j--
	}
	return j
}

// unterminated reports whether a string, quoted identifier or block comment
// token ran off the end of input.
func unterminated(t Token) bool {
	s := t.Text
	switch t.Kind {
	case TokenString:
		s = strings.TrimPrefix(strings.TrimPrefix(s, "N"), "n")
		return len(s) < 2 || !strings.HasSuffix(s, "'") || strings.Count(s, "'")%2 != 0
	case TokenQuotedIdentifier:
		if strings.HasPrefix(s, "[") {
			return !strings.HasSuffix(s, "]") || len(s) < 2
		}
		return len(s) < 2 || !strings.HasSuffix(s, `"`) || strings.Count(s, `"`)%2 != 0
	case TokenBlockComment:
		return !strings.HasSuffix(s, "*/") || len(s) < 4
	}
	return false
}

// IfCondition returns the condition text of an IF statement: the tokens
// between IF and the start of its body, trimmed.
func IfCondition(stmt Statement) string {
	f := 0
	for f < len(stmt.Tokens) && stmt.Tokens[f].IsTrivia() {
		f++
	}
	if f >= len(stmt.Tokens) || !stmt.Tokens[f].Is("IF") {
		return ""
	}
	toks := withEOF(stmt.Tokens)
	br, ok := scanConditionalArm(toks, f)
	if !ok {
		return ""
	}
	return strings.TrimSpace(Join(toks[br.condStart:br.condEnd]))
}

// GetIfConditionSQL extracts the condition following IF in raw text.
// Parentheses are counted on tokens, so those inside string literals,
// quoted identifiers and comments are never structural.
func GetIfConditionSQL(sql string) string {
	return IfCondition(Statement{Tokens: Tokenize(strings.TrimSpace(sql))})
}

// MatchParen returns the index of the ')' matching the '(' at s[open],
// skipping string literals, quoted and bracketed identifiers and comments.
// It returns -1 when the group is unbalanced.
func MatchParen(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch c := s[i]; c {
		case '\'', '"', '[':
			closer := c
			if c == '[' {
				closer = ']'
			}
			i++
			for i < len(s) {
				if s[i] == closer {
					if i+1 < len(s) && s[i+1] == closer {
						i += 2
						continue
					}
					break
				}
				i++
			}
		case '-':
			if i+1 < len(s) && s[i+1] == '-' {
				for i < len(s) && s[i] != '\n' {
					i++
				}
			}
		case '/':
			if i+1 < len(s) && s[i+1] == '*' {
				if k := strings.Index(s[i+2:], "*/"); k >= 0 {
					i += k + 3
				} else {
					return -1
				}
			}
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// withEOF returns toks terminated by an end-of-input token.
func withEOF(toks []Token) []Token {
	if len(toks) > 0 && toks[len(toks)-1].Kind == TokenEndOfInput {
		return toks
	}
	out := make([]Token, len(toks), len(toks)+1)
	copy(out, toks)
	return append(out, Token{Kind: TokenEndOfInput})
}
