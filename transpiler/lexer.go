package transpiler

import (
	"strings"

	"github.com/ha1tch/tsqlparser/token"
)

// TokenKind classifies a lexical token.
type TokenKind int

const (
	TokenEndOfInput TokenKind = iota
	TokenKeyword
	TokenIdentifier
	TokenQuotedIdentifier
	TokenVariable
	TokenNumber
	TokenString
	TokenLineComment
	TokenBlockComment
	TokenWhitespace
	TokenNewline
	TokenPunctuation
)

var tokenKindNames = map[TokenKind]string{
	TokenEndOfInput:       "EndOfInput",
	TokenKeyword:          "Keyword",
	TokenIdentifier:       "Identifier",
	TokenQuotedIdentifier: "QuotedIdentifier",
	TokenVariable:         "Variable",
	TokenNumber:           "Number",
	TokenString:           "StringLiteral",
	TokenLineComment:      "LineComment",
	TokenBlockComment:     "BlockComment",
	TokenWhitespace:       "Whitespace",
	TokenNewline:          "Newline",
	TokenPunctuation:      "Punctuation",
}

func (k TokenKind) String() string {
	if name, ok := tokenKindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// Token is one verbatim slice of the source text. Concatenating the Text of
// a contiguous run of tokens reproduces the source exactly.
type Token struct {
	Kind   TokenKind
	Text   string
	Line   int // 1-indexed
	Column int // 1-indexed, in bytes
}

// IsWord reports whether the token is a bare word (keyword or identifier).
func (t Token) IsWord() bool {
	return t.Kind == TokenKeyword || t.Kind == TokenIdentifier
}

// Is reports whether the token is a bare word equal to one of words,
// ignoring case.
func (t Token) Is(words ...string) bool {
	if !t.IsWord() {
		return false
	}
	for _, w := range words {
		if strings.EqualFold(t.Text, w) {
			return true
		}
	}
	return false
}

// IsPunct reports whether the token is the given punctuation.
func (t Token) IsPunct(p string) bool {
	return t.Kind == TokenPunctuation && t.Text == p
}

// IsTrivia reports whether the token carries no syntax: whitespace,
// newlines and comments.
func (t Token) IsTrivia() bool {
	switch t.Kind {
	case TokenWhitespace, TokenNewline, TokenLineComment, TokenBlockComment:
		return true
	}
	return false
}

// IsComment reports whether the token is a line or block comment.
func (t Token) IsComment() bool {
	return t.Kind == TokenLineComment || t.Kind == TokenBlockComment
}

// Upper returns the token text in upper case.
func (t Token) Upper() string {
	return strings.ToUpper(t.Text)
}

// Tokenize splits T-SQL source into verbatim tokens. It never fails:
// unterminated strings, identifiers and comments run to the end of input.
// The returned slice always ends with a TokenEndOfInput token.
func Tokenize(src string) []Token {
	lx := &lexer{src: src, line: 1, col: 1}
	var toks []Token
	for {
		tok := lx.next()
		toks = append(toks, tok)
		if tok.Kind == TokenEndOfInput {
			return toks
		}
	}
}

// Join concatenates the verbatim text of toks.
func Join(toks []Token) string {
	var sb strings.Builder
	for _, t := range toks {
		sb.WriteString(t.Text)
	}
	return sb.String()
}

type lexer struct {
	src  string
	pos  int
	line int
	col  int
}

func (lx *lexer) peek(off int) byte {
	if lx.pos+off < len(lx.src) {
		return lx.src[lx.pos+off]
	}
	return 0
}

// emit builds a token from src[start:lx.pos] and advances line/column.
func (lx *lexer) emit(kind TokenKind, start int) Token {
	text := lx.src[start:lx.pos]
	tok := Token{Kind: kind, Text: text, Line: lx.line, Column: lx.col}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			lx.line++
			lx.col = 1
		} else {
			lx.col++
		}
	}
	return tok
}

func (lx *lexer) next() Token {
	start := lx.pos
	if lx.pos >= len(lx.src) {
		return Token{Kind: TokenEndOfInput, Line: lx.line, Column: lx.col}
	}
	c := lx.src[lx.pos]

	switch {
	case c == '\n':
		lx.pos++
		return lx.emit(TokenNewline, start)
	case c == '\r' && lx.peek(1) == '\n':
		lx.pos += 2
		return lx.emit(TokenNewline, start)
	case c == ' ' || c == '\t' || c == '\r' || c == '\f' || c == '\v':
		for lx.pos < len(lx.src) {
			d := lx.src[lx.pos]
			if d != ' ' && d != '\t' && d != '\f' && d != '\v' && !(d == '\r' && lx.peek(1) != '\n') {
				break
			}
			lx.pos++
		}
		return lx.emit(TokenWhitespace, start)
	case c == '-' && lx.peek(1) == '-':
		for lx.pos < len(lx.src) && lx.src[lx.pos] != '\n' {
			if lx.src[lx.pos] == '\r' && lx.peek(1) == '\n' {
				break
			}
			lx.pos++
		}
		return lx.emit(TokenLineComment, start)
	case c == '/' && lx.peek(1) == '*':
		lx.scanBlockComment()
		return lx.emit(TokenBlockComment, start)
	case c == '\'':
		lx.scanQuoted('\'', '\'')
		return lx.emit(TokenString, start)
	case (c == 'N' || c == 'n') && lx.peek(1) == '\'':
		lx.pos++
		lx.scanQuoted('\'', '\'')
		return lx.emit(TokenString, start)
	case c == '"':
		lx.scanQuoted('"', '"')
		return lx.emit(TokenQuotedIdentifier, start)
	case c == '[':
		lx.scanQuoted('[', ']')
		return lx.emit(TokenQuotedIdentifier, start)
	case c == '@':
		lx.pos++
		for lx.pos < len(lx.src) && isWordByte(lx.src[lx.pos]) {
			lx.pos++
		}
		if lx.pos-start == 1 {
			return lx.emit(TokenPunctuation, start)
		}
		return lx.emit(TokenVariable, start)
	case isDigit(c) || (c == '.' && isDigit(lx.peek(1))):
		lx.scanNumber()
		return lx.emit(TokenNumber, start)
	case isWordStart(c):
		for lx.pos < len(lx.src) && isWordByte(lx.src[lx.pos]) {
			lx.pos++
		}
		word := lx.src[start:lx.pos]
		if token.LookupIdent(strings.ToUpper(word)).IsKeyword() {
			return lx.emit(TokenKeyword, start)
		}
		return lx.emit(TokenIdentifier, start)
	}

	if lx.pos+1 < len(lx.src) && twoCharOperators[lx.src[lx.pos:lx.pos+2]] {
		lx.pos += 2
		return lx.emit(TokenPunctuation, start)
	}
	// Multi-byte runes are kept whole so Join never splits them.
	if c >= 0x80 {
		lx.pos++
		for lx.pos < len(lx.src) && lx.src[lx.pos]&0xC0 == 0x80 {
			lx.pos++
		}
		return lx.emit(TokenIdentifier, start)
	}
	lx.pos++
	return lx.emit(TokenPunctuation, start)
}

var twoCharOperators = map[string]bool{
	"<=": true, ">=": true, "<>": true, "!=": true, "!<": true, "!>": true,
	"::": true, "+=": true, "-=": true, "*=": true, "/=": true, "||": true,
}

// scanQuoted consumes a quoted run starting at the opening delimiter.
// A doubled closing delimiter is an escape.
func (lx *lexer) scanQuoted(open, close byte) {
	lx.pos++ // opening delimiter
	for lx.pos < len(lx.src) {
		if lx.src[lx.pos] == close {
			if lx.peek(1) == close {
				lx.pos += 2
				continue
			}
			lx.pos++
			return
		}
		lx.pos++
	}
}

// scanBlockComment consumes a possibly nested /* */ comment.
func (lx *lexer) scanBlockComment() {
	depth := 0
	for lx.pos < len(lx.src) {
		switch {
		case lx.src[lx.pos] == '/' && lx.peek(1) == '*':
			depth++
			lx.pos += 2
		case lx.src[lx.pos] == '*' && lx.peek(1) == '/':
			depth--
			lx.pos += 2
			if depth == 0 {
				return
			}
		default:
			lx.pos++
		}
	}
}

func (lx *lexer) scanNumber() {
	if lx.src[lx.pos] == '0' && (lx.peek(1) == 'x' || lx.peek(1) == 'X') {
		lx.pos += 2
		for lx.pos < len(lx.src) && isHexDigit(lx.src[lx.pos]) {
			lx.pos++
		}
		return
	}
	for lx.pos < len(lx.src) && isDigit(lx.src[lx.pos]) {
		lx.pos++
	}
	if lx.pos < len(lx.src) && lx.src[lx.pos] == '.' {
		lx.pos++
		for lx.pos < len(lx.src) && isDigit(lx.src[lx.pos]) {
			lx.pos++
		}
	}
	if lx.pos < len(lx.src) && (lx.src[lx.pos] == 'e' || lx.src[lx.pos] == 'E') {
		next := lx.peek(1)
		if isDigit(next) || ((next == '+' || next == '-') && isDigit(lx.peek(2))) {
			lx.pos += 2
			for lx.pos < len(lx.src) && isDigit(lx.src[lx.pos]) {
				lx.pos++
			}
		}
	}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isHexDigit(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func isWordStart(c byte) bool {
	return c == '_' || c == '#' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isWordByte(c byte) bool {
	return isWordStart(c) || isDigit(c) || c == '@' || c == '$'
}

// significant returns the index of the first non-trivia token at or after i,
// or the index of the end-of-input token.
func significant(toks []Token, i int) int {
	for i < len(toks) && toks[i].IsTrivia() {
		i++
	}
	if i >= len(toks) {
		return len(toks) - 1
	}
	return i
}

// prevSignificant returns the index of the last non-trivia token before i,
// or -1.
func prevSignificant(toks []Token, i int) int {
	for i--; i >= 0; i-- {
		if !toks[i].IsTrivia() {
			return i
		}
	}
	return -1
}

// isLineStart reports whether toks[i] is the first non-whitespace token of
// its line.
func isLineStart(toks []Token, i int) bool {
	for j := i - 1; j >= 0; j-- {
		switch toks[j].Kind {
		case TokenWhitespace:
			continue
		case TokenNewline:
			return true
		case TokenBlockComment:
			if strings.Contains(toks[j].Text, "\n") {
				return true
			}
			return false
		default:
			return false
		}
	}
	return true
}

// lineEnd returns the index just past the newline that ends the line
// containing toks[i], or the end-of-input index.
func lineEnd(toks []Token, i int) int {
	for ; i < len(toks); i++ {
		if toks[i].Kind == TokenNewline {
			return i + 1
		}
		if toks[i].Kind == TokenEndOfInput {
			return i
		}
	}
	return len(toks) - 1
}

// unquoteIdent strips [] or "" delimiters and undoes doubled-delimiter
// escapes.
func unquoteIdent(s string) string {
	if len(s) >= 2 {
		switch {
		case s[0] == '[' && s[len(s)-1] == ']':
			return strings.ReplaceAll(s[1:len(s)-1], "]]", "]")
		case s[0] == '"' && s[len(s)-1] == '"':
			return strings.ReplaceAll(s[1:len(s)-1], `""`, `"`)
		}
	}
	return s
}

// unquoteString returns the contents of a T-SQL string literal, with the
// N prefix dropped and doubled quotes collapsed.
func unquoteString(s string) string {
	if len(s) > 0 && (s[0] == 'N' || s[0] == 'n') {
		s = s[1:]
	}
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		s = s[1 : len(s)-1]
	}
	return strings.ReplaceAll(s, "''", "'")
}

// quoteString renders s as a PostgreSQL string literal.
func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
