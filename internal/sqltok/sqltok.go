// Package sqltok tokenizes SQL-like filter expressions into a grouped token
// stream. It is deliberately small: just enough lexical structure for the
// filter grammar accepted by the tracking store (comparisons joined by
// AND/OR, parentheses, IS [NOT] NULL), not a general SQL lexer.
package sqltok

import (
	"fmt"
	"strings"
	"unicode"
)

// Kind classifies a lexical token.
type Kind int

const (
	KindWhitespace Kind = iota
	KindKeyword
	KindIdentifier
	KindCompareOp
	KindString // single-quoted literal
	KindInteger
	KindFloat
	KindPunct
	KindParenGroup // '(' ... ')', children hold the interior tokens
	KindComparison // identifier CompareOp value, exactly three children
)

func (k Kind) String() string {
	switch k {
	case KindWhitespace:
		return "whitespace"
	case KindKeyword:
		return "keyword"
	case KindIdentifier:
		return "identifier"
	case KindCompareOp:
		return "comparison operator"
	case KindString:
		return "string"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindPunct:
		return "punctuation"
	case KindParenGroup:
		return "parenthesis group"
	case KindComparison:
		return "comparison"
	default:
		return "unknown"
	}
}

// Token is one classified lexical unit. Raw preserves the source text
// exactly; Normalized upper-cases keywords and collapses the whitespace
// inside merged keyword runs, so keyword matching never needs to look at
// Raw. Group tokens (KindParenGroup, KindComparison) carry their interior
// tokens in Children.
type Token struct {
	Kind       Kind
	Raw        string
	Normalized string
	Children   []Token
}

// IsKeyword reports whether the token is the given keyword, compared on the
// normalized (upper-cased) text.
func (t Token) IsKeyword(kw string) bool {
	return t.Kind == KindKeyword && t.Normalized == kw
}

// keywords recognized by the lexer. Anything else alphabetic is an
// identifier. IN and LIKE are tokenized as keywords so that the parser can
// reject them as operators by name rather than tripping over a stray
// identifier.
var keywords = map[string]bool{
	"AND":  true,
	"OR":   true,
	"IS":   true,
	"NOT":  true,
	"NULL": true,
	"IN":   true,
	"LIKE": true,
}

// Tokenize lexes the input into a grouped token stream. It fails if the
// input is empty, contains more than one statement, or has unbalanced
// parentheses or quotes.
func Tokenize(input string) ([]Token, error) {
	l := &lexer{input: input}
	flat, err := l.run()
	if err != nil {
		return nil, err
	}

	nonWS := 0
	for _, t := range flat {
		if t.Kind != KindWhitespace {
			nonWS++
		}
	}
	if nonWS == 0 {
		return nil, fmt.Errorf("empty statement")
	}

	grouped, rest, err := groupParens(flat, false)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("unbalanced ')'")
	}
	grouped = mergeNotNull(grouped)
	grouped = groupComparisons(grouped)
	return grouped, nil
}

type lexer struct {
	input string
	pos   int
}

func (l *lexer) run() ([]Token, error) {
	var tokens []Token
	for l.pos < len(l.input) {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		// A statement separator is only tolerated at the very end.
		if tok.Kind == KindPunct && tok.Raw == ";" {
			if strings.TrimSpace(l.input[l.pos:]) != "" {
				return nil, fmt.Errorf("multiple statements")
			}
		}
		tokens = append(tokens, tok)
	}
	return tokens, nil
}

func (l *lexer) next() (Token, error) {
	ch := l.input[l.pos]

	if unicode.IsSpace(rune(ch)) {
		start := l.pos
		for l.pos < len(l.input) && unicode.IsSpace(rune(l.input[l.pos])) {
			l.pos++
		}
		raw := l.input[start:l.pos]
		return Token{Kind: KindWhitespace, Raw: raw, Normalized: " "}, nil
	}

	switch ch {
	case '(', ')', ';', ',':
		l.pos++
		return Token{Kind: KindPunct, Raw: string(ch), Normalized: string(ch)}, nil
	case '\'':
		return l.readString()
	case '"', '`':
		// Quoted identifiers; also reachable as quoted values, which the
		// parser treats as equivalent to single-quoted strings.
		return l.readIdent()
	case '=':
		l.pos++
		return Token{Kind: KindCompareOp, Raw: "=", Normalized: "="}, nil
	case '!', '<', '>':
		return l.readOperator()
	}

	if ch >= '0' && ch <= '9' {
		return l.readNumber()
	}
	if isIdentStart(ch) {
		return l.readIdent()
	}

	l.pos++
	return Token{Kind: KindPunct, Raw: string(ch), Normalized: string(ch)}, nil
}

func (l *lexer) readOperator() (Token, error) {
	start := l.pos
	l.pos++
	if l.pos < len(l.input) && (l.input[l.pos] == '=' || (l.input[start] == '<' && l.input[l.pos] == '>')) {
		l.pos++
	}
	raw := l.input[start:l.pos]
	if raw == "!" {
		// A lone '!' is not an operator in this grammar.
		return Token{Kind: KindPunct, Raw: raw, Normalized: raw}, nil
	}
	return Token{Kind: KindCompareOp, Raw: raw, Normalized: raw}, nil
}

func (l *lexer) readString() (Token, error) {
	start := l.pos
	l.pos++ // opening quote
	for l.pos < len(l.input) && l.input[l.pos] != '\'' {
		l.pos++
	}
	if l.pos >= len(l.input) {
		return Token{}, fmt.Errorf("unterminated string starting at %q", l.input[start:])
	}
	l.pos++ // closing quote
	raw := l.input[start:l.pos]
	return Token{Kind: KindString, Raw: raw, Normalized: raw}, nil
}

// readQuotedSegment consumes a "..." or `...` run, returning false on a
// missing closing quote.
func (l *lexer) readQuotedSegment() bool {
	quote := l.input[l.pos]
	l.pos++
	for l.pos < len(l.input) && l.input[l.pos] != quote {
		l.pos++
	}
	if l.pos >= len(l.input) {
		return false
	}
	l.pos++
	return true
}

// readIdent reads an identifier, which may contain dots and quoted segments
// (tag.`class.name`, attr."status") anywhere after the first character.
func (l *lexer) readIdent() (Token, error) {
	start := l.pos
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == '"' || ch == '`' {
			if !l.readQuotedSegment() {
				return Token{}, fmt.Errorf("unterminated quote in %q", l.input[start:])
			}
			continue
		}
		if !isIdentChar(ch) {
			break
		}
		l.pos++
	}
	raw := l.input[start:l.pos]

	upper := strings.ToUpper(raw)
	if keywords[upper] {
		return Token{Kind: KindKeyword, Raw: raw, Normalized: upper}, nil
	}
	return Token{Kind: KindIdentifier, Raw: raw, Normalized: raw}, nil
}

func (l *lexer) readNumber() (Token, error) {
	start := l.pos
	kind := KindInteger
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch >= '0' && ch <= '9' {
			l.pos++
			continue
		}
		if ch == '.' && kind == KindInteger {
			kind = KindFloat
			l.pos++
			continue
		}
		if (ch == 'e' || ch == 'E') && l.pos+1 < len(l.input) {
			next := l.input[l.pos+1]
			if next >= '0' && next <= '9' || next == '-' || next == '+' {
				kind = KindFloat
				l.pos += 2
				continue
			}
		}
		break
	}
	raw := l.input[start:l.pos]
	return Token{Kind: kind, Raw: raw, Normalized: raw}, nil
}

func isIdentStart(ch byte) bool {
	return unicode.IsLetter(rune(ch)) || ch == '_'
}

func isIdentChar(ch byte) bool {
	r := rune(ch)
	return unicode.IsLetter(r) || unicode.IsDigit(r) || ch == '_' || ch == '-' || ch == '.'
}

// groupParens recursively folds '(' ... ')' runs into KindParenGroup tokens.
// When nested is true the function is consuming the interior of a group and
// returns at the matching ')'.
func groupParens(tokens []Token, nested bool) (group []Token, rest []Token, err error) {
	for len(tokens) > 0 {
		tok := tokens[0]
		tokens = tokens[1:]

		if tok.Kind == KindPunct && tok.Raw == "(" {
			inner, remaining, err := groupParens(tokens, true)
			if err != nil {
				return nil, nil, err
			}
			var raw strings.Builder
			raw.WriteByte('(')
			for _, t := range inner {
				raw.WriteString(t.Raw)
			}
			raw.WriteByte(')')
			group = append(group, Token{
				Kind:       KindParenGroup,
				Raw:        raw.String(),
				Normalized: raw.String(),
				Children:   inner,
			})
			tokens = remaining
			continue
		}

		if tok.Kind == KindPunct && tok.Raw == ")" {
			if !nested {
				// Surface the stray ')' to the caller as unconsumed input.
				return group, append([]Token{tok}, tokens...), nil
			}
			return group, tokens, nil
		}

		group = append(group, tok)
	}

	if nested {
		return nil, nil, fmt.Errorf("unbalanced '('")
	}
	return group, nil, nil
}

// mergeNotNull folds a NOT keyword followed by a NULL keyword (with any
// interior whitespace and case) into a single keyword token, so that
// IS NOT NULL presents as exactly two tokens after the identifier.
func mergeNotNull(tokens []Token) []Token {
	var out []Token
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if tok.Kind == KindParenGroup {
			tok.Children = mergeNotNull(tok.Children)
			out = append(out, tok)
			continue
		}
		if tok.IsKeyword("NOT") {
			j := i + 1
			raw := tok.Raw
			for j < len(tokens) && tokens[j].Kind == KindWhitespace {
				raw += tokens[j].Raw
				j++
			}
			if j < len(tokens) && tokens[j].IsKeyword("NULL") {
				raw += tokens[j].Raw
				out = append(out, Token{Kind: KindKeyword, Raw: raw, Normalized: "NOT NULL"})
				i = j
				continue
			}
		}
		out = append(out, tok)
	}
	return out
}

// groupComparisons folds identifier/operator/value triples into a single
// KindComparison token with exactly three children. IS comparisons are left
// flat: the parser handles the keyword form itself.
func groupComparisons(tokens []Token) []Token {
	var out []Token
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if tok.Kind == KindParenGroup {
			tok.Children = groupComparisons(tok.Children)
			out = append(out, tok)
			continue
		}

		if tok.Kind == KindIdentifier {
			opIdx := skipWhitespace(tokens, i+1)
			if opIdx < len(tokens) && tokens[opIdx].Kind == KindCompareOp {
				valIdx := skipWhitespace(tokens, opIdx+1)
				if valIdx < len(tokens) && isValueKind(tokens[valIdx].Kind) {
					var raw strings.Builder
					for _, t := range tokens[i : valIdx+1] {
						raw.WriteString(t.Raw)
					}
					out = append(out, Token{
						Kind:       KindComparison,
						Raw:        raw.String(),
						Normalized: raw.String(),
						Children:   []Token{tok, tokens[opIdx], tokens[valIdx]},
					})
					i = valIdx
					continue
				}
			}
		}

		out = append(out, tok)
	}
	return out
}

func skipWhitespace(tokens []Token, i int) int {
	for i < len(tokens) && tokens[i].Kind == KindWhitespace {
		i++
	}
	return i
}

func isValueKind(k Kind) bool {
	switch k {
	case KindString, KindInteger, KindFloat, KindIdentifier, KindKeyword:
		return true
	default:
		return false
	}
}
