package query

import (
	"strings"
	"unicode"
)

// Operand is a single term or an exact phrase.
type Operand struct {
	Text   string `json:"text"`
	Phrase bool   `json:"phrase,omitempty"`
}

// Clause is a group of OR'ed operands. A clause of one operand is a plain term.
type Clause struct {
	Any []Operand `json:"any"`
}

// Expr is a parsed lexical query: every Must clause has to match (implicit
// AND) and no MustNot operand may match.
//
// Binding, tightest first: "phrase", -NOT, OR, implicit AND.
type Expr struct {
	Must    []Clause  `json:"must,omitempty"`
	MustNot []Operand `json:"must_not,omitempty"`
}

// Empty reports whether the expression has no operands at all.
func (e Expr) Empty() bool {
	return len(e.Must) == 0 && len(e.MustNot) == 0
}

// Positive returns every operand in Must, in order.
func (e Expr) Positive() []Operand {
	var out []Operand
	for _, c := range e.Must {
		out = append(out, c.Any...)
	}
	return out
}

// HasPhrase reports whether any positive operand is a phrase.
func (e Expr) HasPhrase() bool {
	for _, op := range e.Positive() {
		if op.Phrase {
			return true
		}
	}
	return false
}

type tokenKind int

const (
	tokTerm tokenKind = iota
	tokPhrase
	tokOr
)

type token struct {
	kind    tokenKind
	text    string
	negated bool
}

// Parse parses raw query syntax. It never fails: malformed input is
// repaired and each repair is described in the returned notes.
//
//   - an unmatched double quote is kept as a literal character
//   - a leading, trailing or repeated OR is dropped
//   - a bare "-" is dropped
//   - an empty phrase "" is dropped
func Parse(raw string) (Expr, []string) {
	tokens, notes := tokenize(raw)

	var expr Expr
	var group []Operand
	pendingOr := false

	flush := func() {
		if len(group) > 0 {
			expr.Must = append(expr.Must, Clause{Any: group})
			group = nil
		}
	}

	for i, tok := range tokens {
		switch {
		case tok.kind == tokOr:
			if len(group) == 0 || pendingOr || i == len(tokens)-1 || tokens[i+1].kind == tokOr {
				notes = append(notes, "dropped dangling OR")
				continue
			}
			pendingOr = true

		case tok.negated:
			op := Operand{Text: tok.text, Phrase: tok.kind == tokPhrase}
			expr.MustNot = append(expr.MustNot, op)
			if pendingOr {
				notes = append(notes, "dropped OR before negated operand")
				pendingOr = false
			}

		default:
			op := Operand{Text: tok.text, Phrase: tok.kind == tokPhrase}
			if pendingOr {
				group = append(group, op)
				pendingOr = false
				continue
			}
			flush()
			group = []Operand{op}
		}
	}
	if pendingOr {
		notes = append(notes, "dropped dangling OR")
	}
	flush()
	return expr, notes
}

func tokenize(raw string) ([]token, []string) {
	var tokens []token
	var notes []string
	runes := []rune(raw)

	for i := 0; i < len(runes); {
		if unicode.IsSpace(runes[i]) {
			i++
			continue
		}

		negated := false
		if runes[i] == '-' {
			if i+1 >= len(runes) || unicode.IsSpace(runes[i+1]) {
				notes = append(notes, "dropped bare '-'")
				i++
				continue
			}
			negated = true
			i++
		}

		if runes[i] == '"' {
			end := indexRune(runes, i+1, '"')
			if end >= 0 {
				text := strings.TrimSpace(string(runes[i+1 : end]))
				i = end + 1
				if text == "" {
					notes = append(notes, "dropped empty phrase")
					continue
				}
				tokens = append(tokens, token{kind: tokPhrase, text: text, negated: negated})
				continue
			}
			notes = append(notes, "unmatched quote treated as literal")
		}

		start := i
		// The first rune is always consumed, so a literal quote that opened
		// this word stays part of it.
		i++
		for i < len(runes) && !unicode.IsSpace(runes[i]) && !(runes[i] == '"' && hasClosingQuote(runes, i)) {
			i++
		}
		text := string(runes[start:i])
		if !negated && text == "OR" {
			tokens = append(tokens, token{kind: tokOr, text: text})
			continue
		}
		tokens = append(tokens, token{kind: tokTerm, text: text, negated: negated})
	}
	return tokens, notes
}

func indexRune(runes []rune, from int, r rune) int {
	for j := from; j < len(runes); j++ {
		if runes[j] == r {
			return j
		}
	}
	return -1
}

func hasClosingQuote(runes []rune, at int) bool {
	return indexRune(runes, at+1, '"') >= 0
}

// CountTokens counts whitespace-separated words in the positive operands.
// Operators are not counted and a phrase counts each of its words.
func CountTokens(e Expr) int {
	n := 0
	for _, op := range e.Positive() {
		n += len(strings.Fields(strings.Trim(op.Text, `"`)))
	}
	return n
}
