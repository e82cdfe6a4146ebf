package rules

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokInt
	tokString
	tokLParen
	tokRParen
	tokAnd      // &&
	tokOr       // ||
	tokNot      // !
	tokLT       // <
	tokLE       // <=
	tokGT       // >
	tokGE       // >=
	tokEQ       // ==
	tokNE       // !=
	tokContains // Contains keyword
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lex splits an expression into tokens. Identifiers are ASCII letters, digits
// and underscore; string literals use double or single quotes.
func lex(input string) ([]token, error) {
	var toks []token
	i := 0

	for i < len(input) {
		c := input[i]

		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case c == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++

		case c == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++

		case c == '&':
			if i+1 >= len(input) || input[i+1] != '&' {
				return nil, &InvalidRuleError{Pos: i, Message: "expected '&&'"}
			}
			toks = append(toks, token{tokAnd, "&&", i})
			i += 2

		case c == '|':
			if i+1 >= len(input) || input[i+1] != '|' {
				return nil, &InvalidRuleError{Pos: i, Message: "expected '||'"}
			}
			toks = append(toks, token{tokOr, "||", i})
			i += 2

		case c == '!':
			if i+1 < len(input) && input[i+1] == '=' {
				toks = append(toks, token{tokNE, "!=", i})
				i += 2
			} else {
				toks = append(toks, token{tokNot, "!", i})
				i++
			}

		case c == '<':
			if i+1 < len(input) && input[i+1] == '=' {
				toks = append(toks, token{tokLE, "<=", i})
				i += 2
			} else {
				toks = append(toks, token{tokLT, "<", i})
				i++
			}

		case c == '>':
			if i+1 < len(input) && input[i+1] == '=' {
				toks = append(toks, token{tokGE, ">=", i})
				i += 2
			} else {
				toks = append(toks, token{tokGT, ">", i})
				i++
			}

		case c == '=':
			if i+1 >= len(input) || input[i+1] != '=' {
				return nil, &InvalidRuleError{Pos: i, Message: "expected '=='"}
			}
			toks = append(toks, token{tokEQ, "==", i})
			i += 2

		case c == '"' || c == '\'':
			quote := c
			j := i + 1
			for j < len(input) && input[j] != quote {
				j++
			}
			if j >= len(input) {
				return nil, &InvalidRuleError{Pos: i, Message: "unterminated string literal"}
			}
			toks = append(toks, token{tokString, input[i+1 : j], i})
			i = j + 1

		case unicode.IsDigit(rune(c)):
			j := i
			for j < len(input) && unicode.IsDigit(rune(input[j])) {
				j++
			}
			toks = append(toks, token{tokInt, input[i:j], i})
			i = j

		case unicode.IsLetter(rune(c)) || c == '_':
			j := i
			for j < len(input) && (unicode.IsLetter(rune(input[j])) || unicode.IsDigit(rune(input[j])) || input[j] == '_') {
				j++
			}
			word := input[i:j]
			if strings.EqualFold(word, "contains") {
				toks = append(toks, token{tokContains, word, i})
			} else {
				toks = append(toks, token{tokIdent, word, i})
			}
			i = j

		default:
			return nil, &InvalidRuleError{Pos: i, Message: fmt.Sprintf("unexpected character %q", c)}
		}
	}

	toks = append(toks, token{tokEOF, "", len(input)})
	return toks, nil
}
