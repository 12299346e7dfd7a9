// Package intent turns free-form payment requests ("send 1.5 DOT to Bob")
// into an amount and a recipient.
package intent

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Intent is what a parser could extract. Either field may be missing.
type Intent struct {
	Amount    *float64 `json:"amount,omitempty"`
	Recipient *string  `json:"recipient,omitempty"`
}

// Ready reports whether both amount and recipient were found.
func (i Intent) Ready() bool {
	return i.Amount != nil && i.Recipient != nil
}

// Parser extracts a payment intent from text.
type Parser interface {
	Parse(text string) Intent
}

// RuleParser is a dependency-free parser. Numbers become the amount and
// either an SS58-looking token or a capitalized word becomes the
// recipient. When several candidates appear the last one wins, and a
// word directly after "to" beats a capitalized one.
type RuleParser struct {
	// Symbols are unit words skipped as recipients, e.g. "DOT".
	Symbols []string
}

// NewRuleParser creates a parser that ignores the given token symbols.
func NewRuleParser(symbols ...string) *RuleParser {
	return &RuleParser{Symbols: symbols}
}

var (
	numberPattern  = regexp.MustCompile(`^[-+−]?(?:[0-9]+(?:\.[0-9]+)?|\.[0-9]+)$`)
	addressPattern = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{46,48}$`)
)

// words that are capitalized at sentence start but never a recipient
var stopWords = map[string]struct{}{
	"send": {}, "pay": {}, "transfer": {}, "give": {}, "please": {},
	"to": {}, "i": {}, "want": {}, "would": {}, "like": {}, "the": {},
	"a": {}, "an": {}, "and": {}, "can": {}, "you": {}, "me": {},
}

func (p *RuleParser) Parse(text string) Intent {
	var (
		out      Intent
		afterTo  bool
		strongTo bool
	)

	for _, raw := range strings.Fields(text) {
		tok := strings.TrimRightFunc(raw, isTrimmed)
		tok = strings.TrimRight(tok, ".")
		// a sign stays attached to a number so "-5" is not read as 5
		tok = strings.TrimLeftFunc(tok, func(r rune) bool {
			return isTrimmed(r) && !isSign(r)
		})
		if !numberPattern.MatchString(tok) {
			tok = strings.TrimLeftFunc(tok, isTrimmed)
		}
		if tok == "" {
			afterTo = false
			continue
		}
		lower := strings.ToLower(tok)

		switch {
		case numberPattern.MatchString(tok):
			if v, err := strconv.ParseFloat(strings.Replace(tok, "−", "-", 1), 64); err == nil {
				out.Amount = &v
			}
		case addressPattern.MatchString(tok):
			r := tok
			out.Recipient = &r
			strongTo = true
		case p.isSymbol(tok):
		case lower == "to":
			afterTo = true
			continue
		case afterTo && isName(tok):
			r := tok
			out.Recipient = &r
			strongTo = true
		case !strongTo && isName(tok) && unicode.IsUpper([]rune(tok)[0]):
			if _, stop := stopWords[lower]; !stop {
				r := tok
				out.Recipient = &r
			}
		}
		afterTo = false
	}
	return out
}

func (p *RuleParser) isSymbol(tok string) bool {
	for _, s := range p.Symbols {
		if strings.EqualFold(s, tok) {
			return true
		}
	}
	return false
}

func isTrimmed(r rune) bool {
	return r != '.' && (unicode.IsPunct(r) || unicode.IsSymbol(r))
}

func isSign(r rune) bool {
	return r == '-' || r == '+' || r == '−'
}

// isName accepts letters, digits, '-' and '_' starting with a letter.
func isName(tok string) bool {
	for i, r := range tok {
		if i == 0 && !unicode.IsLetter(r) {
			return false
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
			return false
		}
	}
	return true
}
