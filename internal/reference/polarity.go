package reference

import (
	"strings"
	"unicode"
)

// ResultPolarity recognizes molecular results that report a marker as
// absent.
type ResultPolarity struct {
	terms [][]string
}

// NewResultPolarity builds a matcher from validated tables.
func NewResultPolarity(t *Tables) *ResultPolarity {
	p := &ResultPolarity{terms: make([][]string, 0, len(t.NegativeResultTerms))}
	for _, term := range t.NegativeResultTerms {
		p.terms = append(p.terms, words(term))
	}
	return p
}

// Negative returns the first term found in text as a whole-word phrase.
func (p *ResultPolarity) Negative(text string) (string, bool) {
	tokens := words(text)
	for _, term := range p.terms {
		if containsPhrase(tokens, term) {
			return strings.Join(term, " "), true
		}
	}
	return "", false
}

// words lowercases s and splits it on anything that is not a letter or digit,
// so "Wild-Type" and "wild type" compare equal.
func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func containsPhrase(tokens, phrase []string) bool {
	if len(phrase) == 0 {
		return false
	}
	for i := 0; i+len(phrase) <= len(tokens); i++ {
		match := true
		for j, w := range phrase {
			if tokens[i+j] != w {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
