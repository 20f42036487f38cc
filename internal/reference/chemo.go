package reference

import (
	"strings"
)

// ChemoMatch explains why a medication was classified as chemotherapy.
type ChemoMatch struct {
	Keyword string
	RxNorm  string
}

// Rule renders the match for provenance.
func (m ChemoMatch) Rule() string {
	if m.Keyword != "" {
		return "keyword:" + m.Keyword
	}
	return "rxnorm:" + m.RxNorm
}

// ChemoMatcher matches medication display text against the chemotherapy
// keyword list, with RxNorm codes as a secondary exact match.
type ChemoMatcher struct {
	keywords []string
	rxnorm   map[string]bool
}

// NewChemoMatcher builds a matcher from validated tables.
func NewChemoMatcher(t *Tables) *ChemoMatcher {
	m := &ChemoMatcher{
		keywords: append([]string(nil), t.Chemotherapy.Keywords...),
		rxnorm:   make(map[string]bool, len(t.Chemotherapy.RxNorm)),
	}
	for _, code := range t.Chemotherapy.RxNorm {
		m.rxnorm[strings.TrimSpace(code)] = true
	}
	return m
}

// Match reports whether display (case-insensitive substring) or rxnorm
// identifies a chemotherapy agent. Keywords are tried in declaration order.
func (m *ChemoMatcher) Match(display, rxnorm string) (ChemoMatch, bool) {
	text := strings.ToLower(display)
	for _, kw := range m.keywords {
		if strings.Contains(text, kw) {
			return ChemoMatch{Keyword: kw}, true
		}
	}
	if rxnorm = strings.TrimSpace(rxnorm); rxnorm != "" && m.rxnorm[rxnorm] {
		return ChemoMatch{RxNorm: rxnorm}, true
	}
	return ChemoMatch{}, false
}

// Keywords returns the normalized keyword list.
func (m *ChemoMatcher) Keywords() []string {
	return append([]string(nil), m.keywords...)
}
