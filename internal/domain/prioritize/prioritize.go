// Package prioritize scores narrative documents and keeps a bounded,
// deterministically ordered subset for the downstream corpus.
package prioritize

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/ehr/abstractor/internal/domain/corpus"
	"github.com/ehr/abstractor/internal/reference"
)

// Component caps. A document's total score lies in [0, MaxScore].
const (
	MaxTypeWeight     = 100
	MaxTemporalWeight = 50
	MaxContextWeight  = 25
	MaxScore          = MaxTypeWeight + MaxTemporalWeight + MaxContextWeight
)

// Prioritizer ranks documents using reference weights.
type Prioritizer struct {
	tables *reference.Tables
	topN   int
}

// New returns a Prioritizer keeping at most topN documents.
func New(tables *reference.Tables, topN int) *Prioritizer {
	return &Prioritizer{tables: tables, topN: topN}
}

func clamp(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

// TypeWeight returns the highest weight among document types whose match
// text appears in the document type or title.
func (p *Prioritizer) TypeWeight(doc corpus.Document) int {
	text := strings.ToLower(doc.Type + " " + doc.Title)
	best, matched := 0, false
	for _, tw := range p.tables.DocumentTypes {
		if strings.Contains(text, strings.ToLower(tw.Match)) && (!matched || tw.Weight > best) {
			best, matched = tw.Weight, true
		}
	}
	if !matched {
		best = p.tables.DefaultTypeWeight
	}
	return clamp(best, MaxTypeWeight)
}

// TemporalWeight returns the band weight for the distance in days to the
// nearest anchor. Undated documents and empty anchor sets score zero.
func (p *Prioritizer) TemporalWeight(doc corpus.Document, anchors []time.Time) (int, *int) {
	if doc.Date == nil || len(anchors) == 0 {
		return 0, nil
	}
	nearest := -1
	for _, a := range anchors {
		d := daysBetween(*doc.Date, a)
		if nearest < 0 || d < nearest {
			nearest = d
		}
	}
	w := p.tables.TemporalFloor
	for _, b := range p.tables.TemporalBands {
		if nearest <= b.MaxDays {
			w = b.Weight
			break
		}
	}
	return clamp(w, MaxTemporalWeight), &nearest
}

// ContextWeight returns the context bonus when the practice setting names a
// relevant specialty.
func (p *Prioritizer) ContextWeight(doc corpus.Document) int {
	setting := strings.ToLower(strings.TrimSpace(doc.PracticeSetting))
	if setting == "" {
		return 0
	}
	for _, s := range p.tables.RelevantSettings {
		if strings.Contains(setting, strings.ToLower(s)) {
			return clamp(p.tables.ContextWeight, MaxContextWeight)
		}
	}
	return 0
}

// Score computes the capped components of one document.
func (p *Prioritizer) Score(doc corpus.Document, anchors []time.Time) corpus.Score {
	s := corpus.Score{
		Type:    p.TypeWeight(doc),
		Context: p.ContextWeight(doc),
	}
	s.Temporal, s.NearestEventDays = p.TemporalWeight(doc, anchors)
	s.Total = s.Type + s.Temporal + s.Context
	return s
}

// Rank scores every document and sorts by score descending, then date
// ascending with undated documents last, then id.
func (p *Prioritizer) Rank(docs []corpus.Document, anchors []time.Time) []corpus.Document {
	ranked := make([]corpus.Document, len(docs))
	for i, d := range docs {
		d.Score = p.Score(d, anchors)
		ranked[i] = d
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score.Total != b.Score.Total {
			return a.Score.Total > b.Score.Total
		}
		if (a.Date == nil) != (b.Date == nil) {
			return a.Date != nil
		}
		if a.Date != nil && !a.Date.Equal(*b.Date) {
			return a.Date.Before(*b.Date)
		}
		return a.ID < b.ID
	})
	return ranked
}

// AttachFunc fills text for a batch of candidates. Documents without text
// are left out of kept and listed in missing.
type AttachFunc func(ctx context.Context, docs []corpus.Document) (kept []corpus.Document, missing []string, err error)

// Selection is the outcome of Select.
type Selection struct {
	Kept        []corpus.Document
	RankedOut   []string
	MissingText []string
}

// Select ranks docs and keeps the first N distinct ids that have text.
// Candidates are passed to attach in rank order, one shortfall at a time, so
// a document without text is replaced by the next ranked candidate. A nil
// attach keeps every candidate as is. Repeated ids stay in Kept for the
// deduplicator but count once toward N.
func (p *Prioritizer) Select(ctx context.Context, docs []corpus.Document, anchors []time.Time, attach AttachFunc) (Selection, error) {
	ranked := p.Rank(docs, anchors)
	if attach == nil {
		attach = func(_ context.Context, d []corpus.Document) ([]corpus.Document, []string, error) { return d, nil, nil }
	}
	limit := p.topN
	if limit <= 0 {
		limit = len(ranked)
	}

	var sel Selection
	seen := make(map[string]bool)
	next := 0
	for len(seen) < limit && next < len(ranked) {
		end := next + limit - len(seen)
		if end > len(ranked) {
			end = len(ranked)
		}
		kept, missing, err := attach(ctx, ranked[next:end])
		if err != nil {
			return Selection{}, err
		}
		for _, d := range kept {
			seen[d.ID] = true
		}
		sel.Kept = append(sel.Kept, kept...)
		sel.MissingText = append(sel.MissingText, missing...)
		next = end
	}
	for _, d := range ranked[next:] {
		sel.RankedOut = append(sel.RankedOut, d.ID)
	}
	return sel, nil
}

func daysBetween(a, b time.Time) int {
	a = time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	b = time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	d := int(a.Sub(b).Hours() / 24)
	if d < 0 {
		return -d
	}
	return d
}
