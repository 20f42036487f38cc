// Package corpus defines the narrative document model shared by the
// prioritizer, the structured-summary synthesizer and the CSV assembler,
// and the order-preserving deduplicator that merges them.
package corpus

import (
	"strings"
	"time"

	"github.com/ehr/abstractor/internal/domain/clinical"
)

// StructuredPrefix is the reserved id namespace for synthesized documents.
// No warehouse document id may start with it.
const StructuredPrefix = "STRUCTURED_"

// StructuredID returns the reserved id for a synthesized document.
func StructuredID(name string) string {
	return StructuredPrefix + name
}

// IsStructuredID reports whether id lies in the reserved namespace.
func IsStructuredID(id string) bool {
	return strings.HasPrefix(id, StructuredPrefix)
}

// Score is the explainable priority of a narrative document. Each component
// is capped independently and Total is their sum.
type Score struct {
	Type     int `json:"type"`
	Temporal int `json:"temporal"`
	Context  int `json:"context"`
	Total    int `json:"total"`
	// NearestEventDays is nil when the document or every event is undated.
	NearestEventDays *int `json:"nearest_event_days,omitempty"`
}

// Document is a narrative clinical document or a synthesized summary.
type Document struct {
	ID              string              `json:"id"`
	PersonID        string              `json:"person_id"`
	Title           string              `json:"title"`
	Type            string              `json:"type"`
	Date            *time.Time          `json:"date,omitempty"`
	DateSource      clinical.DateSource `json:"date_source"`
	PracticeSetting string              `json:"practice_setting,omitempty"`
	TextLength      int64               `json:"text_length"`
	Text            string              `json:"-"`
	Structured      bool                `json:"structured"`
	Score           Score               `json:"score"`
}

// DateString formats the document date as YYYY-MM-DD, or "" when undated.
func (d Document) DateString() string {
	return clinical.FormatDate(d.Date)
}
