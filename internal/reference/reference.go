// Package reference holds the versioned, read-only lookup tables that drive
// classification: procedure code ranges, chemotherapy keyword lists,
// molecular gene names and document weighting. Tables are loaded once and
// passed explicitly to the extractor, classifier and prioritizer.
package reference

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ehr/abstractor/internal/domain/clinical"
)

var (
	ErrReferenceOverlap = errors.New("surgery code ranges overlap")
	ErrInvalidReference = errors.New("invalid reference table")
)

// CodeRange is an inclusive range of numeric procedure codes sharing one
// classification label.
type CodeRange struct {
	Label       clinical.SurgeryType `yaml:"label" json:"label" jsonschema:"enum=Tumor Resection,enum=Biopsy,enum=Shunt"`
	From        string               `yaml:"from" json:"from" jsonschema:"pattern=^[0-9]+$"`
	To          string               `yaml:"to" json:"to" jsonschema:"pattern=^[0-9]+$"`
	Description string               `yaml:"description,omitempty" json:"description,omitempty"`

	from, to int
}

// String renders the range for logs and provenance, e.g. "61510-61521".
func (r CodeRange) String() string {
	if r.From == r.To {
		return r.From
	}
	return r.From + "-" + r.To
}

// Contains reports whether the numeric code lies in the range.
func (r CodeRange) Contains(code int) bool {
	return code >= r.from && code <= r.to
}

func (r CodeRange) overlaps(o CodeRange) bool {
	return r.from <= o.to && o.from <= r.to
}

// TypeWeight assigns a weight to documents whose type or title contains Match.
type TypeWeight struct {
	Match  string `yaml:"match" json:"match"`
	Weight int    `yaml:"weight" json:"weight" jsonschema:"minimum=0,maximum=100"`
}

// Band assigns Weight to documents at most MaxDays from the nearest event.
type Band struct {
	MaxDays int `yaml:"max_days" json:"max_days" jsonschema:"minimum=0"`
	Weight  int `yaml:"weight" json:"weight" jsonschema:"minimum=0,maximum=50"`
}

// Chemotherapy lists the agents that separate chemotherapy from
// concomitant medications.
type Chemotherapy struct {
	Keywords []string `yaml:"keywords" json:"keywords"`
	RxNorm   []string `yaml:"rxnorm,omitempty" json:"rxnorm,omitempty"`
}

// Tables is the full reference data set.
type Tables struct {
	Version             string       `yaml:"version" json:"version"`
	SurgeryCodeSystems  []string     `yaml:"surgery_code_systems,omitempty" json:"surgery_code_systems,omitempty"`
	SurgeryCodes        []CodeRange  `yaml:"surgery_codes" json:"surgery_codes"`
	Chemotherapy        Chemotherapy `yaml:"chemotherapy" json:"chemotherapy"`
	MolecularGenes      []string     `yaml:"molecular_genes" json:"molecular_genes"`
	// NegativeResultTerms mark a molecular result as reporting absence,
	// e.g. "not detected". Terms match whole words.
	NegativeResultTerms []string     `yaml:"negative_result_terms" json:"negative_result_terms"`
	DocumentTypes       []TypeWeight `yaml:"document_types" json:"document_types"`
	DefaultTypeWeight   int          `yaml:"default_type_weight" json:"default_type_weight"`
	TemporalBands       []Band       `yaml:"temporal_bands" json:"temporal_bands"`
	TemporalFloor       int          `yaml:"temporal_floor" json:"temporal_floor"`
	RelevantSettings    []string     `yaml:"relevant_settings" json:"relevant_settings"`
	ContextWeight       int          `yaml:"context_weight" json:"context_weight"`
}

// Validate compiles numeric bounds and checks the table invariants. It must
// be called before the tables are used; Load does so.
func (t *Tables) Validate() error {
	if t.Version == "" {
		return fmt.Errorf("%w: version is required", ErrInvalidReference)
	}
	for i := range t.SurgeryCodes {
		r := &t.SurgeryCodes[i]
		if !r.Label.Valid() || r.Label == clinical.SurgeryOther {
			return fmt.Errorf("%w: code range %s has invalid label %q", ErrInvalidReference, r, r.Label)
		}
		from, err := strconv.Atoi(r.From)
		if err != nil {
			return fmt.Errorf("%w: code range %s: from: %v", ErrInvalidReference, r, err)
		}
		to, err := strconv.Atoi(r.To)
		if err != nil {
			return fmt.Errorf("%w: code range %s: to: %v", ErrInvalidReference, r, err)
		}
		if from > to {
			return fmt.Errorf("%w: code range %s is inverted", ErrInvalidReference, r)
		}
		if len(r.From) != len(r.To) {
			return fmt.Errorf("%w: code range %s bounds differ in width", ErrInvalidReference, r)
		}
		r.from, r.to = from, to
	}
	for i := 0; i < len(t.SurgeryCodes); i++ {
		for j := i + 1; j < len(t.SurgeryCodes); j++ {
			a, b := t.SurgeryCodes[i], t.SurgeryCodes[j]
			if a.overlaps(b) {
				return fmt.Errorf("%w: %s (%s) and %s (%s)", ErrReferenceOverlap, a, a.Label, b, b.Label)
			}
		}
	}
	if len(t.Chemotherapy.Keywords) == 0 {
		return fmt.Errorf("%w: chemotherapy keyword list is empty", ErrInvalidReference)
	}
	for i, kw := range t.Chemotherapy.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			return fmt.Errorf("%w: chemotherapy keyword %d is blank", ErrInvalidReference, i)
		}
		t.Chemotherapy.Keywords[i] = kw
	}
	for i, term := range t.NegativeResultTerms {
		if len(words(term)) == 0 {
			return fmt.Errorf("%w: negative result term %d is blank", ErrInvalidReference, i)
		}
	}
	for i := 1; i < len(t.TemporalBands); i++ {
		if t.TemporalBands[i].MaxDays <= t.TemporalBands[i-1].MaxDays {
			return fmt.Errorf("%w: temporal bands must be ordered by max_days", ErrInvalidReference)
		}
	}
	return nil
}

// RangesFor returns the code ranges carrying label, in declaration order.
func (t *Tables) RangesFor(label clinical.SurgeryType) []CodeRange {
	var out []CodeRange
	for _, r := range t.SurgeryCodes {
		if r.Label == label {
			out = append(out, r)
		}
	}
	return out
}
