// Package validation compares engine output against a per-patient gold
// standard and keeps a history of reports so tuning iterations can be
// diffed.
package validation

import (
	"time"
)

// Reason classifies why an extracted value did not match.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonMissingValue      Reason = "missing-value"
	ReasonWrongSourceEvent  Reason = "wrong-source-event"
	ReasonWrongDateField    Reason = "wrong-date-field"
	ReasonSemanticConfusion Reason = "semantic-confusion"
)

// Outcome is the comparison for one variable or decision.
type Outcome struct {
	Name      string   `json:"name"`
	Kind      string   `json:"kind"`
	Scope     string   `json:"scope,omitempty"`
	Gold      []string `json:"gold"`
	Extracted []string `json:"extracted"`
	Sources   []string `json:"sources,omitempty"`
	Match     bool     `json:"match"`
	Reason    Reason   `json:"reason,omitempty"`
}

// Report is the validation of one engine run for one patient.
type Report struct {
	ID                 string    `json:"id"`
	PatientID          string    `json:"patient_id"`
	Label              string    `json:"label"`
	DefinitionsVersion string    `json:"definitions_version"`
	Compared           int       `json:"compared"`
	Matched            int       `json:"matched"`
	Accuracy           float64   `json:"accuracy"`
	CreatedAt          time.Time `json:"created_at"`
	Outcomes           []Outcome `json:"outcomes"`
}

// Outcome returns the outcome for name.
func (r *Report) Outcome(name string) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.Name == name {
			return o, true
		}
	}
	return Outcome{}, false
}

// Change is a variable whose outcome differs between two reports.
type Change struct {
	Name       string `json:"name"`
	FromMatch  bool   `json:"from_match"`
	ToMatch    bool   `json:"to_match"`
	FromReason Reason `json:"from_reason,omitempty"`
	ToReason   Reason `json:"to_reason,omitempty"`
}
