// Package clinical holds the typed records produced by the structured
// extractor and labelled by the classifier. Records are created from one
// warehouse row each and are not mutated once classified.
package clinical

import (
	"time"
)

// DateSource records which warehouse field a resolved event date came from.
type DateSource string

const (
	DateFromPointInTime DateSource = "point_in_time"
	DateFromPeriodStart DateSource = "period_start"
	DateAbsent          DateSource = "absent"
)

// SurgeryType is the closed vocabulary for procedure classification.
type SurgeryType string

const (
	SurgeryTumorResection SurgeryType = "Tumor Resection"
	SurgeryBiopsy         SurgeryType = "Biopsy"
	SurgeryShunt          SurgeryType = "Shunt"
	SurgeryOther          SurgeryType = "Other"
)

// SurgeryTypes lists every valid SurgeryType.
var SurgeryTypes = []SurgeryType{SurgeryTumorResection, SurgeryBiopsy, SurgeryShunt, SurgeryOther}

// Valid reports whether t belongs to the closed vocabulary.
func (t SurgeryType) Valid() bool {
	for _, v := range SurgeryTypes {
		if t == v {
			return true
		}
	}
	return false
}

// MedicationCategory separates chemotherapy agents from everything else.
type MedicationCategory string

const (
	MedicationChemotherapy MedicationCategory = "chemotherapy"
	MedicationConcomitant  MedicationCategory = "concomitant"
)

// PatientRecord is the demographics row for one patient.
type PatientRecord struct {
	ID        string     `json:"id"`
	Sex       *string    `json:"sex,omitempty"`
	BirthDate *time.Time `json:"birth_date,omitempty"`
	Race      *string    `json:"race,omitempty"`
	Ethnicity *string    `json:"ethnicity,omitempty"`
}

// Provenance explains where an event and its label came from.
type Provenance struct {
	Table       string     `json:"table"`
	SourceField DateSource `json:"date_source"`
	CodeSystem  string     `json:"code_system,omitempty"`
	// Rule names the reference entry that produced the label, e.g. a code
	// range or a matched keyword.
	Rule string `json:"rule,omitempty"`
}

// Event carries the fields shared by every structured event variant.
type Event struct {
	ID         string     `json:"id"`
	PatientID  string     `json:"patient_id"`
	Date       *time.Time `json:"date,omitempty"`
	Code       string     `json:"code"`
	Display    string     `json:"display"`
	Label      string     `json:"label"`
	Provenance Provenance `json:"provenance"`
}

// DateString formats the event date as YYYY-MM-DD, or "" when absent.
func (e Event) DateString() string {
	return FormatDate(e.Date)
}

// FormatDate formats t as YYYY-MM-DD, or "" for nil.
func FormatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

// SurgeryEvent is a procedure row classified into a SurgeryType.
type SurgeryEvent struct {
	Event
	EncounterRef string      `json:"encounter_ref,omitempty"`
	SurgeryType  SurgeryType `json:"surgery_type"`
	Extent       Resolution  `json:"extent_of_resection"`
	Location     Resolution  `json:"location"`
}

// MedicationEvent is a medication request row.
type MedicationEvent struct {
	Event
	RxNorm   string             `json:"rxnorm,omitempty"`
	Status   string             `json:"status,omitempty"`
	Category MedicationCategory `json:"category"`
}

// MedicationSet is the disjoint split of a patient's medications.
type MedicationSet struct {
	Chemotherapy []MedicationEvent `json:"chemotherapy"`
	Concomitant  []MedicationEvent `json:"concomitant"`
}

// Len returns the number of medications across both sets.
func (m MedicationSet) Len() int {
	return len(m.Chemotherapy) + len(m.Concomitant)
}

// MolecularFindingEvent is an observation naming a molecular marker.
type MolecularFindingEvent struct {
	Event
	Gene   string `json:"gene"`
	Result string `json:"result"`
	// Derived is true when the finding was inferred by a rule rather than
	// observed in the warehouse.
	Derived bool   `json:"derived"`
	Basis   string `json:"basis,omitempty"`
}

// DiagnosisEvent is a condition row.
type DiagnosisEvent struct {
	Event
	ClinicalStatus string     `json:"clinical_status,omitempty"`
	RecordedDate   *time.Time `json:"recorded_date,omitempty"`
}

// PathologyReport is a diagnostic report in the pathology category.
type PathologyReport struct {
	Event
	Conclusion string `json:"conclusion,omitempty"`
}
