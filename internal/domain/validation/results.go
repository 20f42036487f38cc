package validation

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Header aliases accepted in engine output and gold standard files.
var (
	personAliases   = []string{"PERSON_ID", "person_id", "patient_id", "Patient"}
	variableAliases = []string{"Name", "variable_name", "Variable", "decision_name"}
	valueAliases    = []string{"Value", "value"}
	noteAliases     = []string{"NOTE_ID", "note_id", "Document", "document_id"}
)

// Results holds engine output values for one patient keyed by name.
type Results struct {
	PatientID string
	Values    map[string][]string
	Sources   map[string][]string
}

// NewResults returns an empty result set.
func NewResults(patientID string) *Results {
	return &Results{PatientID: patientID, Values: map[string][]string{}, Sources: map[string][]string{}}
}

func (r *Results) add(name, value, source string) {
	r.Values[name] = append(r.Values[name], value)
	if source != "" {
		r.Sources[name] = append(r.Sources[name], source)
	}
}

// ParseExtraction reads the per-document extraction output. Rows for other
// patients are ignored. When the file carries no patient column every row
// is attributed to the patient.
func ParseExtraction(r io.Reader, patientID string) (*Results, error) {
	res := NewResults(patientID)
	return res, res.parse(r, true)
}

// ParseDecisions reads the per-patient decision output into res.
func (r *Results) ParseDecisions(rd io.Reader) error {
	return r.parse(rd, false)
}

func (r *Results) parse(rd io.Reader, withNotes bool) error {
	cr := csv.NewReader(rd)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	header, err := cr.Read()
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	cols, err := resolveColumns(header, variableAliases, valueAliases)
	if err != nil {
		return err
	}
	person := findColumn(header, personAliases)
	note := -1
	if withNotes {
		note = findColumn(header, noteAliases)
	}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if person >= 0 && field(rec, person) != r.PatientID {
			continue
		}
		name := field(rec, cols[0])
		if name == "" {
			continue
		}
		r.add(name, field(rec, cols[1]), field(rec, note))
	}
}

func findColumn(header []string, aliases []string) int {
	for _, a := range aliases {
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")), a) {
				return i
			}
		}
	}
	return -1
}

func resolveColumns(header []string, sets ...[]string) ([]int, error) {
	out := make([]int, len(sets))
	for i, aliases := range sets {
		out[i] = findColumn(header, aliases)
		if out[i] < 0 {
			return nil, fmt.Errorf("missing column %s", strings.Join(aliases, "|"))
		}
	}
	return out, nil
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}
