package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ehr/abstractor/internal/domain/classify"
	"github.com/ehr/abstractor/internal/domain/clinical"
	"github.com/ehr/abstractor/internal/domain/corpus"
)

// ManifestFile is written next to the three CSVs.
const ManifestFile = "manifest.json"

// Manifest records how a package was built. It carries no timestamps so a
// rerun on the same inputs writes identical bytes.
type Manifest struct {
	PatientID           string                       `json:"patient_id"`
	ReferenceVersion    string                       `json:"reference_version"`
	DefinitionsVersion  string                       `json:"definitions_version"`
	TumorSurgeries      int                          `json:"tumor_surgeries"`
	SurgicalEncounters  []classify.SurgicalEncounter `json:"surgical_encounters,omitempty"`
	DiagnosisDate       string                       `json:"diagnosis_date,omitempty"`
	DiagnosisDateSource string                       `json:"diagnosis_date_source,omitempty"`
	DateResolution      []DateResolution             `json:"date_resolution"`
	Unmapped            []string                     `json:"unmapped_procedures,omitempty"`
	Derived             []DerivedFinding             `json:"derived_findings,omitempty"`
	Documents           []DocumentEntry              `json:"documents"`
	RankedOut           []string                     `json:"ranked_out,omitempty"`
	MissingText         []string                     `json:"missing_text,omitempty"`
	Duplicates          []string                     `json:"duplicates,omitempty"`
}

// DateResolution names the warehouse field an event date came from.
type DateResolution struct {
	Table  string              `json:"table"`
	ID     string              `json:"id"`
	Date   string              `json:"date,omitempty"`
	Source clinical.DateSource `json:"source"`
}

// DerivedFinding is a molecular finding inferred by rule.
type DerivedFinding struct {
	ID     string `json:"id"`
	Gene   string `json:"gene"`
	Result string `json:"result"`
	Rule   string `json:"rule"`
	Basis  string `json:"basis"`
}

// DocumentEntry is one row of project.csv with its score.
type DocumentEntry struct {
	ID         string        `json:"id"`
	Title      string        `json:"title"`
	Date       string        `json:"date,omitempty"`
	Structured bool          `json:"structured"`
	Score      *corpus.Score `json:"score,omitempty"`
}

func (p *Pipeline) manifest(rec *records, diagDate *time.Time, diagSource classify.DiagnosisDateSource,
	docs []corpus.Document, rankedOut, missing, duplicates []string) *Manifest {
	m := &Manifest{
		PatientID:           rec.patient.ID,
		ReferenceVersion:    p.opts.Tables.Version,
		DefinitionsVersion:  p.opts.Definitions.Version,
		TumorSurgeries:      classify.CountTumorSurgeries(rec.surgeries),
		DiagnosisDate:       clinical.FormatDate(diagDate),
		DiagnosisDateSource: string(diagSource),
		DateResolution:      []DateResolution{},
		Documents:           make([]DocumentEntry, 0, len(docs)),
		RankedOut:           rankedOut,
		MissingText:         missing,
		Duplicates:          duplicates,
	}
	if p.opts.EncounterWindowDays > 0 {
		m.SurgicalEncounters = classify.GroupSurgicalEncounters(rec.surgeries, p.opts.EncounterWindowDays)
	}

	addDates := func(events []clinical.Event) {
		for _, e := range events {
			m.DateResolution = append(m.DateResolution, DateResolution{
				Table:  e.Provenance.Table,
				ID:     e.ID,
				Date:   e.DateString(),
				Source: e.Provenance.SourceField,
			})
		}
	}
	addDates(surgeryEvents(rec.procedures))
	addDates(medicationEvents(rec.meds.Chemotherapy))
	addDates(medicationEvents(rec.meds.Concomitant))
	addDates(diagnosisEvents(rec.diagnoses))
	addDates(pathologyEvents(rec.pathology))
	for _, f := range rec.molecular {
		if !f.Derived {
			addDates([]clinical.Event{f.Event})
		}
	}

	for _, s := range rec.procedures {
		if s.Provenance.Rule == "unmapped" {
			m.Unmapped = append(m.Unmapped, s.ID)
		}
	}
	for _, f := range rec.molecular {
		if f.Derived {
			m.Derived = append(m.Derived, DerivedFinding{
				ID: f.ID, Gene: f.Gene, Result: f.Result, Rule: f.Provenance.Rule, Basis: f.Basis,
			})
		}
	}
	for _, d := range docs {
		e := DocumentEntry{ID: d.ID, Title: d.Title, Date: d.DateString(), Structured: d.Structured}
		if !d.Structured {
			score := d.Score
			e.Score = &score
		}
		m.Documents = append(m.Documents, e)
	}
	return m
}

// Write stores the package and its manifest in dir, creating it if needed.
// Existing files are overwritten.
func Write(dir string, res *Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := res.Package.Write(dir); err != nil {
		return err
	}
	data, err := encodeManifest(res.Manifest)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", ManifestFile, err)
	}
	return nil
}

func encodeManifest(m *Manifest) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return buf.Bytes(), nil
}
