// Package synthesize renders classified structured events as markdown
// table documents in the reserved STRUCTURED_ namespace. Every rendered
// table is parsed back and its row count checked against the events given.
package synthesize

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"github.com/ehr/abstractor/internal/domain/classify"
	"github.com/ehr/abstractor/internal/domain/clinical"
	"github.com/ehr/abstractor/internal/domain/corpus"
)

// Document names within the reserved namespace.
const (
	Surgeries          = "surgeries"
	Treatments         = "treatments"
	MolecularMarkers   = "molecular_markers"
	Diagnosis          = "diagnosis"
	Demographics       = "demographics"
	StructuredDocument = "Structured Summary"
)

const notRecorded = "not recorded"

var ErrRowCountMismatch = errors.New("synthesized table row count does not match event count")

// Synthesizer renders structured summary documents.
type Synthesizer struct {
	md goldmark.Markdown
}

// New returns a Synthesizer using the GFM table extension.
func New() *Synthesizer {
	return &Synthesizer{md: goldmark.New(goldmark.WithExtensions(extension.GFM))}
}

// CountTableRows parses markdown and counts body rows across all tables.
// Header rows are not counted.
func (s *Synthesizer) CountTableRows(markdown string) int {
	src := []byte(markdown)
	doc := s.md.Parser().Parse(text.NewReader(src))
	n := 0
	_ = ast.Walk(doc, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering && node.Kind() == east.KindTableRow {
			n++
		}
		return ast.WalkContinue, nil
	})
	return n
}

// HTML renders a synthesized document for preview.
func (s *Synthesizer) HTML(doc corpus.Document) (string, error) {
	var buf bytes.Buffer
	if err := s.md.Convert([]byte(doc.Text), &buf); err != nil {
		return "", fmt.Errorf("render %s: %w", doc.ID, err)
	}
	return buf.String(), nil
}

func (s *Synthesizer) build(patientID, name, title, preamble string, t *table, want int) (corpus.Document, error) {
	var sb strings.Builder
	sb.WriteString("# " + title + "\n\n")
	if preamble != "" {
		sb.WriteString(preamble + "\n\n")
	}
	t.writeTo(&sb)
	body := sb.String()

	id := corpus.StructuredID(name)
	if got := s.CountTableRows(body); got != want {
		return corpus.Document{}, fmt.Errorf("%w: %s has %d rows for %d events", ErrRowCountMismatch, id, got, want)
	}
	return corpus.Document{
		ID:         id,
		PersonID:   patientID,
		Title:      title,
		Type:       StructuredDocument,
		DateSource: clinical.DateAbsent,
		TextLength: int64(len(body)),
		Text:       body,
		Structured: true,
	}, nil
}

// Surgeries renders one row per classified procedure.
func (s *Synthesizer) Surgeries(patientID string, events []clinical.SurgeryEvent) (corpus.Document, error) {
	t := &table{header: []string{"Date", "Procedure ID", "Code", "Description", "Surgery Type", "Extent of Resection", "Location"}}
	for _, ev := range events {
		t.add(ev.DateString(), ev.ID, ev.Code, ev.Display, string(ev.SurgeryType), ev.Extent.String(), ev.Location.String())
	}
	preamble := fmt.Sprintf("Tumor surgeries on distinct dates: %d.", classify.CountTumorSurgeries(events))
	return s.build(patientID, Surgeries, "Structured Surgical History", preamble, t, len(events))
}

// Treatments renders one row per chemotherapy medication.
func (s *Synthesizer) Treatments(patientID string, meds []clinical.MedicationEvent) (corpus.Document, error) {
	t := &table{header: []string{"Start Date", "Medication", "RxNorm", "Status", "Matched By"}}
	for _, m := range meds {
		t.add(m.DateString(), m.Display, m.RxNorm, m.Status, m.Provenance.Rule)
	}
	preamble := ""
	if len(meds) == 0 {
		preamble = "No chemotherapy agents recorded in structured medication data."
	}
	return s.build(patientID, Treatments, "Structured Chemotherapy History", preamble, t, len(meds))
}

// MolecularMarkers renders one row per molecular finding, observed or
// derived.
func (s *Synthesizer) MolecularMarkers(patientID string, findings []clinical.MolecularFindingEvent) (corpus.Document, error) {
	t := &table{header: []string{"Date", "Gene", "Result", "Derived", "Basis"}}
	for _, f := range findings {
		basis := f.Basis
		if basis == "" {
			basis = "observed in " + f.ID
		}
		t.add(f.DateString(), f.Gene, f.Result, strconv.FormatBool(f.Derived), basis)
	}
	preamble := ""
	if len(findings) == 0 {
		preamble = "No molecular testing recorded in structured data."
	}
	return s.build(patientID, MolecularMarkers, "Structured Molecular Markers", preamble, t, len(findings))
}

// Diagnosis renders one row per condition with the resolved diagnosis date
// above the table.
func (s *Synthesizer) Diagnosis(patientID string, diagnoses []clinical.DiagnosisEvent, date *time.Time, source classify.DiagnosisDateSource) (corpus.Document, error) {
	t := &table{header: []string{"Onset Date", "Recorded Date", "ICD-10", "Diagnosis", "Clinical Status"}}
	for _, d := range diagnoses {
		t.add(d.DateString(), clinical.FormatDate(d.RecordedDate), d.Code, d.Display, d.ClinicalStatus)
	}
	preamble := "Diagnosis date: " + notRecorded + "."
	if date != nil {
		preamble = fmt.Sprintf("Diagnosis date: %s (from %s).", clinical.FormatDate(date), source)
	}
	return s.build(patientID, Diagnosis, "Structured Diagnosis", preamble, t, len(diagnoses))
}

// Demographics renders the patient record as a single-row table.
func (s *Synthesizer) Demographics(p *clinical.PatientRecord) (corpus.Document, error) {
	t := &table{header: []string{"Patient", "Sex", "Birth Date", "Race", "Ethnicity"}}
	t.add(p.ID, deref(p.Sex), clinical.FormatDate(p.BirthDate), deref(p.Race), deref(p.Ethnicity))
	return s.build(p.ID, Demographics, "Structured Demographics", "", t, 1)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
