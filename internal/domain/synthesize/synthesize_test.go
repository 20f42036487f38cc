package synthesize

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ehr/abstractor/internal/domain/classify"
	"github.com/ehr/abstractor/internal/domain/clinical"
	"github.com/ehr/abstractor/internal/domain/corpus"
)

func day(s string) *time.Time {
	d, _ := time.Parse("2006-01-02", s)
	return &d
}

func TestSurgeries_RowCountFidelity(t *testing.T) {
	s := New()
	for _, n := range []int{0, 1, 3, 25} {
		t.Run(fmt.Sprintf("%d events", n), func(t *testing.T) {
			events := make([]clinical.SurgeryEvent, n)
			for i := range events {
				events[i] = clinical.SurgeryEvent{
					Event:       clinical.Event{ID: fmt.Sprintf("proc-%d", i), Code: "61510", Display: "Craniotomy | tumor\nexcision", Date: day("2018-05-28")},
					SurgeryType: clinical.SurgeryTumorResection,
					Extent:      clinical.DeferToNarrative("x"),
					Location:    clinical.DeferToNarrative("x"),
				}
			}
			doc, err := s.Surgeries("p1", events)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := s.CountTableRows(doc.Text); got != n {
				t.Fatalf("expected %d rows, got %d", n, got)
			}
			if doc.ID != "STRUCTURED_surgeries" || !doc.Structured || !corpus.IsStructuredID(doc.ID) {
				t.Errorf("unexpected document identity %+v", doc)
			}
		})
	}
}

func TestSurgeries_RendersDeferredFields(t *testing.T) {
	s := New()
	doc, err := s.Surgeries("p1", []clinical.SurgeryEvent{{
		Event:       clinical.Event{ID: "proc-1", Code: "61500", Date: day("2018-05-28")},
		SurgeryType: clinical.SurgeryTumorResection,
		Extent:      clinical.DeferToNarrative("not coded"),
		Location:    clinical.DeferToNarrative("not coded"),
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(doc.Text, clinical.NarrativeRequired) {
		t.Errorf("expected deferred marker in text:\n%s", doc.Text)
	}
	if !strings.Contains(doc.Text, "Tumor surgeries on distinct dates: 1.") {
		t.Errorf("expected surgery count in text:\n%s", doc.Text)
	}
}

func TestMolecularMarkers_DerivedFlag(t *testing.T) {
	s := New()
	doc, err := s.MolecularMarkers("p1", []clinical.MolecularFindingEvent{
		{Event: clinical.Event{ID: "obs-1"}, Gene: "BRAF", Result: "KIAA1549-BRAF fusion"},
		{Event: clinical.Event{ID: "derived-idh-obs-1"}, Gene: "IDH", Result: classify.IDHWildtype, Derived: true, Basis: "BRAF fusion"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.CountTableRows(doc.Text) != 2 {
		t.Fatalf("expected 2 rows")
	}
	if !strings.Contains(doc.Text, "| IDH | wildtype | true |") {
		t.Errorf("expected derived row, got:\n%s", doc.Text)
	}
}

func TestDemographicsAndDiagnosis(t *testing.T) {
	s := New()
	sex := "female"
	demo, err := s.Demographics(&clinical.PatientRecord{ID: "p1", Sex: &sex})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.CountTableRows(demo.Text) != 1 {
		t.Errorf("expected a single demographics row")
	}
	if !strings.Contains(demo.Text, notRecorded) {
		t.Errorf("expected unknown attributes rendered as %q", notRecorded)
	}

	dx, err := s.Diagnosis("p1", []clinical.DiagnosisEvent{
		{Event: clinical.Event{ID: "c1", Code: "D43.1", Display: "Pilocytic astrocytoma", Date: day("2018-05-20")}},
	}, day("2018-05-28"), classify.DiagnosisFromPathology)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(dx.Text, "Diagnosis date: 2018-05-28 (from pathology).") {
		t.Errorf("unexpected diagnosis text:\n%s", dx.Text)
	}
}

func TestBuild_RejectsMismatch(t *testing.T) {
	s := New()
	tb := &table{header: []string{"A"}}
	tb.add("one")
	_, err := s.build("p1", "x", "X", "", tb, 2)
	if !errors.Is(err, ErrRowCountMismatch) {
		t.Fatalf("expected ErrRowCountMismatch, got %v", err)
	}
}

func TestHTML(t *testing.T) {
	s := New()
	doc, err := s.Treatments("p1", []clinical.MedicationEvent{{Event: clinical.Event{ID: "m1", Display: "vinblastine"}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	html, err := s.HTML(doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(html, "<table>") || !strings.Contains(html, "<td>vinblastine</td>") {
		t.Errorf("unexpected html:\n%s", html)
	}
}
