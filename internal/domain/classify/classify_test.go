package classify

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/abstractor/internal/domain/clinical"
	"github.com/ehr/abstractor/internal/reference"
)

func newTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	tables, err := reference.Default()
	if err != nil {
		t.Fatalf("load reference: %v", err)
	}
	return New(tables, zerolog.Nop())
}

func day(s string) *time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return &d
}

func surgery(id, code, date, enc string) clinical.SurgeryEvent {
	ev := clinical.SurgeryEvent{Event: clinical.Event{ID: id, PatientID: "p1", Code: code}, EncounterRef: enc}
	if date != "" {
		ev.Date = day(date)
	}
	return ev
}

func TestClassifySurgeries_Scenario(t *testing.T) {
	c := newTestClassifier(t)
	events := c.ClassifySurgeries([]clinical.SurgeryEvent{
		surgery("a", "61500", "2018-05-28", ""),
		surgery("b", "62201", "2018-05-28", ""),
		surgery("c", "61304", "2018-05-20", ""),
	})
	want := []clinical.SurgeryType{clinical.SurgeryTumorResection, clinical.SurgeryShunt, clinical.SurgeryBiopsy}
	for i, w := range want {
		if events[i].SurgeryType != w {
			t.Errorf("%s: got %s, want %s", events[i].ID, events[i].SurgeryType, w)
		}
		if events[i].Provenance.Rule == "" {
			t.Errorf("%s: missing provenance rule", events[i].ID)
		}
	}
	if n := CountTumorSurgeries(events); n != 1 {
		t.Fatalf("expected 1 tumor surgery, got %d", n)
	}
}

func TestClassifySurgery_UnmappedIsOther(t *testing.T) {
	c := newTestClassifier(t)
	for _, code := range []string{"99213", "", "ABC", "615000"} {
		ev := c.ClassifySurgery(surgery("x", code, "", ""))
		if ev.SurgeryType != clinical.SurgeryOther {
			t.Errorf("code %q: expected Other, got %s", code, ev.SurgeryType)
		}
		if ev.Provenance.Rule != "unmapped" {
			t.Errorf("code %q: expected unmapped rule, got %q", code, ev.Provenance.Rule)
		}
	}
}

func TestClassifySurgery_DefersExtentAndLocation(t *testing.T) {
	c := newTestClassifier(t)
	ev := c.ClassifySurgery(surgery("a", "61510", "2018-05-28", ""))
	if !ev.Extent.Deferred || ev.Extent.Value != "" {
		t.Errorf("expected extent deferred without value, got %+v", ev.Extent)
	}
	if !ev.Location.Deferred || ev.Location.String() != clinical.NarrativeRequired {
		t.Errorf("expected location deferred, got %+v", ev.Location)
	}
}

func TestSplitMedications_Scenario(t *testing.T) {
	c := newTestClassifier(t)
	meds := []clinical.MedicationEvent{
		{Event: clinical.Event{ID: "m1", Display: "vinblastine injection"}},
		{Event: clinical.Event{ID: "m2", Display: "dexamethasone sodium phosphate"}},
		{Event: clinical.Event{ID: "m3", Display: "selumetinib cap"}},
	}
	set := c.SplitMedications(meds)
	if len(set.Chemotherapy) != 2 || set.Chemotherapy[0].ID != "m1" || set.Chemotherapy[1].ID != "m3" {
		t.Fatalf("unexpected chemotherapy set: %+v", set.Chemotherapy)
	}
	if len(set.Concomitant) != 1 || set.Concomitant[0].ID != "m2" {
		t.Fatalf("unexpected concomitant set: %+v", set.Concomitant)
	}
	if set.Chemotherapy[0].Provenance.Rule != "keyword:vinblastine" {
		t.Errorf("unexpected rule %q", set.Chemotherapy[0].Provenance.Rule)
	}
}

func TestSplitMedications_Disjoint(t *testing.T) {
	c := newTestClassifier(t)
	names := []string{"Temodar 100 mg", "ondansetron", "CARBOPLATIN IV", "", "levetiracetam", "Vincristine sulfate", "acetaminophen"}
	var meds []clinical.MedicationEvent
	for i, n := range names {
		meds = append(meds, clinical.MedicationEvent{Event: clinical.Event{ID: string(rune('a' + i)), Display: n}})
	}
	set := c.SplitMedications(meds)
	if set.Len() != len(meds) {
		t.Fatalf("union size %d, want %d", set.Len(), len(meds))
	}
	seen := make(map[string]clinical.MedicationCategory)
	for _, m := range append(append([]clinical.MedicationEvent{}, set.Chemotherapy...), set.Concomitant...) {
		if prev, ok := seen[m.ID]; ok {
			t.Fatalf("%s in both sets (%s, %s)", m.ID, prev, m.Category)
		}
		seen[m.ID] = m.Category
	}
}

func TestSplitMedications_RxNormSecondary(t *testing.T) {
	c := newTestClassifier(t)
	set := c.SplitMedications([]clinical.MedicationEvent{
		{Event: clinical.Event{ID: "m1", Display: "study drug"}, RxNorm: "11202"},
	})
	if len(set.Chemotherapy) != 1 || set.Chemotherapy[0].Provenance.Rule != "rxnorm:11202" {
		t.Fatalf("expected rxnorm match, got %+v", set)
	}
}

func TestInferMolecular(t *testing.T) {
	c := newTestClassifier(t)
	fusion := clinical.MolecularFindingEvent{
		Event:  clinical.Event{ID: "obs-1", PatientID: "p1", Date: day("2018-06-04")},
		Gene:   "BRAF",
		Result: "KIAA1549-BRAF fusion detected",
	}

	out := c.InferMolecular([]clinical.MolecularFindingEvent{fusion})
	if len(out) != 2 {
		t.Fatalf("expected derived finding, got %d findings", len(out))
	}
	d := out[1]
	if !d.Derived || d.Result != IDHWildtype || d.Gene != "IDH" {
		t.Errorf("unexpected derived finding %+v", d)
	}
	if out[0].Derived {
		t.Errorf("observed finding flagged as derived")
	}

	idh := clinical.MolecularFindingEvent{Event: clinical.Event{ID: "obs-2"}, Gene: "IDH1", Result: "R132H mutant"}
	out = c.InferMolecular([]clinical.MolecularFindingEvent{fusion, idh})
	if len(out) != 2 {
		t.Fatalf("expected no inference when IDH finding present, got %d", len(out))
	}

	out = c.InferMolecular(nil)
	if len(out) != 0 {
		t.Fatalf("expected no findings, got %d", len(out))
	}
}

func TestInferMolecular_AbsentFusion(t *testing.T) {
	c := newTestClassifier(t)
	tests := []struct {
		name    string
		display string
		result  string
	}{
		{"negated", "BRAF fusion analysis", "No BRAF fusion detected"},
		{"not detected", "BRAF fusion", "Not detected"},
		{"negative", "KIAA1549-BRAF", "Negative"},
		{"colon form", "", "BRAF fusion: negative / not detected"},
		{"wild type", "BRAF", "Wild-type, no fusion identified"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := clinical.MolecularFindingEvent{
				Event:  clinical.Event{ID: "obs-9", PatientID: "p1", Display: tt.display},
				Gene:   "BRAF",
				Result: tt.result,
			}
			out := c.InferMolecular([]clinical.MolecularFindingEvent{f})
			if len(out) != 1 {
				t.Fatalf("expected no derived finding, got %+v", out)
			}
			if out[0].Derived {
				t.Errorf("observed finding flagged as derived")
			}
		})
	}
}

func TestInferMolecular_PresentFusionWithNegativeNeighbour(t *testing.T) {
	c := newTestClassifier(t)
	absent := clinical.MolecularFindingEvent{
		Event:  clinical.Event{ID: "obs-1", PatientID: "p1"},
		Gene:   "BRAF",
		Result: "BRAF V600E fusion not detected",
	}
	present := clinical.MolecularFindingEvent{
		Event:  clinical.Event{ID: "obs-2", PatientID: "p1"},
		Gene:   "BRAF",
		Result: "KIAA1549-BRAF fusion identified",
	}
	out := c.InferMolecular([]clinical.MolecularFindingEvent{absent, present})
	if len(out) != 3 {
		t.Fatalf("expected derived finding, got %d findings", len(out))
	}
	if d := out[2]; !d.Derived || d.ID != "derived-idh-obs-2" {
		t.Errorf("expected inference from obs-2, got %+v", d)
	}
}

func TestGroupSurgicalEncounters(t *testing.T) {
	c := newTestClassifier(t)
	events := c.ClassifySurgeries([]clinical.SurgeryEvent{
		surgery("a", "61510", "2018-05-28", "enc-1"),
		surgery("b", "61518", "2018-05-30", ""),
		surgery("c", "61500", "2018-06-02", "enc-1"),
		surgery("d", "61510", "2021-03-10", ""),
		surgery("e", "62201", "2021-03-10", ""),
	})

	sameDay := GroupSurgicalEncounters(events, 0)
	if len(sameDay) != 3 {
		t.Fatalf("window 0: expected 3 encounters, got %d", len(sameDay))
	}
	if len(sameDay[0].Events) != 2 {
		t.Errorf("expected shared encounter reference to group a and c, got %d events", len(sameDay[0].Events))
	}

	week := GroupSurgicalEncounters(events, 7)
	if len(week) != 2 {
		t.Fatalf("window 7: expected 2 encounters, got %d", len(week))
	}
	if CountTumorSurgeries(events) != 4 {
		t.Errorf("expected 4 distinct resection dates, got %d", CountTumorSurgeries(events))
	}
}

func TestResolveDiagnosisDate(t *testing.T) {
	cands := DiagnosisDateCandidates{}
	cands.Offer(DiagnosisFromSurgery, day("2018-05-28"))
	cands.Offer(DiagnosisFromSurgery, day("2018-05-20"))
	cands.Offer(DiagnosisFromOnset, day("2018-04-01"))
	cands.Offer(DiagnosisFromPathology, nil)

	d, src := ResolveDiagnosisDate(DefaultDiagnosisPriority, cands)
	if src != DiagnosisFromSurgery || clinical.FormatDate(d) != "2018-05-20" {
		t.Errorf("got %s from %s", clinical.FormatDate(d), src)
	}

	prio, err := ParseDiagnosisPriority("condition_onset, surgery")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d, src = ResolveDiagnosisDate(prio, cands)
	if src != DiagnosisFromOnset || clinical.FormatDate(d) != "2018-04-01" {
		t.Errorf("got %s from %s", clinical.FormatDate(d), src)
	}

	if _, err := ParseDiagnosisPriority("biopsy"); err == nil {
		t.Fatal("expected error for unknown source")
	}
	if d, src := ResolveDiagnosisDate(prio, DiagnosisDateCandidates{}); d != nil || src != "" {
		t.Errorf("expected no date, got %v %s", d, src)
	}
}
