package extraction

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/abstractor/internal/domain/clinical"
	"github.com/ehr/abstractor/internal/domain/corpus"
	"github.com/ehr/abstractor/internal/reference"
)

// PathologyCategory selects pathology diagnostic reports.
const PathologyCategory = "pathology"

// Service extracts typed clinical records for one patient at a time. It
// holds no per-patient state and is safe for concurrent use.
type Service struct {
	wh     Warehouse
	texts  TextSource
	tables *reference.Tables
	logger zerolog.Logger
}

// NewService builds an extractor. When texts is nil document text is read
// from the warehouse.
func NewService(wh Warehouse, texts TextSource, tables *reference.Tables, logger zerolog.Logger) *Service {
	if texts == nil {
		texts = wh
	}
	return &Service{wh: wh, texts: texts, tables: tables, logger: logger}
}

func (s *Service) resolve(table, id string, pointInTime, periodStart *string) (*time.Time, clinical.DateSource) {
	d, src := ResolveDate(pointInTime, periodStart)
	s.logger.Debug().Str("table", table).Str("id", id).Str("date_source", string(src)).Msg("date resolved")
	return d, src
}

// Demographics returns the patient record. Blank attributes are unknown.
func (s *Service) Demographics(ctx context.Context, patientID string) (*clinical.PatientRecord, error) {
	row, err := s.wh.Patient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("demographics: %w", err)
	}
	rec := &clinical.PatientRecord{
		ID:        row.ID,
		Sex:       nonBlank(row.Gender),
		Race:      nonBlank(row.Race),
		Ethnicity: nonBlank(row.Ethnicity),
	}
	if row.BirthDate != nil {
		rec.BirthDate, _ = ParseDate(*row.BirthDate)
	}
	return rec, nil
}

// SurgeryFilter includes tumor-resection ranges and excludes shunt and
// biopsy ranges.
func (s *Service) SurgeryFilter() ProcedureFilter {
	exclude := append(s.tables.RangesFor(clinical.SurgeryShunt), s.tables.RangesFor(clinical.SurgeryBiopsy)...)
	return ProcedureFilter{
		Include:     s.tables.RangesFor(clinical.SurgeryTumorResection),
		Exclude:     exclude,
		CodeSystems: s.tables.SurgeryCodeSystems,
	}
}

// NeurosurgicalFilter includes every classified range.
func (s *Service) NeurosurgicalFilter() ProcedureFilter {
	return ProcedureFilter{
		Include:     s.tables.SurgeryCodes,
		CodeSystems: s.tables.SurgeryCodeSystems,
	}
}

// Surgeries returns tumor-resection procedures only. Shunts and biopsies
// are excluded by the query itself.
func (s *Service) Surgeries(ctx context.Context, patientID string) ([]clinical.SurgeryEvent, error) {
	return s.Procedures(ctx, patientID, s.SurgeryFilter())
}

// Procedures returns unclassified procedure events matching f.
func (s *Service) Procedures(ctx context.Context, patientID string, f ProcedureFilter) ([]clinical.SurgeryEvent, error) {
	if len(f.Include) == 0 {
		return nil, nil
	}
	rows, err := s.wh.Procedures(ctx, patientID, f)
	if err != nil {
		return nil, fmt.Errorf("procedures: %w", err)
	}
	events := make([]clinical.SurgeryEvent, 0, len(rows))
	for _, r := range rows {
		date, src := s.resolve("procedure", r.ID, r.PerformedDateTime, r.PerformedPeriodStart)
		events = append(events, clinical.SurgeryEvent{
			Event: clinical.Event{
				ID:        r.ID,
				PatientID: patientID,
				Date:      date,
				Code:      strings.TrimSpace(r.Code),
				Display:   deref(r.Display),
				Provenance: clinical.Provenance{
					Table:       "procedure",
					SourceField: src,
					CodeSystem:  deref(r.CodeSystem),
				},
			},
			EncounterRef: deref(r.EncounterRef),
		})
	}
	sort.SliceStable(events, func(i, j int) bool { return eventLess(events[i].Event, events[j].Event) })
	return events, nil
}

// Medications returns every medication request for the patient. The
// classifier splits them into chemotherapy and concomitant sets.
func (s *Service) Medications(ctx context.Context, patientID string) ([]clinical.MedicationEvent, error) {
	rows, err := s.wh.Medications(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("medications: %w", err)
	}
	events := make([]clinical.MedicationEvent, 0, len(rows))
	for _, r := range rows {
		date, src := s.resolve("medication_request", r.ID, r.AuthoredOn, r.ValidityPeriodStart)
		events = append(events, clinical.MedicationEvent{
			Event: clinical.Event{
				ID:         r.ID,
				PatientID:  patientID,
				Date:       date,
				Code:       deref(r.RxNorm),
				Display:    strings.TrimSpace(r.Display),
				Provenance: clinical.Provenance{Table: "medication_request", SourceField: src, CodeSystem: "rxnorm"},
			},
			RxNorm: deref(r.RxNorm),
			Status: deref(r.Status),
		})
	}
	sort.SliceStable(events, func(i, j int) bool { return eventLess(events[i].Event, events[j].Event) })
	return events, nil
}

// MolecularFindings returns observations naming a reference gene.
func (s *Service) MolecularFindings(ctx context.Context, patientID string) ([]clinical.MolecularFindingEvent, error) {
	rows, err := s.wh.Observations(ctx, patientID, s.tables.MolecularGenes)
	if err != nil {
		return nil, fmt.Errorf("molecular findings: %w", err)
	}
	events := make([]clinical.MolecularFindingEvent, 0, len(rows))
	for _, r := range rows {
		date, src := s.resolve("observation", r.ID, r.EffectiveDateTime, r.EffectivePeriodStart)
		value := deref(r.ValueString)
		events = append(events, clinical.MolecularFindingEvent{
			Event: clinical.Event{
				ID:         r.ID,
				PatientID:  patientID,
				Date:       date,
				Code:       r.CodeText,
				Display:    r.CodeText,
				Provenance: clinical.Provenance{Table: "observation", SourceField: src},
			},
			Gene:   s.geneOf(r.CodeText + " " + value),
			Result: value,
		})
	}
	sort.SliceStable(events, func(i, j int) bool { return eventLess(events[i].Event, events[j].Event) })
	return events, nil
}

func (s *Service) geneOf(text string) string {
	upper := strings.ToUpper(text)
	for _, g := range s.tables.MolecularGenes {
		if strings.Contains(upper, strings.ToUpper(g)) {
			return g
		}
	}
	return ""
}

// Diagnoses returns condition rows.
func (s *Service) Diagnoses(ctx context.Context, patientID string) ([]clinical.DiagnosisEvent, error) {
	rows, err := s.wh.Conditions(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("diagnoses: %w", err)
	}
	events := make([]clinical.DiagnosisEvent, 0, len(rows))
	for _, r := range rows {
		date, src := s.resolve("condition", r.ID, r.OnsetDateTime, r.OnsetPeriodStart)
		ev := clinical.DiagnosisEvent{
			Event: clinical.Event{
				ID:         r.ID,
				PatientID:  patientID,
				Date:       date,
				Code:       deref(r.Code),
				Display:    strings.TrimSpace(r.Display),
				Provenance: clinical.Provenance{Table: "condition", SourceField: src, CodeSystem: "icd-10-cm"},
			},
			ClinicalStatus: deref(r.ClinicalStatus),
		}
		if r.RecordedDate != nil {
			ev.RecordedDate, _ = ParseDate(*r.RecordedDate)
		}
		events = append(events, ev)
	}
	sort.SliceStable(events, func(i, j int) bool { return eventLess(events[i].Event, events[j].Event) })
	return events, nil
}

// PathologyReports returns diagnostic reports in the pathology category.
func (s *Service) PathologyReports(ctx context.Context, patientID string) ([]clinical.PathologyReport, error) {
	rows, err := s.wh.DiagnosticReports(ctx, patientID, PathologyCategory)
	if err != nil {
		return nil, fmt.Errorf("pathology reports: %w", err)
	}
	reports := make([]clinical.PathologyReport, 0, len(rows))
	for _, r := range rows {
		date, src := s.resolve("diagnostic_report", r.ID, r.EffectiveDateTime, r.EffectivePeriodStart)
		reports = append(reports, clinical.PathologyReport{
			Event: clinical.Event{
				ID:         r.ID,
				PatientID:  patientID,
				Date:       date,
				Display:    strings.TrimSpace(r.Display),
				Provenance: clinical.Provenance{Table: "diagnostic_report", SourceField: src},
			},
			Conclusion: deref(r.Conclusion),
		})
	}
	sort.SliceStable(reports, func(i, j int) bool { return eventLess(reports[i].Event, reports[j].Event) })
	return reports, nil
}

// DocumentMetadata returns narrative document metadata without text.
// Documents whose id collides with the reserved synthesized namespace are
// skipped.
func (s *Service) DocumentMetadata(ctx context.Context, patientID string) ([]corpus.Document, error) {
	rows, err := s.wh.Documents(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("document metadata: %w", err)
	}
	docs := make([]corpus.Document, 0, len(rows))
	for _, r := range rows {
		if corpus.IsStructuredID(r.ID) {
			s.logger.Warn().Str("document_id", r.ID).Msg("document id uses reserved prefix; skipped")
			continue
		}
		date, src := s.resolve("document_reference", r.ID, r.Date, r.ContextPeriodStart)
		title := strings.TrimSpace(deref(r.Description))
		if title == "" {
			title = strings.TrimSpace(deref(r.TypeText))
		}
		if title == "" {
			title = UntitledDocumentTitle(r.ID)
			s.logger.Warn().
				Str("document_id", r.ID).
				Str("title", title).
				Msg("document has no description or type; using default title")
		}
		d := corpus.Document{
			ID:              r.ID,
			PersonID:        patientID,
			Title:           title,
			Type:            deref(r.TypeText),
			Date:            date,
			DateSource:      src,
			PracticeSetting: deref(r.PracticeSetting),
		}
		if r.ContentSize != nil {
			d.TextLength = *r.ContentSize
		}
		docs = append(docs, d)
	}
	return docs, nil
}

// UntitledDocumentTitle is the title given to a document that carries
// neither a description nor a type.
func UntitledDocumentTitle(id string) string {
	return "Clinical document " + id
}

// AttachText fills document text. Documents without text are returned in
// missing and left out of the result.
func (s *Service) AttachText(ctx context.Context, docs []corpus.Document) ([]corpus.Document, []string, error) {
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	texts, err := s.texts.DocumentTexts(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("document text: %w", err)
	}
	out := make([]corpus.Document, 0, len(docs))
	var missing []string
	for _, d := range docs {
		text := texts[d.ID]
		if strings.TrimSpace(text) == "" {
			missing = append(missing, d.ID)
			s.logger.Warn().Str("document_id", d.ID).Msg("document has no text; dropped from corpus")
			continue
		}
		d.Text = text
		d.TextLength = int64(len(text))
		out = append(out, d)
	}
	return out, missing, nil
}

// eventLess orders by date with undated events last, then id and code.
func eventLess(a, b clinical.Event) bool {
	switch {
	case a.Date != nil && b.Date != nil && !a.Date.Equal(*b.Date):
		return a.Date.Before(*b.Date)
	case a.Date != nil && b.Date == nil:
		return true
	case a.Date == nil && b.Date != nil:
		return false
	}
	if a.ID != b.ID {
		return a.ID < b.ID
	}
	return a.Code < b.Code
}
