// Package pipeline runs the per-patient abstraction preparation: structured
// extraction, classification, synthesis, document prioritization,
// deduplication and CSV assembly.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/abstractor/internal/domain/brimcsv"
	"github.com/ehr/abstractor/internal/domain/classify"
	"github.com/ehr/abstractor/internal/domain/clinical"
	"github.com/ehr/abstractor/internal/domain/corpus"
	"github.com/ehr/abstractor/internal/domain/extraction"
	"github.com/ehr/abstractor/internal/domain/prioritize"
	"github.com/ehr/abstractor/internal/domain/synthesize"
	"github.com/ehr/abstractor/internal/reference"
)

// Options configures a Pipeline.
type Options struct {
	Tables      *reference.Tables
	Definitions *brimcsv.Definitions
	TopN        int
	// DiagnosisPriority orders the diagnosis date candidates.
	DiagnosisPriority []classify.DiagnosisDateSource
	// EncounterWindowDays enables surgical encounter grouping when positive.
	EncounterWindowDays int
}

// Pipeline holds the immutable stages shared by every patient run.
type Pipeline struct {
	extractor   *extraction.Service
	classifier  *classify.Classifier
	prioritizer *prioritize.Prioritizer
	synth       *synthesize.Synthesizer
	assembler   *brimcsv.Assembler
	opts        Options
	logger      zerolog.Logger
}

// New wires the stages around an extractor.
func New(extractor *extraction.Service, opts Options, logger zerolog.Logger) *Pipeline {
	if len(opts.DiagnosisPriority) == 0 {
		opts.DiagnosisPriority = classify.DefaultDiagnosisPriority
	}
	return &Pipeline{
		extractor:   extractor,
		classifier:  classify.New(opts.Tables, logger),
		prioritizer: prioritize.New(opts.Tables, opts.TopN),
		synth:       synthesize.New(),
		assembler:   brimcsv.NewAssembler(logger),
		opts:        opts,
		logger:      logger,
	}
}

// Result is one patient's engine package and its run manifest.
type Result struct {
	PatientID string
	Package   *brimcsv.Package
	Manifest  *Manifest
}

// records are the classified structured events of one patient.
type records struct {
	patient    *clinical.PatientRecord
	surgeries  []clinical.SurgeryEvent
	procedures []clinical.SurgeryEvent
	meds       clinical.MedicationSet
	molecular  []clinical.MolecularFindingEvent
	diagnoses  []clinical.DiagnosisEvent
	pathology  []clinical.PathologyReport
}

// Run builds the engine package for one patient. Each stage consumes its
// whole input before the next begins.
func (p *Pipeline) Run(ctx context.Context, patientID string) (*Result, error) {
	log := p.logger.With().Str("patient_id", patientID).Logger()
	log.Info().Msg("pipeline run started")

	rec, err := p.extract(ctx, patientID)
	if err != nil {
		return nil, err
	}

	diagDate, diagSource := p.diagnosisDate(rec)
	structured, err := p.synthesize(rec, diagDate, diagSource)
	if err != nil {
		return nil, err
	}

	meta, err := p.extractor.DocumentMetadata(ctx, patientID)
	if err != nil {
		return nil, err
	}
	anchors := prioritize.Anchors(
		surgeryEvents(rec.procedures),
		medicationEvents(rec.meds.Chemotherapy),
		diagnosisEvents(rec.diagnoses),
		pathologyEvents(rec.pathology),
	)
	sel, err := p.prioritizer.Select(ctx, meta, anchors, p.extractor.AttachText)
	if err != nil {
		return nil, err
	}
	rankedOut, missing := sel.RankedOut, sel.MissingText

	docs, duplicates := corpus.Merge(structured, sel.Kept)
	pkg, err := p.assembler.Assemble(p.opts.Definitions, docs)
	if err != nil {
		return nil, fmt.Errorf("assemble package for %s: %w", patientID, err)
	}

	m := p.manifest(rec, diagDate, diagSource, docs, rankedOut, missing, duplicates)
	log.Info().
		Int("documents", len(docs)).
		Int("structured", len(structured)).
		Int("tumor_surgeries", m.TumorSurgeries).
		Int("ranked_out", len(rankedOut)).
		Int("missing_text", len(missing)).
		Msg("pipeline run finished")

	return &Result{PatientID: patientID, Package: pkg, Manifest: m}, nil
}

func (p *Pipeline) extract(ctx context.Context, patientID string) (*records, error) {
	var (
		rec records
		err error
	)
	if rec.patient, err = p.extractor.Demographics(ctx, patientID); err != nil {
		return nil, err
	}
	surgeries, err := p.extractor.Surgeries(ctx, patientID)
	if err != nil {
		return nil, err
	}
	rec.surgeries = p.classifier.ClassifySurgeries(surgeries)

	procedures, err := p.extractor.Procedures(ctx, patientID, p.extractor.NeurosurgicalFilter())
	if err != nil {
		return nil, err
	}
	rec.procedures = p.classifier.ClassifySurgeries(procedures)

	meds, err := p.extractor.Medications(ctx, patientID)
	if err != nil {
		return nil, err
	}
	rec.meds = p.classifier.SplitMedications(meds)

	findings, err := p.extractor.MolecularFindings(ctx, patientID)
	if err != nil {
		return nil, err
	}
	rec.molecular = p.classifier.InferMolecular(findings)

	if rec.diagnoses, err = p.extractor.Diagnoses(ctx, patientID); err != nil {
		return nil, err
	}
	if rec.pathology, err = p.extractor.PathologyReports(ctx, patientID); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (p *Pipeline) diagnosisDate(rec *records) (*time.Time, classify.DiagnosisDateSource) {
	c := classify.DiagnosisDateCandidates{}
	for _, r := range rec.pathology {
		c.Offer(classify.DiagnosisFromPathology, r.Date)
	}
	for _, s := range classify.TumorResections(rec.surgeries) {
		c.Offer(classify.DiagnosisFromSurgery, s.Date)
	}
	for _, d := range rec.diagnoses {
		c.Offer(classify.DiagnosisFromOnset, d.Date)
		c.Offer(classify.DiagnosisFromRecorded, d.RecordedDate)
	}
	return classify.ResolveDiagnosisDate(p.opts.DiagnosisPriority, c)
}

// synthesize renders the structured summary documents in a fixed order.
func (p *Pipeline) synthesize(rec *records, diagDate *time.Time, diagSource classify.DiagnosisDateSource) ([]corpus.Document, error) {
	id := rec.patient.ID
	builders := []func() (corpus.Document, error){
		func() (corpus.Document, error) { return p.synth.Demographics(rec.patient) },
		func() (corpus.Document, error) { return p.synth.Diagnosis(id, rec.diagnoses, diagDate, diagSource) },
		func() (corpus.Document, error) { return p.synth.Surgeries(id, rec.surgeries) },
		func() (corpus.Document, error) { return p.synth.Treatments(id, rec.meds.Chemotherapy) },
		func() (corpus.Document, error) { return p.synth.MolecularMarkers(id, rec.molecular) },
	}
	docs := make([]corpus.Document, 0, len(builders))
	for _, build := range builders {
		d, err := build()
		if err != nil {
			return nil, fmt.Errorf("synthesize: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, nil
}

func surgeryEvents(in []clinical.SurgeryEvent) []clinical.Event {
	out := make([]clinical.Event, len(in))
	for i, e := range in {
		out[i] = e.Event
	}
	return out
}

func medicationEvents(in []clinical.MedicationEvent) []clinical.Event {
	out := make([]clinical.Event, len(in))
	for i, e := range in {
		out[i] = e.Event
	}
	return out
}

func diagnosisEvents(in []clinical.DiagnosisEvent) []clinical.Event {
	out := make([]clinical.Event, len(in))
	for i, e := range in {
		out[i] = e.Event
	}
	return out
}

func pathologyEvents(in []clinical.PathologyReport) []clinical.Event {
	out := make([]clinical.Event, len(in))
	for i, e := range in {
		out[i] = e.Event
	}
	return out
}
