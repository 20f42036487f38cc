package extraction

import (
	"context"
	"errors"

	"github.com/ehr/abstractor/internal/reference"
)

var ErrPatientNotFound = errors.New("patient not found")

// PatientRow maps to the patient view.
type PatientRow struct {
	ID        string  `db:"id"`
	Gender    *string `db:"gender"`
	BirthDate *string `db:"birth_date"`
	Race      *string `db:"race"`
	Ethnicity *string `db:"ethnicity"`
}

// ProcedureRow is one procedure joined to one of its code codings.
type ProcedureRow struct {
	ID                   string  `db:"id"`
	Code                 string  `db:"code"`
	CodeSystem           *string `db:"code_system"`
	Display              *string `db:"display"`
	PerformedDateTime    *string `db:"performed_date_time"`
	PerformedPeriodStart *string `db:"performed_period_start"`
	EncounterRef         *string `db:"encounter_reference"`
	Status               *string `db:"status"`
}

// MedicationRow maps to the medication_request view.
type MedicationRow struct {
	ID                  string  `db:"id"`
	Display             string  `db:"display"`
	RxNorm              *string `db:"rxnorm_code"`
	Status              *string `db:"status"`
	AuthoredOn          *string `db:"authored_on"`
	ValidityPeriodStart *string `db:"validity_period_start"`
}

// ObservationRow maps to the observation view.
type ObservationRow struct {
	ID                   string  `db:"id"`
	CodeText             string  `db:"code_text"`
	ValueString          *string `db:"value_string"`
	EffectiveDateTime    *string `db:"effective_date_time"`
	EffectivePeriodStart *string `db:"effective_period_start"`
}

// ConditionRow maps to the condition view.
type ConditionRow struct {
	ID               string  `db:"id"`
	Code             *string `db:"icd10_code"`
	Display          string  `db:"code_text"`
	ClinicalStatus   *string `db:"clinical_status"`
	OnsetDateTime    *string `db:"onset_date_time"`
	OnsetPeriodStart *string `db:"onset_period_start"`
	RecordedDate     *string `db:"recorded_date"`
}

// DiagnosticReportRow maps to the diagnostic_report view.
type DiagnosticReportRow struct {
	ID                   string  `db:"id"`
	Display              string  `db:"code_text"`
	Conclusion           *string `db:"conclusion"`
	EffectiveDateTime    *string `db:"effective_date_time"`
	EffectivePeriodStart *string `db:"effective_period_start"`
}

// DocumentRow maps to the document_reference view.
type DocumentRow struct {
	ID                 string  `db:"id"`
	TypeText           *string `db:"type_text"`
	Description        *string `db:"description"`
	Date               *string `db:"date"`
	ContextPeriodStart *string `db:"context_period_start"`
	PracticeSetting    *string `db:"practice_setting"`
	ContentSize        *int64  `db:"content_size"`
}

// ProcedureFilter restricts a procedure query by code range at query time.
type ProcedureFilter struct {
	Include     []reference.CodeRange
	Exclude     []reference.CodeRange
	CodeSystems []string
}

// TextSource returns document text keyed by document id. Ids without text
// are absent from the map.
type TextSource interface {
	DocumentTexts(ctx context.Context, ids []string) (map[string]string, error)
}

// Warehouse is the read-only structured data source.
type Warehouse interface {
	TextSource
	Ping(ctx context.Context) error
	Patient(ctx context.Context, patientID string) (*PatientRow, error)
	Procedures(ctx context.Context, patientID string, f ProcedureFilter) ([]ProcedureRow, error)
	Medications(ctx context.Context, patientID string) ([]MedicationRow, error)
	Observations(ctx context.Context, patientID string, genes []string) ([]ObservationRow, error)
	Conditions(ctx context.Context, patientID string) ([]ConditionRow, error)
	DiagnosticReports(ctx context.Context, patientID, category string) ([]DiagnosticReportRow, error)
	Documents(ctx context.Context, patientID string) ([]DocumentRow, error)
}
