package extraction

import (
	"strings"

	"github.com/ehr/abstractor/internal/reference"
)

// Queries are written with '?' placeholders and rebound per driver.

const patientQuery = `SELECT id, gender, birth_date, race, ethnicity FROM patient WHERE id = ?`

const medicationQuery = `
	SELECT id, COALESCE(medication_text, '') AS display, rxnorm_code, status, authored_on, validity_period_start
	FROM medication_request
	WHERE subject_reference = ?
	ORDER BY id`

const conditionQuery = `
	SELECT id, icd10_code, COALESCE(code_text, '') AS code_text, clinical_status,
		onset_date_time, onset_period_start, recorded_date
	FROM condition
	WHERE subject_reference = ?
	ORDER BY id`

const diagnosticReportQuery = `
	SELECT id, COALESCE(code_text, '') AS code_text, conclusion, effective_date_time, effective_period_start
	FROM diagnostic_report
	WHERE subject_reference = ? AND lower(category_text) LIKE ?
	ORDER BY id`

const documentQuery = `
	SELECT id, type_text, description, date, context_period_start,
		context_practice_setting_text AS practice_setting, content_size
	FROM document_reference
	WHERE subject_reference = ? AND (status IS NULL OR status <> 'entered-in-error')
	ORDER BY id`

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func rangePredicate(col string, ranges []reference.CodeRange, args []any) (string, []any) {
	parts := make([]string, 0, len(ranges))
	for _, r := range ranges {
		parts = append(parts, "(length("+col+") = ? AND "+col+" BETWEEN ? AND ?)")
		args = append(args, len(r.From), r.From, r.To)
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}

// procedureQuery builds the filtered procedure lookup. Inclusion and
// exclusion ranges are applied in SQL so the result is bounded to the
// requested event class.
func procedureQuery(patientID string, f ProcedureFilter) (string, []any) {
	var sb strings.Builder
	args := []any{patientID}
	sb.WriteString(`
	SELECT p.id, c.code_coding_code AS code, c.code_coding_system AS code_system,
		c.code_coding_display AS display, p.performed_date_time, p.performed_period_start,
		p.encounter_reference, p.status
	FROM procedure p
	JOIN procedure_code_coding c ON c.procedure_id = p.id
	WHERE p.subject_reference = ?`)

	if len(f.CodeSystems) > 0 {
		sb.WriteString(" AND c.code_coding_system IN (" + placeholders(len(f.CodeSystems)) + ")")
		for _, s := range f.CodeSystems {
			args = append(args, s)
		}
	}
	if len(f.Include) > 0 {
		var pred string
		pred, args = rangePredicate("c.code_coding_code", f.Include, args)
		sb.WriteString(" AND " + pred)
	}
	if len(f.Exclude) > 0 {
		var pred string
		pred, args = rangePredicate("c.code_coding_code", f.Exclude, args)
		sb.WriteString(" AND NOT " + pred)
	}
	sb.WriteString(" ORDER BY p.id, c.code_coding_code")
	return sb.String(), args
}

// observationQuery restricts observations to those naming one of genes in
// their code text or value.
func observationQuery(patientID string, genes []string) (string, []any) {
	var sb strings.Builder
	args := []any{patientID}
	sb.WriteString(`
	SELECT id, COALESCE(code_text, '') AS code_text, value_string, effective_date_time, effective_period_start
	FROM observation
	WHERE subject_reference = ?`)
	parts := make([]string, 0, len(genes)*2)
	for _, g := range genes {
		pattern := "%" + strings.ToUpper(g) + "%"
		parts = append(parts, "upper(code_text) LIKE ?", "upper(COALESCE(value_string, '')) LIKE ?")
		args = append(args, pattern, pattern)
	}
	sb.WriteString(" AND (" + strings.Join(parts, " OR ") + ")")
	sb.WriteString(" ORDER BY id")
	return sb.String(), args
}

func documentTextQuery(ids []string) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return `SELECT document_reference_id, text FROM document_text WHERE document_reference_id IN (` +
		placeholders(len(ids)) + `) ORDER BY document_reference_id`, args
}
