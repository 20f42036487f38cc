package extraction

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type warehousePG struct{ pool *pgxpool.Pool }

// NewWarehousePG returns a Warehouse reading the materialized views through
// a pgx pool. The pool's search_path selects the view schema.
func NewWarehousePG(pool *pgxpool.Pool) Warehouse { return &warehousePG{pool: pool} }

func (r *warehousePG) conn() queryable { return r.pool }

func rebind(q string) string { return sqlx.Rebind(sqlx.DOLLAR, q) }

func (r *warehousePG) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *warehousePG) Patient(ctx context.Context, patientID string) (*PatientRow, error) {
	var p PatientRow
	err := r.conn().QueryRow(ctx, rebind(patientQuery), patientID).
		Scan(&p.ID, &p.Gender, &p.BirthDate, &p.Race, &p.Ethnicity)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrPatientNotFound, patientID)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *warehousePG) Procedures(ctx context.Context, patientID string, f ProcedureFilter) ([]ProcedureRow, error) {
	q, args := procedureQuery(patientID, f)
	rows, err := r.conn().Query(ctx, rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ProcedureRow
	for rows.Next() {
		var p ProcedureRow
		if err := rows.Scan(&p.ID, &p.Code, &p.CodeSystem, &p.Display,
			&p.PerformedDateTime, &p.PerformedPeriodStart, &p.EncounterRef, &p.Status); err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *warehousePG) Medications(ctx context.Context, patientID string) ([]MedicationRow, error) {
	rows, err := r.conn().Query(ctx, rebind(medicationQuery), patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []MedicationRow
	for rows.Next() {
		var m MedicationRow
		if err := rows.Scan(&m.ID, &m.Display, &m.RxNorm, &m.Status, &m.AuthoredOn, &m.ValidityPeriodStart); err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (r *warehousePG) Observations(ctx context.Context, patientID string, genes []string) ([]ObservationRow, error) {
	if len(genes) == 0 {
		return nil, nil
	}
	q, args := observationQuery(patientID, genes)
	rows, err := r.conn().Query(ctx, rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ObservationRow
	for rows.Next() {
		var o ObservationRow
		if err := rows.Scan(&o.ID, &o.CodeText, &o.ValueString, &o.EffectiveDateTime, &o.EffectivePeriodStart); err != nil {
			return nil, err
		}
		items = append(items, o)
	}
	return items, rows.Err()
}

func (r *warehousePG) Conditions(ctx context.Context, patientID string) ([]ConditionRow, error) {
	rows, err := r.conn().Query(ctx, rebind(conditionQuery), patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ConditionRow
	for rows.Next() {
		var c ConditionRow
		if err := rows.Scan(&c.ID, &c.Code, &c.Display, &c.ClinicalStatus,
			&c.OnsetDateTime, &c.OnsetPeriodStart, &c.RecordedDate); err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (r *warehousePG) DiagnosticReports(ctx context.Context, patientID, category string) ([]DiagnosticReportRow, error) {
	rows, err := r.conn().Query(ctx, rebind(diagnosticReportQuery), patientID, "%"+category+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []DiagnosticReportRow
	for rows.Next() {
		var d DiagnosticReportRow
		if err := rows.Scan(&d.ID, &d.Display, &d.Conclusion, &d.EffectiveDateTime, &d.EffectivePeriodStart); err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

func (r *warehousePG) Documents(ctx context.Context, patientID string) ([]DocumentRow, error) {
	rows, err := r.conn().Query(ctx, rebind(documentQuery), patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []DocumentRow
	for rows.Next() {
		var d DocumentRow
		if err := rows.Scan(&d.ID, &d.TypeText, &d.Description, &d.Date, &d.ContextPeriodStart,
			&d.PracticeSetting, &d.ContentSize); err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

func (r *warehousePG) DocumentTexts(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	q, args := documentTextQuery(ids)
	rows, err := r.conn().Query(ctx, rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id, text string
		if err := rows.Scan(&id, &text); err != nil {
			return nil, err
		}
		out[id] = text
	}
	return out, rows.Err()
}
