package extraction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

type warehouseSQLite struct{ db *sqlx.DB }

// NewWarehouseSQLite returns a Warehouse over a local SQLite snapshot of the
// same views, used for offline runs and tests.
func NewWarehouseSQLite(db *sqlx.DB) Warehouse { return &warehouseSQLite{db: db} }

func (r *warehouseSQLite) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *warehouseSQLite) Patient(ctx context.Context, patientID string) (*PatientRow, error) {
	var p PatientRow
	err := r.db.GetContext(ctx, &p, patientQuery, patientID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrPatientNotFound, patientID)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *warehouseSQLite) Procedures(ctx context.Context, patientID string, f ProcedureFilter) ([]ProcedureRow, error) {
	q, args := procedureQuery(patientID, f)
	var items []ProcedureRow
	if err := r.db.SelectContext(ctx, &items, q, args...); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *warehouseSQLite) Medications(ctx context.Context, patientID string) ([]MedicationRow, error) {
	var items []MedicationRow
	if err := r.db.SelectContext(ctx, &items, medicationQuery, patientID); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *warehouseSQLite) Observations(ctx context.Context, patientID string, genes []string) ([]ObservationRow, error) {
	if len(genes) == 0 {
		return nil, nil
	}
	q, args := observationQuery(patientID, genes)
	var items []ObservationRow
	if err := r.db.SelectContext(ctx, &items, q, args...); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *warehouseSQLite) Conditions(ctx context.Context, patientID string) ([]ConditionRow, error) {
	var items []ConditionRow
	if err := r.db.SelectContext(ctx, &items, conditionQuery, patientID); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *warehouseSQLite) DiagnosticReports(ctx context.Context, patientID, category string) ([]DiagnosticReportRow, error) {
	var items []DiagnosticReportRow
	if err := r.db.SelectContext(ctx, &items, diagnosticReportQuery, patientID, "%"+category+"%"); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *warehouseSQLite) Documents(ctx context.Context, patientID string) ([]DocumentRow, error) {
	var items []DocumentRow
	if err := r.db.SelectContext(ctx, &items, documentQuery, patientID); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *warehouseSQLite) DocumentTexts(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	q, args := documentTextQuery(ids)
	rows, err := r.db.QueryxContext(ctx, q, args...)
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
