package extraction

import (
	"context"
	"errors"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/ehr/abstractor/internal/domain/classify"
	"github.com/ehr/abstractor/internal/reference"
)

const testSchema = `
CREATE TABLE patient (id TEXT PRIMARY KEY, gender TEXT, birth_date TEXT, race TEXT, ethnicity TEXT);
CREATE TABLE procedure (id TEXT PRIMARY KEY, subject_reference TEXT, performed_date_time TEXT,
	performed_period_start TEXT, encounter_reference TEXT, status TEXT);
CREATE TABLE procedure_code_coding (procedure_id TEXT, code_coding_system TEXT, code_coding_code TEXT, code_coding_display TEXT);
CREATE TABLE medication_request (id TEXT PRIMARY KEY, subject_reference TEXT, medication_text TEXT, rxnorm_code TEXT,
	status TEXT, authored_on TEXT, validity_period_start TEXT);
CREATE TABLE observation (id TEXT PRIMARY KEY, subject_reference TEXT, code_text TEXT, value_string TEXT,
	effective_date_time TEXT, effective_period_start TEXT);
CREATE TABLE condition (id TEXT PRIMARY KEY, subject_reference TEXT, icd10_code TEXT, code_text TEXT, clinical_status TEXT,
	onset_date_time TEXT, onset_period_start TEXT, recorded_date TEXT);
CREATE TABLE diagnostic_report (id TEXT PRIMARY KEY, subject_reference TEXT, category_text TEXT, code_text TEXT,
	conclusion TEXT, effective_date_time TEXT, effective_period_start TEXT);
CREATE TABLE document_reference (id TEXT PRIMARY KEY, subject_reference TEXT, status TEXT, type_text TEXT, description TEXT,
	date TEXT, context_period_start TEXT, context_practice_setting_text TEXT, content_size INTEGER);
CREATE TABLE document_text (document_reference_id TEXT PRIMARY KEY, text TEXT);
`

const testFixtures = `
INSERT INTO patient VALUES ('p1', 'female', '2005-05-13', NULL, '');
INSERT INTO procedure VALUES ('proc-1', 'p1', '', '2018-05-28T10:00:00Z', 'enc-1', 'completed');
INSERT INTO procedure VALUES ('proc-2', 'p1', '2018-05-28', NULL, 'enc-1', 'completed');
INSERT INTO procedure VALUES ('proc-3', 'p1', '2018-05-20', NULL, 'enc-0', 'completed');
INSERT INTO procedure VALUES ('proc-4', 'p1', '2021-03-10', NULL, 'enc-9', 'completed');
INSERT INTO procedure VALUES ('proc-5', 'p2', '2021-03-10', NULL, NULL, 'completed');
INSERT INTO procedure_code_coding VALUES ('proc-1', 'http://www.ama-assn.org/go/cpt', '61500', 'Craniectomy tumor');
INSERT INTO procedure_code_coding VALUES ('proc-2', 'http://www.ama-assn.org/go/cpt', '62201', 'ETV');
INSERT INTO procedure_code_coding VALUES ('proc-3', 'http://www.ama-assn.org/go/cpt', '61304', 'Exploratory craniotomy');
INSERT INTO procedure_code_coding VALUES ('proc-4', 'http://www.ama-assn.org/go/cpt', '615100', 'Six digit code');
INSERT INTO procedure_code_coding VALUES ('proc-5', 'http://www.ama-assn.org/go/cpt', '61510', 'Other patient');
INSERT INTO observation VALUES ('obs-1', 'p1', 'Genomic testing', 'KIAA1549-BRAF fusion', '2018-06-04', NULL);
INSERT INTO observation VALUES ('obs-2', 'p1', 'Hemoglobin', '12.1', '2018-06-04', NULL);
INSERT INTO diagnostic_report VALUES ('dr-1', 'p1', 'Pathology', 'Surgical pathology', 'Pilocytic astrocytoma', '2018-05-30', NULL);
INSERT INTO diagnostic_report VALUES ('dr-2', 'p1', 'Laboratory', 'CBC', NULL, '2018-05-30', NULL);
INSERT INTO document_reference VALUES ('doc-1', 'p1', 'current', 'Operative note', NULL, '2018-05-28', NULL, 'Neurosurgery', 120);
INSERT INTO document_reference VALUES ('doc-2', 'p1', 'entered-in-error', 'Progress note', NULL, '2018-05-29', NULL, NULL, 10);
INSERT INTO document_text VALUES ('doc-1', 'Gross total resection.');
`

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(testSchema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	if _, err := db.Exec(testFixtures); err != nil {
		t.Fatalf("load fixtures: %v", err)
	}
	return db
}

func TestWarehouseSQLite_Patient(t *testing.T) {
	wh := NewWarehouseSQLite(newTestDB(t))
	p, err := wh.Patient(context.Background(), "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Gender == nil || *p.Gender != "female" {
		t.Errorf("unexpected gender %v", p.Gender)
	}
	if _, err := wh.Patient(context.Background(), "nope"); !errors.Is(err, ErrPatientNotFound) {
		t.Fatalf("expected ErrPatientNotFound, got %v", err)
	}
}

func TestWarehouseSQLite_ProcedureFilterAppliedInQuery(t *testing.T) {
	tables, err := reference.Default()
	if err != nil {
		t.Fatalf("load reference: %v", err)
	}
	wh := NewWarehouseSQLite(newTestDB(t))
	svc := NewService(wh, nil, tables, nopLogger())

	rows, err := wh.Procedures(context.Background(), "p1", svc.SurgeryFilter())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != "proc-1" {
		t.Fatalf("expected only the resection row, got %+v", rows)
	}

	all, err := wh.Procedures(context.Background(), "p1", svc.NeurosurgicalFilter())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected resection, shunt and biopsy rows, got %d", len(all))
	}
}

func TestWarehouseSQLite_ObservationsByGene(t *testing.T) {
	wh := NewWarehouseSQLite(newTestDB(t))
	rows, err := wh.Observations(context.Background(), "p1", []string{"BRAF", "IDH1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != "obs-1" {
		t.Fatalf("expected only obs-1, got %+v", rows)
	}
	none, err := wh.Observations(context.Background(), "p1", nil)
	if err != nil || len(none) != 0 {
		t.Fatalf("expected empty result for empty gene list, got %v %v", none, err)
	}
}

func TestService_ObservedIDHBlocksInference(t *testing.T) {
	tables, err := reference.Default()
	if err != nil {
		t.Fatalf("load reference: %v", err)
	}
	db := newTestDB(t)
	if _, err := db.Exec(`INSERT INTO observation VALUES ('obs-idh', 'p1', 'IDH mutation analysis', 'Wildtype', '2018-06-04', NULL)`); err != nil {
		t.Fatalf("insert observation: %v", err)
	}
	svc := NewService(NewWarehouseSQLite(db), nil, tables, nopLogger())

	findings, err := svc.MolecularFindings(context.Background(), "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(findings) != 2 {
		t.Fatalf("expected BRAF and IDH findings, got %+v", findings)
	}
	var idh bool
	for _, f := range findings {
		if f.ID == "obs-idh" && f.Gene == "IDH" {
			idh = true
		}
	}
	if !idh {
		t.Fatalf("expected obs-idh extracted with gene IDH, got %+v", findings)
	}

	out := classify.New(tables, nopLogger()).InferMolecular(findings)
	for _, f := range out {
		if f.Derived {
			t.Errorf("unexpected derived finding %+v next to an observed IDH result", f)
		}
	}
}

func TestWarehouseSQLite_ReportsAndDocuments(t *testing.T) {
	wh := NewWarehouseSQLite(newTestDB(t))
	ctx := context.Background()

	reports, err := wh.DiagnosticReports(ctx, "p1", PathologyCategory)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reports) != 1 || reports[0].ID != "dr-1" {
		t.Fatalf("expected pathology report only, got %+v", reports)
	}

	docs, err := wh.Documents(ctx, "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "doc-1" {
		t.Fatalf("expected entered-in-error document excluded, got %+v", docs)
	}

	texts, err := wh.DocumentTexts(ctx, []string{"doc-1", "doc-2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if texts["doc-1"] != "Gross total resection." {
		t.Errorf("unexpected text %q", texts["doc-1"])
	}
	if _, ok := texts["doc-2"]; ok {
		t.Errorf("expected no text for doc-2")
	}
}

func TestWarehouseSQLite_EmptyMedications(t *testing.T) {
	wh := NewWarehouseSQLite(newTestDB(t))
	meds, err := wh.Medications(context.Background(), "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(meds) != 0 {
		t.Fatalf("expected no medications, got %d", len(meds))
	}
}
