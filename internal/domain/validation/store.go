package validation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

var ErrReportNotFound = errors.New("validation report not found")

const historySchema = `
CREATE TABLE IF NOT EXISTS validation_run (
	id                  TEXT PRIMARY KEY,
	patient_id          TEXT NOT NULL,
	label               TEXT NOT NULL,
	definitions_version TEXT NOT NULL DEFAULT '',
	compared            INTEGER NOT NULL DEFAULT 0,
	matched             INTEGER NOT NULL DEFAULT 0,
	accuracy            REAL NOT NULL DEFAULT 0,
	created_at          TEXT NOT NULL,
	UNIQUE (patient_id, label)
);

CREATE TABLE IF NOT EXISTS validation_outcome (
	run_id    TEXT NOT NULL,
	position  INTEGER NOT NULL,
	name      TEXT NOT NULL,
	kind      TEXT NOT NULL,
	scope     TEXT NOT NULL DEFAULT '',
	is_match  INTEGER NOT NULL,
	reason    TEXT NOT NULL DEFAULT '',
	gold      TEXT NOT NULL DEFAULT '[]',
	extracted TEXT NOT NULL DEFAULT '[]',
	sources   TEXT NOT NULL DEFAULT '[]',
	PRIMARY KEY (run_id, position)
);
`

type runRow struct {
	ID                 string  `db:"id"`
	PatientID          string  `db:"patient_id"`
	Label              string  `db:"label"`
	DefinitionsVersion string  `db:"definitions_version"`
	Compared           int     `db:"compared"`
	Matched            int     `db:"matched"`
	Accuracy           float64 `db:"accuracy"`
	CreatedAt          string  `db:"created_at"`
}

type outcomeRow struct {
	Name      string `db:"name"`
	Kind      string `db:"kind"`
	Scope     string `db:"scope"`
	Match     bool   `db:"is_match"`
	Reason    string `db:"reason"`
	Gold      string `db:"gold"`
	Extracted string `db:"extracted"`
	Sources   string `db:"sources"`
}

// HistoryStore persists validation reports in SQLite, one per patient and
// label. Saving a label again replaces the earlier report.
type HistoryStore struct {
	db *sqlx.DB
}

// OpenHistory opens or creates the history database at path.
func OpenHistory(path string) (*HistoryStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn += "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)"
	}
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &HistoryStore{db: db}, nil
}

func (s *HistoryStore) Close() error {
	return s.db.Close()
}

// Save stores rep under its patient and label.
func (s *HistoryStore) Save(ctx context.Context, rep *Report) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var old []string
	if err := tx.SelectContext(ctx, &old, `SELECT id FROM validation_run WHERE patient_id = ? AND label = ?`, rep.PatientID, rep.Label); err != nil {
		return fmt.Errorf("find previous report: %w", err)
	}
	for _, id := range old {
		if _, err := tx.ExecContext(ctx, `DELETE FROM validation_outcome WHERE run_id = ?`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM validation_run WHERE id = ?`, id); err != nil {
			return err
		}
	}

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO validation_run (id, patient_id, label, definitions_version, compared, matched, accuracy, created_at)
		VALUES (:id, :patient_id, :label, :definitions_version, :compared, :matched, :accuracy, :created_at)`,
		runRow{
			ID:                 rep.ID,
			PatientID:          rep.PatientID,
			Label:              rep.Label,
			DefinitionsVersion: rep.DefinitionsVersion,
			Compared:           rep.Compared,
			Matched:            rep.Matched,
			Accuracy:           rep.Accuracy,
			CreatedAt:          rep.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	for i, o := range rep.Outcomes {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO validation_outcome (run_id, position, name, kind, scope, is_match, reason, gold, extracted, sources)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rep.ID, i, o.Name, o.Kind, o.Scope, o.Match, string(o.Reason),
			jsonList(o.Gold), jsonList(o.Extracted), jsonList(o.Sources))
		if err != nil {
			return fmt.Errorf("insert outcome %s: %w", o.Name, err)
		}
	}
	return tx.Commit()
}

// Get returns the report saved under patientID and label.
func (s *HistoryStore) Get(ctx context.Context, patientID, label string) (*Report, error) {
	var run runRow
	err := s.db.GetContext(ctx, &run, `SELECT * FROM validation_run WHERE patient_id = ? AND label = ?`, patientID, label)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrReportNotFound, patientID, label)
	}
	if err != nil {
		return nil, err
	}
	return s.load(ctx, run)
}

// List returns the reports for a patient, oldest first, without outcomes.
func (s *HistoryStore) List(ctx context.Context, patientID string) ([]Report, error) {
	var runs []runRow
	if err := s.db.SelectContext(ctx, &runs, `SELECT * FROM validation_run WHERE patient_id = ? ORDER BY created_at, label`, patientID); err != nil {
		return nil, err
	}
	out := make([]Report, 0, len(runs))
	for _, r := range runs {
		out = append(out, fromRunRow(r))
	}
	return out, nil
}

// Diff compares two saved reports.
func (s *HistoryStore) Diff(ctx context.Context, patientID, fromLabel, toLabel string) ([]Change, error) {
	from, err := s.Get(ctx, patientID, fromLabel)
	if err != nil {
		return nil, err
	}
	to, err := s.Get(ctx, patientID, toLabel)
	if err != nil {
		return nil, err
	}
	return Diff(from, to), nil
}

func (s *HistoryStore) load(ctx context.Context, run runRow) (*Report, error) {
	rep := fromRunRow(run)
	var rows []outcomeRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT name, kind, scope, is_match, reason, gold, extracted, sources
		FROM validation_outcome WHERE run_id = ? ORDER BY position`, run.ID)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		o := Outcome{Name: r.Name, Kind: r.Kind, Scope: r.Scope, Match: r.Match, Reason: Reason(r.Reason)}
		_ = json.Unmarshal([]byte(r.Gold), &o.Gold)
		_ = json.Unmarshal([]byte(r.Extracted), &o.Extracted)
		_ = json.Unmarshal([]byte(r.Sources), &o.Sources)
		rep.Outcomes = append(rep.Outcomes, o)
	}
	return &rep, nil
}

func fromRunRow(r runRow) Report {
	created, _ := time.Parse(time.RFC3339Nano, r.CreatedAt)
	return Report{
		ID:                 r.ID,
		PatientID:          r.PatientID,
		Label:              r.Label,
		DefinitionsVersion: r.DefinitionsVersion,
		Compared:           r.Compared,
		Matched:            r.Matched,
		Accuracy:           r.Accuracy,
		CreatedAt:          created,
	}
}

func jsonList(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}
