package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/ehr/abstractor/internal/domain/validation"
)

type mockLister struct {
	reports map[string][]validation.Report
}

func (m *mockLister) List(_ context.Context, patientID string) ([]validation.Report, error) {
	return m.reports[patientID], nil
}

func newTestServer(t *testing.T, reports ReportLister) (*echo.Echo, string) {
	t.Helper()
	out := t.TempDir()
	e := echo.New()
	h := NewHandler(newTestPipeline(t, newMockWarehouse(), nil), out, reports)
	h.RegisterRoutes(e.Group("/api/v1"))
	return e, out
}

func TestHandler_BuildPackage(t *testing.T) {
	e, out := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/patients/p1/package", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var m Manifest
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if m.PatientID != "p1" || m.TumorSurgeries != 1 {
		t.Errorf("unexpected manifest %+v", m)
	}
	if _, err := os.Stat(filepath.Join(out, "p1", "project.csv")); err != nil {
		t.Errorf("expected project.csv written: %v", err)
	}
}

func TestHandler_BuildPackage_NotFound(t *testing.T) {
	e, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/patients/nobody/package", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_BuildPackage_InvalidID(t *testing.T) {
	out := t.TempDir()
	h := NewHandler(newTestPipeline(t, newMockWarehouse(), nil), out, nil)

	for _, id := range []string{"..", `..\etc`} {
		e := echo.New()
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		c := e.NewContext(req, httptest.NewRecorder())
		c.SetParamNames("id")
		c.SetParamValues(id)

		err := h.BuildPackage(c)
		var he *echo.HTTPError
		if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
			t.Errorf("id %q: expected 400, got %v", id, err)
		}
	}
	entries, err := os.ReadDir(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected nothing written, got %d entries", len(entries))
	}
}

func TestHandler_ListValidations(t *testing.T) {
	lister := &mockLister{reports: map[string][]validation.Report{
		"p1": {{ID: "r1", PatientID: "p1", Label: "baseline", Compared: 4, Matched: 3, Accuracy: 75}},
	}}
	e, _ := newTestServer(t, lister)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients/p1/validations", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got []validation.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].Label != "baseline" {
		t.Errorf("unexpected reports %+v", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/patients/p2/validations", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "[]\n" {
		t.Errorf("expected empty list, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestHandler_ListValidations_NoHistory(t *testing.T) {
	e, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients/p1/validations", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}
