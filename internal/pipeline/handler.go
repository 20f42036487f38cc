package pipeline

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/abstractor/internal/domain/brimcsv"
	"github.com/ehr/abstractor/internal/domain/extraction"
	"github.com/ehr/abstractor/internal/domain/validation"
)

// ReportLister lists stored validation reports for a patient.
type ReportLister interface {
	List(ctx context.Context, patientID string) ([]validation.Report, error)
}

type Handler struct {
	pipeline *Pipeline
	outDir   string
	reports  ReportLister
}

// NewHandler serves package builds into outDir. reports may be nil when no
// validation history is configured.
func NewHandler(p *Pipeline, outDir string, reports ReportLister) *Handler {
	return &Handler{pipeline: p, outDir: outDir, reports: reports}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/patients/:id/package", h.BuildPackage)
	api.GET("/patients/:id/validations", h.ListValidations)
}

// BuildPackage runs the pipeline for one patient, writes the package and
// returns its manifest.
func (h *Handler) BuildPackage(c echo.Context) error {
	id := c.Param("id")
	dir, err := PatientDir(h.outDir, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.pipeline.Run(c.Request().Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, extraction.ErrPatientNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "patient not found")
		case errors.Is(err, brimcsv.ErrSchemaViolation):
			return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{
				"message":    "package failed schema checks",
				"violations": brimcsv.Violations(err),
			})
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := Write(dir, res); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, res.Manifest)
}

func (h *Handler) ListValidations(c echo.Context) error {
	if h.reports == nil {
		return echo.NewHTTPError(http.StatusNotFound, "validation history not configured")
	}
	reports, err := h.reports.List(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if reports == nil {
		reports = []validation.Report{}
	}
	return c.JSON(http.StatusOK, reports)
}
