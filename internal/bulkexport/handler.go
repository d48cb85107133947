package bulkexport

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fhircore/fhircore/internal/asyncjob"
	"github.com/labstack/echo/v4"
)

// Handler exposes the $export family of routes over HTTP, the wire layer
// for Service/asyncjob.Store generalizing the teacher's ExportHandler to
// a durable, Postgres-backed job.
type Handler struct {
	svc  *Service
	jobs *asyncjob.Store
	dir  string
}

func NewHandler(svc *Service, jobs *asyncjob.Store, dir string) *Handler {
	return &Handler{svc: svc, jobs: jobs, dir: dir}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/$export", h.SystemExport)
	g.POST("/Patient/:id/$export", h.PatientExport)
	g.GET("/$export-status/:id", h.Status)
	g.GET("/$export-data/:id/:file", h.Data)
	g.DELETE("/$export-status/:id", h.Delete)
}

func outcome(message string) map[string]interface{} {
	return map[string]interface{}{
		"resourceType": "OperationOutcome",
		"issue": []map[string]interface{}{
			{"severity": "error", "code": "processing", "diagnostics": message},
		},
	}
}

func (h *Handler) kickOff(c echo.Context, patientID string) error {
	prefer := c.Request().Header.Get("Prefer")
	if prefer != "" && !strings.Contains(prefer, "respond-async") {
		return c.JSON(http.StatusBadRequest, outcome("Prefer header must include respond-async for bulk export"))
	}

	var types []string
	if tp := c.QueryParam("_type"); tp != "" {
		for _, t := range strings.Split(tp, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, t)
			}
		}
	}

	var since time.Time
	if sp := c.QueryParam("_since"); sp != "" {
		t, err := time.Parse(time.RFC3339, sp)
		if err != nil {
			return c.JSON(http.StatusBadRequest, outcome("invalid _since, expected RFC3339"))
		}
		since = t
	}

	jobID, err := h.svc.KickOff(c.Request().Context(), Request{ResourceTypes: types, PatientID: patientID, Since: since})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, outcome(err.Error()))
	}

	c.Response().Header().Set("Content-Location", "/fhir/$export-status/"+jobID)
	return c.NoContent(http.StatusAccepted)
}

func (h *Handler) SystemExport(c echo.Context) error  { return h.kickOff(c, "") }
func (h *Handler) PatientExport(c echo.Context) error { return h.kickOff(c, c.Param("id")) }

func (h *Handler) Status(c echo.Context) error {
	job, err := h.jobs.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, outcome(err.Error()))
	}

	switch job.Status {
	case asyncjob.StatusAccepted, asyncjob.StatusInProgress:
		c.Response().Header().Set("X-Progress", job.Status)
		return c.NoContent(http.StatusAccepted)
	case asyncjob.StatusCompleted:
		return c.JSON(http.StatusOK, map[string]interface{}{
			"transactionTime":     job.CompletedAt.Format(time.RFC3339),
			"request":             job.Request,
			"requiresAccessToken": false,
			"output":              job.Manifest,
		})
	case asyncjob.StatusFailed:
		return c.JSON(http.StatusInternalServerError, outcome(job.Error))
	default:
		return c.JSON(http.StatusInternalServerError, outcome("unknown job status"))
	}
}

func (h *Handler) Data(c echo.Context) error {
	id := c.Param("id")
	file := c.Param("file")
	job, err := h.jobs.Get(c.Request().Context(), id)
	if err != nil {
		return c.JSON(http.StatusNotFound, outcome(err.Error()))
	}
	if job.Status != asyncjob.StatusCompleted {
		return c.JSON(http.StatusConflict, outcome("export job is not complete: "+job.Status))
	}

	found := false
	for _, m := range job.Manifest {
		if strings.HasSuffix(m.URL, file) {
			found = true
			break
		}
	}
	if !found {
		return c.JSON(http.StatusNotFound, outcome("file not part of export job "+id))
	}

	data, err := os.ReadFile(h.dir + string(os.PathSeparator) + file)
	if err != nil {
		return c.JSON(http.StatusNotFound, outcome("export file unavailable: "+err.Error()))
	}
	return c.Blob(http.StatusOK, "application/fhir+ndjson", data)
}

func (h *Handler) Delete(c echo.Context) error {
	id := c.Param("id")
	job, err := h.jobs.Get(c.Request().Context(), id)
	if err != nil {
		return c.JSON(http.StatusNotFound, outcome(err.Error()))
	}
	for _, m := range job.Manifest {
		parts := strings.Split(m.URL, "/")
		file := parts[len(parts)-1]
		_ = os.Remove(h.dir + string(os.PathSeparator) + file)
	}
	if err := h.jobs.Delete(c.Request().Context(), id); err != nil {
		return c.JSON(http.StatusInternalServerError, outcome(err.Error()))
	}
	return c.NoContent(http.StatusNoContent)
}
