package reporting

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"

	"github.com/clicare/kiosk/internal/platform/auth"
)

// Querier runs report queries. *pgxpool.Pool satisfies it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// MeasureDefinition defines a reporting measure with its SQL query. Every
// query takes the report range as $1 (inclusive) and $2 (exclusive).
type MeasureDefinition struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	SQL         string `json:"-"`
}

// MeasureReport holds the results of evaluating a measure.
type MeasureReport struct {
	MeasureID   string           `json:"measure_id"`
	MeasureName string           `json:"measure_name"`
	From        time.Time        `json:"from"`
	To          time.Time        `json:"to"`
	GeneratedAt time.Time        `json:"generated_at"`
	Results     []map[string]any `json:"results"`
}

// PredefinedMeasures is the list of available reporting measures over the
// kiosk submission log.
var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          "submissions-by-department",
		Name:        "Submissions by Department",
		Description: "Kiosk registrations and visits per routed department",
		SQL: `SELECT department, COUNT(*) AS total
			FROM kiosk_submission WHERE created_at >= $1 AND created_at < $2
			GROUP BY department ORDER BY total DESC, department`,
	},
	{
		ID:          "submissions-by-flow",
		Name:        "Submissions by Flow",
		Description: "New patient registrations against returning patient visits",
		SQL: `SELECT flow, COUNT(*) AS total
			FROM kiosk_submission WHERE created_at >= $1 AND created_at < $2
			GROUP BY flow ORDER BY flow`,
	},
	{
		ID:          "daily-volume",
		Name:        "Daily Volume",
		Description: "Kiosk submissions per day",
		SQL: `SELECT to_char(date_trunc('day', created_at), 'YYYY-MM-DD') AS day, COUNT(*) AS total
			FROM kiosk_submission WHERE created_at >= $1 AND created_at < $2
			GROUP BY 1 ORDER BY 1`,
	},
	{
		ID:          "intake-sources",
		Name:        "Intake Sources",
		Description: "How patient data entered the wizard: manual, QR code or ID scan",
		SQL: `SELECT intake, COUNT(*) AS total,
				COALESCE(SUM(CASE WHEN printed THEN 0 ELSE 1 END), 0) AS unprinted
			FROM kiosk_submission WHERE created_at >= $1 AND created_at < $2
			GROUP BY intake ORDER BY total DESC`,
	},
}

// FindMeasure looks up a measure by ID.
func FindMeasure(id string) *MeasureDefinition {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}

// Range is a half-open reporting window.
type Range struct {
	From time.Time
	To   time.Time
}

// FileName is the export file name for the range, naming the last day it
// includes.
func (r Range) FileName() string {
	return fmt.Sprintf("kiosk-submissions-%s-%s.xlsx",
		r.From.Format(time.DateOnly), r.To.AddDate(0, 0, -1).Format(time.DateOnly))
}

// ParseRange reads YYYY-MM-DD bounds. to is inclusive, so the window ends at
// the following midnight. Missing bounds default to the last seven days
// ending today.
func ParseRange(from, to string, now time.Time) (Range, error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	r := Range{From: today.AddDate(0, 0, -6), To: today.AddDate(0, 0, 1)}
	if from != "" {
		t, err := time.Parse(time.DateOnly, from)
		if err != nil {
			return Range{}, fmt.Errorf("invalid from date %q", from)
		}
		r.From = t
	}
	if to != "" {
		t, err := time.Parse(time.DateOnly, to)
		if err != nil {
			return Range{}, fmt.Errorf("invalid to date %q", to)
		}
		r.To = t.AddDate(0, 0, 1)
	}
	if !r.From.Before(r.To) {
		return Range{}, fmt.Errorf("from must not be after to")
	}
	return r, nil
}

// Evaluate runs a measure over the range.
func Evaluate(ctx context.Context, q Querier, m *MeasureDefinition, r Range) (*MeasureReport, error) {
	results, err := queryMaps(ctx, q, m.SQL, r.From, r.To)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", m.ID, err)
	}
	return &MeasureReport{
		MeasureID:   m.ID,
		MeasureName: m.Name,
		From:        r.From,
		To:          r.To,
		GeneratedAt: time.Now().UTC(),
		Results:     results,
	}, nil
}

// queryMaps runs a query and returns its rows keyed by column name.
func queryMaps(ctx context.Context, q Querier, sql string, args ...any) ([]map[string]any, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	results := []map[string]any{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(fieldDescs))
		for i, fd := range fieldDescs {
			row[fd.Name] = values[i]
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// ---------------------------------------------------------------------------
// HTTP
// ---------------------------------------------------------------------------

// Handler provides HTTP handlers for the reporting API.
type Handler struct {
	q   Querier
	now func() time.Time
}

func NewHandler(q Querier) *Handler {
	return &Handler{q: q, now: time.Now}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/reports", auth.RequireRole(auth.RoleAdmin))
	g.GET("/measures", h.ListMeasures)
	g.GET("/measures/:id/evaluate", h.EvaluateMeasure)
	g.GET("/export.xlsx", h.Export)
}

func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, PredefinedMeasures)
}

func (h *Handler) rangeParam(c echo.Context) (Range, error) {
	r, err := ParseRange(c.QueryParam("from"), c.QueryParam("to"), h.now())
	if err != nil {
		return Range{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return r, nil
}

func (h *Handler) EvaluateMeasure(c echo.Context) error {
	m := FindMeasure(c.Param("id"))
	if m == nil {
		return echo.NewHTTPError(http.StatusNotFound, "measure not found")
	}
	r, err := h.rangeParam(c)
	if err != nil {
		return err
	}
	report, err := Evaluate(c.Request().Context(), h.q, m, r)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("query failed: %v", err))
	}
	return c.JSON(http.StatusOK, report)
}

// Export streams the XLSX workbook for the range.
func (h *Handler) Export(c echo.Context) error {
	r, err := h.rangeParam(c)
	if err != nil {
		return err
	}
	wb, err := BuildWorkbook(c.Request().Context(), h.q, r)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("export failed: %v", err))
	}
	defer wb.Close()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, xlsxContentType)
	resp.Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", r.FileName()))
	resp.WriteHeader(http.StatusOK)
	_, err = wb.WriteTo(resp)
	return err
}
