package reporting

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const (
	sheetSubmissions = "Submissions"
	sheetDepartments = "By Department"
)

// SubmissionRow is one exported kiosk submission.
type SubmissionRow struct {
	CreatedAt   time.Time
	Flow        string
	PatientID   string
	VisitID     string
	Department  string
	QueueNumber string
	Symptoms    []string
	Intake      string
	Printed     bool
}

var submissionHeader = []string{
	"Date", "Flow", "Patient ID", "Visit ID", "Department", "Queue Number", "Symptoms", "Intake", "Printed",
}

var submissionColumnWidths = []float64{20, 12, 14, 14, 24, 14, 40, 10, 10}

// LoadSubmissions reads the submission log for the range, oldest first.
func LoadSubmissions(ctx context.Context, q Querier, r Range) ([]SubmissionRow, error) {
	rows, err := q.Query(ctx, `
		SELECT created_at, flow, patient_id, visit_id, department, queue_number, symptoms, intake, printed
		FROM kiosk_submission WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at`, r.From, r.To)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	var out []SubmissionRow
	for rows.Next() {
		var s SubmissionRow
		if err := rows.Scan(&s.CreatedAt, &s.Flow, &s.PatientID, &s.VisitID, &s.Department,
			&s.QueueNumber, &s.Symptoms, &s.Intake, &s.Printed); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// BuildWorkbook loads the range and renders it. The caller closes the file.
func BuildWorkbook(ctx context.Context, q Querier, r Range) (*excelize.File, error) {
	rows, err := LoadSubmissions(ctx, q, r)
	if err != nil {
		return nil, err
	}
	return NewWorkbook(rows)
}

// NewWorkbook renders submissions into a workbook with a detail sheet and a
// per-department summary.
func NewWorkbook(rows []SubmissionRow) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := writeWorkbook(f, rows); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func writeWorkbook(f *excelize.File, rows []SubmissionRow) error {
	if err := f.SetSheetName("Sheet1", sheetSubmissions); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	if err := writeHeader(f, sheetSubmissions, submissionHeader, submissionColumnWidths, headerStyle); err != nil {
		return err
	}
	for i, s := range rows {
		printed := "no"
		if s.Printed {
			printed = "yes"
		}
		values := []any{
			s.CreatedAt.UTC().Format("2006-01-02 15:04"), s.Flow, s.PatientID, s.VisitID,
			s.Department, s.QueueNumber, strings.Join(s.Symptoms, ", "), s.Intake, printed,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("convert coordinates: %w", err)
		}
		if err := f.SetSheetRow(sheetSubmissions, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if _, err := f.NewSheet(sheetDepartments); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	if err := writeHeader(f, sheetDepartments, []string{"Department", "New", "Returning", "Total"}, []float64{28, 10, 12, 10}, headerStyle); err != nil {
		return err
	}
	for i, d := range summarizeDepartments(rows) {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("convert coordinates: %w", err)
		}
		values := []any{d.Department, d.New, d.Returning, d.New + d.Returning}
		if err := f.SetSheetRow(sheetDepartments, cell, &values); err != nil {
			return fmt.Errorf("write department %s: %w", d.Department, err)
		}
	}
	f.SetActiveSheet(0)
	return nil
}

func writeHeader(f *excelize.File, sheet string, headers []string, widths []float64, style int) error {
	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return fmt.Errorf("set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
			return fmt.Errorf("set header style: %w", err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return fmt.Errorf("convert column number: %w", err)
		}
		if col < len(widths) {
			if err := f.SetColWidth(sheet, name, name, widths[col]); err != nil {
				return fmt.Errorf("set column width: %w", err)
			}
		}
	}
	return nil
}

type departmentTotals struct {
	Department string
	New        int
	Returning  int
}

// summarizeDepartments counts submissions per department, busiest first.
func summarizeDepartments(rows []SubmissionRow) []departmentTotals {
	byDept := map[string]*departmentTotals{}
	for _, s := range rows {
		d, ok := byDept[s.Department]
		if !ok {
			d = &departmentTotals{Department: s.Department}
			byDept[s.Department] = d
		}
		if s.Flow == "returning" {
			d.Returning++
		} else {
			d.New++
		}
	}
	out := make([]departmentTotals, 0, len(byDept))
	for _, d := range byDept {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].New+out[i].Returning, out[j].New+out[j].Returning
		if ti != tj {
			return ti > tj
		}
		return out[i].Department < out[j].Department
	})
	return out
}
