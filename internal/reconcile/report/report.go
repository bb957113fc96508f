// Package report renders sync statistics and recent audit rows as XLSX or PDF.
package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"alarm-sync/internal/audit"
	"alarm-sync/internal/observability/metrics"
	"alarm-sync/internal/syncstate/infrastructure/sqlstore"
)

const (
	FormatXLSX = "xlsx"
	FormatPDF  = "pdf"
)

// ContentTypes maps formats to response content types.
var ContentTypes = map[string]string{
	FormatXLSX: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	FormatPDF:  "application/pdf",
}

// Report is the data rendered into an export.
type Report struct {
	GeneratedAt   time.Time
	Cycles        int64
	FailedCycles  int64
	LastSuccessAt *time.Time
	Stats         []sqlstore.StatusStats
	Logs          []audit.Entry
}

func (r Report) total() int64 {
	var n int64
	for _, s := range r.Stats {
		n += s.Count
	}
	return n
}

// Render builds the export in format.
func Render(format string, r Report) ([]byte, error) {
	start := time.Now()
	var (
		out []byte
		err error
	)
	switch format {
	case FormatXLSX:
		out, err = BuildXLSX(r)
	case FormatPDF:
		out, err = BuildPDF(r)
	default:
		err = fmt.Errorf("report: unsupported format %q", format)
	}
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveReportExport(format, result, time.Since(start))
	return out, err
}

// BuildPDF renders a one-page summary followed by the audit table.
func BuildPDF(r Report) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Alarm Sync Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", r.GeneratedAt.UTC().Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Cycles: %d (failed %d)", r.Cycles, r.FailedCycles))
	pdf.Ln(5)
	if r.LastSuccessAt != nil {
		pdf.Cell(0, 6, fmt.Sprintf("Last success: %s", r.LastSuccessAt.UTC().Format(time.RFC3339)))
		pdf.Ln(5)
	}
	pdf.Cell(0, 6, fmt.Sprintf("Tracked alarms: %d", r.total()))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	for _, h := range []struct {
		w    float64
		text string
	}{{35, "Status"}, {30, "Alarms"}, {30, "Pushes"}, {30, "Errors"}, {40, "With errors"}} {
		pdf.CellFormat(h.w, 6, h.text, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, s := range r.Stats {
		pdf.CellFormat(35, 6, string(s.Status), "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%d", s.Count), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%d", s.TotalPushes), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%d", s.TotalErrors), "1", 0, "R", false, 0, "")
		pdf.CellFormat(40, 6, fmt.Sprintf("%d", s.AlarmsWithErrors), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	if len(r.Logs) > 0 {
		pdf.Ln(6)
		pdf.SetFont("Arial", "B", 9)
		for _, h := range []struct {
			w    float64
			text string
		}{{40, "Time"}, {45, "Batch"}, {25, "Alarm"}, {28, "Operation"}, {45, "Status"}, {15, "Code"}, {75, "Error"}} {
			pdf.CellFormat(h.w, 6, h.text, "1", 0, "C", false, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 8)
		for _, e := range r.Logs {
			pdf.CellFormat(40, 5, e.CreatedAt.UTC().Format("2006-01-02 15:04:05"), "1", 0, "L", false, 0, "")
			pdf.CellFormat(45, 5, e.BatchID, "1", 0, "L", false, 0, "")
			pdf.CellFormat(25, 5, fmt.Sprintf("%d", e.AlarmInstanceID), "1", 0, "R", false, 0, "")
			pdf.CellFormat(28, 5, e.Operation, "1", 0, "L", false, 0, "")
			pdf.CellFormat(45, 5, e.OldStatus+" > "+e.NewStatus, "1", 0, "L", false, 0, "")
			pdf.CellFormat(15, 5, fmt.Sprintf("%d", e.ResponseCode), "1", 0, "R", false, 0, "")
			pdf.CellFormat(75, 5, clip(e.ErrorMessage, 60), "1", 0, "L", false, 0, "")
			pdf.Ln(-1)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildXLSX renders a summary sheet and a log sheet.
func BuildXLSX(r Report) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	logSheet := "logs"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(logSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Alarm Sync Report")
	_ = f.SetCellValue(summarySheet, "A3", "Generated")
	_ = f.SetCellValue(summarySheet, "B3", r.GeneratedAt.UTC().Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A4", "Cycles")
	_ = f.SetCellValue(summarySheet, "B4", r.Cycles)
	_ = f.SetCellValue(summarySheet, "A5", "Failed cycles")
	_ = f.SetCellValue(summarySheet, "B5", r.FailedCycles)
	_ = f.SetCellValue(summarySheet, "A6", "Tracked alarms")
	_ = f.SetCellValue(summarySheet, "B6", r.total())

	header := []string{"Status", "Alarms", "Pushes", "Errors", "With errors", "Earliest", "Latest update"}
	for i, h := range header {
		cell, _ := excelize.CoordinatesToCellName(i+1, 8)
		_ = f.SetCellValue(summarySheet, cell, h)
	}
	for i, s := range r.Stats {
		row := i + 9
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), string(s.Status))
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), s.Count)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("C%d", row), s.TotalPushes)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("D%d", row), s.TotalErrors)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("E%d", row), s.AlarmsWithErrors)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("F%d", row), stamp(s.EarliestCreated))
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("G%d", row), stamp(s.LatestUpdate))
	}

	logHeader := []string{"Time", "Batch", "Alarm instance", "Event", "Operation", "Old status", "New status", "Method", "URL", "Response code", "Duration (ms)", "Error"}
	for i, h := range logHeader {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(logSheet, cell, h)
	}
	for i, e := range r.Logs {
		row := i + 2
		values := []any{
			e.CreatedAt.UTC().Format(time.RFC3339), e.BatchID, e.AlarmInstanceID, e.EventID,
			e.Operation, e.OldStatus, e.NewStatus, e.RequestMethod, e.RequestURL,
			e.ResponseCode, e.DurationMS, e.ErrorMessage,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(logSheet, cell, v)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func stamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
