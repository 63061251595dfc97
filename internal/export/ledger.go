package export

import (
	"fmt"
	"io"
	"time"

	"chansync/internal/models"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Sync ledger"

var columns = []struct {
	title string
	width float64
}{
	{"Sync ID", 38},
	{"Parent", 38},
	{"Property", 14},
	{"Channel", 14},
	{"Operation", 11},
	{"Priority", 10},
	{"Requested by", 18},
	{"Retry", 7},
	{"Status", 17},
	{"Total", 8},
	{"Synced", 8},
	{"Failed", 8},
	{"Created", 20},
	{"Started", 20},
	{"Completed", 20},
	{"Duration, ms", 13},
	{"Errors", 80},
}

var statusColors = map[models.SyncStatus]string{
	models.SyncStatusSuccess:        "#E2EFDA",
	models.SyncStatusPartialSuccess: "#FFF2CC",
	models.SyncStatusFailed:         "#F8CBAD",
	models.SyncStatusCancelled:      "#EDEDED",
}

// FileName builds the download name for a ledger export.
func FileName(propertyID string, at time.Time) string {
	return fmt.Sprintf("sync_ledger_%s_%s.xlsx", propertyID, at.UTC().Format("20060102_150405"))
}

// WriteLedger renders entries as an xlsx workbook, one row per entry.
func WriteLedger(w io.Writer, title string, entries []*models.SyncLedgerEntry) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	lastCol, _ := excelize.ColumnNumberToName(len(columns))
	_ = f.SetCellValue(sheetName, "A1", title)
	_ = f.MergeCell(sheetName, "A1", lastCol+"1")
	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "left"},
	})
	_ = f.SetCellStyle(sheetName, "A1", "A1", titleStyle)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	for i, c := range columns {
		col, _ := excelize.ColumnNumberToName(i + 1)
		cell := col + "2"
		_ = f.SetCellValue(sheetName, cell, c.title)
		_ = f.SetCellStyle(sheetName, cell, cell, headerStyle)
		_ = f.SetColWidth(sheetName, col, col, c.width)
	}
	_ = f.SetPanes(sheetName, &excelize.Panes{Freeze: true, YSplit: 2, TopLeftCell: "A3", ActivePane: "bottomLeft"})

	styles := make(map[models.SyncStatus]int, len(statusColors))
	for status, color := range statusColors {
		id, err := f.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
			Font: &excelize.Font{Bold: true},
		})
		if err == nil {
			styles[status] = id
		}
	}

	for i, e := range entries {
		row := i + 3
		cell, _ := excelize.CoordinatesToCellName(1, row)
		values := []interface{}{
			e.SyncID,
			e.ParentSyncID,
			e.PropertyID,
			e.ChannelID,
			string(e.Operation),
			string(e.Priority),
			e.RequestedBy,
			e.RetryCount,
			string(e.Status),
			e.TotalRecords,
			e.SuccessCount,
			e.FailedCount,
			formatTime(&e.CreatedAt),
			formatTime(e.StartedAt),
			formatTime(e.CompletedAt),
			e.DurationMs,
			e.ErrorSummary,
		}
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return fmt.Errorf("error writing row %d: %w", row, err)
		}
		if id, ok := styles[e.Status]; ok {
			statusCell, _ := excelize.CoordinatesToCellName(9, row)
			_ = f.SetCellStyle(sheetName, statusCell, statusCell, id)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}
