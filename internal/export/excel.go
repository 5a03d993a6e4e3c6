package export

import (
	"fmt"
	"io"
	"time"

	"sachet/internal/models"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Hazard Reports"

// WriteExcel renders all reports, sync bookkeeping included, as an XLSX
// workbook on w. Used by the diagnostics export endpoint.
func WriteExcel(w io.Writer, reports []models.HazardReport) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	headers := []string{"ID", "Hazard Type", "Description", "Latitude", "Longitude", "Media Ref", "Status", "Created At", "Created Offline", "Synced At"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, header)
	}

	for row, report := range reports {
		values := []any{
			report.ID,
			report.Payload.HazardType,
			report.Payload.Description,
			report.Payload.Latitude,
			report.Payload.Longitude,
			report.Payload.MediaRef,
			report.SyncStatus,
			report.CreatedAt.Format(time.RFC3339),
			report.CreatedOffline,
			formatSyncedAt(report.SyncedAt),
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			_ = f.SetCellValue(sheetName, cell, value)
		}
	}

	_ = f.SetColWidth(sheetName, "B", "C", 30)
	_ = f.SetColWidth(sheetName, "H", "J", 22)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("error writing workbook: %v", err)
	}
	return nil
}

func formatSyncedAt(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
