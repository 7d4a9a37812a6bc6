// Package report builds Excel workbooks listing unknown product codes for
// the notification emails.
package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/minhnh/ordersync/pkg/types"
	"github.com/xuri/excelize/v2"
)

const sheetName = "Non-Existing Codes"

// Filename returns the report filename for a given generation time.
func Filename(t time.Time) string {
	return fmt.Sprintf("non_existing_codes_%s.xlsx", t.Format("20060102_150405"))
}

// BuildUnknownCodes renders the registry rows into a workbook and returns
// the serialized file.
func BuildUnknownCodes(codes []types.UnknownCode) ([]byte, error) {
	f := excelize.NewFile()
	defer func() {
		_ = f.Close() // Close errors are not critical
	}()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to drop default sheet: %w", err)
	}

	// Header row
	headers := []string{"Product Code", "Order ID", "Status", "Detected At", "Action Required"}
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve header cell: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"D7E4BC"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}
	if err := f.SetCellStyle(sheetName, "A1", "E1", headerStyle); err != nil {
		return nil, fmt.Errorf("failed to style header: %w", err)
	}

	for i, code := range codes {
		row := i + 2
		values := []interface{}{
			code.ProductCode,
			code.OrderID,
			"Not Found",
			code.DetectedAt.Format("2006-01-02 15:04:05"),
			"Verify & Add to System",
		}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve cell: %w", err)
			}
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				return nil, fmt.Errorf("failed to write row %d: %w", row, err)
			}
		}
	}

	widths := map[string]float64{"A": 15, "B": 20, "C": 12, "D": 20, "E": 25}
	for col, width := range widths {
		if err := f.SetColWidth(sheetName, col, col, width); err != nil {
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to serialize workbook: %w", err)
	}
	return buf.Bytes(), nil
}
