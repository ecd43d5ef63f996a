// Package export renders history rows as spreadsheet downloads.
package export

import (
	"bytes"
	"fmt"
	"time"

	"iot-telemetry-backend/internal/view"

	"github.com/xuri/excelize/v2"
)

// ContentType is the MIME type of the workbook produced by HistoryWorkbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// SheetName is the single sheet of the history workbook.
const SheetName = "History"

// Header lists the workbook columns in order.
var Header = []string{
	"Source",
	"Sensor ID",
	"Capture Time",
	"IR1",
	"IR2",
	"Piezo",
	"Speed",
	"Arduino Relay",
	"Piezo Relay",
	"NodeMCU Relay",
	"Timestamp",
}

var columnWidths = []float64{10, 12, 14, 8, 8, 10, 10, 14, 12, 14, 32}

// HistoryWorkbook writes rows, in the given order, to a new xlsx workbook.
func HistoryWorkbook(rows []view.Row) ([]byte, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(SheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range Header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(SheetName, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(SheetName, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(SheetName, name, name, columnWidths[col]); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetSheetRow(SheetName, cell, &[]interface{}{
			string(r.Source),
			r.SensorID,
			captureTime(r.CaptureTime),
			r.IR1,
			r.IR2,
			r.Piezo,
			r.Speed,
			r.ArduinoRelay,
			r.PiezoRelay,
			r.NodeMCURelay,
			r.Timestamp.UTC().Format(time.RFC3339Nano),
		}); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(SheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return buf.Bytes(), nil
}

func captureTime(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
