package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"pt100-monitor/internal/domain"
)

const (
	SheetName       = "Measurements"
	TimestampLayout = "2006-01-02 15:04:05"
	ContentType     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Filename names a download taken at now, e.g. pt100_data_20240301_101500.xlsx.
func Filename(now time.Time) string {
	return fmt.Sprintf("pt100_data_%s.xlsx", now.Format("20060102_150405"))
}

// WriteXLSX renders records as one sheet: run_id, timestamp and one
// temp_<channel> column per channel. Missing readings are left blank.
func WriteXLSX(w io.Writer, channels []string, records []domain.MeasurementRecord) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("export: rename sheet: %w", err)
	}

	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		return fmt.Errorf("export: stream writer: %w", err)
	}

	header := make([]any, 0, len(channels)+2)
	header = append(header, "run_id", "timestamp")
	for _, ch := range channels {
		header = append(header, "temp_"+ch)
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("export: header: %w", err)
	}

	for i, record := range records {
		row := make([]any, 0, len(channels)+2)
		row = append(row, record.RunID, record.Timestamp.UTC().Format(TimestampLayout))
		for _, ch := range channels {
			if value, ok := record.Readings[ch]; ok {
				row = append(row, value)
			} else {
				row = append(row, nil)
			}
		}

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("export: row %d: %w", i+2, err)
		}
		if err := sw.SetRow(cell, row); err != nil {
			return fmt.Errorf("export: row %d: %w", i+2, err)
		}
	}

	if err := sw.Flush(); err != nil {
		return fmt.Errorf("export: flush: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("export: write: %w", err)
	}
	return nil
}
