package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"pt100-monitor/internal/domain"
)

func TestFilename(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC)
	assert.Equal(t, "pt100_data_20240301_101500.xlsx", Filename(now))
}

func TestWriteXLSX(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC)
	records := []domain.MeasurementRecord{
		{ID: 1, RunID: 4, Timestamp: ts, Readings: domain.Sample{"205": 21.5, "206": 21.7}},
		{ID: 2, RunID: 4, Timestamp: ts.Add(5 * time.Second), Readings: domain.Sample{"205": 21.6}},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, []string{"205", "206"}, records))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, []string{"run_id", "timestamp", "temp_205", "temp_206"}, rows[0])
	assert.Equal(t, []string{"4", "2024-03-01 10:15:00", "21.5", "21.7"}, rows[1])
	assert.Equal(t, []string{"4", "2024-03-01 10:15:05", "21.6"}, rows[2])
}

func TestWriteXLSXWithoutRecords(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, []string{"205"}, nil))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"run_id", "timestamp", "temp_205"}}, rows)
}
