package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pt100-monitor/internal/domain"
)

// вспомогательные функции

func newMockRepository(t *testing.T, channels ...string) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo, err := NewRepository(db, channels)
	require.NoError(t, err)
	return repo, mock
}

func TestNextRunIsSingleUpsert(t *testing.T) {
	repo, mock := newMockRepository(t, "205")

	t.Log("счётчик увеличивается одним INSERT ... ON CONFLICT")
	mock.ExpectQuery(regexp.QuoteMeta(nextRunSQL)).
		WillReturnRows(sqlmock.NewRows([]string{"last_run"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(nextRunSQL)).
		WillReturnRows(sqlmock.NewRows([]string{"last_run"}).AddRow(2))

	first, err := repo.NextRun(context.Background())
	require.NoError(t, err)
	second, err := repo.NextRun(context.Background())
	require.NoError(t, err)

	assert.EqualValues(t, 1, first)
	assert.EqualValues(t, 2, second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNextRunPropagatesErrors(t *testing.T) {
	repo, mock := newMockRepository(t, "205")
	mock.ExpectQuery(regexp.QuoteMeta(nextRunSQL)).WillReturnError(errors.New("connection refused"))

	_, err := repo.NextRun(context.Background())
	assert.ErrorContains(t, err, "connection refused")
}

func TestLastRunWithoutRow(t *testing.T) {
	repo, mock := newMockRepository(t, "205")
	mock.ExpectQuery(regexp.QuoteMeta(lastRunSQL)).WillReturnError(sql.ErrNoRows)

	run, err := repo.LastRun(context.Background())
	require.NoError(t, err)
	assert.Zero(t, run)
}

func TestSaveInsertsOneColumnPerChannel(t *testing.T) {
	repo, mock := newMockRepository(t, "205", "206")
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO measurements (run_id, measure_datetime, "t205", "t206") VALUES ($1, $2, $3, $4) RETURNING id`)).
		WithArgs(int64(3), ts, 21.5, nil).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	saved, err := repo.Save(context.Background(), domain.MeasurementRecord{
		RunID:     3,
		Timestamp: ts,
		Readings:  domain.Sample{"205": 21.5},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 42, saved.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRecordsAppliesFilter(t *testing.T) {
	repo, mock := newMockRepository(t, "205", "206")
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	ts := from.Add(time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, run_id, measure_datetime, "t205", "t206" FROM measurements WHERE run_id = $1 AND measure_datetime >= $2 ORDER BY measure_datetime, id LIMIT $3`)).
		WithArgs(int64(7), from, 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "run_id", "measure_datetime", "t205", "t206"}).
			AddRow(1, 7, ts, 21.5, nil).
			AddRow(2, 7, ts.Add(5*time.Second), 21.6, 21.8))

	records, err := repo.ListRecords(context.Background(), domain.RecordFilter{RunID: 7, From: from, Limit: 10})
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, domain.Sample{"205": 21.5}, records[0].Readings)
	assert.Equal(t, domain.Sample{"205": 21.6, "206": 21.8}, records[1].Readings)
	assert.Equal(t, ts, records[0].Timestamp)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRuns(t *testing.T) {
	repo, mock := newMockRepository(t, "205")
	first := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(listRunsSQL)).
		WillReturnRows(sqlmock.NewRows([]string{"run_id", "count", "min", "max"}).
			AddRow(1, 3, first, first.Add(10*time.Second)))

	runs, err := repo.ListRuns(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.RunSummary{{RunID: 1, Records: 3, First: first, Last: first.Add(10 * time.Second)}}, runs)
}

func TestMigrateCreatesTablesAndChannelColumns(t *testing.T) {
	repo, mock := newMockRepository(t, "205", "206")

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS last_run")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`ALTER TABLE measurements ADD COLUMN IF NOT EXISTS "t205" DOUBLE PRECISION`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`ALTER TABLE measurements ADD COLUMN IF NOT EXISTS "t206" DOUBLE PRECISION`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRepositoryRejectsBadChannel(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = NewRepository(db, []string{"205; DROP TABLE measurements"})
	assert.ErrorIs(t, err, ErrInvalidChannel)

	_, err = NewRepository(nil, []string{"205"})
	assert.Error(t, err)
}
