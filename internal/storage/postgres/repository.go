package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"pt100-monitor/internal/domain"
)

const (
	nextRunSQL = `INSERT INTO last_run (id, last_run) VALUES (1, 1)
ON CONFLICT (id) DO UPDATE SET last_run = last_run.last_run + 1
RETURNING last_run`
	lastRunSQL  = `SELECT last_run FROM last_run WHERE id = 1`
	listRunsSQL = `SELECT run_id, COUNT(*), MIN(measure_datetime), MAX(measure_datetime)
FROM measurements GROUP BY run_id ORDER BY run_id`
)

var ErrInvalidChannel = errors.New("postgres: invalid channel id")

// Logger defines the logging behaviour required by the repository.
type Logger interface {
	Info(msg string, args ...any)
}

type Option func(*Repository)

func WithLogger(l Logger) Option {
	return func(r *Repository) { r.logger = l }
}

// Repository stores measurement records and the run counter in Postgres. One
// DOUBLE PRECISION column per channel, named t<channel>.
type Repository struct {
	db       *sql.DB
	channels []string
	columns  []string
	logger   Logger

	insertSQL string
	selectSQL string
}

func NewRepository(db *sql.DB, channels []string, opts ...Option) (*Repository, error) {
	if db == nil {
		return nil, errors.New("postgres repository requires db instance")
	}

	columns := make([]string, len(channels))
	for i, ch := range channels {
		column, err := ColumnName(ch)
		if err != nil {
			return nil, err
		}
		columns[i] = pq.QuoteIdentifier(column)
	}

	r := &Repository{
		db:       db,
		channels: append([]string(nil), channels...),
		columns:  columns,
	}
	for _, opt := range opts {
		opt(r)
	}

	placeholders := make([]string, 0, len(columns)+2)
	for i := 0; i < len(columns)+2; i++ {
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
	}
	head := append([]string{"run_id", "measure_datetime"}, columns...)
	r.insertSQL = fmt.Sprintf("INSERT INTO measurements (%s) VALUES (%s) RETURNING id",
		strings.Join(head, ", "), strings.Join(placeholders, ", "))
	r.selectSQL = fmt.Sprintf("SELECT %s FROM measurements",
		strings.Join(append([]string{"id"}, head...), ", "))

	return r, nil
}

// ColumnName maps a channel id to its column, e.g. "205" -> "t205".
func ColumnName(channel string) (string, error) {
	if channel == "" || strings.Trim(channel, "0123456789") != "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidChannel, channel)
	}
	return "t" + channel, nil
}

// NextRun increments the durable run counter in a single statement.
func (r *Repository) NextRun(ctx context.Context) (int64, error) {
	var run int64
	if err := r.db.QueryRowContext(ctx, nextRunSQL).Scan(&run); err != nil {
		return 0, fmt.Errorf("postgres: next run: %w", err)
	}
	return run, nil
}

// LastRun returns the last issued run number, 0 when none was issued yet.
func (r *Repository) LastRun(ctx context.Context) (int64, error) {
	var run int64
	err := r.db.QueryRowContext(ctx, lastRunSQL).Scan(&run)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: last run: %w", err)
	}
	return run, nil
}

// Save inserts one record. Channels missing from the readings are stored as NULL.
func (r *Repository) Save(ctx context.Context, record domain.MeasurementRecord) (domain.MeasurementRecord, error) {
	args := make([]any, 0, len(r.channels)+2)
	args = append(args, record.RunID, record.Timestamp.UTC())
	for _, ch := range r.channels {
		value, ok := record.Readings[ch]
		args = append(args, sql.NullFloat64{Float64: value, Valid: ok})
	}

	if err := r.db.QueryRowContext(ctx, r.insertSQL, args...).Scan(&record.ID); err != nil {
		return domain.MeasurementRecord{}, fmt.Errorf("postgres: save record: %w", err)
	}
	return record, nil
}

// ListRecords returns records ordered by acquisition time.
func (r *Repository) ListRecords(ctx context.Context, filter domain.RecordFilter) ([]domain.MeasurementRecord, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.RunID > 0 {
		args = append(args, filter.RunID)
		conditions = append(conditions, fmt.Sprintf("run_id = $%d", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From.UTC())
		conditions = append(conditions, fmt.Sprintf("measure_datetime >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To.UTC())
		conditions = append(conditions, fmt.Sprintf("measure_datetime <= $%d", len(args)))
	}

	query := r.selectSQL
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY measure_datetime, id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list records: %w", err)
	}
	defer rows.Close()

	var records []domain.MeasurementRecord
	for rows.Next() {
		record, err := r.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list records: %w", err)
	}
	return records, nil
}

func (r *Repository) scanRecord(rows *sql.Rows) (domain.MeasurementRecord, error) {
	var (
		record domain.MeasurementRecord
		ts     time.Time
		values = make([]sql.NullFloat64, len(r.channels))
	)
	dest := make([]any, 0, len(values)+3)
	dest = append(dest, &record.ID, &record.RunID, &ts)
	for i := range values {
		dest = append(dest, &values[i])
	}

	if err := rows.Scan(dest...); err != nil {
		return domain.MeasurementRecord{}, fmt.Errorf("postgres: scan record: %w", err)
	}

	record.Timestamp = ts.UTC()
	record.Readings = make(domain.Sample, len(r.channels))
	for i, ch := range r.channels {
		if values[i].Valid {
			record.Readings[ch] = values[i].Float64
		}
	}
	return record, nil
}

// ListRuns summarizes the stored runs in ascending order.
func (r *Repository) ListRuns(ctx context.Context) ([]domain.RunSummary, error) {
	rows, err := r.db.QueryContext(ctx, listRunsSQL)
	if err != nil {
		return nil, fmt.Errorf("postgres: list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.RunSummary
	for rows.Next() {
		var run domain.RunSummary
		if err := rows.Scan(&run.RunID, &run.Records, &run.First, &run.Last); err != nil {
			return nil, fmt.Errorf("postgres: scan run: %w", err)
		}
		run.First = run.First.UTC()
		run.Last = run.Last.UTC()
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list runs: %w", err)
	}
	return runs, nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) info(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Info("postgres: "+msg, args...)
	}
}

var _ domain.RecordRepository = (*Repository)(nil)
