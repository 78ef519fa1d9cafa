package memory

import (
	"context"
	"sort"
	"sync"

	"pt100-monitor/internal/domain"
)

// Repository keeps records and the run counter in process memory. State is
// lost on restart, so run numbers are only monotonic per process.
type Repository struct {
	mu      sync.RWMutex
	lastRun int64
	nextID  int64
	records []domain.MeasurementRecord
}

func NewRepository() *Repository {
	return &Repository{}
}

func (r *Repository) NextRun(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastRun++
	return r.lastRun, nil
}

func (r *Repository) LastRun(context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastRun, nil
}

func (r *Repository) Save(ctx context.Context, record domain.MeasurementRecord) (domain.MeasurementRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.MeasurementRecord{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	record.ID = r.nextID
	record.Timestamp = record.Timestamp.UTC()
	record.Readings = record.Readings.Clone()
	r.records = append(r.records, record)
	return cloneRecord(record), nil
}

func (r *Repository) ListRecords(ctx context.Context, filter domain.RecordFilter) ([]domain.MeasurementRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.MeasurementRecord
	for _, record := range r.records {
		if filter.RunID > 0 && record.RunID != filter.RunID {
			continue
		}
		if !filter.From.IsZero() && record.Timestamp.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && record.Timestamp.After(filter.To) {
			continue
		}
		out = append(out, cloneRecord(record))
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *Repository) ListRuns(ctx context.Context) ([]domain.RunSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	byRun := make(map[int64]*domain.RunSummary)
	for _, record := range r.records {
		summary, ok := byRun[record.RunID]
		if !ok {
			summary = &domain.RunSummary{RunID: record.RunID, First: record.Timestamp, Last: record.Timestamp}
			byRun[record.RunID] = summary
		}
		summary.Records++
		if record.Timestamp.Before(summary.First) {
			summary.First = record.Timestamp
		}
		if record.Timestamp.After(summary.Last) {
			summary.Last = record.Timestamp
		}
	}

	runs := make([]domain.RunSummary, 0, len(byRun))
	for _, summary := range byRun {
		runs = append(runs, *summary)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].RunID < runs[j].RunID })
	return runs, nil
}

func (r *Repository) Ping(context.Context) error {
	return nil
}

func (r *Repository) Close() error {
	return nil
}

func cloneRecord(record domain.MeasurementRecord) domain.MeasurementRecord {
	record.Readings = record.Readings.Clone()
	return record
}

var _ domain.RecordRepository = (*Repository)(nil)
