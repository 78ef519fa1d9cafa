package domain

import (
	"context"
	"time"
)

// Instrument is the acquisition device. Implementations are not safe for
// concurrent use; callers serialize access.
type Instrument interface {
	Connect(ctx context.Context) error
	Configure(ctx context.Context, channels []string) error
	Read(ctx context.Context) (Sample, error)
	Disconnect()
	Connected() bool
	Configured() bool
}

// RunCounter hands out run numbers that are never reused.
type RunCounter interface {
	NextRun(ctx context.Context) (int64, error)
	LastRun(ctx context.Context) (int64, error)
}

// RecordWriter persists measurement records produced by the session loop.
type RecordWriter interface {
	Save(ctx context.Context, record MeasurementRecord) (MeasurementRecord, error)
}

// RecordReader exposes historical queries used by the transports and export.
type RecordReader interface {
	ListRecords(ctx context.Context, filter RecordFilter) ([]MeasurementRecord, error)
	ListRuns(ctx context.Context) ([]RunSummary, error)
}

// RecordRepository aggregates everything the persistence collaborator provides.
type RecordRepository interface {
	RunCounter
	RecordWriter
	RecordReader
}

// Broadcaster delivers a message to every live subscriber. It never fails
// from the caller's point of view.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg []byte)
}

// Status is a snapshot of the measurement session.
type Status struct {
	Measuring  bool
	Recording  bool
	Connected  bool
	Configured bool
	Phase      string
	RunNumber  int64
	Interval   time.Duration
	LastError  string
}

// MeasurementService describes the behaviour exposed to transport layers.
type MeasurementService interface {
	Start(ctx context.Context) (int64, error)
	Stop(ctx context.Context) error
	Configure(ctx context.Context) error
	SetRecording(ctx context.Context, enabled bool) error
	Status() Status
	Latest() Sample
}
