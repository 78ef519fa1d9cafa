package domain

import (
	"sort"
	"time"
)

// OverloadReading is what the 34970A reports for an open or overloaded input.
const OverloadReading = 9.9e37

// Sample holds one scan of the instrument keyed by channel id, e.g. "205".
type Sample map[string]float64

// Clone returns an independent copy; nil stays nil.
func (s Sample) Clone() Sample {
	if s == nil {
		return nil
	}
	out := make(Sample, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Channels returns the sample keys in lexical order.
func (s Sample) Channels() []string {
	channels := make([]string, 0, len(s))
	for ch := range s {
		channels = append(channels, ch)
	}
	sort.Strings(channels)
	return channels
}

// MeasurementRecord is a Sample stamped with its run and acquisition time.
type MeasurementRecord struct {
	ID        int64
	RunID     int64
	Timestamp time.Time
	Readings  Sample
}

// RecordFilter narrows record queries. Zero values mean "no constraint".
type RecordFilter struct {
	RunID int64
	From  time.Time
	To    time.Time
	Limit int
}

// RunSummary describes the records stored for one run.
type RunSummary struct {
	RunID   int64
	Records int64
	First   time.Time
	Last    time.Time
}
