package archive

import (
	"context"
	"time"

	"codeberg.org/mutker/serverpop/internal/population"
)

// Archiver keeps a local journal of collection cycles
type Archiver interface {
	Record(ctx context.Context, rec *CycleRecord) error
	Close() error
}

// Repository defines the interface for archive storage. Cycles and
// Measurements read the journal back for inspection; the collector only
// records.
type Repository interface {
	Record(ctx context.Context, rec *CycleRecord) error
	Cycles(ctx context.Context, limit int) ([]CycleSummary, error)
	Measurements(ctx context.Context, cycleID string) ([]population.Measurement, error)
	Close() error
}

// CycleRecord is everything the journal keeps about one cycle
type CycleRecord struct {
	ID            string
	FailedQueries int
	Written       bool
	Batch         *population.Batch
}

// CycleSummary is a stored cycle without its rows
type CycleSummary struct {
	ID            string
	Timestamp     time.Time
	Servers       int
	Skipped       int
	FailedQueries int
	Rows          int
	Players       int
	Written       bool
}
