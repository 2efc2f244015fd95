package weather

import (
	"context"
	"time"
)

// Upstream abstracts the climate-data API (RCC-ACIS).
type Upstream interface {
	// FetchDaily returns the raw per-day records for stationID over [from, to], inclusive.
	FetchDaily(ctx context.Context, stationID string, from, to time.Time) (DailyPayload, error)
	// FindStations lists station metadata matching q.
	FindStations(ctx context.Context, q StationQuery) ([]StationCandidate, error)
}

// Store is the persistence gateway. Implementations return ErrNotFound for missing observations.
type Store interface {
	GetObservation(ctx context.Context, city string, day time.Time) (Observation, error)
	InsertObservation(ctx context.Context, obs Observation) error
	UpdateObservation(ctx context.Context, obs Observation) error
	GetRange(ctx context.Context, city string, from, to time.Time) ([]Observation, error)
	// LatestDate reports the most recent stored date for city; ok is false when the city has no data.
	LatestDate(ctx context.Context, city string) (day time.Time, ok bool, err error)
	Cities(ctx context.Context) ([]string, error)
}

// Registry is the mutable city -> coordinates/station configuration store.
type Registry interface {
	Lookup(city string) (City, bool)
	// Add registers a city that was not part of the static list.
	Add(ctx context.Context, c City) error
	// SetStation records a newly resolved station for city and runs the persistence hook.
	SetStation(ctx context.Context, city, stationID string) error
	// All returns every registered city in stable order.
	All() []City
}

// SnapshotWriter overwrites the on-disk cache with a full upstream payload.
type SnapshotWriter interface {
	WriteSnapshot(ctx context.Context, payload DailyPayload) error
}

// Notifier publishes completed sync summaries to interested parties.
type Notifier interface {
	NotifySync(ctx context.Context, result SyncResult) error
}

// Geocoder resolves coordinates for a city label missing from the registry.
type Geocoder interface {
	Locate(ctx context.Context, city string) (lat, lon float64, err error)
}

// Recorder receives per-record and per-run sync measurements.
type Recorder interface {
	RecordOutcome(city, outcome string)
	RecordRun(mode, city, status string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordOutcome(string, string)                    {}
func (nopRecorder) RecordRun(string, string, string, time.Duration) {}
