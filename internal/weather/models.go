package weather

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/i474232898/weather-quilt/internal/common"
)

// DefaultCity is the city label used when a caller does not name one.
const DefaultCity = "Anchorage, AK"

var (
	// ErrNotFound is returned when no observation (or no data at all) exists for a query.
	ErrNotFound = errors.New("no weather data found")
	// ErrUnknownCity is returned when a city is not present in the registry.
	ErrUnknownCity = errors.New("city not found in registry")
	// ErrNoStation is returned when no upstream station could be resolved for a city.
	ErrNoStation = errors.New("no weather station found")
	// ErrInvalidUpstream is returned when the upstream response lacks the expected shape.
	ErrInvalidUpstream = errors.New("invalid response from upstream")
)

// Observation is one day's weather for one city. (City, Date) is unique.
type Observation struct {
	City          string
	StationID     string
	Date          time.Time // midnight UTC
	MinTemp       int
	MaxTemp       int
	Precipitation decimal.Decimal // two fractional digits
}

type observationJSON struct {
	City          string      `json:"city"`
	StationID     string      `json:"station_id"`
	Date          string      `json:"date"`
	MinTemp       int         `json:"minTemp"`
	MaxTemp       int         `json:"maxTemp"`
	Precipitation json.Number `json:"precipitation"`
}

// MarshalJSON renders the date as YYYY-MM-DD and precipitation as a plain number.
func (o Observation) MarshalJSON() ([]byte, error) {
	return json.Marshal(observationJSON{
		City:          o.City,
		StationID:     o.StationID,
		Date:          common.FormatDay(o.Date),
		MinTemp:       o.MinTemp,
		MaxTemp:       o.MaxTemp,
		Precipitation: json.Number(o.Precipitation.StringFixed(2)),
	})
}

// City is one entry of the capitals registry.
type City struct {
	Name      string  `json:"name" yaml:"name"`
	Lat       float64 `json:"lat" yaml:"lat"`
	Lon       float64 `json:"lon" yaml:"lon"`
	StationID string  `json:"station_id,omitempty" yaml:"station_id"`
}

// StationCandidate is a station as described by the upstream metadata endpoint.
type StationCandidate struct {
	Name           string     `json:"name"`
	SIDs           []string   `json:"sids"`
	State          string     `json:"state,omitempty"`
	LL             []float64  `json:"ll,omitempty"`
	Elev           *float64   `json:"elev,omitempty"`
	UID            int        `json:"uid,omitempty"`
	ValidDateRange [][]string `json:"valid_daterange"`
}

// StationQuery filters the upstream station listing. Either BBox or State is used, BBox first.
type StationQuery struct {
	BBox  string // "west,south,east,north"
	State string
	Meta  string // optional comma separated metadata fields
}

// RawDayRecord is one upstream day: [date, [maxt..], [mint..], [avgt..], [departure..],
// [hdd..], [cdd..], [pcpn..], [snow..], [snwd..]].
type RawDayRecord []json.RawMessage

// DailyPayload is the upstream observation response.
type DailyPayload struct {
	Meta json.RawMessage `json:"meta,omitempty"`
	Data []RawDayRecord  `json:"data"`
}

// Mode names a reconciliation batch mode.
type Mode string

const (
	ModeSyncForward Mode = "sync_forward"
	ModeFullResync  Mode = "full_resync"
	ModeCityFetch   Mode = "city_fetch"
	ModeSeed        Mode = "seed"
)

// SyncResult summarises one reconciliation run.
type SyncResult struct {
	RunID           string `json:"run_id"`
	Mode            Mode   `json:"mode"`
	Message         string `json:"message"`
	City            string `json:"city"`
	StationID       string `json:"station_id"`
	StartDate       string `json:"start_date"`
	EndDate         string `json:"end_date"`
	Added           int    `json:"records_added"`
	Updated         int    `json:"records_updated"`
	Skipped         int    `json:"records_skipped"`
	TotalProcessed  int    `json:"total_processed"`
	SnapshotWritten bool   `json:"snapshot_written"`
}

// CityOutcome is the per-city entry of an all-cities run.
type CityOutcome struct {
	Status    string `json:"status"`
	StationID string `json:"station_id,omitempty"`
	Added     int    `json:"records_added"`
	Updated   int    `json:"records_updated"`
	Skipped   int    `json:"records_skipped"`
	Error     string `json:"error,omitempty"`
}

// StationLookup is the per-city entry of a find-stations run.
type StationLookup struct {
	Status    string  `json:"status"`
	StationID *string `json:"station_id"`
}
