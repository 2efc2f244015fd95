package weather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/i474232898/weather-quilt/internal/common"
)

// Options configures a Service. Zero values fall back to sensible defaults.
type Options struct {
	// EpochStart is the first date of the full historical range (2000-01-01 by default).
	EpochStart time.Time
	// DefaultCity is used when a caller omits the city.
	DefaultCity string
	// DefaultStation backs the snapshot when the registry has no station for DefaultCity.
	DefaultStation string

	Snapshot SnapshotWriter
	Notifier Notifier
	Geocoder Geocoder
	Recorder Recorder
	Logger   *slog.Logger
	Now      func() time.Time
}

// Service orchestrates station resolution, upstream fetches, reconciliation into the
// store, and snapshot refreshes. Sync runs are serialised: the store has a single writer.
type Service struct {
	store    Store
	upstream Upstream
	registry Registry
	resolver *StationResolver

	epoch          time.Time
	defaultCity    string
	defaultStation string
	snapshot       SnapshotWriter
	notifier       Notifier
	geocoder       Geocoder
	recorder       Recorder
	logger         *slog.Logger
	now            func() time.Time

	mu sync.Mutex
}

// NewService creates a new Service.
func NewService(store Store, upstream Upstream, registry Registry, opts Options) *Service {
	if opts.EpochStart.IsZero() {
		opts.EpochStart = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	if opts.DefaultCity == "" {
		opts.DefaultCity = DefaultCity
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	resolver := NewStationResolver(upstream, opts.Logger)
	resolver.now = opts.Now

	return &Service{
		store:          store,
		upstream:       upstream,
		registry:       registry,
		resolver:       resolver,
		epoch:          common.TruncateDay(opts.EpochStart),
		defaultCity:    opts.DefaultCity,
		defaultStation: opts.DefaultStation,
		snapshot:       opts.Snapshot,
		notifier:       opts.Notifier,
		geocoder:       opts.Geocoder,
		recorder:       opts.Recorder,
		logger:         opts.Logger,
		now:            opts.Now,
	}
}

// DefaultCity returns the city used when callers omit one.
func (s *Service) DefaultCity() string {
	return s.defaultCity
}

// GetDay returns the observation for city on day.
func (s *Service) GetDay(ctx context.Context, city string, day time.Time) (Observation, error) {
	return s.store.GetObservation(ctx, s.cityOrDefault(city), common.TruncateDay(day))
}

// GetRange returns observations for city between from and to (inclusive), ordered by date.
func (s *Service) GetRange(ctx context.Context, city string, from, to time.Time) ([]Observation, error) {
	return s.store.GetRange(ctx, s.cityOrDefault(city), common.TruncateDay(from), common.TruncateDay(to))
}

// GetMonth returns a month of observations, or ErrNotFound when the month has none.
func (s *Service) GetMonth(ctx context.Context, city string, year int, month time.Month) ([]Observation, error) {
	from, to := common.MonthBounds(year, month)
	return s.nonEmptyRange(ctx, city, from, to)
}

// GetYear returns a year of observations, or ErrNotFound when the year has none.
func (s *Service) GetYear(ctx context.Context, city string, year int) ([]Observation, error) {
	from, to := common.YearBounds(year)
	return s.nonEmptyRange(ctx, city, from, to)
}

func (s *Service) nonEmptyRange(ctx context.Context, city string, from, to time.Time) ([]Observation, error) {
	obs, err := s.GetRange(ctx, city, from, to)
	if err != nil {
		return nil, err
	}
	if len(obs) == 0 {
		return nil, ErrNotFound
	}
	return obs, nil
}

// Cities returns the distinct city labels that have stored observations.
func (s *Service) Cities(ctx context.Context) ([]string, error) {
	return s.store.Cities(ctx)
}

// ListStations passes a station metadata query through to the upstream API.
// Without a bounding box or state the listing defaults to Alaska.
func (s *Service) ListStations(ctx context.Context, q StationQuery) ([]StationCandidate, error) {
	if q.BBox == "" && q.State == "" {
		q.State = "AK"
	}
	return s.upstream.FindStations(ctx, q)
}

// FindStations resolves a station for every registry city that lacks one.
func (s *Service) FindStations(ctx context.Context) map[string]StationLookup {
	results := make(map[string]StationLookup)
	for _, c := range s.registry.All() {
		if c.StationID != "" {
			sid := c.StationID
			results[c.Name] = StationLookup{Status: "already_has_station", StationID: &sid}
			continue
		}

		sid, ok := s.resolver.Resolve(ctx, c.Lat, c.Lon, c.Name)
		if !ok {
			results[c.Name] = StationLookup{Status: "not_found"}
			continue
		}
		if err := s.registry.SetStation(ctx, c.Name, sid); err != nil {
			s.logger.Warn("failed to record station", "city", c.Name, "station_id", sid, "error", err)
		}
		results[c.Name] = StationLookup{Status: "found", StationID: &sid}
	}
	return results
}

func (s *Service) cityOrDefault(city string) string {
	if city == "" {
		return s.defaultCity
	}
	return city
}

// stationFor returns the station of a registered city, resolving (and recording) it when unknown.
// Cities missing from the registry are geocoded when a Geocoder is configured.
func (s *Service) stationFor(ctx context.Context, city string) (string, error) {
	info, ok := s.registry.Lookup(city)
	if !ok {
		if s.geocoder == nil {
			return "", fmt.Errorf("%w: %q", ErrUnknownCity, city)
		}
		lat, lon, err := s.geocoder.Locate(ctx, city)
		if err != nil {
			s.logger.Warn("geocoding failed", "city", city, "error", err)
			return "", fmt.Errorf("%w: %q", ErrUnknownCity, city)
		}
		info = City{Name: city, Lat: lat, Lon: lon}
		if err := s.registry.Add(ctx, info); err != nil {
			s.logger.Warn("failed to record city", "city", city, "error", err)
		}
	}

	if info.StationID != "" {
		return info.StationID, nil
	}

	s.logger.Info("finding station", "city", city)
	sid, ok := s.resolver.Resolve(ctx, info.Lat, info.Lon, city)
	if !ok {
		return "", fmt.Errorf("%w for %s", ErrNoStation, city)
	}
	if err := s.registry.SetStation(ctx, city, sid); err != nil {
		s.logger.Warn("failed to record station", "city", city, "station_id", sid, "error", err)
	}
	return sid, nil
}

func (s *Service) snapshotStation() string {
	if info, ok := s.registry.Lookup(s.defaultCity); ok && info.StationID != "" {
		return info.StationID
	}
	return s.defaultStation
}

func (s *Service) today() time.Time {
	return common.TruncateDay(s.now())
}

// IsClientError reports whether err is a not-found style condition rather than a service failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnknownCity) || errors.Is(err, ErrNoStation)
}
