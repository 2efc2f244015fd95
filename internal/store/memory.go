package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/i474232898/weather-quilt/internal/common"
	"github.com/i474232898/weather-quilt/internal/weather"
)

// cityHistory holds one city's observations keyed by YYYY-MM-DD.
type cityHistory struct {
	byDay map[string]weather.Observation
}

// MemoryStore is a concurrency-safe in-memory implementation of weather.Store.
// It backs the "memory" store driver and tests; nothing survives a restart.
type MemoryStore struct {
	mu sync.RWMutex

	// key: city label
	data   map[string]*cityHistory
	cities map[string]weather.City
}

var _ weather.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:   make(map[string]*cityHistory),
		cities: make(map[string]weather.City),
	}
}

func (s *MemoryStore) GetObservation(_ context.Context, city string, day time.Time) (weather.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[city]
	if !ok {
		return weather.Observation{}, ErrNotFound
	}
	obs, ok := history.byDay[common.FormatDay(day)]
	if !ok {
		return weather.Observation{}, ErrNotFound
	}
	return obs, nil
}

func (s *MemoryStore) InsertObservation(_ context.Context, obs weather.Observation) error {
	key := common.FormatDay(obs.Date)

	s.mu.Lock()
	defer s.mu.Unlock()

	history, ok := s.data[obs.City]
	if !ok {
		history = &cityHistory{byDay: make(map[string]weather.Observation)}
		s.data[obs.City] = history
	}
	if _, exists := history.byDay[key]; exists {
		return fmt.Errorf("%w: %s on %s", ErrDuplicate, obs.City, key)
	}

	obs.Date = common.TruncateDay(obs.Date)
	history.byDay[key] = obs
	return nil
}

func (s *MemoryStore) UpdateObservation(_ context.Context, obs weather.Observation) error {
	key := common.FormatDay(obs.Date)

	s.mu.Lock()
	defer s.mu.Unlock()

	history, ok := s.data[obs.City]
	if !ok {
		return ErrNotFound
	}
	if _, exists := history.byDay[key]; !exists {
		return ErrNotFound
	}

	obs.Date = common.TruncateDay(obs.Date)
	history.byDay[key] = obs
	return nil
}

// GetRange returns the city's observations between from and to (inclusive), ordered by date.
func (s *MemoryStore) GetRange(_ context.Context, city string, from, to time.Time) ([]weather.Observation, error) {
	lo, hi := common.FormatDay(from), common.FormatDay(to)

	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[city]
	if !ok {
		return nil, nil
	}

	var result []weather.Observation
	for day, obs := range history.byDay {
		if day >= lo && day <= hi {
			result = append(result, obs)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Date.Before(result[j].Date) })
	return result, nil
}

func (s *MemoryStore) LatestDate(_ context.Context, city string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[city]
	if !ok || len(history.byDay) == 0 {
		return time.Time{}, false, nil
	}

	var latest time.Time
	for _, obs := range history.byDay {
		if obs.Date.After(latest) {
			latest = obs.Date
		}
	}
	return latest, true, nil
}

func (s *MemoryStore) Cities(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.data))
	for city, history := range s.data {
		if len(history.byDay) > 0 {
			out = append(out, city)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) SaveCity(_ context.Context, c weather.City) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cities[c.Name] = c
	return nil
}

func (s *MemoryStore) LoadCities(context.Context) ([]weather.City, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]weather.City, 0, len(s.cities))
	for _, c := range s.cities {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
