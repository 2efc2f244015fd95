// Package registry holds the mutable city -> coordinates/station configuration.
package registry

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/i474232898/weather-quilt/internal/weather"
)

//go:embed capitals.yaml
var capitalsYAML []byte

// Persister stores registry changes so they survive a restart.
type Persister interface {
	SaveCity(ctx context.Context, c weather.City) error
	LoadCities(ctx context.Context) ([]weather.City, error)
}

type file struct {
	Cities []weather.City `yaml:"cities"`
}

// Registry is a concurrency-safe, ordered set of cities.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	byName  map[string]weather.City
	persist Persister
	logger  *slog.Logger
}

var _ weather.Registry = (*Registry)(nil)

// Parse builds a registry from a YAML document of the form {cities: [{name, lat, lon, station_id}]}.
func Parse(data []byte) (*Registry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}

	r := &Registry{byName: make(map[string]weather.City), logger: slog.Default()}
	for i, c := range f.Cities {
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" {
			return nil, fmt.Errorf("parse registry: city %d has no name", i)
		}
		if _, dup := r.byName[c.Name]; dup {
			return nil, fmt.Errorf("parse registry: duplicate city %q", c.Name)
		}
		r.order = append(r.order, c.Name)
		r.byName[c.Name] = c
	}
	return r, nil
}

// Default returns the built-in list of US state capitals.
func Default() *Registry {
	r, err := Parse(capitalsYAML)
	if err != nil {
		panic(err)
	}
	return r
}

// Load reads the registry from path, or returns Default when path is empty.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	return Parse(data)
}

// WithLogger sets the logger used for persistence warnings.
func (r *Registry) WithLogger(l *slog.Logger) *Registry {
	if l != nil {
		r.logger = l
	}
	return r
}

// Attach overlays the cities stored by p (resolved stations, geocoded cities) and
// routes every later change through p.
func (r *Registry) Attach(ctx context.Context, p Persister) error {
	saved, err := p.LoadCities(ctx)
	if err != nil {
		return fmt.Errorf("load persisted cities: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range saved {
		cur, ok := r.byName[c.Name]
		if !ok {
			r.order = append(r.order, c.Name)
			r.byName[c.Name] = c
			continue
		}
		if c.StationID != "" {
			cur.StationID = c.StationID
			r.byName[c.Name] = cur
		}
	}
	r.persist = p
	return nil
}

func (r *Registry) Lookup(city string) (weather.City, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[city]
	return c, ok
}

// Add registers a new city. Adding a known city is a no-op.
func (r *Registry) Add(ctx context.Context, c weather.City) error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("add city: empty name")
	}

	r.mu.Lock()
	if _, ok := r.byName[c.Name]; ok {
		r.mu.Unlock()
		return nil
	}
	r.order = append(r.order, c.Name)
	r.byName[c.Name] = c
	p := r.persist
	r.mu.Unlock()

	return r.save(ctx, p, c)
}

// SetStation records stationID for a registered city.
func (r *Registry) SetStation(ctx context.Context, city, stationID string) error {
	r.mu.Lock()
	c, ok := r.byName[city]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", weather.ErrUnknownCity, city)
	}
	c.StationID = stationID
	r.byName[city] = c
	p := r.persist
	r.mu.Unlock()

	return r.save(ctx, p, c)
}

// All returns every city in registration order.
func (r *Registry) All() []weather.City {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]weather.City, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Names returns every city label in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// save keeps the in-memory change even when persisting fails.
func (r *Registry) save(ctx context.Context, p Persister, c weather.City) error {
	if p == nil {
		return nil
	}
	if err := p.SaveCity(ctx, c); err != nil {
		r.logger.Warn("failed to persist city", "city", c.Name, "station_id", c.StationID, "error", err)
		return fmt.Errorf("persist %q: %w", c.Name, err)
	}
	return nil
}
