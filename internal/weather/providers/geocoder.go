package providers

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/kelvins/geocoder"

	"github.com/i474232898/weather-quilt/internal/weather"
)

// GoogleGeocoder locates "City, ST" labels through the Google geocoding API.
type GoogleGeocoder struct {
	mu     sync.Mutex
	apiKey string
	lookup func(geocoder.Address) (geocoder.Location, error)
}

var _ weather.Geocoder = (*GoogleGeocoder)(nil)

func NewGoogleGeocoder(apiKey string) *GoogleGeocoder {
	return &GoogleGeocoder{apiKey: apiKey, lookup: geocoder.Geocoding}
}

// Locate returns the coordinates of city. The geocoder package keeps its key in a package
// variable, so lookups are serialised.
func (g *GoogleGeocoder) Locate(ctx context.Context, city string) (float64, float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	name, state := splitCityLabel(city)
	if name == "" {
		return 0, 0, fmt.Errorf("geocode: empty city")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	geocoder.ApiKey = g.apiKey

	loc, err := g.lookup(geocoder.Address{City: name, State: state, Country: "United States"})
	if err != nil {
		return 0, 0, fmt.Errorf("geocode %q: %w", city, err)
	}
	return loc.Latitude, loc.Longitude, nil
}

// splitCityLabel splits "Juneau, AK" into its city and state parts.
func splitCityLabel(label string) (string, string) {
	name, state, _ := strings.Cut(label, ",")
	return strings.TrimSpace(name), strings.TrimSpace(state)
}
