package store

import (
	"context"
	"fmt"

	"github.com/i474232898/weather-quilt/internal/weather"
)

// Backend is an observation store that also keeps the city registry overlay.
type Backend interface {
	weather.Store
	SaveCity(ctx context.Context, c weather.City) error
	LoadCities(ctx context.Context) ([]weather.City, error)
}

// Open returns the backend named by driver ("sqlite3" or "memory") and a close func.
// The sqlite3 backend is migrated before it is returned.
func Open(ctx context.Context, driver string, cfg SQLiteConfig) (Backend, func() error, error) {
	switch driver {
	case "memory":
		return NewMemoryStore(), func() error { return nil }, nil
	case "sqlite3", "":
		db, err := OpenSQLite(cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return NewSQLiteStore(db), db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
