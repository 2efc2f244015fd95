package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/i474232898/weather-quilt/internal/common"
	"github.com/i474232898/weather-quilt/internal/weather"
)

// ErrDuplicate is returned when inserting an observation whose (city, date) already exists.
var ErrDuplicate = errors.New("observation already exists")

// ErrNotFound aliases weather.ErrNotFound so callers can match either.
var ErrNotFound = weather.ErrNotFound

// SQLiteConfig configures OpenSQLite.
type SQLiteConfig struct {
	Path         string
	MaxOpenConns int
}

// OpenSQLite opens (creating if needed) the database at cfg.Path and checks connectivity.
func OpenSQLite(cfg SQLiteConfig) (*sql.DB, error) {
	dsn, err := buildDSN(cfg.Path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func buildDSN(path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlite path is empty")
	}
	params := []string{
		"_foreign_keys=on",
		"_busy_timeout=5000",
		"_journal_mode=WAL",
	}

	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + strings.Join(params, "&"), nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return fmt.Sprintf("file:%s?%s", path, strings.Join(params, "&")), nil
}

// SQLiteStore is the weather.Store backed by the observations table.
// It also persists registry discoveries in city_stations.
type SQLiteStore struct {
	db *sql.DB
}

var _ weather.Store = (*SQLiteStore)(nil)

// NewSQLiteStore wraps an open, migrated database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const observationColumns = `city, station_id, date, min_temp, max_temp, precipitation`

func (s *SQLiteStore) GetObservation(ctx context.Context, city string, day time.Time) (weather.Observation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+observationColumns+` FROM observations WHERE city = ? AND date = ?`,
		city, common.FormatDay(day),
	)
	obs, err := scanObservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return weather.Observation{}, ErrNotFound
	}
	return obs, err
}

func (s *SQLiteStore) InsertObservation(ctx context.Context, obs weather.Observation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO observations (`+observationColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		obs.City, obs.StationID, common.FormatDay(obs.Date), obs.MinTemp, obs.MaxTemp, obs.Precipitation.StringFixed(2),
	)
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("%w: %s on %s", ErrDuplicate, obs.City, common.FormatDay(obs.Date))
	}
	return err
}

func (s *SQLiteStore) UpdateObservation(ctx context.Context, obs weather.Observation) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE observations
		    SET station_id = ?, min_temp = ?, max_temp = ?, precipitation = ?,
		        updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		  WHERE city = ? AND date = ?`,
		obs.StationID, obs.MinTemp, obs.MaxTemp, obs.Precipitation.StringFixed(2),
		obs.City, common.FormatDay(obs.Date),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) GetRange(ctx context.Context, city string, from, to time.Time) ([]weather.Observation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+observationColumns+` FROM observations
		  WHERE city = ? AND date >= ? AND date <= ?
		  ORDER BY date`,
		city, common.FormatDay(from), common.FormatDay(to),
	)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close observation rows", "error", err)
		}
	}()

	var out []weather.Observation
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, obs)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) LatestDate(ctx context.Context, city string) (time.Time, bool, error) {
	var latest sql.NullString
	if err := s.db.QueryRowContext(ctx,
		`SELECT MAX(date) FROM observations WHERE city = ?`, city,
	).Scan(&latest); err != nil {
		return time.Time{}, false, err
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	day, err := common.ParseDay(latest.String)
	if err != nil {
		return time.Time{}, false, err
	}
	return day, true, nil
}

func (s *SQLiteStore) Cities(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT city FROM observations ORDER BY city`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveCity upserts a registry entry so station discoveries survive restarts.
func (s *SQLiteStore) SaveCity(ctx context.Context, c weather.City) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO city_stations (city, lat, lon, station_id) VALUES (?, ?, ?, ?)
		 ON CONFLICT(city) DO UPDATE SET
		   lat = excluded.lat, lon = excluded.lon, station_id = excluded.station_id,
		   updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')`,
		c.Name, c.Lat, c.Lon, c.StationID,
	)
	return err
}

// LoadCities returns every persisted registry entry.
func (s *SQLiteStore) LoadCities(ctx context.Context) ([]weather.City, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT city, lat, lon, station_id FROM city_stations ORDER BY city`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []weather.City
	for rows.Next() {
		var c weather.City
		if err := rows.Scan(&c.Name, &c.Lat, &c.Lon, &c.StationID); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObservation(row rowScanner) (weather.Observation, error) {
	var (
		obs    weather.Observation
		day    string
		precip decimal.Decimal
	)
	if err := row.Scan(&obs.City, &obs.StationID, &day, &obs.MinTemp, &obs.MaxTemp, &precip); err != nil {
		return weather.Observation{}, err
	}
	t, err := common.ParseDay(day)
	if err != nil {
		return weather.Observation{}, err
	}
	obs.Date = t
	obs.Precipitation = precip
	return obs, nil
}
