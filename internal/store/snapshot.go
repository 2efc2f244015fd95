package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/i474232898/weather-quilt/internal/weather"
)

// FileSnapshot keeps the on-disk {meta, data} cache of the default city's full range.
type FileSnapshot struct {
	path      string
	city      string
	stationID string
}

var _ weather.SnapshotWriter = (*FileSnapshot)(nil)

// NewFileSnapshot writes to path. city and stationID fill the meta block when upstream sent none.
func NewFileSnapshot(path, city, stationID string) *FileSnapshot {
	return &FileSnapshot{path: path, city: city, stationID: stationID}
}

// Path returns the snapshot location.
func (f *FileSnapshot) Path() string {
	return f.path
}

// WriteSnapshot replaces the file wholesale. Readers never see a partially written file.
func (f *FileSnapshot) WriteSnapshot(_ context.Context, payload weather.DailyPayload) error {
	if len(payload.Meta) == 0 {
		meta, err := json.Marshal(map[string]any{"name": f.city, "sids": []string{f.stationID}})
		if err != nil {
			return err
		}
		payload.Meta = meta
	}
	if payload.Data == nil {
		payload.Data = []weather.RawDayRecord{}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot loads a snapshot file written by WriteSnapshot or a hand-made seed file.
func ReadSnapshot(path string) (weather.DailyPayload, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return weather.DailyPayload{}, err
	}
	var payload weather.DailyPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return weather.DailyPayload{}, fmt.Errorf("%w: decode snapshot %s: %v", weather.ErrInvalidUpstream, path, err)
	}
	if payload.Data == nil {
		return weather.DailyPayload{}, fmt.Errorf("%w: snapshot %s has no data field", weather.ErrInvalidUpstream, path)
	}
	return payload, nil
}
