package weather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/i474232898/weather-quilt/internal/common"
)

// Per-record outcome labels reported to the Recorder.
const (
	outcomeAdded   = "added"
	outcomeUpdated = "updated"
	outcomeSkipped = "skipped"
)

// SyncForward fetches only the dates after the latest stored observation for city
// (or the whole range from the epoch when the city has none) through today.
// The snapshot is refreshed when at least one observation was added.
func (s *Service) SyncForward(ctx context.Context, city string) (res SyncResult, err error) {
	city = s.cityOrDefault(city)
	s.mu.Lock()
	defer s.mu.Unlock()

	res = s.newResult(ModeSyncForward, city)
	defer s.finish(ctx, &res, &err, s.now())
	log := s.runLogger(res)

	if res.StationID, err = s.stationFor(ctx, city); err != nil {
		return res, err
	}

	start := s.epoch
	latest, ok, err := s.store.LatestDate(ctx, city)
	if err != nil {
		return res, fmt.Errorf("latest stored date for %s: %w", city, err)
	}
	if ok {
		start = latest.AddDate(0, 0, 1)
	}
	end := s.today()
	res.StartDate, res.EndDate = common.FormatDay(start), common.FormatDay(end)

	if start.After(end) {
		res.Message = "Weather data already up to date"
		log.Info("nothing to fetch", "latest", common.FormatDay(latest))
		return res, nil
	}

	log.Info("fetching weather data", "start", res.StartDate, "end", res.EndDate)
	payload, err := s.upstream.FetchDaily(ctx, res.StationID, start, end)
	if err != nil {
		return res, fmt.Errorf("fetch weather data: %w", err)
	}

	s.reconcile(ctx, log, &res, payload.Data)

	if res.Added > 0 {
		res.SnapshotWritten = s.refreshSnapshot(ctx, log, nil)
	}
	res.Message = "Weather data fetched successfully"
	return res, nil
}

// FullResync re-fetches and reconciles the whole range from the epoch through today,
// regardless of what is stored, then always refreshes the snapshot.
func (s *Service) FullResync(ctx context.Context, city string) (res SyncResult, err error) {
	city = s.cityOrDefault(city)
	s.mu.Lock()
	defer s.mu.Unlock()

	res = s.newResult(ModeFullResync, city)
	defer s.finish(ctx, &res, &err, s.now())
	log := s.runLogger(res)

	if res.StationID, err = s.stationFor(ctx, city); err != nil {
		return res, err
	}

	start, end := s.epoch, s.today()
	res.StartDate, res.EndDate = common.FormatDay(start), common.FormatDay(end)

	log.Info("fetching all weather data", "start", res.StartDate, "end", res.EndDate)
	payload, err := s.upstream.FetchDaily(ctx, res.StationID, start, end)
	if err != nil {
		return res, fmt.Errorf("fetch weather data: %w", err)
	}

	s.reconcile(ctx, log, &res, payload.Data)

	// The payload already covers the snapshot range when it came from the snapshot station.
	var reuse *DailyPayload
	if res.StationID == s.snapshotStation() {
		reuse = &payload
	}
	res.SnapshotWritten = s.refreshSnapshot(ctx, log, reuse)
	res.Message = "All weather data fetched successfully"
	return res, nil
}

// FetchCity fetches a registered city's observations from January 1st of startYear through today.
// The city's station is resolved and recorded first when it is not yet known.
func (s *Service) FetchCity(ctx context.Context, city string, startYear int) (SyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchCity(ctx, city, startYear)
}

// FetchAllCities runs FetchCity for every registry city, one after another. A failing city is
// reported in its own outcome and never stops the remaining cities.
func (s *Service) FetchAllCities(ctx context.Context, startYear int) map[string]CityOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make(map[string]CityOutcome)
	for _, c := range s.registry.All() {
		res, err := s.fetchCity(ctx, c.Name, startYear)
		if err != nil {
			results[c.Name] = CityOutcome{Status: "error", Error: err.Error()}
			continue
		}
		results[c.Name] = CityOutcome{
			Status:    "success",
			StationID: res.StationID,
			Added:     res.Added,
			Updated:   res.Updated,
			Skipped:   res.Skipped,
		}
	}
	return results
}

func (s *Service) fetchCity(ctx context.Context, city string, startYear int) (res SyncResult, err error) {
	res = s.newResult(ModeCityFetch, city)
	defer s.finish(ctx, &res, &err, s.now())
	log := s.runLogger(res)

	if city == "" {
		return res, fmt.Errorf("%w: city is required", ErrUnknownCity)
	}
	if res.StationID, err = s.stationFor(ctx, city); err != nil {
		return res, err
	}

	start := time.Date(startYear, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := s.today()
	res.StartDate, res.EndDate = common.FormatDay(start), common.FormatDay(end)
	if start.After(end) {
		return res, fmt.Errorf("start year %d is in the future", startYear)
	}

	log.Info("fetching weather data", "start", res.StartDate, "end", res.EndDate)
	payload, err := s.upstream.FetchDaily(ctx, res.StationID, start, end)
	if err != nil {
		return res, fmt.Errorf("fetch weather data for %s: %w", city, err)
	}

	s.reconcile(ctx, log, &res, payload.Data)
	res.Message = fmt.Sprintf("Weather data fetched successfully for %s", city)
	return res, nil
}

// ImportSnapshot reconciles a previously cached payload into the store without calling upstream.
func (s *Service) ImportSnapshot(ctx context.Context, city, stationID string, payload DailyPayload) (res SyncResult, err error) {
	city = s.cityOrDefault(city)
	s.mu.Lock()
	defer s.mu.Unlock()

	res = s.newResult(ModeSeed, city)
	res.StationID = stationID
	defer s.finish(ctx, &res, &err, s.now())

	if n := len(payload.Data); n > 0 {
		first, last := NormalizeDay(payload.Data[0]), NormalizeDay(payload.Data[n-1])
		res.StartDate, res.EndDate = first.Day, last.Day
	}

	s.reconcile(ctx, s.runLogger(res), &res, payload.Data)
	res.Message = "Snapshot imported"
	return res, nil
}

// reconcile normalizes and upserts every record in upstream order. A failing record is logged
// and counted as skipped; it never aborts the batch. Writes already made stay committed even if
// the caller goes away mid-batch.
func (s *Service) reconcile(ctx context.Context, log *slog.Logger, res *SyncResult, records []RawDayRecord) {
	ctx = context.WithoutCancel(ctx)

	for _, rec := range records {
		n := NormalizeDay(rec)
		switch n.Outcome {
		case OutcomeFatal:
			log.Warn("error processing day", "day", n.Day, "reason", n.Reason, "error", n.Err)
			s.countSkipped(res)
			continue
		case OutcomeSkip:
			log.Debug("skipping day", "day", n.Day, "reason", n.Reason, "error", n.Err)
			s.countSkipped(res)
			continue
		}

		obs := n.Observation
		obs.City = res.City
		obs.StationID = res.StationID

		created, err := s.upsert(ctx, obs)
		if err != nil {
			log.Error("error processing day", "day", n.Day, "error", err)
			s.countSkipped(res)
			continue
		}
		if created {
			res.Added++
			s.recorder.RecordOutcome(res.City, outcomeAdded)
		} else {
			res.Updated++
			s.recorder.RecordOutcome(res.City, outcomeUpdated)
		}
	}
	res.TotalProcessed = res.Added + res.Updated
}

func (s *Service) countSkipped(res *SyncResult) {
	res.Skipped++
	s.recorder.RecordOutcome(res.City, outcomeSkipped)
}

// upsert inserts obs when (city, date) is new and otherwise overwrites the stored values.
func (s *Service) upsert(ctx context.Context, obs Observation) (bool, error) {
	existing, err := s.store.GetObservation(ctx, obs.City, obs.Date)
	switch {
	case errors.Is(err, ErrNotFound):
		if err := s.store.InsertObservation(ctx, obs); err != nil {
			return false, fmt.Errorf("insert: %w", err)
		}
		return true, nil
	case err != nil:
		return false, fmt.Errorf("lookup: %w", err)
	}

	existing.StationID = obs.StationID
	existing.MinTemp = obs.MinTemp
	existing.MaxTemp = obs.MaxTemp
	existing.Precipitation = obs.Precipitation
	if err := s.store.UpdateObservation(ctx, existing); err != nil {
		return false, fmt.Errorf("update: %w", err)
	}
	return false, nil
}

// refreshSnapshot rewrites the snapshot file with the default city's full range.
// It reuses payload when given and reports whether the file was written. Failures are only logged.
func (s *Service) refreshSnapshot(ctx context.Context, log *slog.Logger, payload *DailyPayload) bool {
	if s.snapshot == nil {
		return false
	}

	if payload == nil {
		stationID := s.snapshotStation()
		if stationID == "" {
			log.Warn("snapshot skipped: no station for default city", "city", s.defaultCity)
			return false
		}
		full, err := s.upstream.FetchDaily(ctx, stationID, s.epoch, s.today())
		if err != nil {
			log.Error("error updating snapshot", "error", err)
			return false
		}
		payload = &full
	}

	if err := s.snapshot.WriteSnapshot(ctx, *payload); err != nil {
		log.Error("error updating snapshot", "error", err)
		return false
	}
	log.Info("snapshot updated", "days", len(payload.Data))
	return true
}

func (s *Service) newResult(mode Mode, city string) SyncResult {
	return SyncResult{RunID: uuid.NewString(), Mode: mode, City: city}
}

func (s *Service) runLogger(res SyncResult) *slog.Logger {
	return s.logger.With("run_id", res.RunID, "mode", string(res.Mode), "city", res.City)
}

// finish records run metrics, logs the summary and notifies subscribers of successful runs.
func (s *Service) finish(ctx context.Context, res *SyncResult, errp *error, started time.Time) {
	status := "success"
	if *errp != nil {
		status = "error"
	}
	s.recorder.RecordRun(string(res.Mode), res.City, status, s.now().Sub(started))

	log := s.runLogger(*res)
	if *errp != nil {
		log.Error("sync failed", "station_id", res.StationID, "error", *errp)
		return
	}
	log.Info("sync completed",
		"station_id", res.StationID,
		"start", res.StartDate,
		"end", res.EndDate,
		"added", res.Added,
		"updated", res.Updated,
		"skipped", res.Skipped,
	)

	if s.notifier != nil {
		if err := s.notifier.NotifySync(ctx, *res); err != nil {
			log.Warn("sync notification failed", "error", err)
		}
	}
}
