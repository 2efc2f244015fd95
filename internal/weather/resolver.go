package weather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// Station scoring bonuses.
const (
	longRunningYear  = 2000 // stations reporting since this year or earlier
	longRunningBonus = 10
	activeYear       = 2023 // stations still reporting in this year or later
	activeBonus      = 5

	bboxHalfWidth = 0.5

	stationElems = "pcpn,maxt,mint"
	stationMeta  = "name,sids,ll,valid_daterange"
)

// StationResolver picks the best upstream station around a set of coordinates.
type StationResolver struct {
	upstream Upstream
	logger   *slog.Logger
	now      func() time.Time
}

// NewStationResolver creates a resolver backed by upstream.
func NewStationResolver(upstream Upstream, logger *slog.Logger) *StationResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &StationResolver{upstream: upstream, logger: logger, now: time.Now}
}

// Resolve returns the canonical id of the best-scoring station within half a degree of
// (lat, lon). Every failure is logged and reported as ok == false.
func (r *StationResolver) Resolve(ctx context.Context, lat, lon float64, city string) (string, bool) {
	q := StationQuery{
		BBox: fmt.Sprintf("%g,%g,%g,%g", lon-bboxHalfWidth, lat-bboxHalfWidth, lon+bboxHalfWidth, lat+bboxHalfWidth),
		Meta: stationMeta,
	}

	candidates, err := r.upstream.FindStations(ctx, q)
	if err != nil {
		r.logger.Warn("station lookup failed", "city", city, "error", err)
		return "", false
	}
	if len(candidates) == 0 {
		r.logger.Info("no stations found", "city", city)
		return "", false
	}

	best, score, ok := SelectStation(candidates, r.now().Year())
	if !ok {
		r.logger.Info("no usable station", "city", city, "candidates", len(candidates))
		return "", false
	}

	r.logger.Info("found station", "city", city, "station_id", best.SIDs[0], "name", best.Name, "score", score)
	return best.SIDs[0], true
}

// SelectStation returns the candidate with the strictly highest score; ties keep the first.
// Candidates without identifiers or a parseable date range are ignored.
func SelectStation(candidates []StationCandidate, currentYear int) (StationCandidate, int, bool) {
	var (
		best      StationCandidate
		bestScore int
		found     bool
	)
	for _, c := range candidates {
		if len(c.SIDs) == 0 {
			continue
		}
		score, err := ScoreStation(c, currentYear)
		if err != nil {
			continue
		}
		if !found || score > bestScore {
			best, bestScore, found = c, score, true
		}
	}
	return best, bestScore, found
}

var errNoDateRange = errors.New("station has no valid date range")

// ScoreStation rates a station by years of data, with bonuses for long-running and active stations.
// The start year comes from the first range's start and the end year from the last range's end;
// an empty end means the station is still reporting.
func ScoreStation(c StationCandidate, currentYear int) (int, error) {
	ranges := c.ValidDateRange
	if len(ranges) < 2 {
		return 0, errNoDateRange
	}
	first, last := ranges[0], ranges[len(ranges)-1]
	if len(first) < 1 || len(last) < 2 {
		return 0, errNoDateRange
	}

	startYear, err := parseYear(first[0])
	if err != nil {
		return 0, err
	}
	endYear := currentYear
	if last[1] != "" {
		if endYear, err = parseYear(last[1]); err != nil {
			return 0, err
		}
	}

	score := endYear - startYear
	if startYear <= longRunningYear {
		score += longRunningBonus
	}
	if endYear >= activeYear {
		score += activeBonus
	}
	return score, nil
}

func parseYear(s string) (int, error) {
	if len(s) < 4 {
		return 0, fmt.Errorf("invalid date %q", s)
	}
	return strconv.Atoi(s[:4])
}
