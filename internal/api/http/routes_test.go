package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/i474232898/weather-quilt/internal/registry"
	"github.com/i474232898/weather-quilt/internal/store"
	"github.com/i474232898/weather-quilt/internal/weather"
)

type stubUpstream struct {
	days     []weather.RawDayRecord
	err      error
	stations []weather.StationCandidate
	lastQ    weather.StationQuery
}

func (u *stubUpstream) FetchDaily(_ context.Context, _ string, _, _ time.Time) (weather.DailyPayload, error) {
	if u.err != nil {
		return weather.DailyPayload{}, u.err
	}
	return weather.DailyPayload{Data: u.days}, nil
}

func (u *stubUpstream) FindStations(_ context.Context, q weather.StationQuery) ([]weather.StationCandidate, error) {
	u.lastQ = q
	return u.stations, u.err
}

const testRegistry = `
cities:
  - name: "Anchorage, AK"
    lat: 61.2181
    lon: -149.9003
    station_id: "ANCthr 9"
  - name: "Juneau, AK"
    lat: 58.3019
    lon: -134.4197
    station_id: "JNU"
`

func rawDay(day string, maxT, minT int, precip string) weather.RawDayRecord {
	q := func(v string) json.RawMessage { return json.RawMessage(fmt.Sprintf("[%q]", v)) }
	return weather.RawDayRecord{
		json.RawMessage(fmt.Sprintf("%q", day)),
		q(fmt.Sprint(maxT)), q(fmt.Sprint(minT)), q("0"), q("0"), q("0"), q("0"), q(precip), q("0"), q("0"),
	}
}

func newTestApp(t *testing.T, up *stubUpstream) (*fiber.App, *store.MemoryStore) {
	t.Helper()

	reg, err := registry.Parse([]byte(testRegistry))
	if err != nil {
		t.Fatalf("parse registry: %v", err)
	}
	mem := store.NewMemoryStore()
	svc := weather.NewService(mem, up, reg, weather.Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:    func() time.Time { return time.Date(2023, 6, 20, 12, 0, 0, 0, time.UTC) },
	})

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": true, "message": err.Error()})
		},
	})
	RegisterRoutes(app, svc)
	return app, mem
}

func seed(t *testing.T, mem *store.MemoryStore, city string, day time.Time, maxT int) {
	t.Helper()
	err := mem.InsertObservation(context.Background(), weather.Observation{
		City:          city,
		StationID:     "ANCthr 9",
		Date:          day,
		MaxTemp:       maxT,
		MinTemp:       maxT - 20,
		Precipitation: decimal.RequireFromString("0.10"),
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func do(t *testing.T, app *fiber.App, method, target string) (int, map[string]any) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(method, target, nil), -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	var out map[string]any
	_ = json.Unmarshal(body, &out)
	return resp.StatusCode, out
}

func doList(t *testing.T, app *fiber.App, target string) (int, []map[string]any) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, target, nil), -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	var out []map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestHealthcheck(t *testing.T) {
	app, _ := newTestApp(t, &stubUpstream{})

	code, body := do(t, app, http.MethodGet, "/healthcheck")
	if code != http.StatusOK || body["message"] != "Healthy!" {
		t.Fatalf("unexpected response %d %v", code, body)
	}
}

func TestDayEndpoint(t *testing.T) {
	app, mem := newTestApp(t, &stubUpstream{})
	seed(t, mem, "Anchorage, AK", time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC), 61)

	code, body := do(t, app, http.MethodGet, "/weather/day/2023-06-01")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%v)", code, body)
	}
	if body["date"] != "2023-06-01" || body["maxTemp"] != float64(61) || body["precipitation"] != 0.1 {
		t.Fatalf("unexpected observation %v", body)
	}

	code, body = do(t, app, http.MethodGet, "/weather/day/2023-06-02")
	if code != http.StatusNotFound || body["error"] != true {
		t.Fatalf("expected 404 error body, got %d %v", code, body)
	}

	code, _ = do(t, app, http.MethodGet, "/weather/day/06-01-2023")
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed day, got %d", code)
	}
}

func TestMonthEndpoint(t *testing.T) {
	app, mem := newTestApp(t, &stubUpstream{})
	seed(t, mem, "Juneau, AK", time.Date(2023, 2, 28, 0, 0, 0, 0, time.UTC), 30)
	seed(t, mem, "Juneau, AK", time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC), 31)

	code, list := doList(t, app, "/weather/month/2023/2?city=Juneau,%20AK")
	if code != http.StatusOK || len(list) != 1 || list[0]["date"] != "2023-02-28" {
		t.Fatalf("unexpected month response %d %v", code, list)
	}

	for _, target := range []string{"/weather/month/2023/13", "/weather/month/2023/0", "/weather/month/2023/feb"} {
		if code, _ := do(t, app, http.MethodGet, target); code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, code)
		}
	}

	code, body := do(t, app, http.MethodGet, "/weather/month/2023/4?city=Juneau,%20AK")
	if code != http.StatusNotFound || body["message"] != "No data found for this month" {
		t.Fatalf("expected 404 for empty month, got %d %v", code, body)
	}
}

func TestYearEndpoint(t *testing.T) {
	app, mem := newTestApp(t, &stubUpstream{})
	seed(t, mem, "Anchorage, AK", time.Date(2022, 12, 31, 0, 0, 0, 0, time.UTC), 10)
	seed(t, mem, "Anchorage, AK", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), 12)

	code, list := doList(t, app, "/weather/year/2023")
	if code != http.StatusOK || len(list) != 1 || list[0]["date"] != "2023-01-01" {
		t.Fatalf("unexpected year response %d %v", code, list)
	}

	if code, _ := do(t, app, http.MethodGet, "/weather/year/1999"); code != http.StatusNotFound {
		t.Fatalf("expected 404 for empty year, got %d", code)
	}
	if code, _ := do(t, app, http.MethodGet, "/weather/year/abc"); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad year, got %d", code)
	}
}

func TestRangeEndpoint(t *testing.T) {
	app, mem := newTestApp(t, &stubUpstream{})
	seed(t, mem, "Anchorage, AK", time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC), 60)
	seed(t, mem, "Anchorage, AK", time.Date(2023, 6, 2, 0, 0, 0, 0, time.UTC), 62)

	code, body := do(t, app, http.MethodGet, "/weather/range?from=2023-06-01&to=2023-06-10")
	if code != http.StatusOK || body["city"] != "Anchorage, AK" {
		t.Fatalf("unexpected range response %d %v", code, body)
	}
	if obs, _ := body["observations"].([]any); len(obs) != 2 {
		t.Fatalf("expected 2 observations, got %v", body["observations"])
	}

	code, body = do(t, app, http.MethodGet, "/weather/range?from=2024-01-01&to=2024-01-02")
	if obs, ok := body["observations"].([]any); code != http.StatusOK || !ok || len(obs) != 0 {
		t.Fatalf("expected empty list for an empty range, got %d %v", code, body)
	}

	for _, target := range []string{
		"/weather/range?from=2023-06-01",
		"/weather/range?from=2023-06-10&to=2023-06-01",
		"/weather/range?from=yesterday&to=2023-06-01",
	} {
		if code, _ := do(t, app, http.MethodGet, target); code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, code)
		}
	}
}

func TestCitiesEndpoint(t *testing.T) {
	app, mem := newTestApp(t, &stubUpstream{})
	seed(t, mem, "Juneau, AK", time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC), 50)
	seed(t, mem, "Anchorage, AK", time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC), 60)

	code, body := do(t, app, http.MethodGet, "/weather/cities")
	cities, _ := body["cities"].([]any)
	if code != http.StatusOK || len(cities) != 2 || cities[0] != "Anchorage, AK" {
		t.Fatalf("unexpected cities response %d %v", code, body)
	}
}

func TestFetchLatest(t *testing.T) {
	up := &stubUpstream{days: []weather.RawDayRecord{
		rawDay("2023-06-19", 64, 48, "0.05"),
		rawDay("2023-06-20", 66, 50, "T"),
	}}
	app, mem := newTestApp(t, up)
	seed(t, mem, "Anchorage, AK", time.Date(2023, 6, 18, 0, 0, 0, 0, time.UTC), 60)

	code, body := do(t, app, http.MethodPost, "/weather/fetch-latest")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d %v", code, body)
	}
	if body["records_added"] != float64(2) || body["start_date"] != "2023-06-19" || body["end_date"] != "2023-06-20" {
		t.Fatalf("unexpected sync result %v", body)
	}

	code, body = do(t, app, http.MethodPost, "/weather/fetch-latest")
	if code != http.StatusOK || body["message"] != "Weather data already up to date" {
		t.Fatalf("expected up-to-date result, got %d %v", code, body)
	}
}

func TestFetchAll_UpstreamFailure(t *testing.T) {
	app, _ := newTestApp(t, &stubUpstream{err: errors.New("connection refused")})

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		code, body := do(t, app, method, "/weather/fetch-all")
		if code != http.StatusInternalServerError || body["error"] != true {
			t.Fatalf("%s: expected 500 error body, got %d %v", method, code, body)
		}
	}
}

func TestFetchCity(t *testing.T) {
	up := &stubUpstream{days: []weather.RawDayRecord{rawDay("2023-01-01", 20, 5, "0.00")}}
	app, _ := newTestApp(t, up)

	code, body := do(t, app, http.MethodPost, "/weather/fetch-city?city=Juneau,%20AK&start_year=2023")
	if code != http.StatusOK || body["station_id"] != "JNU" || body["records_added"] != float64(1) {
		t.Fatalf("unexpected fetch-city response %d %v", code, body)
	}

	if code, _ := do(t, app, http.MethodPost, "/weather/fetch-city?city=Nowhere,%20ZZ"); code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown city, got %d", code)
	}
	if code, _ := do(t, app, http.MethodPost, "/weather/fetch-city"); code != http.StatusBadRequest {
		t.Fatalf("expected 400 without city, got %d", code)
	}
	if code, _ := do(t, app, http.MethodPost, "/weather/fetch-city?city=Juneau,%20AK&start_year=soon"); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad start_year, got %d", code)
	}
}

func TestFetchAllCities(t *testing.T) {
	up := &stubUpstream{days: []weather.RawDayRecord{rawDay("2023-01-01", 20, 5, "0.00")}}
	app, _ := newTestApp(t, up)

	code, body := do(t, app, http.MethodPost, "/weather/fetch-all-cities?start_year=2023")
	if code != http.StatusOK || len(body) != 2 {
		t.Fatalf("unexpected response %d %v", code, body)
	}
	juneau, _ := body["Juneau, AK"].(map[string]any)
	if juneau["status"] != "success" || juneau["station_id"] != "JNU" {
		t.Fatalf("unexpected Juneau outcome %v", juneau)
	}
}

func TestStationsEndpoint(t *testing.T) {
	up := &stubUpstream{stations: []weather.StationCandidate{
		{Name: "ANCHORAGE INTL AP", SIDs: []string{"26451 1", "ANC 3"}, ValidDateRange: [][]string{{"1952-01-01", "2023-06-19"}}},
	}}
	app, _ := newTestApp(t, up)

	code, body := do(t, app, http.MethodGet, "/weather/stations?state=ak")
	if code != http.StatusOK || body["count"] != float64(1) {
		t.Fatalf("unexpected stations response %d %v", code, body)
	}
	if up.lastQ.State != "AK" {
		t.Fatalf("expected upper-cased state, got %q", up.lastQ.State)
	}

	code, _ = do(t, app, http.MethodGet, "/weather/stations?bbox=-150,61,-149,62")
	if code != http.StatusOK || up.lastQ.BBox != "-150,61,-149,62" {
		t.Fatalf("expected bbox query to pass through, got %d %+v", code, up.lastQ)
	}

	for _, target := range []string{"/weather/stations?state=Alaska", "/weather/stations?bbox=1,2,3"} {
		if code, _ := do(t, app, http.MethodGet, target); code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, code)
		}
	}
}

func TestFindStationsEndpoint(t *testing.T) {
	app, _ := newTestApp(t, &stubUpstream{})

	code, body := do(t, app, http.MethodGet, "/weather/find-stations")
	if code != http.StatusOK || len(body) != 2 {
		t.Fatalf("unexpected find-stations response %d %v", code, body)
	}
	anc, _ := body["Anchorage, AK"].(map[string]any)
	if anc["station_id"] != "ANCthr 9" {
		t.Fatalf("expected stored station for Anchorage, got %v", anc)
	}
}
