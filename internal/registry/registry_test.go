package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/i474232898/weather-quilt/internal/weather"
)

type fakePersister struct {
	saved   []weather.City
	loaded  []weather.City
	saveErr error
}

func (p *fakePersister) SaveCity(_ context.Context, c weather.City) error {
	if p.saveErr != nil {
		return p.saveErr
	}
	p.saved = append(p.saved, c)
	return nil
}

func (p *fakePersister) LoadCities(context.Context) ([]weather.City, error) {
	return p.loaded, nil
}

func TestDefault(t *testing.T) {
	r := Default()

	all := r.All()
	if len(all) != 51 {
		t.Fatalf("expected 51 cities, got %d", len(all))
	}
	if all[0].Name != weather.DefaultCity || all[0].StationID != "ANCthr 9" {
		t.Fatalf("expected default city first, got %+v", all[0])
	}

	atl, ok := r.Lookup("Atlanta, GA")
	if !ok || atl.StationID != "" || atl.Lat < 33 || atl.Lat > 34 {
		t.Fatalf("unexpected Atlanta entry %+v", atl)
	}
	if _, ok := r.Lookup("Gotham, NJ"); ok {
		t.Fatalf("unexpected city")
	}
}

func TestParse_Errors(t *testing.T) {
	cases := map[string]string{
		"not yaml":  "cities: [",
		"no name":   "cities:\n  - lat: 1\n    lon: 2\n",
		"duplicate": "cities:\n  - name: A\n  - name: A\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cities.yaml")
	body := "cities:\n  - name: \"Nome, AK\"\n    lat: 64.5\n    lon: -165.4\n    station_id: \"OMEthr\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if names := r.Names(); len(names) != 1 || names[0] != "Nome, AK" {
		t.Fatalf("unexpected names %v", names)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestSetStation_Persists(t *testing.T) {
	ctx := context.Background()
	r := Default()
	p := &fakePersister{}
	if err := r.Attach(ctx, p); err != nil {
		t.Fatal(err)
	}

	if err := r.SetStation(ctx, "Boise, ID", "BOIthr"); err != nil {
		t.Fatalf("set station: %v", err)
	}
	if c, _ := r.Lookup("Boise, ID"); c.StationID != "BOIthr" {
		t.Fatalf("station not recorded: %+v", c)
	}
	if len(p.saved) != 1 || p.saved[0].Name != "Boise, ID" || p.saved[0].Lat == 0 {
		t.Fatalf("expected full city to be persisted, got %+v", p.saved)
	}

	if err := r.SetStation(ctx, "Gotham, NJ", "X"); !errors.Is(err, weather.ErrUnknownCity) {
		t.Fatalf("expected ErrUnknownCity, got %v", err)
	}
}

func TestSetStation_PersistFailureKeepsChange(t *testing.T) {
	ctx := context.Background()
	r := Default()
	if err := r.Attach(ctx, &fakePersister{saveErr: errors.New("database is locked")}); err != nil {
		t.Fatal(err)
	}

	if err := r.SetStation(ctx, "Boise, ID", "BOIthr"); err == nil {
		t.Fatalf("expected persistence error")
	}
	if c, _ := r.Lookup("Boise, ID"); c.StationID != "BOIthr" {
		t.Fatalf("in-memory change must survive a persistence failure: %+v", c)
	}
}

func TestAttach_OverlaysPersistedCities(t *testing.T) {
	r := Default()
	p := &fakePersister{loaded: []weather.City{
		{Name: "Boise, ID", Lat: 43.6, Lon: -116.2, StationID: "BOIthr"},
		{Name: "Juneau, AK", Lat: 58.3, Lon: -134.4},
		{Name: "Denver Tech Center, CO", Lat: 39.6, Lon: -104.9, StationID: "DTC"},
	}}
	if err := r.Attach(context.Background(), p); err != nil {
		t.Fatal(err)
	}

	if c, _ := r.Lookup("Boise, ID"); c.StationID != "BOIthr" {
		t.Fatalf("expected persisted station, got %+v", c)
	}
	if c, _ := r.Lookup(weather.DefaultCity); c.StationID != "ANCthr 9" {
		t.Fatalf("built-in station must be kept, got %+v", c)
	}
	all := r.All()
	if last := all[len(all)-1]; last.Name != "Denver Tech Center, CO" {
		t.Fatalf("expected persisted extra city appended, got %+v", last)
	}
}

func TestAdd(t *testing.T) {
	ctx := context.Background()
	r := Default()
	p := &fakePersister{}
	if err := r.Attach(ctx, p); err != nil {
		t.Fatal(err)
	}

	if err := r.Add(ctx, weather.City{Name: "Fairbanks, AK", Lat: 64.8, Lon: -147.7}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := r.Add(ctx, weather.City{Name: "Fairbanks, AK", Lat: 0, Lon: 0}); err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if c, _ := r.Lookup("Fairbanks, AK"); c.Lat != 64.8 {
		t.Fatalf("re-adding must not overwrite: %+v", c)
	}
	if len(p.saved) != 1 {
		t.Fatalf("expected one persisted city, got %d", len(p.saved))
	}
	if err := r.Add(ctx, weather.City{}); err == nil {
		t.Fatalf("expected error for empty name")
	}
}
