// Command weather-seed loads a cached upstream snapshot into the store without calling upstream.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"

	"github.com/i474232898/weather-quilt/internal/config"
	"github.com/i474232898/weather-quilt/internal/logging"
	"github.com/i474232898/weather-quilt/internal/registry"
	"github.com/i474232898/weather-quilt/internal/store"
	"github.com/i474232898/weather-quilt/internal/weather"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := logging.New(cfg, "weather-seed")
	slog.SetDefault(logger)

	path := flag.String("file", cfg.SnapshotPath, "snapshot file to import")
	city := flag.String("city", cfg.DefaultCity, "city the snapshot belongs to")
	station := flag.String("station", cfg.DefaultStation, "station id recorded on imported rows")
	flag.Parse()

	if err := run(context.Background(), cfg, logger, *path, *city, *station); err != nil {
		logger.Error("seed failed", "file", *path, "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger, path, city, station string) error {
	payload, err := store.ReadSnapshot(path)
	if err != nil {
		return err
	}

	backend, closeStore, err := store.Open(ctx, cfg.StoreDriver, store.SQLiteConfig{
		Path:         cfg.SQLitePath,
		MaxOpenConns: cfg.SQLiteMaxOpenConns,
	})
	if err != nil {
		return err
	}
	defer closeStore()

	reg, err := registry.Load(cfg.RegistryPath)
	if err != nil {
		return err
	}

	// No upstream: the import only reconciles what the file holds.
	svc := weather.NewService(backend, nil, reg.WithLogger(logger), weather.Options{
		DefaultCity: cfg.DefaultCity,
		Logger:      logger,
	})
	res, err := svc.ImportSnapshot(ctx, city, station, payload)
	if err != nil {
		return err
	}
	logger.Info("snapshot imported",
		"city", res.City,
		"added", res.Added,
		"updated", res.Updated,
		"skipped", res.Skipped,
	)
	return nil
}
