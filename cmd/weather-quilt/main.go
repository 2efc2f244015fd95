package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	requestlog "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/i474232898/weather-quilt/internal/api/http"
	"github.com/i474232898/weather-quilt/internal/config"
	"github.com/i474232898/weather-quilt/internal/logging"
	"github.com/i474232898/weather-quilt/internal/metrics"
	"github.com/i474232898/weather-quilt/internal/notify"
	"github.com/i474232898/weather-quilt/internal/registry"
	"github.com/i474232898/weather-quilt/internal/scheduler"
	"github.com/i474232898/weather-quilt/internal/store"
	"github.com/i474232898/weather-quilt/internal/weather"
	"github.com/i474232898/weather-quilt/internal/weather/providers"
)

const appName = "weather-quilt"

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logging.New(cfg, appName)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Observation store, also backing the registry overlay.
	backend, closeStore, err := store.Open(ctx, cfg.StoreDriver, store.SQLiteConfig{
		Path:         cfg.SQLitePath,
		MaxOpenConns: cfg.SQLiteMaxOpenConns,
	})
	if err != nil {
		logger.Error("failed to open store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("error closing store", "error", err)
		}
	}()

	reg, err := registry.Load(cfg.RegistryPath)
	if err != nil {
		logger.Error("failed to load city registry", "error", err)
		os.Exit(1)
	}
	reg.WithLogger(logger)
	if err := reg.Attach(ctx, backend); err != nil {
		logger.Error("failed to load persisted cities", "error", err)
		os.Exit(1)
	}

	m := metrics.NewManager()

	// Upstream client with resilience (backoff + circuit breaker).
	acis := providers.NewACISClient(providers.ACISConfig{
		BaseURL:     cfg.ACISBaseURL,
		DataTimeout: cfg.DataTimeout,
		MetaTimeout: cfg.MetaTimeout,
		MaxRetries:  cfg.UpstreamMaxRetries,
		Observer:    m,
	})

	opts := weather.Options{
		EpochStart:     cfg.Epoch(),
		DefaultCity:    cfg.DefaultCity,
		DefaultStation: cfg.DefaultStation,
		Recorder:       m,
		Logger:         logger,
	}
	if cfg.SnapshotPath != "" {
		opts.Snapshot = store.NewFileSnapshot(cfg.SnapshotPath, cfg.DefaultCity, cfg.DefaultStation)
	}
	// Geocoding requires a Google API key.
	if cfg.GeocoderAPIKey != "" {
		opts.Geocoder = providers.NewGoogleGeocoder(cfg.GeocoderAPIKey)
	}
	if cfg.MQTTBroker != "" {
		notifier := notify.NewMQTTNotifier(notify.Config{
			Broker:   cfg.MQTTBroker,
			Topic:    cfg.MQTTTopic,
			ClientID: cfg.MQTTClientID,
		}, logger)
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := notifier.Connect(connectCtx); err != nil {
			logger.Warn("mqtt not connected yet; retrying in background", "error", err)
		}
		cancel()
		defer notifier.Close()
		opts.Notifier = notifier
	}

	// Core service orchestrating upstream, registry and store.
	service := weather.NewService(backend, acis, reg, opts)

	// Scheduler that periodically syncs the configured cities forward.
	if cfg.SchedulerEnabled {
		sched := scheduler.New(service, scheduler.Options{
			Cities:     cfg.Cities(),
			Interval:   cfg.FetchInterval,
			RunOnStart: cfg.SyncOnStartup,
			Logger:     logger,
		})
		if err := sched.Start(); err != nil {
			logger.Error("failed to start scheduler", "error", err)
			os.Exit(1)
		}
		defer sched.Stop()
	}

	app := fiber.New(fiber.Config{
		AppName:               appName,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		// Full resyncs wait on the upstream data timeout.
		WriteTimeout: cfg.DataTimeout + 30*time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(requestlog.New())
	app.Use(recover.New())
	if origins := cfg.Origins(); len(origins) > 0 {
		app.Use(cors.New(cors.Config{
			AllowOrigins:     strings.Join(origins, ","),
			AllowCredentials: true,
		}))
	}
	app.Use(m.Middleware())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": appName,
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))

	// API routes.
	httpapi.RegisterRoutes(app, service)

	if info, err := os.Stat(cfg.StaticDir); err == nil && info.IsDir() {
		app.Static("/", cfg.StaticDir, fiber.Static{Index: "index.html"})
	}

	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := app.Listen(cfg.HTTPAddr); err != nil {
			logger.Error("fiber server stopped", "error", err)
			stop()
		}
	}()

	// Wait for termination signal
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("error during shutdown", "error", err)
	}
}
