package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"

	"github.com/i474232898/weather-quilt/internal/config"
)

// New builds the process logger: coloured tint output in dev, JSON otherwise.
func New(cfg *config.AppConfig, appName string) *slog.Logger {
	return newLogger(os.Stdout, cfg, appName)
}

func newLogger(w io.Writer, cfg *config.AppConfig, appName string) *slog.Logger {
	if cfg.IsDev() {
		h := tint.NewHandler(w, &tint.Options{
			Level:      cfg.Level,
			AddSource:  true,
			TimeFormat: time.Kitchen,
		})
		return slog.New(h).With("app", appName)
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.Level,
	})
	return slog.New(h).With(
		"app", appName,
		"env", cfg.AppEnv,
	)
}
