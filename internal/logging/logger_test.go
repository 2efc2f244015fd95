package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/i474232898/weather-quilt/internal/config"
)

func TestNewLogger_ProdWritesJSON(t *testing.T) {
	cfg := config.Default()
	cfg.Level = slog.LevelInfo

	var buf bytes.Buffer
	newLogger(&buf, cfg, "weather-quilt").Debug("hidden")
	newLogger(&buf, cfg, "weather-quilt").Info("sync completed", "city", "Anchorage, AK")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line above the level, got %q", buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("expected JSON: %v", err)
	}
	if rec["app"] != "weather-quilt" || rec["env"] != "prod" || rec["city"] != "Anchorage, AK" {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestNewLogger_DevIsHumanReadable(t *testing.T) {
	cfg := config.Default()
	cfg.AppEnv = "dev"
	cfg.Level = slog.LevelDebug

	var buf bytes.Buffer
	newLogger(&buf, cfg, "weather-quilt").Debug("finding station", "city", "Juneau, AK")

	out := buf.String()
	if !strings.Contains(out, "finding station") || strings.HasPrefix(out, "{") {
		t.Fatalf("unexpected dev output %q", out)
	}
}
