package config_test

import (
	"os"
	"testing"

	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/internal/platform/config"
)

func TestLoadConfigFromEnv(t *testing.T) {
	os.Setenv("STATION_ID", "station-west-7")
	os.Setenv("DATA_DIR", "/var/lib/mirs")
	os.Setenv("ENV", "test")
	os.Setenv("SESSION_TTL_HOURS", "6")
	defer func() {
		os.Unsetenv("STATION_ID")
		os.Unsetenv("DATA_DIR")
		os.Unsetenv("ENV")
		os.Unsetenv("SESSION_TTL_HOURS")
	}()

	cfg := config.Load()
	if cfg.StationID != "station-west-7" {
		t.Fatalf("expected STATION_ID to be loaded, got %s", cfg.StationID)
	}
	if cfg.DataDir != "/var/lib/mirs" {
		t.Fatalf("expected DATA_DIR to be loaded, got %s", cfg.DataDir)
	}
	if cfg.Env != "test" {
		t.Fatalf("expected ENV=test, got %s", cfg.Env)
	}
	if cfg.SessionTTL.Hours() != 6 {
		t.Fatalf("expected SessionTTL=6h, got %s", cfg.SessionTTL)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	os.Unsetenv("STATION_ID")
	os.Unsetenv("OTA_CHANNEL")

	cfg := config.Load()
	if cfg.StationID != "station-unknown" {
		t.Fatalf("expected default STATION_ID, got %s", cfg.StationID)
	}
	if cfg.OTAChannel != "stable" {
		t.Fatalf("expected default OTA channel 'stable', got %s", cfg.OTAChannel)
	}
	if cfg.IsDevelopment() != (cfg.Env == "development") {
		t.Fatal("IsDevelopment inconsistent with Env field")
	}
}
