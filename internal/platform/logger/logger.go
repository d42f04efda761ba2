package logger

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/internal/platform/config"
)

// New returns a configured zerolog.Logger, console-formatted for a
// single-station deployment with no central log aggregator to ship
// JSON to.
func New(cfg *config.Config) zerolog.Logger {
	out := zerolog.ConsoleWriter{Out: os.Stderr}
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	if cfg.IsDevelopment() && cfg.LogLevel == "" {
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)
	return zerolog.New(out).With().Timestamp().Str("station_id", cfg.StationID).Logger()
}
