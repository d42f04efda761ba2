package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all station configuration values.
type Config struct {
	// Station identity
	StationID       string
	StationName     string
	StationRegion   string
	StationTimezone string
	DataDir         string
	Env             string

	// Server
	Addr            string
	GracefulTimeout time.Duration

	// Redis (optional — pairing rate-limit coordination only)
	RedisURL string

	// AdminToken gates the admin-only pairing-code generation endpoint.
	// A station with no token configured refuses to generate codes over
	// HTTP at all — codes must then be seeded by an operator directly
	// against the bbolt file.
	AdminToken string

	// Session / pairing
	SessionTTL          time.Duration
	PairingCodeTTL      time.Duration
	PairingRateLimitN   int
	PairingRateLimitWin time.Duration

	// OTA
	OTAChannel          string
	OTAUpdateServerURL  string
	OTAVersionsDir      string
	OTATickCronSpec     string
	OTAQuietHoursCron   string
	OTAPinnedPublicKey  string // hex-encoded ed25519 public key
	OTAMaxLoadThreshold float64

	// Body limits
	MaxBodyBytes int64

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables and an optional .env file.
func Load() *Config {
	_ = godotenv.Load()

	gracefulSec := getEnvInt("STATION_GRACEFUL_TIMEOUT_SEC", 15)
	sessionTTLHours := getEnvInt("SESSION_TTL_HOURS", 12)
	pairingTTLMin := getEnvInt("PAIRING_CODE_TTL_MIN", 5)
	rateLimitWinSec := getEnvInt("PAIRING_RATE_LIMIT_WINDOW_SEC", 60)

	cfg := &Config{
		StationID:       getEnv("STATION_ID", "station-unknown"),
		StationName:     getEnv("STATION_NAME", "Unnamed Station"),
		StationRegion:   getEnv("STATION_REGION", "TW"),
		StationTimezone: getEnv("STATION_TIMEZONE", "UTC"),
		DataDir:         getEnv("DATA_DIR", "./data"),
		Env:             getEnv("ENV", "development"),
		Addr:            getEnv("STATION_ADDR", ":8080"),
		GracefulTimeout: time.Duration(gracefulSec) * time.Second,
		RedisURL:        getEnv("REDIS_URL", ""),
		AdminToken:      getEnv("STATION_ADMIN_TOKEN", ""),

		SessionTTL:          time.Duration(sessionTTLHours) * time.Hour,
		PairingCodeTTL:      time.Duration(pairingTTLMin) * time.Minute,
		PairingRateLimitN:   getEnvInt("PAIRING_RATE_LIMIT_ATTEMPTS", 5),
		PairingRateLimitWin: time.Duration(rateLimitWinSec) * time.Second,

		OTAChannel:          getEnv("OTA_CHANNEL", "stable"),
		OTAUpdateServerURL:  getEnv("OTA_UPDATE_SERVER_URL", ""),
		OTAVersionsDir:      getEnv("OTA_VERSIONS_DIR", "./data/versions"),
		OTATickCronSpec:     getEnv("OTA_TICK_CRON", "0 3 * * *"),
		OTAQuietHoursCron:   getEnv("OTA_QUIET_HOURS_CRON", ""),
		OTAPinnedPublicKey:  getEnv("OTA_PINNED_PUBLIC_KEY", ""),
		OTAMaxLoadThreshold: getEnvFloat("OTA_MAX_LOAD_THRESHOLD", 4.0),

		MaxBodyBytes: int64(getEnvInt("STATION_MAX_BODY_BYTES", 2*1024*1024)),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}
	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
