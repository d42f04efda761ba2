package main

import (
	"context"
	"encoding/hex"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/internal/bloodbank"
	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/internal/clock"
	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/internal/envelope"
	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/internal/equipment"
	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/internal/eventstore"
	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/internal/idgen"
	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/internal/ota"
	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/internal/platform/adminhttp"
	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/internal/platform/cache"
	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/internal/platform/config"
	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/internal/platform/logger"
	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/internal/restore"
	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/internal/session"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)

	log.Info().Str("env", cfg.Env).Str("station_id", cfg.StationID).Msg("mirs station starting")

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		log.Fatal().Err(err).Msg("create data dir")
	}
	securityDir := filepath.Join(cfg.DataDir, "security")

	clk := clock.New(cfg.StationID)
	store, err := eventstore.Open(filepath.Join(cfg.DataDir, "station.db"), clk, cfg.StationID)
	if err != nil {
		log.Fatal().Err(err).Msg("open event store")
	}
	defer store.Close()

	serverUUID, err := store.EnsureServerUUID(idgen.NewServerUUID)
	if err != nil {
		log.Fatal().Err(err).Msg("ensure server uuid")
	}
	timeGate := idgen.NewTimeValidityGate(store, serverUUID)
	store.SetTimeValidityGate(timeGate)

	if _, err := store.EnsureStationIdentity(eventstore.StationIdentity{
		Name:     cfg.StationName,
		Region:   cfg.StationRegion,
		Timezone: cfg.StationTimezone,
	}); err != nil {
		log.Fatal().Err(err).Msg("ensure station identity")
	}

	keys := envelope.NewKeyManager(securityDir)
	if !keys.HasKeys() {
		log.Info().Msg("generating station keypair (first boot)")
		if err := keys.GenerateKeys(); err != nil {
			log.Fatal().Err(err).Msg("generate station keys")
		}
	} else if err := keys.Load(); err != nil {
		log.Fatal().Err(err).Msg("load station keys")
	}
	trust := envelope.NewTrustedKeyRegistry(securityDir)
	replay, err := envelope.NewReplayProtector(store.DB())
	if err != nil {
		log.Fatal().Err(err).Msg("init replay protector")
	}
	// envelopeSvc, equipmentSvc and restorePipeline are the station's
	// sync, inventory, and restore surfaces. Their registration here
	// (projector binding, bucket creation) must happen before any event
	// append; callers reach them through the packages directly — the
	// admin HTTP surface deliberately does not re-expose the clinical
	// REST API (out of scope per this core's charter).
	_, err = envelope.NewService(cfg.StationID, keys, trust, replay)
	if err != nil {
		log.Fatal().Err(err).Msg("init envelope service")
	}
	_, err = equipment.NewService(store)
	if err != nil {
		log.Fatal().Err(err).Msg("init equipment service")
	}
	bloodSvc, err := bloodbank.NewService(store)
	if err != nil {
		log.Fatal().Err(err).Msg("init bloodbank service")
	}
	restore.NewPipeline(store)

	// Redis is optional: a station that runs several API workers against
	// one event store uses it to coordinate pairing rate limits, but
	// pairing and every other subsystem works fine without it.
	var sharedCache *cache.Client
	if cfg.RedisURL != "" {
		sharedCache, err = cache.New(cfg.RedisURL)
		if err != nil {
			log.Warn().Err(err).Msg("redis init failed — continuing without Redis")
			sharedCache = nil
		} else if err := sharedCache.Ping(); err != nil {
			log.Warn().Err(err).Msg("redis ping failed — continuing without Redis")
			sharedCache = nil
		} else {
			log.Info().Msg("redis connected")
		}
	}

	sessions, err := session.NewService(store.DB(), securityDir, cfg.StationID, log, sharedCache)
	if err != nil {
		log.Fatal().Err(err).Msg("init session service")
	}

	metrics := adminhttp.NewMetrics(log)

	healthFunc := stationHealthFunc(store, keys, trust, clk)

	otaCfg := ota.Config{
		Channel:          cfg.OTAChannel,
		UpdateServerURL:  cfg.OTAUpdateServerURL,
		VersionsDir:      cfg.OTAVersionsDir,
		PinnedPublicKey:  decodeHexOrNil(cfg.OTAPinnedPublicKey),
		TickCronSpec:     cfg.OTATickCronSpec,
		QuietHoursCron:   cfg.OTAQuietHoursCron,
		HealthCheckGrace: 30 * time.Second,
		MaxLoadThreshold: cfg.OTAMaxLoadThreshold,
	}
	var scheduler *ota.Scheduler
	if cfg.OTAUpdateServerURL != "" {
		scheduler, err = ota.NewScheduler(otaCfg, log, store, timeGate, func() ota.HealthCheck {
			ok, _ := healthFunc()
			return ota.HealthCheck{DBOk: ok, EventStoreWritable: ok, TrustedKeysReadable: ok, HLCAdvancing: ok}
		})
		if err != nil {
			log.Error().Err(err).Msg("ota scheduler init failed — updates disabled")
			scheduler = nil
		} else {
			scheduler.OnTick(func(result ota.TickResult) {
				metrics.TrackOTATick(string(result.Outcome))
				log.Info().Str("outcome", string(result.Outcome)).Str("version", result.Version).Msg("ota tick")
			})
		}
	} else {
		log.Info().Msg("OTA_UPDATE_SERVER_URL unset — OTA scheduler disabled")
	}

	r := adminhttp.NewRouter(adminhttp.Config{
		MaxBodyBytes: cfg.MaxBodyBytes,
		AdminToken:   cfg.AdminToken,
	}, log, metrics, sessions, func() (bool, map[string]bool) { return healthFunc() })

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if scheduler != nil {
		scheduler.Start()
	}

	sweepDone := make(chan struct{})
	go runBackgroundSweepers(sessions, replay, bloodSvc, sweepDone)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("station admin surface listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	if scheduler != nil {
		scheduler.Stop()
	}
	close(sweepDone)
	if sharedCache != nil {
		_ = sharedCache.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("station stopped gracefully")
	}
}

// runBackgroundSweepers periodically clears stale pairing rate-limit
// windows, processed-envelope replay records, and expires blood units
// past their expires_at, mirroring the teacher's ticker-driven
// background tasks (health poller, model syncer) started alongside the
// HTTP server.
func runBackgroundSweepers(sessions *session.Service, replay *envelope.ReplayProtector, blood *bloodbank.Service, done chan struct{}) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			sessions.CleanupRateLimitWindows()
			_, _ = replay.CleanupOlderThan(14*24*time.Hour, time.Now().UnixMilli())
			_, _ = blood.ExpireStale(time.Now().UnixMilli(), eventstore.ActorContext{ActorID: "system-sweeper"})
		}
	}
}

func stationHealthFunc(store *eventstore.Store, keys *envelope.KeyManager, trust *envelope.TrustedKeyRegistry, clk *clock.Clock) func() (bool, map[string]bool) {
	return func() (bool, map[string]bool) {
		checks := map[string]bool{
			"event_store": true,
			"keys_loaded": keys.HasKeys(),
		}
		if _, err := trust.ListTrustedStations(); err != nil {
			checks["trust_registry"] = false
		} else {
			checks["trust_registry"] = true
		}
		before := clk.Now()
		after := clk.Now()
		checks["hlc_advancing"] = clock.Compare(after, before) > 0

		ok := true
		for _, v := range checks {
			if !v {
				ok = false
			}
		}
		return ok, checks
	}
}

func decodeHexOrNil(s string) []byte {
	if s == "" {
		return nil
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return raw
}
