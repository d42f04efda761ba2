package ota

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/internal/eventstore"
	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/internal/idgen"
)

// Scheduler drives the periodic OTA safety-gated update cycle (§4.7).
// Adapted from the teacher's ticker-driven provider health poller: a
// background goroutine runs Tick on a cron-derived cadence and reports
// transitions via a callback, but here each tick runs the full
// discover→verify→swap→health-check pipeline instead of a status probe.
type Scheduler struct {
	cfg        Config
	logger     zerolog.Logger
	guard      *CaseGuard
	timeGate   *idgen.TimeValidityGate
	loadProbe  LoadProbe
	versions   *VersionManager
	skipList   *SkipList
	discoverer *Discoverer
	pinnedKey  ed25519.PublicKey
	healthFunc func() HealthCheck

	tickSchedule  cron.Schedule
	quietSchedule cron.Schedule

	onTick func(TickResult)

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler wires a Scheduler over the given station state.
func NewScheduler(cfg Config, logger zerolog.Logger, store *eventstore.Store, timeGate *idgen.TimeValidityGate, healthFunc func() HealthCheck) (*Scheduler, error) {
	guard, err := NewCaseGuard(store)
	if err != nil {
		return nil, err
	}
	skipList, err := NewSkipList(store.DB())
	if err != nil {
		return nil, err
	}

	tickSched, err := cron.ParseStandard(cfg.TickCronSpec)
	if err != nil {
		return nil, fmt.Errorf("ota: parse tick cron spec %q: %w", cfg.TickCronSpec, err)
	}
	var quietSched cron.Schedule
	if cfg.QuietHoursCron != "" {
		quietSched, err = cron.ParseStandard(cfg.QuietHoursCron)
		if err != nil {
			return nil, fmt.Errorf("ota: parse quiet-hours cron spec %q: %w", cfg.QuietHoursCron, err)
		}
	}

	client := NewHTTPClient(DefaultClientConfig())
	return &Scheduler{
		cfg:           cfg,
		logger:        logger.With().Str("component", "ota_scheduler").Logger(),
		guard:         guard,
		timeGate:      timeGate,
		loadProbe:     DefaultLoadProbe,
		versions:      NewVersionManager(cfg.VersionsDir),
		skipList:      skipList,
		discoverer:    NewDiscoverer(client, cfg.UpdateServerURL),
		pinnedKey:     ed25519.PublicKey(cfg.PinnedPublicKey),
		healthFunc:    healthFunc,
		tickSchedule:  tickSched,
		quietSchedule: quietSched,
		done:          make(chan struct{}),
	}, nil
}

// OnTick registers a callback invoked with the result of every tick.
func (s *Scheduler) OnTick(cb func(TickResult)) {
	s.onTick = cb
}

// Start begins the background scheduling loop. Call Stop to shut down.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.logger.Info().Str("cron", s.cfg.TickCronSpec).Msg("starting OTA scheduler")
	go s.loop(ctx)
}

// Stop cancels the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
	s.logger.Info().Msg("OTA scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	next := s.tickSchedule.Next(time.Now())
	for {
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case now := <-timer.C:
			result := s.Tick(ctx, now)
			if s.onTick != nil {
				s.onTick(result)
			}
			next = s.tickSchedule.Next(now)
		}
	}
}

// quietNow reports whether now falls within the configured quiet-hours
// cron window, using minute-resolution matching: the quiet-hours spec
// is expected to fire on every minute of the suppressed window (e.g.
// "* 22-23,0-5 * * *").
func (s *Scheduler) quietNow(now time.Time) bool {
	if s.quietSchedule == nil {
		return false
	}
	due := s.quietSchedule.Next(now.Add(-time.Minute))
	return !due.After(now)
}

// Tick runs one full safety-gated update cycle.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) TickResult {
	result := TickResult{OccurredAt: now}

	if s.quietNow(now) {
		result.Outcome = OutcomeQuietHours
		return result
	}

	open, err := s.guard.HasOpenCases()
	if err != nil {
		result.Outcome = OutcomeWaitActiveCases
		result.Message = err.Error()
		return result
	}
	if open {
		result.Outcome = OutcomeWaitActiveCases
		return result
	}

	if err := s.timeGate.Check(now.UnixMilli()); err != nil {
		result.Outcome = OutcomeTimeInvalid
		result.Message = err.Error()
		return result
	}

	if s.loadProbe != nil {
		load, err := s.loadProbe()
		if err == nil && load > s.cfg.MaxLoadThreshold {
			result.Outcome = OutcomeHighLoad
			result.Message = fmt.Sprintf("load %.2f exceeds threshold %.2f", load, s.cfg.MaxLoadThreshold)
			return result
		}
	}

	release, err := s.discoverer.Latest(ctx, s.cfg.Channel)
	if err != nil {
		result.Outcome = OutcomeDownloadFailed
		result.Message = err.Error()
		return result
	}

	current, err := s.versions.CurrentVersion()
	if err != nil {
		result.Outcome = OutcomeDownloadFailed
		result.Message = err.Error()
		return result
	}
	result.Version = release.Version

	if current != "" && compareSemver(release.Version, current) <= 0 {
		result.Outcome = OutcomeUpToDate
		return result
	}
	if skipped, err := s.skipList.Contains(release.Version); err == nil && skipped {
		result.Outcome = OutcomeSkipped
		return result
	}

	pkg, err := s.discoverer.Fetch(ctx, release.DownloadURL)
	if err != nil {
		result.Outcome = OutcomeDownloadFailed
		result.Message = err.Error()
		return result
	}
	sig, err := s.discoverer.Fetch(ctx, release.SignatureURL)
	if err != nil {
		result.Outcome = OutcomeDownloadFailed
		result.Message = err.Error()
		return result
	}

	if err := verifyPackageSignature(pkg, sig, s.pinnedKey, release.SHA256); err != nil {
		_ = s.skipList.Add(release.Version, err.Error())
		result.Outcome = OutcomeVerifyFailed
		result.Message = err.Error()
		return result
	}

	if err := s.versions.Stage(release.Version, pkg); err != nil {
		result.Outcome = OutcomeDownloadFailed
		result.Message = err.Error()
		return result
	}
	if err := s.versions.Swap(release.Version); err != nil {
		result.Outcome = OutcomeDownloadFailed
		result.Message = err.Error()
		return result
	}

	if s.healthFunc != nil {
		// Restart happens externally (process supervisor); the health
		// probe here checks the in-process station state immediately
		// after the swap, standing in for the post-restart grace window.
		hc := s.healthFunc()
		if !hc.OK() {
			if _, rerr := s.versions.RollbackToPrevious(); rerr != nil {
				s.logger.Error().Err(rerr).Str("version", release.Version).Msg("rollback after failed health check also failed")
			}
			_ = s.skipList.Add(release.Version, "post-swap health check failed")
			result.Outcome = OutcomeHealthCheckFailed
			return result
		}
	}

	result.Outcome = OutcomeSwapped
	return result
}

// compareSemver compares two "MAJOR.MINOR.PATCH" version strings,
// returning <0, 0, >0 as a < b, a == b, a > b. No pre-release/build
// metadata ordering — releases in this system are simple numeric triples.
func compareSemver(a, b string) int {
	pa, pb := splitSemver(a), splitSemver(b)
	for i := 0; i < 3; i++ {
		if pa[i] != pb[i] {
			if pa[i] < pb[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func splitSemver(v string) [3]int {
	v = strings.TrimPrefix(v, "v")
	parts := strings.SplitN(v, ".", 3)
	var out [3]int
	for i := 0; i < 3 && i < len(parts); i++ {
		n, _ := strconv.Atoi(parts[i])
		out[i] = n
	}
	return out
}
