package session

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/internal/platform/cache"
	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/pkg/errkind"
)

// maxPairingCodeAttempts bounds the generate-and-check-uniqueness loop.
// With a 1-in-a-million code space, this many collisions in a row means
// something is structurally wrong (bucket never pruned, RNG broken)
// rather than ordinary bad luck.
const maxPairingCodeAttempts = 20

// Service implements mobile pairing, session-token issuance, and device
// lifecycle management (C8).
type Service struct {
	store      *boltStore
	limiter    *RateLimiter
	signingKey []byte
	stationID  string
	now        func() time.Time
}

// NewService constructs a Service over db (shared with the station's
// event store) and a signing key loaded from securityDir. shared may be
// nil when the station runs no Redis.
func NewService(db *bolt.DB, securityDir, stationID string, logger zerolog.Logger, shared *cache.Client) (*Service, error) {
	st, err := newBoltStore(db)
	if err != nil {
		return nil, err
	}
	key, err := loadOrCreateSigningKey(securityDir)
	if err != nil {
		return nil, err
	}
	return &Service{
		store:      st,
		limiter:    NewRateLimiter(logger, RateLimitAttempts, RateLimitWindowSeconds*time.Second, shared),
		signingKey: key,
		stationID:  stationID,
		now:        time.Now,
	}, nil
}

// GeneratePairingCode issues a fresh one-time 6-digit code scoped to
// roles/scopes, valid for DefaultPairingCodeTTLMinutes. The code is
// drawn from a CSPRNG and re-rolled on collision against the active-code
// table, mirroring the original mobile auth service's
// secrets.randbelow + uniqueness-retry loop.
func (s *Service) GeneratePairingCode(createdBy string, allowedRoles, scopes []string) (PairingCode, error) {
	now := s.now()
	for attempt := 0; attempt < maxPairingCodeAttempts; attempt++ {
		digits, err := randomPairingCodeDigits()
		if err != nil {
			return PairingCode{}, err
		}
		code := PairingCode{
			Code:         digits,
			StationID:    s.stationID,
			AllowedRoles: allowedRoles,
			Scopes:       scopes,
			CreatedBy:    createdBy,
			IssuedAtMs:   now.UnixMilli(),
			ExpiresAtMs:  now.Add(DefaultPairingCodeTTLMinutes * time.Minute).UnixMilli(),
		}
		inserted, err := s.store.putPairingCodeIfAbsent(code)
		if err != nil {
			return PairingCode{}, err
		}
		if inserted {
			return code, nil
		}
	}
	return PairingCode{}, fmt.Errorf("session: no unique pairing code after %d attempts", maxPairingCodeAttempts)
}

// randomPairingCodeDigits draws an unbiased 6-digit code from a CSPRNG,
// zero-padded, matching the original's secrets.randbelow(1000000).
func randomPairingCodeDigits() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("session: generate pairing code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// ExchangeRequest is what a pairing device submits. DeviceID is
// client-supplied and persists across re-pairing attempts from the same
// physical device, so a prior blacklist decision follows it; if empty a
// fresh one is minted.
type ExchangeRequest struct {
	Code          string
	DeviceID      string
	DeviceName    string
	StaffID       string
	StaffName     string
	RequestedRole string
	IPAddress     string
	UserAgent     string
}

// ExchangeResult is returned on a successful pairing exchange.
type ExchangeResult struct {
	Device Device
	Token  string
}

// ExchangePairingCode redeems a one-time code for a paired device and
// session token, rate limited per source IP at RateLimitAttempts per
// RateLimitWindowSeconds. A code may be redeemed exactly once; a second
// attempt with the same code that passes the rate limiter fails with
// errkind.ErrCodeUsed (a rate-limited attempt fails with
// errkind.ErrRateLimited before the code is looked up). A device_id
// already on the blacklist is refused
// before the code is even consumed.
func (s *Service) ExchangePairingCode(req ExchangeRequest) (ExchangeResult, error) {
	if allowed, _, resetAt := s.limiter.Allow(req.IPAddress); !allowed {
		return ExchangeResult{}, fmt.Errorf("session: exchange from %s: %w (retry after %s)",
			redactKey(req.IPAddress), errkind.ErrRateLimited, resetAt.Format(time.RFC3339))
	}

	deviceID := req.DeviceID
	if deviceID == "" {
		deviceID = uuid.New().String()
	}
	if existing, ok, err := s.store.getDevice(deviceID); err != nil {
		return ExchangeResult{}, err
	} else if ok && existing.Blacklisted {
		return ExchangeResult{}, errkind.ErrBlacklistedDevice
	}

	now := s.now()
	claimed, err := s.store.markPairingCodeUsed(req.Code, deviceID, now.UnixMilli())
	if err != nil {
		return ExchangeResult{}, fmt.Errorf("session: exchange pairing code: %w", err)
	}

	role := req.RequestedRole
	if !roleAllowed(role, claimed.AllowedRoles) {
		if len(claimed.AllowedRoles) == 0 {
			return ExchangeResult{}, fmt.Errorf("session: exchange pairing code: no allowed roles configured")
		}
		role = claimed.AllowedRoles[0]
	}

	device := Device{
		DeviceID:   deviceID,
		DeviceName: req.DeviceName,
		StaffID:    req.StaffID,
		StaffName:  req.StaffName,
		Role:       role,
		Scopes:     claimed.Scopes,
		StationID:  claimed.StationID,
		PairedAtMs: now.UnixMilli(),
		LastSeenMs: now.UnixMilli(),
		IPAddress:  req.IPAddress,
		UserAgent:  req.UserAgent,
	}
	if err := s.store.putDevice(device); err != nil {
		return ExchangeResult{}, err
	}

	token, err := issueToken(s.signingKey, Claims{
		DeviceID:  device.DeviceID,
		StaffID:   device.StaffID,
		Role:      device.Role,
		Scopes:    device.Scopes,
		StationID: device.StationID,
	}, DefaultSessionTTLHours*time.Hour, now)
	if err != nil {
		return ExchangeResult{}, err
	}
	return ExchangeResult{Device: device, Token: token}, nil
}

// VerifyToken parses and validates a session token, then checks the
// issuing device's current revoke/blacklist state — a token signed
// before a revoke must stop working immediately, not at its original
// expiry.
func (s *Service) VerifyToken(tokenString string) (Claims, error) {
	claims, err := parseToken(s.signingKey, tokenString)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, errkind.ErrTokenExpired
		}
		return Claims{}, err
	}

	device, ok, err := s.store.getDevice(claims.DeviceID)
	if err != nil {
		return Claims{}, err
	}
	if !ok {
		return Claims{}, fmt.Errorf("session: verify token: %w", errkind.ErrRevoked)
	}
	if device.Blacklisted {
		return Claims{}, errkind.ErrBlacklistedDevice
	}
	if device.Revoked {
		return Claims{}, errkind.ErrRevoked
	}

	device.LastSeenMs = s.now().UnixMilli()
	if err := s.store.putDevice(device); err != nil {
		return Claims{}, err
	}
	return claims, nil
}

func roleAllowed(role string, allowed []string) bool {
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}

// Revoke marks a device revoked, invalidating future token verification.
func (s *Service) Revoke(deviceID, reason string) error {
	device, ok, err := s.store.getDevice(deviceID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("session: revoke: unknown device %s", deviceID)
	}
	device.Revoked = true
	device.RevokedReason = reason
	return s.store.putDevice(device)
}

// Unrevoke clears a device's revoked state. Refuses while the device is
// blacklisted: blacklist must be lifted first, per the invariant that
// blacklisted implies revoked.
func (s *Service) Unrevoke(deviceID string) error {
	device, ok, err := s.store.getDevice(deviceID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("session: unrevoke: unknown device %s", deviceID)
	}
	if device.Blacklisted {
		return fmt.Errorf("session: unrevoke %s: %w", deviceID, errkind.ErrBlacklistedDevice)
	}
	device.Revoked = false
	device.RevokedReason = ""
	return s.store.putDevice(device)
}

// Blacklist marks a device blacklisted and revoked. Blacklisting always
// implies revocation.
func (s *Service) Blacklist(deviceID, reason string) error {
	device, ok, err := s.store.getDevice(deviceID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("session: blacklist: unknown device %s", deviceID)
	}
	device.Blacklisted = true
	device.BlacklistReason = reason
	device.Revoked = true
	if device.RevokedReason == "" {
		device.RevokedReason = "blacklisted: " + reason
	}
	return s.store.putDevice(device)
}

// Device returns the current lifecycle record for deviceID.
func (s *Service) Device(deviceID string) (Device, bool, error) {
	return s.store.getDevice(deviceID)
}

// CleanupRateLimitWindows sweeps stale per-IP rate-limit windows. Call
// periodically from a background ticker.
func (s *Service) CleanupRateLimitWindows() {
	s.limiter.Cleanup()
}
