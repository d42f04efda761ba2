package session

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/pkg/errkind"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	dir := t.TempDir()
	db, err := bolt.Open(filepath.Join(dir, "station.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	svc, err := NewService(db, filepath.Join(dir, "security"), "station-a", zerolog.Nop(), nil)
	require.NoError(t, err)
	return svc
}

func TestPairingExchangeSucceedsOnceThenFailsCodeUsed(t *testing.T) {
	svc := newTestService(t)
	code, err := svc.GeneratePairingCode("admin", []string{"nurse"}, []string{"inventory:read"})
	require.NoError(t, err)

	result, err := svc.ExchangePairingCode(ExchangeRequest{
		Code: code.Code, DeviceName: "iPad-1", StaffID: "staff-1", RequestedRole: "nurse", IPAddress: "10.0.0.5",
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.Token)
	require.Equal(t, []string{"inventory:read"}, result.Device.Scopes)

	_, err = svc.ExchangePairingCode(ExchangeRequest{Code: code.Code, IPAddress: "10.0.0.6"})
	require.Error(t, err)
	require.True(t, errors.Is(err, errkind.ErrCodeUsed))
}

func TestPairingExchangeFailsOnExpiredCode(t *testing.T) {
	svc := newTestService(t)
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }
	code, err := svc.GeneratePairingCode("admin", nil, nil)
	require.NoError(t, err)

	svc.now = func() time.Time { return fixed.Add(DefaultPairingCodeTTLMinutes*time.Minute + time.Second) }
	_, err = svc.ExchangePairingCode(ExchangeRequest{Code: code.Code, IPAddress: "10.0.0.5"})
	require.Error(t, err)
	require.True(t, errors.Is(err, errkind.ErrCodeNotFound))
}

func TestPairingExchangeRateLimited(t *testing.T) {
	svc := newTestService(t)
	for i := 0; i < RateLimitAttempts; i++ {
		code, err := svc.GeneratePairingCode("admin", nil, nil)
		require.NoError(t, err)
		_, err = svc.ExchangePairingCode(ExchangeRequest{Code: "000000", IPAddress: "10.0.0.9"})
		require.Error(t, err)
		require.True(t, errors.Is(err, errkind.ErrCodeNotFound), "attempt %d with wrong code %s", i, code.Code)
	}

	_, err := svc.ExchangePairingCode(ExchangeRequest{Code: "000000", IPAddress: "10.0.0.9"})
	require.Error(t, err)
	require.True(t, errors.Is(err, errkind.ErrRateLimited))
}

func pairDevice(t *testing.T, svc *Service, ip string) (Device, string) {
	t.Helper()
	code, err := svc.GeneratePairingCode("admin", []string{"nurse"}, []string{"inventory:read"})
	require.NoError(t, err)
	result, err := svc.ExchangePairingCode(ExchangeRequest{Code: code.Code, StaffID: "staff-1", RequestedRole: "nurse", IPAddress: ip})
	require.NoError(t, err)
	return result.Device, result.Token
}

func TestVerifyTokenFailsAfterRevoke(t *testing.T) {
	svc := newTestService(t)
	device, token := pairDevice(t, svc, "10.1.0.1")

	_, err := svc.VerifyToken(token)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(device.DeviceID, "lost device"))
	_, err = svc.VerifyToken(token)
	require.Error(t, err)
	require.True(t, errors.Is(err, errkind.ErrRevoked))
}

func TestUnrevokeRefusedWhileBlacklisted(t *testing.T) {
	svc := newTestService(t)
	device, _ := pairDevice(t, svc, "10.1.0.2")

	require.NoError(t, svc.Blacklist(device.DeviceID, "stolen"))
	err := svc.Unrevoke(device.DeviceID)
	require.Error(t, err)
	require.True(t, errors.Is(err, errkind.ErrBlacklistedDevice))

	got, ok, err := svc.Device(device.DeviceID)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Revoked)
	require.True(t, got.Blacklisted)
}

func TestBlacklistedDeviceCannotRePair(t *testing.T) {
	svc := newTestService(t)
	device, _ := pairDevice(t, svc, "10.1.0.4")
	require.NoError(t, svc.Blacklist(device.DeviceID, "stolen"))

	code, err := svc.GeneratePairingCode("admin", []string{"nurse"}, nil)
	require.NoError(t, err)
	_, err = svc.ExchangePairingCode(ExchangeRequest{
		Code: code.Code, DeviceID: device.DeviceID, RequestedRole: "nurse", IPAddress: "10.1.0.5",
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, errkind.ErrBlacklistedDevice))
}

func TestExchangeNarrowsDisallowedRoleToFirstAllowed(t *testing.T) {
	svc := newTestService(t)
	code, err := svc.GeneratePairingCode("admin", []string{"nurse", "pharmacist"}, nil)
	require.NoError(t, err)

	result, err := svc.ExchangePairingCode(ExchangeRequest{
		Code: code.Code, RequestedRole: "surgeon", IPAddress: "10.1.0.6",
	})
	require.NoError(t, err)
	require.Equal(t, "nurse", result.Device.Role)
}

func TestGeneratePairingCodeRerollsOnCollision(t *testing.T) {
	svc := newTestService(t)

	first, err := svc.GeneratePairingCode("admin", nil, nil)
	require.NoError(t, err)

	taken, err := svc.store.putPairingCodeIfAbsent(first)
	require.NoError(t, err)
	require.False(t, taken, "inserting the same code digits twice must be rejected")

	second, err := svc.GeneratePairingCode("admin", nil, nil)
	require.NoError(t, err)
	require.NotEqual(t, first.Code, second.Code)
}

func TestBlacklistImpliesRevoked(t *testing.T) {
	svc := newTestService(t)
	device, token := pairDevice(t, svc, "10.1.0.3")

	require.NoError(t, svc.Blacklist(device.DeviceID, "compromised"))
	_, err := svc.VerifyToken(token)
	require.Error(t, err)
	require.True(t, errors.Is(err, errkind.ErrBlacklistedDevice))
}
