package envelope

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

// TrustedKey is one remote station's trust record.
type TrustedKey struct {
	StationID        string `json:"station_id"`
	SigningPublicKey string `json:"signing_public_key"` // base64
	EncryptPublicKey string `json:"encrypt_public_key"` // base64
	Fingerprint      string `json:"fingerprint"`
	AddedAtUTC       int64  `json:"added_at"`
	Notes            string `json:"notes"`
}

func (t TrustedKey) signingKey() (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(t.SigningPublicKey)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("envelope: malformed signing key for %s", t.StationID)
	}
	return ed25519.PublicKey(raw), nil
}

func (t TrustedKey) encryptKey() (*[32]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(t.EncryptPublicKey)
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("envelope: malformed encrypt key for %s", t.StationID)
	}
	var out [32]byte
	copy(out[:], raw)
	return &out, nil
}

// TrustedKeyRegistry is a filesystem-backed store of remote stations'
// keys: write-temp-then-rename for atomicity, a sync.Mutex guarding the
// in-process write path, and an OS advisory lock on a sidecar lock file
// so concurrent processes serialize writes too. Readers always re-open
// the path and tolerate a writer replacing it mid-read.
type TrustedKeyRegistry struct {
	path     string
	lockPath string
	mu       sync.Mutex
}

// NewTrustedKeyRegistry binds the registry to trusted_keys.json under
// securityDir.
func NewTrustedKeyRegistry(securityDir string) *TrustedKeyRegistry {
	return &TrustedKeyRegistry{
		path:     filepath.Join(securityDir, "trusted_keys.json"),
		lockPath: filepath.Join(securityDir, "trusted_keys.lock"),
	}
}

func (r *TrustedKeyRegistry) load() (map[string]TrustedKey, error) {
	raw, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return map[string]TrustedKey{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("envelope: read trusted keys: %w", err)
	}
	var keys map[string]TrustedKey
	if len(raw) == 0 {
		return map[string]TrustedKey{}, nil
	}
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, fmt.Errorf("envelope: parse trusted keys: %w", err)
	}
	return keys, nil
}

func (r *TrustedKeyRegistry) save(keys map[string]TrustedKey) error {
	lockFile, err := os.OpenFile(r.lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("envelope: open trust registry lock: %w", err)
	}
	defer lockFile.Close()
	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("envelope: acquire trust registry lock: %w", err)
	}
	defer syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN)

	raw, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return fmt.Errorf("envelope: marshal trusted keys: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0600); err != nil {
		return fmt.Errorf("envelope: write trusted keys temp file: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("envelope: rename trusted keys file: %w", err)
	}
	return nil
}

// AddTrustedStation registers or replaces a remote station's key.
func (r *TrustedKeyRegistry) AddTrustedStation(stationID string, signingPub ed25519.PublicKey, encryptPub [32]byte, notes string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys, err := r.load()
	if err != nil {
		return err
	}
	keys[stationID] = TrustedKey{
		StationID:        stationID,
		SigningPublicKey: base64.StdEncoding.EncodeToString(signingPub),
		EncryptPublicKey: base64.StdEncoding.EncodeToString(encryptPub[:]),
		Fingerprint:      FingerprintOf(signingPub),
		AddedAtUTC:       time.Now().Unix(),
		Notes:            notes,
	}
	return r.save(keys)
}

// RemoveTrustedStation deletes a remote station's trust record.
func (r *TrustedKeyRegistry) RemoveTrustedStation(stationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys, err := r.load()
	if err != nil {
		return err
	}
	delete(keys, stationID)
	return r.save(keys)
}

// GetTrustedKey looks up a single station's trust record.
func (r *TrustedKeyRegistry) GetTrustedKey(stationID string) (TrustedKey, bool, error) {
	keys, err := r.load()
	if err != nil {
		return TrustedKey{}, false, err
	}
	k, ok := keys[stationID]
	return k, ok, nil
}

// ListTrustedStations returns every registered trust record.
func (r *TrustedKeyRegistry) ListTrustedStations() ([]TrustedKey, error) {
	keys, err := r.load()
	if err != nil {
		return nil, err
	}
	out := make([]TrustedKey, 0, len(keys))
	for _, k := range keys {
		out = append(out, k)
	}
	return out, nil
}
