package envelope

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/nacl/box"
)

const (
	fileStationPrivate        = "station.private"
	fileStationPublic         = "station.public"
	fileStationEncryptPrivate = "station.encrypt.private"
	fileStationEncryptPublic  = "station.encrypt.public"
)

// KeyManager owns a station's Ed25519 signing keypair and Curve25519
// encryption keypair on disk, with owner-only file permissions.
// Constructed once at startup and threaded through — no ambient state.
type KeyManager struct {
	dir string

	signingPriv ed25519.PrivateKey
	signingPub  ed25519.PublicKey
	boxPriv     *[32]byte
	boxPub      *[32]byte
}

// NewKeyManager binds a KeyManager to securityDir without loading or
// generating anything yet.
func NewKeyManager(securityDir string) *KeyManager {
	return &KeyManager{dir: securityDir}
}

func (k *KeyManager) path(name string) string {
	return filepath.Join(k.dir, name)
}

// HasKeys reports whether key material already exists on disk.
func (k *KeyManager) HasKeys() bool {
	_, err := os.Stat(k.path(fileStationPrivate))
	return err == nil
}

// GenerateKeys creates a fresh Ed25519 signing keypair and Curve25519
// encryption keypair and persists all four files with 0600 permissions.
// One-time operation per station, per spec.md §4.4 key management.
func (k *KeyManager) GenerateKeys() error {
	if err := os.MkdirAll(k.dir, 0700); err != nil {
		return fmt.Errorf("envelope: create security dir: %w", err)
	}

	signPub, signPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("envelope: generate signing key: %w", err)
	}
	boxPub, boxPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("envelope: generate encrypt key: %w", err)
	}

	if err := writeKeyFile(k.path(fileStationPrivate), signPriv); err != nil {
		return err
	}
	if err := writeKeyFile(k.path(fileStationPublic), signPub); err != nil {
		return err
	}
	if err := writeKeyFile(k.path(fileStationEncryptPrivate), boxPriv[:]); err != nil {
		return err
	}
	if err := writeKeyFile(k.path(fileStationEncryptPublic), boxPub[:]); err != nil {
		return err
	}

	k.signingPriv, k.signingPub = signPriv, signPub
	k.boxPriv, k.boxPub = boxPriv, boxPub
	return nil
}

// Load reads all four key files from disk.
func (k *KeyManager) Load() error {
	signPriv, err := readKeyFile(k.path(fileStationPrivate), ed25519.PrivateKeySize)
	if err != nil {
		return fmt.Errorf("envelope: load signing private key: %w", err)
	}
	signPub, err := readKeyFile(k.path(fileStationPublic), ed25519.PublicKeySize)
	if err != nil {
		return fmt.Errorf("envelope: load signing public key: %w", err)
	}
	boxPrivRaw, err := readKeyFile(k.path(fileStationEncryptPrivate), 32)
	if err != nil {
		return fmt.Errorf("envelope: load encrypt private key: %w", err)
	}
	boxPubRaw, err := readKeyFile(k.path(fileStationEncryptPublic), 32)
	if err != nil {
		return fmt.Errorf("envelope: load encrypt public key: %w", err)
	}

	var boxPriv, boxPub [32]byte
	copy(boxPriv[:], boxPrivRaw)
	copy(boxPub[:], boxPubRaw)

	k.signingPriv = ed25519.PrivateKey(signPriv)
	k.signingPub = ed25519.PublicKey(signPub)
	k.boxPriv = &boxPriv
	k.boxPub = &boxPub
	return nil
}

// SigningPublicKey returns this station's Ed25519 verify key.
func (k *KeyManager) SigningPublicKey() ed25519.PublicKey { return k.signingPub }

// EncryptPublicKey returns this station's Curve25519 box public key.
func (k *KeyManager) EncryptPublicKey() *[32]byte { return k.boxPub }

// Fingerprint renders the signing public key's human-verifiable
// fingerprint: first 16 hex chars of its SHA-256, grouped in
// colon-separated pairs (XX:XX:XX:XX:XX:XX:XX:XX).
func (k *KeyManager) Fingerprint() string {
	return FingerprintOf(k.signingPub)
}

// FingerprintOf computes the fingerprint format for any signing public
// key, used when registering a remote station's key too.
func FingerprintOf(signingPub ed25519.PublicKey) string {
	sum := sha256.Sum256(signingPub)
	hexDigest := hex.EncodeToString(sum[:])[:16]
	var groups []string
	for i := 0; i < len(hexDigest); i += 2 {
		groups = append(groups, hexDigest[i:i+2])
	}
	return strings.ToUpper(strings.Join(groups, ":"))
}

func writeKeyFile(path string, key []byte) error {
	encoded := base64.StdEncoding.EncodeToString(key)
	if err := os.WriteFile(path, []byte(encoded), 0600); err != nil {
		return fmt.Errorf("envelope: write key file %s: %w", path, err)
	}
	return os.Chmod(path, 0600)
}

func readKeyFile(path string, wantLen int) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if len(decoded) != wantLen {
		return nil, fmt.Errorf("%s: expected %d bytes, got %d", path, wantLen, len(decoded))
	}
	return decoded, nil
}
