package session

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const sessionKeyFile = "session.key"

// loadOrCreateSigningKey reads the station's HS256 session-token secret
// from securityDir/session.key, generating a fresh 32-byte key on first
// boot (0600 permissions, mirroring the envelope key files).
func loadOrCreateSigningKey(securityDir string) ([]byte, error) {
	path := filepath.Join(securityDir, sessionKeyFile)
	if raw, err := os.ReadFile(path); err == nil {
		return raw, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("session: read signing key: %w", err)
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("session: generate signing key: %w", err)
	}
	if err := os.MkdirAll(securityDir, 0700); err != nil {
		return nil, fmt.Errorf("session: create security dir: %w", err)
	}
	if err := os.WriteFile(path, key, 0600); err != nil {
		return nil, fmt.Errorf("session: write signing key: %w", err)
	}
	return key, nil
}

type tokenClaims struct {
	Claims
	jwt.RegisteredClaims
}

func issueToken(signingKey []byte, c Claims, ttl time.Duration, now time.Time) (string, error) {
	claims := tokenClaims{
		Claims: c,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Subject:   c.DeviceID,
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(signingKey)
	if err != nil {
		return "", fmt.Errorf("session: sign token: %w", err)
	}
	return signed, nil
}

func parseToken(signingKey []byte, tokenString string) (Claims, error) {
	var claims tokenClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("session: unexpected signing method %v", t.Header["alg"])
		}
		return signingKey, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("session: parse token: %w", err)
	}
	return claims.Claims, nil
}
