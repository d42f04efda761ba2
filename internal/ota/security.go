package ota

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// SignatureExtension matches the update server's detached-signature
// naming convention: package.bin + ".sig".
const SignatureExtension = ".sig"

// signatureFilePrefix opens the untrusted-comment header line of a
// minisign-style signature file; the trusted comment on the third line
// is included in the signed payload so a
// signature cannot be replayed against a different release's comment.
const signatureFilePrefix = "untrusted comment: "

// verifyPackageSignature checks sigFile (minisign-format: an untrusted
// comment line, a base64 signature line, and a trusted comment line) was
// produced by pinnedKey over packageBytes, and that packageBytes' SHA-256
// matches expectedSHA256 from the release manifest. Both checks must
// pass; a package failing either is never staged.
func verifyPackageSignature(packageBytes []byte, sigFile []byte, pinnedKey ed25519.PublicKey, expectedSHA256 string) error {
	sum := sha256.Sum256(packageBytes)
	if hex.EncodeToString(sum[:]) != strings.ToLower(expectedSHA256) {
		return fmt.Errorf("ota: package sha256 mismatch")
	}

	sig, trustedComment, err := parseMinisignFile(sigFile)
	if err != nil {
		return fmt.Errorf("ota: parse signature file: %w", err)
	}

	// The signed message is the raw package digest followed by the
	// trusted comment, minisign's "prehash" global-signature scheme.
	signedMessage := append(append([]byte{}, sum[:]...), []byte(trustedComment)...)
	if !ed25519.Verify(pinnedKey, signedMessage, sig) {
		return fmt.Errorf("ota: signature verification failed")
	}
	return nil
}

// parseMinisignFile extracts the base64 signature and trusted comment
// from a 3-line minisign-format signature file.
func parseMinisignFile(raw []byte) (sig []byte, trustedComment string, err error) {
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	if len(lines) < 3 {
		return nil, "", fmt.Errorf("malformed signature file: expected 3 lines, got %d", len(lines))
	}
	if !strings.HasPrefix(lines[0], signatureFilePrefix) {
		return nil, "", fmt.Errorf("missing untrusted comment header")
	}
	sig, err = base64.StdEncoding.DecodeString(strings.TrimSpace(lines[1]))
	if err != nil {
		return nil, "", fmt.Errorf("decode signature: %w", err)
	}
	if sig, err = stripMinisignFraming(sig); err != nil {
		return nil, "", err
	}
	trustedComment = strings.TrimPrefix(lines[2], "trusted comment: ")
	return sig, trustedComment, nil
}

// stripMinisignFraming drops minisign's algorithm+keyid prefix (10
// bytes: 2-byte algorithm tag + 8-byte key id) leaving the raw 64-byte
// Ed25519 signature.
func stripMinisignFraming(decoded []byte) ([]byte, error) {
	const frameLen = 10
	const sigLen = ed25519.SignatureSize
	if len(decoded) != frameLen+sigLen {
		return nil, fmt.Errorf("unexpected signature length %d", len(decoded))
	}
	return decoded[frameLen:], nil
}
