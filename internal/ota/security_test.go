package ota

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildSignedPackage(t *testing.T, priv ed25519.PrivateKey, pkg []byte) []byte {
	t.Helper()
	sum := sha256.Sum256(pkg)
	trustedComment := "timestamp:1"
	signedMessage := append(append([]byte{}, sum[:]...), []byte(trustedComment)...)
	rawSig := ed25519.Sign(priv, signedMessage)
	framed := append(make([]byte, 10), rawSig...)
	b64 := base64.StdEncoding.EncodeToString(framed)
	return []byte(fmt.Sprintf("untrusted comment: minisign signature\n%s\ntrusted comment: %s\n", b64, trustedComment))
}

func TestVerifyPackageSignatureAccepts(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	pkg := []byte("hello-station")
	sig := buildSignedPackage(t, priv, pkg)
	sum := sha256.Sum256(pkg)

	err = verifyPackageSignature(pkg, sig, pub, hex.EncodeToString(sum[:]))
	require.NoError(t, err)
}

func TestVerifyPackageSignatureRejectsHashMismatch(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	pkg := []byte("hello-station")
	sig := buildSignedPackage(t, priv, pkg)

	err = verifyPackageSignature(pkg, sig, pub, hex.EncodeToString(make([]byte, 32)))
	require.Error(t, err)
}

func TestVerifyPackageSignatureRejectsWrongKey(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_, otherPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	pkg := []byte("hello-station")
	sig := buildSignedPackage(t, otherPriv, pkg)
	sum := sha256.Sum256(pkg)

	err = verifyPackageSignature(pkg, sig, pub, hex.EncodeToString(sum[:]))
	require.Error(t, err)
}
