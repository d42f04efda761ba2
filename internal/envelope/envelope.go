package envelope

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/nacl/box"

	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/pkg/errkind"
)

// DefaultExpiryDays bounds how old an envelope's timestamp may be
// before replay verification rejects it as expired.
const DefaultExpiryDays = 7

var stationIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateStationID enforces the character class the wire format
// requires (no '|', which the TBS string uses as a field separator).
func ValidateStationID(id string) error {
	if !stationIDPattern.MatchString(id) {
		return fmt.Errorf("envelope: station id %q: %w", id, errkind.ErrInvalidStationID)
	}
	return nil
}

// Service builds and verifies envelopes for one station.
type Service struct {
	stationID string
	keys      *KeyManager
	trust     *TrustedKeyRegistry
	replay    *ReplayProtector
	expiry    time.Duration
	now       func() time.Time
}

// NewService binds a station's key manager, trust registry, and replay
// protector into an envelope Service.
func NewService(stationID string, keys *KeyManager, trust *TrustedKeyRegistry, replay *ReplayProtector) (*Service, error) {
	if err := ValidateStationID(stationID); err != nil {
		return nil, err
	}
	return &Service{
		stationID: stationID,
		keys:      keys,
		trust:     trust,
		replay:    replay,
		expiry:    DefaultExpiryDays * 24 * time.Hour,
		now:       time.Now,
	}, nil
}

// Build wraps payload for recipientID and produces a signed, encrypted
// envelope, per spec.md §4.4 steps 1-6.
func (s *Service) Build(payload any, recipientID string, dataType DataType) (Envelope, error) {
	if err := ValidateStationID(recipientID); err != nil {
		return Envelope{}, err
	}
	recipient, ok, err := s.trust.GetTrustedKey(recipientID)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope: lookup recipient: %w", err)
	}
	if !ok {
		return Envelope{}, fmt.Errorf("envelope: recipient %s: %w", recipientID, errkind.ErrUntrustedRecipient)
	}
	recipientBoxKey, err := recipient.encryptKey()
	if err != nil {
		return Envelope{}, err
	}

	now := s.now()
	wrapped := wrappedPayload{
		SchemaVersion: "1.0",
		DataType:      dataType,
		Data:          payload,
		CreatedAtUTC:  now.Unix(),
	}
	plaintext, err := json.Marshal(wrapped)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope: marshal wrapped payload: %w", err)
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return Envelope{}, fmt.Errorf("envelope: generate nonce: %w", err)
	}
	ciphertext := box.Seal(nil, plaintext, &nonce, recipientBoxKey, s.keys.boxPriv)
	ciphertextB64 := base64.URLEncoding.EncodeToString(ciphertext)

	envelopeID := uuid.New().String()
	timestamp := now.Unix()
	tbs := buildTBS(s.stationID, recipientID, envelopeID, timestamp, ciphertextB64)
	signature := ed25519.Sign(s.keys.signingPriv, []byte(tbs))

	return Envelope{
		EnvelopeID: envelopeID,
		Header: Header{
			Version:      EnvelopeVersion,
			SenderID:     s.stationID,
			RecipientID:  recipientID,
			TimestampUTC: timestamp,
			DataType:     dataType,
		},
		PayloadEncrypted: ciphertextB64,
		Nonce:            base64.URLEncoding.EncodeToString(nonce[:]),
		Signature:        base64.URLEncoding.EncodeToString(signature),
	}, nil
}

// buildTBS renders the canonical to-be-signed string. This format is
// deterministic and avoids JSON canonicalization ambiguity.
func buildTBS(senderID, recipientID, envelopeID string, timestamp int64, ciphertextB64 string) string {
	return fmt.Sprintf("%s|%s|%s|%d|%s", senderID, recipientID, envelopeID, timestamp, ciphertextB64)
}

// VerifyAndDecrypt runs the six-step verification order from spec.md
// §4.4: structural, trust, replay, signature, decryption, then marks
// the envelope processed. skipReplayCheck supports the "verify without
// consuming" path restore dry-runs may want; normal verification always
// passes false.
func (s *Service) VerifyAndDecrypt(env Envelope, skipReplayCheck bool) (any, error) {
	// 1. Structural.
	if err := ValidateStationID(env.Header.SenderID); err != nil {
		return nil, err
	}
	if err := ValidateStationID(env.Header.RecipientID); err != nil {
		return nil, err
	}

	// 2. Trust.
	if env.Header.RecipientID != s.stationID {
		return nil, fmt.Errorf("envelope: recipient %s != %s: %w", env.Header.RecipientID, s.stationID, errkind.ErrRecipientMismatch)
	}
	sender, ok, err := s.trust.GetTrustedKey(env.Header.SenderID)
	if err != nil {
		return nil, fmt.Errorf("envelope: lookup sender: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("envelope: sender %s: %w", env.Header.SenderID, errkind.ErrSenderNotTrusted)
	}

	// 3. Replay. ClaimUnprocessed checks-and-reserves inside one bbolt
	// transaction so two goroutines truly delivering the same envelope
	// concurrently can't both pass the check and both proceed — only one
	// claims it, the other is refused immediately as already-processed.
	claimed := false
	if !skipReplayCheck {
		var err error
		claimed, err = s.replay.ClaimUnprocessed(env.EnvelopeID)
		if err != nil {
			return nil, fmt.Errorf("envelope: check replay store: %w", err)
		}
		if !claimed {
			return nil, fmt.Errorf("envelope: %s: %w", env.EnvelopeID, errkind.ErrAlreadyProcessed)
		}
	}
	// releaseOnErr frees the claim on any failure below, so a resend of
	// an envelope that never actually validated isn't refused forever.
	releaseOnErr := func(err error) error {
		if claimed {
			_ = s.replay.ReleaseClaim(env.EnvelopeID)
		}
		return err
	}

	age := s.now().Unix() - env.Header.TimestampUTC
	if age > int64(s.expiry.Seconds()) {
		return nil, releaseOnErr(fmt.Errorf("envelope: %s expired %ds ago: %w", env.EnvelopeID, age-int64(s.expiry.Seconds()), errkind.ErrEnvelopeExpired))
	}

	// 4. Signature.
	senderSigningKey, err := sender.signingKey()
	if err != nil {
		return nil, releaseOnErr(err)
	}
	tbs := buildTBS(env.Header.SenderID, env.Header.RecipientID, env.EnvelopeID, env.Header.TimestampUTC, env.PayloadEncrypted)
	signature, err := base64.URLEncoding.DecodeString(env.Signature)
	if err != nil {
		return nil, releaseOnErr(fmt.Errorf("envelope: decode signature: %w", errkind.ErrSignatureInvalid))
	}
	if !ed25519.Verify(senderSigningKey, []byte(tbs), signature) {
		return nil, releaseOnErr(fmt.Errorf("envelope: %s: %w", env.EnvelopeID, errkind.ErrSignatureInvalid))
	}

	// 5. Decryption.
	senderBoxKey, err := sender.encryptKey()
	if err != nil {
		return nil, releaseOnErr(err)
	}
	ciphertext, err := base64.URLEncoding.DecodeString(env.PayloadEncrypted)
	if err != nil {
		return nil, releaseOnErr(fmt.Errorf("envelope: decode ciphertext: %w", errkind.ErrDecryptionFailed))
	}
	nonceRaw, err := base64.URLEncoding.DecodeString(env.Nonce)
	if err != nil || len(nonceRaw) != 24 {
		return nil, releaseOnErr(fmt.Errorf("envelope: decode nonce: %w", errkind.ErrDecryptionFailed))
	}
	var nonce [24]byte
	copy(nonce[:], nonceRaw)
	plaintext, ok := box.Open(nil, ciphertext, &nonce, senderBoxKey, s.keys.boxPriv)
	if !ok {
		return nil, releaseOnErr(fmt.Errorf("envelope: %s: %w", env.EnvelopeID, errkind.ErrDecryptionFailed))
	}

	var wrapped wrappedPayload
	if err := json.Unmarshal(plaintext, &wrapped); err != nil {
		return nil, releaseOnErr(fmt.Errorf("envelope: decode wrapped payload: %w", err))
	}

	// 6. Mark processed: overwrites the placeholder claim with the real
	// record.
	if claimed {
		if err := s.replay.MarkProcessed(env.EnvelopeID, env.Header.SenderID, env.Header.DataType, s.now().UnixMilli()); err != nil {
			return nil, fmt.Errorf("envelope: mark processed: %w", err)
		}
	}

	return wrapped.Data, nil
}
