// Package errkind defines the sentinel error taxonomy shared across the
// station core. Every boundary wraps one of these with fmt.Errorf("...: %w", ...)
// so callers can classify failures with errors.Is regardless of which
// component raised them.
package errkind

import "errors"

// Validation errors: rejected at the boundary, no state change.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrPayloadTooLarge   = errors.New("payload too large")
	ErrInvalidStationID  = errors.New("station id must match [A-Za-z0-9_-]+")
)

// Trust / auth errors.
var (
	ErrUntrustedRecipient = errors.New("recipient not in trusted-key registry")
	ErrRecipientMismatch  = errors.New("envelope recipient does not match this station")
	ErrSenderNotTrusted   = errors.New("sender not in trusted-key registry")
	ErrBlacklistedDevice  = errors.New("device is blacklisted")
	ErrRevoked            = errors.New("device is revoked")
	ErrTokenExpired       = errors.New("session token expired")
)

// Replay / temporal errors.
var (
	ErrAlreadyProcessed = errors.New("envelope already processed")
	ErrEnvelopeExpired  = errors.New("envelope expired")
	ErrTimeInvalid      = errors.New("time validity gate failed")
)

// Integrity errors.
var (
	ErrSignatureInvalid = errors.New("signature invalid")
	ErrHashMismatch     = errors.New("payload hash mismatch")
	ErrPayloadTampered  = errors.New("payload tampered")
	ErrDecryptionFailed = errors.New("decryption failed")
)

// Conflict errors.
var (
	ErrUnitBusy              = errors.New("equipment unit already claimed")
	ErrDuplicateEventID      = errors.New("duplicate event id")
	ErrBloodUnitNotAvailable = errors.New("blood unit not available for this transition")
)

// Capacity / load errors.
var (
	ErrHighLoad         = errors.New("system load too high")
	ErrWaitActiveCases  = errors.New("active cases in progress")
)

// Configuration errors (fail closed: an unknown capacity strategy at load
// time in NewStrategy, an unknown burn-rate unit when the rate is converted).
var (
	ErrUnknownCapacityStrategy = errors.New("unrecognized capacity strategy")
	ErrUnknownBurnRateUnit     = errors.New("unrecognized burn rate unit")
)

// Session / pairing errors.
var (
	ErrCodeNotFound = errors.New("pairing code not found or expired")
	ErrCodeUsed     = errors.New("pairing code already used")
	ErrRateLimited  = errors.New("rate limit exceeded")
)

// Restore / session errors.
var (
	ErrSessionFinalized = errors.New("restore session already finalized")
)
