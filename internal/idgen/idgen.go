// Package idgen provides event identifiers, content hashing, and the
// time-validity gate that guards writes against clock tampering and
// split-brain restores from a different physical deployment.
package idgen

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/pkg/errkind"
)

var errTimeInvalid = errkind.ErrTimeInvalid

// NewEventID returns a UUIDv7 event identifier. Events sorted by
// event_id are sorted by creation time within a node, since the first
// 48 bits are a unix-ms big-endian timestamp.
func NewEventID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("idgen: generate event id: %w", err)
	}
	return id.String(), nil
}

// NewServerUUID generates a fresh server identity. Called exactly once
// per database instance, on first boot.
func NewServerUUID() string {
	return uuid.New().String()
}

// CanonicalizePayload produces a deterministic JSON encoding of an
// arbitrary payload: object keys sorted, UTF-8, no insignificant
// whitespace. Re-marshaling through a generic interface{} tree ensures
// map key order never leaks into the hash.
func CanonicalizePayload(payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("idgen: marshal payload: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("idgen: unmarshal payload for canonicalization: %w", err)
	}
	return canonicalMarshal(generic)
}

func canonicalMarshal(v any) ([]byte, error) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf = append(buf, kb...)
			buf = append(buf, ':')
			vb, err := canonicalMarshal(t[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, vb...)
		}
		buf = append(buf, '}')
		return buf, nil
	case []any:
		buf := []byte{'['}
		for i, elem := range t {
			if i > 0 {
				buf = append(buf, ',')
			}
			eb, err := canonicalMarshal(elem)
			if err != nil {
				return nil, err
			}
			buf = append(buf, eb...)
		}
		buf = append(buf, ']')
		return buf, nil
	default:
		return json.Marshal(t)
	}
}

// EventHashInput carries the fields that feed compute_event_hash. Only
// the attributes the hash actually covers appear here, so callers
// cannot accidentally hash something outside the contract.
type EventHashInput struct {
	EventID    string
	EntityType string
	EntityID   string
	EventType  string
	TSDevice   int64
	Payload    any
}

// ComputeEventHash hashes event_id || entity_type || entity_id ||
// event_type || ts_device || canonical_payload with SHA-256 and
// returns the hex digest.
func ComputeEventHash(in EventHashInput) (string, error) {
	canonical, err := CanonicalizePayload(in.Payload)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(in.EventID))
	h.Write([]byte(in.EntityType))
	h.Write([]byte(in.EntityID))
	h.Write([]byte(in.EventType))
	fmt.Fprintf(h, "%d", in.TSDevice)
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// TimeValidityGate refuses writes unless the server identity matches
// what was persisted at first boot and the wall clock is within bounds
// of both the most recent ts_device ever observed and a monotone floor
// persisted at shutdown. Constructed once and threaded through; its
// mutable bookkeeping lives in the caller-supplied store.
type TimeValidityGate struct {
	store         SystemConfigStore
	maxSkew       time.Duration
	wallNow       func() time.Time
	serverUUID    string
}

// SystemConfigStore is the minimal persistence contract the gate needs
// from the system_config singleton bucket C3 owns.
type SystemConfigStore interface {
	GetServerUUID() (string, bool, error)
	GetLastSeenWallMs() (int64, bool, error)
	SetLastSeenWallMs(ms int64) error
	GetMaxTSDeviceSeen() (int64, bool, error)
	SetMaxTSDeviceSeen(ms int64) error
}

// NewTimeValidityGate constructs a gate bound to the given store and
// the station's persisted server_uuid.
func NewTimeValidityGate(store SystemConfigStore, serverUUID string) *TimeValidityGate {
	return &TimeValidityGate{
		store:      store,
		maxSkew:    24 * time.Hour,
		wallNow:    time.Now,
		serverUUID: serverUUID,
	}
}

// Check runs the three-part gate: server identity, a 24h clock-skew
// bound (either direction) against the larger of tsDevice and the max
// ts_device ever seen, and the monotone floor
// persisted at last clean shutdown. On success it updates both the
// max-ts_device high-water-mark (if tsDevice is newer) and the
// last_seen_wall_ms floor.
func (g *TimeValidityGate) Check(tsDevice int64) error {
	persistedUUID, ok, err := g.store.GetServerUUID()
	if err != nil {
		return fmt.Errorf("idgen: read server uuid: %w", err)
	}
	if ok && persistedUUID != g.serverUUID {
		return fmt.Errorf("idgen: server uuid mismatch: %w", errTimeInvalid)
	}

	now := g.wallNow()
	maxSeen, haveMaxSeen, err := g.store.GetMaxTSDeviceSeen()
	if err != nil {
		return fmt.Errorf("idgen: read max ts_device: %w", err)
	}
	bound := tsDevice
	if haveMaxSeen && maxSeen > bound {
		bound = maxSeen
	}
	if now.UnixMilli() < bound-g.maxSkew.Milliseconds() || now.UnixMilli() > bound+g.maxSkew.Milliseconds() {
		return fmt.Errorf("idgen: wall clock outside 24h of max ts_device: %w", errTimeInvalid)
	}

	floor, haveFloor, err := g.store.GetLastSeenWallMs()
	if err != nil {
		return fmt.Errorf("idgen: read last_seen_wall_ms floor: %w", err)
	}
	if haveFloor && now.UnixMilli() < floor {
		return fmt.Errorf("idgen: wall clock behind persisted floor: %w", errTimeInvalid)
	}

	if !haveMaxSeen || tsDevice > maxSeen {
		if err := g.store.SetMaxTSDeviceSeen(tsDevice); err != nil {
			return fmt.Errorf("idgen: persist max ts_device: %w", err)
		}
	}
	if err := g.store.SetLastSeenWallMs(now.UnixMilli()); err != nil {
		return fmt.Errorf("idgen: persist last_seen_wall_ms: %w", err)
	}
	return nil
}
