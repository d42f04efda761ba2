package eventstore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// reserved system_config keys, per the external-interfaces contract.
const (
	keyServerUUID      = "server_uuid"
	keySchemaVersion   = "schema_version"
	keyLastSeenWallMs  = "last_seen_wall_ms"
	keyMaxTSDeviceSeen = "max_ts_device_seen"
	keyStationIdentity = "station_identity"
)

// EnsureServerUUID returns the persisted server_uuid, generating and
// persisting a fresh one on first boot. It never changes afterward.
func (s *Store) EnsureServerUUID(generate func() string) (string, error) {
	var uuid string
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSystemConfig)
		if v := b.Get([]byte(keyServerUUID)); v != nil {
			uuid = string(v)
			return nil
		}
		uuid = generate()
		return b.Put([]byte(keyServerUUID), []byte(uuid))
	})
	if err != nil {
		return "", fmt.Errorf("eventstore: ensure server uuid: %w", err)
	}
	return uuid, nil
}

// GetServerUUID implements idgen.SystemConfigStore.
func (s *Store) GetServerUUID() (string, bool, error) {
	var v string
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketSystemConfig).Get([]byte(keyServerUUID))
		if raw != nil {
			v, ok = string(raw), true
		}
		return nil
	})
	return v, ok, err
}

// GetLastSeenWallMs implements idgen.SystemConfigStore.
func (s *Store) GetLastSeenWallMs() (int64, bool, error) {
	return s.getInt64Config(keyLastSeenWallMs)
}

// SetLastSeenWallMs implements idgen.SystemConfigStore.
func (s *Store) SetLastSeenWallMs(ms int64) error {
	return s.setInt64Config(keyLastSeenWallMs, ms)
}

// GetMaxTSDeviceSeen implements idgen.SystemConfigStore.
func (s *Store) GetMaxTSDeviceSeen() (int64, bool, error) {
	return s.getInt64Config(keyMaxTSDeviceSeen)
}

// SetMaxTSDeviceSeen implements idgen.SystemConfigStore.
func (s *Store) SetMaxTSDeviceSeen(ms int64) error {
	return s.setInt64Config(keyMaxTSDeviceSeen, ms)
}

func (s *Store) getInt64Config(key string) (int64, bool, error) {
	var v int64
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketSystemConfig).Get([]byte(key))
		if raw != nil {
			v, ok = int64(binary.BigEndian.Uint64(raw)), true
		}
		return nil
	})
	return v, ok, err
}

func (s *Store) setInt64Config(key string, v int64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSystemConfig).Put([]byte(key), buf)
	})
}

// SetSchemaVersion records the schema_version reserved key.
func (s *Store) SetSchemaVersion(version string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSystemConfig).Put([]byte(keySchemaVersion), []byte(version))
	})
}

// StationIdentity is the station's human-readable identity, loaded
// once at boot into the same system_config singleton bucket that owns
// server_uuid, per the original's config/station_identity.py and
// SPEC_FULL.md §5's supplement. It never changes afterward, same
// immutability rule as server_uuid.
type StationIdentity struct {
	Name     string `json:"name"`
	Region   string `json:"region"`
	Timezone string `json:"timezone"`
}

// EnsureStationIdentity returns the persisted station identity,
// persisting the given default on first boot. Call once in main, right
// after EnsureServerUUID.
func (s *Store) EnsureStationIdentity(deflt StationIdentity) (StationIdentity, error) {
	var identity StationIdentity
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSystemConfig)
		if raw := b.Get([]byte(keyStationIdentity)); raw != nil {
			return json.Unmarshal(raw, &identity)
		}
		raw, err := json.Marshal(deflt)
		if err != nil {
			return fmt.Errorf("eventstore: marshal station identity: %w", err)
		}
		identity = deflt
		return b.Put([]byte(keyStationIdentity), raw)
	})
	if err != nil {
		return StationIdentity{}, fmt.Errorf("eventstore: ensure station identity: %w", err)
	}
	return identity, nil
}

// GetStationIdentity reads the persisted station identity without
// creating one, returning ok=false if the station hasn't booted yet.
func (s *Store) GetStationIdentity() (StationIdentity, bool, error) {
	var identity StationIdentity
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketSystemConfig).Get([]byte(keyStationIdentity))
		if raw == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(raw, &identity)
	})
	return identity, ok, err
}
