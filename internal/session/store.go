package session

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/pkg/errkind"
)

var (
	bucketPairingCodes = []byte("pairing_codes")
	bucketDevices      = []byte("devices")
)

type boltStore struct {
	db *bolt.DB
}

func newBoltStore(db *bolt.DB) (*boltStore, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketPairingCodes, bucketDevices} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("session: init buckets: %w", err)
	}
	return &boltStore{db: db}, nil
}

// putPairingCodeIfAbsent inserts c only if no code with the same digits
// is already on file (used or not), check-and-set inside one transaction
// — the same pattern AppendGuarded's precheck and markPairingCodeUsed
// use to avoid a TOCTOU window under concurrent generation. Returns
// false without writing if the code already exists, so the caller can
// re-roll.
func (s *boltStore) putPairingCodeIfAbsent(c PairingCode) (bool, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return false, fmt.Errorf("session: marshal pairing code: %w", err)
	}
	inserted := false
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPairingCodes)
		if b.Get([]byte(c.Code)) != nil {
			return nil
		}
		inserted = true
		return b.Put([]byte(c.Code), raw)
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

func (s *boltStore) getPairingCode(code string) (PairingCode, bool, error) {
	var c PairingCode
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketPairingCodes).Get([]byte(code))
		if raw == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(raw, &c)
	})
	return c, ok, err
}

// markPairingCodeUsed atomically marks a code used inside a single
// transaction, refusing if it's already used, unknown, or expired —
// the check-and-set CLAIM-style guard for pairing exchange.
func (s *boltStore) markPairingCodeUsed(code, deviceID string, nowMs int64) (PairingCode, error) {
	var result PairingCode
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPairingCodes)
		raw := b.Get([]byte(code))
		if raw == nil {
			return errkind.ErrCodeNotFound
		}
		var c PairingCode
		if err := json.Unmarshal(raw, &c); err != nil {
			return fmt.Errorf("session: decode pairing code: %w", err)
		}
		if c.Used {
			return errkind.ErrCodeUsed
		}
		if nowMs > c.ExpiresAtMs {
			return errkind.ErrCodeNotFound
		}
		c.Used = true
		c.UsedByDevice = deviceID
		updated, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("session: marshal pairing code: %w", err)
		}
		if err := b.Put([]byte(code), updated); err != nil {
			return err
		}
		result = c
		return nil
	})
	if err != nil {
		return PairingCode{}, err
	}
	return result, nil
}

func (s *boltStore) putDevice(d Device) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("session: marshal device: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDevices).Put([]byte(d.DeviceID), raw)
	})
}

func (s *boltStore) getDevice(deviceID string) (Device, bool, error) {
	var d Device
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketDevices).Get([]byte(deviceID))
		if raw == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(raw, &d)
	})
	return d, ok, err
}
