package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketProcessedEnvelopes = []byte("processed_envelopes")

// processedRecord is the value stored per envelope_id.
type processedRecord struct {
	SenderID      string `json:"sender_id"`
	ProcessedAtMs int64  `json:"processed_at"`
	DataType      DataType `json:"data_type"`
}

// ReplayProtector is the persistent processed-envelope set guarding
// against re-acceptance of an already-verified envelope. Backed by the
// station's shared bbolt file, independent of the event log's own
// transactional semantics.
type ReplayProtector struct {
	db *bolt.DB
}

// NewReplayProtector ensures its bucket exists in db and returns a
// protector bound to it.
func NewReplayProtector(db *bolt.DB) (*ReplayProtector, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketProcessedEnvelopes)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("envelope: init replay bucket: %w", err)
	}
	return &ReplayProtector{db: db}, nil
}

// IsProcessed reports whether envelopeID has already been accepted.
func (p *ReplayProtector) IsProcessed(envelopeID string) (bool, error) {
	var found bool
	err := p.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketProcessedEnvelopes).Get([]byte(envelopeID)) != nil
		return nil
	})
	return found, err
}

// ClaimUnprocessed atomically checks and reserves envelopeID in one
// bbolt transaction, closing the TOCTOU window a separate
// IsProcessed+MarkProcessed pair leaves open under two goroutines
// truly delivering the same envelope concurrently. Returns claimed=false
// without writing if the envelope is already on file (processed or
// claimed by a concurrent delivery still in flight); the caller must
// release the claim with ReleaseClaim if it later fails validation.
func (p *ReplayProtector) ClaimUnprocessed(envelopeID string) (bool, error) {
	claimed := false
	err := p.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProcessedEnvelopes)
		if b.Get([]byte(envelopeID)) != nil {
			return nil
		}
		claimed = true
		return b.Put([]byte(envelopeID), []byte("{}"))
	})
	return claimed, err
}

// ReleaseClaim undoes a ClaimUnprocessed that was never followed by
// MarkProcessed, so a resend of an envelope that failed validation
// (bad signature, decryption failure) isn't refused forever as an
// already-processed replay.
func (p *ReplayProtector) ReleaseClaim(envelopeID string) error {
	return p.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProcessedEnvelopes).Delete([]byte(envelopeID))
	})
}

// MarkProcessed atomically records envelopeID as accepted.
func (p *ReplayProtector) MarkProcessed(envelopeID, senderID string, dataType DataType, processedAtMs int64) error {
	rec := processedRecord{SenderID: senderID, ProcessedAtMs: processedAtMs, DataType: dataType}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("envelope: marshal processed record: %w", err)
	}
	return p.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProcessedEnvelopes).Put([]byte(envelopeID), raw)
	})
}

// CleanupOlderThan removes processed records older than maxAge. Callers
// must pick maxAge greater than the maximum clock skew plus the
// envelope expiry window, or a still-replayable envelope could be
// forgotten.
func (p *ReplayProtector) CleanupOlderThan(maxAge time.Duration, nowMs int64) (int, error) {
	cutoff := nowMs - maxAge.Milliseconds()
	var removed int
	err := p.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProcessedEnvelopes)
		c := b.Cursor()
		var staleKeys [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec processedRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			if rec.ProcessedAtMs < cutoff {
				staleKeys = append(staleKeys, append([]byte(nil), k...))
			}
		}
		for _, k := range staleKeys {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}
