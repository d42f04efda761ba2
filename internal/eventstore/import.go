package eventstore

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/internal/clock"
	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/internal/idgen"
)

// ImportBatch ingests a restore batch idempotently over event_id: an
// event already present with a matching payload_hash counts
// already_present; a matching event_id with a differing hash is
// recorded in restore_rejects and counted rejected (tampering or
// divergent history); anything new is inserted. The whole batch is one
// atomic storage transaction — on error it rolls back entirely and the
// caller may resume the session with a new batch.
func (s *Store) ImportBatch(sessionID, sourceDeviceID string, batch ExportBatch, wallNow int64) (ImportResult, error) {
	var result ImportResult
	err := s.db.Update(func(tx *bolt.Tx) error {
		byID := tx.Bucket(bucketEventsByID)

		for _, incoming := range batch.Events {
			recomputed, err := idgen.ComputeEventHash(idgen.EventHashInput{
				EventID:    incoming.EventID,
				EntityType: incoming.EntityType,
				EntityID:   incoming.EntityID,
				EventType:  incoming.EventType,
				TSDevice:   incoming.TSDevice,
				Payload:    incoming.Payload,
			})
			if err != nil {
				return fmt.Errorf("eventstore: recompute hash for %s: %w", incoming.EventID, err)
			}

			existingRaw := byID.Get([]byte(incoming.EventID))
			if existingRaw == nil {
				hlcVal, err := clock.Parse(incoming.HLC)
				if err != nil {
					return fmt.Errorf("eventstore: parse hlc for %s: %w", incoming.EventID, err)
				}
				incoming.PayloadHash = recomputed
				if err := s.insertAndProject(tx, incoming, hlcVal); err != nil {
					return err
				}
				result.Inserted++
				continue
			}

			var existing Event
			if err := json.Unmarshal(existingRaw, &existing); err != nil {
				return fmt.Errorf("eventstore: decode existing event %s: %w", incoming.EventID, err)
			}
			if existing.PayloadHash == recomputed {
				result.AlreadyPresent++
				continue
			}

			reject := RestoreReject{
				EventID:      incoming.EventID,
				SessionID:    sessionID,
				Reason:       "hash_mismatch",
				OldHash:      existing.PayloadHash,
				NewHash:      recomputed,
				RecordedAtMs: wallNow,
			}
			raw, err := json.Marshal(reject)
			if err != nil {
				return fmt.Errorf("eventstore: marshal reject: %w", err)
			}
			rejectKey := []byte(fmt.Sprintf("%s|%s", sessionID, incoming.EventID))
			if err := tx.Bucket(bucketRestoreRejects).Put(rejectKey, raw); err != nil {
				return fmt.Errorf("eventstore: record reject: %w", err)
			}
			result.Rejected++
		}

		logEntry := RestoreLogEntry{
			SessionID:      sessionID,
			SourceDeviceID: sourceDeviceID,
			BatchNumber:    batch.BatchNumber,
			EventsCount:    len(batch.Events),
			Inserted:       result.Inserted,
			AlreadyPresent: result.AlreadyPresent,
			Rejected:       result.Rejected,
			IsFinal:        batch.IsFinal,
			RecordedAtMs:   wallNow,
		}
		raw, err := json.Marshal(logEntry)
		if err != nil {
			return fmt.Errorf("eventstore: marshal restore log entry: %w", err)
		}
		logKey := []byte(fmt.Sprintf("%s|%010d", sessionID, batch.BatchNumber))
		return tx.Bucket(bucketRestoreLog).Put(logKey, raw)
	})
	if err != nil {
		return ImportResult{}, err
	}
	return result, nil
}

// RestoreRejects returns every recorded hash-mismatch for a session.
func (s *Store) RestoreRejects(sessionID string) ([]RestoreReject, error) {
	var out []RestoreReject
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRestoreRejects).Cursor()
		prefix := []byte(sessionID + "|")
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var r RestoreReject
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			out = append(out, r)
		}
		return nil
	})
	return out, err
}
