package eventstore

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/internal/clock"
)

// List returns events matching filter, ordered by HLC ascending. The
// index key is the zero-padded (phys, log, node) triple, so events with
// equal phys and log are ordered by node id; event_id is not part of the
// order, and Filter.SinceEvtID is not consulted.
func (s *Store) List(filter Filter) ([]Event, error) {
	var out []Event
	err := s.db.View(func(tx *bolt.Tx) error {
		byID := tx.Bucket(bucketEventsByID)

		collect := func(eventIDBytes []byte) (bool, error) {
			raw := byID.Get(eventIDBytes)
			if raw == nil {
				return true, nil
			}
			var ev Event
			if err := json.Unmarshal(raw, &ev); err != nil {
				return false, fmt.Errorf("eventstore: decode event: %w", err)
			}
			out = append(out, ev)
			if filter.Limit > 0 && len(out) >= filter.Limit {
				return false, nil
			}
			return true, nil
		}

		if filter.EntityType != "" && filter.EntityID != "" {
			c := tx.Bucket(bucketEventsByEntity).Cursor()
			prefix := []byte(fmt.Sprintf("%s|%s|", filter.EntityType, filter.EntityID))
			for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
				cont, err := collect(v)
				if err != nil {
					return err
				}
				if !cont {
					break
				}
			}
			return nil
		}

		c := tx.Bucket(bucketEvents).Cursor()
		var k, v []byte
		if filter.SinceHLC != "" {
			parsed, err := parseSinceForSeek(filter.SinceHLC)
			if err != nil {
				return err
			}
			k, v = c.Seek(parsed)
		} else {
			k, v = c.First()
		}
		for ; k != nil; k, v = c.Next() {
			cont, err := collect(v)
			if err != nil {
				return err
			}
			if !cont {
				break
			}
		}
		return nil
	})
	return out, err
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

func parseSinceForSeek(hlcStr string) ([]byte, error) {
	v, err := clock.Parse(hlcStr)
	if err != nil {
		return nil, fmt.Errorf("eventstore: invalid since_hlc checkpoint: %w", err)
	}
	// Seek lands on the checkpoint itself or the next key; advance past
	// an exact match so SinceHLC means "strictly after".
	key := sortKey(v)
	key = append(key, 0x00)
	return key, nil
}

// Export produces a sequence of batches suitable for envelope
// transport, honoring filter and grouping events into batchSize chunks.
func (s *Store) Export(filter Filter, batchSize int) ([]ExportBatch, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	events, err := s.List(filter)
	if err != nil {
		return nil, err
	}
	var batches []ExportBatch
	for i := 0; i < len(events) || (i == 0 && len(events) == 0); i += batchSize {
		end := i + batchSize
		if end > len(events) {
			end = len(events)
		}
		batches = append(batches, ExportBatch{
			Events:      events[i:end],
			BatchNumber: len(batches) + 1,
		})
		if end == len(events) {
			break
		}
	}
	if len(batches) == 0 {
		batches = []ExportBatch{{Events: nil, BatchNumber: 1}}
	}
	batches[len(batches)-1].IsFinal = true
	return batches, nil
}
