package ota

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/internal/eventstore"
)

var bucketCaseStatus = []byte("ota_case_status")

const entityTypeCase = "case"

// openStatuses are case statuses that block an OTA swap.
var openStatuses = map[string]bool{
	"PREOP":       true,
	"IN_PROGRESS": true,
}

type caseRecord struct {
	Status string `json:"status"`
}

// CaseGuard is an eventstore.Projector that tracks each case's latest
// status so the OTA scheduler can cheaply answer "any open cases?"
// without replaying the full case event history on every tick.
type CaseGuard struct {
	db *bolt.DB
}

// NewCaseGuard creates a guard over db and registers it with store for
// entity_type=case events.
func NewCaseGuard(store *eventstore.Store) (*CaseGuard, error) {
	err := store.DB().Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCaseStatus)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ota: init case guard bucket: %w", err)
	}
	g := &CaseGuard{db: store.DB()}
	store.RegisterProjector(entityTypeCase, g)
	return g, nil
}

// ApplyEvent implements eventstore.Projector: any case event carrying a
// "status" field updates the tracked latest status for that case.
func (g *CaseGuard) ApplyEvent(tx *bolt.Tx, ev eventstore.Event) error {
	payloadRaw, err := json.Marshal(ev.Payload)
	if err != nil {
		return nil
	}
	var rec caseRecord
	if err := json.Unmarshal(payloadRaw, &rec); err != nil || rec.Status == "" {
		return nil
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("ota: marshal case status: %w", err)
	}
	return tx.Bucket(bucketCaseStatus).Put([]byte(ev.EntityID), raw)
}

// HasOpenCases reports whether any tracked case is currently PREOP or
// IN_PROGRESS.
func (g *CaseGuard) HasOpenCases() (bool, error) {
	open := false
	err := g.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCaseStatus)
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var rec caseRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("ota: decode case status: %w", err)
			}
			if openStatuses[rec.Status] {
				open = true
			}
			return nil
		})
	})
	return open, err
}
