package bloodbank

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/internal/eventstore"
	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/pkg/errkind"
)

var bucketBloodUnits = []byte("blood_units")

// ExpiringSoonWindow matches the original v_blood_availability view's
// "expiring soon" horizon (DATE('now', '+3 days')).
const ExpiringSoonWindow = 72 * time.Hour

// Service owns the blood_unit projection and appends lifecycle events
// through the shared event store, the same shape as equipment.Service.
type Service struct {
	store *eventstore.Store
}

// NewService ensures the projection bucket exists, registers the
// projector with store, and returns a bound Service.
func NewService(store *eventstore.Store) (*Service, error) {
	err := store.DB().Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketBloodUnits)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("bloodbank: init projection bucket: %w", err)
	}
	svc := &Service{store: store}
	store.RegisterProjector(entityTypeBloodUnit, svc)
	return svc, nil
}

// ApplyEvent implements eventstore.Projector.
func (s *Service) ApplyEvent(tx *bolt.Tx, ev eventstore.Event) error {
	b := tx.Bucket(bucketBloodUnits)
	unit, _, err := getUnit(b, ev.EntityID)
	if err != nil {
		return err
	}

	switch ev.EventType {
	case EventReceive:
		p, err := decodePayload[ReceivePayload](ev.Payload)
		if err != nil {
			return err
		}
		unit = Unit{
			UnitID:      ev.EntityID,
			BloodType:   p.BloodType,
			Status:      StatusAvailable,
			ExpiresAtMs: p.ExpiresAtMs,
		}
	case EventReserve:
		unit.Status = StatusReserved
	case EventUnreserve:
		unit.Status = StatusAvailable
	case EventTransfuse:
		unit.Status = StatusTransfused
	case EventDiscard:
		unit.Status = StatusDiscarded
	case EventExpire:
		unit.Status = StatusExpired
	default:
		return fmt.Errorf("bloodbank: unrecognized event_type %q", ev.EventType)
	}

	unit.LastEventID = ev.EventID
	return putUnit(b, unit)
}

func getUnit(b *bolt.Bucket, unitID string) (Unit, bool, error) {
	raw := b.Get([]byte(unitID))
	if raw == nil {
		return Unit{}, false, nil
	}
	var u Unit
	if err := json.Unmarshal(raw, &u); err != nil {
		return Unit{}, false, fmt.Errorf("bloodbank: decode projection %s: %w", unitID, err)
	}
	return u, true, nil
}

func putUnit(b *bolt.Bucket, u Unit) error {
	raw, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("bloodbank: marshal projection %s: %w", u.UnitID, err)
	}
	return b.Put([]byte(u.UnitID), raw)
}

func decodePayload[T any](payload any) (T, error) {
	var out T
	raw, err := json.Marshal(payload)
	if err != nil {
		return out, fmt.Errorf("bloodbank: re-encode payload: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("bloodbank: decode payload: %w", err)
	}
	return out, nil
}

// Receive appends a RECEIVE event for a freshly stocked unit.
func (s *Service) Receive(unitID string, p ReceivePayload, actor eventstore.ActorContext, tsDevice int64) (Unit, error) {
	_, err := s.store.Append(eventstore.Draft{
		EventType:  EventReceive,
		EntityType: entityTypeBloodUnit,
		EntityID:   unitID,
		Payload:    p,
		TSDevice:   tsDevice,
	}, actor, "")
	if err != nil {
		return Unit{}, err
	}
	return s.Get(unitID)
}

// Reserve appends a RESERVE event, failing ErrBloodUnitNotAvailable
// unless the unit is currently AVAILABLE. The check-and-set runs inside
// the append transaction, the same CLAIM-style guard equipment.Claim uses.
func (s *Service) Reserve(unitID string, actor eventstore.ActorContext, tsDevice int64) (Unit, error) {
	return s.transition(unitID, EventReserve, struct{}{}, StatusAvailable, actor, tsDevice)
}

// Unreserve appends an UNRESERVE event, returning a RESERVED unit to
// AVAILABLE.
func (s *Service) Unreserve(unitID string, actor eventstore.ActorContext, tsDevice int64) (Unit, error) {
	return s.transition(unitID, EventUnreserve, struct{}{}, StatusReserved, actor, tsDevice)
}

// Transfuse appends a TRANSFUSE event, consuming a RESERVED or
// AVAILABLE unit (emergency release skips the reserve step).
func (s *Service) Transfuse(unitID string, actor eventstore.ActorContext, tsDevice int64) (Unit, error) {
	precheck := func(tx *bolt.Tx) error {
		unit, ok, err := getUnit(tx.Bucket(bucketBloodUnits), unitID)
		if err != nil {
			return err
		}
		if !ok || (unit.Status != StatusAvailable && unit.Status != StatusReserved) {
			return fmt.Errorf("bloodbank: unit %s not reserved or available: %w", unitID, errkind.ErrBloodUnitNotAvailable)
		}
		return nil
	}
	_, err := s.store.AppendGuarded(eventstore.Draft{
		EventType:  EventTransfuse,
		EntityType: entityTypeBloodUnit,
		EntityID:   unitID,
		Payload:    struct{}{},
		TSDevice:   tsDevice,
	}, actor, "", precheck)
	if err != nil {
		return Unit{}, err
	}
	return s.Get(unitID)
}

// Discard appends a DISCARD event (waste/quarantine), valid from any
// non-terminal status.
func (s *Service) Discard(unitID string, p DiscardPayload, actor eventstore.ActorContext, tsDevice int64) (Unit, error) {
	precheck := func(tx *bolt.Tx) error {
		unit, ok, err := getUnit(tx.Bucket(bucketBloodUnits), unitID)
		if err != nil {
			return err
		}
		if !ok || unit.Status == StatusTransfused || unit.Status == StatusExpired || unit.Status == StatusDiscarded {
			return fmt.Errorf("bloodbank: unit %s not in a non-terminal status: %w", unitID, errkind.ErrBloodUnitNotAvailable)
		}
		return nil
	}
	_, err := s.store.AppendGuarded(eventstore.Draft{
		EventType:  EventDiscard,
		EntityType: entityTypeBloodUnit,
		EntityID:   unitID,
		Payload:    p,
		TSDevice:   tsDevice,
	}, actor, "", precheck)
	if err != nil {
		return Unit{}, err
	}
	return s.Get(unitID)
}

func (s *Service) transition(unitID, eventType string, payload any, requiredStatus Status, actor eventstore.ActorContext, tsDevice int64) (Unit, error) {
	precheck := func(tx *bolt.Tx) error {
		unit, ok, err := getUnit(tx.Bucket(bucketBloodUnits), unitID)
		if err != nil {
			return err
		}
		if !ok || unit.Status != requiredStatus {
			return fmt.Errorf("bloodbank: unit %s not %s: %w", unitID, requiredStatus, errkind.ErrBloodUnitNotAvailable)
		}
		return nil
	}
	_, err := s.store.AppendGuarded(eventstore.Draft{
		EventType:  eventType,
		EntityType: entityTypeBloodUnit,
		EntityID:   unitID,
		Payload:    payload,
		TSDevice:   tsDevice,
	}, actor, "", precheck)
	if err != nil {
		return Unit{}, err
	}
	return s.Get(unitID)
}

// Get reads the current projection for a unit.
func (s *Service) Get(unitID string) (Unit, error) {
	var unit Unit
	var ok bool
	err := s.store.DB().View(func(tx *bolt.Tx) error {
		var err error
		unit, ok, err = getUnit(tx.Bucket(bucketBloodUnits), unitID)
		return err
	})
	if err != nil {
		return Unit{}, err
	}
	if !ok {
		return Unit{}, fmt.Errorf("bloodbank: unit %s not found", unitID)
	}
	return unit, nil
}

// ListAll returns every blood_unit projection on file, regardless of
// status — callers filter for their own purposes (Summarize excludes
// terminal statuses, ExpireStale looks only at AVAILABLE/RESERVED).
func (s *Service) ListAll() ([]Unit, error) {
	var out []Unit
	err := s.store.DB().View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketBloodUnits).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var u Unit
			if err := json.Unmarshal(v, &u); err != nil {
				return err
			}
			out = append(out, u)
		}
		return nil
	})
	return out, err
}

// ExpireStale appends an EXPIRE event for every AVAILABLE/RESERVED unit
// whose expires_at_ms has passed, mirroring the original's
// "v_blood_availability...expired_pending_count" detection but recorded
// as a first-class event rather than a derived view column. Intended to
// run from the same periodic sweep as session/replay cleanup.
func (s *Service) ExpireStale(nowMs int64, actor eventstore.ActorContext) (int, error) {
	units, err := s.ListAll()
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, u := range units {
		if (u.Status != StatusAvailable && u.Status != StatusReserved) || u.ExpiresAtMs > nowMs {
			continue
		}
		if _, err := s.store.Append(eventstore.Draft{
			EventType:  EventExpire,
			EntityType: entityTypeBloodUnit,
			EntityID:   u.UnitID,
			Payload:    struct{}{},
			TSDevice:   nowMs,
		}, actor, ""); err != nil {
			return expired, err
		}
		expired++
	}
	return expired, nil
}

// Summarize computes the per-blood-type stock summary, a fourth,
// read-only lifeline-like status and the Go realization of the
// original's v_blood_availability view. The resilience engine does not
// call it; it stands on its own.
func (s *Service) Summarize(nowMs int64) ([]Summary, error) {
	units, err := s.ListAll()
	if err != nil {
		return nil, err
	}
	soonCutoff := nowMs + ExpiringSoonWindow.Milliseconds()

	byType := make(map[string]*Summary)
	order := []string{}
	for _, u := range units {
		if u.Status != StatusAvailable && u.Status != StatusReserved {
			continue
		}
		sum, ok := byType[u.BloodType]
		if !ok {
			sum = &Summary{BloodType: u.BloodType}
			byType[u.BloodType] = sum
			order = append(order, u.BloodType)
		}
		switch u.Status {
		case StatusAvailable:
			sum.AvailableCount++
			if u.ExpiresAtMs <= soonCutoff {
				sum.ExpiringSoonCount++
			}
		case StatusReserved:
			sum.ReservedCount++
		}
		if sum.NearestExpiryMs == 0 || u.ExpiresAtMs < sum.NearestExpiryMs {
			sum.NearestExpiryMs = u.ExpiresAtMs
		}
	}

	out := make([]Summary, 0, len(order))
	for _, bt := range order {
		out = append(out, *byType[bt])
	}
	return out, nil
}
