package eventstore

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/internal/clock"
	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/internal/idgen"
	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/pkg/errkind"
)

// Append stamps, hashes, and durably persists a new event, applying any
// registered projection update in the same storage transaction. If
// remoteHLC is non-empty the clock is updated via receive() first (the
// event arrived alongside data from another node); otherwise a plain
// now() tick is used. If a time-validity gate is wired (SetTimeValidityGate),
// it runs before anything is written — spec.md §4.3's TimeInvalidError,
// refusing every write, not only the OTA tick, when the gate fails.
func (s *Store) Append(draft Draft, actor ActorContext, remoteHLC string) (Event, error) {
	return s.AppendGuarded(draft, actor, remoteHLC, nil)
}

// AppendGuarded is Append with an additional precondition run inside the
// same write transaction before the event is inserted. If precheck
// returns an error the whole transaction — including the event itself —
// is rolled back, so a conflicting write never leaves a trace. This is
// how CLAIM's exclusivity (spec.md §4.9, §5) is realized: the
// check-and-set happens inside the append transaction rather than as a
// separate step afterward.
func (s *Store) AppendGuarded(draft Draft, actor ActorContext, remoteHLC string, precheck func(tx *bolt.Tx) error) (Event, error) {
	if draft.TSDevice <= 0 {
		return Event{}, fmt.Errorf("eventstore: ts_device must be positive: %w", errkind.ErrInvalidInput)
	}
	if draft.EntityType == "" || draft.EntityID == "" || draft.EventType == "" {
		return Event{}, fmt.Errorf("eventstore: entity_type, entity_id, event_type required: %w", errkind.ErrInvalidInput)
	}

	if gate := s.timeValidityGate(); gate != nil {
		if err := gate.Check(draft.TSDevice); err != nil {
			return Event{}, fmt.Errorf("eventstore: time validity: %w", err)
		}
	}

	canonical, err := idgen.CanonicalizePayload(draft.Payload)
	if err != nil {
		return Event{}, fmt.Errorf("eventstore: canonicalize payload: %w", err)
	}
	if len(canonical) > MaxPayloadBytes {
		return Event{}, fmt.Errorf("eventstore: payload %d bytes exceeds limit: %w", len(canonical), errkind.ErrPayloadTooLarge)
	}

	eventID, err := idgen.NewEventID()
	if err != nil {
		return Event{}, fmt.Errorf("eventstore: new event id: %w", err)
	}

	var hlcVal clock.Value
	if remoteHLC != "" {
		hlcVal, err = s.clock.ReceiveString(remoteHLC)
		if err != nil {
			return Event{}, fmt.Errorf("eventstore: parse remote hlc: %w", err)
		}
	} else {
		hlcVal = s.clock.Now()
	}

	hash, err := idgen.ComputeEventHash(idgen.EventHashInput{
		EventID:    eventID,
		EntityType: draft.EntityType,
		EntityID:   draft.EntityID,
		EventType:  draft.EventType,
		TSDevice:   draft.TSDevice,
		Payload:    draft.Payload,
	})
	if err != nil {
		return Event{}, fmt.Errorf("eventstore: compute hash: %w", err)
	}

	ev := Event{
		EventID:     eventID,
		SiteID:      s.site,
		EntityType:  draft.EntityType,
		EntityID:    draft.EntityID,
		ActorID:     actor.ActorID,
		ActorName:   actor.ActorName,
		ActorRole:   actor.ActorRole,
		DeviceID:    actor.DeviceID,
		TSDevice:    draft.TSDevice,
		TSServer:    s.wallNow(),
		HLC:         hlcVal.String(),
		EventType:   draft.EventType,
		SchemaVer:   "1.0",
		Payload:     draft.Payload,
		PayloadHash: hash,
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		if precheck != nil {
			if err := precheck(tx); err != nil {
				return err
			}
		}
		return s.insertAndProject(tx, ev, hlcVal)
	})
	if err != nil {
		return Event{}, err
	}
	return ev, nil
}

// insertAndProject performs the deterministic order required by the
// cyclic dependency between projections and appends: uniqueness check,
// event insert, then projection update — all inside one transaction.
func (s *Store) insertAndProject(tx *bolt.Tx, ev Event, hlcVal clock.Value) error {
	byID := tx.Bucket(bucketEventsByID)
	if byID.Get([]byte(ev.EventID)) != nil {
		return fmt.Errorf("eventstore: event %s: %w", ev.EventID, errDuplicateEventID)
	}

	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("eventstore: marshal event: %w", err)
	}
	if err := byID.Put([]byte(ev.EventID), raw); err != nil {
		return fmt.Errorf("eventstore: insert event: %w", err)
	}
	if err := tx.Bucket(bucketEvents).Put(sortKey(hlcVal), []byte(ev.EventID)); err != nil {
		return fmt.Errorf("eventstore: insert hlc index: %w", err)
	}
	if err := tx.Bucket(bucketEventsByEntity).Put(entityKey(ev.EntityType, ev.EntityID, hlcVal), []byte(ev.EventID)); err != nil {
		return fmt.Errorf("eventstore: insert entity index: %w", err)
	}

	for _, p := range s.projectorsFor(ev.EntityType) {
		if err := p.ApplyEvent(tx, ev); err != nil {
			return fmt.Errorf("eventstore: apply projection for %s: %w", ev.EntityType, err)
		}
	}
	return nil
}
