package equipment

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/internal/eventstore"
	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/pkg/errkind"
)

var bucketEquipmentUnits = []byte("equipment_units")

// Service owns the equipment_unit projection and appends lifecycle
// events through the shared event store. It registers itself as an
// eventstore.Projector for entity_type=equipment_unit.
type Service struct {
	store *eventstore.Store
}

// NewService ensures the projection bucket exists, registers the
// projector with store, and returns a bound Service.
func NewService(store *eventstore.Store) (*Service, error) {
	err := store.DB().Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEquipmentUnits)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("equipment: init projection bucket: %w", err)
	}
	svc := &Service{store: store}
	store.RegisterProjector(entityTypeEquipmentUnit, svc)
	return svc, nil
}

// ApplyEvent implements eventstore.Projector: idempotent over event_id
// (re-applying the same event_id, e.g. from a restore replay, is a
// no-op because the projection is rebuilt deterministically from the
// full event history in HLC order — here we apply incrementally, which
// is equivalent because CLAIM's exclusivity is enforced by AppendGuarded
// and the projection always reflects the unit's latest known event).
func (s *Service) ApplyEvent(tx *bolt.Tx, ev eventstore.Event) error {
	b := tx.Bucket(bucketEquipmentUnits)
	unit, _, err := getUnit(b, ev.EntityID)
	if err != nil {
		return err
	}

	switch ev.EventType {
	case EventCreate:
		p, err := decodePayload[CreatePayload](ev.Payload)
		if err != nil {
			return err
		}
		unit = Unit{
			UnitSerial:   ev.EntityID,
			EquipmentID:  p.EquipmentID,
			UnitLabel:    p.UnitLabel,
			LevelPercent: p.LevelPercent,
			Status:       p.Status,
			IsActive:     true,
		}
	case EventCheck:
		p, err := decodePayload[CheckPayload](ev.Payload)
		if err != nil {
			return err
		}
		unit.LevelPercent = p.LevelPercent
		unit.Status = p.Status
	case EventClaim:
		p, err := decodePayload[ClaimPayload](ev.Payload)
		if err != nil {
			return err
		}
		unit.ClaimedByCaseID = p.CaseID
		unit.ClaimedByMissionID = p.MissionID
	case EventRelease:
		p, err := decodePayload[ReleasePayload](ev.Payload)
		if err != nil {
			return err
		}
		unit.ClaimedByCaseID = ""
		unit.ClaimedByMissionID = ""
		if p.LevelPercent != nil {
			unit.LevelPercent = *p.LevelPercent
		}
	case EventRetire:
		unit.IsActive = false
	default:
		return fmt.Errorf("equipment: unrecognized event_type %q", ev.EventType)
	}

	unit.LastEventID = ev.EventID
	return putUnit(b, unit)
}

func getUnit(b *bolt.Bucket, unitSerial string) (Unit, bool, error) {
	raw := b.Get([]byte(unitSerial))
	if raw == nil {
		return Unit{}, false, nil
	}
	var u Unit
	if err := json.Unmarshal(raw, &u); err != nil {
		return Unit{}, false, fmt.Errorf("equipment: decode projection %s: %w", unitSerial, err)
	}
	return u, true, nil
}

func putUnit(b *bolt.Bucket, u Unit) error {
	raw, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("equipment: marshal projection %s: %w", u.UnitSerial, err)
	}
	return b.Put([]byte(u.UnitSerial), raw)
}

func decodePayload[T any](payload any) (T, error) {
	var out T
	raw, err := json.Marshal(payload)
	if err != nil {
		return out, fmt.Errorf("equipment: re-encode payload: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("equipment: decode payload: %w", err)
	}
	return out, nil
}

// Create appends a CREATE event for a new unit.
func (s *Service) Create(unitSerial string, p CreatePayload, actor eventstore.ActorContext, tsDevice int64) (Unit, error) {
	_, err := s.store.Append(eventstore.Draft{
		EventType:  EventCreate,
		EntityType: entityTypeEquipmentUnit,
		EntityID:   unitSerial,
		Payload:    p,
		TSDevice:   tsDevice,
	}, actor, "")
	if err != nil {
		return Unit{}, err
	}
	return s.Get(unitSerial)
}

// Check appends a CHECK event updating level and status.
func (s *Service) Check(unitSerial string, p CheckPayload, actor eventstore.ActorContext, tsDevice int64) (Unit, error) {
	_, err := s.store.Append(eventstore.Draft{
		EventType:  EventCheck,
		EntityType: entityTypeEquipmentUnit,
		EntityID:   unitSerial,
		Payload:    p,
		TSDevice:   tsDevice,
	}, actor, "")
	if err != nil {
		return Unit{}, err
	}
	return s.Get(unitSerial)
}

// Claim appends a CLAIM event, failing ErrUnitBusy if the unit is
// already claimed. The check-and-set runs inside the append
// transaction: a conflicting claim never leaves a partial event.
func (s *Service) Claim(unitSerial string, p ClaimPayload, actor eventstore.ActorContext, tsDevice int64) (Unit, error) {
	precheck := func(tx *bolt.Tx) error {
		unit, ok, err := getUnit(tx.Bucket(bucketEquipmentUnits), unitSerial)
		if err != nil {
			return err
		}
		if ok && (unit.ClaimedByCaseID != "" || unit.ClaimedByMissionID != "") {
			return fmt.Errorf("equipment: unit %s already claimed: %w", unitSerial, errkind.ErrUnitBusy)
		}
		return nil
	}
	_, err := s.store.AppendGuarded(eventstore.Draft{
		EventType:  EventClaim,
		EntityType: entityTypeEquipmentUnit,
		EntityID:   unitSerial,
		Payload:    p,
		TSDevice:   tsDevice,
	}, actor, "", precheck)
	if err != nil {
		return Unit{}, err
	}
	return s.Get(unitSerial)
}

// Release appends a RELEASE event clearing any claim.
func (s *Service) Release(unitSerial string, p ReleasePayload, actor eventstore.ActorContext, tsDevice int64) (Unit, error) {
	_, err := s.store.Append(eventstore.Draft{
		EventType:  EventRelease,
		EntityType: entityTypeEquipmentUnit,
		EntityID:   unitSerial,
		Payload:    p,
		TSDevice:   tsDevice,
	}, actor, "")
	if err != nil {
		return Unit{}, err
	}
	return s.Get(unitSerial)
}

// Retire appends a RETIRE event, marking the unit inactive.
func (s *Service) Retire(unitSerial string, actor eventstore.ActorContext, tsDevice int64) (Unit, error) {
	_, err := s.store.Append(eventstore.Draft{
		EventType:  EventRetire,
		EntityType: entityTypeEquipmentUnit,
		EntityID:   unitSerial,
		Payload:    struct{}{},
		TSDevice:   tsDevice,
	}, actor, "")
	if err != nil {
		return Unit{}, err
	}
	return s.Get(unitSerial)
}

// Get reads the current projection for a unit.
func (s *Service) Get(unitSerial string) (Unit, error) {
	var unit Unit
	var ok bool
	err := s.store.DB().View(func(tx *bolt.Tx) error {
		var err error
		unit, ok, err = getUnit(tx.Bucket(bucketEquipmentUnits), unitSerial)
		return err
	})
	if err != nil {
		return Unit{}, err
	}
	if !ok {
		return Unit{}, fmt.Errorf("equipment: unit %s not found", unitSerial)
	}
	return unit, nil
}

// ListByEquipmentType returns every active unit for an equipment type,
// the set the resilience engine aggregates over.
func (s *Service) ListByEquipmentType(equipmentID string) ([]Unit, error) {
	var out []Unit
	err := s.store.DB().View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEquipmentUnits).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var u Unit
			if err := json.Unmarshal(v, &u); err != nil {
				return err
			}
			if u.EquipmentID == equipmentID && u.IsActive {
				out = append(out, u)
			}
		}
		return nil
	})
	return out, err
}
