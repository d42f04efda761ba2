package eventstore

import (
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/internal/clock"
	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/internal/idgen"
	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/pkg/errkind"
)

var (
	bucketEvents        = []byte("events")
	bucketEventsByID     = []byte("events_by_id")
	bucketEventsByEntity = []byte("events_by_entity")
	bucketSystemConfig   = []byte("system_config")
	bucketRestoreLog     = []byte("restore_log")
	bucketRestoreRejects = []byte("restore_rejects")
)

// Projector receives every stored event for an entity_type it has
// registered for and applies its projection update inside the same
// bbolt write transaction as the event insert, per the append order
// validate -> insert event -> update projection.
type Projector interface {
	ApplyEvent(tx *bolt.Tx, ev Event) error
}

// Store is the C3 event store handle, backed by a single bbolt file.
// Constructed once in main and passed by reference — no ambient state.
type Store struct {
	db    *bolt.DB
	clock *clock.Clock
	site  string

	mu         sync.RWMutex
	projectors map[string][]Projector

	timeGate *idgen.TimeValidityGate

	wallNow func() int64
}

// Open creates or opens the station's bbolt database at path and
// ensures every bucket this package owns exists.
func Open(path string, clk *clock.Clock, siteID string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("eventstore: open %s: %w", path, err)
	}
	s := &Store{
		db:         db,
		clock:      clk,
		site:       siteID,
		projectors: make(map[string][]Projector),
		wallNow:    func() int64 { return time.Now().UnixMilli() },
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketEvents, bucketEventsByID, bucketEventsByEntity,
			bucketSystemConfig, bucketRestoreLog, bucketRestoreRejects} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("eventstore: init buckets: %w", err)
	}
	return s, nil
}

// Close releases the underlying bbolt file handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying bbolt handle so sibling packages (envelope
// replay store, equipment projections, OTA skip-list, session/pairing
// records) can own additional buckets in the same station database
// file, per the one-file-per-station design.
func (s *Store) DB() *bolt.DB {
	return s.db
}

// SetTimeValidityGate wires the C2 time-validity gate into every
// future Append/AppendGuarded call. Constructed separately in main
// because the gate itself needs the server_uuid that only EnsureServerUUID
// (a method on this same Store) can produce — call this once, after
// EnsureServerUUID, before any write traffic starts. A Store with no gate
// set performs no time-validity check, which is only acceptable in tests
// that never wire one.
func (s *Store) SetTimeValidityGate(gate *idgen.TimeValidityGate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeGate = gate
}

func (s *Store) timeValidityGate() *idgen.TimeValidityGate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timeGate
}

// RegisterProjector attaches a projector for the given entity_type.
// Call during startup wiring, before any Append for that entity_type.
func (s *Store) RegisterProjector(entityType string, p Projector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projectors[entityType] = append(s.projectors[entityType], p)
}

func (s *Store) projectorsFor(entityType string) []Projector {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.projectors[entityType]
}

// sortKey renders a fixed-width, byte-sortable index key from an HLC
// value: the wire format itself doesn't sort correctly as a byte string
// once the physical-ms component varies in digit width, so indexes use
// this zero-padded rendering instead.
func sortKey(v clock.Value) []byte {
	return []byte(fmt.Sprintf("%020d.%010d.%s", v.Phys, v.Log, v.Node))
}

func entityKey(entityType, entityID string, v clock.Value) []byte {
	return []byte(fmt.Sprintf("%s|%s|%s", entityType, entityID, sortKey(v)))
}

var errDuplicateEventID = errkind.ErrDuplicateEventID
