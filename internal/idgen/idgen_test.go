package idgen

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/pkg/errkind"
)

func TestNewEventIDIsTimeSortableV7(t *testing.T) {
	a, err := NewEventID()
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	b, err := NewEventID()
	require.NoError(t, err)

	pa, err := uuid.Parse(a)
	require.NoError(t, err)
	pb, err := uuid.Parse(b)
	require.NoError(t, err)
	require.Equal(t, uuid.Version(7), pa.Version())
	require.True(t, pa.String() < pb.String())
}

func TestCanonicalizePayloadSortsKeys(t *testing.T) {
	a := map[string]any{"b": 1, "a": 2}
	b := map[string]any{"a": 2, "b": 1}

	ca, err := CanonicalizePayload(a)
	require.NoError(t, err)
	cb, err := CanonicalizePayload(b)
	require.NoError(t, err)
	require.Equal(t, ca, cb)
	require.Equal(t, `{"a":2,"b":1}`, string(ca))
}

func TestComputeEventHashDeterministic(t *testing.T) {
	in := EventHashInput{
		EventID:    "evt-1",
		EntityType: "equipment_unit",
		EntityID:   "unit-1",
		EventType:  "CHECK",
		TSDevice:   1000,
		Payload:    map[string]any{"level_percent": 80},
	}
	h1, err := ComputeEventHash(in)
	require.NoError(t, err)
	h2, err := ComputeEventHash(in)
	require.NoError(t, err)
	require.Equal(t, h1, h2)

	in.Payload = map[string]any{"level_percent": 81}
	h3, err := ComputeEventHash(in)
	require.NoError(t, err)
	require.NotEqual(t, h1, h3)
}

type fakeStore struct {
	serverUUID   string
	haveUUID     bool
	lastSeen     int64
	haveLastSeen bool
	maxSeen      int64
	haveMaxSeen  bool
}

func (f *fakeStore) GetServerUUID() (string, bool, error) { return f.serverUUID, f.haveUUID, nil }
func (f *fakeStore) GetLastSeenWallMs() (int64, bool, error) {
	return f.lastSeen, f.haveLastSeen, nil
}
func (f *fakeStore) SetLastSeenWallMs(ms int64) error {
	f.lastSeen = ms
	f.haveLastSeen = true
	return nil
}
func (f *fakeStore) GetMaxTSDeviceSeen() (int64, bool, error) { return f.maxSeen, f.haveMaxSeen, nil }
func (f *fakeStore) SetMaxTSDeviceSeen(ms int64) error {
	f.maxSeen = ms
	f.haveMaxSeen = true
	return nil
}

func TestTimeValidityGateRejectsServerUUIDMismatch(t *testing.T) {
	store := &fakeStore{serverUUID: "other", haveUUID: true}
	gate := NewTimeValidityGate(store, "mine")
	err := gate.Check(time.Now().UnixMilli())
	require.Error(t, err)
	require.True(t, errors.Is(err, errkind.ErrTimeInvalid))
}

func TestTimeValidityGateRejectsClockBehindFloor(t *testing.T) {
	store := &fakeStore{serverUUID: "mine", haveUUID: true, haveLastSeen: true, lastSeen: time.Now().Add(time.Hour).UnixMilli()}
	gate := NewTimeValidityGate(store, "mine")
	gate.wallNow = func() time.Time { return time.Now() }
	err := gate.Check(time.Now().UnixMilli())
	require.Error(t, err)
	require.True(t, errors.Is(err, errkind.ErrTimeInvalid))
}

func TestTimeValidityGatePassesAndUpdatesFloor(t *testing.T) {
	store := &fakeStore{}
	gate := NewTimeValidityGate(store, "mine")
	ts := time.Now().UnixMilli()
	err := gate.Check(ts)
	require.NoError(t, err)
	require.True(t, store.haveLastSeen)
	require.Equal(t, ts, store.maxSeen)
}
