package bloodbank

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/internal/clock"
	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/internal/eventstore"
	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/pkg/errkind"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	dir := t.TempDir()
	store, err := eventstore.Open(filepath.Join(dir, "station.db"), clock.New("N1"), "station-a")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	svc, err := NewService(store)
	require.NoError(t, err)
	return svc
}

func TestReceiveReserveTransfuseLifecycle(t *testing.T) {
	svc := newTestService(t)
	actor := eventstore.ActorContext{ActorID: "tech-1"}

	unit, err := svc.Receive("bag-1", ReceivePayload{BloodType: "O-", ExpiresAtMs: 50_000}, actor, 1000)
	require.NoError(t, err)
	require.Equal(t, StatusAvailable, unit.Status)

	unit, err = svc.Reserve("bag-1", actor, 1001)
	require.NoError(t, err)
	require.Equal(t, StatusReserved, unit.Status)

	unit, err = svc.Transfuse("bag-1", actor, 1002)
	require.NoError(t, err)
	require.Equal(t, StatusTransfused, unit.Status)
}

func TestReserveFailsWhenNotAvailable(t *testing.T) {
	svc := newTestService(t)
	actor := eventstore.ActorContext{ActorID: "tech-1"}
	_, err := svc.Receive("bag-1", ReceivePayload{BloodType: "A+", ExpiresAtMs: 50_000}, actor, 1000)
	require.NoError(t, err)

	_, err = svc.Reserve("bag-1", actor, 1001)
	require.NoError(t, err)

	_, err = svc.Reserve("bag-1", actor, 1002)
	require.Error(t, err)
	require.True(t, errors.Is(err, errkind.ErrBloodUnitNotAvailable))
}

func TestTransfuseFailsAfterDiscard(t *testing.T) {
	svc := newTestService(t)
	actor := eventstore.ActorContext{ActorID: "tech-1"}
	_, err := svc.Receive("bag-1", ReceivePayload{BloodType: "B+", ExpiresAtMs: 50_000}, actor, 1000)
	require.NoError(t, err)

	_, err = svc.Discard("bag-1", DiscardPayload{Reason: "hemolyzed"}, actor, 1001)
	require.NoError(t, err)

	_, err = svc.Transfuse("bag-1", actor, 1002)
	require.Error(t, err)
	require.True(t, errors.Is(err, errkind.ErrBloodUnitNotAvailable))
}

func TestExpireStaleMarksPastExpiryUnitsExpired(t *testing.T) {
	svc := newTestService(t)
	actor := eventstore.ActorContext{ActorID: "sweeper"}
	_, err := svc.Receive("bag-1", ReceivePayload{BloodType: "O+", ExpiresAtMs: 10_000}, actor, 1000)
	require.NoError(t, err)
	_, err = svc.Receive("bag-2", ReceivePayload{BloodType: "O+", ExpiresAtMs: 99_999_999}, actor, 1001)
	require.NoError(t, err)

	count, err := svc.ExpireStale(20_000, actor)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	bag1, err := svc.Get("bag-1")
	require.NoError(t, err)
	require.Equal(t, StatusExpired, bag1.Status)

	bag2, err := svc.Get("bag-2")
	require.NoError(t, err)
	require.Equal(t, StatusAvailable, bag2.Status)
}

func TestSummarizeGroupsByBloodTypeAndFlagsExpiringSoon(t *testing.T) {
	svc := newTestService(t)
	actor := eventstore.ActorContext{ActorID: "tech-1"}
	now := int64(1_000_000)

	_, err := svc.Receive("bag-1", ReceivePayload{BloodType: "O-", ExpiresAtMs: now + 1000}, actor, 1000)
	require.NoError(t, err)
	_, err = svc.Receive("bag-2", ReceivePayload{BloodType: "O-", ExpiresAtMs: now + ExpiringSoonWindow.Milliseconds()*10}, actor, 1001)
	require.NoError(t, err)
	_, err = svc.Receive("bag-3", ReceivePayload{BloodType: "AB+", ExpiresAtMs: now + 1000}, actor, 1002)
	require.NoError(t, err)
	_, err = svc.Reserve("bag-3", actor, 1003)
	require.NoError(t, err)

	summaries, err := svc.Summarize(now)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	byType := make(map[string]Summary)
	for _, s := range summaries {
		byType[s.BloodType] = s
	}
	require.Equal(t, 2, byType["O-"].AvailableCount)
	require.Equal(t, 1, byType["O-"].ExpiringSoonCount)
	require.Equal(t, 0, byType["AB+"].AvailableCount)
	require.Equal(t, 1, byType["AB+"].ReservedCount)
}
