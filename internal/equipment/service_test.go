package equipment

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

func TestCreateCheckClaimReleaseLifecycle(t *testing.T) {
	svc := newTestService(t)
	actor := eventstore.ActorContext{ActorID: "tech-1"}

	unit, err := svc.Create("unit-1", CreatePayload{EquipmentID: "RESP-001", UnitLabel: "Cylinder 1", LevelPercent: 100, Status: StatusAvailable}, actor, 1000)
	require.NoError(t, err)
	require.Equal(t, StatusAvailable, unit.Status)
	require.True(t, unit.IsActive)

	unit, err = svc.Check("unit-1", CheckPayload{LevelPercent: 80, Status: StatusAvailable}, actor, 1001)
	require.NoError(t, err)
	require.Equal(t, 80.0, unit.LevelPercent)

	unit, err = svc.Claim("unit-1", ClaimPayload{CaseID: "case-1"}, actor, 1002)
	require.NoError(t, err)
	require.Equal(t, "case-1", unit.ClaimedByCaseID)

	unit, err = svc.Release("unit-1", ReleasePayload{}, actor, 1003)
	require.NoError(t, err)
	require.Empty(t, unit.ClaimedByCaseID)

	unit, err = svc.Retire("unit-1", actor, 1004)
	require.NoError(t, err)
	require.False(t, unit.IsActive)
}

func TestClaimBusyOnAlreadyClaimedUnit(t *testing.T) {
	svc := newTestService(t)
	actor := eventstore.ActorContext{ActorID: "tech-1"}
	_, err := svc.Create("unit-1", CreatePayload{EquipmentID: "RESP-001", LevelPercent: 100, Status: StatusAvailable}, actor, 1000)
	require.NoError(t, err)

	_, err = svc.Claim("unit-1", ClaimPayload{CaseID: "case-1"}, actor, 1001)
	require.NoError(t, err)

	_, err = svc.Claim("unit-1", ClaimPayload{CaseID: "case-2"}, actor, 1002)
	require.Error(t, err)
	require.True(t, errors.Is(err, errkind.ErrUnitBusy))

	unit, err := svc.Get("unit-1")
	require.NoError(t, err)
	require.Equal(t, "case-1", unit.ClaimedByCaseID)
}

func TestListByEquipmentTypeExcludesRetired(t *testing.T) {
	svc := newTestService(t)
	actor := eventstore.ActorContext{}
	_, err := svc.Create("unit-1", CreatePayload{EquipmentID: "RESP-001", LevelPercent: 100, Status: StatusAvailable}, actor, 1000)
	require.NoError(t, err)
	_, err = svc.Create("unit-2", CreatePayload{EquipmentID: "RESP-001", LevelPercent: 100, Status: StatusAvailable}, actor, 1001)
	require.NoError(t, err)
	_, err = svc.Retire("unit-2", actor, 1002)
	require.NoError(t, err)

	units, err := svc.ListByEquipmentType("RESP-001")
	require.NoError(t, err)
	require.Len(t, units, 1)
	require.Equal(t, "unit-1", units[0].UnitSerial)
}
