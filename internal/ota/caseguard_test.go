package ota

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/internal/clock"
	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/internal/eventstore"
)

func newTestStoreWithGuard(t *testing.T) (*eventstore.Store, *CaseGuard) {
	t.Helper()
	dir := t.TempDir()
	store, err := eventstore.Open(filepath.Join(dir, "station.db"), clock.New("N1"), "station-a")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	guard, err := NewCaseGuard(store)
	require.NoError(t, err)
	return store, guard
}

func TestCaseGuardTracksOpenCases(t *testing.T) {
	store, guard := newTestStoreWithGuard(t)

	open, err := guard.HasOpenCases()
	require.NoError(t, err)
	require.False(t, open)

	_, err = store.Append(eventstore.Draft{
		EventType: "CREATE", EntityType: entityTypeCase, EntityID: "case-1",
		Payload: map[string]any{"status": "PREOP"}, TSDevice: 1000,
	}, eventstore.ActorContext{ActorID: "a1"}, "")
	require.NoError(t, err)

	open, err = guard.HasOpenCases()
	require.NoError(t, err)
	require.True(t, open)

	_, err = store.Append(eventstore.Draft{
		EventType: "STATUS_UPDATE", EntityType: entityTypeCase, EntityID: "case-1",
		Payload: map[string]any{"status": "COMPLETE"}, TSDevice: 2000,
	}, eventstore.ActorContext{ActorID: "a1"}, "")
	require.NoError(t, err)

	open, err = guard.HasOpenCases()
	require.NoError(t, err)
	require.False(t, open)
}
