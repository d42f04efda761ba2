package envelope

import (
	"testing"

	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func newTestReplayProtector(t *testing.T) *ReplayProtector {
	t.Helper()
	dir := t.TempDir()
	db, err := bolt.Open(dir+"/replay.db", 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	p, err := NewReplayProtector(db)
	require.NoError(t, err)
	return p
}

func TestClaimUnprocessedRefusesConcurrentClaim(t *testing.T) {
	p := newTestReplayProtector(t)

	claimed, err := p.ClaimUnprocessed("env-1")
	require.NoError(t, err)
	require.True(t, claimed)

	claimed, err = p.ClaimUnprocessed("env-1")
	require.NoError(t, err)
	require.False(t, claimed, "a second claim of the same envelope id must be refused")
}

func TestReleaseClaimAllowsRetryAfterValidationFailure(t *testing.T) {
	p := newTestReplayProtector(t)

	claimed, err := p.ClaimUnprocessed("env-1")
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, p.ReleaseClaim("env-1"))

	claimed, err = p.ClaimUnprocessed("env-1")
	require.NoError(t, err)
	require.True(t, claimed, "a released claim must be re-claimable")
}

func TestMarkProcessedSurvivesAfterClaim(t *testing.T) {
	p := newTestReplayProtector(t)

	claimed, err := p.ClaimUnprocessed("env-1")
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, p.MarkProcessed("env-1", "STATION-A", DataTypeInventoryTransfer, 1000))

	processed, err := p.IsProcessed("env-1")
	require.NoError(t, err)
	require.True(t, processed)
}
