package ota

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersionManagerStageSwapRollback(t *testing.T) {
	dir := t.TempDir()
	vm := NewVersionManager(filepath.Join(dir, "versions"))

	require.NoError(t, vm.Stage("1.0.0", []byte("v1")))
	require.NoError(t, vm.Swap("1.0.0"))
	cur, err := vm.CurrentVersion()
	require.NoError(t, err)
	require.Equal(t, "1.0.0", cur)

	require.NoError(t, vm.Stage("2.0.0", []byte("v2")))
	require.NoError(t, vm.Swap("2.0.0"))
	cur, err = vm.CurrentVersion()
	require.NoError(t, err)
	require.Equal(t, "2.0.0", cur)

	prev, err := vm.RollbackToPrevious()
	require.NoError(t, err)
	require.Equal(t, "1.0.0", prev)
	cur, err = vm.CurrentVersion()
	require.NoError(t, err)
	require.Equal(t, "1.0.0", cur)
}

func TestVersionManagerSwapIsAtomicRename(t *testing.T) {
	dir := t.TempDir()
	vm := NewVersionManager(filepath.Join(dir, "versions"))
	require.NoError(t, vm.Stage("1.0.0", []byte("v1")))
	require.NoError(t, vm.Swap("1.0.0"))

	info, err := os.Lstat(vm.currentLink())
	require.NoError(t, err)
	require.True(t, info.Mode()&os.ModeSymlink != 0)
}

func TestCompareSemver(t *testing.T) {
	require.Equal(t, -1, compareSemver("1.2.0", "1.3.0"))
	require.Equal(t, 0, compareSemver("1.2.0", "1.2.0"))
	require.Equal(t, 1, compareSemver("2.0.0", "1.9.9"))
}
