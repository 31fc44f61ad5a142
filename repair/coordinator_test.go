package repair

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/blinkft/ftidx"
	"github.com/stretchr/testify/require"
)

func openTestStateFile(t *testing.T) *os.File {
	t.Helper()
	f, err := os.OpenFile(filepath.Join(t.TempDir(), "state"), os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

// TestCoordinatorFlushesOnLastWriterUnlock mirrors mi_locking.c's
// "only the last unlocking writer flushes the state header" rule.
func TestCoordinatorFlushesOnLastWriterUnlock(t *testing.T) {
	tbl, _ := openTestTable(t)
	tbl.State.Records = 42
	tbl.State.Checksum = 7

	stateF := openTestStateFile(t)
	c := NewCoordinator(tbl, stateF, 1, true)

	require.NoError(t, c.Lock(LockWrite))
	require.NoError(t, c.Lock(LockWrite))
	c.MarkChanged()

	require.NoError(t, c.Unlock(LockWrite))
	// one writer remains: no flush yet, so the state file still holds
	// whatever was last persisted (nothing, in this case).
	info, err := stateF.Stat()
	require.NoError(t, err)
	require.Zero(t, info.Size())

	require.NoError(t, c.Unlock(LockWrite))
	info, err = stateF.Stat()
	require.NoError(t, err)
	require.NotZero(t, info.Size())
}

// TestCoordinatorReloadRoundTrips confirms StateInfo.WriteTo/ReadFrom
// survive a full Coordinator.WriteState → Reload cycle.
func TestCoordinatorReloadRoundTrips(t *testing.T) {
	tbl, _ := openTestTable(t)
	tbl.State.Records = 9
	tbl.State.Deleted = 1
	tbl.State.Checksum = 123
	tbl.State.EnableIndex(0)

	stateF := openTestStateFile(t)
	c := NewCoordinator(tbl, stateF, 1, true)
	require.NoError(t, c.WriteState())

	tbl.State.Records = 0
	tbl.State.Checksum = 0
	require.NoError(t, c.Reload())

	require.EqualValues(t, 9, tbl.State.Records)
	require.EqualValues(t, 1, tbl.State.Deleted)
	require.EqualValues(t, 123, tbl.State.Checksum)
	require.True(t, tbl.State.IndexEnabled(0))
}

func TestStateInfoWriteToReadFromRoundTrip(t *testing.T) {
	s := ftidx.NewStateInfo(2)
	s.Roots[0] = 5
	s.Roots[1] = ftidx.RootDisabled
	s.DeleteChain[128] = 99
	s.Records = 10
	s.Cardinality = [][]uint64{{3}, {7, 8}}
	s.Crashed = true
	s.EnableIndex(0)

	f := openTestStateFile(t)
	_, err := s.WriteTo(f)
	require.NoError(t, err)
	_, err = f.Seek(0, 0)
	require.NoError(t, err)

	got := ftidx.NewStateInfo(0)
	_, err = got.ReadFrom(f)
	require.NoError(t, err)

	require.Equal(t, s.Roots, got.Roots)
	require.Equal(t, s.DeleteChain, got.DeleteChain)
	require.Equal(t, s.Records, got.Records)
	require.Equal(t, s.Cardinality, got.Cardinality)
	require.True(t, got.Crashed)
	require.True(t, got.IndexEnabled(0))
	require.False(t, got.IndexEnabled(1))
}
