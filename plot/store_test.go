package plot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreAddAndLen(t *testing.T) {
	s := NewStore()
	require.Equal(t, 0, s.Len())
	s.Add(1, 1, 100, 1.5, 2.5)
	require.Equal(t, 1, s.Len())
	got := s.Snapshot()[0]
	require.Equal(t, uint32(1), got.DroneID)
	require.Equal(t, Flags(0), got.Flags)
}

func TestStoreSortByTimeStable(t *testing.T) {
	s := NewStore()
	s.Add(1, 1, 200, 0, 0)
	s.Add(2, 1, 100, 0, 0)
	s.Add(3, 1, 100, 0, 0)
	s.SortByTime()
	snap := s.Snapshot()
	require.Equal(t, []uint32{2, 3, 1}, []uint32{snap[0].DroneID, snap[1].DroneID, snap[2].DroneID})
}

func TestStoreEraseAt(t *testing.T) {
	s := NewStore()
	s.Add(1, 1, 1, 0, 0)
	s.Add(2, 1, 2, 0, 0)
	s.Add(3, 1, 3, 0, 0)
	require.True(t, s.EraseAt(1))
	snap := s.Snapshot()
	require.Len(t, snap, 2)
	require.Equal(t, uint32(1), snap[0].DroneID)
	require.Equal(t, uint32(3), snap[1].DroneID)
	require.False(t, s.EraseAt(99))
}

func TestStoreEraseIndices(t *testing.T) {
	s := NewStore()
	for i := uint32(0); i < 5; i++ {
		s.Add(i, 1, int64(i), 0, 0)
	}
	s.EraseIndices([]int{1, 3})
	snap := s.Snapshot()
	require.Len(t, snap, 3)
	require.Equal(t, []uint32{0, 2, 4}, []uint32{snap[0].DroneID, snap[1].DroneID, snap[2].DroneID})
}

func TestStoreRemoveByNode(t *testing.T) {
	s := NewStore()
	s.Add(1, 1, 1, 0, 0)
	s.Add(2, 2, 2, 0, 0)
	s.Add(3, 1, 3, 0, 0)
	s.RemoveByNode(1)
	snap := s.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, uint32(2), snap[0].NodeID)
}

func TestStorePopFront(t *testing.T) {
	s := NewStore()
	_, ok := s.PopFront()
	require.False(t, ok)
	s.Add(1, 1, 1, 0, 0)
	s.Add(2, 1, 2, 0, 0)
	r, ok := s.PopFront()
	require.True(t, ok)
	require.Equal(t, uint32(1), r.DroneID)
	require.Equal(t, 1, s.Len())
}

func TestStoreBinaryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plots.bin")

	s := NewStore()
	s.Add(1, 2, 100, 1.25, -2.5)
	s.Add(3, 4, 200, 0, 0)
	require.NoError(t, s.WriteBinary(path))

	s2 := NewStore()
	require.NoError(t, s2.LoadBinary(path))
	require.Equal(t, s.Snapshot(), s2.Snapshot())
}

func TestStoreBinaryRejectsBadLength(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.bin")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0o644))

	s := NewStore()
	require.Error(t, s.LoadBinary(path))
}

func TestStoreCSVRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plots.csv")

	s := NewStore()
	s.Add(1, 2, 100, 1.25, -2.5)
	s.Add(3, 4, 200, 0, 0)
	require.NoError(t, s.WriteCSV(path))

	s2 := NewStore()
	require.NoError(t, s2.LoadCSV(path))
	require.Equal(t, s.Snapshot(), s2.Snapshot())
}

func TestStoreCSVSkipsEmptyLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plots.csv")
	require.NoError(t, os.WriteFile(path, []byte("1,2,100,1,2\n\n3,4,200,5,6\n"), 0o644))

	s := NewStore()
	require.NoError(t, s.LoadCSV(path))
	require.Equal(t, 2, s.Len())
}
