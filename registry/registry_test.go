package registry

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadAndRemoveSelf(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "servers.txt", "1, 127.0.0.1, 9001\n2, 127.0.0.1, 9002\n3, 127.0.0.1, 9003\n")

	r, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 3, r.Len())

	self, err := r.RemoveSelf(netip.MustParseAddr("127.0.0.1"), 9001)
	require.NoError(t, err)
	require.Equal(t, "1", self)
	require.Equal(t, 2, r.Len())

	_, ok := r.Get("1")
	require.False(t, ok)
}

func TestRemoveSelfNotFoundIsFatal(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "servers.txt", "1, 127.0.0.1, 9001\n")
	r, err := Load(path)
	require.NoError(t, err)

	_, err = r.RemoveSelf(netip.MustParseAddr("10.0.0.1"), 1234)
	require.Error(t, err)
}

func TestLoadStopsAtBlankLine(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "servers.txt", "1, 127.0.0.1, 9001\n\n2, 127.0.0.1, 9002\n")
	r, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 1, r.Len())
}

func TestLoadRejectsMalformedLine(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "servers.txt", "1, 127.0.0.1\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateContiguous(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "servers.txt", "2, 127.0.0.1, 9002\n3, 127.0.0.1, 9003\n")
	r, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, r.ValidateContiguous("1"))
}

func TestValidateContiguousRejectsGap(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "servers.txt", "3, 127.0.0.1, 9003\n")
	r, err := Load(path)
	require.NoError(t, err)
	require.Error(t, r.ValidateContiguous("1"))
}
