package control_test

import (
	"context"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dronenet/repsvr/config"
	"github.com/dronenet/repsvr/control"
	"github.com/dronenet/repsvr/crypto"
	"github.com/stretchr/testify/require"
)

func writeKey(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "sharedkey.bin")
	require.NoError(t, crypto.GenerateSharedKey(path))
	return path
}

func writeServers(t *testing.T, dir string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, "servers.txt")
	data := ""
	for _, l := range lines {
		data += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestNewNodeFatalOnSelfNotInRegistry(t *testing.T) {
	dir := t.TempDir()
	cfg := control.NodeConfig{
		ServersPath: writeServers(t, dir, "node1, 127.0.0.1, 9001"),
		KeyPath:     writeKey(t, dir),
		BindIP:      netip.MustParseAddr("127.0.0.1"),
		BindPort:    1234, // does not match any registry entry
		Runtime:     config.Default(),
	}
	_, err := control.NewNode(cfg)
	require.Error(t, err)
}

func TestNewNodeFatalOnMissingKeyFile(t *testing.T) {
	dir := t.TempDir()
	cfg := control.NodeConfig{
		ServersPath: writeServers(t, dir, "1, 127.0.0.1, 9001"),
		KeyPath:     filepath.Join(dir, "does-not-exist.bin"),
		BindIP:      netip.MustParseAddr("127.0.0.1"),
		BindPort:    9001,
		Runtime:     config.Default(),
	}
	_, err := control.NewNode(cfg)
	require.Error(t, err)
}

func TestNewNodeSucceedsAndExposesSelfID(t *testing.T) {
	dir := t.TempDir()
	cfg := control.NodeConfig{
		ServersPath: writeServers(t, dir,
			"1, 127.0.0.1, 0",
			"2, 127.0.0.1, 9002",
		),
		KeyPath:  writeKey(t, dir),
		BindIP:   netip.MustParseAddr("127.0.0.1"),
		BindPort: 0,
		Runtime:  config.Default(),
	}
	n, err := control.NewNode(cfg)
	require.NoError(t, err)
	require.Equal(t, "1", n.SelfID())
	require.NotNil(t, n.Store())
	require.NotNil(t, n.Metrics())
}

func TestNodeStartStopsOnShutdown(t *testing.T) {
	dir := t.TempDir()
	cfg := control.NodeConfig{
		ServersPath: writeServers(t, dir, "1, 127.0.0.1, 0"),
		KeyPath:     writeKey(t, dir),
		BindIP:      netip.MustParseAddr("127.0.0.1"),
		BindPort:    0,
		Runtime:     config.Default(),
	}
	n, err := control.NewNode(cfg)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- n.Start(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	n.Shutdown()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Shutdown")
	}
}

func TestAdjustedClockScalesByMultiplier(t *testing.T) {
	c := control.NewAdjustedClock(100.0)
	time.Sleep(50 * time.Millisecond)
	// at least 50ms of wall time at 100x is at least 5 adjusted seconds
	require.GreaterOrEqual(t, c.Now(), int64(5))
}
