package queue_test

import (
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/dronenet/repsvr/access"
	"github.com/dronenet/repsvr/crypto"
	"github.com/dronenet/repsvr/queue"
	"github.com/dronenet/repsvr/registry"
	"github.com/dronenet/repsvr/wire"
	"github.com/stretchr/testify/require"
)

func newSession(t *testing.T) *crypto.Session {
	t.Helper()
	var key [crypto.KeySize]byte
	for i := range key {
		key[i] = 0x77
	}
	s, err := crypto.NewSession(key)
	require.NoError(t, err)
	return s
}

func writeRegistry(t *testing.T, lines ...string) *registry.Registry {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "servers.txt")
	data := ""
	for _, l := range lines {
		data += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	reg, err := registry.Load(path)
	require.NoError(t, err)
	return reg
}

func mustWhitelist(t *testing.T, ips ...string) access.Whitelist {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "whitelist")
	data := ""
	for _, ip := range ips {
		data += ip + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	w, err := access.LoadWhitelist(path)
	require.NoError(t, err)
	return w
}

func TestManagerSendToPeerUnknownIsFatal(t *testing.T) {
	session := newSession(t)
	reg := writeRegistry(t, "node1, 127.0.0.1, 9001")
	m := queue.NewManager("node1", reg, session, access.Whitelist{})

	err := m.SendToPeer("ghost", []byte("x"))
	require.Error(t, err)
	var wireErr *wire.Error
	require.ErrorAs(t, err, &wireErr)
	require.Equal(t, wire.KindFatal, wireErr.Kind)
}

func TestManagerDeliversInboundPayload(t *testing.T) {
	session := newSession(t)

	serverReg := writeRegistry(t,
		"node1, 127.0.0.1, 9001",
		"node2, 127.0.0.1, 9002",
	)
	server := queue.NewManager("node2", serverReg, session, access.Whitelist{})
	require.NoError(t, server.Bind(netip.MustParseAddrPort("127.0.0.1:0")))
	defer server.Close()
	serverPort := server.Addr().(*net.TCPAddr).Port

	clientReg := writeRegistry(t,
		"node1, 127.0.0.1, 9001",
		"node2, 127.0.0.1, "+strconv.Itoa(serverPort),
	)
	client := queue.NewManager("node1", clientReg, session, access.Whitelist{})
	defer client.Close()

	require.NoError(t, client.SendToPeer("node2", []byte("hello-node2")))

	var peerID string
	var payload []byte
	var ok bool
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		_ = client.HandleQueue(time.Now())
		_ = server.HandleQueue(time.Now())
		client.Pop() // drains the queued Send entry, dialing node2
		if peerID, payload, ok = server.Pop(); ok {
			break
		}
		time.Sleep(time.Millisecond)
	}

	require.True(t, ok, "server never received the inbound payload")
	require.Equal(t, "node1", peerID)
	require.Equal(t, []byte("hello-node2"), payload)
}

func TestManagerSendToPeerDoesNotDialUntilPopped(t *testing.T) {
	session := newSession(t)
	ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer ln.Close()
	reg := writeRegistry(t,
		"node1, 127.0.0.1, 9001",
		"node2, 127.0.0.1, "+strconv.Itoa(ln.Addr().(*net.TCPAddr).Port),
	)
	m := queue.NewManager("node1", reg, session, access.Whitelist{})
	defer m.Close()

	require.NoError(t, m.SendToPeer("node2", []byte("queued")))

	// Before Pop ever runs, the Send entry must still be sitting in the
	// FIFO rather than already having dialed out: HandleQueue ticks the
	// (empty) live connection list and must find nothing to advance, so
	// node2's listener sees no connection.
	require.NoError(t, m.HandleQueue(time.Now()))
	require.NoError(t, ln.SetDeadline(time.Now().Add(50*time.Millisecond)))
	_, err = ln.Accept()
	require.Error(t, err, "nothing may dial node2 before Pop drains the Send entry")

	_, _, ok := m.Pop()
	require.False(t, ok, "an enqueued Send entry is not itself a Recv entry")

	// Pop handed the entry to launchDataConn; the next tick dials node2.
	require.NoError(t, m.HandleQueue(time.Now()))
	require.NoError(t, ln.SetDeadline(time.Now().Add(time.Second)))
	c, err := ln.Accept()
	require.NoError(t, err, "the connection dialed after Pop must reach node2")
	c.Close()
}

func TestManagerRejectsNonWhitelistedPeer(t *testing.T) {
	session := newSession(t)

	serverReg := writeRegistry(t,
		"node1, 127.0.0.1, 9001",
		"node2, 127.0.0.1, 9002",
	)
	allow := mustWhitelist(t, "10.0.0.9")
	server := queue.NewManager("node2", serverReg, session, allow)
	require.NoError(t, server.Bind(netip.MustParseAddrPort("127.0.0.1:0")))
	defer server.Close()
	serverPort := server.Addr().(*net.TCPAddr).Port

	clientReg := writeRegistry(t,
		"node1, 127.0.0.1, 9001",
		"node2, 127.0.0.1, "+strconv.Itoa(serverPort),
	)
	client := queue.NewManager("node1", clientReg, session, access.Whitelist{})
	defer client.Close()
	require.NoError(t, client.SendToPeer("node2", []byte("hello")))

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		_ = client.HandleQueue(time.Now())
		_ = server.HandleQueue(time.Now())
		client.Pop() // drains the queued Send entry, dialing node2
		time.Sleep(time.Millisecond)
	}

	_, _, ok := server.Pop()
	require.False(t, ok, "connection from a non-whitelisted IP must never reach the handshake")
}
