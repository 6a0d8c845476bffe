// Package wire implements the per-peer connection state machine: each
// Conn is advanced one non-blocking step at a time by the owning queue
// manager's tick loop, rather than dedicating a goroutine to every
// socket.
package wire

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dronenet/repsvr/crypto"
	"github.com/dronenet/repsvr/registry"
	goversion "github.com/hashicorp/go-version"
)

// ProtocolVersion is this build's wire protocol version, exchanged
// during the handshake. Peers with differing major versions refuse to
// talk to each other.
const ProtocolVersion = "1.0.0"

// helloSeparator joins the peer id and protocol version in the hello
// payload. Peer ids are registry-loaded identifiers, never containing
// this byte.
const helloSeparator = "\x1f"

// ConnState is a connection's position in the handshake/data lifecycle.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateAuthenticating
	StateHasData
	StateWriting
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateHasData:
		return "hasdata"
	case StateWriting:
		return "writing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Direction distinguishes a connection we dialed from one we accepted.
type Direction int

const (
	Outbound Direction = iota
	Inbound
)

// reconnectDelay is the wait imposed after a failed outbound dial or a
// dropped outbound connection before retrying.
const reconnectDelay = 5 * time.Second

// dialTimeout bounds the one blocking Dial attempt per Tick.
const dialTimeout = 2 * time.Second

// Conn is one peer connection, advanced by repeated calls to Tick.
// Every exported method is safe to call from the tick loop goroutine
// only; Conn does not support concurrent use from multiple goroutines.
type Conn struct {
	mu sync.Mutex

	direction Direction
	state     ConnState
	session   *crypto.Session

	netConn net.Conn
	rx      frameReader

	selfID string
	peerID string // expected (outbound) or learned (inbound)
	target registry.Peer

	helloSent bool

	outPayload  []byte
	outAssigned bool

	inBuf []byte
	ready bool

	reconnectAt time.Time
}

// Dial creates an outbound connection in StateConnecting, targeting
// peer. The first Tick call attempts the actual network dial.
func Dial(selfID string, peer registry.Peer, session *crypto.Session) *Conn {
	return &Conn{
		direction: Outbound,
		state:     StateConnecting,
		session:   session,
		selfID:    selfID,
		peerID:    peer.ID,
		target:    peer,
	}
}

// Accept wraps an already-accepted net.Conn as an inbound connection,
// beginning at StateAuthenticating.
func Accept(netConn net.Conn, selfID string, session *crypto.Session) *Conn {
	return &Conn{
		direction: Inbound,
		state:     StateAuthenticating,
		session:   session,
		selfID:    selfID,
		netConn:   netConn,
	}
}

// AssignOutgoing attaches the payload an outbound connection will send
// once the handshake completes. Calling it more than once is a no-op
// after the first assignment; a connection sends exactly one payload.
func (c *Conn) AssignOutgoing(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outAssigned {
		return
	}
	c.outPayload = payload
	c.outAssigned = true
}

// Status reports the connection's current state.
func (c *Conn) Status() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PeerID reports the peer id learned (inbound) or targeted (outbound)
// by the handshake. For an inbound connection it is empty until
// authentication completes; an outbound one has it from Dial.
func (c *Conn) PeerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerID
}

// InputReady reports whether a complete inbound payload is waiting to
// be collected with TakeInput.
func (c *Conn) InputReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// TakeInput returns the assembled inbound payload and marks the
// connection closable. Calling it when InputReady is false returns nil.
func (c *Conn) TakeInput() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		return nil
	}
	out := c.inBuf
	c.inBuf = nil
	c.ready = false
	c.state = StateClosed
	return out
}

// ReconnectAt reports when an outbound connection stuck in
// StateConnecting should next attempt to dial.
func (c *Conn) ReconnectAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnectAt
}

// Close releases the underlying socket, if any, and marks the
// connection closed. Safe to call more than once.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.netConn != nil {
		c.netConn.Close()
	}
	c.state = StateClosed
}

// Tick advances the connection exactly one step. It never blocks for
// longer than the read/write/dial timeouts defined in this package, so
// the owning tick loop can call it on every connection every cycle
// without any one socket stalling the others.
func (c *Conn) Tick(now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateConnecting:
		return c.tickConnecting(now)
	case StateAuthenticating:
		if c.direction == Outbound {
			return c.tickAuthOutbound()
		}
		return c.tickAuthInbound()
	case StateWriting:
		return c.tickWriting()
	case StateHasData:
		return c.tickHasData()
	case StateClosed:
		return nil
	default:
		return nil
	}
}

func (c *Conn) tickConnecting(now time.Time) error {
	if now.Before(c.reconnectAt) {
		return nil
	}
	addr := net.JoinHostPort(c.target.IP.String(), strconv.Itoa(int(c.target.Port)))
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		c.reconnectAt = now.Add(reconnectDelay)
		return recoverableErr(err)
	}
	c.netConn = conn
	c.rx.reset()
	c.helloSent = false
	c.state = StateAuthenticating
	return nil
}

func (c *Conn) tickAuthOutbound() error {
	if !c.helloSent {
		sealed, err := c.session.Seal(encodeHello(c.selfID))
		if err != nil {
			c.failClose()
			return recoverableErr(err)
		}
		if err := writeFrame(c.netConn, sealed); err != nil {
			c.failClose()
			return recoverableErr(err)
		}
		c.helloSent = true
	}

	sealed, done, err := c.rx.read(c.netConn)
	if err != nil {
		c.failClose()
		return recoverableErr(err)
	}
	if !done {
		return nil
	}
	opened, err := c.session.Open(sealed)
	if err != nil {
		c.failClose()
		return recoverableErr(err)
	}
	declared, err := decodeHello(opened)
	if err != nil {
		c.failClose()
		return recoverableErr(err)
	}
	if declared != c.peerID {
		c.failClose()
		return framingErr(errPeerMismatch(c.peerID, declared))
	}
	c.state = StateWriting
	return nil
}

func (c *Conn) tickAuthInbound() error {
	sealed, done, err := c.rx.read(c.netConn)
	if err != nil {
		c.failClose()
		return recoverableErr(err)
	}
	if !done {
		return nil
	}
	opened, err := c.session.Open(sealed)
	if err != nil {
		c.failClose()
		return recoverableErr(err)
	}
	declared, err := decodeHello(opened)
	if err != nil {
		c.failClose()
		return recoverableErr(err)
	}
	c.peerID = declared

	reply, err := c.session.Seal(encodeHello(c.selfID))
	if err != nil {
		c.failClose()
		return recoverableErr(err)
	}
	if err := writeFrame(c.netConn, reply); err != nil {
		c.failClose()
		return recoverableErr(err)
	}
	c.rx.reset()
	c.state = StateHasData
	return nil
}

func (c *Conn) tickWriting() error {
	if !c.outAssigned {
		return nil
	}
	sealed, err := c.session.Seal(c.outPayload)
	if err != nil {
		c.failClose()
		return recoverableErr(err)
	}
	if err := writeFrame(c.netConn, sealed); err != nil {
		c.failClose()
		return recoverableErr(err)
	}
	c.state = StateClosed
	return nil
}

func (c *Conn) tickHasData() error {
	if c.ready {
		return nil
	}
	sealed, done, err := c.rx.read(c.netConn)
	if err != nil {
		c.failClose()
		return recoverableErr(err)
	}
	if !done {
		return nil
	}
	plain, err := c.session.Open(sealed)
	if err != nil {
		c.failClose()
		return framingErr(err)
	}
	c.inBuf = plain
	c.ready = true
	return nil
}

func (c *Conn) failClose() {
	if c.netConn != nil {
		c.netConn.Close()
	}
	if c.direction == Outbound {
		c.state = StateConnecting
		c.reconnectAt = time.Now().Add(reconnectDelay)
		c.netConn = nil
		c.helloSent = false
		c.rx.reset()
		return
	}
	c.state = StateClosed
}

func errPeerMismatch(want, got string) error {
	return fmt.Errorf("wire: handshake declared peer id %q, expected %q", got, want)
}

func encodeHello(selfID string) []byte {
	return []byte(selfID + helloSeparator + ProtocolVersion)
}

// decodeHello parses a hello payload, validating that the remote's
// protocol major version matches ours.
func decodeHello(payload []byte) (peerID string, err error) {
	s := string(payload)
	idx := strings.LastIndex(s, helloSeparator)
	if idx < 0 {
		return "", fmt.Errorf("wire: malformed hello %q", s)
	}
	peerID, versionStr := s[:idx], s[idx+len(helloSeparator):]

	theirs, err := goversion.NewVersion(versionStr)
	if err != nil {
		return "", fmt.Errorf("wire: bad protocol version %q: %w", versionStr, err)
	}
	ours, err := goversion.NewVersion(ProtocolVersion)
	if err != nil {
		return "", err // ProtocolVersion is a package constant; unreachable.
	}
	if theirs.Segments()[0] != ours.Segments()[0] {
		return "", fmt.Errorf("wire: protocol version mismatch: peer %s, local %s", versionStr, ProtocolVersion)
	}
	return peerID, nil
}
