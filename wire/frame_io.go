package wire

import (
	"encoding/binary"
	"errors"
	"net"
	"time"
)

// readTimeout bounds every individual Read syscall so Tick never blocks
// the replicator loop for more than a few milliseconds; a deadline that
// expires with no data yet assembled is not an error, just "not yet".
const readTimeout = 5 * time.Millisecond

// writeTimeout bounds the one-shot blocking writes a Conn performs.
// Payloads are small (one batch of plot records), so a short deadline
// is enough to detect a genuinely dead peer without stalling the loop.
const writeTimeout = 200 * time.Millisecond

var errFrameTooLarge = errors.New("wire: frame exceeds maximum size")

const maxFrameSize = 16 << 20

// frameReader assembles one length-prefixed frame across any number of
// non-blocking Read calls, keeping partial progress between Tick calls.
type frameReader struct {
	lenBuf   [4]byte
	lenHave  int
	lenDone  bool
	body     []byte
	bodyHave int
}

func (r *frameReader) reset() { *r = frameReader{} }

// read attempts to make progress on the in-flight frame. It returns
// done=true with the assembled payload once a full frame has arrived,
// done=false (nil error) when more data is still needed, and a non-nil
// error only for a genuine I/O failure or malformed length prefix.
func (r *frameReader) read(conn net.Conn) (payload []byte, done bool, err error) {
	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return nil, false, err
	}

	if !r.lenDone {
		n, err := conn.Read(r.lenBuf[r.lenHave:])
		if n > 0 {
			r.lenHave += n
		}
		if err != nil {
			if isTimeout(err) {
				return nil, false, nil
			}
			return nil, false, err
		}
		if r.lenHave < len(r.lenBuf) {
			return nil, false, nil
		}
		bodyLen := binary.LittleEndian.Uint32(r.lenBuf[:])
		if bodyLen > maxFrameSize {
			return nil, false, errFrameTooLarge
		}
		r.body = make([]byte, bodyLen)
		r.lenDone = true
	}

	for r.bodyHave < len(r.body) {
		n, err := conn.Read(r.body[r.bodyHave:])
		if n > 0 {
			r.bodyHave += n
		}
		if err != nil {
			if isTimeout(err) {
				return nil, false, nil
			}
			return nil, false, err
		}
		if r.bodyHave < len(r.body) {
			return nil, false, nil
		}
	}

	out := r.body
	r.reset()
	return out, true, nil
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

// writeFrame performs one blocking length-prefixed write under a short
// deadline. Connections only ever write a single payload in their
// StateWriting step, so there is no partial-write state to track.
func writeFrame(conn net.Conn, payload []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := conn.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := conn.Write(payload)
	return err
}
