// Package frame implements the fixed-size binary codec for a single
// plot record and the count-prefixed batch envelope carried inside the
// encrypted payload of the wire protocol.
//
// The source implementation serializes records in the host's native
// byte order, which only interoperates between homogeneous hosts. This
// codec fixes that by always using little-endian on the wire — an
// explicit improvement, not a faithful reproduction of that limitation.
package frame

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/dronenet/repsvr/plot"
)

// RecordSize is the serialized size, in bytes, of a single plot
// record: drone_id(4) + node_id(4) + timestamp(8) + latitude(4) +
// longitude(4). It is a compile-time constant and identical on every
// peer, per the Record invariant.
const RecordSize = 4 + 4 + 8 + 4 + 4

// EncodeRecord serializes r's five wire fields into a fixed RecordSize
// array. Flags are never part of the wire format.
func EncodeRecord(r plot.Record) [RecordSize]byte {
	var b [RecordSize]byte
	binary.LittleEndian.PutUint32(b[0:4], r.DroneID)
	binary.LittleEndian.PutUint32(b[4:8], r.NodeID)
	binary.LittleEndian.PutUint64(b[8:16], uint64(r.Timestamp))
	binary.LittleEndian.PutUint32(b[16:20], math.Float32bits(r.Latitude))
	binary.LittleEndian.PutUint32(b[20:24], math.Float32bits(r.Longitude))
	return b
}

// DecodeRecord parses a single record out of b. It fails if fewer than
// RecordSize bytes remain.
func DecodeRecord(b []byte) (plot.Record, error) {
	if len(b) < RecordSize {
		return plot.Record{}, fmt.Errorf("frame: need %d bytes for a record, got %d", RecordSize, len(b))
	}
	return plot.Record{
		DroneID:   binary.LittleEndian.Uint32(b[0:4]),
		NodeID:    binary.LittleEndian.Uint32(b[4:8]),
		Timestamp: int64(binary.LittleEndian.Uint64(b[8:16])),
		Latitude:  math.Float32frombits(binary.LittleEndian.Uint32(b[16:20])),
		Longitude: math.Float32frombits(binary.LittleEndian.Uint32(b[20:24])),
	}, nil
}

// EncodeBatch serializes records into the wire batch envelope:
// a little-endian u32 count followed by count*RecordSize bytes.
func EncodeBatch(records []plot.Record) []byte {
	out := make([]byte, 4+len(records)*RecordSize)
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(records)))
	for i, r := range records {
		enc := EncodeRecord(r)
		copy(out[4+i*RecordSize:], enc[:])
	}
	return out
}

// DecodeBatch parses a batch envelope. It rejects any message whose
// length is not exactly 4 + k*RecordSize for some k, or whose declared
// count doesn't match k.
func DecodeBatch(b []byte) ([]plot.Record, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("frame: batch too short: %d bytes", len(b))
	}
	count := binary.LittleEndian.Uint32(b[0:4])
	rest := b[4:]
	if len(rest)%RecordSize != 0 {
		return nil, fmt.Errorf("frame: batch payload length %d is not a multiple of %d", len(rest), RecordSize)
	}
	if int(count) != len(rest)/RecordSize {
		return nil, fmt.Errorf("frame: batch declares %d records but carries %d", count, len(rest)/RecordSize)
	}
	records := make([]plot.Record, 0, count)
	for off := 0; off < len(rest); off += RecordSize {
		r, err := DecodeRecord(rest[off : off+RecordSize])
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}
