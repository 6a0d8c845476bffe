// Package plot holds the drone observation record and the thread-safe
// store that accumulates them on a single node.
package plot

// Flags marks local-only metadata about a Record. Flags are never
// serialized onto the wire or into the binary/CSV plot file formats.
type Flags uint16

const (
	// FlagNew marks a record ingested locally but not yet broadcast.
	FlagNew Flags = 1 << iota
	// FlagSyncd marks a record whose timestamp has been aligned to the
	// reference node's clock. Once set, deconfliction never re-adjusts it.
	FlagSyncd
)

// Has reports whether all bits in mask are set.
func (f Flags) Has(mask Flags) bool {
	return f&mask == mask
}

// Record is one physical drone observation as seen by a single node.
type Record struct {
	DroneID   uint32
	NodeID    uint32
	Timestamp int64
	Latitude  float32
	Longitude float32

	Flags Flags
}

// SamePlacement reports whether two records describe the same drone at
// the same reported position, independent of which node observed it or
// when. It does not check the 7-second skew window — see the
// replicator package for the full match predicate.
func (r Record) SamePlacement(o Record) bool {
	return r.DroneID == o.DroneID && r.Latitude == o.Latitude && r.Longitude == o.Longitude
}
