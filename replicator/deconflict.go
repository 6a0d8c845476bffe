package replicator

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/cespare/xxhash"
	"github.com/dronenet/repsvr/metrics"
	"github.com/dronenet/repsvr/plot"
)

// pairKey canonicalizes a non-reference node pair as (lo, hi) so the
// recorded skew value and the cross-pair inference formula do not
// depend on which of the two records the pair scan happened to visit
// first.
type pairKey [2]uint32

func makePairKey(a, b uint32) pairKey {
	if a < b {
		return pairKey{a, b}
	}
	return pairKey{b, a}
}

// skewState accumulates the clock-skew inference across deconfliction
// passes. skew[reference] is always 0. pairSkew[lo,hi] records
// ts(lo)-ts(hi) from the first directly-observed match between two
// non-reference nodes.
type skewState struct {
	skew     map[uint32]int64
	pairSkew map[pairKey]int64
}

func newSkewState(referenceNode uint32) *skewState {
	return &skewState{
		skew:     map[uint32]int64{referenceNode: 0},
		pairSkew: map[pairKey]int64{},
	}
}

// fingerprint hashes the three fields that must agree for two records
// to match (drone id, latitude, longitude). It is a prefilter only:
// records sharing a fingerprint are candidates, not confirmed matches
// (node_id and the timestamp window are still checked exactly), so a
// hash collision can only cost time, never correctness.
func fingerprint(r plot.Record) uint64 {
	var buf [12]byte
	binary.LittleEndian.PutUint32(buf[0:4], r.DroneID)
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(r.Latitude))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(r.Longitude))
	return xxhash.Sum64(buf[:])
}

// isMatch is the match predicate: same drone at the same reported
// position, observed by two different nodes, within the skew window.
func isMatch(a, b plot.Record, window int64) bool {
	if a.DroneID != b.DroneID || a.NodeID == b.NodeID {
		return false
	}
	if a.Latitude != b.Latitude || a.Longitude != b.Longitude {
		return false
	}
	delta := a.Timestamp - b.Timestamp
	if delta < 0 {
		delta = -delta
	}
	return delta < window
}

// recordObservation folds one confirmed match (a encountered before b
// in timestamp order) into the skew tables, honoring "only the first
// observation of each pairing is recorded". m may be nil, in which case
// the skew observation simply isn't fed to the running variance gauge.
func (s *skewState) recordObservation(a, b plot.Record, referenceNode uint32, m *metrics.Registry) {
	switch {
	case a.NodeID == referenceNode:
		if _, known := s.skew[b.NodeID]; !known {
			v := b.Timestamp - a.Timestamp
			s.skew[b.NodeID] = v
			if m != nil {
				m.ObserveSkew(float64(v))
			}
		}
	case b.NodeID == referenceNode:
		if _, known := s.skew[a.NodeID]; !known {
			v := a.Timestamp - b.Timestamp
			s.skew[a.NodeID] = v
			if m != nil {
				m.ObserveSkew(float64(v))
			}
		}
	default:
		key := makePairKey(a.NodeID, b.NodeID)
		if _, known := s.pairSkew[key]; !known {
			lo, hi := key[0], key[1]
			var loTS, hiTS int64
			if a.NodeID == lo {
				loTS, hiTS = a.Timestamp, b.Timestamp
			} else {
				loTS, hiTS = b.Timestamp, a.Timestamp
			}
			v := loTS - hiTS
			s.pairSkew[key] = v
			if m != nil {
				m.ObserveSkew(float64(v))
			}
		}
	}
}

// inferCrossPairs derives skew[n] for any node only ever seen paired
// with another non-reference node, propagating to a fixed point so
// chains longer than one hop still resolve. Given skew(lo)-skew(hi) =
// pairSkew[lo,hi] by construction, each unresolved side is solved for
// once the other is known.
func (s *skewState) inferCrossPairs() {
	for {
		changed := false
		for key, v := range s.pairSkew {
			lo, hi := key[0], key[1]
			loKnown, loOK := s.skew[lo]
			hiKnown, hiOK := s.skew[hi]
			switch {
			case loOK && !hiOK:
				s.skew[hi] = loKnown - v
				changed = true
			case hiOK && !loOK:
				s.skew[lo] = hiKnown + v
				changed = true
			}
		}
		if !changed {
			return
		}
	}
}

// deconflictResult reports what one pass did, for metrics and tests.
type deconflictResult struct {
	Matched  int
	Adjusted int
}

// runDeconfliction runs one deconfliction pass over the current store
// contents: sort, pair-scan for duplicates (pruned by fingerprint
// bucket), fold matches into the skew tables, infer unresolved
// cross-pairs, align every not-yet-SYNCD record, then erase the
// matched duplicates in one batch.
//
// Callers are responsible for deciding when a pass is worth running
// (the store-size-change guard in Replicator.Tick); this function
// always does the full pass. m may be nil, in which case no skew
// observations are fed to the metrics registry.
func runDeconfliction(store *plot.Store, cfg Config, state *skewState, m *metrics.Registry) deconflictResult {
	store.SortByTime()
	records := store.Snapshot()

	buckets := make(map[uint64][]int, len(records))
	for i, r := range records {
		h := fingerprint(r)
		buckets[h] = append(buckets[h], i)
	}

	// Buckets are iterated in ascending order of their first (lowest)
	// index in the time-sorted records slice, not map order, so that
	// which pairing is folded into the skew tables first — and thus
	// which later duplicate of that pairing gets erased — matches
	// global timestamp order rather than Go's randomized map iteration.
	keys := make([]uint64, 0, len(buckets))
	for h := range buckets {
		keys = append(keys, h)
	}
	sort.Slice(keys, func(i, j int) bool {
		return buckets[keys[i]][0] < buckets[keys[j]][0]
	})

	erase := make(map[int]bool)
	for _, h := range keys {
		idxs := buckets[h]
		for ii := 0; ii < len(idxs); ii++ {
			i := idxs[ii]
			if erase[i] {
				continue
			}
			for jj := ii + 1; jj < len(idxs); jj++ {
				j := idxs[jj]
				if erase[j] {
					continue
				}
				a, b := records[i], records[j]
				if !isMatch(a, b, cfg.SkewWindow) {
					continue
				}
				erase[j] = true
				state.recordObservation(a, b, cfg.ReferenceNode, m)
			}
		}
	}

	state.inferCrossPairs()

	adjusted := 0
	for i, r := range records {
		if erase[i] {
			continue
		}
		if r.Flags.Has(plot.FlagSyncd) {
			continue
		}
		skew, known := state.skew[r.NodeID]
		if !known {
			continue
		}
		store.AdjustTimestamp(i, r.Timestamp-skew)
		adjusted++
	}

	if len(erase) > 0 {
		idx := make([]int, 0, len(erase))
		for i := range erase {
			idx = append(idx, i)
		}
		store.EraseIndices(idx)
	}

	return deconflictResult{Matched: len(erase), Adjusted: adjusted}
}
