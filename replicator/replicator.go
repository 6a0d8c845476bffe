// Package replicator implements the main gossip loop: periodic
// broadcast of newly-ingested records, draining of inbound batches
// delivered by the Queue Manager, and the clock-skew deconfliction
// pass that collapses duplicate observations.
package replicator

import (
	"context"
	"errors"
	"time"

	"github.com/dronenet/repsvr/frame"
	"github.com/dronenet/repsvr/metrics"
	"github.com/dronenet/repsvr/plot"
	"github.com/dronenet/repsvr/queue"
	"github.com/dronenet/repsvr/wire"
)

// Clock supplies adjusted time (wall seconds since start, scaled by
// Config.TimeMult) to Run's loop. control.AdjustedClock satisfies this
// implicitly; the interface lives here, not in control, so the two
// packages don't import each other.
type Clock interface {
	Now() int64
}

// Replicator drives one node's gossip loop. It is not safe for
// concurrent use; Run (or repeated manual Tick calls) must be the only
// caller touching it.
type Replicator struct {
	store *plot.Store
	queue *queue.Manager
	cfg   Config
	m     *metrics.Registry

	lastReplAt int64
	lastSize   int
	skew       *skewState
}

// New constructs a Replicator over store and q. m may be nil, in which
// case metrics are simply not recorded.
func New(store *plot.Store, q *queue.Manager, cfg Config, m *metrics.Registry) *Replicator {
	return &Replicator{
		store: store,
		queue: q,
		cfg:   cfg,
		m:     m,
		skew:  newSkewState(cfg.ReferenceNode),
	}
}

// Tick performs one loop iteration: drive the Queue Manager, run a
// periodic broadcast scan if the interval has elapsed, drain the queue
// (this both hands off freshly queued outbound sends to launchDataConn
// and pulls in any newly delivered inbound batches), and run the
// deconfliction pass if the store has grown since the last one.
// adjustedNow is the current adjusted-time clock reading in seconds.
func (r *Replicator) Tick(adjustedNow int64) error {
	if err := r.queue.HandleQueue(time.Now()); err != nil {
		return err
	}

	if r.lastReplAt == 0 || time.Duration(adjustedNow-r.lastReplAt)*time.Second >= r.cfg.ReplInterval {
		r.broadcastScan()
		r.lastReplAt = adjustedNow
	}

	r.drainInbound()

	if size := r.store.Len(); size != r.lastSize {
		start := time.Now()
		result := runDeconfliction(r.store, r.cfg, r.skew, r.m)
		if r.m != nil {
			r.m.DeconflictDuration.Observe(time.Since(start).Seconds())
			if result.Matched > 0 {
				r.m.RecordsDeduped.Add(float64(result.Matched))
			}
		}
		r.lastSize = r.store.Len()
	}

	return nil
}

// drainInbound moves every payload the Queue Manager has fully
// assembled into the store, preserving each record's node_id. The wire
// codec never carries flags, so inserted records start with NEW and
// SYNCD both clear.
func (r *Replicator) drainInbound() {
	for {
		_, payload, ok := r.queue.Pop()
		if !ok {
			return
		}
		records, err := frame.DecodeBatch(payload)
		if err != nil {
			// malformed batch: a protocol-framing error, dropped
			// without retry.
			continue
		}
		for _, rec := range records {
			r.store.AddRecord(rec)
		}
		if r.m != nil {
			r.m.BatchesReceived.Inc()
		}
	}
}

// broadcastScan collects every NEW record, clears NEW the moment it is
// serialized, and hands the encoded batch to the Queue Manager for
// delivery to every registered peer. With an empty peer list this
// still clears NEW but SendToAll is a no-op.
func (r *Replicator) broadcastScan() {
	snapshot := r.store.Snapshot()
	var fresh []plot.Record
	for i, rec := range snapshot {
		if !rec.Flags.Has(plot.FlagNew) {
			continue
		}
		fresh = append(fresh, rec)
		r.store.MutateFlags(i, func(f *plot.Flags) { *f &^= plot.FlagNew })
	}
	if len(fresh) == 0 {
		return
	}
	batch := frame.EncodeBatch(fresh)
	r.queue.SendToAll(batch)
	if r.m != nil {
		r.m.BatchesSent.Inc()
	}
}

// Run loops Tick until ctx is cancelled, sleeping ~1ms between
// iterations so it yields instead of busy-spinning.
func (r *Replicator) Run(ctx context.Context, clock Clock) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := r.Tick(clock.Now()); err != nil {
			var wireErr *wire.Error
			if errors.As(err, &wireErr) && wireErr.Kind == wire.KindFatal {
				return err
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}
