// Package control wires a single node's storage, transport, and
// gossip loop together and owns its lifecycle: construction (fatal on
// any misconfiguration), Start/Shutdown, and the adjusted clock the
// replicator runs against.
package control

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/coreos/go-systemd/daemon"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dronenet/repsvr/access"
	"github.com/dronenet/repsvr/config"
	"github.com/dronenet/repsvr/crypto"
	"github.com/dronenet/repsvr/metrics"
	"github.com/dronenet/repsvr/plot"
	"github.com/dronenet/repsvr/queue"
	"github.com/dronenet/repsvr/registry"
	"github.com/dronenet/repsvr/replicator"
)

// NodeConfig is everything needed to bring one node online. All paths
// are resolved relative to the process's working directory, matching
// the source's behavior of running from the install directory.
type NodeConfig struct {
	ServersPath   string
	KeyPath       string
	WhitelistPath string // optional; empty means "allow everyone"
	BindIP        netip.Addr
	BindPort      uint16
	Runtime       config.Config
	Log           *log.Logger
}

// Node owns one node's store, connection manager, and replicator.
type Node struct {
	selfID string
	store  *plot.Store
	queue  *queue.Manager
	repl   *replicator.Replicator
	metric *metrics.Registry
	clock  *AdjustedClock
	log    *log.Entry

	cancel context.CancelFunc
}

// NewNode constructs a Node from cfg, failing fatally (a returned
// error, not a panic) on any condition that makes the node unable to
// participate at all: an unreadable peer table, a self entry that
// never matches the bind address, a missing or malformed key file, or
// a whitelist file that fails to parse.
func NewNode(cfg NodeConfig) (*Node, error) {
	reg, err := registry.Load(cfg.ServersPath)
	if err != nil {
		return nil, fmt.Errorf("control: loading peer registry: %w", err)
	}
	selfID, err := reg.RemoveSelf(cfg.BindIP, cfg.BindPort)
	if err != nil {
		return nil, fmt.Errorf("control: %w", err)
	}
	if err := reg.ValidateContiguous(selfID); err != nil {
		return nil, fmt.Errorf("control: %w", err)
	}

	key, err := crypto.LoadSharedKey(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("control: %w", err)
	}
	session, err := crypto.NewSession(key)
	if err != nil {
		return nil, fmt.Errorf("control: %w", err)
	}

	var allow access.Whitelist
	if cfg.WhitelistPath != "" {
		allow, err = access.LoadWhitelist(cfg.WhitelistPath)
		if err != nil {
			return nil, fmt.Errorf("control: loading whitelist: %w", err)
		}
	}

	logger := cfg.Log
	if logger == nil {
		logger = log.StandardLogger()
	}
	entry := logger.WithField("node_id", selfID)

	store := plot.NewStore()
	m := metrics.New()
	q := queue.NewManager(selfID, reg, session, allow)
	q.SetMetrics(m)
	addr := netip.AddrPortFrom(cfg.BindIP, cfg.BindPort)
	if err := q.Bind(addr); err != nil {
		return nil, fmt.Errorf("control: binding %s: %w", addr, err)
	}

	replCfg := replicator.Config{
		ReferenceNode: cfg.Runtime.ReferenceNode,
		ReplInterval:  cfg.Runtime.ReplInterval,
		SkewWindow:    cfg.Runtime.SkewWindow,
		TimeMult:      cfg.Runtime.TimeMult,
	}
	repl := replicator.New(store, q, replCfg, m)

	return &Node{
		selfID: selfID,
		store:  store,
		queue:  q,
		repl:   repl,
		metric: m,
		clock:  NewAdjustedClock(cfg.Runtime.TimeMult),
		log:    entry,
	}, nil
}

// SelfID reports the node's own id, as resolved from the peer table.
func (n *Node) SelfID() string {
	return n.selfID
}

// Store exposes the plot store so the antenna ingest goroutine can
// append records directly.
func (n *Node) Store() *plot.Store {
	return n.store
}

// Metrics exposes the node's metrics registry, for wiring an HTTP
// listener and counting ingested plots.
func (n *Node) Metrics() *metrics.Registry {
	return n.metric
}

// AdjustedClock exposes the node's adjusted-time clock.
func (n *Node) AdjustedClock() *AdjustedClock {
	return n.clock
}

// Start launches the replicator loop under an errgroup and notifies
// systemd (if running under it) once the loop is up. It blocks until
// ctx is cancelled or the replicator hits a fatal error.
func (n *Node) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return n.repl.Run(ctx, n.clock)
	})

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		n.log.Warnf("sd_notify ready failed: %v", err)
	} else if sent {
		n.log.Debug("sd_notify(READY=1) delivered")
	}

	err := g.Wait()
	n.queue.Close()
	return err
}

// Shutdown cancels the node's context, signalling Start's goroutines
// to return at their next loop iteration.
func (n *Node) Shutdown() {
	if n.cancel != nil {
		n.cancel()
	}
}

// AdjustedClock scales wall-clock seconds since its construction by a
// fixed multiplier, giving the replicator a clock that can be sped up
// for testing or simulation without touching the host's real time.
type AdjustedClock struct {
	start time.Time
	mult  float64
}

// NewAdjustedClock starts the clock now, at the given multiplier.
func NewAdjustedClock(mult float64) *AdjustedClock {
	if mult == 0 {
		mult = 1.0
	}
	return &AdjustedClock{start: time.Now(), mult: mult}
}

// Now returns adjusted-time seconds since construction, satisfying
// replicator.Clock.
func (c *AdjustedClock) Now() int64 {
	return int64(time.Since(c.start).Seconds() * c.mult)
}
