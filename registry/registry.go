// Package registry loads the static peer table ("servers.txt") shared
// by every node in the fleet and removes the local node's own entry
// once it knows what address it bound to.
package registry

import (
	"bufio"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
)

// Peer is one entry in the peer table.
type Peer struct {
	ID   string
	IP   netip.Addr
	Port uint16
}

// Registry is the immutable-after-load peer table, minus whichever
// entry RemoveSelf claimed as the local identity.
type Registry struct {
	peers map[string]Peer
	order []string
}

// Load reads a line-oriented "peer_id, ip, port" config file. Blank
// lines end parsing early, matching the source's loop-until-empty-line
// behavior.
func Load(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	defer f.Close()

	r := &Registry{peers: map[string]Peer{}}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			break
		}
		p, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("registry: %s: %w", path, err)
		}
		if _, dup := r.peers[p.ID]; dup {
			return nil, fmt.Errorf("registry: duplicate peer id %q", p.ID)
		}
		r.peers[p.ID] = p
		r.order = append(r.order, p.ID)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(r.peers) == 0 {
		return nil, fmt.Errorf("registry: %s contained no peers", path)
	}
	return r, nil
}

func parseLine(line string) (Peer, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 3 {
		return Peer{}, fmt.Errorf("malformed line %q", line)
	}
	id := strings.TrimSpace(fields[0])
	ipStr := strings.TrimSpace(fields[1])
	portStr := strings.TrimSpace(fields[2])

	ip, err := netip.ParseAddr(ipStr)
	if err != nil {
		return Peer{}, fmt.Errorf("bad ip %q: %w", ipStr, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Peer{}, fmt.Errorf("bad port %q: %w", portStr, err)
	}
	return Peer{ID: id, IP: ip, Port: uint16(port)}, nil
}

// RemoveSelf deletes the entry matching (ip, port) and returns its
// peer_id as the local node's identity. It fails fatally if no entry
// matches, per the source's bindSvr contract.
func (r *Registry) RemoveSelf(ip netip.Addr, port uint16) (string, error) {
	for _, id := range r.order {
		p := r.peers[id]
		if p.IP == ip && p.Port == port {
			delete(r.peers, id)
			r.order = removeString(r.order, id)
			return id, nil
		}
	}
	return "", fmt.Errorf("registry: no entry for %s:%d in the peer table", ip, port)
}

func removeString(s []string, v string) []string {
	out := s[:0:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

// Get looks up a peer by id.
func (r *Registry) Get(id string) (Peer, bool) {
	p, ok := r.peers[id]
	return p, ok
}

// All returns every remaining peer (self already removed), in load
// order.
func (r *Registry) All() []Peer {
	out := make([]Peer, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.peers[id])
	}
	return out
}

// Len reports how many peers remain.
func (r *Registry) Len() int {
	return len(r.order)
}

// ValidateContiguous checks that every remaining peer id, plus the
// local selfID, parses as a contiguous run of integers starting at 1 —
// the assumption the skew table's node_id-1 array indexing depends on
// (spec open question: the source never validates this).
func (r *Registry) ValidateContiguous(selfID string) error {
	ids := append([]string{selfID}, r.order...)
	seen := map[int]bool{}
	max := 0
	for _, id := range ids {
		n, err := strconv.Atoi(id)
		if err != nil {
			return fmt.Errorf("registry: node id %q is not numeric, required for contiguous 1..N ids", id)
		}
		if n < 1 {
			return fmt.Errorf("registry: node id %d must be >= 1", n)
		}
		seen[n] = true
		if n > max {
			max = n
		}
	}
	for n := 1; n <= max; n++ {
		if !seen[n] {
			return fmt.Errorf("registry: node ids are not contiguous from 1: missing %d", n)
		}
	}
	return nil
}
