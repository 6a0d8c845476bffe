// Package access implements a whitelist-based access-list file loader:
// a flat newline-delimited list of IP addresses permitted to open
// inbound connections to the queue manager's listening socket.
package access

import (
	"bufio"
	"net/netip"
	"os"
	"strings"
)

// Whitelist is the set of IP addresses allowed to connect inbound.
type Whitelist struct {
	allowed map[netip.Addr]struct{}
}

// LoadWhitelist reads a newline-delimited IP list. Blank lines are
// skipped.
func LoadWhitelist(path string) (Whitelist, error) {
	f, err := os.Open(path)
	if err != nil {
		return Whitelist{}, err
	}
	defer f.Close()

	w := Whitelist{allowed: map[netip.Addr]struct{}{}}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		addr, err := netip.ParseAddr(line)
		if err != nil {
			return Whitelist{}, err
		}
		w.allowed[addr] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return Whitelist{}, err
	}
	return w, nil
}

// Allowed reports whether ip may open an inbound connection. An empty
// (zero-value) Whitelist allows everything, matching a deployment that
// never configured a whitelist file.
func (w Whitelist) Allowed(ip netip.Addr) bool {
	if len(w.allowed) == 0 {
		return true
	}
	_, ok := w.allowed[ip]
	return ok
}
