// Package auditlog implements a per-peer append-only log writer: one
// line of plain text per event, written to "<peer_id>server.log".
package auditlog

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// Log is an append-only, newline-per-event log file.
type Log struct {
	mu sync.Mutex
	f  *os.File
}

// Open opens (creating if necessary) the log file for peerID.
func Open(peerID string) (*Log, error) {
	f, err := os.OpenFile(peerID+"server.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Log{f: f}, nil
}

// Line appends one formatted, timestamped line.
func (l *Log) Line(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(l.f, "%s %s\n", time.Now().UTC().Format(time.RFC3339), msg)
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
