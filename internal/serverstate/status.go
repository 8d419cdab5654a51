// Package serverstate holds the cumulative ServerStatus counters described
// in spec.md §3/§4.A: a single mutex-guarded cell, mutated through small
// helper methods so callers never hand-manage the lock.
package serverstate

import (
	"sync"
	"time"
)

// Status is the UI-visible snapshot of server health.
type Status struct {
	Running          bool
	Host             string
	Port             int
	ConnectedClients int
	MessagesReceived uint64
	MessagesSent     uint64
	Errors           uint64
	UptimeSeconds    float64
	StartedAt        *time.Time
}

// Store guards Status behind a single mutex. Reads take the lock only long
// enough to copy the struct; no I/O ever happens while held.
type Store struct {
	mu     sync.Mutex
	status Status
}

// NewStore returns a Store in the stopped state.
func NewStore() *Store {
	return &Store{}
}

// MarkStarted resets counters to zero and records the bind address and
// start time, per spec.md §3's invariant that counters reset only on a
// fresh start.
func (s *Store) MarkStarted(host string, port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	s.status = Status{
		Running:   true,
		Host:      host,
		Port:      port,
		StartedAt: &now,
	}
}

// MarkStopped clears the running flag, connection count and start
// timestamp, per spec.md §3's invariant: running==false implies connection
// count 0 and no start timestamp.
func (s *Store) MarkStopped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Running = false
	s.status.ConnectedClients = 0
	s.status.StartedAt = nil
}

// SetConnectedClients updates the live connection count.
func (s *Store) SetConnectedClients(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.ConnectedClients = n
}

// IncRecv increments the cumulative received-message counter.
func (s *Store) IncRecv() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.MessagesReceived++
}

// IncSent increments the cumulative sent-message counter.
func (s *Store) IncSent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.MessagesSent++
}

// IncErr increments the cumulative error counter.
func (s *Store) IncErr() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Errors++
}

// Snapshot returns a point-in-time copy with uptime computed relative to
// StartedAt, the way spec.md §4.H's status() call requires.
func (s *Store) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.status
	if snap.Running && snap.StartedAt != nil {
		snap.UptimeSeconds = time.Since(*snap.StartedAt).Seconds()
	} else {
		snap.UptimeSeconds = 0
	}
	return snap
}
