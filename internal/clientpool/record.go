// Package clientpool implements the per-client record (§4.B) and the
// connection pool registry (§4.C) described in spec.md.
package clientpool

import (
	"sync"
	"time"
)

// Quality is the categorical mapping of the most recent measured latency.
type Quality string

const (
	QualityExcellent Quality = "EXCELLENT"
	QualityGood      Quality = "GOOD"
	QualityPoor      Quality = "POOR"
	QualityUnknown   Quality = "UNKNOWN"
)

// qualityFromLatency is a pure, synchronous function of latency_ms, per
// spec.md §3: <50ms EXCELLENT, <100ms GOOD, >=100ms POOR.
func qualityFromLatency(ms float64) Quality {
	switch {
	case ms < 50:
		return QualityExcellent
	case ms < 100:
		return QualityGood
	default:
		return QualityPoor
	}
}

// EAInfo is the trading-platform identity an EA reports at AUTH time.
type EAInfo struct {
	Version     string `json:"version"`
	Platform    string `json:"platform"` // MT4 | MT5 | other
	Account     string `json:"account"`
	ServerName  string `json:"serverName,omitempty"`
	CompanyName string `json:"companyName,omitempty"`
}

// RecordSnapshot is a value copy of a ClientRecord safe to hand to callers
// (list_clients, detailed_stats) without holding any lock and without
// exposing the outbound handle.
type RecordSnapshot struct {
	ID            string
	ConnectedAt   time.Time
	LastHeartbeat time.Time
	LastMessageAt time.Time
	Authenticated bool
	EAInfo        *EAInfo
	MessageCount  uint64
	ErrorCount    uint64
	LatencyMs     *float64
	Quality       Quality
}

// ClientRecord is the per-connection metadata object described in §3/§4.B.
// ID and ConnectedAt are immutable after construction; every other field is
// guarded by mu. The outbound channel is itself concurrency-safe and is
// never touched under mu, so sends never happen while a lock is held.
type ClientRecord struct {
	ID          string
	ConnectedAt time.Time

	outbound chan []byte

	mu            sync.Mutex
	lastHeartbeat time.Time
	lastMessageAt time.Time
	authenticated bool
	eaInfo        *EAInfo
	messageCount  uint64
	errorCount    uint64
	latencyMs     *float64
	quality       Quality
}

// NewClientRecord creates a fresh record at accept time. last_heartbeat
// starts at connection time, satisfying the invariant that it is the
// maximum of connection time, any inbound text/pong, or successful AUTH.
func NewClientRecord(id string, outboundCapacity int) *ClientRecord {
	now := time.Now().UTC()
	return &ClientRecord{
		ID:            id,
		ConnectedAt:   now,
		outbound:      make(chan []byte, outboundCapacity),
		lastHeartbeat: now,
		quality:       QualityUnknown,
	}
}

// Send enqueues a frame on the outbound channel without blocking. It
// returns false if the channel is full or closed, the same best-effort
// contract §4.C's broadcast relies on.
func (c *ClientRecord) Send(payload []byte) (ok bool) {
	defer func() {
		// Sending on a closed channel panics; Remove() closes it
		// concurrently with in-flight broadcasts, so guard against that
		// race rather than serialize every send behind the pool lock.
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case c.outbound <- payload:
		return true
	default:
		return false
	}
}

// Outbound exposes the receive side for the session writer goroutine.
func (c *ClientRecord) Outbound() <-chan []byte {
	return c.outbound
}

// Close releases the outbound handle, which terminates the session's
// writer goroutine (§3's invariant: removing a record releases the
// outbound handle).
func (c *ClientRecord) Close() {
	defer func() { recover() }() // idempotent: a second Close must not panic
	close(c.outbound)
}

// PatchHeartbeat bumps last_heartbeat to now. Called on any inbound text,
// ping or pong frame; connect time and successful AUTH set last_heartbeat
// through NewClientRecord and PatchAuth instead.
func (c *ClientRecord) PatchHeartbeat() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastHeartbeat = time.Now().UTC()
}

// LastHeartbeat returns the last heartbeat time under lock, used by the
// reaper to decide eviction without racing a concurrent patch.
func (c *ClientRecord) LastHeartbeat() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHeartbeat
}

// PatchMessageArrival records that a message was read from the client.
func (c *ClientRecord) PatchMessageArrival() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastMessageAt = time.Now().UTC()
	c.messageCount++
}

// PatchLatency records the most recent measured round-trip and
// synchronously recomputes the derived quality class.
func (c *ClientRecord) PatchLatency(ms float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latencyMs = &ms
	c.quality = qualityFromLatency(ms)
}

// PatchAuth marks the record authenticated and stores the reported EA
// identity. It also bumps last_heartbeat, per the invariant in §3.
func (c *ClientRecord) PatchAuth(info EAInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authenticated = true
	eaInfo := info
	c.eaInfo = &eaInfo
	c.lastHeartbeat = time.Now().UTC()
}

// Authenticated reports whether AUTH has succeeded on this connection.
func (c *ClientRecord) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// IncError increments the per-client error counter.
func (c *ClientRecord) IncError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorCount++
}

// Snapshot returns a lock-free value copy for UI consumption.
func (c *ClientRecord) Snapshot() RecordSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	var latency *float64
	if c.latencyMs != nil {
		v := *c.latencyMs
		latency = &v
	}
	var ea *EAInfo
	if c.eaInfo != nil {
		v := *c.eaInfo
		ea = &v
	}
	return RecordSnapshot{
		ID:            c.ID,
		ConnectedAt:   c.ConnectedAt,
		LastHeartbeat: c.lastHeartbeat,
		LastMessageAt: c.lastMessageAt,
		Authenticated: c.authenticated,
		EAInfo:        ea,
		MessageCount:  c.messageCount,
		ErrorCount:    c.errorCount,
		LatencyMs:     latency,
		Quality:       c.quality,
	}
}
