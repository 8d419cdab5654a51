package clientpool

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
)

const shardCount = 16

// shard is one partition of the registry, grounded on go-server-3's
// internal/session/hub.go sharded-map design, generalized to key by the
// UUID client id instead of a monotonic connection id.
type shard struct {
	mu      sync.RWMutex
	records map[string]*ClientRecord
}

// Pool is the registry of active connections keyed by client id (§4.C).
// Sharding exists purely to spread lock contention across accept/remove/
// broadcast traffic; it is invisible to callers.
type Pool struct {
	shards [shardCount]*shard

	totalConnections  int64 // cumulative, never decremented
	activeConnections int64
	peakConnections   int64
	droppedTotal      int64 // cumulative, never decremented

	outboundCapacity int
}

// NewPool builds an empty registry. outboundCapacity sizes every new
// ClientRecord's outbound channel (websocket.send_channel_size).
func NewPool(outboundCapacity int) *Pool {
	p := &Pool{outboundCapacity: outboundCapacity}
	for i := range p.shards {
		p.shards[i] = &shard{records: make(map[string]*ClientRecord)}
	}
	return p
}

func (p *Pool) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return p.shards[h.Sum32()%shardCount]
}

// Add registers a new client id and returns its record. The id space is
// UUIDs minted by the caller, so collisions are not expected; Add still
// overwrites any stale entry defensively rather than erroring.
func (p *Pool) Add(id string) *ClientRecord {
	rec := NewClientRecord(id, p.outboundCapacity)

	sh := p.shardFor(id)
	sh.mu.Lock()
	sh.records[id] = rec
	sh.mu.Unlock()

	atomic.AddInt64(&p.totalConnections, 1)
	active := atomic.AddInt64(&p.activeConnections, 1)
	for {
		peak := atomic.LoadInt64(&p.peakConnections)
		if active <= peak || atomic.CompareAndSwapInt64(&p.peakConnections, peak, active) {
			break
		}
	}
	return rec
}

// Remove drops a client id, closing its outbound channel. It is a no-op if
// the id is not present, so callers never need to check existence first.
func (p *Pool) Remove(id string) {
	sh := p.shardFor(id)
	sh.mu.Lock()
	rec, ok := sh.records[id]
	if ok {
		delete(sh.records, id)
	}
	sh.mu.Unlock()

	if ok {
		rec.Close()
		atomic.AddInt64(&p.activeConnections, -1)
	}
}

// RemoveAll drops every registered client, closing each outbound channel.
// Manager.Stop uses this so running == false implies the connection count
// is zero and no session goroutines remain attached to the pool.
func (p *Pool) RemoveAll() {
	for _, snap := range p.ListSnapshots() {
		p.Remove(snap.ID)
	}
}

// Get returns a record by id, or false if not present.
func (p *Pool) Get(id string) (*ClientRecord, bool) {
	sh := p.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	rec, ok := sh.records[id]
	return rec, ok
}

// Count returns the number of currently registered clients.
func (p *Pool) Count() int {
	return int(atomic.LoadInt64(&p.activeConnections))
}

// TotalConnections returns the cumulative accept count since the pool was
// created, used by PerformanceMetrics.total_connections.
func (p *Pool) TotalConnections() int64 {
	return atomic.LoadInt64(&p.totalConnections)
}

// PeakConnections returns the high-water mark of concurrent connections.
func (p *Pool) PeakConnections() int64 {
	return atomic.LoadInt64(&p.peakConnections)
}

// DroppedTotal returns the cumulative number of broadcast enqueues skipped
// because a client's outbound queue was full, since the pool was created.
func (p *Pool) DroppedTotal() int64 {
	return atomic.LoadInt64(&p.droppedTotal)
}

// ListSnapshots returns a value-copy snapshot of every registered client,
// in no particular order, for list_clients and detailed_stats.
func (p *Pool) ListSnapshots() []RecordSnapshot {
	out := make([]RecordSnapshot, 0, p.Count())
	for _, sh := range p.shards {
		sh.mu.RLock()
		for _, rec := range sh.records {
			out = append(out, rec.Snapshot())
		}
		sh.mu.RUnlock()
	}
	return out
}

// Broadcast fans a frame out to every connected client's outbound queue,
// non-blocking. It returns the number of clients the frame was actually
// enqueued for; a full queue counts as a per-client error (§4.C) rather
// than aborting the broadcast.
func (p *Pool) Broadcast(payload []byte) (enqueued int, dropped int) {
	for _, sh := range p.shards {
		sh.mu.RLock()
		records := make([]*ClientRecord, 0, len(sh.records))
		for _, rec := range sh.records {
			records = append(records, rec)
		}
		sh.mu.RUnlock()

		for _, rec := range records {
			if rec.Send(payload) {
				enqueued++
			} else {
				rec.IncError()
				dropped++
			}
		}
	}
	if dropped > 0 {
		atomic.AddInt64(&p.droppedTotal, int64(dropped))
	}
	return enqueued, dropped
}
