package reaper

import (
	"testing"
	"time"

	"github.com/hedge-system/hedge-ws/internal/clientpool"
	"github.com/hedge-system/hedge-ws/internal/config"
	"github.com/hedge-system/hedge-ws/internal/serverstate"
)

func newRuntimeCfg(t *testing.T, heartbeatSeconds, timeoutSeconds int) *config.RuntimeConfig {
	t.Helper()
	rc := config.NewRuntimeConfig(config.Config{})
	rc.Update(config.Snapshot{
		HeartbeatIntervalSeconds: heartbeatSeconds,
		ConnectionTimeoutSeconds: timeoutSeconds,
	})
	return rc
}

func TestTickEvictsStaleClients(t *testing.T) {
	pool := clientpool.NewPool(4)
	fresh := pool.Add("fresh")
	stale := pool.Add("stale")

	// Nothing refreshes either client's heartbeat; a short sleep past a
	// zero-width timeout makes both look old. A zero-width timeout means
	// "older than now", so any client whose last heartbeat isn't refreshed
	// again is stale.
	_ = fresh
	_ = stale

	rc := newRuntimeCfg(t, 1, 0) // timeout 0 => deadline is "now", everyone not re-heartbeaten is stale
	time.Sleep(5 * time.Millisecond)

	status := serverstate.NewStore()
	r := New(pool, rc, status, nil)
	r.tick()

	if pool.Count() != 0 {
		t.Fatalf("expected all clients to be reaped with a zero timeout, got %d remaining", pool.Count())
	}
}

func TestTickKeepsFreshClients(t *testing.T) {
	pool := clientpool.NewPool(4)
	pool.Add("fresh")

	rc := newRuntimeCfg(t, 1, 300) // generous timeout
	status := serverstate.NewStore()
	r := New(pool, rc, status, nil)
	r.tick()

	if pool.Count() != 1 {
		t.Fatalf("expected fresh client to survive, got count %d", pool.Count())
	}
}

func TestTickBroadcastsHeartbeat(t *testing.T) {
	pool := clientpool.NewPool(4)
	rec := pool.Add("client-1")

	rc := newRuntimeCfg(t, 1, 300)
	status := serverstate.NewStore()
	r := New(pool, rc, status, nil)
	r.tick()

	select {
	case payload := <-rec.Outbound():
		if len(payload) == 0 {
			t.Fatal("expected non-empty heartbeat payload")
		}
	default:
		t.Fatal("expected a heartbeat frame to be enqueued")
	}
}
