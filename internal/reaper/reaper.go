// Package reaper evicts stale connections and drives the periodic server
// heartbeat broadcast described in spec.md §4.F.
package reaper

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/hedge-system/hedge-ws/internal/clientpool"
	"github.com/hedge-system/hedge-ws/internal/config"
	"github.com/hedge-system/hedge-ws/internal/serverstate"
)

// Reaper ticks every heartbeat_interval_seconds, evicting clients whose
// last_heartbeat is older than connection_timeout_seconds and broadcasting
// a server heartbeat to the survivors.
type Reaper struct {
	pool   *clientpool.Pool
	cfg    *config.RuntimeConfig
	status *serverstate.Store
	log    *zap.Logger
}

func New(pool *clientpool.Pool, cfg *config.RuntimeConfig, status *serverstate.Store, log *zap.Logger) *Reaper {
	return &Reaper{pool: pool, cfg: cfg, status: status, log: log}
}

// Run blocks until ctx is cancelled, ticking at the current heartbeat
// interval. The interval is re-read from cfg every tick so update_config
// changes take effect without a restart.
func (r *Reaper) Run(ctx context.Context) {
	interval := time.Duration(r.cfg.HeartbeatIntervalSeconds()) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick()

			next := time.Duration(r.cfg.HeartbeatIntervalSeconds()) * time.Second
			if next > 0 && next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// tick evicts stale clients in two phases: collect ids under a read-only
// pass, then remove them, so the removal pass never holds a lock across
// the broadcast below (§4.F).
func (r *Reaper) tick() {
	timeout := time.Duration(r.cfg.ConnectionTimeoutSeconds()) * time.Second
	deadline := time.Now().Add(-timeout)

	stale := make([]string, 0)
	for _, snap := range r.pool.ListSnapshots() {
		if snap.LastHeartbeat.Before(deadline) {
			stale = append(stale, snap.ID)
		}
	}

	for _, id := range stale {
		r.pool.Remove(id)
	}
	if len(stale) > 0 && r.log != nil {
		r.log.Info("reaped stale connections", zap.Int("count", len(stale)))
	}
	if r.status != nil {
		r.status.SetConnectedClients(r.pool.Count())
	}

	payload, err := json.Marshal(struct {
		Type      string `json:"type"`
		Timestamp string `json:"timestamp"`
		Server    string `json:"server"`
	}{Type: "HEARTBEAT", Timestamp: time.Now().UTC().Format(time.RFC3339Nano), Server: "hedge-system-ws"})
	if err != nil {
		return
	}
	r.pool.Broadcast(payload)
}
