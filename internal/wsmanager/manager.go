// Package wsmanager implements the WSServerManager control surface
// described in spec.md §4.H: the single process-wide entry point the host
// application uses to start, stop, and inspect the embedded WebSocket
// server.
package wsmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hedge-system/hedge-ws/internal/clientpool"
	"github.com/hedge-system/hedge-ws/internal/config"
	"github.com/hedge-system/hedge-ws/internal/eventbus"
	"github.com/hedge-system/hedge-ws/internal/metrics"
	"github.com/hedge-system/hedge-ws/internal/monitor"
	"github.com/hedge-system/hedge-ws/internal/protocol"
	"github.com/hedge-system/hedge-ws/internal/reaper"
	"github.com/hedge-system/hedge-ws/internal/serverstate"
	"github.com/hedge-system/hedge-ws/internal/transport"
)

// Manager is the WSServerManager singleton. The host application owns one
// instance for the lifetime of the process.
type Manager struct {
	base config.Config
	log  *zap.Logger
	reg  *metrics.Registry
	pub  protocol.EventPublisher

	mu      sync.Mutex
	running bool

	runtimeCfg *config.RuntimeConfig
	status     *serverstate.Store
	pool       *clientpool.Pool
	srv        *transport.Server
	mon        *monitor.Monitor
	cancel     context.CancelFunc
}

// New constructs a stopped Manager. pub may be nil, in which case
// eventbus.NoopPublisher is used so Start always succeeds without a broker.
func New(base config.Config, log *zap.Logger, reg *metrics.Registry, pub protocol.EventPublisher) *Manager {
	if pub == nil {
		pub = eventbus.NoopPublisher{}
	}
	return &Manager{
		base:   base,
		log:    log,
		reg:    reg,
		pub:    pub,
		status: serverstate.NewStore(),
	}
}

// StartOptions overrides the loaded configuration for one run; zero values
// mean "use the current value" (§4.A's partial-patch semantics).
type StartOptions struct {
	Host           string
	Port           int
	AuthToken      string
	MaxConnections int
}

// Start binds the listener and launches the reaper and monitor. Calling
// Start while already running returns an error rather than silently
// rebinding (§4.H).
func (m *Manager) Start(opts StartOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("wsmanager: already running")
	}

	// The runtime cell is seeded from the loaded config on the first Start
	// only, so UpdateConfig changes carry over into the next Start.
	if m.runtimeCfg == nil {
		m.runtimeCfg = config.NewRuntimeConfig(m.base)
	}
	m.runtimeCfg.Update(config.Snapshot{
		Host:           opts.Host,
		Port:           opts.Port,
		AuthToken:      opts.AuthToken,
		MaxConnections: opts.MaxConnections,
	})

	m.pool = clientpool.NewPool(m.base.WebSocket.SendChannelSize)
	m.mon = monitor.New(m.pool, m.status, m.reg, m.log)

	snap := m.runtimeCfg.Snapshot()
	srv, err := transport.New(snap.Host, snap.Port, m.pool, m.runtimeCfg, m.pub, m.status, m.log)
	if err != nil {
		return err
	}
	m.srv = srv

	boundPort := snap.Port
	if tcpAddr, ok := srv.Addr().(*net.TCPAddr); ok {
		boundPort = tcpAddr.Port
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	go reaper.New(m.pool, m.runtimeCfg, m.status, m.log).Run(ctx)
	go m.mon.Run(ctx)
	go func() {
		if err := m.srv.Serve(); err != nil && m.log != nil {
			m.log.Error("transport serve exited", zap.Error(err))
		}
	}()

	m.status.MarkStarted(snap.Host, boundPort)
	m.running = true
	return nil
}

// Stop is idempotent: stopping an already-stopped manager is a no-op.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	if m.cancel != nil {
		m.cancel()
	}
	if m.srv != nil {
		_ = m.srv.Close()
	}
	if m.pool != nil {
		m.pool.RemoveAll()
	}
	m.status.MarkStopped()
	m.running = false
}

// Status returns the current ServerStatus snapshot. ConnectedClients is
// read live from the pool rather than the reaper's last tick, so it never
// lags behind list_clients() (§8's quiescent-point invariant).
func (m *Manager) Status() serverstate.Status {
	m.mu.Lock()
	pool := m.pool
	m.mu.Unlock()

	snap := m.status.Snapshot()
	if pool != nil {
		snap.ConnectedClients = pool.Count()
	}
	return snap
}

// ListClients returns a snapshot of every connected client.
func (m *Manager) ListClients() []clientpool.RecordSnapshot {
	m.mu.Lock()
	pool := m.pool
	m.mu.Unlock()
	if pool == nil {
		return nil
	}
	return pool.ListSnapshots()
}

// Disconnect force-closes one client's connection by id.
func (m *Manager) Disconnect(clientID string) error {
	m.mu.Lock()
	pool := m.pool
	m.mu.Unlock()
	if pool == nil {
		return fmt.Errorf("wsmanager: not running")
	}
	if _, ok := pool.Get(clientID); !ok {
		return fmt.Errorf("wsmanager: unknown client %q", clientID)
	}
	pool.Remove(clientID)
	return nil
}

// UpdateConfig applies a partial patch to the live runtime configuration.
// Host/port changes only take effect on the next Start, per §4.H.
func (m *Manager) UpdateConfig(patch config.Snapshot) error {
	m.mu.Lock()
	rc := m.runtimeCfg
	m.mu.Unlock()
	if rc == nil {
		return fmt.Errorf("wsmanager: not running")
	}
	rc.Update(patch)
	return nil
}

// Broadcast sends a text payload to every connected client, best-effort.
func (m *Manager) Broadcast(text string) (enqueued int, dropped int, err error) {
	m.mu.Lock()
	pool := m.pool
	m.mu.Unlock()
	if pool == nil {
		return 0, 0, fmt.Errorf("wsmanager: not running")
	}
	payload, marshalErr := json.Marshal(struct {
		Type      string `json:"type"`
		Data      string `json:"data"`
		Timestamp string `json:"timestamp"`
	}{Type: "INFO", Data: text, Timestamp: time.Now().UTC().Format(time.RFC3339Nano)})
	if marshalErr != nil {
		return 0, 0, marshalErr
	}
	e, d := pool.Broadcast(payload)
	return e, d, nil
}

// PerformanceMetrics returns the most recent rollup.
func (m *Manager) PerformanceMetrics() monitor.PerformanceMetrics {
	m.mu.Lock()
	mon := m.mon
	m.mu.Unlock()
	if mon == nil {
		return monitor.PerformanceMetrics{}
	}
	return mon.Latest()
}

// OptimizeResult summarizes one OptimizePerformance pass: how many
// low-quality connections it shed and the rollup it recomputed afterward.
type OptimizeResult struct {
	DisconnectedPoorQuality []string                   `json:"disconnectedPoorQuality"`
	Performance             monitor.PerformanceMetrics `json:"performance"`
}

// OptimizePerformance proactively sheds connections currently classified
// clientpool.QualityPoor and forces an immediate monitor rollup, instead of
// waiting for the reaper's next heartbeat-timeout tick. It is a distinct,
// host-invoked control-surface operation: the reaper only ever evicts on
// heartbeat staleness, never on measured latency.
func (m *Manager) OptimizePerformance() OptimizeResult {
	m.mu.Lock()
	pool := m.pool
	mon := m.mon
	m.mu.Unlock()

	if pool == nil {
		return OptimizeResult{}
	}

	shed := make([]string, 0)
	for _, snap := range pool.ListSnapshots() {
		if snap.Quality == clientpool.QualityPoor {
			shed = append(shed, snap.ID)
		}
	}
	for _, id := range shed {
		pool.Remove(id)
	}
	if len(shed) > 0 && m.log != nil {
		m.log.Info("optimize_websocket_performance shed poor-quality connections", zap.Int("count", len(shed)))
	}

	var perf monitor.PerformanceMetrics
	if mon != nil {
		mon.Tick()
		perf = mon.Latest()
	}
	return OptimizeResult{DisconnectedPoorQuality: shed, Performance: perf}
}

// DetailedStats is the composite view §4.H's detailed_stats() call
// returns. SystemHealth is intentionally left for the host application to
// fill in: platform resource probing is out of scope here (§6 Non-goals).
type DetailedStats struct {
	Server              serverstate.Status            `json:"server"`
	Performance         monitor.PerformanceMetrics    `json:"performance"`
	ConnectionQualities map[string]clientpool.Quality `json:"connectionQualities"`
	SystemHealth        map[string]any                `json:"systemHealth"`
}

func (m *Manager) DetailedStats() DetailedStats {
	qualities := make(map[string]clientpool.Quality)
	for _, snap := range m.ListClients() {
		qualities[snap.ID] = snap.Quality
	}
	return DetailedStats{
		Server:              m.Status(),
		Performance:         m.PerformanceMetrics(),
		ConnectionQualities: qualities,
		SystemHealth:        map[string]any{},
	}
}
