// Package session implements the per-connection state machine described in
// spec.md §4.D: ACCEPTED -> AUTHENTICATED -> CLOSED, with a reader goroutine
// dispatching frames and a writer goroutine draining the outbound queue.
// The read/dispatch/write split is grounded on go-server-3's
// internal/transport connection handler and go-server/pkg/websocket's
// batched writer.
package session

import (
	"encoding/json"
	"net"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"github.com/hedge-system/hedge-ws/internal/clientpool"
	"github.com/hedge-system/hedge-ws/internal/config"
	"github.com/hedge-system/hedge-ws/internal/protocol"
	"github.com/hedge-system/hedge-ws/internal/serverstate"
)

// State is the session's position in the ACCEPTED/AUTHENTICATED/CLOSED
// machine, stored as an int32 so State() can be read lock-free.
type State int32

const (
	StateAccepted State = iota
	StateAuthenticated
	StateClosed
)

// writeBatchMax bounds how many queued frames one writer-loop iteration
// drains before yielding, the same batching go-server's client.go applies
// to avoid one fast producer starving the writer's ability to notice close.
const writeBatchMax = 16

// Session owns one accepted connection end to end: reading frames,
// dispatching them through internal/protocol, and writing replies/
// broadcasts back out.
type Session struct {
	conn   net.Conn
	record *clientpool.ClientRecord
	pool   *clientpool.Pool
	cfg    *config.RuntimeConfig
	pub    protocol.EventPublisher
	status *serverstate.Store
	log    *zap.Logger

	state int32
}

// New wires up a session for an already-upgraded connection. The caller
// (internal/transport) has already registered record with pool.
func New(conn net.Conn, record *clientpool.ClientRecord, pool *clientpool.Pool, cfg *config.RuntimeConfig, pub protocol.EventPublisher, status *serverstate.Store, log *zap.Logger) *Session {
	return &Session{
		conn:   conn,
		record: record,
		pool:   pool,
		cfg:    cfg,
		pub:    pub,
		status: status,
		log:    log.With(zap.String("client_id", record.ID)),
	}
}

// State returns the current session state.
func (s *Session) State() State {
	return State(atomic.LoadInt32(&s.state))
}

func (s *Session) setState(st State) {
	atomic.StoreInt32(&s.state, int32(st))
}

// Run drives the session until the connection closes, the read loop errors,
// or the record is removed from the pool (writeLoop then closes the
// connection). It blocks; callers run it in its own goroutine per accepted
// connection.
func (s *Session) Run() {
	done := make(chan struct{})
	go func() {
		s.writeLoop()
		close(done)
	}()

	s.readLoop()

	s.pool.Remove(s.record.ID) // closes the outbound channel, which ends writeLoop
	<-done
	_ = s.conn.Close()
	s.setState(StateClosed)
}

func (s *Session) readLoop() {
	for {
		msg, err := wsutil.ReadClientData(s.conn)
		if err != nil {
			if s.log != nil {
				s.log.Debug("read loop ended", zap.Error(err))
			}
			return
		}

		switch msg.OpCode {
		case ws.OpClose:
			return
		case ws.OpPing:
			s.record.PatchHeartbeat()
			if err := wsutil.WriteServerMessage(s.conn, ws.OpPong, msg.Payload); err != nil {
				return
			}
		case ws.OpPong:
			s.record.PatchHeartbeat()
		case ws.OpText:
			s.record.PatchHeartbeat()
			s.handleText(msg.Payload)
		default:
			// Binary frames are outside the protocol's closed vocabulary;
			// logged and dropped, counted as a client error, never fatal.
			if s.log != nil {
				s.log.Debug("dropping binary frame", zap.Int("opcode", int(msg.OpCode)))
			}
			s.record.IncError()
		}
	}
}

func (s *Session) handleText(payload []byte) {
	arrival := time.Now()
	s.record.PatchMessageArrival()
	if s.status != nil {
		s.status.IncRecv()
	}

	env, err := protocol.Parse(payload)
	if err != nil {
		s.reject(err)
		return
	}

	sess := protocol.Session{
		ClientID:      s.record.ID,
		Authenticated: s.State() == StateAuthenticated,
		ExpectedToken: s.cfg.AuthToken(),
	}

	outcome, err := protocol.Dispatch(sess, env, s.pub)
	if err != nil {
		s.reject(err)
		return
	}

	if outcome.Authenticated {
		s.setState(StateAuthenticated)
		var info clientpool.EAInfo
		if outcome.EAInfo != nil {
			info = clientpool.EAInfo{
				Version:     outcome.EAInfo.Version,
				Platform:    outcome.EAInfo.Platform,
				Account:     outcome.EAInfo.Account,
				ServerName:  outcome.EAInfo.ServerName,
				CompanyName: outcome.EAInfo.CompanyName,
			}
		}
		s.record.PatchAuth(info)
	}

	if outcome.Reply != nil && s.record.Send(outcome.Reply) {
		s.record.PatchLatency(float64(time.Since(arrival).Microseconds()) / 1000.0)
	}
}

func (s *Session) reject(err error) {
	s.record.IncError()
	if s.status != nil {
		s.status.IncErr()
	}
	payload, marshalErr := json.Marshal(struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}{Type: protocol.TypeError, Message: err.Error()})
	if marshalErr != nil {
		return
	}
	s.record.Send(payload)
}

// writeLoop drains the outbound queue until it is closed (normal exit, or
// Pool.Remove called from outside this session by the reaper or
// Manager.Disconnect) or a write fails. Either way it closes the connection
// on exit, so a readLoop blocked in wsutil.ReadClientData with no deadline
// is always unblocked instead of leaking a goroutine and a live socket.
func (s *Session) writeLoop() {
	defer func() { _ = s.conn.Close() }()
	for {
		first, ok := <-s.record.Outbound()
		if !ok {
			return
		}
		batch := [][]byte{first}
	drain:
		for len(batch) < writeBatchMax {
			select {
			case next, ok := <-s.record.Outbound():
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}

		for _, frame := range batch {
			if err := wsutil.WriteServerMessage(s.conn, ws.OpText, frame); err != nil {
				if s.log != nil {
					s.log.Debug("write failed, closing session", zap.Error(err))
				}
				return
			}
			if s.status != nil {
				s.status.IncSent()
			}
		}
	}
}
