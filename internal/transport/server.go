// Package transport owns the TCP accept loop and WebSocket upgrade,
// grounded on go-server-3/internal/transport/server.go's use of gobwas/ws
// for a manual RFC 6455 handshake over a raw net.Conn.
package transport

import (
	"errors"
	"fmt"
	"net"

	"github.com/gobwas/ws"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hedge-system/hedge-ws/internal/clientpool"
	"github.com/hedge-system/hedge-ws/internal/config"
	"github.com/hedge-system/hedge-ws/internal/protocol"
	"github.com/hedge-system/hedge-ws/internal/serverstate"
	"github.com/hedge-system/hedge-ws/internal/session"
)

// Server owns the listener and hands each accepted, upgraded connection to
// a new session.
type Server struct {
	pool   *clientpool.Pool
	cfg    *config.RuntimeConfig
	pub    protocol.EventPublisher
	status *serverstate.Store
	log    *zap.Logger

	listener net.Listener
}

// New builds a transport server bound to host:port. The listener is opened
// immediately so Start can report bind failures synchronously.
func New(host string, port int, pool *clientpool.Pool, cfg *config.RuntimeConfig, pub protocol.EventPublisher, status *serverstate.Store, log *zap.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("listen %s:%d: %w", host, port, err)
	}
	return &Server{
		pool:     pool,
		cfg:      cfg,
		pub:      pub,
		status:   status,
		log:      log,
		listener: ln,
	}, nil
}

// Addr returns the bound address, useful when port 0 was requested.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve runs the accept loop until the listener is closed. It never
// returns an error for a clean shutdown (net.ErrClosed), matching the
// teacher's convention of treating listener-closed as expected.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if isClosedErr(err) {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	return s.listener.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	if s.pool.Count() >= s.cfg.MaxConnections() {
		// Excess sockets are dropped and logged, never surfaced to the
		// caller as a protocol-level error (§4.D).
		s.log.Warn("rejecting connection: max_connections reached", zap.String("remote", conn.RemoteAddr().String()))
		_ = conn.Close()
		return
	}

	if _, err := ws.Upgrade(conn); err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		_ = conn.Close()
		return
	}

	id := uuid.New().String()
	record := s.pool.Add(id)
	sess := session.New(conn, record, s.pool, s.cfg, s.pub, s.status, s.log)
	sess.Run()
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
