package session

import (
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"github.com/hedge-system/hedge-ws/internal/clientpool"
	"github.com/hedge-system/hedge-ws/internal/config"
	"github.com/hedge-system/hedge-ws/internal/eventbus"
	"github.com/hedge-system/hedge-ws/internal/serverstate"
)

// TestRunClosesConnectionOnExternalEviction guards against a session's
// connection leaking when something other than the session itself (the
// reaper, or Manager.Disconnect) removes its record from the pool.
// readLoop has no read deadline, so the only way it ever notices is if
// closing the outbound channel also closes the socket.
func TestRunClosesConnectionOnExternalEviction(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	pool := clientpool.NewPool(4)
	record := pool.Add("client-1")
	rc := config.NewRuntimeConfig(config.Config{Auth: config.AuthConfig{Token: "secret"}})

	sess := New(serverConn, record, pool, rc, eventbus.NoopPublisher{}, serverstate.NewStore(), zap.NewNop())

	runDone := make(chan struct{})
	go func() {
		sess.Run()
		close(runDone)
	}()

	// Simulate an external eviction: the session's own readLoop never
	// errors out on its own here, this is what the reaper/Disconnect do.
	pool.Remove("client-1")

	if err := clientConn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("unexpected deadline error: %v", err)
	}
	buf := make([]byte, 1)
	if _, err := clientConn.Read(buf); err == nil {
		t.Fatal("expected the client side to observe the connection close after external eviction")
	}

	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("expected Run to return once the connection closed")
	}
}

// TestBinaryFrameCountsAsClientError guards spec.md §4.D's requirement that
// binary frames are logged and dropped, counted as a client error, but
// never tear down the session.
func TestBinaryFrameCountsAsClientError(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	pool := clientpool.NewPool(4)
	record := pool.Add("client-1")
	rc := config.NewRuntimeConfig(config.Config{Auth: config.AuthConfig{Token: "secret"}})
	sess := New(serverConn, record, pool, rc, eventbus.NoopPublisher{}, serverstate.NewStore(), zap.NewNop())

	runDone := make(chan struct{})
	go func() {
		sess.Run()
		close(runDone)
	}()

	if err := wsutil.WriteClientMessage(clientConn, ws.OpBinary, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for record.Snapshot().ErrorCount == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := record.Snapshot().ErrorCount; got != 1 {
		t.Fatalf("expected binary frame to increment error count once, got %d", got)
	}

	clientConn.Close()
	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("expected Run to return after the client closed")
	}
}

// TestHandleTextSkipsLatencyWhenReplyDropped guards spec.md §4.D's
// "on successful send" qualifier: a reply that cannot be enqueued because
// the outbound queue is full must not update latency_ms/quality as if it
// went out.
func TestHandleTextSkipsLatencyWhenReplyDropped(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	pool := clientpool.NewPool(1)
	record := pool.Add("client-1")
	rc := config.NewRuntimeConfig(config.Config{Auth: config.AuthConfig{Token: "secret"}})
	sess := New(serverConn, record, pool, rc, eventbus.NoopPublisher{}, serverstate.NewStore(), zap.NewNop())

	if !record.Send([]byte("filler")) {
		t.Fatal("expected filler send to fill the single-slot outbound queue")
	}

	sess.handleText([]byte(`{"type":"HEARTBEAT"}`))

	snap := record.Snapshot()
	if snap.LatencyMs != nil {
		t.Fatalf("expected latency to stay unset when the reply could not be enqueued, got %v", *snap.LatencyMs)
	}
	if snap.Quality != clientpool.QualityUnknown {
		t.Fatalf("expected quality to stay UNKNOWN, got %v", snap.Quality)
	}
}
