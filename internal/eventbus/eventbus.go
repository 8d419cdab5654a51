// Package eventbus forwards decoded EA events upward over NATS, resolving
// spec.md §4.E's open question about the forwarding transport. It is
// grounded on go-server/pkg/nats/client.go's connect/publish shape.
package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// SubjectPrefix namespaces every published subject as
// "hedge.ws.events.<msgType>".
const SubjectPrefix = "hedge.ws.events"

// event is the envelope published on the wire, carrying enough context for
// a subscriber to attribute the event without re-parsing the EA payload.
type event struct {
	ClientID  string          `json:"clientId"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// NatsPublisher publishes events to a NATS subject per message type.
type NatsPublisher struct {
	conn *nats.Conn
	log  *zap.Logger
}

// Dial connects to a NATS server. Connection retry/backoff is left to
// nats.go's own Connect options rather than hand-rolled, matching
// go-server's client.
func Dial(url string, log *zap.Logger) (*NatsPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("hedge-ws"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NatsPublisher{conn: conn, log: log}, nil
}

// Publish sends one event, JSON-encoded, to hedge.ws.events.<msgType>.
func (p *NatsPublisher) Publish(clientID string, msgType string, raw json.RawMessage) error {
	evt := event{
		ClientID:  clientID,
		Type:      msgType,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := SubjectPrefix + "." + msgType
	if err := p.conn.Publish(subject, payload); err != nil {
		if p.log != nil {
			p.log.Warn("nats publish failed", zap.String("subject", subject), zap.Error(err))
		}
		return err
	}
	return nil
}

// Close closes the underlying NATS connection. It calls Conn.Close, not
// Conn.Drain.
func (p *NatsPublisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}

// NoopPublisher discards every event. It is the fallback used when no
// NATS URL is configured, so the server remains fully functional without
// a broker (there is no durability requirement on event forwarding).
type NoopPublisher struct{}

func (NoopPublisher) Publish(string, string, json.RawMessage) error { return nil }
