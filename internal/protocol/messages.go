// Package protocol implements the wire message envelope and dispatch rules
// described in spec.md §4.E: a closed set of JSON message types exchanged
// over the session's text frames.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Message type constants, the closed vocabulary spec.md §4.E names.
const (
	TypeAuth         = "AUTH"
	TypeAuthSuccess  = "AUTH_SUCCESS"
	TypeHeartbeat    = "HEARTBEAT"
	TypeHeartbeatAck = "HEARTBEAT_ACK"
	TypeOpened       = "OPENED"
	TypeClosed       = "CLOSED"
	TypeError        = "ERROR"
	TypePrice        = "PRICE"
	TypePong         = "PONG"
	TypeInfo         = "INFO"
)

// eaEventTypes is the set of message types that represent EA trading
// events forwarded upward (§4.E), as opposed to session control messages.
// PONG is included: it is the JSON envelope's heartbeat-reply event, a
// distinct thing from the WS-level Pong frame session.go's readLoop
// already answers, and like the other event types it requires
// authentication and is forwarded via EventPublisher rather than answered
// inline.
var eaEventTypes = map[string]bool{
	TypeOpened: true,
	TypeClosed: true,
	TypeError:  true,
	TypePrice:  true,
	TypePong:   true,
	TypeInfo:   true,
}

// IsEAEvent reports whether a message type is a forwarded EA event rather
// than a session-control message (AUTH/HEARTBEAT).
func IsEAEvent(msgType string) bool {
	return eaEventTypes[msgType]
}

// Envelope captures the message type up front while preserving the raw
// payload bytes for type-specific decoding, the same two-pass shape as
// aungmyooo2k17-whisper-chat's internal/protocol Envelope.UnmarshalJSON.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	var head struct {
		Type json.RawMessage `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	// A present-but-non-string type (number, object, bool, null) is treated
	// the same as a missing type rather than a JSON parse failure: leave
	// e.Type empty and let Parse's knownType/empty check report it.
	var typ string
	if len(head.Type) > 0 {
		_ = json.Unmarshal(head.Type, &typ)
	}
	e.Type = typ
	e.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// AuthPayload is the body of an AUTH message. eaInfo is optional per
// spec.md §4.E: a client may AUTH with only a token and identify itself
// later, or never.
type AuthPayload struct {
	Token  string      `json:"token"`
	EAInfo *EAInfoWire `json:"eaInfo"`
}

// EAInfoWire is the wire shape of eaInfo reported at AUTH time, matching
// §3's ea_info fields exactly (serverName/companyName optional).
type EAInfoWire struct {
	Version     string `json:"version"`
	Platform    string `json:"platform"`
	Account     string `json:"account"`
	ServerName  string `json:"serverName,omitempty"`
	CompanyName string `json:"companyName,omitempty"`
}

// EventPayload is the body of OPENED/CLOSED/ERROR/PRICE/INFO messages. The
// server does not interpret event fields beyond type; it stamps and
// forwards them verbatim, so Data carries whatever the EA sent.
type EventPayload struct {
	Data json.RawMessage `json:"data,omitempty"`
}

// ProtocolError is a client-facing rejection, carrying the exact wording
// spec.md §4.E specifies so the EA side can match on message text.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string { return e.Message }

func errInvalidJSON() error { return &ProtocolError{Message: "Invalid JSON"} }
func errMissingType() error { return &ProtocolError{Message: "Missing message type"} }
func errUnknownType(t string) error {
	return &ProtocolError{Message: fmt.Sprintf("Unknown message type: %s", t)}
}
func errMissingToken() error     { return &ProtocolError{Message: "Missing auth token"} }
func errInvalidToken() error     { return &ProtocolError{Message: "Invalid auth token"} }
func errNotAuthenticated() error { return &ProtocolError{Message: "Client not authenticated"} }

// Parse decodes the envelope and validates it is a known, non-empty type.
// It does not check authentication; that is the dispatcher's job once it
// knows the originating session's state.
func Parse(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errInvalidJSON()
	}
	if env.Type == "" {
		return nil, errMissingType()
	}
	if !knownType(env.Type) {
		return nil, errUnknownType(env.Type)
	}
	return &env, nil
}

func knownType(t string) bool {
	switch t {
	case TypeAuth, TypeHeartbeat, TypePong, TypeOpened, TypeClosed, TypeError, TypePrice, TypeInfo:
		return true
	default:
		return false
	}
}
