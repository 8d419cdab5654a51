package protocol

import (
	"encoding/json"
	"time"
)

// EventPublisher forwards a decoded EA event upward. Implementations must
// not block the session's read loop; internal/eventbus.NatsPublisher and
// NoopPublisher both satisfy this.
type EventPublisher interface {
	Publish(clientID string, msgType string, raw json.RawMessage) error
}

// Session is the subset of session state the dispatcher needs, kept
// narrow so protocol never imports internal/session (it would be a
// circular import; session imports protocol to dispatch).
type Session struct {
	ClientID      string
	Authenticated bool
	ExpectedToken string
}

// Outcome tells the caller what, if anything, to write back and whether
// the session should transition to AUTHENTICATED.
type Outcome struct {
	Reply         []byte // nil if nothing to send back
	Authenticated bool   // true once this message authenticates the session
	EAInfo        *EAInfoFields
}

// EAInfoFields is the identity reported in a successful AUTH, handed back
// to the caller so it can patch the client record without this package
// importing clientpool.
type EAInfoFields struct {
	Version     string
	Platform    string
	Account     string
	ServerName  string
	CompanyName string
}

// Dispatch validates auth state and type-specific shape, returning a
// wire-ready reply or an error using the exact wording §4.E specifies.
// pub may be nil only for control messages (AUTH/HEARTBEAT), which never
// forward anywhere. PONG is an EA event like OPENED/CLOSED/ERROR/PRICE/
// INFO: it requires authentication and is forwarded via pub, not handled
// as a control message.
func Dispatch(sess Session, env *Envelope, pub EventPublisher) (Outcome, error) {
	switch env.Type {
	case TypeAuth:
		return dispatchAuth(sess, env)
	case TypeHeartbeat:
		return dispatchHeartbeat()
	default:
		if !sess.Authenticated {
			return Outcome{}, errNotAuthenticated()
		}
		return dispatchEvent(sess, env, pub)
	}
}

func dispatchAuth(sess Session, env *Envelope) (Outcome, error) {
	var payload AuthPayload
	if err := json.Unmarshal(env.Raw, &payload); err != nil {
		return Outcome{}, errInvalidJSON()
	}
	if payload.Token == "" {
		return Outcome{}, errMissingToken()
	}
	if payload.Token != sess.ExpectedToken {
		return Outcome{}, errInvalidToken()
	}

	reply, err := json.Marshal(struct {
		Type      string `json:"type"`
		Timestamp string `json:"timestamp"`
		ClientID  string `json:"clientId"`
	}{Type: TypeAuthSuccess, Timestamp: time.Now().UTC().Format(time.RFC3339Nano), ClientID: sess.ClientID})
	if err != nil {
		return Outcome{}, err
	}

	outcome := Outcome{Reply: reply, Authenticated: true}
	if payload.EAInfo != nil {
		outcome.EAInfo = &EAInfoFields{
			Version:     payload.EAInfo.Version,
			Platform:    payload.EAInfo.Platform,
			Account:     payload.EAInfo.Account,
			ServerName:  payload.EAInfo.ServerName,
			CompanyName: payload.EAInfo.CompanyName,
		}
	}
	return outcome, nil
}

func dispatchHeartbeat() (Outcome, error) {
	reply, err := json.Marshal(struct {
		Type      string `json:"type"`
		Timestamp string `json:"timestamp"`
	}{Type: TypeHeartbeatAck, Timestamp: time.Now().UTC().Format(time.RFC3339Nano)})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Reply: reply}, nil
}

func dispatchEvent(sess Session, env *Envelope, pub EventPublisher) (Outcome, error) {
	var payload EventPayload
	if err := json.Unmarshal(env.Raw, &payload); err != nil {
		return Outcome{}, errInvalidJSON()
	}
	if pub != nil {
		// Forwarding is best-effort; a broker outage must not take down
		// the session or surface as a protocol error to the EA.
		_ = pub.Publish(sess.ClientID, env.Type, env.Raw)
	}
	return Outcome{}, nil
}
