// Package wire defines the envelope protocol spoken on the multiplexed
// realtime connection and the JSON shapes shared by live frames and the
// REST history endpoints.
package wire

import "encoding/json"

// Envelope types.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeMessage     = "message"
)

// Envelope is the wire unit for every frame on the shared connection.
// Payload is opaque at this layer; only channel owners interpret it.
type Envelope struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Subscribe returns a subscribe envelope for `channel`.
func Subscribe(channel string) *Envelope {
	return &Envelope{Type: TypeSubscribe, Channel: channel}
}

// Unsubscribe returns an unsubscribe envelope for `channel`.
func Unsubscribe(channel string) *Envelope {
	return &Envelope{Type: TypeUnsubscribe, Channel: channel}
}

// Message wraps an already-encoded payload into a message envelope.
func Message(channel string, payload json.RawMessage) *Envelope {
	return &Envelope{Type: TypeMessage, Channel: channel, Payload: payload}
}

// DecodeEnvelope parses one inbound frame.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// Encode marshals the envelope for the wire.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}
