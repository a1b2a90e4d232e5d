package models

import "encoding/json"

// SignalType represents the type of a signaling message
type SignalType string

const (
	// Relayed between the two parties of a session. The payload is opaque to
	// the server.
	SignalTypeOffer     SignalType = "offer"
	SignalTypeAnswer    SignalType = "answer"
	SignalTypeCandidate SignalType = "candidate"
	SignalTypeError     SignalType = "error"

	// Control messages.
	SignalTypeRegistered SignalType = "registered" // server -> peer: identity assigned
	SignalTypeCall       SignalType = "call"       // viewer -> server: open a session with "to"
	SignalTypeIncoming   SignalType = "incoming"   // server -> camera: a viewer is calling
	SignalTypeReady      SignalType = "ready"      // peer -> server: transport is usable
	SignalTypeHangup     SignalType = "hangup"     // peer -> server: close the session
	SignalTypeStatus     SignalType = "status"     // server -> peer: session state changed
)

// Relayed reports whether messages of this type are forwarded to the other
// party of a session.
func (t SignalType) Relayed() bool {
	switch t {
	case SignalTypeOffer, SignalTypeAnswer, SignalTypeCandidate, SignalTypeError:
		return true
	}
	return false
}

// SignalMessage represents a signaling message. Ref is chosen by the sender
// of a "call" and echoed in the server's reply.
type SignalMessage struct {
	Type      SignalType      `json:"type"`
	From      string          `json:"from,omitempty"`
	To        string          `json:"to,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Ref       string          `json:"ref,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	State     SessionState    `json:"state,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Code      string          `json:"code,omitempty"`
	Error     string          `json:"error,omitempty"`
}
