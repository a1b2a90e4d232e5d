package models

import "time"

// SessionState is the lifecycle state of a camera/viewer pairing.
type SessionState string

const (
	SessionPending     SessionState = "pending"
	SessionNegotiating SessionState = "negotiating"
	SessionActive      SessionState = "active"
	SessionClosed      SessionState = "closed"
)

var sessionStateOrder = map[SessionState]int{
	SessionPending:     0,
	SessionNegotiating: 1,
	SessionActive:      2,
	SessionClosed:      3,
}

// Rank orders states along the lifecycle. Unknown states rank -1.
func (s SessionState) Rank() int {
	if r, ok := sessionStateOrder[s]; ok {
		return r
	}
	return -1
}

func (s SessionState) Open() bool {
	return s != SessionClosed && s.Rank() >= 0
}

// Close reasons reported in status messages.
const (
	ReasonHangup           = "hangup"
	ReasonPeerDisconnected = "peer_disconnected"
	ReasonPeerError        = "peer_error"
	ReasonPreempted        = "preempted"
	ReasonSuperseded       = "superseded"
	ReasonPendingTimeout   = "pending_timeout"
	ReasonAdmin            = "admin"
)

// SessionInfo is a read-only snapshot of a session.
type SessionInfo struct {
	ID          string       `json:"id"`
	CameraID    string       `json:"cameraId"`
	ViewerID    string       `json:"viewerId"`
	State       SessionState `json:"state"`
	CameraReady bool         `json:"cameraReady"`
	ViewerReady bool         `json:"viewerReady"`
	Answered    bool         `json:"answered"`
	CallRef     string       `json:"-"`
	Reason      string       `json:"reason,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// Peer returns the other party of the session, or "" if id is not a party.
func (s SessionInfo) Peer(id string) string {
	switch id {
	case s.CameraID:
		return s.ViewerID
	case s.ViewerID:
		return s.CameraID
	}
	return ""
}

// PeerLookupResponse answers GET /api/peers/:peerId.
type PeerLookupResponse struct {
	ID         string `json:"id"`
	Registered bool   `json:"registered"`
}
