package models

import "time"

// SignalKind enumerates WebRTC-style signaling messages relayed through a
// Room, spec §4.4.
type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalICE       SignalKind = "ice_candidate"
	SignalJoin      SignalKind = "join"
	SignalLeave     SignalKind = "leave"
)

// SignalMessage is one relayed signaling message within a Room.
type SignalMessage struct {
	RoomID    string     `json:"room_id"`
	FromID    string     `json:"from_id"`
	ToID      string     `json:"to_id,omitempty"` // target participant; the signaling plane drops messages without one
	Kind      SignalKind `json:"kind"`
	SDP       string     `json:"sdp,omitempty"`
	Candidate string     `json:"candidate,omitempty"`
	SentAt    time.Time  `json:"sent_at"`
}

// ParticipantRole distinguishes the single frame broadcaster (the Simulation
// Agent) from viewers, enforcing the at-most-one-broadcaster invariant.
type ParticipantRole string

const (
	RoleBroadcaster ParticipantRole = "broadcaster"
	RoleViewer      ParticipantRole = "viewer"
)

// Participant is one connected WebSocket client within a Room.
type Participant struct {
	ID       string          `json:"id"`
	UserID   string          `json:"user_id"`
	Role     ParticipantRole `json:"role"`
	JoinedAt time.Time       `json:"joined_at"`
}

// Room is the Media Signaling Plane's per-Session broadcast domain, spec §3
// "Room". It outlives brief viewer disconnects for SignalingRoomGrace before
// tearing down (spec §6 SIGNALING_ROOM_GRACE_MS).
type Room struct {
	ID           string        `json:"id"`
	SessionID    string        `json:"session_id"`
	Generation   int           `json:"generation"`
	CreatedAt    time.Time     `json:"created_at"`
	Participants []Participant `json:"participants,omitempty"`
}
