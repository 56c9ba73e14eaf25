package models

// Chat message types.
const (
	MessageTypeMessage = "message"
	MessageTypeSystem  = "system"
	MessageTypeJoin    = "join"
	MessageTypeLeave   = "leave"
)

// System messages are attributed to this pseudo user.
const (
	SystemUserID   = "system"
	SystemUsername = "Sistema"
)

// ChatMessage is one entry of a room's append-only log.
type ChatMessage struct {
	ID        int64  `json:"id"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
}

// Participant is one entry of a room's roster.
type Participant struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	JoinedAt string `json:"joinedAt"`
	IsHost   bool   `json:"isHost"`
	IsOnline bool   `json:"isOnline"`
}

// Snapshot event types pushed to room sockets.
const (
	EventMessages     = "messages"
	EventParticipants = "participants"
	EventError        = "error"
	EventRemoved      = "removed"
	EventEnded        = "ended"
)

// RoomEvent is a full-state snapshot pushed over a room socket.
type RoomEvent struct {
	Type    string `json:"type"`
	Version int64  `json:"version,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ClientCommand is a frame sent by a room socket client.
type ClientCommand struct {
	Type          string `json:"type"`
	Message       string `json:"message,omitempty"`
	ParticipantID string `json:"participantId,omitempty"`
}

// Client command types.
const (
	CommandMessage = "message"
	CommandRemove  = "remove"
)
