package ws

import (
	"time"

	"watchparty-service/internal/observability"
)

// ConnInfo describes one room socket for the hub and for published events.
type ConnInfo struct {
	ConnID      string
	RoomID      string
	UserID      string
	Username    string
	IsHost      bool
	Client      observability.ClientMeta
	TraceID     string
	ConnectedAt time.Time
}
