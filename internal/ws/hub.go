package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"watchparty-service/internal/broadcast"
	"watchparty-service/internal/models"
	"watchparty-service/internal/observability"
	"watchparty-service/internal/presence"
)

const (
	// CloseRemoved is sent to a participant the host removed.
	CloseRemoved = 4001
	// CloseRoomEnded is sent to every socket of a room the host ended.
	CloseRoomEnded = 4002
)

type roomClient interface {
	Info() ConnInfo
	SendEvent(event models.RoomEvent) error
	CloseGracefully(code int, reason string)
	Close(code int, reason string)
}

// Hub tracks the open sockets of every room and applies room control
// notifications (removal, room end) to them. A room's control key is watched
// while the room has at least one socket on this node.
type Hub struct {
	bus     broadcast.Bus
	rooms   map[string]map[roomClient]struct{}
	unwatch map[string]func()
	mu      sync.RWMutex
}

// NewHub creates an empty hub listening for control notifications on bus.
func NewHub(bus broadcast.Bus) *Hub {
	return &Hub{
		bus:     bus,
		rooms:   make(map[string]map[roomClient]struct{}),
		unwatch: make(map[string]func()),
	}
}

// Add registers a socket for roomID.
func (h *Hub) Add(roomID string, client roomClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[roomClient]struct{})
		h.unwatch[roomID] = presence.WatchControl(h.bus, roomID, func(c presence.Control) {
			h.applyControl(roomID, c)
		})
	}
	h.rooms[roomID][client] = struct{}{}
}

// Remove unregisters a socket. The room's control watch stops with its last
// socket.
func (h *Hub) Remove(roomID string, client roomClient) {
	h.mu.Lock()
	var unwatch func()
	if clients, ok := h.rooms[roomID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.rooms, roomID)
			unwatch = h.unwatch[roomID]
			delete(h.unwatch, roomID)
		}
	}
	h.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
}

// Count returns how many sockets roomID has on this node.
func (h *Hub) Count(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// CloseAll closes every socket, used on shutdown.
func (h *Hub) CloseAll(code int, reason string) {
	for _, client := range h.clients(func(string, roomClient) bool { return true }) {
		client.Close(code, reason)
	}
}

// Drain closes every socket and waits until each session has left its room
// and unregistered, or ctx is done.
func (h *Hub) Drain(ctx context.Context, code int, reason string) error {
	h.CloseAll(code, reason)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		h.mu.RLock()
		open := len(h.rooms)
		h.mu.RUnlock()
		if open == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (h *Hub) applyControl(roomID string, c presence.Control) {
	switch c.Type {
	case presence.ControlKicked:
		targets := h.clients(func(id string, client roomClient) bool {
			return id == roomID && client.Info().UserID == c.ParticipantID
		})
		for _, client := range targets {
			_ = client.SendEvent(models.RoomEvent{Type: models.EventRemoved})
			client.CloseGracefully(CloseRemoved, "removed from room")
			publishWSEvent(context.Background(), "ws_kicked", client.Info(), "removed by host")
		}
	case presence.ControlEnded:
		targets := h.clients(func(id string, _ roomClient) bool { return id == roomID })
		for _, client := range targets {
			_ = client.SendEvent(models.RoomEvent{Type: models.EventEnded})
			client.CloseGracefully(CloseRoomEnded, "room ended")
		}
	default:
		log.Warn().Str("room_id", roomID).Str("type", c.Type).Msg("unknown room control")
	}
}

func (h *Hub) clients(keep func(roomID string, client roomClient) bool) []roomClient {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []roomClient
	for roomID, clients := range h.rooms {
		for client := range clients {
			if keep(roomID, client) {
				out = append(out, client)
			}
		}
	}
	return out
}

func publishWSEvent(ctx context.Context, event string, info ConnInfo, reason string) {
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":        "room",
			"resource_id": info.RoomID,
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.Client.DeviceID,
			"ip":        info.Client.IP,
		},
	}

	headers := observability.BuildHeaders(info.Client.RequestID, info.TraceID)
	_ = observability.PublishEvent(ctx, "ws_events.rooms", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	}, headers)
	observability.IncWSEvent("room", event)
}

var _ roomClient = (*Client)(nil)

// disconnectReason describes a read error and reports whether the socket
// ended abnormally.
func disconnectReason(err error) (string, bool) {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, CloseRemoved, CloseRoomEnded) {
		return err.Error(), false
	}
	return err.Error(), true
}
