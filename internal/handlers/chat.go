package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"watchparty-service/internal/middleware"
	"watchparty-service/internal/models"
	"watchparty-service/internal/presence"
	"watchparty-service/internal/rooms"
	"watchparty-service/internal/telemetry"
)

type roomGetter interface {
	GetRoom(ctx context.Context, roomID string) (models.Room, error)
}

// ChatHandler exposes a room's chat log and roster over REST. Writes go
// through a presence engine, so connected sockets see them like any other
// change.
type ChatHandler struct {
	rooms   roomGetter
	engines *presence.Factory
	audit   *telemetry.AuditEmitter
}

// NewChatHandler builds a ChatHandler. audit may be nil.
func NewChatHandler(rooms roomGetter, engines *presence.Factory, audit *telemetry.AuditEmitter) *ChatHandler {
	return &ChatHandler{rooms: rooms, engines: engines, audit: audit}
}

// GetMessages returns the room's chat log, oldest first.
func (h *ChatHandler) GetMessages(c *gin.Context) {
	room, engine, ok := h.memberEngine(c)
	if !ok {
		return
	}
	defer engine.Cleanup()

	c.JSON(http.StatusOK, gin.H{"roomId": room.ID, "messages": engine.Messages(c.Request.Context())})
}

// PostMessage appends a chat message as the authenticated user.
func (h *ChatHandler) PostMessage(c *gin.Context) {
	var req struct {
		Message string `json:"message" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, engine, ok := h.memberEngine(c)
	if !ok {
		return
	}
	defer engine.Cleanup()
	if !room.IsActive {
		respondDirectoryError(c, rooms.ErrInactive)
		return
	}

	if err := engine.SendMessage(c.Request.Context(), req.Message); err != nil {
		if errors.Is(err, presence.ErrEmptyMessage) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "message is empty"})
			return
		}
		respondDirectoryError(c, err)
		return
	}

	publishRoomEvent(c, "message_posted", room.ID, nil)
	c.JSON(http.StatusCreated, gin.H{"status": "sent"})
}

// GetParticipants returns the room's roster.
func (h *ChatHandler) GetParticipants(c *gin.Context) {
	room, engine, ok := h.memberEngine(c)
	if !ok {
		return
	}
	defer engine.Cleanup()

	c.JSON(http.StatusOK, gin.H{"roomId": room.ID, "participants": engine.Participants(c.Request.Context())})
}

// RemoveParticipant drops a participant from the roster. Host only; the
// removed user's sockets are closed.
func (h *ChatHandler) RemoveParticipant(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.GetString(middleware.UserIDKey)

	room, err := h.rooms.GetRoom(ctx, c.Param("room_id"))
	if err != nil {
		respondDirectoryError(c, err)
		return
	}
	if room.HostID != userID {
		respondDirectoryError(c, rooms.ErrNotHost)
		return
	}
	participantID := c.Param("participant_id")
	if participantID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "the host cannot remove itself"})
		return
	}

	engine := h.engines.New(room.ID, userID, "")
	defer engine.Cleanup()
	if err := engine.RemoveParticipant(ctx, participantID); err != nil {
		respondDirectoryError(c, err)
		return
	}

	publishRoomEvent(c, "participant_removed", room.ID, map[string]interface{}{"participant_id": participantID})
	h.audit.Emit(ctx, auditEntry(c, telemetry.ActionParticipantRemoved, room.ID, "participant "+participantID+" removed"))
	c.Status(http.StatusNoContent)
}

// memberEngine loads the room and returns an engine for the caller when the
// caller is the host or on the roster. On failure the response is written.
func (h *ChatHandler) memberEngine(c *gin.Context) (models.Room, *presence.Engine, bool) {
	ctx := c.Request.Context()
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return models.Room{}, nil, false
	}

	room, err := h.rooms.GetRoom(ctx, c.Param("room_id"))
	if err != nil {
		respondDirectoryError(c, err)
		return models.Room{}, nil, false
	}

	if room.HostID != user.ID && !onRoster(ctx, h.engines, room.ID, user.ID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant of this room"})
		return models.Room{}, nil, false
	}

	return room, h.engines.New(room.ID, user.ID, user.Username), true
}
