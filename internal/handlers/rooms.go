package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"watchparty-service/internal/auth"
	"watchparty-service/internal/middleware"
	"watchparty-service/internal/models"
	"watchparty-service/internal/presence"
	"watchparty-service/internal/rooms"
	"watchparty-service/internal/store"
	"watchparty-service/internal/telemetry"
)

type roomDirectory interface {
	ListRooms(ctx context.Context, filters models.RoomFilters) ([]models.Room, error)
	CreateRoom(ctx context.Context, data models.CreateRoomData, hostID, hostName string) (models.Room, error)
	JoinRoom(ctx context.Context, roomID, password string) (models.Room, error)
	ListRoomsByHost(ctx context.Context, hostID string) ([]models.Room, error)
	GetRoom(ctx context.Context, roomID string) (models.Room, error)
	UpdateRoom(ctx context.Context, roomID, hostID string, patch models.RoomPatch) (models.Room, error)
	EndRoom(ctx context.Context, roomID, hostID string) (models.Room, error)
}

type ticketIssuer interface {
	Issue(claims auth.TicketClaims) (string, error)
	TTL() time.Duration
}

// RoomHandler manages the room directory endpoints.
type RoomHandler struct {
	rooms   roomDirectory
	tickets ticketIssuer
	engines *presence.Factory
	audit   *telemetry.AuditEmitter
}

// NewRoomHandler builds a RoomHandler. audit may be nil.
func NewRoomHandler(directory roomDirectory, tickets ticketIssuer, engines *presence.Factory, audit *telemetry.AuditEmitter) *RoomHandler {
	return &RoomHandler{
		rooms:   directory,
		tickets: tickets,
		engines: engines,
		audit:   audit,
	}
}

type joinResponse struct {
	Room      models.RoomView `json:"room"`
	Ticket    string          `json:"ticket"`
	ExpiresIn int             `json:"expiresIn"`
}

// ListRooms returns the active public rooms matching the query filters.
func (h *RoomHandler) ListRooms(c *gin.Context) {
	var filters models.RoomFilters
	if err := c.ShouldBindQuery(&filters); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	list, err := h.rooms.ListRooms(c.Request.Context(), filters)
	if err != nil {
		respondDirectoryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms.Views(list)})
}

// CreateRoom creates a room hosted by the authenticated user.
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	var req models.CreateRoomData
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.rooms.CreateRoom(c.Request.Context(), req, user.ID, displayName(user))
	if err != nil {
		respondDirectoryError(c, err)
		return
	}

	publishRoomEvent(c, "room_created", room.ID, map[string]interface{}{"category": room.Category, "is_public": room.IsPublic})
	h.audit.Emit(c.Request.Context(), auditEntry(c, telemetry.ActionRoomCreated, room.ID, "room created"))
	c.JSON(http.StatusCreated, gin.H{"room": rooms.View(room)})
}

// MyRooms lists every room hosted by the authenticated user.
func (h *RoomHandler) MyRooms(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)

	list, err := h.rooms.ListRoomsByHost(c.Request.Context(), userID)
	if err != nil {
		respondDirectoryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms.Views(list)})
}

// GetRoom returns one room.
func (h *RoomHandler) GetRoom(c *gin.Context) {
	room, err := h.rooms.GetRoom(c.Request.Context(), c.Param("room_id"))
	if err != nil {
		respondDirectoryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": rooms.View(room)})
}

// UpdateRoom applies a host edit to the room.
func (h *RoomHandler) UpdateRoom(c *gin.Context) {
	var patch models.RoomPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.rooms.UpdateRoom(c.Request.Context(), c.Param("room_id"), c.GetString(middleware.UserIDKey), patch)
	if err != nil {
		respondDirectoryError(c, err)
		return
	}

	publishRoomEvent(c, "room_updated", room.ID, nil)
	c.JSON(http.StatusOK, gin.H{"room": rooms.View(room)})
}

// EndRoom deactivates the room and closes every socket connected to it.
func (h *RoomHandler) EndRoom(c *gin.Context) {
	ctx := c.Request.Context()
	roomID := c.Param("room_id")

	room, err := h.rooms.EndRoom(ctx, roomID, c.GetString(middleware.UserIDKey))
	if err != nil {
		respondDirectoryError(c, err)
		return
	}

	presence.Notify(ctx, h.engines.Bus(), roomID, presence.Control{Type: presence.ControlEnded})
	publishRoomEvent(c, "room_ended", roomID, nil)
	h.audit.Emit(ctx, auditEntry(c, telemetry.ActionRoomEnded, roomID, "room ended"))
	c.JSON(http.StatusOK, gin.H{"room": rooms.View(room)})
}

// JoinRoom takes a seat in the room and returns a socket ticket. The host
// already holds a seat and only receives a ticket.
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	var req struct {
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	roomID := c.Param("room_id")

	room, err := h.rooms.GetRoom(ctx, roomID)
	if err != nil {
		respondDirectoryError(c, err)
		return
	}
	if room.HostID != user.ID {
		room, err = h.rooms.JoinRoom(ctx, roomID, req.Password)
		if err != nil {
			respondDirectoryError(c, err)
			return
		}
		publishRoomEvent(c, "room_joined", roomID, map[string]interface{}{"current_participants": room.CurrentParticipants})
	} else if !room.IsActive {
		respondDirectoryError(c, rooms.ErrInactive)
		return
	}

	h.respondWithTicket(c, room, user)
}

// IssueTicket hands a fresh socket ticket to the host or to a participant
// already on the roster, so reconnects do not take another seat.
func (h *RoomHandler) IssueTicket(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	ctx := c.Request.Context()
	room, err := h.rooms.GetRoom(ctx, c.Param("room_id"))
	if err != nil {
		respondDirectoryError(c, err)
		return
	}
	if !room.IsActive {
		respondDirectoryError(c, rooms.ErrInactive)
		return
	}
	if room.HostID != user.ID && !onRoster(ctx, h.engines, room.ID, user.ID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "join the room first"})
		return
	}

	h.respondWithTicket(c, room, user)
}

func (h *RoomHandler) respondWithTicket(c *gin.Context, room models.Room, user models.User) {
	ticket, err := h.tickets.Issue(auth.TicketClaims{
		RoomID:   room.ID,
		UserID:   user.ID,
		Username: user.Username,
		Name:     displayName(user),
		IsHost:   room.HostID == user.ID,
	})
	if err != nil {
		log.Error().Err(err).Str("room_id", room.ID).Msg("issuing room ticket")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue ticket"})
		return
	}

	c.JSON(http.StatusOK, joinResponse{
		Room:      rooms.View(room),
		Ticket:    ticket,
		ExpiresIn: int(h.tickets.TTL().Seconds()),
	})
}

func onRoster(ctx context.Context, engines *presence.Factory, roomID, userID string) bool {
	engine := engines.New(roomID, userID, "")
	defer engine.Cleanup()
	for _, p := range engine.Participants(ctx) {
		if p.ID == userID {
			return true
		}
	}
	return false
}

func displayName(user models.User) string {
	if user.Name != "" {
		return user.Name
	}
	return user.Username
}

func respondDirectoryError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, rooms.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
	case errors.Is(err, rooms.ErrInactive):
		c.JSON(http.StatusGone, gin.H{"error": "room is no longer active"})
	case errors.Is(err, rooms.ErrWrongPassword):
		c.JSON(http.StatusForbidden, gin.H{"error": "wrong room password"})
	case errors.Is(err, rooms.ErrFull):
		c.JSON(http.StatusConflict, gin.H{"error": "room is full"})
	case errors.Is(err, rooms.ErrNotHost):
		c.JSON(http.StatusForbidden, gin.H{"error": "only the host can do that"})
	case errors.Is(err, rooms.ErrInvalidRoom):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "room is busy, try again"})
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("room request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
