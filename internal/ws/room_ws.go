package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"watchparty-service/internal/auth"
	"watchparty-service/internal/models"
	"watchparty-service/internal/observability"
	"watchparty-service/internal/presence"
	"watchparty-service/internal/repositories"
)

type roomLookup interface {
	GetRoom(ctx context.Context, roomID string) (models.Room, error)
}

type ticketValidator interface {
	Validate(ticket, roomID string) (*auth.TicketClaims, error)
}

// RoomSocketHandler serves the live room socket: the connection is the
// participant's presence, and every change to the room's chat log or roster
// is pushed to it as a full snapshot.
type RoomSocketHandler struct {
	hub     *Hub
	rooms   roomLookup
	tickets ticketValidator
	engines *presence.Factory
	now     func() time.Time
}

// NewRoomSocketHandler constructs a RoomSocketHandler.
func NewRoomSocketHandler(hub *Hub, rooms roomLookup, tickets ticketValidator, engines *presence.Factory) *RoomSocketHandler {
	return &RoomSocketHandler{hub: hub, rooms: rooms, tickets: tickets, engines: engines, now: time.Now}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handle authenticates the ticket, upgrades the connection and joins the room.
func (h *RoomSocketHandler) Handle(c *gin.Context) {
	roomID := c.Param("room_id")

	ctx, span := otel.Tracer("watchparty-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	claims, err := h.tickets.Validate(ticketFromRequest(c), roomID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	room, err := h.rooms.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, repositories.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load room"})
		return
	}
	if !room.IsActive {
		c.JSON(http.StatusGone, gin.H{"error": "room is not active"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Debug().Err(err).Str("room_id", roomID).Msg("websocket upgrade failed")
		return
	}

	info := ConnInfo{
		ConnID:      uuid.NewString(),
		RoomID:      roomID,
		UserID:      claims.UserID,
		Username:    claims.Username,
		IsHost:      claims.IsHost || room.HostID == claims.UserID,
		Client:      observability.ClientMetaFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: h.now(),
	}
	client := NewClient(info, conn)
	client.Start()

	// The session outlives the handshake request.
	sessionCtx := context.WithoutCancel(ctx)
	go h.serve(sessionCtx, client, claims)
}

func (h *RoomSocketHandler) serve(ctx context.Context, client *Client, claims *auth.TicketClaims) {
	info := client.Info()
	engine := h.engines.New(info.RoomID, info.UserID, info.Username)

	h.hub.Add(info.RoomID, client)
	observability.IncWSActive("room")
	publishWSEvent(ctx, "ws_connect", info, "")

	var closeReason string
	defer func() {
		if err := engine.LeaveRoom(ctx); err != nil {
			log.Warn().Err(err).Str("room_id", info.RoomID).Str("user_id", info.UserID).Msg("leaving room")
		}
		engine.Cleanup()
		h.hub.Remove(info.RoomID, client)
		client.Close(websocket.CloseNormalClosure, "")
		observability.DecWSActive("room")
		publishWSEvent(ctx, "ws_disconnect", info, closeReason)
	}()

	engine.OnMessagesUpdate(ctx, func(msgs []models.ChatMessage) {
		_ = client.SendEvent(models.RoomEvent{Type: models.EventMessages, Data: msgs})
	})
	engine.OnParticipantsUpdate(ctx, func(roster []models.Participant) {
		_ = client.SendEvent(models.RoomEvent{Type: models.EventParticipants, Data: roster})
	})

	err := engine.JoinRoom(ctx, models.Participant{
		ID:       info.UserID,
		Username: info.Username,
		Name:     claims.Name,
		JoinedAt: h.now().UTC().Format(time.RFC3339),
		IsHost:   info.IsHost,
		IsOnline: true,
	})
	if err != nil {
		log.Error().Err(err).Str("room_id", info.RoomID).Msg("joining room")
		_ = client.SendEvent(models.RoomEvent{Type: models.EventError, Error: "could not join room"})
		closeReason = "join failed"
		return
	}

	err = client.readCommands(func(cmd models.ClientCommand) {
		h.handleCommand(ctx, client, engine, cmd)
	})

	select {
	case <-client.Done():
		closeReason = "closed by server"
		return
	default:
	}
	reason, abnormal := disconnectReason(err)
	closeReason = reason
	if abnormal {
		publishWSEvent(ctx, "ws_error", info, reason)
	}
}

func (h *RoomSocketHandler) handleCommand(ctx context.Context, client *Client, engine *presence.Engine, cmd models.ClientCommand) {
	var err error
	switch cmd.Type {
	case models.CommandMessage:
		err = engine.SendMessage(ctx, cmd.Message)
	case models.CommandRemove:
		if !client.Info().IsHost {
			_ = client.SendEvent(models.RoomEvent{Type: models.EventError, Error: "only the host can remove participants"})
			return
		}
		if cmd.ParticipantID == client.Info().UserID {
			_ = client.SendEvent(models.RoomEvent{Type: models.EventError, Error: "the host cannot remove itself"})
			return
		}
		err = engine.RemoveParticipant(ctx, cmd.ParticipantID)
	default:
		_ = client.SendEvent(models.RoomEvent{Type: models.EventError, Error: "unknown command"})
		return
	}

	if err != nil {
		msg := "command failed"
		if errors.Is(err, presence.ErrEmptyMessage) {
			msg = "message is empty"
		}
		log.Warn().Err(err).Str("room_id", client.Info().RoomID).Str("command", cmd.Type).Msg("room command failed")
		_ = client.SendEvent(models.RoomEvent{Type: models.EventError, Error: msg})
		return
	}
	observability.IncWSEvent("room", "ws_"+cmd.Type)
}

func ticketFromRequest(c *gin.Context) string {
	if ticket := c.Query("ticket"); ticket != "" {
		return ticket
	}
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return parts[1]
	}
	return ""
}
