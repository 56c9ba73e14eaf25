package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"watchparty-service/internal/middleware"
	"watchparty-service/internal/observability"
	"watchparty-service/internal/telemetry"
)

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(middleware.RequestIDKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader(middleware.RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(middleware.RequestIDKey, requestID)
	return requestID
}

func userIDFromContext(c *gin.Context) *string {
	if userID := c.GetString(middleware.UserIDKey); userID != "" {
		return &userID
	}
	return nil
}

func auditEntry(c *gin.Context, action, roomID, text string) telemetry.AuditEntry {
	return telemetry.AuditEntry{
		Action:    action,
		Text:      text,
		RequestID: requestIDFromContext(c),
		RoomID:    roomID,
		UserID:    userIDFromContext(c),
	}
}

func traceIDFromContext(c *gin.Context) string {
	sc := trace.SpanContextFromContext(c.Request.Context())
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// publishRoomEvent emits a directory or chat event to the room events stream.
func publishRoomEvent(c *gin.Context, name, roomID string, extra map[string]interface{}) {
	meta := observability.ClientMetaFromRequest(c.Request)
	payload := map[string]interface{}{
		"room_id": roomID,
		"identity": map[string]interface{}{
			"user_id":   c.GetString(middleware.UserIDKey),
			"device_id": meta.DeviceID,
			"ip":        meta.IP,
		},
	}
	for k, v := range extra {
		payload[k] = v
	}

	headers := observability.BuildHeaders(requestIDFromContext(c), traceIDFromContext(c))
	_ = observability.PublishEvent(c.Request.Context(), "room_events.rooms", observability.EventEnvelope{
		EventType: "room_events",
		EventName: name,
		Payload:   payload,
	}, headers)
	observability.IncRoomEvent(name)
}
