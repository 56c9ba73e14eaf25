package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"watchparty-service/internal/presence"
	"watchparty-service/internal/telemetry"
)

type socketCounter interface {
	Count(roomID string) int
}

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router *gin.Engine, emitter *telemetry.AuditEmitter, engines *presence.Factory, sockets socketCounter, enabled bool) {
	if !enabled {
		return
	}

	debug := router.Group("/debug")
	debug.GET("/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), auditEntry(c, telemetry.ActionAuditTest, c.Query("room_id"), "audit test"))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Raw room state as this node sees it.
	debug.GET("/rooms/:room_id/state", func(c *gin.Context) {
		roomID := c.Param("room_id")
		engine := engines.New(roomID, "debug", "")
		defer engine.Cleanup()

		ctx := c.Request.Context()
		c.JSON(http.StatusOK, gin.H{
			"roomId":       roomID,
			"messages":     engine.Messages(ctx),
			"participants": engine.Participants(ctx),
			"sockets":      sockets.Count(roomID),
		})
	})
}
