package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-realtime/internal/telemetry"
	"chat-realtime/internal/ws"
)

// RegistryStats exposes subscription counts of the group registry.
type RegistryStats interface {
	Stats() ws.HubStats
}

// SessionCounter reports live sessions of this process.
type SessionCounter interface {
	Count() int
}

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router gin.IRouter, emitter *telemetry.AuditEmitter, registry RegistryStats, sessions SessionCounter, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/registry", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"registry": registry.Stats(), "sessions": sessions.Count()})
	})

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), telemetry.LevelInfo, "audit test", requestIDFromContext(c), userIDFromContext(c))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
