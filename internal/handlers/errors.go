package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chat-realtime/internal/logger"
	"chat-realtime/internal/messaging"
)

var statusByCode = map[string]int{
	messaging.CodeAuth:        http.StatusUnauthorized,
	messaging.CodeValidation:  http.StatusBadRequest,
	messaging.CodeMembership:  http.StatusForbidden,
	messaging.CodeNotFound:    http.StatusNotFound,
	messaging.CodeNotOwner:    http.StatusForbidden,
	messaging.CodePersistence: http.StatusServiceUnavailable,
}

// respondError maps a classified error onto an HTTP status and JSON body.
func respondError(c *gin.Context, err error) {
	code, detail := messaging.Classify(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		logger.Log.Error("http: request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", requestIDFromContext(c)),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"error": detail, "code": code})
}
