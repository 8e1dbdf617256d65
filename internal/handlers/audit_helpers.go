package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const requestIDContextKey = "request_id"

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

// userIDFromContext returns the authenticated user id in audit form, or nil.
func userIDFromContext(c *gin.Context) *string {
	if userID := c.GetInt("userID"); userID > 0 {
		value := strconv.Itoa(userID)
		return &value
	}
	if header := c.GetHeader("X-User-ID"); header != "" {
		if _, err := strconv.Atoi(header); err == nil {
			return &header
		}
	}
	return nil
}

// pathID parses a positive integer path parameter.
func pathID(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
