package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"settlement-service/models"
	"settlement-service/utils"
)

const callerKey = "caller"

// AuthMiddleware resolves the bearer token to a caller and stores it on the
// request context.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"kind": "unauthenticated", "message": "missing bearer token"},
			})
			return
		}
		caller, err := utils.ParseToken(secret, strings.TrimSpace(token))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"kind": "unauthenticated", "message": "invalid or expired token"},
			})
			return
		}
		c.Set(callerKey, caller)
		c.Next()
	}
}

// CallerFrom returns the caller set by AuthMiddleware.
func CallerFrom(c *gin.Context) (models.Caller, bool) {
	v, ok := c.Get(callerKey)
	if !ok {
		return models.Caller{}, false
	}
	caller, ok := v.(models.Caller)
	return caller, ok
}
