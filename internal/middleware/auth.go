package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/dorm-notify/pkg/auth"
)

const RecipientIDKey = "recipient_id"

// SessionAuth guards recipient-scoped endpoints: the bearer token must be a
// valid session token and its recipient claim is exposed to handlers, which
// must match it against the path recipient.
func SessionAuth(tokens *auth.SessionTokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   gin.H{"code": http.StatusUnauthorized, "message": "missing bearer token"},
			})
			return
		}

		claims, err := tokens.Validate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   gin.H{"code": http.StatusUnauthorized, "message": "invalid session token"},
			})
			return
		}

		c.Set(RecipientIDKey, claims.RecipientID)
		c.Next()
	}
}
