package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/dorm-notify/pkg/logger"
)

// Recovery converts panics into 500s instead of dropping the connection.
func Recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error(fmt.Errorf("%v", r), "panic recovered",
					"path", c.Request.URL.Path,
					"request_id", c.GetString(RequestIDKey))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"success": false,
					"error":   gin.H{"code": http.StatusInternalServerError, "message": "internal server error"},
				})
			}
		}()
		c.Next()
	}
}
