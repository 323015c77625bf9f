package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Options short-circuits preflight requests with 204 after the CORS
// headers have been applied.
func Options() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
