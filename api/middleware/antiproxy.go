package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AntiReverseProxy rejects requests that did not arrive through the
// configured public origin, so the gateway cannot be rehosted behind
// someone else's domain. trustedHost is a URL like
// "https://stream.example.com"; comparison covers scheme and host,
// case-insensitively.
func AntiReverseProxy(enabled bool, trustedHost string) gin.HandlerFunc {
	trusted := strings.ToLower(strings.TrimRight(trustedHost, "/"))
	return func(c *gin.Context) {
		if !enabled || trusted == "" {
			c.Next()
			return
		}

		scheme := "http"
		if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		} else if c.Request.TLS != nil {
			scheme = "https"
		}

		origin := strings.ToLower(scheme + "://" + c.Request.Host)
		if origin != trusted {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
			return
		}
		c.Next()
	}
}
