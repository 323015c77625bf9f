package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Open-PiliPili/EmbyStream-sub000/emby"
)

// Health handles GET /health — always returns 200.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// CatalogHealth handles GET /health on the resolve surface: liveness
// plus a snapshot of the upstream catalog's reachability. A nil checker
// degrades to the plain liveness answer.
func CatalogHealth(hc *emby.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if hc == nil {
			Health(c)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "catalog": hc.Status()})
	}
}
