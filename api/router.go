package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/Open-PiliPili/EmbyStream-sub000/api/handler"
	"github.com/Open-PiliPili/EmbyStream-sub000/api/middleware"
	"github.com/Open-PiliPili/EmbyStream-sub000/config"
	"github.com/Open-PiliPili/EmbyStream-sub000/emby"
	"github.com/Open-PiliPili/EmbyStream-sub000/hls"
)

// corsMiddleware injects the gateway's CORS policy: any origin, the
// methods the surfaces answer, and the headers players send.
func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Content-Type", "Authorization"},
		MaxAge:          24 * time.Hour,
	})
}

// NewFrontend builds the resolve gateway: the surface players talk to
// first, which answers with signed backend links. health may be nil
// when no catalog monitor runs. The returned stop function releases the
// handler's caches.
func NewFrontend(cfg *config.Config, catalog handler.Catalog, health *emby.HealthChecker, sources *hls.Sources) (http.Handler, func()) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(
		gin.Recovery(),
		middleware.RequestLog("frontend"),
		middleware.UserAgentFilter(cfg.UserAgent.Mode, cfg.UserAgent.AllowUA, cfg.UserAgent.DenyUA),
		middleware.AntiReverseProxy(cfg.Frontend.AntiReverseProxy.Enable, cfg.Frontend.AntiReverseProxy.TrustedHost),
		corsMiddleware(),
		middleware.Options(),
	)

	resolveH := handler.NewResolveHandler(cfg, catalog, sources)

	// Emby clients may prefix routes with /emby.
	for _, base := range []string{"", "/emby"} {
		r.Group(base).GET("/videos/:itemId/*subpath", resolveH.Videos)
	}
	r.GET("/health", handler.CatalogHealth(health))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return lowercasePaths(r), resolveH.Close
}

// NewBackend builds the streaming gateway: it consumes signed links and
// moves the bytes. The returned stop function releases the handler's
// caches and limiters.
func NewBackend(cfg *config.Config, mux handler.Transmuxer, sources *hls.Sources) (http.Handler, func()) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(
		gin.Recovery(),
		middleware.RequestLog("backend"),
		middleware.UserAgentFilter(cfg.UserAgent.Mode, cfg.UserAgent.AllowUA, cfg.UserAgent.DenyUA),
		corsMiddleware(),
		middleware.Options(),
	)

	streamH := handler.NewStreamHandler(cfg, mux, sources)

	r.GET(strings.ToLower(cfg.Backend.Path), streamH.Stream)
	r.GET("/videos/:itemId/:file", streamH.Segment)
	r.GET("/health", handler.Health)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return lowercasePaths(r), streamH.Close
}

// lowercasePaths folds every request path to lowercase before the router
// sees it, so routes registered in lowercase match regardless of client
// casing. The query string is left untouched; signs are case-sensitive.
func lowercasePaths(r http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		req.URL.Path = strings.ToLower(req.URL.Path)
		r.ServeHTTP(w, req)
	})
}
