package handler

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Open-PiliPili/EmbyStream-sub000/api/middleware"
	"github.com/Open-PiliPili/EmbyStream-sub000/cache"
	"github.com/Open-PiliPili/EmbyStream-sub000/config"
	"github.com/Open-PiliPili/EmbyStream-sub000/hls"
	"github.com/Open-PiliPili/EmbyStream-sub000/seal"
	"github.com/Open-PiliPili/EmbyStream-sub000/stream"
	"github.com/Open-PiliPili/EmbyStream-sub000/token"
)

// limiterIdle is how long a device's rate limiter survives without
// traffic before its state is dropped.
const limiterIdle = 10 * time.Minute

// Transmuxer turns a media source into an HLS spool and hands out files
// from it. *hls.Manager is the production implementation.
type Transmuxer interface {
	EnsureStream(ctx context.Context, source string) (string, error)
	WaitForFile(ctx context.Context, source, name string) (string, error)
}

// StreamHandler serves the backend: it verifies signed links and moves
// the bytes, whether local, remote, or transmuxed.
type StreamHandler struct {
	cfg      *config.Config
	decrypts *cache.Cache[token.Sign] // md5(sign) → decoded token
	limiters *cache.Limiters
	remote   *stream.Remote
	local    *stream.Local
	mux      Transmuxer
	sources  *hls.Sources
}

func NewStreamHandler(cfg *config.Config, mux Transmuxer, sources *hls.Sources) *StreamHandler {
	return &StreamHandler{
		cfg:      cfg,
		decrypts: cache.New[token.Sign](resolveCacheCapacity, resolveCacheTTL),
		limiters: cache.NewLimiters(cfg.Backend.RateKBs, limiterIdle),
		remote:   stream.NewRemote(cfg.Backend.UserAgent),
		local:    stream.NewLocal(),
		mux:      mux,
		sources:  sources,
	}
}

// Close stops the handler's cache workers.
func (h *StreamHandler) Close() {
	h.decrypts.Stop()
	h.limiters.Stop()
}

// Stream handles GET {backend.path}?sign=…&proxy_mode=…. Local sources
// always stream from disk; remote sources either proxy through this
// server or bounce the player to the origin, per proxy_mode.
func (h *StreamHandler) Stream(c *gin.Context) {
	sign, err := h.verifySign(c)
	if err != nil {
		abort(c, err)
		return
	}

	if sign.IsLocal() {
		h.serveLocal(c, sign.LocalPath())
		return
	}

	// A missing or unrecognized proxy_mode falls back to proxying.
	if middleware.QueryCI(c, "proxy_mode") == config.ProxyModeRedirect {
		redirectWithHeaders(c, sign.URI)
		return
	}
	h.serveRemote(c, sign.URI)
}

// Segment handles GET /videos/:itemId/:file on the backend: the master
// and media playlists plus transport-stream segments out of the spool.
func (h *StreamHandler) Segment(c *gin.Context) {
	itemID := c.Param("itemId")
	name := c.Param("file")

	source, ok := h.sources.Get(itemID)
	if !ok {
		// A backend on its own host learns the source from the sign on
		// the first playlist request; segment requests then hit the map.
		sign, err := h.verifySign(c)
		if err != nil {
			abort(c, err)
			return
		}
		source = sign.SourcePath()
		h.sources.Put(itemID, source)
	}

	if _, err := h.mux.EnsureStream(c.Request.Context(), source); err != nil {
		slog.Warn("hls ensure failed", "item_id", itemID, "source", source, "error", err)
		abort(c, errInternal)
		return
	}

	path, err := h.mux.WaitForFile(c.Request.Context(), source, name)
	if err != nil {
		abort(c, errFileNotFound)
		return
	}

	// Segments are immutable once written.
	c.Header("Cache-Control", "public, max-age=31536000")
	c.Header("Content-Type", stream.ContentType(path))
	c.File(path)
}

// verifySign decodes and validates the sign query parameter, caching
// decoded tokens under the md5 of the raw value.
func (h *StreamHandler) verifySign(c *gin.Context) (token.Sign, error) {
	raw := middleware.QueryCI(c, "sign")
	if raw == "" {
		return token.Sign{}, errEmptySignature
	}

	key := cache.Key(raw)
	sign, ok := h.decrypts.Get(key)
	if !ok {
		values, err := seal.Decrypt(raw, h.cfg.General.EncipherKey, h.cfg.General.EncipherIV)
		if err != nil {
			return token.Sign{}, errInvalidSignature
		}
		sign = token.FromMap(values)
		if sign.URI == "" {
			return token.Sign{}, errInvalidSignature
		}
		h.decrypts.Set(key, sign)
	}

	// Expiry is checked on every request, cached or not.
	if !sign.Valid(time.Now()) {
		return token.Sign{}, errExpiredStream
	}
	return sign, nil
}

func (h *StreamHandler) serveLocal(c *gin.Context, path string) {
	lim := h.limiters.Get(middleware.DeviceID(c))
	err := h.local.Serve(c.Writer, c.Request, path, lim)
	if err == nil {
		return
	}
	if c.Writer.Written() {
		slog.Debug("local stream aborted", "path", path, "error", err)
		return
	}
	if errors.Is(err, fs.ErrNotExist) {
		abort(c, errFileNotFound)
		return
	}
	slog.Warn("local stream failed", "path", path, "error", err)
	abort(c, errInternal)
}

func (h *StreamHandler) serveRemote(c *gin.Context, target string) {
	if _, err := url.ParseRequestURI(target); err != nil {
		abort(c, errInvalidURI)
		return
	}

	lim := h.limiters.Get(middleware.DeviceID(c))
	err := h.remote.Serve(c.Writer, c.Request, target, lim)
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, stream.ErrNoRange):
		abort(c, errNoRange)
	case c.Writer.Written():
		slog.Debug("proxy stream aborted", "target", target, "error", err)
	case errors.Is(err, stream.ErrUpstream):
		slog.Warn("upstream fetch failed", "target", target, "error", err)
		abort(c, errUpstream)
	default:
		slog.Warn("proxy stream failed", "target", target, "error", err)
		abort(c, errInternal)
	}
}

// redirectWithHeaders answers 302 and mirrors the request headers, minus
// Host, onto the response, so a player that keys follow-up behavior on
// its own headers sees them preserved across the hop.
func redirectWithHeaders(c *gin.Context, target string) {
	for k, vals := range c.Request.Header {
		if k == "Host" {
			continue
		}
		for _, v := range vals {
			c.Writer.Header().Add(k, v)
		}
	}
	c.Redirect(http.StatusFound, target)
}
