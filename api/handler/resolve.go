package handler

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Open-PiliPili/EmbyStream-sub000/api/middleware"
	"github.com/Open-PiliPili/EmbyStream-sub000/cache"
	"github.com/Open-PiliPili/EmbyStream-sub000/config"
	"github.com/Open-PiliPili/EmbyStream-sub000/emby"
	"github.com/Open-PiliPili/EmbyStream-sub000/hls"
	"github.com/Open-PiliPili/EmbyStream-sub000/rewrite"
	"github.com/Open-PiliPili/EmbyStream-sub000/seal"
	"github.com/Open-PiliPili/EmbyStream-sub000/strm"
	"github.com/Open-PiliPili/EmbyStream-sub000/token"
)

// Sizing for the resolve-side caches: catalog paths, strm targets, and
// minted signs. Entries age out a fixed interval after insertion; a
// cached sign whose token has meanwhile expired is remade on the next hit.
const (
	resolveCacheTTL      = 30 * time.Minute
	resolveCacheCapacity = 4096
)

// Catalog looks up the source path of an item's media source.
// *emby.Client is the production implementation.
type Catalog interface {
	MediaSourcePath(ctx context.Context, itemID, mediaSourceID, token string) (string, error)
}

// signedLink pairs a minted token with its sealed wire form so repeat
// requests for the same item skip the catalog and the cipher.
type signedLink struct {
	sign      token.Sign
	encrypted string
}

// ResolveHandler serves the frontend: it resolves an item to its source,
// seals a token for it, and redirects the player to the backend.
type ResolveHandler struct {
	cfg      *config.Config
	catalog  Catalog
	rewriter *rewrite.Rewriter
	paths    *cache.Cache[string]     // itemId:mediaSourceId → catalog path
	strms    *cache.Cache[string]     // strm path → trimmed target
	signs    *cache.Cache[signedLink] // itemId:mediaSourceId → sealed sign
	sources  *hls.Sources
}

func NewResolveHandler(cfg *config.Config, catalog Catalog, sources *hls.Sources) *ResolveHandler {
	return &ResolveHandler{
		cfg:      cfg,
		catalog:  catalog,
		rewriter: rewrite.New(cfg.Frontend.PathRewrite.Pattern, cfg.Frontend.PathRewrite.Replacement),
		paths:    cache.New[string](resolveCacheCapacity, resolveCacheTTL),
		strms:    cache.New[string](resolveCacheCapacity, resolveCacheTTL),
		signs:    cache.New[signedLink](resolveCacheCapacity, resolveCacheTTL),
		sources:  sources,
	}
}

// Close stops the handler's cache workers.
func (h *ResolveHandler) Close() {
	h.paths.Stop()
	h.strms.Stop()
	h.signs.Stop()
}

// Videos handles GET /videos/:itemId/*subpath, with or without the /emby
// prefix. HLS playlist and segment requests redirect to the backend's HLS
// surface; everything else resolves to a signed stream link.
func (h *ResolveHandler) Videos(c *gin.Context) {
	itemID := c.Param("itemId")
	subpath := strings.TrimPrefix(c.Param("subpath"), "/")

	// The HLS check runs first: an HLS URL can also match the looser
	// stream shape, and the more specific interpretation must win.
	if isHLSPath(subpath) {
		h.redirectHLS(c, itemID)
		return
	}
	h.redirectStream(c, itemID)
}

// isHLSPath reports whether a videos subpath addresses HLS content: a
// playlist or segment extension, or an hls-prefixed path part.
func isHLSPath(subpath string) bool {
	lower := strings.ToLower(subpath)
	if strings.HasSuffix(lower, ".m3u8") || strings.HasSuffix(lower, ".ts") {
		return true
	}
	for _, part := range strings.Split(lower, "/") {
		if strings.HasPrefix(part, "hls") {
			return true
		}
	}
	return false
}

// redirectHLS resolves the item's source, remembers it for the backend's
// segment lookups, and points the player at the backend master playlist.
// The sign rides along so a backend on another host can recover the
// source from the first playlist request.
func (h *ResolveHandler) redirectHLS(c *gin.Context, itemID string) {
	link, err := h.signedLink(c, itemID, middleware.QueryCI(c, "MediaSourceId"))
	if err != nil {
		abort(c, err)
		return
	}
	h.sources.Put(itemID, link.sign.SourcePath())

	target := h.cfg.BackendHLSURL(itemID, "master.m3u8") +
		"?sign=" + url.QueryEscape(link.encrypted)
	redirectWithHeaders(c, target)
}

// redirectStream mints a signed backend link for the item and redirects
// the player to it.
func (h *ResolveHandler) redirectStream(c *gin.Context, itemID string) {
	link, err := h.signedLink(c, itemID, middleware.QueryCI(c, "MediaSourceId"))
	if err != nil {
		abort(c, err)
		return
	}
	target := h.cfg.BackendURL() +
		"?sign=" + url.QueryEscape(link.encrypted) +
		"&proxy_mode=" + h.cfg.Backend.ProxyMode
	redirectWithHeaders(c, target)
}

// signedLink returns a cached sign for the item while its token is still
// valid, resolving and sealing a fresh one otherwise.
func (h *ResolveHandler) signedLink(c *gin.Context, itemID, mediaSourceID string) (signedLink, error) {
	if itemID == "" || mediaSourceID == "" {
		return signedLink{}, errInvalidMediaSource
	}

	key := cache.Key(itemID, mediaSourceID)
	if link, ok := h.signs.Get(key); ok && link.sign.Valid(time.Now()) {
		return link, nil
	}

	uri, err := h.resolveURI(c, itemID, mediaSourceID)
	if err != nil {
		return signedLink{}, err
	}

	sign := token.New(uri, h.cfg.SignTTL())
	encrypted, err := seal.Encrypt(sign.Map(), h.cfg.General.EncipherKey, h.cfg.General.EncipherIV)
	if err != nil {
		slog.Error("token seal failed", "item_id", itemID, "error", err)
		return signedLink{}, errInternal
	}

	link := signedLink{sign: sign, encrypted: encrypted}
	h.signs.Set(key, link)
	return link, nil
}

// resolveURI runs the resolution pipeline: catalog lookup, strm
// indirection, path rewrite, then classification as remote URL or local
// absolute path.
func (h *ResolveHandler) resolveURI(c *gin.Context, itemID, mediaSourceID string) (string, error) {
	path, err := h.catalogPath(c, itemID, mediaSourceID)
	if err != nil {
		return "", err
	}
	if strm.Is(path) {
		if path, err = h.strmTarget(path); err != nil {
			return "", err
		}
	}
	path = h.rewriter.Apply(path)

	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		if _, err := url.Parse(path); err != nil {
			return "", errInvalidURI
		}
		return path, nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		slog.Warn("path canonicalization failed", "path", path, "error", err)
		return "", errInternal
	}
	if h.cfg.Frontend.CheckFileExistence {
		if _, err := os.Stat(abs); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return "", errFileNotFound
			}
			slog.Warn("source stat failed", "path", abs, "error", err)
			return "", errInternal
		}
	}
	return abs, nil
}

// catalogPath returns the item's source path, from cache or the upstream
// catalog. The catalog token comes from the request where possible and
// falls back to the configured key.
func (h *ResolveHandler) catalogPath(c *gin.Context, itemID, mediaSourceID string) (string, error) {
	key := cache.Key(itemID, mediaSourceID)
	if path, ok := h.paths.Get(key); ok {
		return path, nil
	}

	apiToken := middleware.UpstreamToken(c)
	if apiToken == "" {
		apiToken = h.cfg.Emby.APIKey
	}
	if apiToken == "" {
		return "", errEmptyEmbyToken
	}

	path, err := h.catalog.MediaSourcePath(c.Request.Context(), itemID, mediaSourceID, apiToken)
	if err != nil {
		slog.Warn("catalog lookup failed",
			"item_id", itemID, "media_source_id", mediaSourceID, "error", err)
		if errors.Is(err, emby.ErrNoMediaSource) {
			return "", errInvalidMediaSource
		}
		return "", errUpstream
	}

	h.paths.Set(key, path)
	return path, nil
}

// strmTarget resolves the strm indirection, caching the trimmed target.
func (h *ResolveHandler) strmTarget(path string) (string, error) {
	key := cache.Key(path)
	if target, ok := h.strms.Get(key); ok {
		return target, nil
	}

	target, err := strm.Resolve(path)
	if err != nil {
		slog.Warn("strm resolution failed", "path", path, "error", err)
		switch {
		case errors.Is(err, strm.ErrEmpty):
			return "", errEmptyStrm
		case errors.Is(err, strm.ErrTooLarge):
			return "", errStrmTooLarge
		case errors.Is(err, strm.ErrNotUTF8):
			return "", errInvalidURI
		case errors.Is(err, fs.ErrNotExist):
			return "", errFileNotFound
		default:
			return "", errInternal
		}
	}

	h.strms.Set(key, target)
	return target, nil
}
