package middleware

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// mediaBrowserParamRe matches key="value" pairs in a MediaBrowser auth header.
var mediaBrowserParamRe = regexp.MustCompile(`(\w+)="([^"]*)"`)

// ParseMediaBrowserAuth parses an Emby Authorization header into a map.
// Header format: MediaBrowser Client="...", Device="...", DeviceId="...", Version="...", Token="...".
func ParseMediaBrowserAuth(header string) map[string]string {
	result := make(map[string]string)
	for _, match := range mediaBrowserParamRe.FindAllStringSubmatch(header, -1) {
		result[match[1]] = match[2]
	}
	return result
}

// TokenFromQuery returns the first api_key or X-Emby-Token value in the
// raw query string, matching keys case-insensitively in document order.
func TokenFromQuery(rawQuery string) string {
	for _, pair := range strings.Split(rawQuery, "&") {
		k, v, _ := strings.Cut(pair, "=")
		switch strings.ToLower(k) {
		case "api_key", "x-emby-token":
			if dec, err := url.QueryUnescape(v); err == nil && dec != "" {
				return dec
			}
		}
	}
	return ""
}

// UpstreamToken retrieves the catalog token from the request, in
// priority order:
//  1. api_key / X-Emby-Token query parameters
//  2. X-Emby-Token header
//  3. Token field of a MediaBrowser Authorization header
func UpstreamToken(c *gin.Context) string {
	if t := TokenFromQuery(c.Request.URL.RawQuery); t != "" {
		return t
	}
	if t := c.GetHeader("X-Emby-Token"); t != "" {
		return t
	}
	for _, h := range []string{"Authorization", "X-Emby-Authorization"} {
		if auth := c.GetHeader(h); auth != "" {
			if t := ParseMediaBrowserAuth(auth)["Token"]; t != "" {
				return t
			}
		}
	}
	return ""
}

// DeviceID identifies the playback device for rate limiting: the
// DeviceId from a MediaBrowser auth header or query, falling back to
// the client IP so unidentified devices still get a bucket.
func DeviceID(c *gin.Context) string {
	for _, h := range []string{"Authorization", "X-Emby-Authorization"} {
		if auth := c.GetHeader(h); auth != "" {
			if id := ParseMediaBrowserAuth(auth)["DeviceId"]; id != "" {
				return id
			}
		}
	}
	if id := QueryCI(c, "DeviceId"); id != "" {
		return id
	}
	return c.ClientIP()
}

// QueryCI returns the first query value whose key matches key
// case-insensitively.
func QueryCI(c *gin.Context, key string) string {
	for k, vs := range c.Request.URL.Query() {
		if strings.EqualFold(k, key) && len(vs) > 0 {
			return vs[0]
		}
	}
	return ""
}
