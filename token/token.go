// Package token models the capability payload carried inside a sealed
// stream URL: which media source a client may fetch, and until when.
//
// A Sign is minted by the frontend resolver and verified by the backend
// streamer. Local filesystem sources are carried as absolute paths (with
// or without a file:// scheme); anything with an http(s) scheme is a
// remote origin.
package token

import (
	"strconv"
	"strings"
	"time"
)

// Grace is the clock-skew allowance applied when validating expiry: a
// Sign stays valid until Grace past its expired_at. Frontend and backend
// may run on different hosts with drifting clocks.
const Grace = 300 * time.Second

// Map keys used in the serialized form.
const (
	keyURI       = "uri"
	keyExpiredAt = "expired_at"
)

// Sign is the capability payload: a media source URI and an absolute
// expiry in seconds since the epoch.
type Sign struct {
	URI       string
	ExpiredAt int64
}

// New mints a Sign for uri that expires ttl from now.
func New(uri string, ttl time.Duration) Sign {
	return Sign{URI: uri, ExpiredAt: time.Now().Add(ttl).Unix()}
}

// Valid reports whether the Sign may still be served at the given time:
// the URI must be non-empty, expiry must be set, and now must fall before
// expired_at plus the grace window. A Sign decoded from a payload missing
// either field is never valid.
func (s Sign) Valid(now time.Time) bool {
	if s.URI == "" || s.ExpiredAt == 0 {
		return false
	}
	return now.Before(time.Unix(s.ExpiredAt, 0).Add(Grace))
}

// IsLocal reports whether the URI names a local filesystem source: a
// file:// scheme, or a host-less absolute path.
func (s Sign) IsLocal() bool {
	if strings.HasPrefix(s.URI, "file://") {
		return true
	}
	return strings.HasPrefix(s.URI, "/")
}

// LocalPath returns the filesystem path of a local Sign. Call only when
// IsLocal is true.
func (s Sign) LocalPath() string {
	return strings.TrimPrefix(s.URI, "file://")
}

// SourcePath returns the path or URL handed to media tooling: the local
// path for filesystem sources, the URI itself otherwise.
func (s Sign) SourcePath() string {
	if s.IsLocal() {
		return s.LocalPath()
	}
	return s.URI
}

// Map serializes the Sign into the string map the sealed-token codec
// encrypts.
func (s Sign) Map() map[string]string {
	return map[string]string{
		keyURI:       s.URI,
		keyExpiredAt: strconv.FormatInt(s.ExpiredAt, 10),
	}
}

// FromMap rebuilds a Sign from a decrypted payload. Missing or
// unparseable fields yield their zero values; Valid rejects the result.
func FromMap(values map[string]string) Sign {
	s := Sign{URI: values[keyURI]}
	if raw, ok := values[keyExpiredAt]; ok {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			s.ExpiredAt = v
		}
	}
	return s
}
