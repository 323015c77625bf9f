// Package stream delivers media bytes to clients: byte-for-byte proxying
// of remote origins and ranged, adaptively chunked local file serving,
// both under per-device rate limiting.
package stream

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrNoRange rejects proxy requests without a Range header. Full
	// unranged downloads through the proxy are deliberately refused.
	ErrNoRange = errors.New("range header required")

	// ErrUpstream marks a failure to reach or read the remote origin
	// before any bytes were sent downstream.
	ErrUpstream = errors.New("upstream request failed")
)

// Remote proxies byte ranges from a remote HTTP origin. Upstream status
// and headers pass through verbatim; the client's headers go upstream
// minus Host, with an optional configured User-Agent override.
type Remote struct {
	client    *http.Client
	userAgent string
}

// NewRemote builds a remote proxy streamer. userAgent, when non-empty,
// replaces the client's User-Agent on upstream fetches.
func NewRemote(userAgent string) *Remote {
	// No total timeout: streams run as long as the client keeps
	// reading. The origin may take a while to produce the first byte of
	// a cold object, hence the generous header timeout.
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 60 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 5 * time.Minute,
		MaxIdleConnsPerHost:   20,
		DisableCompression:    true,
	}
	return &Remote{
		client:    &http.Client{Transport: transport},
		userAgent: userAgent,
	}
}

// Serve fetches target with the client's range and streams the origin's
// answer back. The upstream request is tied to the client request's
// context, so a disconnecting client cancels the origin fetch. Errors
// returned before the response status is written are ErrNoRange or wrap
// ErrUpstream; later failures mean the stream broke mid-flight.
func (p *Remote) Serve(w http.ResponseWriter, r *http.Request, target string, lim *rate.Limiter) error {
	if r.Header.Get("Range") == "" {
		return ErrNoRange
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	for k, vv := range r.Header {
		if http.CanonicalHeaderKey(k) == "Host" {
			continue
		}
		req.Header[http.CanonicalHeaderKey(k)] = vv
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	for k, vv := range resp.Header {
		w.Header()[k] = vv
	}
	w.WriteHeader(resp.StatusCode)

	flusher, canFlush := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if err := waitQuota(r.Context(), lim, n); err != nil {
				return err
			}
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return writeErr
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return readErr
		}
	}
}
