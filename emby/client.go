// Package emby is a thin client for the one upstream catalog call the
// gateway needs: mapping an item and media-source id to the path or URL
// of the actual media bytes.
package emby

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNoMediaSource is returned when the catalog answers but none of the
// reported media sources matches the requested id, or the matching
// source carries no path.
var ErrNoMediaSource = errors.New("no matching media source")

// Client talks to one Emby-compatible catalog server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a catalog client for the server at baseURL. Timeouts
// are short: PlaybackInfo is a small JSON call and the resolver sits on
// the playback hot path.
func NewClient(baseURL string) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		MaxIdleConnsPerHost:   10,
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Transport: transport,
			Timeout:   10 * time.Second,
		},
	}
}

type playbackInfo struct {
	MediaSources []mediaSource `json:"MediaSources"`
}

type mediaSource struct {
	ID   string `json:"Id"`
	Path string `json:"Path"`
}

// MediaSourcePath asks the catalog for the item's playback info and
// returns the Path of the media source matching mediaSourceID. The
// token authenticates the call via the X-Emby-Token header.
func (c *Client) MediaSourcePath(ctx context.Context, itemID, mediaSourceID, token string) (string, error) {
	u := fmt.Sprintf("%s/emby/Items/%s/PlaybackInfo?MediaSourceId=%s",
		c.baseURL, url.PathEscape(itemID), url.QueryEscape(mediaSourceID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("building catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("X-Emby-Token", token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("catalog request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("catalog returned %s", resp.Status)
	}

	var info playbackInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("decoding catalog response: %w", err)
	}

	for _, src := range info.MediaSources {
		if !strings.EqualFold(src.ID, mediaSourceID) {
			continue
		}
		if src.Path == "" {
			return "", fmt.Errorf("media source %s: %w", mediaSourceID, ErrNoMediaSource)
		}
		return src.Path, nil
	}

	// Merged versions and library rescans can leave the id minted into a
	// play link stale. When the catalog answers with a single source
	// anyway, that is still the right file.
	if len(info.MediaSources) == 1 && info.MediaSources[0].Path != "" {
		return info.MediaSources[0].Path, nil
	}
	return "", fmt.Errorf("media source %s: %w", mediaSourceID, ErrNoMediaSource)
}

// Ping probes the catalog's public system-info endpoint. Any 2xx or 3xx
// answer counts as reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/emby/System/Info/Public", nil)
	if err != nil {
		return fmt.Errorf("building ping request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("catalog ping failed: %w", err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return nil
	}
	return fmt.Errorf("catalog ping returned %s", resp.Status)
}
