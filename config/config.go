// Package config loads the gateway's layered configuration: built-in
// defaults, overridden by a TOML file, overridden by environment
// variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// Stream modes: which listeners this process runs.
const (
	ModeFrontend = "frontend"
	ModeBackend  = "backend"
	ModeDual     = "dual"
)

// Proxy modes: how the backend serves remote sources.
const (
	ProxyModeProxy    = "proxy"
	ProxyModeRedirect = "redirect"
)

type Config struct {
	General   General   `toml:"general"`
	Emby      Emby      `toml:"emby"`
	Frontend  Frontend  `toml:"frontend"`
	Backend   Backend   `toml:"backend"`
	UserAgent UserAgent `toml:"user_agent"`
}

type General struct {
	// StreamMode selects which listeners run: frontend, backend, or dual.
	StreamMode string `toml:"stream_mode" env:"EMBYSTREAM_STREAM_MODE"`
	// ExpiredSeconds is how long a minted stream token stays valid.
	ExpiredSeconds int64 `toml:"expired_seconds" env:"EMBYSTREAM_EXPIRED_SECONDS"`
	// EncipherKey and EncipherIV seal the stream tokens. At least 6
	// bytes each; both sides of a split deployment must agree on them.
	EncipherKey string `toml:"encipher_key" env:"EMBYSTREAM_ENCIPHER_KEY"`
	EncipherIV  string `toml:"encipher_iv" env:"EMBYSTREAM_ENCIPHER_IV"`
}

type Emby struct {
	// BaseURL is the upstream catalog server, e.g. "http://emby:8096".
	BaseURL string `toml:"base_url" env:"EMBYSTREAM_EMBY_BASE_URL"`
	// APIKey is the fallback catalog token when a request carries none.
	APIKey string `toml:"api_key" env:"EMBYSTREAM_EMBY_API_KEY"`
}

type Frontend struct {
	ListenPort int `toml:"listen_port" env:"EMBYSTREAM_FRONTEND_PORT"`
	// CheckFileExistence rejects local sources with a 404 at resolve
	// time instead of at stream time.
	CheckFileExistence bool             `toml:"check_file_existence" env:"EMBYSTREAM_CHECK_FILE_EXISTENCE"`
	PathRewrite        PathRewrite      `toml:"PathRewrite"`
	AntiReverseProxy   AntiReverseProxy `toml:"AntiReverseProxy"`
}

type PathRewrite struct {
	Pattern     string `toml:"pattern" env:"EMBYSTREAM_REWRITE_PATTERN"`
	Replacement string `toml:"replacement" env:"EMBYSTREAM_REWRITE_REPLACEMENT"`
}

type AntiReverseProxy struct {
	Enable      bool   `toml:"enable" env:"EMBYSTREAM_ANTIPROXY_ENABLE"`
	TrustedHost string `toml:"trusted_host" env:"EMBYSTREAM_ANTIPROXY_TRUSTED_HOST"`
}

type Backend struct {
	ListenPort int `toml:"listen_port" env:"EMBYSTREAM_BACKEND_PORT"`
	// Path is the streaming endpoint, e.g. "/stream".
	Path      string `toml:"path" env:"EMBYSTREAM_BACKEND_PATH"`
	ProxyMode string `toml:"proxy_mode" env:"EMBYSTREAM_PROXY_MODE"`
	// BaseURL and Port are how the frontend addresses the backend in
	// redirect URLs; they may differ from ListenPort behind a proxy.
	BaseURL string `toml:"base_url" env:"EMBYSTREAM_BACKEND_BASE_URL"`
	Port    int    `toml:"port" env:"EMBYSTREAM_BACKEND_PUBLIC_PORT"`
	// UserAgent, when set, replaces the client's UA on proxied
	// upstream fetches.
	UserAgent string `toml:"user_agent" env:"EMBYSTREAM_BACKEND_USER_AGENT"`
	// RateKBs throttles each device to this many kilobytes per second.
	// Zero disables throttling.
	RateKBs int `toml:"rate_kbs" env:"EMBYSTREAM_RATE_KBS"`
	// TranscodeRoot is where HLS spool directories live.
	TranscodeRoot  string `toml:"transcode_root" env:"EMBYSTREAM_TRANSCODE_ROOT"`
	SegmentSeconds int    `toml:"segment_seconds" env:"EMBYSTREAM_SEGMENT_SECONDS"`
	FFmpegPath     string `toml:"ffmpeg_path" env:"EMBYSTREAM_FFMPEG_PATH"`
	FFprobePath    string `toml:"ffprobe_path" env:"EMBYSTREAM_FFPROBE_PATH"`
}

type UserAgent struct {
	// Mode is "allow" (UA must match a rule; empty list admits all) or
	// "deny" (UA must match no rule).
	Mode    string   `toml:"mode" env:"EMBYSTREAM_UA_MODE"`
	AllowUA []string `toml:"allow_ua" env:"EMBYSTREAM_UA_ALLOW" envSeparator:","`
	DenyUA  []string `toml:"deny_ua" env:"EMBYSTREAM_UA_DENY" envSeparator:","`
}

// Default returns the built-in configuration. The encipher key and iv
// have no default: they are secrets the operator must choose.
func Default() Config {
	return Config{
		General: General{
			StreamMode:     ModeDual,
			ExpiredSeconds: 14400,
		},
		Frontend: Frontend{
			ListenPort:         60001,
			CheckFileExistence: true,
		},
		Backend: Backend{
			ListenPort:     60002,
			Path:           "/stream",
			ProxyMode:      ProxyModeProxy,
			BaseURL:        "http://127.0.0.1",
			Port:           60002,
			TranscodeRoot:  filepath.Join(os.TempDir(), "embystream"),
			SegmentSeconds: 6,
			FFmpegPath:     "ffmpeg",
			FFprobePath:    "ffprobe",
		},
		UserAgent: UserAgent{
			Mode: "allow",
		},
	}
}

// Load layers the configuration: defaults, then the TOML file at path
// (a missing file is fine), then environment variables. The result is
// validated before being returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config: reading %s: %w", path, err)
			}
			slog.Warn("config file not found, using defaults", "path", path)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the fields the gateway cannot limp along without.
func (c *Config) Validate() error {
	switch c.General.StreamMode {
	case ModeFrontend, ModeBackend, ModeDual:
	default:
		return fmt.Errorf("config: unknown stream_mode %q", c.General.StreamMode)
	}
	if len(c.General.EncipherKey) < 6 {
		return errors.New("config: encipher_key must be at least 6 bytes")
	}
	if len(c.General.EncipherIV) < 6 {
		return errors.New("config: encipher_iv must be at least 6 bytes")
	}
	if c.General.ExpiredSeconds <= 0 {
		return errors.New("config: expired_seconds must be positive")
	}

	switch c.Backend.ProxyMode {
	case ProxyModeProxy, ProxyModeRedirect:
	default:
		return fmt.Errorf("config: unknown proxy_mode %q", c.Backend.ProxyMode)
	}
	switch c.UserAgent.Mode {
	case "allow", "deny":
	default:
		return fmt.Errorf("config: unknown user_agent mode %q", c.UserAgent.Mode)
	}
	if !strings.HasPrefix(c.Backend.Path, "/") {
		return fmt.Errorf("config: backend path %q must start with /", c.Backend.Path)
	}

	if c.RunsFrontend() {
		if err := validPort(c.Frontend.ListenPort); err != nil {
			return fmt.Errorf("config: frontend listen_port: %w", err)
		}
	}
	if c.RunsBackend() {
		if err := validPort(c.Backend.ListenPort); err != nil {
			return fmt.Errorf("config: backend listen_port: %w", err)
		}
		if c.Backend.SegmentSeconds <= 0 {
			return errors.New("config: segment_seconds must be positive")
		}
	}
	return nil
}

func validPort(p int) error {
	if p < 1 || p > 65535 {
		return fmt.Errorf("%d out of range", p)
	}
	return nil
}

// RunsFrontend reports whether this process serves the resolver side.
func (c *Config) RunsFrontend() bool {
	return c.General.StreamMode == ModeFrontend || c.General.StreamMode == ModeDual
}

// RunsBackend reports whether this process serves the streaming side.
func (c *Config) RunsBackend() bool {
	return c.General.StreamMode == ModeBackend || c.General.StreamMode == ModeDual
}

// SignTTL is the validity window for minted stream tokens.
func (c *Config) SignTTL() time.Duration {
	return time.Duration(c.General.ExpiredSeconds) * time.Second
}

// BackendURL is the absolute streaming endpoint redirect URLs point at.
func (c *Config) BackendURL() string {
	return c.BackendOrigin() + c.Backend.Path
}

// BackendOrigin is the backend's public scheme://host[:port].
func (c *Config) BackendOrigin() string {
	origin := strings.TrimRight(c.Backend.BaseURL, "/")
	if c.Backend.Port > 0 {
		origin = fmt.Sprintf("%s:%d", origin, c.Backend.Port)
	}
	return origin
}

// BackendHLSURL addresses one HLS file of an item on the backend.
func (c *Config) BackendHLSURL(itemID, name string) string {
	return fmt.Sprintf("%s/videos/%s/%s",
		c.BackendOrigin(), url.PathEscape(itemID), url.PathEscape(name))
}
