// Package hls turns a media source into an on-demand HLS session: probe
// the container, write a master playlist, run a stream-copy segmenter as
// a child process, and serve segments as they land in the spool
// directory. Sessions are keyed by source path, launched once, and torn
// down (child killed, spool removed) when idle.
package hls

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"
)

// ProbeResult is the parsed output of the probe tool.
type ProbeResult struct {
	Streams []ProbeStream `json:"streams"`
	Format  ProbeFormat   `json:"format"`
}

// ProbeStream describes one elementary stream in the container.
type ProbeStream struct {
	Index     int    `json:"index"`
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	Tags      struct {
		Language string `json:"language"`
		Title    string `json:"title"`
	} `json:"tags"`
}

// ProbeFormat carries container-level metadata. ffprobe emits numbers
// as strings here.
type ProbeFormat struct {
	Duration string `json:"duration"`
	BitRate  string `json:"bit_rate"`
}

// StreamsByType returns the streams of the given codec type, in
// container order.
func (r *ProbeResult) StreamsByType(codecType string) []ProbeStream {
	var out []ProbeStream
	for _, s := range r.Streams {
		if s.CodecType == codecType {
			out = append(out, s)
		}
	}
	return out
}

// Prober runs the external probe tool against a media source.
type Prober struct {
	path    string
	timeout time.Duration
}

// NewProber builds a Prober invoking the given binary, resolved from
// PATH if not absolute.
func NewProber(path string) *Prober {
	return &Prober{path: path, timeout: 30 * time.Second}
}

// Probe inspects source and returns its streams and format metadata.
func (p *Prober) Probe(ctx context.Context, source string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.path,
		"-v", "error",
		"-show_streams",
		"-show_format",
		"-print_format", "json",
		source,
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("probing %s: %w", source, err)
	}

	var res ProbeResult
	if err := json.Unmarshal(out, &res); err != nil {
		return nil, fmt.Errorf("parsing probe output for %s: %w", source, err)
	}
	return &res, nil
}
