package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"golang.org/x/time/rate"
)

// Adaptive chunking: small chunks first so the player sees bytes as
// soon as possible, larger ones afterwards to amortize per-chunk cost.
const (
	initialChunkSize = 16 << 10
	steadyChunkSize  = 256 << 10
	initialChunks    = 8

	minQueueDepth = 4
	maxQueueDepth = 128
)

// Local streams files from the local filesystem with byte-range
// support.
type Local struct{}

func NewLocal() *Local {
	return &Local{}
}

// Serve streams the file at path. A request with a Range header gets a
// 206 with the requested slice; an unsatisfiable range gets a 416; no
// Range header means the whole file with a 200. Open and stat failures
// are returned to the caller unwritten so it can pick the status.
func (s *Local) Serve(w http.ResponseWriter, r *http.Request, path string, lim *rate.Limiter) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	size := info.Size()

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", ContentType(path))

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		return copyChunks(r.Context(), w, f, size, lim)
	}

	start, end, ok := parseRange(rangeHeader, size)
	if !ok {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return nil
	}

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return err
	}
	total := end - start + 1
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(total, 10))
	w.WriteHeader(http.StatusPartialContent)
	return copyChunks(r.Context(), w, f, total, lim)
}

// parseRange interprets a single "bytes=A-B" range against a file of
// the given size. Missing B means through end-of-file; B past the end
// is clamped. Suffix and multi-part ranges are not supported.
func parseRange(header string, size int64) (start, end int64, ok bool) {
	spec, found := strings.CutPrefix(strings.ToLower(strings.TrimSpace(header)), "bytes=")
	if !found || strings.Contains(spec, ",") {
		return 0, 0, false
	}
	first, last, found := strings.Cut(spec, "-")
	if !found {
		return 0, 0, false
	}

	start, err := strconv.ParseInt(strings.TrimSpace(first), 10, 64)
	if err != nil || start < 0 || start >= size {
		return 0, 0, false
	}

	end = size - 1
	if trimmed := strings.TrimSpace(last); trimmed != "" {
		end, err = strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			return 0, 0, false
		}
		if end > size-1 {
			end = size - 1
		}
	}
	if start > end {
		return 0, 0, false
	}
	return start, end, true
}

// copyChunks moves total bytes from src to w through a bounded handoff
// queue: one goroutine reads chunks, the request goroutine throttles,
// writes, and flushes them. If the client stops reading, the queue
// fills and the reader blocks, so a slow client never buffers the
// whole file in memory.
func copyChunks(ctx context.Context, w http.ResponseWriter, src io.Reader, total int64, lim *rate.Limiter) error {
	type chunk struct {
		data []byte
		err  error
	}
	ch := make(chan chunk, queueDepth(total))

	go func() {
		defer close(ch)
		remaining := total
		for i := 0; remaining > 0; i++ {
			size := int64(steadyChunkSize)
			if i < initialChunks {
				size = initialChunkSize
			}
			if size > remaining {
				size = remaining
			}
			buf := make([]byte, size)
			n, err := io.ReadFull(src, buf)
			if n > 0 {
				select {
				case ch <- chunk{data: buf[:n]}:
					remaining -= int64(n)
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
					select {
					case ch <- chunk{err: err}:
					case <-ctx.Done():
					}
				}
				return
			}
		}
	}()

	flusher, canFlush := w.(http.Flusher)
	for c := range ch {
		if c.err != nil {
			return c.err
		}
		if err := waitQuota(ctx, lim, len(c.data)); err != nil {
			return err
		}
		if _, err := w.Write(c.data); err != nil {
			return err
		}
		if canFlush {
			flusher.Flush()
		}
	}
	return nil
}

func queueDepth(total int64) int {
	d := total / steadyChunkSize
	switch {
	case d < minQueueDepth:
		return minQueueDepth
	case d > maxQueueDepth:
		return maxQueueDepth
	}
	return int(d)
}
