package hls

import (
	"bufio"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"
)

// Status of a transmux session's segmenter child.
type Status int32

const (
	StatusInProgress Status = iota
	StatusCompleted
	StatusFailed
)

// task is one live transmux session: a spool directory and the child
// process filling it.
type task struct {
	source   string
	spool    string
	manifest string
	cmd      *exec.Cmd

	status   atomic.Int32
	stopping atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
}

func (t *task) Status() Status     { return Status(t.status.Load()) }
func (t *task) setStatus(s Status) { t.status.Store(int32(s)) }

// supervise drains the child's stderr, waits for it to exit, and
// records the outcome. Runs detached from any request.
func (t *task) supervise(stderr io.Reader) {
	defer close(t.done)
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		slog.Debug("hls segmenter", "source", t.source, "line", scanner.Text())
	}

	err := t.cmd.Wait()
	switch {
	case t.stopping.Load():
		t.setStatus(StatusFailed)
		slog.Debug("hls segmenter stopped", "source", t.source)
	case err != nil:
		t.setStatus(StatusFailed)
		slog.Warn("hls segmenter failed", "source", t.source, "error", err)
	default:
		t.setStatus(StatusCompleted)
		slog.Info("hls segmenter finished", "source", t.source)
	}
}

// stop kills the child's process group, waits briefly for the
// supervisor to observe the exit, and removes the spool. Idempotent.
func (t *task) stop() {
	t.stopOnce.Do(func() {
		t.stopping.Store(true)
		if t.cmd.Process != nil {
			_ = syscall.Kill(-t.cmd.Process.Pid, syscall.SIGKILL)
		}
		select {
		case <-t.done:
		case <-time.After(5 * time.Second):
			slog.Warn("hls segmenter did not exit after kill", "source", t.source)
		}
		if err := os.RemoveAll(t.spool); err != nil {
			slog.Warn("removing hls spool failed", "dir", t.spool, "error", err)
		}
	})
}

// Manager owns all transmux sessions. At most one segmenter runs per
// source; idle sessions are evicted, which kills the child and removes
// its spool.
type Manager struct {
	root           string
	ffmpegPath     string
	segmentSeconds int
	prober         *Prober

	tasks   *ttlcache.Cache[string, *task]
	flights singleflight.Group

	waitRetries int
	waitDelay   time.Duration
}

// NewManager builds a Manager spooling under root. ffmpegPath and
// ffprobePath name the segmenter and probe binaries, resolved from PATH
// if not absolute. Sessions untouched for idle are torn down.
func NewManager(root, ffmpegPath, ffprobePath string, segmentSeconds int, idle time.Duration) *Manager {
	m := &Manager{
		root:           root,
		ffmpegPath:     ffmpegPath,
		segmentSeconds: segmentSeconds,
		prober:         NewProber(ffprobePath),
		waitRetries:    10,
		waitDelay:      500 * time.Millisecond,
	}
	m.tasks = ttlcache.New[string, *task](
		ttlcache.WithTTL[string, *task](idle),
	)
	m.tasks.OnEviction(func(_ context.Context, _ ttlcache.EvictionReason, item *ttlcache.Item[string, *task]) {
		t := item.Value()
		slog.Info("evicting idle hls session", "source", t.source)
		go t.stop()
	})
	go m.tasks.Start()
	return m
}

// EnsureStream guarantees a live transmux session for source and
// returns the master playlist path. The first caller launches the
// session; concurrent callers for the same source share that launch.
func (m *Manager) EnsureStream(ctx context.Context, source string) (string, error) {
	key := spoolKey(source)
	if t := m.liveTask(key); t != nil {
		return t.manifest, nil
	}

	v, err, _ := m.flights.Do(key, func() (any, error) {
		if t := m.liveTask(key); t != nil {
			return t.manifest, nil
		}
		return m.launch(ctx, key, source)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// liveTask returns the cached session if it has not failed and its
// manifest is still on disk. Reading the entry refreshes its idle
// clock.
func (m *Manager) liveTask(key string) *task {
	item := m.tasks.Get(key)
	if item == nil {
		return nil
	}
	t := item.Value()
	if t.Status() == StatusFailed {
		return nil
	}
	if _, err := os.Stat(t.manifest); err != nil {
		return nil
	}
	return t
}

// launch probes the source, writes the master playlist, and starts the
// segmenter child in its own process group.
func (m *Manager) launch(ctx context.Context, key, source string) (string, error) {
	spool := filepath.Join(m.root, key)
	if err := os.MkdirAll(spool, 0o755); err != nil {
		return "", fmt.Errorf("creating spool %s: %w", spool, err)
	}

	probe, err := m.prober.Probe(ctx, source)
	if err != nil {
		return "", err
	}

	manifest := filepath.Join(spool, "master.m3u8")
	if err := os.WriteFile(manifest, MasterPlaylist(probe), 0o644); err != nil {
		return "", fmt.Errorf("writing master playlist: %w", err)
	}

	t := &task{
		source:   source,
		spool:    spool,
		manifest: manifest,
		done:     make(chan struct{}),
	}
	// Not CommandContext: the segmenter outlives the request that
	// triggered it. Its own process group makes the kill catch any
	// children it forks.
	t.cmd = exec.Command(m.ffmpegPath, segmentArgs(source, spool, m.segmentSeconds)...)
	t.cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stderr, err := t.cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("piping segmenter stderr: %w", err)
	}
	if err := t.cmd.Start(); err != nil {
		return "", fmt.Errorf("starting segmenter: %w", err)
	}
	t.setStatus(StatusInProgress)
	m.tasks.Set(key, t, ttlcache.DefaultTTL)

	go t.supervise(stderr)

	slog.Info("hls transmux started",
		"source", source,
		"spool", spool,
		"pid", t.cmd.Process.Pid)
	return manifest, nil
}

// WaitForFile returns the spool path of name for source's session once
// it exists, polling a bounded number of times for segments the child
// has not written yet. name must be a bare file name.
func (m *Manager) WaitForFile(ctx context.Context, source, name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("bad segment name %q", name)
	}
	path := filepath.Join(m.root, spoolKey(source), name)
	for i := 0; ; i++ {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		if i+1 >= m.waitRetries {
			return "", fmt.Errorf("%s: %w", name, fs.ErrNotExist)
		}
		select {
		case <-time.After(m.waitDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Close tears down every live session and stops the eviction worker.
func (m *Manager) Close() {
	for _, item := range m.tasks.Items() {
		item.Value().stop()
	}
	m.tasks.DeleteAll()
	m.tasks.Stop()
}

// spoolKey fingerprints a source path. Unlike the request caches this
// is case-sensitive: distinct paths must never share a spool.
func spoolKey(source string) string {
	sum := md5.Sum([]byte(source))
	return hex.EncodeToString(sum[:])
}

func segmentArgs(source, spool string, seconds int) []string {
	return []string{
		"-y",
		"-i", source,
		"-map", "0:v:0?",
		"-map", "0:a:0?",
		"-c", "copy",
		"-f", "segment",
		"-segment_time", strconv.Itoa(seconds),
		"-segment_format", "mpegts",
		"-segment_list_size", "0",
		"-segment_list", filepath.Join(spool, "video.m3u8"),
		"-segment_list_type", "m3u8",
		filepath.Join(spool, "segment%05d.ts"),
	}
}
