package emby

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const (
	// Default interval between catalog health checks.
	defaultHealthInterval = 30 * time.Second
	// Timeout for a single health-check ping.
	healthCheckTimeout = 5 * time.Second
)

// ErrUnavailable is returned by a guarded catalog while the circuit is
// open, so lookups fail fast instead of waiting out a connect timeout.
var ErrUnavailable = errors.New("catalog unavailable")

// HealthChecker periodically pings the upstream catalog and keeps an
// in-memory availability flag. The resolver consults it so playback
// requests fail fast while the catalog is known to be offline instead
// of stacking up on dial timeouts.
type HealthChecker struct {
	client   *Client
	interval time.Duration

	mu     sync.RWMutex
	status catalogStatus

	cancel context.CancelFunc
	done   chan struct{}
}

type catalogStatus struct {
	available    bool
	lastChecked  time.Time
	lastErr      string
	failureCount int
}

// NewHealthChecker creates a health checker bound to the given catalog
// client. Call Start() to begin background checking. The catalog is
// assumed available until the first check says otherwise, so early
// requests aren't blocked.
func NewHealthChecker(client *Client, interval time.Duration) *HealthChecker {
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	return &HealthChecker{
		client:   client,
		interval: interval,
		status:   catalogStatus{available: true},
		done:     make(chan struct{}),
	}
}

// Start begins the background health-check loop. It runs an immediate
// check on startup, then repeats at the configured interval. Safe to
// call once.
func (hc *HealthChecker) Start(ctx context.Context) {
	ctx, hc.cancel = context.WithCancel(ctx)

	go func() {
		defer close(hc.done)

		// Immediate first check so the catalog is classified before the
		// first playback request.
		hc.check(ctx)

		ticker := time.NewTicker(hc.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				hc.check(ctx)
			}
		}
	}()
}

// Stop signals the health-check loop to stop and waits for it to finish.
func (hc *HealthChecker) Stop() {
	if hc.cancel != nil {
		hc.cancel()
	}
	<-hc.done
}

// Available reports whether the catalog is considered reachable.
func (hc *HealthChecker) Available() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.status.available
}

// RecordRequestFailure records a failed live lookup (connection refused,
// timeout during a resolve). This supplements the periodic health check —
// if the catalog starts failing live requests, the circuit breaker trips
// faster than waiting for the next check cycle. After
// consecutiveRequestFailuresThreshold failures, the catalog is marked
// unavailable until the next successful health check restores it.
const consecutiveRequestFailuresThreshold = 5

func (hc *HealthChecker) RecordRequestFailure() {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.status.failureCount++
	if hc.status.failureCount >= consecutiveRequestFailuresThreshold && hc.status.available {
		slog.Warn("circuit breaker: catalog marked unavailable after repeated lookup failures",
			"failures", hc.status.failureCount)
		hc.status.available = false
	}
}

// RecordRequestSuccess resets the live failure counter.
func (hc *HealthChecker) RecordRequestSuccess() {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	// Only reset the failure count; availability transitions belong to
	// the health-check loop.
	if hc.status.available {
		hc.status.failureCount = 0
	}
}

// HealthStatus is a snapshot of the catalog's health for /health.
type HealthStatus struct {
	Available    bool      `json:"available"`
	LastChecked  time.Time `json:"last_checked"`
	LastError    string    `json:"last_error,omitempty"`
	FailureCount int       `json:"failure_count"`
}

// Status returns a snapshot of the tracked catalog health.
func (hc *HealthChecker) Status() HealthStatus {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return HealthStatus{
		Available:    hc.status.available,
		LastChecked:  hc.status.lastChecked,
		LastError:    hc.status.lastErr,
		FailureCount: hc.status.failureCount,
	}
}

// check pings the catalog once and records the outcome.
func (hc *HealthChecker) check(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	hc.record(hc.client.Ping(reqCtx))
}

// record updates the status after a ping. The catalog is marked
// unavailable after 2 consecutive failures, and available again on the
// first success. This avoids flapping on a single dropped packet.
func (hc *HealthChecker) record(err error) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.status.lastChecked = time.Now()

	if err == nil {
		if !hc.status.available {
			slog.Info("catalog came back online")
		}
		hc.status.available = true
		hc.status.failureCount = 0
		hc.status.lastErr = ""
		return
	}

	hc.status.failureCount++
	hc.status.lastErr = err.Error()

	if hc.status.failureCount >= 2 && hc.status.available {
		slog.Warn("catalog marked unavailable",
			"failures", hc.status.failureCount, "error", err)
		hc.status.available = false
	}
}

// Guarded couples a catalog client with its health checker: lookups fail
// fast with ErrUnavailable while the circuit is open, and live outcomes
// feed the breaker.
type Guarded struct {
	client *Client
	health *HealthChecker
}

// Guard wraps client so its lookups respect health.
func Guard(client *Client, health *HealthChecker) *Guarded {
	return &Guarded{client: client, health: health}
}

// MediaSourcePath defers to the underlying client while the catalog is
// believed reachable. ErrNoMediaSource is a valid catalog answer, not a
// transport failure, so it counts as a success for the breaker.
func (g *Guarded) MediaSourcePath(ctx context.Context, itemID, mediaSourceID, token string) (string, error) {
	if !g.health.Available() {
		return "", ErrUnavailable
	}

	path, err := g.client.MediaSourcePath(ctx, itemID, mediaSourceID, token)
	if err == nil || errors.Is(err, ErrNoMediaSource) {
		g.health.RecordRequestSuccess()
	} else {
		g.health.RecordRequestFailure()
	}
	return path, err
}
