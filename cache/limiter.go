package cache

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"
)

// Limiters hands out per-device token buckets for stream throttling.
// Each device gets its own bucket on first sight; buckets for devices
// that go quiet are dropped after the idle window so abandoned sessions
// do not pin memory.
type Limiters struct {
	rateKBs int
	reg     *ttlcache.Cache[string, *rate.Limiter]
}

// NewLimiters builds a registry enforcing rateKBs kilobytes per second
// per device. A rate of zero or less disables throttling. idle is how
// long an untouched bucket survives.
func NewLimiters(rateKBs int, idle time.Duration) *Limiters {
	reg := ttlcache.New[string, *rate.Limiter](
		ttlcache.WithTTL[string, *rate.Limiter](idle),
	)
	go reg.Start()
	return &Limiters{rateKBs: rateKBs, reg: reg}
}

// Get returns the limiter for device, creating one on first use. Every
// call refreshes the bucket's idle clock.
func (l *Limiters) Get(device string) *rate.Limiter {
	if item := l.reg.Get(device); item != nil {
		return item.Value()
	}
	item, _ := l.reg.GetOrSet(device, l.newLimiter())
	return item.Value()
}

// newLimiter builds a bucket refilling at the configured byte rate with
// two seconds of burst capacity, drawn down so a fresh device starts
// with one second of headroom instead of the full bucket.
func (l *Limiters) newLimiter() *rate.Limiter {
	if l.rateKBs <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	bps := l.rateKBs * 1024
	lim := rate.NewLimiter(rate.Limit(bps), 2*bps)
	lim.AllowN(time.Now(), bps)
	return lim
}

// Stop halts the registry's background expiration worker.
func (l *Limiters) Stop() {
	l.reg.Stop()
}
