// Package limits provides connection-admission rate limiting for the
// WebSocket endpoint.
package limits

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ConnectionRateLimiter bounds the rate of new WebSocket connections with
// two token buckets: one per client IP and one global. It protects the
// admission path only; established sessions are never throttled.
type ConnectionRateLimiter struct {
	ipLimiters map[string]*ipLimiterEntry
	ipMu       sync.Mutex
	ipBurst    int
	ipRate     float64
	ipTTL      time.Duration

	globalLimiter *rate.Limiter

	logger zerolog.Logger

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
}

type ipLimiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Config holds connection rate limiter settings. Zero values fall back to
// defaults: per-IP 10 burst / 1 conn/sec, global 300 burst / 50 conn/sec.
type Config struct {
	IPBurst     int
	IPRate      float64
	IPTTL       time.Duration
	GlobalBurst int
	GlobalRate  float64
	Logger      zerolog.Logger
}

func NewConnectionRateLimiter(cfg Config) *ConnectionRateLimiter {
	if cfg.IPBurst == 0 {
		cfg.IPBurst = 10
	}
	if cfg.IPRate == 0 {
		cfg.IPRate = 1.0
	}
	if cfg.IPTTL == 0 {
		cfg.IPTTL = 5 * time.Minute
	}
	if cfg.GlobalBurst == 0 {
		cfg.GlobalBurst = 300
	}
	if cfg.GlobalRate == 0 {
		cfg.GlobalRate = 50.0
	}

	l := &ConnectionRateLimiter{
		ipLimiters:    make(map[string]*ipLimiterEntry),
		ipBurst:       cfg.IPBurst,
		ipRate:        cfg.IPRate,
		ipTTL:         cfg.IPTTL,
		globalLimiter: rate.NewLimiter(rate.Limit(cfg.GlobalRate), cfg.GlobalBurst),
		logger:        cfg.Logger.With().Str("component", "conn_rate_limiter").Logger(),
		stopCleanup:   make(chan struct{}),
	}

	l.cleanupTicker = time.NewTicker(time.Minute)
	go l.cleanupLoop()

	return l
}

// Allow reports whether a new connection from ip may proceed.
func (l *ConnectionRateLimiter) Allow(ip string) bool {
	if !l.globalLimiter.Allow() {
		l.logger.Debug().Str("ip", ip).Msg("Connection rejected: global rate limit")
		return false
	}
	if !l.ipLimiter(ip).Allow() {
		l.logger.Debug().Str("ip", ip).Msg("Connection rejected: per-IP rate limit")
		return false
	}
	return true
}

func (l *ConnectionRateLimiter) ipLimiter(ip string) *rate.Limiter {
	l.ipMu.Lock()
	defer l.ipMu.Unlock()

	if entry, ok := l.ipLimiters[ip]; ok {
		entry.lastAccess = time.Now()
		return entry.limiter
	}
	entry := &ipLimiterEntry{
		limiter:    rate.NewLimiter(rate.Limit(l.ipRate), l.ipBurst),
		lastAccess: time.Now(),
	}
	l.ipLimiters[ip] = entry
	return entry.limiter
}

// cleanupLoop removes limiters for IPs idle longer than the TTL.
func (l *ConnectionRateLimiter) cleanupLoop() {
	for {
		select {
		case <-l.cleanupTicker.C:
			l.cleanup()
		case <-l.stopCleanup:
			l.cleanupTicker.Stop()
			return
		}
	}
}

func (l *ConnectionRateLimiter) cleanup() {
	l.ipMu.Lock()
	defer l.ipMu.Unlock()

	now := time.Now()
	for ip, entry := range l.ipLimiters {
		if now.Sub(entry.lastAccess) > l.ipTTL {
			delete(l.ipLimiters, ip)
		}
	}
}

// Stop terminates the cleanup goroutine.
func (l *ConnectionRateLimiter) Stop() {
	close(l.stopCleanup)
}
