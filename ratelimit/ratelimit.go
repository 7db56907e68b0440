// Package ratelimit throttles outbound model requests with a token
// bucket built on golang.org/x/time/rate. The runner calls Wait before
// every provider.Request/RequestStream call, keyed by the model's provider
// tag when PerKey is enabled so different backends get independent budgets.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config controls a Limiter's behavior.
type Config struct {
	Enabled           bool
	RequestsPerSecond float64
	BurstSize         int
	PerKey            bool
	KeyTimeout        time.Duration
	WaitTimeout       time.Duration
}

// DefaultConfig returns a disabled-by-default Config; rate limiting is
// opt-in.
func DefaultConfig() Config {
	return Config{
		Enabled:           false,
		RequestsPerSecond: 10,
		BurstSize:         20,
		KeyTimeout:        5 * time.Minute,
		WaitTimeout:       30 * time.Second,
	}
}

// Stats reports a Limiter's (or one key's) observed counters.
type Stats struct {
	Allowed         int64
	Denied          int64
	Waited          int64
	TotalWaitTime   time.Duration
	ActiveKeys      int
	AvailableTokens float64
	LastUpdate      time.Time
}

type keyedStats struct {
	allowed, denied, waited int64
	totalWaitTime           time.Duration
	lastUpdate              time.Time
	mu                      sync.RWMutex
}

type perKeyEntry struct {
	limiter    *rate.Limiter
	stats      *keyedStats
	lastAccess time.Time
	mu         sync.RWMutex
}

// Limiter throttles calls under a shared or per-key token bucket.
type Limiter struct {
	config Config

	global      *rate.Limiter
	globalStats *keyedStats

	mu      sync.RWMutex
	perKey  map[string]*perKeyEntry

	stopCleanup chan struct{}
	cleanupOnce sync.Once
}

// New validates cfg and builds a Limiter. A disabled Limiter's Wait and
// Allow are always permissive, so callers don't need an extra branch at
// every call site.
func New(cfg Config) (*Limiter, error) {
	if !cfg.Enabled {
		return &Limiter{config: cfg}, nil
	}
	if cfg.RequestsPerSecond <= 0 {
		return nil, fmt.Errorf("ratelimit: RequestsPerSecond must be positive, got %f", cfg.RequestsPerSecond)
	}
	if cfg.BurstSize < 1 {
		return nil, fmt.Errorf("ratelimit: BurstSize must be >= 1, got %d", cfg.BurstSize)
	}
	if cfg.KeyTimeout == 0 {
		cfg.KeyTimeout = 5 * time.Minute
	}
	if cfg.WaitTimeout == 0 {
		cfg.WaitTimeout = 30 * time.Second
	}

	l := &Limiter{
		config:      cfg,
		globalStats: &keyedStats{lastUpdate: time.Now()},
		perKey:      make(map[string]*perKeyEntry),
		stopCleanup: make(chan struct{}),
	}

	if !cfg.PerKey {
		l.global = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.BurstSize)
	} else {
		go l.cleanupLoop()
	}

	return l, nil
}

// Allow reports whether a request may proceed immediately without
// consuming a wait.
func (l *Limiter) Allow(key string) bool {
	if !l.config.Enabled {
		return true
	}
	limiter, stats := l.entryFor(key)
	allowed := limiter.Allow()

	stats.mu.Lock()
	if allowed {
		stats.allowed++
	} else {
		stats.denied++
	}
	stats.lastUpdate = time.Now()
	stats.mu.Unlock()
	return allowed
}

// Wait blocks until the limiter admits the request or ctx/WaitTimeout
// expires.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	if !l.config.Enabled {
		return nil
	}
	limiter, stats := l.entryFor(key)

	if l.config.WaitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.config.WaitTimeout)
		defer cancel()
	}

	start := time.Now()
	err := limiter.Wait(ctx)
	waited := time.Since(start)

	stats.mu.Lock()
	if err == nil {
		stats.waited++
		stats.totalWaitTime += waited
		stats.allowed++
	}
	stats.lastUpdate = time.Now()
	stats.mu.Unlock()
	return err
}

// Stats returns the counters observed for key (ignored when PerKey is
// false).
func (l *Limiter) Stats(key string) Stats {
	if !l.config.Enabled {
		return Stats{}
	}
	limiter, stats := l.entryFor(key)

	stats.mu.RLock()
	defer stats.mu.RUnlock()

	out := Stats{
		Allowed:         stats.allowed,
		Denied:          stats.denied,
		Waited:          stats.waited,
		TotalWaitTime:   stats.totalWaitTime,
		LastUpdate:      stats.lastUpdate,
		AvailableTokens: float64(limiter.Tokens()),
	}
	if l.config.PerKey {
		l.mu.RLock()
		out.ActiveKeys = len(l.perKey)
		l.mu.RUnlock()
	}
	return out
}

func (l *Limiter) entryFor(key string) (*rate.Limiter, *keyedStats) {
	if !l.config.PerKey {
		return l.global, l.globalStats
	}

	l.mu.RLock()
	e, ok := l.perKey[key]
	l.mu.RUnlock()
	if ok {
		l.touch(e)
		return e.limiter, e.stats
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.perKey[key]; ok {
		return e.limiter, e.stats
	}
	e = &perKeyEntry{
		limiter:    rate.NewLimiter(rate.Limit(l.config.RequestsPerSecond), l.config.BurstSize),
		stats:      &keyedStats{lastUpdate: time.Now()},
		lastAccess: time.Now(),
	}
	l.perKey[key] = e
	return e.limiter, e.stats
}

func (l *Limiter) touch(e *perKeyEntry) {
	e.mu.Lock()
	e.lastAccess = time.Now()
	e.mu.Unlock()
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.config.KeyTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCleanup:
			return
		}
	}
}

func (l *Limiter) cleanup() {
	now := time.Now()
	var stale []string

	l.mu.RLock()
	for key, e := range l.perKey {
		e.mu.RLock()
		if now.Sub(e.lastAccess) > l.config.KeyTimeout {
			stale = append(stale, key)
		}
		e.mu.RUnlock()
	}
	l.mu.RUnlock()

	if len(stale) == 0 {
		return
	}
	l.mu.Lock()
	for _, key := range stale {
		delete(l.perKey, key)
	}
	l.mu.Unlock()
}

// Stop ends the per-key cleanup goroutine. Safe to call on a disabled or
// non-per-key Limiter (a no-op in both cases).
func (l *Limiter) Stop() {
	if l.stopCleanup == nil {
		return
	}
	l.cleanupOnce.Do(func() { close(l.stopCleanup) })
}
