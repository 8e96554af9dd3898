// Package ratelimit keeps per-principal admission state in memory: a token
// bucket for request rate, an in-flight request cap and a cap on open voice
// sessions. State is local to one process.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sync"
	"time"
)

const anonymous = "anonymous"

type Config struct {
	RPS   float64
	Burst int

	MaxConcurrentRequests      int
	MaxConcurrentVoiceSessions int

	// Bounds for the principal table. Principals holding a permit are never
	// evicted.
	MaxEntries int
	EntryTTL   time.Duration
}

type Limiter struct {
	cfg Config

	mu      sync.Mutex
	clients map[string]*client
}

// client is one principal's admission state, guarded by Limiter.mu.
type client struct {
	tokens   float64
	refilled time.Time

	requests int
	voice    int

	lastSeen time.Time
}

func New(cfg Config) *Limiter {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 30 * time.Minute
	}
	return &Limiter{cfg: cfg, clients: make(map[string]*client)}
}

// PrincipalKeyFromAPIKey hashes the key so raw secrets never sit in the
// table or in logs.
func PrincipalKeyFromAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return "k_" + hex.EncodeToString(sum[:16])
}

// PrincipalKeyFromIP keys anonymous clients by address. Keys never collide
// with API key principals.
func PrincipalKeyFromIP(ip string) string {
	if ip == "" {
		return anonymous
	}
	return "ip_" + ip
}

// Permit is held for the lifetime of an admitted request or voice session.
// Release is idempotent.
type Permit struct {
	once    sync.Once
	release func()
}

func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.once.Do(p.release)
}

type Decision struct {
	Allowed bool
	// RetryAfter is in whole seconds, at least 1 when Allowed is false.
	RetryAfter int
	Permit     *Permit
}

func (l *Limiter) AcquireRequest(principal string, now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	c := l.clientLocked(principal, now)
	if l.cfg.RPS > 0 && l.cfg.Burst > 0 {
		if wait := c.take(now, l.cfg.RPS, l.cfg.Burst); wait > 0 {
			return Decision{RetryAfter: wait}
		}
	}
	if l.cfg.MaxConcurrentRequests > 0 && c.requests >= l.cfg.MaxConcurrentRequests {
		return Decision{RetryAfter: 1}
	}
	c.requests++
	return Decision{Allowed: true, Permit: l.permit(func(c *client) { c.requests-- }, c)}
}

// AcquireVoiceSession caps the number of open voice websockets per principal.
// It does not consume request tokens.
func (l *Limiter) AcquireVoiceSession(principal string, now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	c := l.clientLocked(principal, now)
	if l.cfg.MaxConcurrentVoiceSessions > 0 && c.voice >= l.cfg.MaxConcurrentVoiceSessions {
		return Decision{RetryAfter: 1}
	}
	c.voice++
	return Decision{Allowed: true, Permit: l.permit(func(c *client) { c.voice-- }, c)}
}

// Len reports how many principals are tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func (l *Limiter) permit(done func(*client), c *client) *Permit {
	return &Permit{release: func() {
		l.mu.Lock()
		done(c)
		l.mu.Unlock()
	}}
}

func (l *Limiter) clientLocked(principal string, now time.Time) *client {
	if principal == "" {
		principal = anonymous
	}
	if c, ok := l.clients[principal]; ok {
		c.lastSeen = now
		return c
	}
	if len(l.clients) >= l.cfg.MaxEntries {
		l.evictLocked(now)
	}
	c := &client{lastSeen: now}
	l.clients[principal] = c
	return c
}

// evictLocked drops idle principals past their TTL, then, if the table is
// still full, the least recently seen idle principal.
func (l *Limiter) evictLocked(now time.Time) {
	var (
		oldestKey string
		oldest    time.Time
	)
	for k, c := range l.clients {
		if c.busy() {
			continue
		}
		if now.Sub(c.lastSeen) > l.cfg.EntryTTL {
			delete(l.clients, k)
			continue
		}
		if oldestKey == "" || c.lastSeen.Before(oldest) {
			oldestKey, oldest = k, c.lastSeen
		}
	}
	if len(l.clients) >= l.cfg.MaxEntries && oldestKey != "" {
		delete(l.clients, oldestKey)
	}
}

func (c *client) busy() bool {
	return c.requests > 0 || c.voice > 0
}

// take spends one token, refilling at rps up to burst. It returns 0 on
// success, otherwise the whole seconds until a token is available.
func (c *client) take(now time.Time, rps float64, burst int) int {
	capacity := float64(burst)
	if c.refilled.IsZero() {
		c.tokens = capacity
		c.refilled = now
	}
	if elapsed := now.Sub(c.refilled).Seconds(); elapsed > 0 {
		c.tokens = math.Min(capacity, c.tokens+elapsed*rps)
		c.refilled = now
	}
	if c.tokens >= 1 {
		c.tokens--
		return 0
	}
	return max(1, int(math.Ceil((1-c.tokens)/rps)))
}
