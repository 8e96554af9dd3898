package bridge

import "time"

// tokenBucket refills continuously at rate tokens per second up to capacity.
type tokenBucket struct {
	rate     int64
	capacity int64
	tokens   int64
}

func newTokenBucket(rate int64, burstSeconds int64) *tokenBucket {
	if rate <= 0 {
		return nil
	}
	return &tokenBucket{rate: rate, capacity: rate * burstSeconds, tokens: rate * burstSeconds}
}

func (b *tokenBucket) refill(elapsed time.Duration) {
	if b == nil {
		return
	}
	add := (elapsed.Nanoseconds() * b.rate) / int64(time.Second)
	if add <= 0 {
		return
	}
	b.tokens = min(b.tokens+add, b.capacity)
}

func (b *tokenBucket) has(n int64) bool {
	return b == nil || b.tokens >= n
}

func (b *tokenBucket) take(n int64) {
	if b != nil {
		b.tokens -= n
	}
}

// inboundLimiter bounds client audio by frames per second and bytes per
// second. A nil limiter allows everything.
type inboundLimiter struct {
	now        func() time.Time
	frames     *tokenBucket
	bytes      *tokenBucket
	lastRefill time.Time
}

func newInboundLimiter(now func() time.Time, fps int, bps int64, burstSeconds int) *inboundLimiter {
	if fps <= 0 && bps <= 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	if burstSeconds <= 0 {
		burstSeconds = 1
	}
	return &inboundLimiter{
		now:        now,
		frames:     newTokenBucket(int64(fps), int64(burstSeconds)),
		bytes:      newTokenBucket(bps, int64(burstSeconds)),
		lastRefill: now(),
	}
}

func (l *inboundLimiter) Allow(frameBytes int) bool {
	if l == nil {
		return true
	}
	now := l.now()
	if elapsed := now.Sub(l.lastRefill); elapsed > 0 {
		l.frames.refill(elapsed)
		l.bytes.refill(elapsed)
		l.lastRefill = now
	}

	n := int64(max(frameBytes, 0))
	if !l.frames.has(1) || !l.bytes.has(n) {
		return false
	}
	l.frames.take(1)
	l.bytes.take(n)
	return true
}
