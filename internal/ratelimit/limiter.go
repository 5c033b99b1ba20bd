// Package ratelimit throttles API calls with token buckets keyed by client
// address and by account.
package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"
)

// idleAfter is how long an untouched bucket survives before cleanup drops it.
const idleAfter = 5 * time.Minute

type bucket struct {
	tokens   float64
	lastTime time.Time
	rps      float64
	burst    int
}

func (b *bucket) allow(now time.Time) bool {
	elapsed := now.Sub(b.lastTime).Seconds()
	b.tokens += elapsed * b.rps
	if b.tokens > float64(b.burst) {
		b.tokens = float64(b.burst)
	}
	b.lastTime = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Limits configures both bucket families. A zero rate disables that family.
type Limits struct {
	ClientRPS     float64
	ClientBurst   int
	AccountRPS    float64
	AccountBurst  int
	CleanupPeriod time.Duration
}

type Limiter struct {
	mu sync.Mutex

	clientBuckets  map[string]*bucket
	accountBuckets map[string]*bucket

	limits Limits
	now    func() time.Time

	rejected atomic.Int64
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewLimiter(limits Limits) *Limiter {
	if limits.CleanupPeriod <= 0 {
		limits.CleanupPeriod = idleAfter
	}
	l := &Limiter{
		clientBuckets:  make(map[string]*bucket),
		accountBuckets: make(map[string]*bucket),
		limits:         limits,
		now:            time.Now,
		stopCh:         make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Allow spends one token from the client's bucket and then from the
// account's. An empty account skips the account check.
func (l *Limiter) Allow(clientIP, account string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	if l.limits.ClientRPS > 0 {
		cb, ok := l.clientBuckets[clientIP]
		if !ok {
			cb = &bucket{tokens: float64(l.limits.ClientBurst), lastTime: now, rps: l.limits.ClientRPS, burst: l.limits.ClientBurst}
			l.clientBuckets[clientIP] = cb
		}
		if !cb.allow(now) {
			l.rejected.Add(1)
			return false
		}
	}

	if account != "" && l.limits.AccountRPS > 0 {
		ab, ok := l.accountBuckets[account]
		if !ok {
			ab = &bucket{tokens: float64(l.limits.AccountBurst), lastTime: now, rps: l.limits.AccountRPS, burst: l.limits.AccountBurst}
			l.accountBuckets[account] = ab
		}
		if !ab.allow(now) {
			l.rejected.Add(1)
			return false
		}
	}

	return true
}

// Status is a snapshot of the limiter's state.
type Status struct {
	ActiveClients  int   `json:"active_clients"`
	ActiveAccounts int   `json:"active_accounts"`
	Rejected       int64 `json:"rejected"`
}

func (l *Limiter) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{
		ActiveClients:  len(l.clientBuckets),
		ActiveAccounts: len(l.accountBuckets),
		Rejected:       l.rejected.Load(),
	}
}

// Rejected reports how many calls Allow has turned away.
func (l *Limiter) Rejected() int64 {
	return l.rejected.Load()
}

func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.limits.CleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.prune()
		}
	}
}

func (l *Limiter) prune() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for ip, b := range l.clientBuckets {
		if now.Sub(b.lastTime) > idleAfter {
			delete(l.clientBuckets, ip)
		}
	}
	for account, b := range l.accountBuckets {
		if now.Sub(b.lastTime) > idleAfter {
			delete(l.accountBuckets, account)
		}
	}
}
