package internal

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	rateLimiterMaxEntries = 10000
	rateLimiterIdleTTL    = time.Hour
)

// pollLimiter aplica un token bucket por cuenta a los endpoints de poll.
type pollLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	accounts map[string]*limiterEntry
	clock    func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// newPollLimiter crea el limiter. perHour <= 0 desactiva el límite.
func newPollLimiter(perHour, burst int) *pollLimiter {
	l := &pollLimiter{
		accounts: make(map[string]*limiterEntry),
		clock:    time.Now,
	}
	l.configure(perHour, burst)
	return l
}

func (l *pollLimiter) configure(perHour, burst int) {
	if perHour <= 0 {
		l.limit = rate.Inf
	} else {
		l.limit = rate.Every(time.Hour / time.Duration(perHour))
	}
	if burst <= 0 {
		burst = 1
	}
	l.burst = burst
}

// Update cambia los límites. Los buckets existentes se recrean.
func (l *pollLimiter) Update(perHour, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.configure(perHour, burst)
	l.accounts = make(map[string]*limiterEntry)
}

// Allow consume un token de la cuenta. Retorna false si el bucket está vacío.
func (l *pollLimiter) Allow(account string) bool {
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.limit == rate.Inf {
		return true
	}

	entry, ok := l.accounts[account]
	if !ok {
		if len(l.accounts) >= rateLimiterMaxEntries {
			l.pruneLocked(now)
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.accounts[account] = entry
	}
	entry.lastUsed = now
	return entry.limiter.AllowN(now, 1)
}

// pruneLocked descarta buckets sin uso reciente. Un bucket descartado vuelve lleno.
func (l *pollLimiter) pruneLocked(now time.Time) {
	for account, entry := range l.accounts {
		if now.Sub(entry.lastUsed) > rateLimiterIdleTTL {
			delete(l.accounts, account)
		}
	}
}
