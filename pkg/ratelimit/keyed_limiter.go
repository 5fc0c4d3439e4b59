package ratelimit

import (
	"sync"
	"time"
)

type keyedEntry struct {
	bucket   *TokenBucket
	lastSeen time.Time
}

// KeyedLimiter keeps one token bucket per key (client IP or user id) and
// evicts buckets idle for longer than idleTTL.
type KeyedLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*keyedEntry
	maxTokens  float64
	refillRate float64
	idleTTL    time.Duration
	stopChan   chan struct{}
	stopOnce   sync.Once
}

// NewKeyedLimiter starts the eviction loop; call Stop to end it.
func NewKeyedLimiter(maxTokens, refillRate float64, idleTTL time.Duration) *KeyedLimiter {
	l := &KeyedLimiter{
		buckets:    make(map[string]*keyedEntry),
		maxTokens:  maxTokens,
		refillRate: refillRate,
		idleTTL:    idleTTL,
		stopChan:   make(chan struct{}),
	}

	if idleTTL > 0 {
		go l.cleanupLoop()
	}

	return l
}

// Allow takes one token from the bucket for key.
func (l *KeyedLimiter) Allow(key string) bool {
	l.mu.Lock()
	entry, ok := l.buckets[key]
	if !ok {
		entry = &keyedEntry{bucket: NewTokenBucket(l.maxTokens, l.refillRate)}
		l.buckets[key] = entry
	}
	entry.lastSeen = time.Now()
	l.mu.Unlock()

	return entry.bucket.Allow()
}

// Len reports how many keys are tracked.
func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.buckets)
}

func (l *KeyedLimiter) evictIdle(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, entry := range l.buckets {
		if now.Sub(entry.lastSeen) > l.idleTTL {
			delete(l.buckets, key)
		}
	}
}

func (l *KeyedLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.idleTTL)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			l.evictIdle(now)
		case <-l.stopChan:
			return
		}
	}
}

// Stop ends the eviction loop. Safe to call more than once.
func (l *KeyedLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopChan) })
}
