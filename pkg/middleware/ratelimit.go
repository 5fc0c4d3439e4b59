package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/vaidashi/relay-freight-api/pkg/logger"
	"github.com/vaidashi/relay-freight-api/pkg/ratelimit"
)

// ClientKeyFunc extracts the identity a request is limited under.
type ClientKeyFunc func(r *http.Request) string

// RateLimiterMiddleware limits each client with its own token bucket and
// optionally applies a shared bucket per route.
type RateLimiterMiddleware struct {
	clients           *ratelimit.KeyedLimiter
	routes            map[string]*ratelimit.TokenBucket
	mu                sync.RWMutex
	clientKey         ClientKeyFunc
	trustForwardedFor bool
	logger            logger.Logger
}

// RateLimiterConfig configures the rate limiter middleware
type RateLimiterConfig struct {
	ClientMaxTokens   float64
	ClientRefillRate  float64
	ClientIdleTTL     time.Duration
	TrustForwardedFor bool
	// ClientKey overrides the default client IP key.
	ClientKey ClientKeyFunc
}

// NewRateLimiterMiddleware creates a new rate limiter middleware
func NewRateLimiterMiddleware(cfg *RateLimiterConfig, logger logger.Logger) *RateLimiterMiddleware {
	m := &RateLimiterMiddleware{
		clients:           ratelimit.NewKeyedLimiter(cfg.ClientMaxTokens, cfg.ClientRefillRate, cfg.ClientIdleTTL),
		routes:            make(map[string]*ratelimit.TokenBucket),
		trustForwardedFor: cfg.TrustForwardedFor,
		logger:            logger,
	}

	m.clientKey = cfg.ClientKey
	if m.clientKey == nil {
		m.clientKey = m.clientIP
	}

	return m
}

// SetRouteLimit installs a shared bucket for "METHOD path-template".
func (m *RateLimiterMiddleware) SetRouteLimit(route string, maxTokens, refillRate float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.routes[route] = ratelimit.NewTokenBucket(maxTokens, refillRate)
}

// Limit wraps a handler registered under route.
func (m *RateLimiterMiddleware) Limit(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.RLock()
		bucket := m.routes[route]
		m.mu.RUnlock()

		if bucket != nil && !bucket.Allow() {
			m.logger.Warn("Route rate limit exceeded", "route", route)
			reject(w, "5", "Route rate limit exceeded. Please try again later.")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Middleware applies the per-client limit to every request.
func (m *RateLimiterMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := m.clientKey(r)

		if !m.clients.Allow(key) {
			m.logger.Warn("Client rate limit exceeded", "method", r.Method, "path", r.URL.Path, "client", key)
			reject(w, "60", "Rate limit exceeded. Please try again later.")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func reject(w http.ResponseWriter, retryAfter, message string) {
	w.Header().Set("Retry-After", retryAfter)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write([]byte(`{"success":false,"error":"` + message + `"}`))
}

func (m *RateLimiterMiddleware) clientIP(r *http.Request) string {
	if m.trustForwardedFor {
		if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
			return strings.TrimSpace(strings.Split(forwardedFor, ",")[0])
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Stop releases the client limiter's eviction loop.
func (m *RateLimiterMiddleware) Stop() {
	m.clients.Stop()
}

// GetMetrics reports tracked clients and route bucket levels.
func (m *RateLimiterMiddleware) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	routes := make(map[string]map[string]float64, len(m.routes))
	for route, bucket := range m.routes {
		routes[route] = map[string]float64{
			"max_tokens":  bucket.MaxTokens(),
			"refill_rate": bucket.RefillRate(),
			"available":   bucket.Available(),
		}
	}

	return map[string]interface{}{
		"tracked_clients": m.clients.Len(),
		"route_limits":    routes,
	}
}
