package middleware

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/vaidashi/relay-freight-api/pkg/circuitbreaker"
	"github.com/vaidashi/relay-freight-api/pkg/logger"
)

// GracefulDegradation sheds non-essential routes with a circuit breaker once
// they start failing with 5xx responses. Essential prefixes are never shed.
type GracefulDegradation struct {
	breaker           *circuitbreaker.CircuitBreaker
	essentialPrefixes []string
	logger            logger.Logger
}

// NewGracefulDegradation creates a new graceful degradation middleware
func NewGracefulDegradation(essentialPrefixes []string, logger logger.Logger) *GracefulDegradation {
	breaker := circuitbreaker.NewCircuitBreaker(circuitbreaker.CircuitBreakerConfig{
		Name:             "non-essential-routes",
		FailureThreshold: 10,
		ResetTimeout:     30 * time.Second,
		HalfOpenMaxCalls: 5,
	})

	return &GracefulDegradation{
		breaker:           breaker,
		essentialPrefixes: essentialPrefixes,
		logger:            logger,
	}
}

// Middleware returns a middleware function
func (gd *GracefulDegradation) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gd.isEssential(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if !gd.breaker.Allow() {
			gd.logger.Warn("Circuit is open, request rejected",
				"path", r.URL.Path,
				"method", r.Method,
				"state", gd.breaker.GetState().String())

			w.Header().Set("Retry-After", "30")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"success":false,"error":"Service is temporarily unavailable. Please try again later."}`))
			return
		}

		sw := NewStatusWriter(w)
		next.ServeHTTP(sw, r)

		if sw.Status() >= 500 {
			gd.breaker.Failure()
		} else {
			gd.breaker.Success()
		}
	})
}

func (gd *GracefulDegradation) isEssential(path string) bool {
	for _, prefix := range gd.essentialPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Breaker exposes the underlying breaker for the admin endpoints.
func (gd *GracefulDegradation) Breaker() *circuitbreaker.CircuitBreaker {
	return gd.breaker
}

// StatusWriter records the status code written by a handler.
type StatusWriter struct {
	http.ResponseWriter
	status int
}

func NewStatusWriter(w http.ResponseWriter) *StatusWriter {
	return &StatusWriter{ResponseWriter: w, status: http.StatusOK}
}

func (sw *StatusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *StatusWriter) Status() int {
	return sw.status
}

// Hijack passes websocket upgrades through to the wrapped writer.
func (sw *StatusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := sw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	sw.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
