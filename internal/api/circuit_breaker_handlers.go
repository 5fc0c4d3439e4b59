package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vaidashi/relay-freight-api/pkg/circuitbreaker"
)

func (s *Server) breakers() []*circuitbreaker.CircuitBreaker {
	return append([]*circuitbreaker.CircuitBreaker{s.gracefulDegradation.Breaker()}, s.deps.Breakers...)
}

// getCircuitBreakersHandler returns the state of every breaker
func (s *Server) getCircuitBreakersHandler(w http.ResponseWriter, r *http.Request) {
	states := make([]map[string]interface{}, 0, len(s.deps.Breakers)+1)

	for _, b := range s.breakers() {
		states = append(states, b.GetMetrics())
	}

	s.ok(w, http.StatusOK, states)
}

// resetCircuitBreakerHandler resets the named breaker to closed state
func (s *Server) resetCircuitBreakerHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	for _, b := range s.breakers() {
		if b.Name() == name {
			b.Reset()
			s.logger.Info("Circuit breaker reset", "name", name)
			s.ok(w, http.StatusOK, b.GetMetrics())
			return
		}
	}

	s.respondWithError(w, http.StatusNotFound, "Unknown circuit breaker: "+name)
}
