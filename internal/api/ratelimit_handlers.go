package api

import (
	"net/http"
)

// getRateLimitsHandler returns the client and route limiter state
func (s *Server) getRateLimitsHandler(w http.ResponseWriter, r *http.Request) {
	s.ok(w, http.StatusOK, s.rateLimiter.GetMetrics())
}

// setRouteRateLimitHandler replaces the shared bucket of one route
func (s *Server) setRouteRateLimitHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Route      string  `json:"route"`
		MaxTokens  float64 `json:"max_tokens"`
		RefillRate float64 `json:"refill_rate"`
	}

	if err := decode(r, &req); err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	if req.Route == "" {
		s.respondWithError(w, http.StatusBadRequest, "Route is required")
		return
	}

	if req.MaxTokens <= 0 || req.RefillRate <= 0 {
		s.respondWithError(w, http.StatusBadRequest, "MaxTokens and RefillRate must be greater than zero")
		return
	}

	s.rateLimiter.SetRouteLimit(req.Route, req.MaxTokens, req.RefillRate)

	s.ok(w, http.StatusOK, map[string]interface{}{
		"message":     "Rate limit updated successfully",
		"route":       req.Route,
		"max_tokens":  req.MaxTokens,
		"refill_rate": req.RefillRate,
	})
}
