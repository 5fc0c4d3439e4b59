package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vaidashi/relay-freight-api/internal/config"
	"github.com/vaidashi/relay-freight-api/internal/metrics"
	"github.com/vaidashi/relay-freight-api/pkg/circuitbreaker"
	"github.com/vaidashi/relay-freight-api/pkg/logger"
	"github.com/vaidashi/relay-freight-api/pkg/middleware"
)

const pickupRoute = "POST /api/v1/legs/{id}/pickup"

// Deps are the collaborators the HTTP surface dispatches to.
type Deps struct {
	Actors     ActorResolver
	Shipments  ShipmentAPI
	Booking    BookingAPI
	Settlement SettlementAPI
	Favorites  FavoriteAPI
	Reviews    ReviewAPI
	Outbox     OutboxAdmin
	// Push upgrades /api/v1/ws requests; nil disables the endpoint.
	Push     http.Handler
	Breakers []*circuitbreaker.CircuitBreaker
}

type Server struct {
	config              *config.Config
	logger              logger.Logger
	router              *mux.Router
	httpServer          *http.Server
	deps                Deps
	rateLimiter         *middleware.RateLimiterMiddleware
	gracefulDegradation *middleware.GracefulDegradation
}

// NewServer builds the router over deps.
func NewServer(cfg *config.Config, logger logger.Logger, deps Deps) *Server {
	r := mux.NewRouter()

	rateLimiter := middleware.NewRateLimiterMiddleware(&middleware.RateLimiterConfig{
		ClientMaxTokens:   float64(cfg.RateLimit.ClientBurst),
		ClientRefillRate:  float64(cfg.RateLimit.ClientPerSecond),
		ClientIdleTTL:     10 * time.Minute,
		TrustForwardedFor: cfg.RateLimit.TrustForwardedFor,
	}, logger)
	rateLimiter.SetRouteLimit(pickupRoute, float64(cfg.RateLimit.PickupBurst), float64(cfg.RateLimit.PickupPerSecond))

	s := &Server{
		config: cfg,
		logger: logger,
		router: r,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      r,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		deps:        deps,
		rateLimiter: rateLimiter,
		// favorites and reviews are the only routes wrapped, so nothing is essential
		gracefulDegradation: middleware.NewGracefulDegradation(nil, logger),
	}

	s.setupRoutes()

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	s.rateLimiter.Stop()
	return s.httpServer.Shutdown(ctx)
}

// setupRoutes configures all the routes for our API
func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.metricsMiddleware)
	s.router.Use(s.rateLimiter.Middleware)

	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/health", s.healthCheckHandler).Methods(http.MethodGet)

	// Admin API for monitoring and management
	admin := s.router.PathPrefix("/api/v1/admin").Subrouter()
	admin.HandleFunc("/outbox/dead", s.getDeadMessagesHandler).Methods(http.MethodGet)
	admin.HandleFunc("/outbox/{id}/requeue", s.requeueMessageHandler).Methods(http.MethodPost)
	admin.HandleFunc("/circuit-breakers", s.getCircuitBreakersHandler).Methods(http.MethodGet)
	admin.HandleFunc("/circuit-breakers/{name}/reset", s.resetCircuitBreakerHandler).Methods(http.MethodPost)
	admin.HandleFunc("/rate-limits", s.getRateLimitsHandler).Methods(http.MethodGet)
	admin.HandleFunc("/rate-limits", s.setRouteRateLimitHandler).Methods(http.MethodPut)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.actorMiddleware)

	api.HandleFunc("/shipments", s.createShipmentHandler).Methods(http.MethodPost)
	api.HandleFunc("/shipments/{id}", s.getShipmentHandler).Methods(http.MethodGet)
	api.HandleFunc("/shipments/{id}/route", s.getShipmentRouteHandler).Methods(http.MethodGet)
	api.HandleFunc("/shipments/{id}/cancel", s.cancelShipmentHandler).Methods(http.MethodPost)
	api.HandleFunc("/shipments/{id}/legs/full", s.bookFullShipmentHandler).Methods(http.MethodPost)
	api.HandleFunc("/shipments/{id}/legs/partial", s.bookPartialLegHandler).Methods(http.MethodPost)

	api.HandleFunc("/me/shipments", s.listMyShipmentsHandler).Methods(http.MethodGet)
	api.HandleFunc("/me/legs", s.listMyLegsHandler).Methods(http.MethodGet)

	api.HandleFunc("/legs/{id}/cancel", s.cancelLegHandler).Methods(http.MethodPost)
	api.Handle("/legs/{id}/pickup", s.rateLimiter.Limit(pickupRoute, http.HandlerFunc(s.confirmPickupHandler))).Methods(http.MethodPost)
	api.HandleFunc("/legs/{id}/finish", s.finishLegHandler).Methods(http.MethodPost)
	api.HandleFunc("/legs/{id}/validate", s.validateLegHandler).Methods(http.MethodPost)
	api.HandleFunc("/legs/{id}/settlement", s.getSettlementHandler).Methods(http.MethodGet)

	degradable := s.gracefulDegradation.Middleware
	api.Handle("/favorites", degradable(http.HandlerFunc(s.listFavoritesHandler))).Methods(http.MethodGet)
	api.Handle("/favorites/{courierId}", degradable(http.HandlerFunc(s.addFavoriteHandler))).Methods(http.MethodPost)
	api.Handle("/favorites/{courierId}", degradable(http.HandlerFunc(s.removeFavoriteHandler))).Methods(http.MethodDelete)
	api.Handle("/legs/{id}/reviews", degradable(http.HandlerFunc(s.createReviewHandler))).Methods(http.MethodPost)
	api.Handle("/couriers/{id}/reviews", degradable(http.HandlerFunc(s.listCourierReviewsHandler))).Methods(http.MethodGet)

	if s.deps.Push != nil {
		api.Handle("/ws", s.deps.Push).Methods(http.MethodGet)
	}
}

// Middleware for logging requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := middleware.NewStatusWriter(w)

		next.ServeHTTP(sw, r)

		s.logger.Info("Request processed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.Status(),
			"duration", time.Since(start),
			"remoteAddr", r.RemoteAddr,
		)
	})
}

// metricsMiddleware records request latency by route template so ids do not
// blow up label cardinality.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := middleware.NewStatusWriter(w)

		next.ServeHTTP(sw, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		metrics.HTTPRequestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(sw.Status())).
			Observe(time.Since(start).Seconds())
	})
}
