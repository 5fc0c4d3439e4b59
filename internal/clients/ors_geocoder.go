package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/vaidashi/relay-freight-api/pkg/circuitbreaker"
	apperrors "github.com/vaidashi/relay-freight-api/pkg/errors"
	"github.com/vaidashi/relay-freight-api/pkg/logger"
	"github.com/vaidashi/relay-freight-api/pkg/retry"
)

// Coordinates is a WGS84 position.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// GeocodeCache memoizes resolved addresses.
type GeocodeCache interface {
	Get(ctx context.Context, address string) (lat, lon float64, ok bool, err error)
	Put(ctx context.Context, address string, lat, lon float64) error
}

type geocodeResponse struct {
	Features []struct {
		Geometry struct {
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"features"`
}

// ORSGeocoder resolves free-text addresses with OpenRouteService /geocode/search.
type ORSGeocoder struct {
	baseURL     string
	apiKey      string
	country     string
	httpClient  *http.Client
	cache       GeocodeCache
	breaker     *circuitbreaker.CircuitBreaker
	logger      logger.Logger
	retryConfig *retry.RetryConfig
}

// NewORSGeocoder creates a geocoder. cache may be nil.
func NewORSGeocoder(baseURL, apiKey, country string, timeout time.Duration, cache GeocodeCache, breaker *circuitbreaker.CircuitBreaker, logger logger.Logger) *ORSGeocoder {
	return &ORSGeocoder{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		country:    country,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cache,
		breaker:    breaker,
		logger:     logger,
		retryConfig: &retry.RetryConfig{
			MaxAttempts:     4,
			BackoffStrategy: retry.NewDefaultExponentialBackoff(),
			Logger:          logger,
			RetryableErrors: []error{
				apperrors.ErrTimeout,
				apperrors.ErrTemporaryFailure,
				apperrors.ErrRateLimited,
			},
		},
	}
}

func normalizeAddress(address string) string {
	return strings.ToLower(strings.Join(strings.Fields(address), " "))
}

// Resolve returns the coordinates of address. An address with no match is NotFound.
func (g *ORSGeocoder) Resolve(ctx context.Context, address string) (Coordinates, error) {
	norm := normalizeAddress(address)

	if norm == "" {
		return Coordinates{}, apperrors.NewInvalidInputError("address is empty")
	}

	if g.cache != nil {
		lat, lon, ok, err := g.cache.Get(ctx, norm)
		if err != nil {
			g.logger.Warn("Geocode cache lookup failed", "error", err, "address", norm)
		} else if ok {
			return Coordinates{Lat: lat, Lon: lon}, nil
		}
	}

	var coords Coordinates

	err := g.breaker.Execute(func() error {
		return retry.Retry(ctx, func(ctx context.Context) error {
			var err error
			coords, err = g.search(ctx, norm)
			return err
		}, g.retryConfig)
	}, func(err error) bool {
		return !errors.Is(err, apperrors.ErrNotFound) && !errors.Is(err, apperrors.ErrInvalidInput)
	})

	if err != nil {
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return Coordinates{}, apperrors.NewAppError(apperrors.ErrServiceUnavailable, "geocoder temporarily unavailable", http.StatusServiceUnavailable, true)
		}
		g.logger.Error("Failed to geocode address after retries", "error", err, "address", norm)
		return Coordinates{}, err
	}

	if g.cache != nil {
		if err := g.cache.Put(ctx, norm, coords.Lat, coords.Lon); err != nil {
			g.logger.Warn("Failed to store geocode result", "error", err, "address", norm)
		}
	}

	return coords, nil
}

func (g *ORSGeocoder) search(ctx context.Context, text string) (Coordinates, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/geocode/search", nil)

	if err != nil {
		return Coordinates{}, apperrors.NewInternalError(fmt.Sprintf("failed to create request: %v", err))
	}

	req.Header.Set("Authorization", g.apiKey)
	req.Header.Set("Accept", "application/json")

	q := req.URL.Query()
	q.Set("text", text)
	if g.country != "" {
		q.Set("boundary.country", g.country)
	}
	q.Set("size", "1")
	req.URL.RawQuery = q.Encode()

	resp, err := g.httpClient.Do(req)

	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return Coordinates{}, apperrors.NewTimeoutError("geocode request timed out")
		}
		return Coordinates{}, apperrors.NewTemporaryError(fmt.Sprintf("failed to send geocode request: %v", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)

	if err != nil {
		return Coordinates{}, apperrors.NewTemporaryError(fmt.Sprintf("failed to read geocode response: %v", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Coordinates{}, apperrors.NewRateLimitedError("geocoder rate limit reached")
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return Coordinates{}, apperrors.NewTimeoutError("geocode request timed out")
	case resp.StatusCode >= http.StatusInternalServerError:
		return Coordinates{}, apperrors.NewTemporaryError(fmt.Sprintf("geocoder error: %d", resp.StatusCode))
	case resp.StatusCode >= http.StatusBadRequest:
		return Coordinates{}, apperrors.NewAppError(
			apperrors.ErrInvalidInput,
			fmt.Sprintf("geocoder rejected request: %d %s", resp.StatusCode, strings.TrimSpace(string(body))),
			http.StatusBadRequest,
			false,
		)
	}

	var decoded geocodeResponse

	if err := json.Unmarshal(body, &decoded); err != nil {
		return Coordinates{}, apperrors.NewInternalError(fmt.Sprintf("failed to parse geocode response: %v", err))
	}

	if len(decoded.Features) == 0 {
		return Coordinates{}, apperrors.NewNotFoundError(fmt.Sprintf("no geocode result for %q", text))
	}

	c := decoded.Features[0].Geometry.Coordinates

	if len(c) != 2 {
		return Coordinates{}, apperrors.NewNotFoundError(fmt.Sprintf("invalid coordinates for %q", text))
	}

	return Coordinates{Lon: c[0], Lat: c[1]}, nil
}
