package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", fmt.Errorf("leg l-1: %w", ErrNotFound), http.StatusNotFound},
		{"topology", fmt.Errorf("%w: step collision", ErrInvalidTopology), http.StatusConflict},
		{"unauthorized", ErrUnauthorized, http.StatusForbidden},
		{"amount", ErrInvalidAmount, http.StatusBadRequest},
		{"payment", NewPaymentFailedError("card declined"), http.StatusPaymentRequired},
		{"timeout", NewTimeoutError("gateway slow"), http.StatusGatewayTimeout},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, StatusCode(tc.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewTemporaryError("broker down")))
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", ErrTimeout)))
	assert.False(t, IsRetryable(NewPaymentFailedError("declined")))
	assert.False(t, IsRetryable(ErrNotFound))
}

func TestAppErrorUnwrap(t *testing.T) {
	err := NewInvalidTopologyError("step 0 already booked").WithContext("shipment_id", "shp-1")

	assert.True(t, errors.Is(err, ErrInvalidTopology))
	assert.Equal(t, "step 0 already booked", err.Error())
	assert.Equal(t, "shp-1", err.Context["shipment_id"])
}
