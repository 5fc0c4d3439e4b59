package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"

	"github.com/vaidashi/relay-freight-api/pkg/circuitbreaker"
	apperrors "github.com/vaidashi/relay-freight-api/pkg/errors"
	"github.com/vaidashi/relay-freight-api/pkg/logger"
)

// MetadataReference is the PaymentIntent metadata key carrying the
// settlement reference, so a charge can be found again after a crash.
const MetadataReference = "settlement_ref"

// ChargeRequest is one off-session charge of a requester's saved method.
type ChargeRequest struct {
	CustomerRef      string
	PaymentMethodRef string
	AmountMinor      int64
	Currency         string
	Description      string
	// Reference doubles as the gateway idempotency key.
	Reference string
	Metadata  map[string]string
}

// ChargeResult identifies a succeeded charge.
type ChargeResult struct {
	TransactionRef string
	Status         string
	ChargedAt      time.Time
}

// StripeGateway charges requesters through Stripe PaymentIntents.
type StripeGateway struct {
	client  *client.API
	breaker *circuitbreaker.CircuitBreaker
	logger  logger.Logger
}

// NewStripeGateway creates a gateway bound to secretKey.
func NewStripeGateway(secretKey string, breaker *circuitbreaker.CircuitBreaker, logger logger.Logger) *StripeGateway {
	sc := &client.API{}
	sc.Init(secretKey, nil)

	return &StripeGateway{
		client:  sc,
		breaker: breaker,
		logger:  logger,
	}
}

// Charge confirms an off-session PaymentIntent. Replaying the same Reference
// returns the original intent instead of charging again.
func (g *StripeGateway) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	if req.AmountMinor <= 0 {
		return ChargeResult{}, apperrors.NewInvalidAmountError("charge amount must be positive")
	}
	if req.CustomerRef == "" || req.PaymentMethodRef == "" {
		return ChargeResult{}, apperrors.NewPaymentFailedError("requester has no payment method on file")
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.AmountMinor),
		Currency:      stripe.String(req.Currency),
		Customer:      stripe.String(req.CustomerRef),
		PaymentMethod: stripe.String(req.PaymentMethodRef),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
		Description:   stripe.String(req.Description),
	}
	params.Context = ctx

	if req.Reference != "" {
		params.IdempotencyKey = stripe.String(req.Reference)
	}

	params.Metadata = make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		params.Metadata[k] = v
	}
	params.Metadata[MetadataReference] = req.Reference

	var pi *stripe.PaymentIntent

	err := g.breaker.Execute(func() error {
		var err error
		pi, err = g.client.PaymentIntents.New(params)
		return err
	}, isProviderFault)

	if err != nil {
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return ChargeResult{}, apperrors.NewPaymentFailedError("payment provider temporarily unavailable")
		}
		g.logger.Warn("Stripe charge failed", "error", err, "reference", req.Reference)
		return ChargeResult{}, mapStripeError(err)
	}

	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return ChargeResult{}, apperrors.NewPaymentFailedError(fmt.Sprintf("payment intent %s is %s", pi.ID, pi.Status))
	}

	return ChargeResult{
		TransactionRef: pi.ID,
		Status:         string(pi.Status),
		ChargedAt:      time.Unix(pi.Created, 0).UTC(),
	}, nil
}

// FindCharge looks up a succeeded PaymentIntent carrying reference.
func (g *StripeGateway) FindCharge(ctx context.Context, reference string) (ChargeResult, bool, error) {
	params := &stripe.PaymentIntentSearchParams{}
	params.Query = fmt.Sprintf("metadata['%s']:'%s'", MetadataReference, reference)
	params.Context = ctx

	iter := g.client.PaymentIntents.Search(params)

	for iter.Next() {
		pi := iter.PaymentIntent()
		if pi.Status == stripe.PaymentIntentStatusSucceeded {
			return ChargeResult{
				TransactionRef: pi.ID,
				Status:         string(pi.Status),
				ChargedAt:      time.Unix(pi.Created, 0).UTC(),
			}, true, nil
		}
	}

	if err := iter.Err(); err != nil {
		return ChargeResult{}, false, mapStripeError(err)
	}

	return ChargeResult{}, false, nil
}

// mapStripeError converts stripe errors into the payment error kinds.
func mapStripeError(err error) error {
	var stripeErr *stripe.Error

	if errors.As(err, &stripeErr) {
		switch stripeErr.Code {
		case stripe.ErrorCodeCardDeclined:
			return apperrors.NewPaymentFailedError(fmt.Sprintf("card was declined (%s)", stripeErr.Msg))
		case stripe.ErrorCodeExpiredCard:
			return apperrors.NewPaymentFailedError("card has expired")
		case stripe.ErrorCodeBalanceInsufficient:
			return apperrors.NewPaymentFailedError("insufficient funds")
		case stripe.ErrorCodeIdempotencyKeyInUse:
			return apperrors.NewConflictError("a charge with the same reference is in flight")
		}

		if stripeErr.HTTPStatusCode >= http.StatusInternalServerError || stripeErr.HTTPStatusCode == http.StatusTooManyRequests {
			return apperrors.NewAppError(apperrors.ErrPaymentFailed, "payment provider unavailable", http.StatusPaymentRequired, true)
		}

		return apperrors.NewPaymentFailedError(fmt.Sprintf("payment rejected: %s", stripeErr.Msg))
	}

	// no answer from the provider: the charge may or may not exist
	return apperrors.NewAppError(apperrors.ErrPaymentFailed, fmt.Sprintf("payment outcome unknown: %v", err), http.StatusPaymentRequired, true)
}

// isProviderFault keeps card declines from tripping the breaker.
func isProviderFault(err error) bool {
	var stripeErr *stripe.Error

	if errors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode >= http.StatusInternalServerError || stripeErr.HTTPStatusCode == http.StatusTooManyRequests
	}

	return true
}
