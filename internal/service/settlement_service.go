package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/vaidashi/relay-freight-api/internal/clients"
	"github.com/vaidashi/relay-freight-api/internal/fare"
	"github.com/vaidashi/relay-freight-api/internal/metrics"
	"github.com/vaidashi/relay-freight-api/internal/models"
	"github.com/vaidashi/relay-freight-api/internal/repository"
	apperrors "github.com/vaidashi/relay-freight-api/pkg/errors"
	"github.com/vaidashi/relay-freight-api/pkg/logger"
)

// SettlementConfig tunes the settlement engine.
type SettlementConfig struct {
	Currency       string
	InvoiceBucket  string
	GatewayTimeout time.Duration
	UploadTimeout  time.Duration
	// ClaimTTL is how long an unfinished settlement claim blocks other
	// attempts. An older claim is taken over by the next attempt.
	ClaimTTL time.Duration
}

// PickupResult is the outcome of a pickup confirmation.
type PickupResult struct {
	Settlement     *models.SettlementRecord `json:"settlement"`
	AlreadySettled bool                     `json:"already_settled"`
}

// SettlementView is a settlement with a signed link to its invoice.
type SettlementView struct {
	Settlement *models.SettlementRecord `json:"settlement"`
	InvoiceURL string                   `json:"invoice_url,omitempty"`
}

// claim is the quote reserved on the leg between the charge and the ledger write.
type claim struct {
	shipment    *models.Shipment
	leg         *models.Leg
	requester   *models.User
	amount      decimal.Decimal
	amountMinor int64
	freeBenefit bool
	subID       *string
	adjustments []fare.Adjustment
	reused      bool
}

// SettlementService settles legs at pickup: it prices the leg, charges the
// requester once and appends the ledger record.
type SettlementService struct {
	tx            TxManager
	shipments     ShipmentStore
	legs          LegStore
	subscriptions SubscriptionStore
	settlements   SettlementStore
	users         UserStore
	outbox        OutboxWriter
	gateway       PaymentGateway
	renderer      InvoiceRenderer
	objects       ObjectStore
	notifier      Notifier
	cfg           SettlementConfig
	logger        logger.Logger

	group singleflight.Group
	now   func() time.Time
}

// NewSettlementService wires the engine. renderer, objects and notifier
// may be nil; their steps are then skipped.
func NewSettlementService(
	tx TxManager,
	shipments ShipmentStore,
	legs LegStore,
	subscriptions SubscriptionStore,
	settlements SettlementStore,
	users UserStore,
	outbox OutboxWriter,
	gateway PaymentGateway,
	renderer InvoiceRenderer,
	objects ObjectStore,
	notifier Notifier,
	cfg SettlementConfig,
	logger logger.Logger,
) *SettlementService {
	if cfg.Currency == "" {
		cfg.Currency = "eur"
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 15 * time.Second
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = 10 * time.Second
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 2 * time.Minute
	}

	return &SettlementService{
		tx:            tx,
		shipments:     shipments,
		legs:          legs,
		subscriptions: subscriptions,
		settlements:   settlements,
		users:         users,
		outbox:        outbox,
		gateway:       gateway,
		renderer:      renderer,
		objects:       objects,
		notifier:      notifier,
		cfg:           cfg,
		logger:        logger,
		now:           models.GetCurrentTime,
	}
}

// ConfirmPickup settles a leg when its requester confirms pickup with the
// courier's code. Repeated confirmations return the existing settlement
// with AlreadySettled set and never charge twice.
func (s *SettlementService) ConfirmPickup(ctx context.Context, actor models.Actor, legID, code string) (*PickupResult, error) {
	key := legID + "|" + actor.UserID + "|" + code

	// followers share this call, so it must outlive the caller that started it
	shared := context.WithoutCancel(ctx)

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		return s.confirm(shared, actor, legID, code)
	})

	if err != nil {
		return nil, err
	}

	return v.(*PickupResult), nil
}

func (s *SettlementService) confirm(ctx context.Context, actor models.Actor, legID, code string) (*PickupResult, error) {
	c, existing, err := s.claim(ctx, actor, legID, code)
	if err != nil {
		metrics.Settlements.WithLabelValues(metrics.OutcomeRejected).Inc()
		return nil, err
	}

	if existing != nil {
		metrics.Settlements.WithLabelValues(metrics.OutcomeAlreadySettled).Inc()
		return &PickupResult{Settlement: existing, AlreadySettled: true}, nil
	}

	var txRef *string

	if c.amountMinor > 0 {
		res, err := s.charge(ctx, c)
		if err != nil {
			if apperrors.IsRetryable(err) {
				s.suspend(ctx, c)
			} else {
				s.release(ctx, c)
			}
			metrics.Settlements.WithLabelValues(metrics.OutcomePaymentFailed).Inc()
			return nil, err
		}
		txRef = &res.TransactionRef
		metrics.ChargedMinorUnits.WithLabelValues(s.cfg.Currency).Add(float64(c.amountMinor))
	}

	rec := &models.SettlementRecord{
		ID:              models.GenerateID("stl"),
		LegID:           c.leg.ID,
		Amount:          c.amount,
		AmountMinor:     c.amountMinor,
		Currency:        s.cfg.Currency,
		TransactionRef:  txRef,
		UsedFreeBenefit: c.freeBenefit,
		CreatedAt:       s.now(),
	}

	rec.InvoiceKey = s.storeInvoice(ctx, c, rec)

	result, err := s.record(ctx, actor, c, rec)
	if err != nil {
		s.logger.Error("Failed to record settlement after charge", "error", err, "legID", legID, "transactionRef", txRef)
		return nil, err
	}

	if result.AlreadySettled {
		metrics.Settlements.WithLabelValues(metrics.OutcomeAlreadySettled).Inc()
		return result, nil
	}

	if c.amountMinor > 0 {
		metrics.Settlements.WithLabelValues(metrics.OutcomeSettled).Inc()
	} else {
		metrics.Settlements.WithLabelValues(metrics.OutcomeFree).Inc()
	}

	s.logger.Info("Leg settled", "legID", legID, "amount", rec.Amount.StringFixed(2), "freeBenefit", rec.UsedFreeBenefit)

	s.notify(ctx, c, rec)

	return result, nil
}

// claim validates the confirmation, prices the leg and reserves the quote on
// the leg row. It returns the existing record when the leg is already settled.
func (s *SettlementService) claim(ctx context.Context, actor models.Actor, legID, code string) (*claim, *models.SettlementRecord, error) {
	var (
		c        *claim
		existing *models.SettlementRecord
	)

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		leg, err := s.legs.GetForUpdate(ctx, legID)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return apperrors.NewNotFoundError(fmt.Sprintf("leg %s not found", legID))
			}
			return err
		}

		sh, err := s.shipments.GetByID(ctx, leg.ShipmentID)
		if err != nil {
			return err
		}

		if sh.RequesterID != actor.UserID {
			return apperrors.NewUnauthorizedError("only the shipment requester can confirm pickup")
		}

		rec, err := s.settlements.GetByLeg(ctx, leg.ID)
		switch {
		case err == nil:
			existing = rec
			return nil
		case !errors.Is(err, apperrors.ErrNotFound):
			return err
		}

		if leg.Status != models.LegStatusPending {
			return apperrors.NewInvalidTopologyError(fmt.Sprintf("leg is %s", leg.Status))
		}

		if subtle.ConstantTimeCompare([]byte(leg.PickupCode), []byte(code)) != 1 {
			return apperrors.NewUnauthorizedError("invalid pickup code")
		}

		requester, err := s.users.GetByID(ctx, sh.RequesterID)
		if err != nil {
			return err
		}

		now := s.now()
		c = &claim{shipment: sh, leg: leg, requester: requester}

		if leg.SettleClaimedAt != nil && now.Sub(*leg.SettleClaimedAt) < s.cfg.ClaimTTL {
			return apperrors.NewConflictError("settlement already in progress")
		}

		if leg.SettleAmount.Valid {
			// a previous attempt died after claiming or lost the gateway
			// answer: keep its quote so a charge it made is found, not repeated
			c.amount = leg.SettleAmount.Decimal
			c.amountMinor = fare.ToMinorUnits(c.amount)
			c.freeBenefit = leg.SettleFreeBenefit
			c.subID = leg.SettleSubscriptionID
			c.reused = true
		} else {
			sub, err := s.subscriptions.LockActiveByUser(ctx, sh.RequesterID)
			if err != nil {
				return err
			}

			q, err := fare.Compute(fare.Input{
				LegAmount:     leg.Amount,
				Step:          leg.Step,
				DeclaredValue: sh.DeclaredValue,
				Subscription:  sub,
				Now:           now,
			})
			if err != nil {
				return err
			}

			c.amount = q.Amount
			c.amountMinor = q.AmountMinor
			c.freeBenefit = q.UsedFreeBenefit
			c.adjustments = q.Adjustments

			if sub != nil {
				c.subID = &sub.ID
			}

			if q.UsedFreeBenefit {
				if err := s.subscriptions.SetFirstFreeUsed(ctx, sub.ID, true); err != nil {
					return err
				}
			}
		}

		leg.SettleClaimedAt = &now
		leg.SettleAmount = decimal.NullDecimal{Decimal: c.amount, Valid: true}
		leg.SettleFreeBenefit = c.freeBenefit
		leg.SettleSubscriptionID = c.subID

		return s.legs.Update(ctx, leg)
	})

	if err != nil {
		return nil, nil, err
	}

	return c, existing, nil
}

// charge takes the payment outside any transaction. A reused claim first
// looks for the charge its earlier attempt may have made.
func (s *SettlementService) charge(ctx context.Context, c *claim) (clients.ChargeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	reference := "leg-" + c.leg.ID

	if c.reused {
		res, found, err := s.gateway.FindCharge(ctx, reference)
		if err != nil {
			s.logger.Warn("Charge lookup failed, charging with the same reference", "error", err, "reference", reference)
		} else if found {
			s.logger.Info("Found charge of an earlier attempt", "reference", reference, "transactionRef", res.TransactionRef)
			return res, nil
		}
	}

	res, err := s.gateway.Charge(ctx, clients.ChargeRequest{
		CustomerRef:      c.requester.PaymentCustomerRef,
		PaymentMethodRef: c.requester.PaymentMethodRef,
		AmountMinor:      c.amountMinor,
		Currency:         s.cfg.Currency,
		Description:      fmt.Sprintf("Shipment %s step %d", c.shipment.ID, c.leg.Step),
		Reference:        reference,
		Metadata: map[string]string{
			"leg_id":      c.leg.ID,
			"shipment_id": c.shipment.ID,
		},
	})

	if err != nil {
		s.logger.Warn("Charge failed", "error", err, "legID", c.leg.ID, "amountMinor", c.amountMinor)
		if errors.Is(err, apperrors.ErrPaymentFailed) {
			return clients.ChargeResult{}, err
		}
		// anything but a decline leaves the charge outcome unknown
		return clients.ChargeResult{}, apperrors.NewAppError(apperrors.ErrPaymentFailed,
			fmt.Sprintf("payment outcome unknown: %v", err), http.StatusPaymentRequired, true)
	}

	return res, nil
}

// release undoes a claim after a failed charge: the leg stays pending and
// the reserved first shipment benefit is given back.
func (s *SettlementService) release(ctx context.Context, c *claim) {
	err := s.tx.RunInTx(context.WithoutCancel(ctx), func(ctx context.Context) error {
		leg, err := s.legs.GetForUpdate(ctx, c.leg.ID)
		if err != nil {
			return err
		}

		leg.ClearClaim()

		if err := s.legs.Update(ctx, leg); err != nil {
			return err
		}

		if c.freeBenefit && c.subID != nil {
			return s.subscriptions.SetFirstFreeUsed(ctx, *c.subID, false)
		}

		return nil
	})

	if err != nil {
		s.logger.Error("Failed to release settlement claim", "error", err, "legID", c.leg.ID)
	}
}

// suspend keeps the quote after a charge whose outcome is unknown. The leg
// stays pending and the next confirmation checks the gateway first.
func (s *SettlementService) suspend(ctx context.Context, c *claim) {
	err := s.tx.RunInTx(context.WithoutCancel(ctx), func(ctx context.Context) error {
		leg, err := s.legs.GetForUpdate(ctx, c.leg.ID)
		if err != nil {
			return err
		}

		leg.SuspendClaim()

		return s.legs.Update(ctx, leg)
	})

	if err != nil {
		s.logger.Error("Failed to suspend settlement claim", "error", err, "legID", c.leg.ID)
	}
}

// storeInvoice renders and uploads the invoice, returning its object key.
// Failures are logged and leave the key empty.
func (s *SettlementService) storeInvoice(ctx context.Context, c *claim, rec *models.SettlementRecord) string {
	if s.renderer == nil || s.objects == nil {
		return ""
	}

	data := clients.InvoiceData{
		SettlementID:  rec.ID,
		LegID:         c.leg.ID,
		ShipmentID:    c.shipment.ID,
		Step:          c.leg.Step,
		RequesterName: c.requester.DisplayName,
		CourierName:   c.leg.CourierID,
		Origin:        c.shipment.OriginCity,
		Destination:   c.shipment.DestinationCity,
		Base:          c.leg.Amount,
		Total:         rec.Amount,
		Currency:      rec.Currency,
		IssuedAt:      rec.CreatedAt,
	}
	if rec.TransactionRef != nil {
		data.TransactionRef = *rec.TransactionRef
	}
	for _, a := range c.adjustments {
		data.Lines = append(data.Lines, clients.InvoiceLine{Label: a.Kind, Amount: a.Amount})
	}

	pdf, err := s.renderer.Render(data)
	if err != nil {
		s.logger.Warn("Failed to render invoice", "error", err, "legID", c.leg.ID)
		return ""
	}

	key := fmt.Sprintf("%s/%s.pdf", c.shipment.ID, c.leg.ID)

	uctx, cancel := context.WithTimeout(ctx, s.cfg.UploadTimeout)
	defer cancel()

	if err := s.objects.Put(uctx, s.cfg.InvoiceBucket, key, pdf, "application/pdf"); err != nil {
		s.logger.Warn("Failed to upload invoice", "error", err, "legID", c.leg.ID, "key", key)
		return ""
	}

	return key
}

// record appends the ledger entry and marks the leg taken in one transaction.
func (s *SettlementService) record(ctx context.Context, actor models.Actor, c *claim, rec *models.SettlementRecord) (*PickupResult, error) {
	result := &PickupResult{Settlement: rec}

	err := s.tx.RunInTx(context.WithoutCancel(ctx), func(ctx context.Context) error {
		leg, err := s.legs.GetForUpdate(ctx, c.leg.ID)
		if err != nil {
			return err
		}

		if err := s.settlements.Create(ctx, rec); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				prior, gerr := s.settlements.GetByLeg(ctx, c.leg.ID)
				if gerr != nil {
					return gerr
				}
				result = &PickupResult{Settlement: prior, AlreadySettled: true}
				return nil
			}
			return err
		}

		pickedUp := rec.CreatedAt
		leg.Status = models.LegStatusTaken
		leg.PickedUpAt = &pickedUp
		leg.SettlementID = &rec.ID
		leg.ClearClaim()

		if err := s.legs.Update(ctx, leg); err != nil {
			return err
		}

		msg, err := models.NewLegEvent(models.EventLegSettled, c.shipment, leg, actor.UserID)
		if err != nil {
			return err
		}

		return s.outbox.Create(ctx, msg)
	})

	if err != nil {
		return nil, err
	}

	return result, nil
}

// notify tells the requester, and for the hops touching the destination the
// recipient, that the parcel is on its way. Best-effort.
func (s *SettlementService) notify(ctx context.Context, c *claim, rec *models.SettlementRecord) {
	if s.notifier == nil {
		return
	}

	subject := fmt.Sprintf("Shipment %s picked up", c.shipment.ID)
	body := fmt.Sprintf("Leg %d of your shipment from %s to %s was picked up. Charged %s %s.",
		c.leg.Step, c.shipment.OriginCity, c.shipment.DestinationCity, rec.Amount.StringFixed(2), rec.Currency)

	notes := []clients.Notification{{
		UserID:  c.requester.ID,
		Channel: clients.ChannelPush,
		Subject: subject,
		Body:    body,
		Data:    map[string]string{"leg_id": c.leg.ID, "shipment_id": c.shipment.ID},
	}}

	if c.requester.Email != "" {
		notes = append(notes, clients.Notification{
			UserID:  c.requester.ID,
			Channel: clients.ChannelEmail,
			To:      c.requester.Email,
			Subject: subject,
			Body:    body,
		})
	}

	if c.leg.IsTerminalStep() {
		recipientBody := fmt.Sprintf("A parcel for %s is on its way to %s. Shipment %s.",
			c.shipment.RecipientName, c.shipment.DestinationAddress, c.shipment.ID)

		switch {
		case c.shipment.RecipientEmail != "":
			notes = append(notes, clients.Notification{Channel: clients.ChannelEmail, To: c.shipment.RecipientEmail, Subject: "Your parcel is on its way", Body: recipientBody})
		case c.shipment.RecipientPhone != "":
			notes = append(notes, clients.Notification{Channel: clients.ChannelSMS, To: c.shipment.RecipientPhone, Body: recipientBody})
		}
	}

	for _, n := range notes {
		if err := s.notifier.Send(ctx, n); err != nil {
			s.logger.Warn("Failed to send settlement notification", "error", err, "legID", c.leg.ID, "channel", n.Channel)
		}
	}
}

// GetSettlement returns a leg's settlement with a signed invoice link for
// the shipment's requester or the leg's courier.
func (s *SettlementService) GetSettlement(ctx context.Context, actor models.Actor, legID string) (*SettlementView, error) {
	leg, err := s.legs.GetByID(ctx, legID)
	if err != nil {
		return nil, err
	}

	sh, err := s.shipments.GetByID(ctx, leg.ShipmentID)
	if err != nil {
		return nil, err
	}

	if actor.UserID != sh.RequesterID && actor.UserID != leg.CourierID {
		return nil, apperrors.NewUnauthorizedError("settlement belongs to another shipment")
	}

	rec, err := s.settlements.GetByLeg(ctx, legID)
	if err != nil {
		return nil, err
	}

	view := &SettlementView{Settlement: rec}

	if rec.InvoiceKey != "" && s.objects != nil {
		url, err := s.objects.URL(ctx, s.cfg.InvoiceBucket, rec.InvoiceKey)
		if err != nil {
			s.logger.Warn("Failed to sign invoice url", "error", err, "legID", legID)
		} else {
			view.InvoiceURL = url
		}
	}

	return view, nil
}
