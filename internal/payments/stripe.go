package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"lesson-booking/internal/booking"
	"lesson-booking/internal/config"
	"lesson-booking/internal/logger"
	"lesson-booking/internal/models"
	"lesson-booking/internal/utils"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

var (
	ErrStripeClientInitFailed = errors.New("failed to initialize Stripe client")
	ErrMissingPaymentIntent   = errors.New("no payment intent to refund")
)

// metadataSource tags every checkout session this service creates.
const metadataSource = "lesson-booking"

// StripeGateway creates hosted Checkout Sessions, issues refunds and verifies
// webhook signatures. It is the only package that talks to Stripe.
type StripeGateway struct {
	client        *client.API
	webhookSecret string
	currency      string
	baseURL       string
	log           *logger.Logger
}

func NewStripeGateway(cfg config.StripeConfig, bookingCfg config.BookingConfig, log *logger.Logger) (*StripeGateway, error) {
	if cfg.SecretKey == "" {
		log.Error("STRIPE", "STRIPE_SECRET_KEY environment variable not set")
		return nil, ErrStripeClientInitFailed
	}
	if cfg.WebhookSecret == "" {
		log.Error("STRIPE", "STRIPE_WEBHOOK_SECRET environment variable not set")
		return nil, ErrStripeClientInitFailed
	}

	sc := client.New(cfg.SecretKey, nil)
	log.Info("STRIPE", "Stripe client initialized successfully")
	return &StripeGateway{
		client:        sc,
		webhookSecret: cfg.WebhookSecret,
		currency:      cfg.Currency,
		baseURL:       bookingCfg.PublicBaseURL,
		log:           log,
	}, nil
}

// CreateCheckoutSession builds a hosted payment page for one slot. The success
// URL carries an opaque slot snapshot plus the provider's session-id
// placeholder; the cancel URL carries the slot id so abandonment can release
// the reservation explicitly.
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, slot models.Slot, customer models.Customer) (*models.CheckoutSession, error) {
	// Price is stored in major units; Stripe wants the smallest currency unit.
	amount := slot.Price * 100

	snapshot, err := utils.EncodeSlotSnapshot(slot.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("encode slot snapshot: %w", err)
	}
	successURL := fmt.Sprintf("%s/booking/confirmed?slot=%s&session_id={CHECKOUT_SESSION_ID}", g.baseURL, snapshot)
	cancelURL := fmt.Sprintf("%s/api/v1/checkout/cancel?slot_id=%s", g.baseURL, slot.SlotID)

	slotTime := fmt.Sprintf("%s - %s", slot.Start.Format("Mon 2 Jan 2006 15:04"), slot.End.Format("15:04"))
	description := fmt.Sprintf("%s tennis lesson at %s, %s", categoryLabel(slot.Category), slot.Location.DisplayName(), slotTime)

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(g.currency),
					UnitAmount: stripe.Int64(amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String("Tennis lesson"),
						Description: stripe.String(description),
					},
				},
			},
		},
	}
	if customer.Email != "" {
		params.CustomerEmail = stripe.String(customer.Email)
	}
	params.AddMetadata("slot_id", slot.SlotID)
	params.AddMetadata("slot_time", slotTime)
	params.AddMetadata("location", string(slot.Location))
	params.AddMetadata("source", metadataSource)
	params.AddMetadata("created_at", strconv.FormatInt(time.Now().Unix(), 10))
	params.AddMetadata("user_id", customer.UserID)
	params.AddMetadata("email", customer.Email)

	sess, err := g.client.CheckoutSessions.New(params)
	if err != nil {
		g.log.Error("STRIPE", fmt.Sprintf("Failed to create checkout session for slot %s: %v", slot.SlotID, err))
		return nil, err
	}

	g.log.Info("STRIPE", fmt.Sprintf("Created checkout session %s for slot %s (%d %s)", sess.ID, slot.SlotID, amount, g.currency))
	return &models.CheckoutSession{SessionID: sess.ID, URL: sess.URL}, nil
}

func (g *StripeGateway) Refund(ctx context.Context, paymentIntentID string) error {
	if paymentIntentID == "" {
		return ErrMissingPaymentIntent
	}
	refund, err := g.client.Refunds.New(&stripe.RefundParams{
		PaymentIntent: stripe.String(paymentIntentID),
	})
	if err != nil {
		return fmt.Errorf("refund payment intent %s: %w", paymentIntentID, err)
	}
	g.log.Info("REFUND", fmt.Sprintf("Refund %s issued for payment intent %s", refund.ID, paymentIntentID))
	return nil
}

// VerifyEvent checks the provider signature and extracts the completed
// checkout. Event types other than checkout.session.completed return
// (nil, nil) so the caller acknowledges without acting.
func (g *StripeGateway) VerifyEvent(payload []byte, sigHeader string) (*models.CompletedCheckout, error) {
	opts := webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	}
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, g.webhookSecret, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", booking.ErrBadSignature, err)
	}

	if event.Type != "checkout.session.completed" {
		g.log.Debug("WEBHOOK", fmt.Sprintf("Ignoring event type %s", event.Type))
		return nil, nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal checkout session: %w", err)
	}

	cc := &models.CompletedCheckout{
		SessionID: sess.ID,
		SlotID:    sess.Metadata["slot_id"],
		UserID:    sess.Metadata["user_id"],
		Email:     sess.Metadata["email"],
	}
	if cc.Email == "" {
		cc.Email = sess.CustomerEmail
	}
	if sess.PaymentIntent != nil {
		cc.PaymentIntentID = sess.PaymentIntent.ID
	}
	return cc, nil
}

func categoryLabel(c models.Category) string {
	switch c {
	case models.CategoryPrivate:
		return "Private"
	case models.CategoryGroup:
		return "Group"
	default:
		return string(c)
	}
}
