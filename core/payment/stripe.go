package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v74"
	stripecl "github.com/stripe/stripe-go/v74/client"
)

// Stripe opens Stripe checkout sessions. The merchant order id is the
// session id, substituted by Stripe into the success url.
type Stripe struct {
	api        *stripecl.API
	currency   string
	successURL string
	cancelURL  string
}

// NewStripe builds the adapter. Empty success or cancel urls default to the
// storefront payment pages under clientURL.
func NewStripe(api *stripecl.API, currency, clientURL, successURL, cancelURL string) *Stripe {
	base := strings.TrimRight(clientURL, "/")
	if successURL == "" {
		successURL = base + "/payment/check-status?provider=stripe&merchantOrderId={CHECKOUT_SESSION_ID}"
	}
	if cancelURL == "" {
		cancelURL = base + "/payment/failure"
	}
	return &Stripe{
		api:        api,
		currency:   strings.ToLower(currency),
		successURL: successURL,
		cancelURL:  cancelURL,
	}
}

func (s *Stripe) Name() string { return "stripe" }

func (s *Stripe) CreateSession(ctx context.Context, amount int64) (Session, error) {
	if amount <= 0 {
		return Session{}, ErrInvalidAmount
	}
	if s.api == nil {
		return Session{}, fmt.Errorf("stripe: %w", ErrNotConfigured)
	}

	params := &stripe.CheckoutSessionParams{
		SuccessURL: stripe.String(s.successURL),
		CancelURL:  stripe.String(s.cancelURL),
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),

		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),

			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(s.currency),
				UnitAmount: stripe.Int64(amount),

				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Study notes"),
				},
			},
		}},
	}
	params.Context = ctx

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return Session{}, fmt.Errorf("creating stripe session: %w", err)
	}

	return Session{CheckoutURL: sess.URL, MerchantOrderID: sess.ID}, nil
}

func (s *Stripe) Status(ctx context.Context, merchantOrderID string) (Status, error) {
	if s.api == nil {
		return Status{}, fmt.Errorf("stripe: %w", ErrNotConfigured)
	}

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	sess, err := s.api.CheckoutSessions.Get(merchantOrderID, params)
	if err != nil {
		return Status{}, fmt.Errorf("fetching stripe session[%s]: %w", merchantOrderID, err)
	}

	return Status{State: string(sess.PaymentStatus), Result: stripeResult(sess)}, nil
}

func stripeResult(sess *stripe.CheckoutSession) Result {
	switch {
	case sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		return Success
	case sess.Status == stripe.CheckoutSessionStatusExpired:
		return Failed
	default:
		return Pending
	}
}
