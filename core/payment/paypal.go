package payment

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coachingcentre/notes-store/config"
	"github.com/google/uuid"
	"github.com/plutov/paypal/v4"
)

// Paypal opens PayPal orders. The merchant order id is the PayPal order id,
// PayPal appends it as "token" to the return url.
type Paypal struct {
	client    *paypal.Client
	currency  string
	returnURL string
	cancelURL string
}

func NewPaypal(client *paypal.Client, currency, clientURL string) *Paypal {
	base := strings.TrimRight(clientURL, "/")
	return &Paypal{
		client:    client,
		currency:  currency,
		returnURL: base + "/payment/check-status?provider=paypal",
		cancelURL: base + "/payment/failure",
	}
}

// NewPaypalClient builds a PayPal API client whose requests are bounded by
// cfg.Timeout.
func NewPaypalClient(cfg config.Paypal) (*paypal.Client, error) {
	c, err := paypal.NewClient(cfg.ClientID, cfg.Secret, cfg.URL)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c.SetHTTPClient(&http.Client{Timeout: timeout})

	return c, nil
}

func (p *Paypal) Name() string { return "paypal" }

func (p *Paypal) CreateSession(ctx context.Context, amount int64) (Session, error) {
	if amount <= 0 {
		return Session{}, ErrInvalidAmount
	}
	if p.client == nil {
		return Session{}, fmt.Errorf("paypal: %w", ErrNotConfigured)
	}

	value := Major(amount)
	units := []paypal.PurchaseUnitRequest{{
		ReferenceID: uuid.NewString(),

		Amount: &paypal.PurchaseUnitAmount{
			Currency: p.currency,
			Value:    value,
		},
	}}

	app := &paypal.ApplicationContext{
		ReturnURL: p.returnURL,
		CancelURL: p.cancelURL,
	}

	ord, err := p.client.CreateOrder(ctx, "CAPTURE", units, nil, app)
	if err != nil {
		return Session{}, fmt.Errorf("creating paypal order: %w", err)
	}

	for _, l := range ord.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			return Session{CheckoutURL: l.Href, MerchantOrderID: ord.ID}, nil
		}
	}
	return Session{}, fmt.Errorf("paypal order[%s] has no approval link", ord.ID)
}

// Status reads the order and captures it once the payer approved it.
func (p *Paypal) Status(ctx context.Context, merchantOrderID string) (Status, error) {
	if p.client == nil {
		return Status{}, fmt.Errorf("paypal: %w", ErrNotConfigured)
	}

	ord, err := p.client.GetOrder(ctx, merchantOrderID)
	if err != nil {
		return Status{}, fmt.Errorf("fetching paypal order[%s]: %w", merchantOrderID, err)
	}

	state := ord.Status
	if state == "APPROVED" {
		resp, err := p.client.CaptureOrder(ctx, merchantOrderID, paypal.CaptureOrderRequest{})
		if err != nil {
			return Status{}, fmt.Errorf("capturing paypal order[%s]: %w", merchantOrderID, err)
		}
		state = resp.Status
	}

	return Status{State: state, Result: paypalResult(state)}, nil
}

func paypalResult(state string) Result {
	switch state {
	case "COMPLETED":
		return Success
	case "VOIDED":
		return Failed
	default:
		return Pending
	}
}
