package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/coachingcentre/notes-store/core/catalog"
	"github.com/coachingcentre/notes-store/core/download"
	"github.com/coachingcentre/notes-store/core/payment"
	"github.com/coachingcentre/notes-store/validate"
	"github.com/sirupsen/logrus"
)

// Notifier is told about lifecycle events. Implementations must not block
// on delivery, the order operation has already succeeded when they run.
type Notifier interface {
	OrderCreated(ctx context.Context, o Order)
	OrderPaid(ctx context.Context, o Order)
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) OrderCreated(context.Context, Order) {}
func (NopNotifier) OrderPaid(context.Context, Order)    {}

// Config wires a Service.
type Config struct {
	Store    Store
	Notifier Notifier
	Gateways payment.Registry
	Merchant payment.Merchant
	Log      logrus.FieldLogger

	// DefaultProvider names the gateway opened for every new order. Empty
	// leaves orders to be paid through UPI and confirmed manually.
	DefaultProvider string

	// AllowUnverifiedDownload permits gateway verified downloads when the
	// gateway cannot be reached. Each such permit is logged.
	AllowUnverifiedDownload bool
}

type Service struct {
	store           Store
	notifier        Notifier
	gateways        payment.Registry
	merchant        payment.Merchant
	log             logrus.FieldLogger
	defaultProvider string
	allowUnverified bool
	now             func() time.Time
}

func NewService(cfg Config) *Service {
	n := cfg.Notifier
	if n == nil {
		n = NopNotifier{}
	}
	return &Service{
		store:           cfg.Store,
		notifier:        n,
		gateways:        cfg.Gateways,
		merchant:        cfg.Merchant,
		log:             cfg.Log,
		defaultProvider: cfg.DefaultProvider,
		allowUnverified: cfg.AllowUnverifiedDownload,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Created is the outcome of a checkout submission.
type Created struct {
	OrderID         string `json:"orderId"`
	Amount          int64  `json:"amount"`
	UPIURI          string `json:"upiUri"`
	QRDataURL       string `json:"qrDataUrl,omitempty"`
	CheckoutURL     string `json:"checkoutPageUrl,omitempty"`
	MerchantOrderID string `json:"merchantOrderId,omitempty"`
}

// ValidationError reports a malformed checkout submission.
type ValidationError struct{ Err error }

func (e *ValidationError) Error() string { return e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// Create validates the cart, persists a PENDING order and, when a default
// gateway is configured, opens a payment session for it. A session failure
// leaves the persisted order PENDING.
func (s *Service) Create(ctx context.Context, no NewOrder) (Created, error) {
	if err := validate.Check(no); err != nil {
		return Created{}, &ValidationError{Err: err}
	}

	items := make([]Item, len(no.Items))
	for i, it := range no.Items {
		it.Qty = quantity(it)
		items[i] = it
	}

	now := s.now()
	o := Order{
		ID:        validate.GenerateID(),
		Items:     items,
		Customer:  no.Customer,
		Amount:    Total(items),
		Status:    Pending,
		Meta:      no.Meta,
		CreatedAt: now,
		UpdatedAt: now,
	}
	o.UPIURI = s.merchant.UPIURI(o.Amount, "Order "+o.ID)

	if err := s.store.Create(ctx, o); err != nil {
		return Created{}, fmt.Errorf("creating order: %w", err)
	}

	if o.Customer.Email != "" {
		s.notifier.OrderCreated(ctx, o)
	}

	out := Created{OrderID: o.ID, Amount: o.Amount, UPIURI: o.UPIURI}

	qr, err := payment.QRDataURL(o.UPIURI)
	if err != nil {
		s.log.WithField("order_id", o.ID).WithError(err).Warn("rendering upi qr code")
	}
	out.QRDataURL = qr

	if s.defaultProvider == "" || o.Amount <= 0 {
		return out, nil
	}

	sess, err := s.OpenSession(ctx, s.defaultProvider, o.ID, 0)
	if err != nil {
		return Created{}, fmt.Errorf("opening payment session for order[%s]: %w", o.ID, err)
	}
	out.CheckoutURL = sess.CheckoutURL
	out.MerchantOrderID = sess.MerchantOrderID

	return out, nil
}

// OpenSession opens a checkout on provider. With an order id, the amount is
// the order total and the session is bound to the order; otherwise amount,
// in minor units, is charged as is.
func (s *Service) OpenSession(ctx context.Context, provider, orderID string, amount int64) (payment.Session, error) {
	gw, err := s.gateways.Get(provider)
	if err != nil {
		return payment.Session{}, err
	}

	if orderID == "" {
		return gw.CreateSession(ctx, amount)
	}

	o, err := s.store.Fetch(ctx, orderID)
	if err != nil {
		return payment.Session{}, err
	}
	if o.Status != Pending {
		return payment.Session{}, fmt.Errorf("order[%s] is %s: %w", o.ID, o.Status, ErrInvalidTransition)
	}

	sess, err := gw.CreateSession(ctx, o.Amount*100)
	if err != nil {
		return payment.Session{}, err
	}

	_, err = s.store.Update(ctx, o.ID, func(o *Order) error {
		return o.link(gw.Name(), sess.MerchantOrderID, s.now())
	})
	if err != nil {
		return payment.Session{}, fmt.Errorf("binding order[%s] to payment[%s]: %w", o.ID, sess.MerchantOrderID, err)
	}

	return sess, nil
}

// Fetch returns a stored order. Malformed ids are reported as not found.
func (s *Service) Fetch(ctx context.Context, id string) (Order, error) {
	if err := validate.CheckID(id); err != nil {
		return Order{}, fmt.Errorf("order[%s]: %v: %w", id, err, ErrNotFound)
	}
	return s.store.Fetch(ctx, id)
}

// List returns every stored order, oldest first.
func (s *Service) List(ctx context.Context) ([]Order, error) {
	return s.store.List(ctx)
}

// Confirm records a manual payment proof and marks the order PAID. The UTR
// is not cross-checked with any gateway.
func (s *Service) Confirm(ctx context.Context, id, utr, note string) (Order, error) {
	utr = strings.TrimSpace(utr)
	if utf8.RuneCountInString(utr) < 5 {
		return Order{}, ErrInvalidUTR
	}

	o, err := s.store.Update(ctx, id, func(o *Order) error {
		return o.pay(Payment{UTR: utr, Note: note, ConfirmedAt: s.now()}, s.now())
	})
	if err != nil {
		return Order{}, err
	}

	s.paid(ctx, o)
	return o, nil
}

// PollStatus asks the gateway about a session. It never touches the store.
// A failing gateway is reported as pending together with the error.
func (s *Service) PollStatus(ctx context.Context, provider, merchantOrderID string) (payment.Status, error) {
	gw, err := s.gateways.Get(provider)
	if err != nil {
		return payment.Status{}, err
	}

	st, err := gw.Status(ctx, merchantOrderID)
	if err != nil {
		return payment.Status{Result: payment.Pending}, err
	}
	return st, nil
}

// Reconcile polls the gateway bound to an order and marks the order PAID
// when the gateway reports the session as paid.
func (s *Service) Reconcile(ctx context.Context, id string) (Order, payment.Status, error) {
	o, err := s.store.Fetch(ctx, id)
	if err != nil {
		return Order{}, payment.Status{}, err
	}
	if o.MerchantOrderID == "" {
		return o, payment.Status{}, fmt.Errorf("order[%s]: %w", id, ErrNotLinked)
	}

	st, err := s.PollStatus(ctx, o.Provider, o.MerchantOrderID)
	if err != nil {
		return o, st, fmt.Errorf("polling payment[%s] of order[%s]: %w", o.MerchantOrderID, o.ID, err)
	}

	if st.Result != payment.Success || o.Paid() {
		return o, st, nil
	}

	o, err = s.markVerified(ctx, o.ID, o.Provider, o.MerchantOrderID)
	return o, st, err
}

// MarkPaidByMerchantID marks the order bound to a gateway session as PAID,
// used when the gateway pushes a completion event.
func (s *Service) MarkPaidByMerchantID(ctx context.Context, provider, merchantOrderID string) (Order, error) {
	o, err := s.store.FetchByMerchantID(ctx, provider, merchantOrderID)
	if err != nil {
		return Order{}, err
	}
	if o.Paid() {
		return o, nil
	}
	return s.markVerified(ctx, o.ID, provider, merchantOrderID)
}

func (s *Service) markVerified(ctx context.Context, id, provider, merchantOrderID string) (Order, error) {
	o, err := s.store.Update(ctx, id, func(o *Order) error {
		if o.Provider != provider || o.MerchantOrderID != merchantOrderID {
			return fmt.Errorf("order[%s] is not bound to %s payment[%s]: %w", o.ID, provider, merchantOrderID, ErrNotFound)
		}
		p := Payment{
			UTR:         merchantOrderID,
			Note:        "verified by " + provider,
			ConfirmedAt: s.now(),
		}
		return o.pay(p, s.now())
	})
	if err != nil {
		return Order{}, err
	}

	s.paid(ctx, o)
	return o, nil
}

func (s *Service) paid(ctx context.Context, o Order) {
	s.log.WithFields(logrus.Fields{
		"order_id": o.ID,
		"amount":   o.Amount,
	}).Info("order paid")

	if o.Customer.Email != "" {
		s.notifier.OrderPaid(ctx, o)
	}
}

// ErrPaymentUnverified is returned when a gateway verified download cannot
// reach the gateway.
var ErrPaymentUnverified = errors.New("payment could not be verified")

// PaymentRequiredError reports a gateway session that is not paid.
type PaymentRequiredError struct {
	State string
}

func (e *PaymentRequiredError) Error() string {
	return fmt.Sprintf("payment not completed (state %q)", e.State)
}

// VerifyGatewayPurchase authorizes a download of itemID backed by a gateway
// session rather than by a stored order status. When the session is bound
// to an order, the item must belong to it.
func (s *Service) VerifyGatewayPurchase(ctx context.Context, provider, merchantOrderID string, itemID catalog.ID) error {
	st, err := s.PollStatus(ctx, provider, merchantOrderID)
	switch {
	case errors.Is(err, payment.ErrUnknownProvider), errors.Is(err, payment.ErrNotConfigured):
		return err
	case err != nil && !s.allowUnverified:
		return fmt.Errorf("%v: %w", err, ErrPaymentUnverified)
	case err != nil:
		s.log.WithFields(logrus.Fields{
			"provider":          provider,
			"merchant_order_id": merchantOrderID,
			"item_id":           itemID,
			"error":             err,
		}).Warn("AUDIT: permitting download without payment verification")
	case st.Result != payment.Success:
		return &PaymentRequiredError{State: st.State}
	}

	o, err := s.store.FetchByMerchantID(ctx, provider, merchantOrderID)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil
	case err != nil:
		return err
	}

	if !o.Includes(itemID) {
		return fmt.Errorf("item[%s] of order[%s]: %w", itemID, o.ID, download.ErrItemNotInOrder)
	}
	return nil
}
