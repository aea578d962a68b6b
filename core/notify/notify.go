// Package notify delivers customer emails for order lifecycle events
// outside of the request that triggered them.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coachingcentre/notes-store/core/order"
	"github.com/coachingcentre/notes-store/email"
	"github.com/coachingcentre/notes-store/validate"
	"github.com/sirupsen/logrus"
)

// ErrUndeliverable marks intents that no retry can deliver.
var ErrUndeliverable = errors.New("undeliverable notification")

type Kind string

const (
	OrderCreated Kind = "order.created"
	OrderPaid    Kind = "order.paid"
)

// Intent is one pending notification.
type Intent struct {
	ID        string      `json:"id"`
	Kind      Kind        `json:"kind"`
	Order     order.Order `json:"order"`
	CreatedAt time.Time   `json:"createdAt"`
}

func NewIntent(k Kind, o order.Order) Intent {
	return Intent{ID: validate.GenerateID(), Kind: k, Order: o, CreatedAt: time.Now().UTC()}
}

// Deliverer renders intents and sends them, retrying transient failures.
type Deliverer struct {
	templates  *email.Templates
	sender     email.Sender
	maxRetries uint64
	maxElapsed time.Duration
	initial    time.Duration
	log        logrus.FieldLogger
}

func NewDeliverer(t *email.Templates, s email.Sender, maxRetries uint64, maxElapsed time.Duration, log logrus.FieldLogger) *Deliverer {
	return &Deliverer{templates: t, sender: s, maxRetries: maxRetries, maxElapsed: maxElapsed, initial: time.Second, log: log}
}

func (d *Deliverer) Deliver(ctx context.Context, in Intent) error {
	var (
		m   email.Message
		err error
	)
	switch in.Kind {
	case OrderCreated:
		m, err = d.templates.OrderConfirmation(in.Order)
	case OrderPaid:
		m, err = d.templates.PaymentSuccess(in.Order)
	default:
		err = fmt.Errorf("unknown intent kind %q", in.Kind)
	}
	if err != nil {
		return fmt.Errorf("%v: %w", err, ErrUndeliverable)
	}
	if m.To == "" {
		return nil
	}

	op := func() error {
		err := d.sender.Send(ctx, m)
		if errors.Is(err, email.ErrNotConfigured) {
			return backoff.Permanent(err)
		}
		return err
	}

	onRetry := func(err error, wait time.Duration) {
		d.log.WithFields(logrus.Fields{
			"intent_id": in.ID,
			"order_id":  in.Order.ID,
			"kind":      in.Kind,
			"wait":      wait.String(),
		}).WithError(err).Warn("email delivery failed, retrying")
	}

	err = backoff.RetryNotify(op, d.policy(ctx), onRetry)
	switch {
	case errors.Is(err, email.ErrNotConfigured):
		return fmt.Errorf("delivering %s of order[%s]: %v: %w", in.Kind, in.Order.ID, err, ErrUndeliverable)
	case err != nil:
		return fmt.Errorf("delivering %s of order[%s]: %w", in.Kind, in.Order.ID, err)
	}

	d.log.WithFields(logrus.Fields{
		"intent_id": in.ID,
		"order_id":  in.Order.ID,
		"kind":      in.Kind,
	}).Info("email delivered")
	return nil
}

func (d *Deliverer) policy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = d.initial
	exp.MaxElapsedTime = d.maxElapsed

	return backoff.WithContext(backoff.WithMaxRetries(exp, d.maxRetries), ctx)
}

// Discard drops every event. It stands in when email is not configured.
type Discard = order.NopNotifier
