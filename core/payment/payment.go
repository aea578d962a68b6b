// Package payment talks to the remote payment providers. Each provider is
// reached through two calls: open a checkout session and query its state.
package payment

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrNotConfigured is returned when the provider credentials are missing.
	ErrNotConfigured = errors.New("payment provider not configured")

	// ErrInvalidAmount is returned for non-positive amounts.
	ErrInvalidAmount = errors.New("amount must be greater than zero")

	// ErrUnknownProvider is returned by Registry.Get for unregistered names.
	ErrUnknownProvider = errors.New("unknown payment provider")
)

// Result is the provider independent outcome of a payment session.
type Result string

const (
	Success Result = "success"
	Failed  Result = "failed"
	Pending Result = "pending"
)

// Session is a remote checkout the customer is redirected to.
type Session struct {
	CheckoutURL     string `json:"checkoutPageUrl"`
	MerchantOrderID string `json:"merchantOrderId"`
}

// Status is the state reported by the provider for a session.
type Status struct {
	State  string `json:"status"`
	Result Result `json:"result"`
}

// Gateway is implemented by every provider adapter.
type Gateway interface {
	Name() string

	// CreateSession opens a checkout for amount, in minor currency units.
	// It is never retried, a retry could charge the customer twice.
	CreateSession(ctx context.Context, amount int64) (Session, error)

	// Status queries the current state of a session.
	Status(ctx context.Context, merchantOrderID string) (Status, error)
}

// ProviderError carries the answer of a provider that refused a call.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s answered with status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Registry indexes gateways by provider name.
type Registry map[string]Gateway

func NewRegistry(gws ...Gateway) Registry {
	r := make(Registry, len(gws))
	for _, g := range gws {
		if g != nil {
			r[g.Name()] = g
		}
	}
	return r
}

func (r Registry) Get(name string) (Gateway, error) {
	g, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownProvider)
	}
	return g, nil
}

// Names lists the registered providers in a stable order.
func (r Registry) Names() []string {
	out := make([]string, 0, len(r))
	for n := range r {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Major formats a minor unit amount as a decimal string, 12345 -> "123.45".
func Major(minor int64) string {
	return fmt.Sprintf("%d.%02d", minor/100, minor%100)
}
