// Package order runs the checkout lifecycle: orders are created PENDING,
// become PAID once a payment is confirmed and then unlock their downloads.
package order

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coachingcentre/notes-store/core/catalog"
)

type Status string

const (
	Pending Status = "PENDING"
	Paid    Status = "PAID"
)

var validNext = map[Status]map[Status]bool{
	Pending: {Paid: true},
	Paid:    {},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

var (
	ErrNotFound          = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidUTR        = errors.New("UTR/Transaction reference must be at least 5 characters long")
	ErrNotLinked         = errors.New("order is not bound to a payment session")
)

type Order struct {
	ID              string          `json:"orderId"`
	Items           []Item          `json:"items"`
	Customer        Customer        `json:"customer"`
	Amount          int64           `json:"amount"`
	Status          Status          `json:"status"`
	Payment         *Payment        `json:"payment,omitempty"`
	UPIURI          string          `json:"upiUri,omitempty"`
	Provider        string          `json:"provider,omitempty"`
	MerchantOrderID string          `json:"merchantOrderId,omitempty"`
	Meta            json.RawMessage `json:"meta,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

type Item struct {
	ID    catalog.ID `json:"id" validate:"required"`
	Title string     `json:"title"`
	Price int64      `json:"price" validate:"gte=0,lte=10000000"`
	Qty   int64      `json:"qty" validate:"lte=1000"`
}

type Customer struct {
	Name    string `json:"name"`
	Email   string `json:"email,omitempty" validate:"omitempty,email"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

// Payment records how an order was confirmed as paid.
type Payment struct {
	UTR         string    `json:"utr"`
	Note        string    `json:"note"`
	ConfirmedAt time.Time `json:"confirmedAt"`
}

// NewOrder is the checkout submission.
type NewOrder struct {
	Items    []Item          `json:"items" validate:"required,min=1,max=100,dive"`
	Customer Customer        `json:"customer"`
	Meta     json.RawMessage `json:"meta"`
}

// Total sums price×qty over items, counting a zero quantity as one.
func Total(items []Item) int64 {
	var tot int64
	for _, it := range items {
		tot += it.Price * quantity(it)
	}
	return tot
}

func quantity(it Item) int64 {
	if it.Qty <= 0 {
		return 1
	}
	return it.Qty
}

// Paid reports whether downloads of the order are unlocked.
func (o Order) Paid() bool { return o.Status == Paid }

// Includes reports whether itemID is one of the order's line items.
func (o Order) Includes(itemID catalog.ID) bool {
	for _, it := range o.Items {
		if it.ID == itemID {
			return true
		}
	}
	return false
}

// pay moves the order to PAID.
func (o *Order) pay(p Payment, now time.Time) error {
	if !CanTransition(o.Status, Paid) {
		return fmt.Errorf("order[%s] %s -> %s: %w", o.ID, o.Status, Paid, ErrInvalidTransition)
	}
	o.Status = Paid
	o.Payment = &p
	o.UpdatedAt = now
	return nil
}

// link binds a pending order to a gateway session.
func (o *Order) link(provider, merchantOrderID string, now time.Time) error {
	if o.Status != Pending {
		return fmt.Errorf("linking order[%s] in status %s: %w", o.ID, o.Status, ErrInvalidTransition)
	}
	o.Provider = provider
	o.MerchantOrderID = merchantOrderID
	o.UpdatedAt = now
	return nil
}
