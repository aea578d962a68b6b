package email

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/coachingcentre/notes-store/config"
	"github.com/coachingcentre/notes-store/core/order"
)

func paidOrder() order.Order {
	return order.Order{
		ID:        "ord-1",
		Items:     []order.Item{{ID: "1", Title: "Maths <Notes>", Price: 200, Qty: 1}, {ID: "c-9", Title: "Physics", Price: 50, Qty: 2}},
		Customer:  order.Customer{Name: "Asha", Email: "asha@example.com"},
		Amount:    300,
		Status:    order.Paid,
		CreatedAt: time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC),
	}
}

func TestOrderConfirmation(t *testing.T) {
	tpl := NewTemplates(Links{APIBaseURL: "https://api.example.com/", MerchantUPI: "centre@upi"})

	m, err := tpl.OrderConfirmation(paidOrder())
	if err != nil {
		t.Fatal(err)
	}

	if m.To != "asha@example.com" || m.Subject != "Order Confirmation - ord-1" {
		t.Fatalf("unexpected header %+v", m)
	}
	for _, want := range []string{"centre@upi", "&#8377;300", "09 Mar 2024", "Maths &lt;Notes&gt;"} {
		if !strings.Contains(m.HTML, want) {
			t.Errorf("body lacks %q", want)
		}
	}
}

func TestPaymentSuccess(t *testing.T) {
	tpl := NewTemplates(Links{APIBaseURL: "https://api.example.com/"})

	m, err := tpl.PaymentSuccess(paidOrder())
	if err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{
		`href="https://api.example.com/api/orders/ord-1/download/1"`,
		`href="https://api.example.com/api/orders/ord-1/download/c-9"`,
	} {
		if !strings.Contains(m.HTML, want) {
			t.Errorf("body lacks %s", want)
		}
	}
}

func TestSMTPSend(t *testing.T) {
	s := NewSMTP(config.Email{Address: "shop@example.com", Password: "pw", Host: "smtp.example.com", Port: 587})

	var gotAddr string
	var gotMsg []byte
	s.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotMsg = addr, msg
		return nil
	}

	err := s.Send(context.Background(), Message{To: "asha@example.com", Subject: "Hi", HTML: "<p>x</p>"})
	if err != nil {
		t.Fatal(err)
	}
	if gotAddr != "smtp.example.com:587" {
		t.Fatalf("addr = %q", gotAddr)
	}
	if !strings.Contains(string(gotMsg), "To: asha@example.com\r\n") || !strings.HasSuffix(string(gotMsg), "\r\n\r\n<p>x</p>") {
		t.Fatalf("unexpected message %q", gotMsg)
	}

	if err := NewSMTP(config.Email{}).Send(context.Background(), Message{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
