package payment

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
)

func TestUPIURI(t *testing.T) {
	m := Merchant{VPA: "centre@upi", Name: "Coaching Centre", Currency: "INR"}

	raw := m.UPIURI(450, "Order 42")
	if !strings.HasPrefix(raw, "upi://pay?") {
		t.Fatalf("unexpected scheme in %q", raw)
	}

	q, err := url.ParseQuery(strings.TrimPrefix(raw, "upi://pay?"))
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"pa": "centre@upi", "pn": "Coaching Centre", "am": "450", "cu": "INR", "tn": "Order 42"}
	for k, v := range want {
		if got := q.Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}

	if want := "upi://pay?pa=centre@upi&pn=Coaching%20Centre&am=450&cu=INR&tn=Order%2042"; raw != want {
		t.Errorf("uri = %q, want %q", raw, want)
	}

	tests := []struct {
		name string
		m    Merchant
		note string
		want string
	}{
		{"no note", Merchant{VPA: "centre@upi", Name: "Centre"}, "", "upi://pay?pa=centre@upi&pn=Centre&am=1&cu=INR"},
		{"reserved characters", Merchant{VPA: "a.b@okaxis", Name: "A&B Tutors", Currency: "INR"}, "x=1", "upi://pay?pa=a.b@okaxis&pn=A%26B%20Tutors&am=1&cu=INR&tn=x%3D1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.m.UPIURI(1, tt.note); got != tt.want {
				t.Errorf("uri = %q, want %q", got, tt.want)
			}
		})
	}

	m.Note = "Fixed note"
	q, _ = url.ParseQuery(strings.TrimPrefix(m.UPIURI(1, "ignored"), "upi://pay?"))
	if q.Get("tn") != "Fixed note" {
		t.Fatalf("configured note must win, got %q", q.Get("tn"))
	}
}

func TestQRDataURL(t *testing.T) {
	s, err := QRDataURL("upi://pay?pa=a@upi")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(s, "data:image/png;base64,") {
		t.Fatalf("unexpected data url prefix in %.40q", s)
	}
}

type namedGateway string

func (n namedGateway) Name() string { return string(n) }
func (namedGateway) CreateSession(context.Context, int64) (Session, error) {
	return Session{}, nil
}
func (namedGateway) Status(context.Context, string) (Status, error) { return Status{}, nil }

func TestRegistry(t *testing.T) {
	r := NewRegistry(namedGateway("stripe"), nil, namedGateway("phonepe"))

	if got := strings.Join(r.Names(), ","); got != "phonepe,stripe" {
		t.Fatalf("names = %q", got)
	}
	if _, err := r.Get("phonepe"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Get("upi"); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}
