package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coachingcentre/notes-store/api/background"
	"github.com/coachingcentre/notes-store/core/order"
	"github.com/coachingcentre/notes-store/email"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

type flakySender struct {
	mu    sync.Mutex
	fails int
	err   error
	sent  []email.Message
	calls int
}

func (s *flakySender) Send(ctx context.Context, m email.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.err != nil {
		return s.err
	}
	if s.fails > 0 {
		s.fails--
		return errors.New("421 try again later")
	}
	s.sent = append(s.sent, m)
	return nil
}

func quietLog() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newDeliverer(s email.Sender, retries uint64) *Deliverer {
	d := NewDeliverer(email.NewTemplates(email.Links{APIBaseURL: "http://api"}), s, retries, time.Minute, quietLog())
	d.initial = time.Millisecond
	return d
}

func sampleOrder() order.Order {
	return order.Order{
		ID:       "ord-7",
		Items:    []order.Item{{ID: "1", Title: "Maths", Price: 200, Qty: 1}},
		Customer: order.Customer{Name: "Asha", Email: "asha@example.com"},
		Amount:   200,
		Status:   order.Paid,
	}
}

func TestDeliverRetries(t *testing.T) {
	s := &flakySender{fails: 2}
	d := newDeliverer(s, 5)

	if err := d.Deliver(context.Background(), NewIntent(OrderPaid, sampleOrder())); err != nil {
		t.Fatal(err)
	}
	if s.calls != 3 || len(s.sent) != 1 {
		t.Fatalf("calls = %d, sent = %d", s.calls, len(s.sent))
	}
	if !strings.Contains(s.sent[0].HTML, "http://api/api/orders/ord-7/download/1") {
		t.Fatalf("download link missing from %q", s.sent[0].HTML)
	}
}

func TestDeliverGivesUp(t *testing.T) {
	s := &flakySender{fails: 100}
	d := newDeliverer(s, 2)

	err := d.Deliver(context.Background(), NewIntent(OrderCreated, sampleOrder()))
	if err == nil || errors.Is(err, ErrUndeliverable) {
		t.Fatalf("expected a transient failure, got %v", err)
	}
	if s.calls != 3 {
		t.Fatalf("calls = %d, want 3", s.calls)
	}
}

func TestDeliverUndeliverable(t *testing.T) {
	tests := map[string]struct {
		sender *flakySender
		in     Intent
	}{
		"sender not configured": {&flakySender{err: email.ErrNotConfigured}, NewIntent(OrderPaid, sampleOrder())},
		"unknown kind":          {&flakySender{}, NewIntent("order.refunded", sampleOrder())},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			err := newDeliverer(tt.sender, 5).Deliver(context.Background(), tt.in)
			if !errors.Is(err, ErrUndeliverable) {
				t.Fatalf("expected ErrUndeliverable, got %v", err)
			}
			if tt.sender.calls > 1 {
				t.Fatalf("permanent failure retried %d times", tt.sender.calls)
			}
		})
	}
}

func TestDeliverWithoutEmail(t *testing.T) {
	s := &flakySender{}
	o := sampleOrder()
	o.Customer.Email = ""

	if err := newDeliverer(s, 5).Deliver(context.Background(), NewIntent(OrderPaid, o)); err != nil {
		t.Fatal(err)
	}
	if s.calls != 0 {
		t.Fatalf("sent %d mails without an address", s.calls)
	}
}

func TestQueue(t *testing.T) {
	s := &flakySender{fails: 1}
	bg := background.New(quietLog())
	q := NewQueue(bg, newDeliverer(s, 3), quietLog())

	ctx, cancel := context.WithCancel(context.Background())
	q.OrderCreated(ctx, sampleOrder())
	q.OrderPaid(ctx, sampleOrder())
	cancel()

	shut, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := bg.Shutdown(shut); err != nil {
		t.Fatal(err)
	}

	if len(s.sent) != 2 {
		t.Fatalf("sent %d mails, want 2", len(s.sent))
	}
}

func TestConsumerDropsGarbage(t *testing.T) {
	c := &Consumer{d: newDeliverer(&flakySender{}, 1), log: quietLog()}

	err := c.process(context.Background(), kafka.Message{Value: []byte("{not json")})
	if !errors.Is(err, ErrUndeliverable) {
		t.Fatalf("expected ErrUndeliverable, got %v", err)
	}

	b, _ := json.Marshal(NewIntent(OrderPaid, sampleOrder()))
	if err := c.process(context.Background(), kafka.Message{Value: b}); err != nil {
		t.Fatal(err)
	}
}
