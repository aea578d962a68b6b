package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func sampleOrder(id string, at time.Time) Order {
	items := []Item{{ID: "1", Title: "Maths", Price: 200, Qty: 1}, {ID: "c-x", Title: "Physics", Price: 50, Qty: 2}}
	return Order{
		ID:        id,
		Items:     items,
		Customer:  Customer{Name: "Asha", Email: "asha@example.com"},
		Amount:    Total(items),
		Status:    Pending,
		UPIURI:    "upi://pay?pa=centre@upi&am=300",
		Meta:      json.RawMessage(`{"source":"web"}`),
		CreatedAt: at,
		UpdatedAt: at,
	}
}

// testStore runs the behaviour every Store implementation shares.
func testStore(t *testing.T, s Store) {
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	a := sampleOrder("order-a", base)
	b := sampleOrder("order-b", base.Add(time.Minute))

	for _, o := range []Order{b, a} {
		if err := s.Create(ctx, o); err != nil {
			t.Fatalf("creating %s: %v", o.ID, err)
		}
	}

	got, err := s.Fetch(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(a, got, cmp.Transformer("meta", func(m json.RawMessage) string {
		var v interface{}
		json.Unmarshal(m, &v)
		out, _ := json.Marshal(v)
		return string(out)
	})); diff != "" {
		t.Fatalf("fetched order mismatch (-want +got):\n%s", diff)
	}

	if _, err := s.Fetch(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	linked, err := s.Update(ctx, a.ID, func(o *Order) error {
		return o.link("phonepe", "mid-a", base.Add(time.Hour))
	})
	if err != nil {
		t.Fatal(err)
	}
	if linked.MerchantOrderID != "mid-a" {
		t.Fatalf("update not returned: %+v", linked)
	}

	byMID, err := s.FetchByMerchantID(ctx, "phonepe", "mid-a")
	if err != nil {
		t.Fatal(err)
	}
	if byMID.ID != a.ID {
		t.Fatalf("fetched %s by merchant id, want %s", byMID.ID, a.ID)
	}
	if _, err := s.FetchByMerchantID(ctx, "phonepe", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty merchant ids must never match, got %v", err)
	}
	if _, err := s.FetchByMerchantID(ctx, "stripe", "mid-a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("a session id of another provider must not match, got %v", err)
	}

	boom := errors.New("boom")
	if _, err := s.Update(ctx, b.ID, func(o *Order) error {
		o.Status = Paid
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected the callback error, got %v", err)
	}
	if o, _ := s.Fetch(ctx, b.ID); o.Status != Pending {
		t.Fatalf("failed update was persisted: %s", o.Status)
	}

	paid, err := s.Update(ctx, b.ID, func(o *Order) error {
		return o.pay(Payment{UTR: "UTR12345", ConfirmedAt: base.Add(2 * time.Hour)}, base.Add(2*time.Hour))
	})
	if err != nil {
		t.Fatal(err)
	}
	if paid.Status != Paid || paid.Payment.UTR != "UTR12345" {
		t.Fatalf("unexpected paid order %+v", paid)
	}

	if _, err := s.Update(ctx, b.ID, func(o *Order) error {
		return o.pay(Payment{UTR: "again"}, base)
	}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	ids := make([]string, len(list))
	for i, o := range list {
		ids[i] = o.ID
	}
	if diff := cmp.Diff([]string{a.ID, b.ID}, ids); diff != "" {
		t.Fatalf("list order (-want +got):\n%s", diff)
	}
}

// testConcurrentUpdates pays n orders from n goroutines at once. Every
// payment must survive.
func testConcurrentUpdates(t *testing.T, s Store, n int) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	for i := 0; i < n; i++ {
		if err := s.Create(ctx, sampleOrder(fmt.Sprintf("conc-%02d", i), now)); err != nil {
			t.Fatal(err)
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Update(ctx, fmt.Sprintf("conc-%02d", i), func(o *Order) error {
				return o.pay(Payment{UTR: fmt.Sprintf("UTR-%02d", i), ConfirmedAt: now}, now)
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}

	for i := 0; i < n; i++ {
		o, err := s.Fetch(ctx, fmt.Sprintf("conc-%02d", i))
		if err != nil {
			t.Fatal(err)
		}
		if o.Status != Paid {
			t.Fatalf("order %s lost its payment", o.ID)
		}
	}
}

func TestFileStore(t *testing.T) {
	s, err := OpenFileStore(filepath.Join(t.TempDir(), "orders.json"))
	if err != nil {
		t.Fatal(err)
	}
	testStore(t, s)
}

func TestFileStoreConcurrentUpdates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orders.json")

	s, err := OpenFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	testConcurrentUpdates(t, s, 40)

	reopened, err := OpenFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	list, err := reopened.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 40 {
		t.Fatalf("reloaded %d orders, want 40", len(list))
	}
	for _, o := range list {
		if o.Status != Paid {
			t.Fatalf("order %s reloaded as %s", o.ID, o.Status)
		}
	}
}

func TestFileStoreIsolation(t *testing.T) {
	s, err := OpenFileStore(filepath.Join(t.TempDir(), "orders.json"))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := s.Create(ctx, sampleOrder("iso", time.Now())); err != nil {
		t.Fatal(err)
	}

	o, _ := s.Fetch(ctx, "iso")
	o.Items[0].Price = 1

	again, _ := s.Fetch(ctx, "iso")
	if again.Items[0].Price != 200 {
		t.Fatal("mutating a fetched order leaked into the store")
	}

	if err := s.Create(ctx, sampleOrder("iso", time.Now())); err == nil {
		t.Fatal("duplicate ids must be rejected")
	}
}
