package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/mux"
	"github.com/stripe/stripe-go/v74"
	stripecl "github.com/stripe/stripe-go/v74/client"
	mock "github.com/stripe/stripe-mock/param"
)

type mockStripe struct {
	expectedAmount string
	sessions       map[string]map[string]interface{}
}

func (m *mockStripe) handle() http.Handler {
	respond := func(w http.ResponseWriter, v interface{}, code int) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(v)
	}

	checkout := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		params, err := mock.ParseParams(r)
		if err != nil {
			respond(w, nil, 400)
			return
		}

		lines, ok := params["line_items"].(map[string]interface{})
		if !ok || len(lines) != 1 {
			respond(w, nil, 400)
			return
		}

		for _, li := range lines {
			it := li.(map[string]interface{})
			pd := it["price_data"].(map[string]interface{})
			if pd["unit_amount"] != m.expectedAmount || pd["currency"] != "inr" {
				respond(w, nil, 400)
				return
			}
		}

		id := "cs_test_1"
		m.sessions[id] = map[string]interface{}{
			"id":             id,
			"url":            "https://checkout.stripe.test/" + id,
			"status":         "open",
			"payment_status": "unpaid",
		}
		respond(w, m.sessions[id], 200)
	})

	show := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := m.sessions[mux.Vars(r)["id"]]
		if !ok {
			respond(w, map[string]interface{}{"error": map[string]string{"message": "no such session"}}, 404)
			return
		}
		respond(w, s, 200)
	})

	r := mux.NewRouter()
	r.Handle("/v1/checkout/sessions", checkout).Methods("POST")
	r.Handle("/v1/checkout/sessions/{id}", show).Methods("GET")
	return r
}

func newTestStripeAPI(url string) *stripecl.API {
	backends := &stripe.Backends{
		API: stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL:               stripe.String(url),
			MaxNetworkRetries: stripe.Int64(0),
		}),
	}
	api := &stripecl.API{}
	api.Init("sk_test_123", backends)
	return api
}

func TestStripeGateway(t *testing.T) {
	m := &mockStripe{expectedAmount: "15000", sessions: map[string]map[string]interface{}{}}
	srv := httptest.NewServer(m.handle())
	defer srv.Close()

	gw := NewStripe(newTestStripeAPI(srv.URL), "INR", "http://shop.test", "", "")
	ctx := context.Background()

	sess, err := gw.CreateSession(ctx, 15000)
	if err != nil {
		t.Fatalf("creating session: %v", err)
	}
	if diff := cmp.Diff(Session{CheckoutURL: "https://checkout.stripe.test/cs_test_1", MerchantOrderID: "cs_test_1"}, sess); diff != "" {
		t.Fatalf("session mismatch (-want +got):\n%s", diff)
	}

	st, err := gw.Status(ctx, sess.MerchantOrderID)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Status{State: "unpaid", Result: Pending}, st); diff != "" {
		t.Fatalf("status mismatch (-want +got):\n%s", diff)
	}

	m.sessions["cs_test_1"]["payment_status"] = "paid"
	m.sessions["cs_test_1"]["status"] = "complete"
	if st, _ = gw.Status(ctx, sess.MerchantOrderID); st.Result != Success {
		t.Fatalf("expected success, got %+v", st)
	}

	m.sessions["cs_test_1"]["payment_status"] = "unpaid"
	m.sessions["cs_test_1"]["status"] = "expired"
	if st, _ = gw.Status(ctx, sess.MerchantOrderID); st.Result != Failed {
		t.Fatalf("expected failed, got %+v", st)
	}

	if _, err := gw.Status(ctx, "cs_missing"); err == nil {
		t.Fatal("expected an error for an unknown session")
	}
}
