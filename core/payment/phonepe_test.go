package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coachingcentre/notes-store/config"
	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/mux"
)

type fakePhonePe struct {
	tokens int32
	calls  int32
	states map[string]string
	pays   []phonepePayRequest
	fail   bool
}

func (f *fakePhonePe) handler(t *testing.T) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/v1/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parsing token form: %v", err)
		}
		if r.PostForm.Get("grant_type") != "client_credentials" || r.PostForm.Get("client_id") != "cid" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		atomic.AddInt32(&f.tokens, 1)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "tok",
			"token_type":   "O-Bearer",
			"expires_at":   time.Now().Add(time.Hour).Unix(),
		})
	}).Methods(http.MethodPost)

	authed := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "O-Bearer tok" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			atomic.AddInt32(&f.calls, 1)
			if f.fail {
				w.WriteHeader(http.StatusBadGateway)
				w.Write([]byte(`{"code":"INTERNAL_SERVER_ERROR"}`))
				return
			}
			h(w, r)
		}
	}

	r.HandleFunc("/checkout/v2/pay", authed(func(w http.ResponseWriter, r *http.Request) {
		var req phonepePayRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.pays = append(f.pays, req)
		f.states[req.MerchantOrderID] = "PENDING"
		json.NewEncoder(w).Encode(phonepePayResponse{
			OrderID:     "OMO" + req.MerchantOrderID,
			State:       "PENDING",
			RedirectURL: "https://mercury.example/pay/" + req.MerchantOrderID,
		})
	})).Methods(http.MethodPost)

	r.HandleFunc("/checkout/v2/order/{id}/status", authed(func(w http.ResponseWriter, r *http.Request) {
		st, ok := f.states[mux.Vars(r)["id"]]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(phonepeStatusResponse{State: st})
	})).Methods(http.MethodGet)

	return r
}

func newTestPhonePe(t *testing.T, f *fakePhonePe) *PhonePe {
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	return NewPhonePe(config.PhonePe{
		ClientID:     "cid",
		ClientSecret: "secret",
		AuthURL:      srv.URL + "/v1/oauth/token",
		BaseURL:      srv.URL,
		Timeout:      2 * time.Second,
	}, "http://shop.test")
}

func TestPhonePeSessionAndStatus(t *testing.T) {
	f := &fakePhonePe{states: map[string]string{}}
	pp := newTestPhonePe(t, f)
	ctx := context.Background()

	sess, err := pp.CreateSession(ctx, 20000)
	if err != nil {
		t.Fatalf("creating session: %v", err)
	}

	if sess.CheckoutURL != "https://mercury.example/pay/"+sess.MerchantOrderID {
		t.Fatalf("unexpected checkout url %q", sess.CheckoutURL)
	}

	if len(f.pays) != 1 {
		t.Fatalf("expected one pay call, got %d", len(f.pays))
	}
	pay := f.pays[0]
	if pay.Amount != 20000 || pay.PaymentFlow.Type != "PG_CHECKOUT" {
		t.Fatalf("unexpected pay request %+v", pay)
	}
	wantRedirect := "http://shop.test/payment/check-status?merchantOrderId=" + sess.MerchantOrderID
	if pay.PaymentFlow.MerchantURLs.RedirectURL != wantRedirect {
		t.Fatalf("redirect url = %q, want %q", pay.PaymentFlow.MerchantURLs.RedirectURL, wantRedirect)
	}

	for state, want := range map[string]Result{"PENDING": Pending, "COMPLETED": Success, "FAILED": Failed} {
		f.states[sess.MerchantOrderID] = state
		st, err := pp.Status(ctx, sess.MerchantOrderID)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if diff := cmp.Diff(Status{State: state, Result: want}, st); diff != "" {
			t.Fatalf("status mismatch (-want +got):\n%s", diff)
		}
	}

	if got := atomic.LoadInt32(&f.tokens); got != 1 {
		t.Fatalf("expected the token to be reused, fetched %d times", got)
	}
}

func TestPhonePeErrors(t *testing.T) {
	ctx := context.Background()

	unconfigured := NewPhonePe(config.PhonePe{}, "http://shop.test")
	if _, err := unconfigured.CreateSession(ctx, 100); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := unconfigured.Status(ctx, "x"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}

	f := &fakePhonePe{states: map[string]string{}}
	pp := newTestPhonePe(t, f)

	if _, err := pp.CreateSession(ctx, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}

	if _, err := pp.Status(ctx, "unknown"); err == nil {
		t.Fatal("expected an error for an unknown order")
	}

	f.fail = true
	atomic.StoreInt32(&f.calls, 0)
	_, err := pp.CreateSession(ctx, 100)
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected a ProviderError, got %v", err)
	}
	if pe.StatusCode != http.StatusBadGateway || !strings.Contains(pe.Body, "INTERNAL_SERVER_ERROR") {
		t.Fatalf("unexpected provider error %+v", pe)
	}
	if got := atomic.LoadInt32(&f.calls); got != 1 {
		t.Fatalf("failed creation must not be retried, got %d calls", got)
	}
}
