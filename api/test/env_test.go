package test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/coachingcentre/notes-store/api"
	"github.com/coachingcentre/notes-store/config"
	"github.com/coachingcentre/notes-store/core/admin"
	"github.com/coachingcentre/notes-store/core/admission"
	"github.com/coachingcentre/notes-store/core/auth"
	"github.com/coachingcentre/notes-store/core/catalog"
	"github.com/coachingcentre/notes-store/core/download"
	"github.com/coachingcentre/notes-store/core/order"
	"github.com/coachingcentre/notes-store/core/payment"
	"github.com/coachingcentre/notes-store/rate"
	"github.com/coachingcentre/notes-store/storage"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const (
	adminPassword = "letmein"
	webhookSecret = "whsec_test"
)

type TestEnv struct {
	*httptest.Server
	PhonePe *mockPhonePe
	Stripe  *mockStripe
	Notes   *notifications
	Blobs   *storage.Local
}

// envConfig is what an EnvOpt may change before the server starts.
type envConfig struct {
	orders order.Config
	api    api.APIConfig
}

type EnvOpt func(*envConfig)

// NewTestEnv serves the whole API over a temporary data directory, with
// PhonePe answered by a local mock.
func NewTestEnv(t *testing.T, opts ...EnvOpt) *TestEnv {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	dir := t.TempDir()
	blobs, err := storage.NewLocal(filepath.Join(dir, "public"))
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range catalog.Static() {
		p := filepath.Join(blobs.Root(), filepath.FromSlash(b.File))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("%PDF-1.4 "+b.Title), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	books, err := catalog.Open(filepath.Join(dir, "data", "customBooks.json"), catalog.Static())
	if err != nil {
		t.Fatal(err)
	}
	store, err := order.OpenFileStore(filepath.Join(dir, "data", "orders.json"))
	if err != nil {
		t.Fatal(err)
	}

	pp := &mockPhonePe{states: make(map[string]string)}
	ppSrv := httptest.NewServer(pp.handler())
	t.Cleanup(ppSrv.Close)

	phonepe := payment.NewPhonePe(config.PhonePe{
		ClientID:      "cid",
		ClientSecret:  "secret",
		ClientVersion: 1,
		AuthURL:       ppSrv.URL + "/v1/oauth/token",
		BaseURL:       ppSrv.URL,
		Timeout:       5 * time.Second,
	}, "http://client.test")

	strp := &mockStripe{paid: make(map[string]bool)}

	sessions := auth.NewMemorySessions(time.Minute)
	t.Cleanup(sessions.StopCleanup)
	adm, err := auth.NewAdmin(adminPassword, sessions, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	lim := rate.NewLimiter(3, time.Minute, rate.Every(time.Hour))
	t.Cleanup(lim.Stop)

	merchant := payment.Merchant{VPA: "centre@upi", Name: "Coaching Centre", Currency: "INR"}
	notes := &notifications{}

	cfg := envConfig{
		orders: order.Config{
			Store:    store,
			Notifier: notes,
			Gateways: payment.NewRegistry(phonepe, strp),
			Merchant: merchant,
			Log:      log,
		},
		api: api.APIConfig{
			CorsOrigins:         []string{"http://client.test"},
			Log:                 log,
			Catalog:             books,
			Gate:                download.NewGate(books, blobs),
			Library:             admin.NewLibrary(books, blobs, log),
			Admissions:          admission.NewRegistry(blobs, log),
			Admin:               adm,
			LoginLimiter:        lim,
			Merchant:            merchant,
			StripeWebhookSecret: webhookSecret,
			AssetsRoot:          blobs.Root(),
			MaxUploadSize:       4 << 20,
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.api.Orders = order.NewService(cfg.orders)

	mux := api.APIMux(cfg.api)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &TestEnv{Server: srv, PhonePe: pp, Stripe: strp, Notes: notes, Blobs: blobs}
}

// envelope mirrors the body of every JSON answer.
type envelope struct {
	OK      bool            `json:"ok"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details"`
}

type call struct {
	method string
	path   string
	body   interface{}
	token  string
}

func (env *TestEnv) do(t *testing.T, c call) (*http.Response, envelope) {
	t.Helper()

	var body io.Reader
	if c.body != nil {
		b, err := json.Marshal(c.body)
		if err != nil {
			t.Fatal(err)
		}
		body = bytes.NewReader(b)
	}

	r, err := http.NewRequest(c.method, env.URL+c.path, body)
	if err != nil {
		t.Fatal(err)
	}
	if c.body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		r.Header.Set("Authorization", "Bearer "+c.token)
	}

	return env.send(t, r)
}

func (env *TestEnv) send(t *testing.T, r *http.Request) (*http.Response, envelope) {
	t.Helper()

	w, err := env.Client().Do(r)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Body.Close()

	var out envelope
	if w.Header.Get("Content-Type") == "application/json" {
		if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
			t.Fatalf("decoding answer of %s %s: %v", r.Method, r.URL.Path, err)
		}
	}
	return w, out
}

func expect(t *testing.T, w *http.Response, env envelope, status int, code string) {
	t.Helper()

	if w.StatusCode != status {
		t.Fatalf("%s %s: status %d, want %d (%s: %s)", w.Request.Method, w.Request.URL.Path, w.StatusCode, status, env.Error, env.Message)
	}
	if env.Error != code {
		t.Fatalf("%s %s: error %q, want %q", w.Request.Method, w.Request.URL.Path, env.Error, code)
	}
	if (code == "") != env.OK && w.Header.Get("Content-Type") == "application/json" {
		t.Fatalf("%s %s: ok = %v with error %q", w.Request.Method, w.Request.URL.Path, env.OK, code)
	}
}

func decode(t *testing.T, raw json.RawMessage, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("decoding %s: %v", raw, err)
	}
}

func (env *TestEnv) login(t *testing.T) string {
	t.Helper()

	w, out := env.do(t, call{method: http.MethodPost, path: "/api/admin/login", body: map[string]string{"password": adminPassword}})
	expect(t, w, out, http.StatusOK, "")

	var tok struct {
		Token string `json:"token"`
	}
	decode(t, out.Data, &tok)
	return tok.Token
}

type mockPhonePe struct {
	mu     sync.Mutex
	states map[string]string
	down   bool
}

func (m *mockPhonePe) set(mid, state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[mid] = state
}

func (m *mockPhonePe) setDown(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = down
}

func (m *mockPhonePe) handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/v1/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "tok",
			"token_type":   "O-Bearer",
			"expires_at":   time.Now().Add(time.Hour).Unix(),
		})
	}).Methods(http.MethodPost)

	r.HandleFunc("/checkout/v2/pay", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			MerchantOrderID string `json:"merchantOrderId"`
			Amount          int64  `json:"amount"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount <= 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		m.set(req.MerchantOrderID, "PENDING")

		json.NewEncoder(w).Encode(map[string]string{
			"orderId":     "OMO-" + req.MerchantOrderID,
			"state":       "PENDING",
			"redirectUrl": "https://mercury.test/pay/" + req.MerchantOrderID,
		})
	}).Methods(http.MethodPost)

	r.HandleFunc("/checkout/v2/order/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		state, ok := m.states[mux.Vars(r)["id"]]
		down := m.down
		m.mu.Unlock()

		switch {
		case down:
			w.WriteHeader(http.StatusServiceUnavailable)
		case !ok:
			w.WriteHeader(http.StatusNotFound)
		default:
			json.NewEncoder(w).Encode(map[string]string{"state": state})
		}
	}).Methods(http.MethodGet)

	return r
}

// mockStripe stands in for the Stripe gateway, whose sessions are paid
// through the webhook.
type mockStripe struct {
	mu   sync.Mutex
	seq  int
	paid map[string]bool
}

func (m *mockStripe) Name() string { return "stripe" }

func (m *mockStripe) CreateSession(ctx context.Context, amount int64) (payment.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	id := fmt.Sprintf("cs_test_%d", m.seq)
	return payment.Session{CheckoutURL: "https://checkout.stripe.test/" + id, MerchantOrderID: id}, nil
}

func (m *mockStripe) Status(ctx context.Context, id string) (payment.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.paid[id] {
		return payment.Status{State: "paid", Result: payment.Success}, nil
	}
	return payment.Status{State: "unpaid", Result: payment.Pending}, nil
}

type notifications struct {
	mu      sync.Mutex
	created []string
	paid    []string
}

func (n *notifications) OrderCreated(_ context.Context, o order.Order) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, o.ID)
}

func (n *notifications) OrderPaid(_ context.Context, o order.Order) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paid = append(n.paid, o.ID)
}

func (n *notifications) paidCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.paid)
}
