package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coachingcentre/notes-store/config"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

const (
	phonepeSandboxAuth = "https://api-preprod.phonepe.com/apis/pg-sandbox/v1/oauth/token"
	phonepeSandboxPG   = "https://api-preprod.phonepe.com/apis/pg-sandbox"
	phonepeProdAuth    = "https://api.phonepe.com/apis/identity-manager/v1/oauth/token"
	phonepeProdPG      = "https://api.phonepe.com/apis/pg"
)

// PhonePe implements the PhonePe standard checkout.
type PhonePe struct {
	baseURL     string
	redirectURL string
	client      *http.Client
	configured  bool
}

// NewPhonePe builds the adapter. Customers come back to
// <clientURL>/payment/check-status?merchantOrderId=<id> after paying.
func NewPhonePe(cfg config.PhonePe, clientURL string) *PhonePe {
	authURL, baseURL := phonepeSandboxAuth, phonepeSandboxPG
	if cfg.Env == "production" {
		authURL, baseURL = phonepeProdAuth, phonepeProdPG
	}
	if cfg.AuthURL != "" {
		authURL = cfg.AuthURL
	}
	if cfg.BaseURL != "" {
		baseURL = cfg.BaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	base := &http.Client{Timeout: timeout}

	src := &phonepeTokenSource{
		url:     authURL,
		form:    phonepeTokenForm(cfg),
		client:  base,
		timeout: timeout,
	}

	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	client := oauth2.NewClient(ctx, oauth2.ReuseTokenSource(nil, src))
	client.Timeout = timeout

	return &PhonePe{
		baseURL:     strings.TrimRight(baseURL, "/"),
		redirectURL: strings.TrimRight(clientURL, "/") + "/payment/check-status",
		client:      client,
		configured:  cfg.ClientID != "" && cfg.ClientSecret != "",
	}
}

func (p *PhonePe) Name() string { return "phonepe" }

type phonepePayRequest struct {
	MerchantOrderID string             `json:"merchantOrderId"`
	Amount          int64              `json:"amount"`
	PaymentFlow     phonepePaymentFlow `json:"paymentFlow"`
}

type phonepePaymentFlow struct {
	Type         string `json:"type"`
	MerchantURLs struct {
		RedirectURL string `json:"redirectUrl"`
	} `json:"merchantUrls"`
}

type phonepePayResponse struct {
	OrderID     string `json:"orderId"`
	State       string `json:"state"`
	RedirectURL string `json:"redirectUrl"`
}

type phonepeStatusResponse struct {
	OrderID string `json:"orderId"`
	State   string `json:"state"`
	Amount  int64  `json:"amount"`
}

func (p *PhonePe) CreateSession(ctx context.Context, amount int64) (Session, error) {
	if amount <= 0 {
		return Session{}, ErrInvalidAmount
	}
	if !p.configured {
		return Session{}, fmt.Errorf("phonepe: %w", ErrNotConfigured)
	}

	mid := uuid.NewString()

	req := phonepePayRequest{MerchantOrderID: mid, Amount: amount}
	req.PaymentFlow.Type = "PG_CHECKOUT"
	req.PaymentFlow.MerchantURLs.RedirectURL = p.redirectURL + "?merchantOrderId=" + url.QueryEscape(mid)

	var resp phonepePayResponse
	if err := p.do(ctx, http.MethodPost, "/checkout/v2/pay", req, &resp); err != nil {
		return Session{}, fmt.Errorf("creating phonepe order[%s]: %w", mid, err)
	}

	if resp.RedirectURL == "" {
		return Session{}, fmt.Errorf("creating phonepe order[%s]: no redirect url in answer", mid)
	}

	return Session{CheckoutURL: resp.RedirectURL, MerchantOrderID: mid}, nil
}

func (p *PhonePe) Status(ctx context.Context, merchantOrderID string) (Status, error) {
	if !p.configured {
		return Status{}, fmt.Errorf("phonepe: %w", ErrNotConfigured)
	}

	var resp phonepeStatusResponse
	path := "/checkout/v2/order/" + url.PathEscape(merchantOrderID) + "/status"
	if err := p.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return Status{}, fmt.Errorf("checking phonepe order[%s]: %w", merchantOrderID, err)
	}

	return Status{State: resp.State, Result: phonepeResult(resp.State)}, nil
}

func phonepeResult(state string) Result {
	switch state {
	case "COMPLETED":
		return Success
	case "FAILED":
		return Failed
	default:
		return Pending
	}
}

func (p *PhonePe) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading answer: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ProviderError{Provider: "phonepe", StatusCode: resp.StatusCode, Body: string(raw)}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding answer: %w", err)
	}
	return nil
}

// phonepeTokenSource fetches client credential tokens. PhonePe reports an
// absolute expires_at instead of the expires_in of RFC 6749, hence the
// custom source wrapped in oauth2.ReuseTokenSource.
type phonepeTokenSource struct {
	url     string
	form    url.Values
	client  *http.Client
	timeout time.Duration
}

func phonepeTokenForm(cfg config.PhonePe) url.Values {
	version := cfg.ClientVersion
	if version <= 0 {
		version = 1
	}
	return url.Values{
		"client_id":      {cfg.ClientID},
		"client_secret":  {cfg.ClientSecret},
		"client_version": {strconv.Itoa(version)},
		"grant_type":     {"client_credentials"},
	}
}

func (s *phonepeTokenSource) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, strings.NewReader(s.form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting phonepe token: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading phonepe token: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Provider: "phonepe", StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresAt   int64  `json:"expires_at"`
	}
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("decoding phonepe token: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("phonepe token answer without access_token")
	}

	t := &oauth2.Token{AccessToken: tok.AccessToken, TokenType: tok.TokenType}
	if t.TokenType == "" {
		t.TokenType = "O-Bearer"
	}
	if tok.ExpiresAt > 0 {
		t.Expiry = time.Unix(tok.ExpiresAt, 0)
	}
	return t, nil
}
