package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/coachingcentre/notes-store/api/web"
	"github.com/coachingcentre/notes-store/api/weberr"
	"github.com/coachingcentre/notes-store/core/catalog"
	"github.com/coachingcentre/notes-store/core/download"
	"github.com/coachingcentre/notes-store/core/payment"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"
)

// HandleUPI renders a UPI deeplink and its QR code for ?amount=.
func HandleUPI(m payment.Merchant) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		amount, err := strconv.ParseInt(web.Query(r, "amount"), 10, 64)
		if err != nil || amount <= 0 {
			return weberr.BadRequest(errors.New("amount is required"), "AMOUNT_REQUIRED")
		}

		uri := m.UPIURI(amount, "")
		qr, err := payment.QRDataURL(uri)
		if err != nil {
			return weberr.InternalError(err, "QR_GENERATION_FAILED")
		}

		out := struct {
			QRCode string `json:"qrCode"`
			UPIURI string `json:"upiUri"`
		}{qr, uri}

		return web.OK(ctx, w, out)
	}
}

// HandleCreateSession opens a checkout on the provider of the path. The
// body carries either an order id, charged for its total, or a raw amount
// in minor units.
func HandleCreateSession(s *Service) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		provider := web.Param(r, "provider")

		var in struct {
			Amount  int64  `json:"amount"`
			OrderID string `json:"orderId"`
		}
		if err := web.Decode(w, r, &in); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err), "AMOUNT_REQUIRED")
		}

		if in.OrderID == "" && in.Amount <= 0 {
			return weberr.BadRequest(errors.New("amount is required"), "AMOUNT_REQUIRED")
		}

		sess, err := s.OpenSession(ctx, provider, in.OrderID, in.Amount)
		if err != nil {
			return sessionErr(err, provider, in.OrderID)
		}

		return web.OK(ctx, w, sess)
	}
}

func sessionErr(err error, provider, orderID string) error {
	var perr *payment.ProviderError

	switch {
	case errors.Is(err, payment.ErrUnknownProvider):
		return weberr.NotFound(err, "UNKNOWN_PROVIDER")
	case errors.Is(err, payment.ErrInvalidAmount):
		return weberr.BadRequest(err, "AMOUNT_REQUIRED")
	case errors.Is(err, payment.ErrNotConfigured):
		return weberr.InternalError(err, "PAYMENT_NOT_CONFIGURED", weberr.WithFields(map[string]interface{}{"provider": provider}))
	case orderID != "" && (errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidTransition)):
		return orderErr(err, orderID)
	case errors.As(err, &perr):
		details := map[string]interface{}{"provider": perr.Provider, "statusCode": perr.StatusCode}
		return weberr.WithDetails(err, "ORDER_CREATE_FAILED", http.StatusInternalServerError, details)
	}
	return weberr.InternalError(err, "ORDER_CREATE_FAILED", weberr.WithFields(map[string]interface{}{"provider": provider}))
}

// HandleCheckStatus reports the gateway state of a session. A failing
// gateway is answered as pending so that clients keep polling.
func HandleCheckStatus(s *Service, log logrus.FieldLogger) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		provider := web.Param(r, "provider")
		mid := web.Query(r, "merchantOrderId")
		if mid == "" {
			return weberr.BadRequest(errors.New("merchantOrderId is required"), "MERCHANT_ORDER_ID_REQUIRED")
		}

		st, err := s.PollStatus(ctx, provider, mid)
		switch {
		case errors.Is(err, payment.ErrUnknownProvider):
			return weberr.NotFound(err, "UNKNOWN_PROVIDER")
		case err != nil:
			log.WithFields(logrus.Fields{
				"provider":          provider,
				"merchant_order_id": mid,
				"error":             err,
			}).Warn("checking payment status")
			st = payment.Status{State: "UNKNOWN", Result: payment.Pending}
		}

		out := struct {
			payment.Status
			MerchantOrderID string `json:"merchantOrderId"`
		}{st, mid}

		return web.OK(ctx, w, out)
	}
}

// HandleGatewayDownload serves a file bought through a gateway session,
// verifying the session state with the gateway on every request.
func HandleGatewayDownload(s *Service, gate *download.Gate) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		provider := web.Param(r, "provider")
		mid := web.Param(r, "merchantOrderId")
		itemID := catalog.ID(web.Param(r, "itemId"))

		err := s.VerifyGatewayPurchase(ctx, provider, mid, itemID)

		var preq *PaymentRequiredError
		switch {
		case errors.Is(err, payment.ErrUnknownProvider):
			return weberr.NotFound(err, "UNKNOWN_PROVIDER")
		case errors.Is(err, payment.ErrNotConfigured):
			return weberr.InternalError(err, "PAYMENT_NOT_CONFIGURED", weberr.WithFields(map[string]interface{}{"provider": provider}))
		case errors.Is(err, ErrPaymentUnverified):
			return weberr.NewError(errors.New("payment could not be verified, try again later"), "PAYMENT_UNVERIFIED", http.StatusPaymentRequired,
				weberr.WithFields(map[string]interface{}{"cause": err}))
		case errors.As(err, &preq):
			return weberr.WithDetails(err, "PAYMENT_REQUIRED", http.StatusForbidden, map[string]string{"paymentStatus": preq.State})
		case err != nil:
			return downloadErr(err)
		}

		b, err := gate.Resolve(itemID)
		if err != nil {
			return downloadErr(err)
		}

		if err := gate.Serve(ctx, w, r, b); err != nil {
			return downloadErr(err)
		}
		return nil
	}
}

// HandleStripeWebhook marks the order bound to a completed checkout session
// as paid. Without a signing secret every event is refused.
func HandleStripeWebhook(s *Service, secret string) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		if secret == "" {
			return weberr.NewError(errors.New("stripe webhook secret is not configured"), "WEBHOOK_NOT_CONFIGURED", http.StatusServiceUnavailable)
		}

		b, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
		if err != nil {
			return weberr.BadRequest(fmt.Errorf("cannot read the request body: %w", err), "INVALID_EVENT")
		}

		sig := r.Header.Get("Stripe-Signature")
		if sig == "" {
			return weberr.BadRequest(errors.New("received stripe event is not signed"), "INVALID_EVENT")
		}

		event, err := webhook.ConstructEvent(b, sig, secret)
		if err != nil {
			return weberr.BadRequest(fmt.Errorf("cannot construct stripe event: %w", err), "INVALID_EVENT")
		}

		if event.Type != "checkout.session.completed" {
			return web.Respond(ctx, w, nil, http.StatusNoContent)
		}

		var session stripe.CheckoutSession
		if err = json.Unmarshal(event.Data.Raw, &session); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode stripe event: %w", err), "INVALID_EVENT")
		}

		if session.Mode != stripe.CheckoutSessionModePayment || session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			return web.Respond(ctx, w, nil, http.StatusNoContent)
		}

		_, err = s.MarkPaidByMerchantID(ctx, "stripe", session.ID)
		switch {
		case errors.Is(err, ErrNotFound):
			// Sessions opened without an order have nothing to fulfill.
			return web.Respond(ctx, w, nil, http.StatusNoContent)
		case err != nil:
			return fmt.Errorf("the session[%s] was paid but its fulfillment failed: %w", session.ID, err)
		}

		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}
}
