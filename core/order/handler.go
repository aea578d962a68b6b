package order

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coachingcentre/notes-store/api/web"
	"github.com/coachingcentre/notes-store/api/weberr"
	"github.com/coachingcentre/notes-store/core/catalog"
	"github.com/coachingcentre/notes-store/core/download"
	"github.com/coachingcentre/notes-store/core/payment"
)

func HandleCreate(s *Service) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var no NewOrder
		if err := web.Decode(w, r, &no); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err), "INVALID_ORDER")
		}

		created, err := s.Create(ctx, no)
		if err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				return weberr.BadRequest(verr, "INVALID_ORDER")
			}
			return weberr.InternalError(err, "ORDER_CREATE_FAILED")
		}

		return web.OK(ctx, w, created)
	}
}

func HandleShow(s *Service) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id := web.Param(r, "orderId")

		o, err := s.Fetch(ctx, id)
		if err != nil {
			return orderErr(err, id)
		}

		return web.OK(ctx, w, o)
	}
}

// HandleList serves the admin listing of every order.
func HandleList(s *Service) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		orders, err := s.List(ctx)
		if err != nil {
			return fmt.Errorf("listing orders: %w", err)
		}
		return web.OK(ctx, w, orders)
	}
}

func HandleConfirm(s *Service) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id := web.Param(r, "orderId")

		var in struct {
			UTR  string `json:"utr"`
			Note string `json:"note"`
		}
		if err := web.Decode(w, r, &in); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err), "INVALID_UTR")
		}

		o, err := s.Confirm(ctx, id, in.UTR, in.Note)
		switch {
		case errors.Is(err, ErrInvalidUTR):
			return weberr.BadRequest(err, "INVALID_UTR")
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidTransition):
			return orderErr(err, id)
		case err != nil:
			return weberr.InternalError(err, "PAYMENT_CONFIRMATION_FAILED", withOrder(id))
		}

		return web.OK(ctx, w, o)
	}
}

func HandleReconcile(s *Service) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id := web.Param(r, "orderId")

		o, st, err := s.Reconcile(ctx, id)
		switch {
		case errors.Is(err, ErrNotLinked):
			return weberr.NewError(err, "ORDER_NOT_LINKED", http.StatusConflict)
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidTransition):
			return orderErr(err, id)
		case err != nil:
			return weberr.WithDetails(err, "STATUS_CHECK_FAILED", http.StatusBadGateway, map[string]string{
				"merchantOrderId": o.MerchantOrderID,
			})
		}

		out := struct {
			Order  Order          `json:"order"`
			Status payment.Status `json:"payment"`
		}{o, st}

		return web.OK(ctx, w, out)
	}
}

func HandleDownload(s *Service, gate *download.Gate) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id := web.Param(r, "orderId")
		itemID := catalog.ID(web.Param(r, "itemId"))

		o, err := s.Fetch(ctx, id)
		if err != nil {
			return orderErr(err, id)
		}

		b, err := gate.Authorize(o, itemID)
		if err != nil {
			return downloadErr(err)
		}

		if err := gate.Serve(ctx, w, r, b); err != nil {
			return downloadErr(err)
		}
		return nil
	}
}

func orderErr(err error, id string) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return weberr.NotFound(fmt.Errorf("order[%s] not found", id), "NOT_FOUND")
	case errors.Is(err, ErrInvalidTransition):
		return weberr.NewError(fmt.Errorf("order[%s] is already paid", id), "ALREADY_PAID", http.StatusConflict)
	}
	return fmt.Errorf("fetching order[%s]: %w", id, err)
}

func downloadErr(err error) error {
	switch {
	case errors.Is(err, download.ErrPaymentRequired):
		return weberr.Forbidden(errors.New("payment required before download"), "PAYMENT_REQUIRED")
	case errors.Is(err, download.ErrItemNotInOrder):
		return weberr.Forbidden(errors.New("item not in order"), "ITEM_NOT_IN_ORDER")
	case errors.Is(err, download.ErrFileNotFound):
		return weberr.NotFound(errors.New("file not found"), "FILE_NOT_FOUND", weberr.WithFields(map[string]interface{}{"cause": err}))
	case errors.Is(err, download.ErrFileMissing):
		return weberr.NotFound(errors.New("file missing on server"), "FILE_MISSING", weberr.WithFields(map[string]interface{}{"cause": err}))
	}
	return fmt.Errorf("serving download: %w", err)
}

func withOrder(id string) weberr.Opt {
	return weberr.WithFields(map[string]interface{}{"order_id": id})
}
