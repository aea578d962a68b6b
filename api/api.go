package api

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/coachingcentre/notes-store/api/middleware"
	"github.com/coachingcentre/notes-store/api/web"
	"github.com/coachingcentre/notes-store/api/weberr"
	"github.com/coachingcentre/notes-store/core/admin"
	"github.com/coachingcentre/notes-store/core/admission"
	"github.com/coachingcentre/notes-store/core/auth"
	"github.com/coachingcentre/notes-store/core/catalog"
	"github.com/coachingcentre/notes-store/core/download"
	"github.com/coachingcentre/notes-store/core/order"
	"github.com/coachingcentre/notes-store/core/payment"
	"github.com/coachingcentre/notes-store/rate"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type APIConfig struct {
	CorsOrigins         []string
	Log                 logrus.FieldLogger
	Orders              *order.Service
	Catalog             *catalog.Store
	Gate                *download.Gate
	Library             *admin.Library
	Admissions          *admission.Registry
	Admin               *auth.Admin
	LoginLimiter        *rate.Limiter
	Merchant            payment.Merchant
	StripeWebhookSecret string
	AssetsRoot          string
	MaxUploadSize       int64

	// Health reports the state of the backing services, when any.
	Health func(ctx context.Context) error
}

type api struct {
	*mux.Router
	mw  []web.Middleware
	log logrus.FieldLogger
}

func APIMux(cfg APIConfig) http.Handler {
	a := &api{
		Router: mux.NewRouter(),
		log:    cfg.Log,
	}

	a.mw = append(a.mw, middleware.RequestID())
	a.mw = append(a.mw, middleware.Logger(cfg.Log))
	a.mw = append(a.mw, middleware.Errors(cfg.Log))
	a.mw = append(a.mw, middleware.Panics())

	if len(cfg.CorsOrigins) > 0 {
		a.mw = append(a.mw, middleware.Cors(cfg.CorsOrigins))

		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			w.WriteHeader(http.StatusNoContent)
			return nil
		}

		// A method matcher here would turn every unknown path into a 405.
		preflight := func(r *http.Request, _ *mux.RouteMatch) bool {
			return r.Method == http.MethodOptions
		}
		a.Router.MatcherFunc(preflight).Handler(a.wrap(h))
	}

	authen := auth.Authenticate(cfg.Admin)
	limit := middleware.RateLimit(cfg.LoginLimiter)

	a.Handle(http.MethodGet, "/", handleHealth(cfg.Health))

	a.Handle(http.MethodGet, "/api/books", catalog.HandleList(cfg.Catalog))

	a.Handle(http.MethodPost, "/api/orders", order.HandleCreate(cfg.Orders))
	a.Handle(http.MethodGet, "/api/orders/{orderId}", order.HandleShow(cfg.Orders))
	a.Handle(http.MethodPost, "/api/orders/{orderId}/confirm", order.HandleConfirm(cfg.Orders))
	a.Handle(http.MethodPost, "/api/orders/{orderId}/reconcile", order.HandleReconcile(cfg.Orders))
	a.Handle(http.MethodGet, "/api/orders/{orderId}/download/{itemId}", order.HandleDownload(cfg.Orders, cfg.Gate))

	a.Handle(http.MethodGet, "/api/payment/upi", order.HandleUPI(cfg.Merchant))
	if cfg.StripeWebhookSecret != "" {
		a.Handle(http.MethodPost, "/api/payment/stripe/webhook", order.HandleStripeWebhook(cfg.Orders, cfg.StripeWebhookSecret))
	}
	a.Handle(http.MethodPost, "/api/payment/{provider}/create-order", order.HandleCreateSession(cfg.Orders))
	a.Handle(http.MethodGet, "/api/payment/{provider}/check-status", order.HandleCheckStatus(cfg.Orders, cfg.Log))
	a.Handle(http.MethodGet, "/api/payment/{provider}/download/{merchantOrderId}/{itemId}", order.HandleGatewayDownload(cfg.Orders, cfg.Gate))

	a.Handle(http.MethodPost, "/api/admin/login", auth.HandleLogin(cfg.Admin), limit)
	a.Handle(http.MethodPost, "/api/admin/logout", auth.HandleLogout(cfg.Admin), authen)
	a.Handle(http.MethodPost, "/api/admin/upload", admin.HandleUpload(cfg.Library, cfg.MaxUploadSize), authen)
	a.Handle(http.MethodGet, "/api/admin/books", admin.HandleBooks(cfg.Catalog), authen)
	a.Handle(http.MethodDelete, "/api/admin/books/{id}", admin.HandleDelete(cfg.Library), authen)
	a.Handle(http.MethodGet, "/api/admin/categories", admin.HandleCategories(cfg.Catalog), authen)
	a.Handle(http.MethodGet, "/api/admin/orders", order.HandleList(cfg.Orders), authen)

	a.Handle(http.MethodPost, "/api/admissions", admission.HandleSubmit(cfg.Admissions, cfg.MaxUploadSize))
	a.Handle(http.MethodGet, "/api/admissions", admission.HandleList(cfg.Admissions), authen)

	covers := http.StripPrefix("/assets/covers/", noListing(http.FileServer(http.Dir(filepath.Join(cfg.AssetsRoot, filepath.FromSlash(admin.CoversDir))))))
	a.Router.PathPrefix("/assets/covers/").Handler(covers).Methods(http.MethodGet, http.MethodHead)

	return a.Router
}

func (a *api) Handle(method string, path string, handler web.Handler, mw ...web.Middleware) {
	a.Router.Handle(path, a.wrap(handler, mw...)).Methods(method)
}

// wrap applies mw and then the global middleware to handler.
func (a *api) wrap(handler web.Handler, mw ...web.Middleware) http.Handler {

	handler = web.WrapMiddleware(mw, handler)

	handler = web.WrapMiddleware(a.mw, handler)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		ctx := r.Context()

		if err := handler(ctx, w, r); err != nil {

			a.log.WithFields(logrus.Fields{
				"req_id":  middleware.ContextRequestID(ctx),
				"message": err,
			}).Error("ERROR")
		}
	})
}

func handleHealth(check func(ctx context.Context) error) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		if check != nil {
			if err := check(ctx); err != nil {
				return weberr.NewError(err, "UNAVAILABLE", http.StatusServiceUnavailable)
			}
		}

		return web.OK(ctx, w, struct {
			Service string `json:"service"`
			Status  string `json:"status"`
		}{"notes-store", "ok"})
	}
}

// noListing hides directory indexes.
func noListing(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		h.ServeHTTP(w, r)
	})
}
