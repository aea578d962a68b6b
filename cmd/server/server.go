package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/coachingcentre/notes-store/api"
	"github.com/coachingcentre/notes-store/api/background"
	"github.com/coachingcentre/notes-store/config"
	"github.com/coachingcentre/notes-store/core/admin"
	"github.com/coachingcentre/notes-store/core/admission"
	"github.com/coachingcentre/notes-store/core/auth"
	"github.com/coachingcentre/notes-store/core/catalog"
	"github.com/coachingcentre/notes-store/core/download"
	"github.com/coachingcentre/notes-store/core/notify"
	"github.com/coachingcentre/notes-store/core/order"
	"github.com/coachingcentre/notes-store/core/payment"
	"github.com/coachingcentre/notes-store/database"
	"github.com/coachingcentre/notes-store/email"
	"github.com/coachingcentre/notes-store/rate"
	"github.com/coachingcentre/notes-store/storage"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	stripecl "github.com/stripe/stripe-go/v74/client"
)

func main() {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	if err := Run(log); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func Run(logger *logrus.Logger) error {
	logger.Infof("starting server")
	defer logger.Info("shutdown complete")

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	const prefix = "STORE"
	var cfg config.Config
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	lw := logger.Writer()
	defer lw.Close()
	errLog := log.New(lw, "", 0)

	blobs, err := storage.NewLocal(cfg.Assets.Root)
	if err != nil {
		return fmt.Errorf("opening asset storage: %w", err)
	}

	books, err := catalog.Open(filepath.Join(cfg.Store.DataDir, "customBooks.json"), catalog.Static())
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}

	var (
		store  order.Store
		health func(ctx context.Context) error
	)
	switch cfg.Store.Driver {
	case "file":
		store, err = order.OpenFileStore(filepath.Join(cfg.Store.DataDir, "orders.json"))
		if err != nil {
			return fmt.Errorf("loading orders: %w", err)
		}

	case "postgres":
		db, err := database.Open(cfg.DB)
		if err != nil {
			return fmt.Errorf("failed to open db connection: %w", err)
		}
		defer db.Close()

		if err := database.Migrate(db); err != nil {
			return fmt.Errorf("migrating database: %w", err)
		}

		store = order.NewPGStore(db)
		health = func(ctx context.Context) error { return database.StatusCheck(ctx, db) }

	default:
		return fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	gateways, err := buildGateways(cfg)
	if err != nil {
		return err
	}
	logger.WithField("providers", gateways.Names()).Info("payment gateways ready")

	bg := background.New(logger)

	mailer := email.NewSMTP(cfg.Email)
	templates := email.NewTemplates(email.Links{APIBaseURL: cfg.API.BaseURL, MerchantUPI: cfg.Merchant.UPI})
	deliverer := notify.NewDeliverer(templates, mailer, cfg.Notify.MaxRetries, cfg.Notify.MaxElapsed, logger)

	var notifier order.Notifier = notify.Discard{}
	switch {
	case cfg.Notify.Mode == "none":
	case !mailer.Configured() && cfg.Notify.Mode != "kafka":
		logger.Warn("email not configured, customer notifications disabled")
	case cfg.Notify.Mode == "kafka":
		pub := notify.NewPublisher(cfg.Kafka, logger)
		defer pub.Close()
		notifier = pub
	default:
		notifier = notify.NewQueue(bg, deliverer, logger)
	}

	var sessions auth.SessionStore
	switch cfg.Admin.SessionStore {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		sessions = auth.NewRedisSessions(rdb)

	default:
		mem := auth.NewMemorySessions(time.Minute)
		defer mem.StopCleanup()
		sessions = mem
	}

	if cfg.Admin.Password == "changeme" {
		logger.Warn("admin password left at its default value")
	}
	adm, err := auth.NewAdmin(cfg.Admin.Password, sessions, cfg.Admin.TokenTTL)
	if err != nil {
		return fmt.Errorf("configuring admin access: %w", err)
	}

	loginLimiter := rate.NewLimiter(cfg.Admin.LoginBurst, 15*time.Minute, rate.Every(cfg.Admin.LoginEvery))
	defer loginLimiter.Stop()

	merchant := payment.Merchant{
		VPA:      cfg.Merchant.UPI,
		Name:     cfg.Merchant.Name,
		Currency: cfg.Merchant.Currency,
		Note:     cfg.Merchant.PaymentNote,
	}

	if cfg.Payment.AllowUnverifiedDownload {
		logger.Warn("downloads are permitted when a gateway cannot verify the payment")
	}

	orders := order.NewService(order.Config{
		Store:                   store,
		Notifier:                notifier,
		Gateways:                gateways,
		Merchant:                merchant,
		Log:                     logger,
		DefaultProvider:         cfg.Payment.DefaultProvider,
		AllowUnverifiedDownload: cfg.Payment.AllowUnverifiedDownload,
	})

	mux := api.APIMux(api.APIConfig{
		CorsOrigins:         cfg.Cors.Origins,
		Log:                 logger,
		Orders:              orders,
		Catalog:             books,
		Gate:                download.NewGate(books, blobs),
		Library:             admin.NewLibrary(books, blobs, logger),
		Admissions:          admission.NewRegistry(blobs, logger),
		Admin:               adm,
		LoginLimiter:        loginLimiter,
		Merchant:            merchant,
		StripeWebhookSecret: cfg.Stripe.WebhookSecret,
		AssetsRoot:          blobs.Root(),
		MaxUploadSize:       cfg.Web.MaxUploadSize,
		Health:              health,
	})

	api := http.Server{
		Handler:      mux,
		Addr:         cfg.Web.Address,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     errLog,
	}

	serverErrors := make(chan error, 1)

	go func() {
		logger.Infof("starting api router at %s", api.Addr)
		serverErrors <- api.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Infof("shutting down: signal %s", sig)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := api.Shutdown(ctx); err != nil {
			api.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}

		if err := bg.Shutdown(ctx); err != nil {
			return fmt.Errorf("could not complete all background tasks: %w", err)
		}
	}
	return nil
}

// buildGateways registers PhonePe always, it reports itself unconfigured
// when credentials are missing, and PayPal and Stripe when their secrets
// are set.
func buildGateways(cfg config.Config) (payment.Registry, error) {
	gws := []payment.Gateway{payment.NewPhonePe(cfg.PhonePe, cfg.Client.BaseURL)}

	if cfg.Paypal.ClientID != "" {
		pp, err := payment.NewPaypalClient(cfg.Paypal)
		if err != nil {
			return nil, fmt.Errorf("failed to build the paypal client: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Paypal.Timeout)
		defer cancel()
		if _, err = pp.GetAccessToken(ctx); err != nil {
			return nil, fmt.Errorf("failed to get the first paypal access token: %w", err)
		}

		gws = append(gws, payment.NewPaypal(pp, cfg.Merchant.Currency, cfg.Client.BaseURL))
	}

	if cfg.Stripe.APISecret != "" {
		strp := &stripecl.API{}
		strp.Init(cfg.Stripe.APISecret, nil)

		gws = append(gws, payment.NewStripe(strp, cfg.Merchant.Currency, cfg.Client.BaseURL, cfg.Stripe.SuccessURL, cfg.Stripe.CancelURL))
	}

	return payment.NewRegistry(gws...), nil
}
