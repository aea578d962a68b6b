// Command notifier delivers the customer emails queued on Kafka by the
// server running with STORE_NOTIFY_MODE=kafka.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/ardanlabs/conf/v3"
	"github.com/coachingcentre/notes-store/config"
	"github.com/coachingcentre/notes-store/core/notify"
	"github.com/coachingcentre/notes-store/email"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	if err := run(log); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func run(logger *logrus.Logger) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	var cfg config.Config
	help, err := conf.Parse("STORE", &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	mailer := email.NewSMTP(cfg.Email)
	if !mailer.Configured() {
		return errors.New("email credentials are required to deliver notifications")
	}

	templates := email.NewTemplates(email.Links{APIBaseURL: cfg.API.BaseURL, MerchantUPI: cfg.Merchant.UPI})
	deliverer := notify.NewDeliverer(templates, mailer, cfg.Notify.MaxRetries, cfg.Notify.MaxElapsed, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.WithFields(logrus.Fields{
		"brokers": cfg.Kafka.Brokers,
		"topic":   cfg.Kafka.Topic,
		"group":   cfg.Kafka.GroupID,
	}).Info("consuming notifications")

	if err := notify.NewConsumer(cfg.Kafka, deliverer, logger).Run(ctx); err != nil {
		return fmt.Errorf("consuming notifications: %w", err)
	}

	logger.Info("notifier stopped")
	return nil
}
