// Package config holds the environment driven settings of the services.
package config

import "time"

type Config struct {
	Web      Web
	Cors     Cors
	Admin    Admin
	Store    Store
	DB       DB
	Assets   Assets
	Merchant Merchant
	Client   Client
	API      API
	Payment  Payment
	PhonePe  PhonePe
	Paypal   Paypal
	Stripe   Stripe
	Email    Email
	Notify   Notify
	Kafka    Kafka
	Redis    Redis
}

type Web struct {
	Address         string        `conf:"default:0.0.0.0:8080"`
	ReadTimeout     time.Duration `conf:"default:10s"`
	WriteTimeout    time.Duration `conf:"default:120s"`
	IdleTimeout     time.Duration `conf:"default:120s"`
	ShutdownTimeout time.Duration `conf:"default:20s"`
	MaxUploadSize   int64         `conf:"default:67108864"`
}

type Cors struct {
	Origins []string `conf:"default:http://localhost:5173"`
}

type Admin struct {
	Password     string        `conf:"default:changeme,mask"`
	TokenTTL     time.Duration `conf:"default:12h"`
	SessionStore string        `conf:"default:memory,help:memory or redis"`
	LoginBurst   int           `conf:"default:5"`
	LoginEvery   time.Duration `conf:"default:12s"`
}

type Store struct {
	Driver  string `conf:"default:file,help:file or postgres"`
	DataDir string `conf:"default:data"`
}

type DB struct {
	User         string `conf:"default:postgres"`
	Password     string `conf:"default:postgres,mask"`
	Host         string `conf:"default:localhost:5432"`
	Name         string `conf:"default:notes"`
	MaxIdleConns int    `conf:"default:2"`
	MaxOpenConns int    `conf:"default:10"`
	DisableTLS   bool   `conf:"default:true"`
}

type Assets struct {
	Root string `conf:"default:."`
}

type Merchant struct {
	UPI         string `conf:"default:test@upi"`
	Name        string `conf:"default:Coaching Centre"`
	Currency    string `conf:"default:INR"`
	PaymentNote string
}

type Client struct {
	BaseURL string `conf:"default:http://localhost:5173"`
}

type API struct {
	BaseURL string `conf:"default:http://localhost:8080"`
}

type Payment struct {
	DefaultProvider         string `conf:"help:gateway opened on order creation: phonepe, paypal, stripe or empty"`
	AllowUnverifiedDownload bool   `conf:"default:false"`
}

type PhonePe struct {
	ClientID      string
	ClientSecret  string `conf:"mask"`
	ClientVersion int    `conf:"default:1"`
	Env           string `conf:"default:sandbox,help:sandbox or production"`
	AuthURL       string
	BaseURL       string
	Timeout       time.Duration `conf:"default:15s"`
}

type Paypal struct {
	ClientID string
	Secret   string        `conf:"mask"`
	URL      string        `conf:"default:https://api-m.sandbox.paypal.com"`
	Timeout  time.Duration `conf:"default:15s"`
}

type Stripe struct {
	APISecret     string `conf:"mask"`
	WebhookSecret string `conf:"mask"`
	SuccessURL    string
	CancelURL     string
}

type Email struct {
	Address  string
	Password string `conf:"mask"`
	Host     string `conf:"default:smtp.gmail.com"`
	Port     int    `conf:"default:587"`
}

type Notify struct {
	Mode       string        `conf:"default:background,help:background, kafka or none"`
	MaxRetries uint64        `conf:"default:5"`
	MaxElapsed time.Duration `conf:"default:2m"`
}

type Kafka struct {
	Brokers []string `conf:"default:localhost:9092"`
	Topic   string   `conf:"default:store.notifications"`
	GroupID string   `conf:"default:store-notifier"`
	Workers int      `conf:"default:2"`

	MaxRequeues int `conf:"default:5,help:times an undelivered notification is published again"`
}

type Redis struct {
	Addr     string `conf:"default:localhost:6379"`
	Password string `conf:"mask"`
	DB       int    `conf:"default:0"`
}
