package config

import (
	"errors"
	"time"

	"github.com/ardanlabs/conf/v3"
)

type Config struct {
	conf.Version
	Web    Web
	Cors   Cors
	DB     DB
	Webpay Webpay
	Rate   Rate
	Events Events
}

type Web struct {
	Address         string        `conf:"default:0.0.0.0:8000"`
	ReadTimeout     time.Duration `conf:"default:5s"`
	WriteTimeout    time.Duration `conf:"default:10s"`
	IdleTimeout     time.Duration `conf:"default:120s"`
	ShutdownTimeout time.Duration `conf:"default:20s"`
	FrontendURL     string        `conf:"default:http://localhost:3000"`
	BackendURL      string        `conf:"default:http://localhost:8000"`
}

type Cors struct {
	Origin string
}

type DB struct {
	User         string `conf:"default:postgres"`
	Password     string `conf:"default:postgres,mask"`
	Host         string `conf:"default:localhost:5432"`
	Name         string `conf:"default:checkout"`
	MaxIdleConns int    `conf:"default:2"`
	MaxOpenConns int    `conf:"default:10"`
	DisableTLS   bool   `conf:"default:true"`
	InMemory     bool   `conf:"default:false"`
}

const (
	WebpayIntegration = "integration"
	WebpayProduction  = "production"
)

type Webpay struct {
	Environment  string        `conf:"default:integration"`
	CommerceCode string
	APIKey       string        `conf:"mask"`
	Timeout      time.Duration `conf:"default:5s"`
}

// Validate rejects unknown environments and a production setup without credentials.
func (w Webpay) Validate() error {
	switch w.Environment {
	case WebpayIntegration:
		return nil
	case WebpayProduction:
		if w.CommerceCode == "" || w.APIKey == "" {
			return errors.New("webpay production requires a commerce code and an api key")
		}
		return nil
	default:
		return errors.New("webpay environment must be 'integration' or 'production'")
	}
}

type Rate struct {
	CheckoutRPS float64       `conf:"default:1"`
	Burst       int           `conf:"default:5"`
	Expiry      time.Duration `conf:"default:10m"`
}

type Events struct {
	RabbitURL string `conf:"mask"`
	Exchange  string `conf:"default:payments"`
}
