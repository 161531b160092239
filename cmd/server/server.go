package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ardanlabs/conf/v3"
	"github.com/bordados/checkout/api"
	"github.com/bordados/checkout/config"
	"github.com/bordados/checkout/core/checkout"
	"github.com/bordados/checkout/core/events"
	"github.com/bordados/checkout/core/order"
	"github.com/bordados/checkout/core/product"
	"github.com/bordados/checkout/core/webpay"
	"github.com/bordados/checkout/database"
	"github.com/bordados/checkout/rate"
	"github.com/sirupsen/logrus"
)

var build = "develop"

func main() {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.JSONFormatter{})

	if err := Run(log); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func Run(logger *logrus.Logger) error {
	const prefix = "CHECKOUT"
	cfg := config.Config{
		Version: conf.Version{
			Build: build,
			Desc:  "webpay checkout service",
		},
	}

	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	logger.WithField("build", build).Info("starting server")
	defer logger.Info("shutdown complete")

	if out, err := conf.String(&cfg); err == nil {
		logger.Infof("config:\n%s", out)
	}

	lw := logger.Writer()
	defer lw.Close()
	errLog := log.New(lw, "", 0)

	var (
		store order.Store
		opts  []checkout.Option
	)
	if cfg.DB.InMemory {
		logger.Warn("using the in-memory order store, orders will not survive a restart")
		store = order.NewMemStore()
	} else {
		db, err := database.Open(cfg.DB)
		if err != nil {
			return fmt.Errorf("failed to open db connection: %w", err)
		}
		defer db.Close()

		if err := database.Migrate(db); err != nil {
			return fmt.Errorf("migrating database: %w", err)
		}

		store = order.NewDBStore(db)
		opts = append(opts, checkout.WithCatalog(product.NewCatalog(db)))
	}

	if cfg.Events.RabbitURL != "" {
		pub, err := events.DialAMQP(cfg.Events.RabbitURL, cfg.Events.Exchange)
		if err != nil {
			return fmt.Errorf("connecting to the event broker: %w", err)
		}
		defer pub.Close()
		opts = append(opts, checkout.WithPublisher(pub))
	}

	wp, err := webpay.New(cfg.Webpay)
	if err != nil {
		return fmt.Errorf("failed to build the webpay client: %w", err)
	}
	logger.WithField("environment", cfg.Webpay.Environment).Info("webpay client ready")

	svc := checkout.NewService(logger, store, wp, checkout.Config{
		FrontendURL:    cfg.Web.FrontendURL,
		BackendURL:     cfg.Web.BackendURL,
		GatewayTimeout: cfg.Webpay.Timeout,
	}, opts...)

	limiter := rate.NewLimiter(cfg.Rate.Burst, cfg.Rate.Expiry, cfg.Rate.CheckoutRPS)
	defer limiter.Close()

	mux := api.APIMux(api.APIConfig{
		CorsOrigin:      cfg.Cors.Origin,
		Log:             logger,
		Store:           store,
		Checkout:        svc,
		CheckoutLimiter: limiter,
	})

	srv := http.Server{
		Handler:      mux,
		Addr:         cfg.Web.Address,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     errLog,
	}

	serverErrors := make(chan error, 1)

	go func() {
		logger.Infof("starting api router at %s", srv.Addr)
		serverErrors <- srv.ListenAndServe()
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

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
	}
	return nil
}
