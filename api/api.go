package api

import (
	"context"
	"net/http"

	"github.com/bordados/checkout/api/middleware"
	"github.com/bordados/checkout/api/web"
	"github.com/bordados/checkout/api/weberr"
	"github.com/bordados/checkout/core/checkout"
	"github.com/bordados/checkout/core/order"
	"github.com/bordados/checkout/rate"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type APIConfig struct {
	CorsOrigin      string
	Log             logrus.FieldLogger
	Store           order.Store
	Checkout        *checkout.Service
	CheckoutLimiter *rate.Limiter
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

	if cfg.CorsOrigin != "" {
		a.mw = append(a.mw, middleware.Cors(cfg.CorsOrigin))

		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			w.WriteHeader(http.StatusNoContent)
			return nil
		}

		a.Handle(http.MethodOptions, "/{path:.*}", h)
	}

	var limit web.Middleware
	if cfg.CheckoutLimiter != nil {
		limit = middleware.RateLimit(cfg.CheckoutLimiter)
	}

	a.Handle(http.MethodGet, "/health", handleHealth(cfg.Store))

	a.Handle(http.MethodPost, "/checkout", checkout.HandleCreate(cfg.Checkout), limit)
	a.Handle(http.MethodGet, checkout.CallbackPath, checkout.HandleCallback(cfg.Checkout))
	a.Handle(http.MethodPost, checkout.CallbackPath, checkout.HandleCallback(cfg.Checkout))

	a.Handle(http.MethodGet, "/orders/{buy_order}", order.HandleShow(cfg.Store))

	return a.Router
}

func (a *api) Handle(method string, path string, handler web.Handler, mw ...web.Middleware) {

	handler = web.WrapMiddleware(mw, handler)

	handler = web.WrapMiddleware(a.mw, handler)

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		ctx := r.Context()

		if err := handler(ctx, w, r); err != nil {

			a.log.WithFields(logrus.Fields{
				"req_id":  middleware.ContextRequestID(ctx),
				"message": err,
			}).Error("ERROR")
		}
	})

	a.Router.Handle(path, h).Methods(method)
}

func handleHealth(store order.Store) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		if err := store.StatusCheck(ctx); err != nil {
			return weberr.NewError(err, "store unavailable", http.StatusServiceUnavailable)
		}
		return web.RespondData(ctx, w, map[string]string{"status": "ok"}, http.StatusOK)
	}
}
