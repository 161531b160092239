package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/bordados/checkout/api/web"
	"github.com/bordados/checkout/api/weberr"
	"github.com/bordados/checkout/rate"
)

// RateLimit rejects clients, keyed by remote IP, that exceed the limiter budget.
func RateLimit(lim *rate.Limiter) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			if !lim.Check(clientIP(r)) {
				return weberr.TooManyRequests(errors.New("checkout rate limit exceeded"),
					weberr.WithFields(map[string]interface{}{"client": clientIP(r)}))
			}
			return handler(ctx, w, r)
		}
		return h
	}
	return m
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
