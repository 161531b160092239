package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"

	"github.com/bordados/checkout/api/web"
	"github.com/bordados/checkout/api/weberr"
)

func HandleCreate(svc *Service) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var req Request
		if err := web.Decode(w, r, &req); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode checkout request: %w", err))
		}

		res, err := svc.Create(ctx, req)
		switch {
		case errors.Is(err, ErrValidation):
			return weberr.BadRequest(err)
		case err != nil:
			return weberr.NewError(err, "the payment provider could not open the transaction", http.StatusBadGateway)
		}

		return web.RespondData(ctx, w, res, http.StatusOK)
	}
}

// HandleCallback is where the provider sends the buyer's browser back. It
// always answers with a redirect to the frontend result page.
func HandleCallback(svc *Service) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		out := svc.Settle(ctx, ParseCallback(callbackValues(w, r)))
		return web.Redirect(ctx, w, r, svc.ResultURL(out))
	}
}

// callbackValues merges the query string with a form or JSON body.
func callbackValues(w http.ResponseWriter, r *http.Request) url.Values {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct != "application/json" {
		if err := r.ParseForm(); err != nil {
			return r.URL.Query()
		}
		return r.Form
	}

	v := r.URL.Query()
	var body map[string]interface{}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
		return v
	}
	for k, val := range body {
		if s, ok := val.(string); ok && v.Get(k) == "" {
			v.Set(k, s)
		}
	}
	return v
}
