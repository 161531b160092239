package test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bordados/checkout/api"
	"github.com/bordados/checkout/config"
	"github.com/bordados/checkout/core/checkout"
	"github.com/bordados/checkout/core/order"
	"github.com/bordados/checkout/core/webpay"
	"github.com/bordados/checkout/rate"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

const frontendURL = "http://shop.test"

type TestEnv struct {
	*httptest.Server
	Webpay *mockWebpay
	Store  *order.MemStore
	Logs   *logtest.Hook
}

// NewTestEnv starts the API backed by an in-memory store and a mocked WebPay.
// The returned client does not follow redirects.
func NewTestEnv(t *testing.T, burst int) *TestEnv {
	t.Helper()

	log, hook := logtest.NewNullLogger()

	wp := newMockWebpay()
	wpSrv := httptest.NewServer(wp.handle())
	t.Cleanup(wpSrv.Close)

	gw, err := webpay.New(config.Webpay{Environment: config.WebpayIntegration}, webpay.WithBaseURL(wpSrv.URL))
	if err != nil {
		t.Fatalf("building webpay client: %v", err)
	}

	store := order.NewMemStore()

	env := &TestEnv{Webpay: wp, Store: store, Logs: hook}

	limiter := rate.NewLimiter(burst, time.Minute, 1)
	t.Cleanup(limiter.Close)

	env.Server = httptest.NewUnstartedServer(nil)
	backendURL := "http://" + env.Listener.Addr().String()

	svc := checkout.NewService(log, store, gw, checkout.Config{
		FrontendURL:    frontendURL,
		BackendURL:     backendURL,
		GatewayTimeout: 2 * time.Second,
	})

	env.Server.Config.Handler = api.APIMux(api.APIConfig{
		Log:             log,
		Store:           store,
		Checkout:        svc,
		CheckoutLimiter: limiter,
	})

	env.Start()
	t.Cleanup(env.Close)

	env.Server.Client().CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return env
}
