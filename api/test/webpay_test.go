package test

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/bordados/checkout/api/web"
	"github.com/bordados/checkout/core/webpay"
	"github.com/gorilla/mux"
)

const transactionsPath = "/rswebpaytransaction/api/webpay/v1.2/transactions"

// mockWebpay mimics the WebPay Plus transactions API. Every opened
// transaction commits with the outcome stored in commits, or is authorized
// when none was set.
type mockWebpay struct {
	mu      sync.Mutex
	opened  map[string]int64
	commits map[string]map[string]any
	creates int
	commitN int
}

func newMockWebpay() *mockWebpay {
	return &mockWebpay{
		opened:  make(map[string]int64),
		commits: make(map[string]map[string]any),
	}
}

func (m *mockWebpay) reject(token string, responseCode int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits[token] = map[string]any{"status": webpay.StatusFailed, "response_code": responseCode}
}

func (m *mockWebpay) calls() (creates, commits int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creates, m.commitN
}

func (m *mockWebpay) handle() http.Handler {
	authorized := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Tbk-Api-Key-Id") == "" || r.Header.Get("Tbk-Api-Key-Secret") == "" {
				web.Respond(context.Background(), w, map[string]string{"error_message": "Not Authorized"}, 401)
				return
			}
			next.ServeHTTP(w, r)
		})
	}

	create := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			BuyOrder  string `json:"buy_order"`
			SessionID string `json:"session_id"`
			Amount    int64  `json:"amount"`
			ReturnURL string `json:"return_url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			web.Respond(context.Background(), w, map[string]string{"error_message": "bad json"}, 400)
			return
		}
		if req.Amount <= 0 || !strings.HasSuffix(req.ReturnURL, "/checkout/callback") {
			web.Respond(context.Background(), w, map[string]string{"error_message": "invalid transaction"}, 422)
			return
		}

		token := "01ab" + req.BuyOrder

		m.mu.Lock()
		m.creates++
		m.opened[token] = req.Amount
		m.mu.Unlock()

		tx := webpay.Transaction{Token: token, URL: "https://webpay3gint.transbank.cl/webpayserver/initTransaction"}
		web.Respond(context.Background(), w, tx, 200)
	})

	commit := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := mux.Vars(r)["token"]

		m.mu.Lock()
		m.commitN++
		amount, ok := m.opened[token]
		outcome := m.commits[token]
		m.mu.Unlock()

		if !ok {
			web.Respond(context.Background(), w, map[string]string{"error_message": "Transaction not found"}, 422)
			return
		}

		resp := map[string]any{
			"vci":                 "TSY",
			"amount":              amount,
			"status":              webpay.StatusAuthorized,
			"buy_order":           strings.TrimPrefix(token, "01ab"),
			"session_id":          "s1",
			"card_detail":         map[string]string{"card_number": "6623"},
			"accounting_date":     "0522",
			"transaction_date":    "2019-05-22T16:41:21.063Z",
			"authorization_code":  "1213",
			"payment_type_code":   "VN",
			"response_code":       0,
			"installments_number": 0,
		}
		for k, v := range outcome {
			resp[k] = v
		}
		web.Respond(context.Background(), w, resp, 200)
	})

	r := mux.NewRouter()
	r.Handle(transactionsPath, authorized(create)).Methods(http.MethodPost)
	r.Handle(transactionsPath+"/{token}", authorized(commit)).Methods(http.MethodPut)
	return r
}
