package webpay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bordados/checkout/config"
	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/mux"
)

type mockWebpay struct {
	t        *testing.T
	commit   map[string]interface{}
	delay    time.Duration
	rejected bool
}

func (m *mockWebpay) handle() http.Handler {
	create := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Tbk-Api-Key-Id") != IntegrationCommerceCode || r.Header.Get("Tbk-Api-Key-Secret") != IntegrationAPIKey {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		var req createRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		exp := createRequest{BuyOrder: "O-1", SessionID: "s1", Amount: 15000, ReturnURL: "http://api/checkout/callback"}
		if diff := cmp.Diff(exp, req); diff != "" {
			m.t.Errorf("unexpected create request (-want +got):\n%s", diff)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"token": "tok-1",
			"url":   "https://webpay3gint.transbank.cl/webpayserver/initTransaction",
		})
	})

	commit := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.delay > 0 {
			time.Sleep(m.delay)
		}
		if m.rejected {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_ = json.NewEncoder(w).Encode(map[string]string{"error_message": "Transaction already locked by another process"})
			return
		}
		if mux.Vars(r)["token"] != "tok-1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(m.commit)
	})

	r := mux.NewRouter()
	r.Handle(transactionsPath, create).Methods(http.MethodPost)
	r.Handle(transactionsPath+"/{token}", commit).Methods(http.MethodPut)
	return r
}

func newTestClient(t *testing.T, m *mockWebpay) *Client {
	m.t = t
	srv := httptest.NewServer(m.handle())
	t.Cleanup(srv.Close)

	c, err := New(config.Webpay{Environment: config.WebpayIntegration}, WithBaseURL(srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func authorizedCommit() map[string]interface{} {
	return map[string]interface{}{
		"vci":                 "TSY",
		"amount":              15000,
		"status":              "AUTHORIZED",
		"buy_order":           "O-1",
		"session_id":          "s1",
		"card_detail":         map[string]string{"card_number": "6623"},
		"accounting_date":     "1016",
		"transaction_date":    "2026-10-16T15:04:05.000Z",
		"authorization_code":  "1213",
		"payment_type_code":   "VN",
		"response_code":       0,
		"installments_number": 0,
	}
}

func TestCreateTransaction(t *testing.T) {
	c := newTestClient(t, &mockWebpay{})

	tx, err := c.CreateTransaction(context.Background(), "O-1", "s1", 15000, "http://api/checkout/callback")
	if err != nil {
		t.Fatalf("creating transaction: %v", err)
	}

	exp := Transaction{Token: "tok-1", URL: "https://webpay3gint.transbank.cl/webpayserver/initTransaction"}
	if diff := cmp.Diff(exp, tx); diff != "" {
		t.Fatalf("unexpected transaction (-want +got):\n%s", diff)
	}
}

func TestCreateTransactionRejectsLongBuyOrder(t *testing.T) {
	c := newTestClient(t, &mockWebpay{})

	if _, err := c.CreateTransaction(context.Background(), "O-123456789012345678901234567", "s1", 1, "http://x"); err == nil {
		t.Fatal("expected an error for a buy order over 26 characters")
	}
}

func TestCommitTransaction(t *testing.T) {
	c := newTestClient(t, &mockWebpay{commit: authorizedCommit()})

	cm, err := c.CommitTransaction(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("committing transaction: %v", err)
	}

	if !cm.Authorized() {
		t.Fatalf("expected an authorized commit, got status %q", cm.Status)
	}
	if cm.AuthorizationCode != "1213" || cm.PaymentTypeCode != "VN" || cm.BuyOrder != "O-1" {
		t.Fatalf("unexpected commit %+v", cm)
	}
	if cm.Amount.IntPart() != 15000 {
		t.Fatalf("expected amount 15000, got %s", cm.Amount)
	}
	if cm.CardLast4() != "6623" {
		t.Fatalf("expected card 6623, got %s", cm.CardLast4())
	}
	if len(cm.Raw) == 0 {
		t.Fatal("expected the raw payload to be kept")
	}
}

func TestCommitTransactionRejected(t *testing.T) {
	c := newTestClient(t, &mockWebpay{rejected: true})

	_, err := c.CommitTransaction(context.Background(), "tok-1")
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}

	var re *RejectedError
	if !errors.As(err, &re) || re.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected a 422 rejection, got %v", err)
	}
	if errors.Is(err, ErrUnavailable) {
		t.Fatal("a rejection must not look like an outage")
	}
}

func TestCommitTransactionTimeout(t *testing.T) {
	c := newTestClient(t, &mockWebpay{commit: authorizedCommit(), delay: 200 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := c.CommitTransaction(ctx, "tok-1"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestCommitTransactionUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c, err := New(config.Webpay{Environment: config.WebpayIntegration}, WithBaseURL(srv.URL))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := c.CommitTransaction(context.Background(), "tok-1"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestAuthorized(t *testing.T) {
	zero, failed := 0, -1
	tests := []struct {
		name string
		cm   Commit
		exp  bool
	}{
		{"authorized status", Commit{Status: StatusAuthorized, ResponseCode: &zero}, true},
		{"response code zero", Commit{ResponseCode: &zero}, true},
		{"failed status", Commit{Status: StatusFailed, ResponseCode: &failed}, false},
		{"failed with zero code", Commit{Status: StatusFailed, ResponseCode: &zero}, false},
		{"no response code", Commit{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cm.Authorized(); got != tt.exp {
				t.Fatalf("expected %v, got %v", tt.exp, got)
			}
		})
	}
}

func TestNewEnvironments(t *testing.T) {
	c, err := New(config.Webpay{Environment: config.WebpayProduction, CommerceCode: "597000000001", APIKey: "k"})
	if err != nil {
		t.Fatal(err)
	}
	if c.baseURL != ProductionURL || c.commerceCode != "597000000001" {
		t.Fatalf("unexpected production client %+v", c)
	}

	if _, err := New(config.Webpay{Environment: config.WebpayProduction}); err == nil {
		t.Fatal("production without credentials must fail")
	}
}
