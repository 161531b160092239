package webpay

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Commit statuses reported by the provider.
const (
	StatusAuthorized = "AUTHORIZED"
	StatusFailed     = "FAILED"
)

type createRequest struct {
	BuyOrder  string `json:"buy_order"`
	SessionID string `json:"session_id"`
	Amount    int64  `json:"amount"`
	ReturnURL string `json:"return_url"`
}

type Transaction struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

type CardDetail struct {
	CardNumber string `json:"card_number"`
}

type Commit struct {
	VCI                string          `json:"vci"`
	Amount             decimal.Decimal `json:"amount"`
	Status             string          `json:"status"`
	BuyOrder           string          `json:"buy_order"`
	SessionID          string          `json:"session_id"`
	CardDetail         CardDetail      `json:"card_detail"`
	AccountingDate     string          `json:"accounting_date"`
	TransactionDate    string          `json:"transaction_date"`
	AuthorizationCode  string          `json:"authorization_code"`
	PaymentTypeCode    string          `json:"payment_type_code"`
	ResponseCode       *int            `json:"response_code"`
	InstallmentsAmount decimal.Decimal `json:"installments_amount"`
	InstallmentsNumber int             `json:"installments_number"`

	// Raw is the provider's answer as received.
	Raw json.RawMessage `json:"-"`
}

// Authorized reports whether the provider approved the payment: either the
// status says so or a response code of 0 came without an explicit failure.
func (c Commit) Authorized() bool {
	if c.Status == StatusAuthorized {
		return true
	}
	return c.Status != StatusFailed && c.ResponseCode != nil && *c.ResponseCode == 0
}

func (c Commit) CardLast4() string {
	n := c.CardDetail.CardNumber
	if len(n) > 4 {
		return n[len(n)-4:]
	}
	return n
}

type providerError struct {
	Message string `json:"error_message"`
}
