package order

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("order not found")
	ErrDuplicate = errors.New("order already exists")
)

type Status string

const (
	Created    Status = "created"
	Authorized Status = "authorized"
	Rejected   Status = "rejected"
	Aborted    Status = "aborted"
	Error      Status = "error"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case Authorized, Rejected, Aborted, Error:
		return true
	}
	return false
}

type Item struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
}

type Customer struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	City    string `json:"city"`
}

type Order struct {
	BuyOrder           string          `json:"buyOrder"`
	SessionID          string          `json:"sessionId"`
	Amount             int64           `json:"amount"`
	Status             Status          `json:"status"`
	// GatewayToken is the commit credential and is never served.
	GatewayToken       *string         `json:"-"`
	AuthorizationCode  *string         `json:"authorizationCode"`
	ResponseCode       *int            `json:"responseCode"`
	PaymentTypeCode    *string         `json:"paymentTypeCode"`
	CardLast4          *string         `json:"cardLast4"`
	InstallmentsNumber *int            `json:"installmentsNumber"`
	ResultPayload      json.RawMessage `json:"resultPayload,omitempty"`
	Items              []Item          `json:"items"`
	Customer           Customer        `json:"customerInfo"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

// Patch is the closed set of fields a status transition may write.
// Nil fields are stored as NULL.
type Patch struct {
	Status             Status
	AuthorizationCode  *string
	ResponseCode       *int
	PaymentTypeCode    *string
	CardLast4          *string
	InstallmentsNumber *int
	ResultPayload      json.RawMessage
	UpdatedAt          time.Time
}

func (p Patch) apply(o *Order) {
	o.Status = p.Status
	o.AuthorizationCode = p.AuthorizationCode
	o.ResponseCode = p.ResponseCode
	o.PaymentTypeCode = p.PaymentTypeCode
	o.CardLast4 = p.CardLast4
	o.InstallmentsNumber = p.InstallmentsNumber
	o.ResultPayload = p.ResultPayload
	o.UpdatedAt = p.UpdatedAt
}

func (p Patch) validate() error {
	if !p.Status.Terminal() {
		return errors.New("status patch must carry a terminal status")
	}
	return nil
}
