package checkout

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bordados/checkout/core/order"
	"github.com/bordados/checkout/validate"
	"github.com/shopspring/decimal"
)

var ErrValidation = errors.New("invalid checkout request")

type ItemRequest struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity" validate:"gte=1"`
	UnitPrice int64  `json:"unitPrice" validate:"gte=0"`
}

type CustomerRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email" validate:"omitempty,email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	City    string `json:"city"`
}

func (c CustomerRequest) customer() order.Customer {
	return order.Customer{
		Name:    c.Name,
		Email:   c.Email,
		Phone:   c.Phone,
		Address: c.Address,
		City:    c.City,
	}
}

type OrderData struct {
	CartItems    []ItemRequest   `json:"cartItems" validate:"dive"`
	CustomerInfo CustomerRequest `json:"customerInfo"`
}

// UnmarshalJSON ignores keys it does not know, such as the image or sku a
// storefront keeps on its cart lines.
func (o *OrderData) UnmarshalJSON(b []byte) error {
	type plain OrderData
	return json.Unmarshal(b, (*plain)(o))
}

// Request is the body of POST /checkout. Amount is in whole pesos.
type Request struct {
	Amount    decimal.Decimal `json:"amount"`
	SessionID string          `json:"sessionId" validate:"required,max=61"`
	OrderData OrderData       `json:"orderData"`
}

// validate returns the amount as an integer. Fractional amounts are rejected,
// never rounded.
func (r Request) validate() (int64, error) {
	if r.Amount.Sign() <= 0 {
		return 0, fmt.Errorf("%w: amount must be a positive integer", ErrValidation)
	}
	if !r.Amount.IsInteger() {
		return 0, fmt.Errorf("%w: amount must be a whole number of pesos", ErrValidation)
	}
	if !r.Amount.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: amount is too large", ErrValidation)
	}

	if err := validate.Check(r); err != nil {
		return 0, fmt.Errorf("%w: %s", ErrValidation, err)
	}

	return r.Amount.IntPart(), nil
}

// Result is what the caller needs to send the buyer to the provider.
type Result struct {
	Token       string `json:"token"`
	RedirectURL string `json:"redirectUrl"`
	BuyOrder    string `json:"buyOrder"`
	Amount      int64  `json:"amount"`
}
