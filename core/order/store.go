package order

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bordados/checkout/database"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
)

// Store persists orders keyed by buy order.
type Store interface {
	Insert(ctx context.Context, ord Order) error
	FetchByBuyOrder(ctx context.Context, buyOrder string) (Order, error)
	FetchByToken(ctx context.Context, token string) (Order, error)

	// UpdateStatus moves an order still in Created to a terminal status.
	// It returns the stored order and whether this call applied the patch.
	// An order already in a terminal status is returned untouched.
	UpdateStatus(ctx context.Context, buyOrder string, p Patch) (Order, bool, error)

	StatusCheck(ctx context.Context) error
}

type row struct {
	BuyOrder           string             `db:"buy_order"`
	SessionID          string             `db:"session_id"`
	Amount             int64              `db:"amount"`
	Status             Status             `db:"status"`
	GatewayToken       *string            `db:"gateway_token"`
	AuthorizationCode  *string            `db:"authorization_code"`
	ResponseCode       *int               `db:"response_code"`
	PaymentTypeCode    *string            `db:"payment_type_code"`
	CardLast4          *string            `db:"card_last4"`
	InstallmentsNumber *int               `db:"installments_number"`
	ResultPayload      types.NullJSONText `db:"result_payload"`
	Items              types.JSONText     `db:"items"`
	CustomerInfo       types.JSONText     `db:"customer_info"`
	CreatedAt          time.Time          `db:"created_at"`
	UpdatedAt          time.Time          `db:"updated_at"`
}

func toRow(o Order) (row, error) {
	items := o.Items
	if items == nil {
		items = []Item{}
	}
	it, err := json.Marshal(items)
	if err != nil {
		return row{}, fmt.Errorf("encoding items: %w", err)
	}
	cu, err := json.Marshal(o.Customer)
	if err != nil {
		return row{}, fmt.Errorf("encoding customer info: %w", err)
	}

	r := row{
		BuyOrder:           o.BuyOrder,
		SessionID:          o.SessionID,
		Amount:             o.Amount,
		Status:             o.Status,
		GatewayToken:       o.GatewayToken,
		AuthorizationCode:  o.AuthorizationCode,
		ResponseCode:       o.ResponseCode,
		PaymentTypeCode:    o.PaymentTypeCode,
		CardLast4:          o.CardLast4,
		InstallmentsNumber: o.InstallmentsNumber,
		Items:              types.JSONText(it),
		CustomerInfo:       types.JSONText(cu),
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
	}
	if len(o.ResultPayload) > 0 {
		r.ResultPayload = types.NullJSONText{JSONText: types.JSONText(o.ResultPayload), Valid: true}
	}
	return r, nil
}

func (r row) order() (Order, error) {
	o := Order{
		BuyOrder:           r.BuyOrder,
		SessionID:          r.SessionID,
		Amount:             r.Amount,
		Status:             r.Status,
		GatewayToken:       r.GatewayToken,
		AuthorizationCode:  r.AuthorizationCode,
		ResponseCode:       r.ResponseCode,
		PaymentTypeCode:    r.PaymentTypeCode,
		CardLast4:          r.CardLast4,
		InstallmentsNumber: r.InstallmentsNumber,
		CreatedAt:          r.CreatedAt.UTC(),
		UpdatedAt:          r.UpdatedAt.UTC(),
	}
	if r.ResultPayload.Valid {
		o.ResultPayload = json.RawMessage(r.ResultPayload.JSONText)
	}
	if err := r.Items.Unmarshal(&o.Items); err != nil {
		return Order{}, fmt.Errorf("decoding items: %w", err)
	}
	if err := r.CustomerInfo.Unmarshal(&o.Customer); err != nil {
		return Order{}, fmt.Errorf("decoding customer info: %w", err)
	}
	return o, nil
}

const columns = `buy_order, session_id, amount, status, gateway_token, authorization_code,
	response_code, payment_type_code, card_last4, installments_number, result_payload,
	items, customer_info, created_at, updated_at`

func Create(ctx context.Context, db sqlx.ExtContext, ord Order) error {
	const q = `
	INSERT INTO orders (` + columns + `)
	VALUES (:buy_order, :session_id, :amount, :status, :gateway_token, :authorization_code,
		:response_code, :payment_type_code, :card_last4, :installments_number, :result_payload,
		:items, :customer_info, :created_at, :updated_at)`

	r, err := toRow(ord)
	if err != nil {
		return err
	}

	if _, err := sqlx.NamedExecContext(ctx, db, q, r); err != nil {
		if database.IsUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func fetch(ctx context.Context, db sqlx.ExtContext, where string, arg string) (Order, error) {
	q := `SELECT ` + columns + ` FROM orders WHERE ` + where + ` = $1`

	var r row
	if err := sqlx.GetContext(ctx, db, &r, q, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, err
	}
	return r.order()
}

func Fetch(ctx context.Context, db sqlx.ExtContext, buyOrder string) (Order, error) {
	return fetch(ctx, db, "buy_order", buyOrder)
}

func FetchByToken(ctx context.Context, db sqlx.ExtContext, token string) (Order, error) {
	return fetch(ctx, db, "gateway_token", token)
}

// UpdateStatus writes p only while the order is still in Created.
// The boolean reports whether a row changed.
func UpdateStatus(ctx context.Context, db sqlx.ExtContext, buyOrder string, p Patch) (bool, error) {
	const q = `
	UPDATE orders SET
		status = :status,
		authorization_code = :authorization_code,
		response_code = :response_code,
		payment_type_code = :payment_type_code,
		card_last4 = :card_last4,
		installments_number = :installments_number,
		result_payload = :result_payload,
		updated_at = :updated_at
	WHERE buy_order = :buy_order AND status = :from_status`

	arg := struct {
		BuyOrder           string             `db:"buy_order"`
		FromStatus         Status             `db:"from_status"`
		Status             Status             `db:"status"`
		AuthorizationCode  *string            `db:"authorization_code"`
		ResponseCode       *int               `db:"response_code"`
		PaymentTypeCode    *string            `db:"payment_type_code"`
		CardLast4          *string            `db:"card_last4"`
		InstallmentsNumber *int               `db:"installments_number"`
		ResultPayload      types.NullJSONText `db:"result_payload"`
		UpdatedAt          time.Time          `db:"updated_at"`
	}{
		BuyOrder:           buyOrder,
		FromStatus:         Created,
		Status:             p.Status,
		AuthorizationCode:  p.AuthorizationCode,
		ResponseCode:       p.ResponseCode,
		PaymentTypeCode:    p.PaymentTypeCode,
		CardLast4:          p.CardLast4,
		InstallmentsNumber: p.InstallmentsNumber,
		UpdatedAt:          p.UpdatedAt,
	}
	if len(p.ResultPayload) > 0 {
		arg.ResultPayload = types.NullJSONText{JSONText: types.JSONText(p.ResultPayload), Valid: true}
	}

	res, err := sqlx.NamedExecContext(ctx, db, q, arg)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DBStore is the postgres backed Store.
type DBStore struct {
	db *sqlx.DB
}

func NewDBStore(db *sqlx.DB) *DBStore {
	return &DBStore{db: db}
}

func (s *DBStore) Insert(ctx context.Context, ord Order) error {
	if err := Create(ctx, s.db, ord); err != nil {
		return fmt.Errorf("inserting order[%s]: %w", ord.BuyOrder, err)
	}
	return nil
}

func (s *DBStore) FetchByBuyOrder(ctx context.Context, buyOrder string) (Order, error) {
	ord, err := Fetch(ctx, s.db, buyOrder)
	if err != nil {
		return Order{}, fmt.Errorf("fetching order[%s]: %w", buyOrder, err)
	}
	return ord, nil
}

func (s *DBStore) FetchByToken(ctx context.Context, token string) (Order, error) {
	ord, err := FetchByToken(ctx, s.db, token)
	if err != nil {
		return Order{}, fmt.Errorf("fetching order by token: %w", err)
	}
	return ord, nil
}

func (s *DBStore) UpdateStatus(ctx context.Context, buyOrder string, p Patch) (Order, bool, error) {
	if err := p.validate(); err != nil {
		return Order{}, false, err
	}

	var (
		ord     Order
		applied bool
	)
	err := database.Transaction(ctx, s.db, func(tx sqlx.ExtContext) error {
		var err error
		if applied, err = UpdateStatus(ctx, tx, buyOrder, p); err != nil {
			return fmt.Errorf("updating status: %w", err)
		}

		if ord, err = Fetch(ctx, tx, buyOrder); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return Order{}, false, fmt.Errorf("transitioning order[%s] to %s: %w", buyOrder, p.Status, err)
	}

	return ord, applied, nil
}

func (s *DBStore) StatusCheck(ctx context.Context) error {
	return database.StatusCheck(ctx, s.db)
}
