// Package checkout runs the WebPay payment lifecycle of an order: it opens the
// provider transaction, records the order as created and settles it into a
// terminal status when the provider sends the buyer back.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bordados/checkout/core/events"
	"github.com/bordados/checkout/core/order"
	"github.com/bordados/checkout/core/product"
	"github.com/bordados/checkout/core/webpay"
	"github.com/bordados/checkout/random"
	"github.com/sirupsen/logrus"
)

const (
	CallbackPath   = "/checkout/callback"
	ResultPagePath = "/payment-result"

	defaultGatewayTimeout = 5 * time.Second
)

// Gateway is the payment provider as seen by the orchestrator.
type Gateway interface {
	CreateTransaction(ctx context.Context, buyOrder, sessionID string, amount int64, returnURL string) (webpay.Transaction, error)
	CommitTransaction(ctx context.Context, token string) (webpay.Commit, error)
}

// Catalog resolves the products referenced by cart lines.
type Catalog interface {
	Product(ctx context.Context, id string) (product.Product, error)
}

type Config struct {
	FrontendURL    string
	BackendURL     string
	GatewayTimeout time.Duration
}

type Service struct {
	log     logrus.FieldLogger
	store   order.Store
	gateway Gateway
	catalog Catalog
	events  events.Publisher
	cfg     Config
	now     func() time.Time
}

type Option func(*Service)

func WithCatalog(c Catalog) Option {
	return func(s *Service) { s.catalog = c }
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.events = p }
}

func NewService(log logrus.FieldLogger, store order.Store, gw Gateway, cfg Config, opts ...Option) *Service {
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = defaultGatewayTimeout
	}
	cfg.FrontendURL = strings.TrimRight(cfg.FrontendURL, "/")
	cfg.BackendURL = strings.TrimRight(cfg.BackendURL, "/")

	s := &Service{
		log:     log,
		store:   store,
		gateway: gw,
		events:  events.Nop{},
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewBuyOrder returns an identifier shaped O-<unix millis><4 digits>,
// short enough for the provider's 26 character limit.
func NewBuyOrder(now time.Time) (string, error) {
	suffix, err := random.Digits(4)
	if err != nil {
		return "", fmt.Errorf("generating buy order suffix: %w", err)
	}
	return "O-" + strconv.FormatInt(now.UnixMilli(), 10) + suffix, nil
}

// Create validates req, opens the provider transaction and records the order.
// A failure to record the order after the provider accepted the transaction
// is logged and does not fail the call.
func (s *Service) Create(ctx context.Context, req Request) (Result, error) {
	amount, err := req.validate()
	if err != nil {
		return Result{}, err
	}

	items, err := s.snapshot(ctx, req.OrderData.CartItems)
	if err != nil {
		return Result{}, err
	}

	now := s.now()
	buyOrder, err := NewBuyOrder(now)
	if err != nil {
		return Result{}, err
	}

	log := s.log.WithFields(logrus.Fields{"buy_order": buyOrder, "amount": amount})

	gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	tx, err := s.gateway.CreateTransaction(gctx, buyOrder, req.SessionID, amount, s.cfg.BackendURL+CallbackPath)
	cancel()
	if err != nil {
		return Result{}, fmt.Errorf("opening provider transaction for order[%s]: %w", buyOrder, err)
	}

	token := tx.Token
	ord := order.Order{
		BuyOrder:     buyOrder,
		SessionID:    req.SessionID,
		Amount:       amount,
		Status:       order.Created,
		GatewayToken: &token,
		Items:        items,
		Customer:     req.OrderData.CustomerInfo.customer(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.Insert(ctx, ord); err != nil {
		log.WithError(err).Error("provider transaction created but the order was not recorded, reconcile against the provider")
	} else {
		log.Info("order created")
	}

	return Result{
		Token:       tx.Token,
		RedirectURL: tx.URL,
		BuyOrder:    buyOrder,
		Amount:      amount,
	}, nil
}

func (s *Service) snapshot(ctx context.Context, lines []ItemRequest) ([]order.Item, error) {
	items := make([]order.Item, 0, len(lines))
	for _, l := range lines {
		it := order.Item{
			ProductID: l.ProductID,
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		}

		if s.catalog != nil && l.ProductID != "" {
			p, err := s.catalog.Product(ctx, l.ProductID)
			switch {
			case errors.Is(err, product.ErrNotFound):
				return nil, fmt.Errorf("%w: unknown product %s", ErrValidation, l.ProductID)
			case err != nil:
				return nil, fmt.Errorf("looking up product[%s]: %w", l.ProductID, err)
			}
			it.Name = p.Name
			it.UnitPrice = p.Price
		}

		items = append(items, it)
	}
	return items, nil
}
