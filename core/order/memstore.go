package order

import (
	"context"
	"fmt"
	"sync"
)

// MemStore keeps orders in process memory.
type MemStore struct {
	mu      sync.Mutex
	orders  map[string]Order
	byToken map[string]string
}

func NewMemStore() *MemStore {
	return &MemStore{
		orders:  make(map[string]Order),
		byToken: make(map[string]string),
	}
}

func (s *MemStore) Insert(ctx context.Context, ord Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[ord.BuyOrder]; ok {
		return fmt.Errorf("inserting order[%s]: %w", ord.BuyOrder, ErrDuplicate)
	}
	if ord.GatewayToken != nil {
		if _, ok := s.byToken[*ord.GatewayToken]; ok {
			return fmt.Errorf("inserting order[%s]: token in use: %w", ord.BuyOrder, ErrDuplicate)
		}
		s.byToken[*ord.GatewayToken] = ord.BuyOrder
	}

	s.orders[ord.BuyOrder] = clone(ord)
	return nil
}

func (s *MemStore) FetchByBuyOrder(ctx context.Context, buyOrder string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ord, ok := s.orders[buyOrder]
	if !ok {
		return Order{}, fmt.Errorf("fetching order[%s]: %w", buyOrder, ErrNotFound)
	}
	return clone(ord), nil
}

func (s *MemStore) FetchByToken(ctx context.Context, token string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buyOrder, ok := s.byToken[token]
	if !ok {
		return Order{}, fmt.Errorf("fetching order by token: %w", ErrNotFound)
	}
	return clone(s.orders[buyOrder]), nil
}

func (s *MemStore) UpdateStatus(ctx context.Context, buyOrder string, p Patch) (Order, bool, error) {
	if err := p.validate(); err != nil {
		return Order{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ord, ok := s.orders[buyOrder]
	if !ok {
		return Order{}, false, fmt.Errorf("transitioning order[%s] to %s: %w", buyOrder, p.Status, ErrNotFound)
	}
	if ord.Status != Created {
		return clone(ord), false, nil
	}

	p.apply(&ord)
	s.orders[buyOrder] = clone(ord)
	return clone(ord), true, nil
}

func (s *MemStore) StatusCheck(ctx context.Context) error {
	return nil
}

func clone(o Order) Order {
	if o.Items != nil {
		o.Items = append([]Item(nil), o.Items...)
	}
	if o.ResultPayload != nil {
		o.ResultPayload = append([]byte(nil), o.ResultPayload...)
	}
	return o
}
