// Package memory provides in-process stand-ins for the order, dispute and
// KYC services, used by tests and the memory storage driver.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/utafrali/stocklot-review/internal/domain"
	apperrors "github.com/utafrali/stocklot-review/pkg/errors"
)

// Orders is an in-memory order service.
type Orders struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
	err    error
}

// NewOrders creates an empty order store.
func NewOrders() *Orders {
	return &Orders{orders: make(map[string]domain.Order)}
}

// Put adds or replaces orders.
func (o *Orders) Put(orders ...domain.Order) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, ord := range orders {
		o.orders[ord.ID] = ord
	}
}

// FailWith makes every subsequent call return err. nil restores normal
// behaviour.
func (o *Orders) FailWith(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = err
}

func (o *Orders) GetOrder(_ context.Context, orderID string) (*domain.Order, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.err != nil {
		return nil, o.err
	}
	ord, ok := o.orders[orderID]
	if !ok {
		return nil, apperrors.NotFound("order", orderID)
	}
	return &ord, nil
}

func (o *Orders) ListBuyerOrders(_ context.Context, buyerID string, statuses []domain.OrderStatus, limit int) ([]domain.Order, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.err != nil {
		return nil, o.err
	}

	out := []domain.Order{}
	for _, ord := range o.orders {
		if ord.BuyerID != buyerID {
			continue
		}
		if len(statuses) > 0 && !slices.Contains(statuses, ord.Status) {
			continue
		}
		out = append(out, ord)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Disputes is an in-memory dispute service keyed by order id.
type Disputes struct {
	mu       sync.RWMutex
	statuses map[string][]string
	err      error
}

// NewDisputes creates an empty dispute store.
func NewDisputes() *Disputes {
	return &Disputes{statuses: make(map[string][]string)}
}

// Set replaces the dispute statuses of an order.
func (d *Disputes) Set(orderID string, statuses ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statuses[orderID] = slices.Clone(statuses)
}

// FailWith makes every subsequent call return err.
func (d *Disputes) FailWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *Disputes) HasActiveDispute(_ context.Context, orderID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.err != nil {
		return false, d.err
	}
	for _, s := range d.statuses[orderID] {
		if s == domain.DisputeOpen || s == domain.DisputeInvestigating {
			return true, nil
		}
	}
	return false, nil
}

func (d *Disputes) CountResolvedDisputes(_ context.Context, orderIDs []string) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.err != nil {
		return 0, d.err
	}
	n := 0
	for _, id := range orderIDs {
		for _, s := range d.statuses[id] {
			if s == domain.DisputeResolved || s == domain.DisputeClosed {
				n++
			}
		}
	}
	return n, nil
}

// KYC is an in-memory KYC service. Unknown users are level 0.
type KYC struct {
	mu     sync.RWMutex
	levels map[string]int
	err    error
}

// NewKYC creates an empty KYC store.
func NewKYC() *KYC {
	return &KYC{levels: make(map[string]int)}
}

// Set records the level of a user.
func (k *KYC) Set(userID string, level int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.levels[userID] = level
}

// FailWith makes every subsequent call return err.
func (k *KYC) FailWith(err error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.err = err
}

func (k *KYC) GetKYCLevel(_ context.Context, userID string) (int, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.err != nil {
		return 0, k.err
	}
	return k.levels[userID], nil
}
