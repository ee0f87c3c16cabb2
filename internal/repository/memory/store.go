// Package memory is an in-process review store used for local development
// and tests. Transactions run on a copy of the data that replaces the live
// copy on commit.
package memory

import (
	"context"
	"sync"

	"github.com/utafrali/stocklot-review/internal/domain"
	"github.com/utafrali/stocklot-review/internal/repository"
)

type tripleKey struct {
	orderGroupID string
	reviewerID   string
	direction    domain.Direction
}

type state struct {
	reviews map[string]*domain.Review
	triples map[tripleKey]string
	sellers map[string]domain.SellerRatingStats
	buyers  map[string]domain.BuyerRatingStats
	means   map[domain.Direction]domain.MarketplaceMean
}

func newState() *state {
	return &state{
		reviews: make(map[string]*domain.Review),
		triples: make(map[tripleKey]string),
		sellers: make(map[string]domain.SellerRatingStats),
		buyers:  make(map[string]domain.BuyerRatingStats),
		means:   make(map[domain.Direction]domain.MarketplaceMean),
	}
}

func (s *state) clone() *state {
	c := newState()
	for id, r := range s.reviews {
		c.reviews[id] = r.Clone()
	}
	for k, v := range s.triples {
		c.triples[k] = v
	}
	for k, v := range s.sellers {
		c.sellers[k] = v
	}
	for k, v := range s.buyers {
		c.buyers[k] = v
	}
	for k, v := range s.means {
		c.means[k] = v
	}
	return c
}

// Store is a thread-safe in-memory repository.Store.
type Store struct {
	mu sync.RWMutex
	st *state
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{st: newState()}
}

// view runs repository operations either against the live state under the
// store lock, or against a transaction's private copy.
type view struct {
	store *Store
	tx    *state
}

func (v *view) read(fn func(st *state) error) error {
	if v.tx != nil {
		return fn(v.tx)
	}
	v.store.mu.RLock()
	defer v.store.mu.RUnlock()
	return fn(v.store.st)
}

func (v *view) write(fn func(st *state) error) error {
	if v.tx != nil {
		return fn(v.tx)
	}
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	return fn(v.store.st)
}

func bind(v *view) repository.Repositories {
	return repository.Repositories{
		Reviews: &ReviewRepository{v: v},
		Stats:   &StatsRepository{v: v},
	}
}

// Repositories returns repositories that lock the store per call.
func (s *Store) Repositories() repository.Repositories {
	return bind(&view{store: s})
}

// WithinTx serializes transactions. fn must not call s.Repositories().
func (s *Store) WithinTx(ctx context.Context, fn func(repos repository.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(bind(&view{tx: work})); err != nil {
		return err
	}
	s.st = work
	return nil
}
