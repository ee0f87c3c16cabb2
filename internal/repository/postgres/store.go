// Package postgres implements the review store on PostgreSQL.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/stocklot-review/internal/repository"
	"github.com/utafrali/stocklot-review/pkg/database"
)

// Store hands out PostgreSQL repositories bound either to the pool or to a
// transaction.
type Store struct {
	db database.DBTX
}

// NewStore creates a Store on db.
func NewStore(db database.DBTX) *Store {
	return &Store{db: db}
}

func bind(db database.DBTX) repository.Repositories {
	return repository.Repositories{
		Reviews: NewReviewRepository(db),
		Stats:   NewStatsRepository(db),
	}
}

// Repositories returns repositories running on the pool.
func (s *Store) Repositories() repository.Repositories {
	return bind(s.db)
}

// WithinTx runs fn in a single transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(repos repository.Repositories) error) error {
	return database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		return fn(bind(tx))
	})
}
