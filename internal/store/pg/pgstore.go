// Package pg persists kernel events and component snapshots to
// Postgres, adapted from the ledger's internal/store/pg.Store: same
// database/sql + pgx stdlib driver, same connection-pool tuning, same
// tx-scoped upsert style.
package pg

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Store wraps a pooled *sql.DB used by EventStore and the per-component
// snapshot writers.
type Store struct {
	db *sql.DB
}

// NewStoreFromDB wraps an already-opened *sql.DB, letting callers share
// one pool between the readiness probe and the store.
func NewStoreFromDB(db *sql.DB) *Store { return &Store{db: db} }

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
