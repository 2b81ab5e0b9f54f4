// Package store implements the transaction lookups against PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"go-txstream-sse/internal/domain"
	"go-txstream-sse/internal/port/outbound"
)

// PostgresStore reads the wallet transactions table. Writes are owned by the
// payment flow and are not done here.
type PostgresStore struct {
	db *sql.DB
}

var _ outbound.TransactionStore = (*PostgresStore)(nil)

// Open connects to databaseURL and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return New(db), nil
}

func New(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, txRef string) (*outbound.Transaction, error) {
	var (
		tx     outbound.Transaction
		status string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT tx_ref, user_id, status, amount, created_at
		FROM transactions
		WHERE tx_ref = $1`,
		txRef,
	).Scan(&tx.TxRef, &tx.UserID, &status, &tx.Amount, &tx.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", txRef, err)
	}
	tx.Status = domain.TransactionStatus(status)
	return &tx, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
