package outbound

import (
	"context"
	"time"

	"go-txstream-sse/internal/domain"
)

// IdentityResolver maps request credentials to the caller's user id. It
// returns domain.ErrUnauthenticated when the credentials are missing,
// expired or rejected.
type IdentityResolver interface {
	Resolve(ctx context.Context, accessToken string) (string, error)
}

// Transaction is the persisted record a tx_ref refers to.
type Transaction struct {
	TxRef     string
	UserID    string
	Status    domain.TransactionStatus
	Amount    float64
	CreatedAt time.Time
}

// TransactionStore looks up transactions. Get returns
// domain.ErrTransactionNotFound for unknown references.
type TransactionStore interface {
	Get(ctx context.Context, txRef string) (*Transaction, error)
}
